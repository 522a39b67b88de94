package config

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// BotsFile is the top level of the YAML bot definitions file.
//
//	bots:
//	  - name: echo
//	    identity: {type: static, display_name: Echo, avatar_url: https://...}
//	    ignore_automated: true
//	    triggers:
//	      - name: greeting
//	        when: {type: pattern, pattern: '\bhello\b'}
//	        responses: ["{start} hi yourself"]
type BotsFile struct {
	Bots []BotSpec `yaml:"bots"`
}

// BotSpec declares one bot.
type BotSpec struct {
	Name            string        `yaml:"name"`
	Identity        IdentitySpec  `yaml:"identity"`
	IgnoreAutomated bool          `yaml:"ignore_automated,omitempty"`
	IgnoreHumans    bool          `yaml:"ignore_humans,omitempty"`
	Triggers        []TriggerSpec `yaml:"triggers"`
}

// IdentitySpec selects how a bot's persona is resolved.
type IdentitySpec struct {
	Type        string `yaml:"type"` // "static", "mimic" or "random"
	DisplayName string `yaml:"display_name,omitempty"`
	AvatarURL   string `yaml:"avatar_url,omitempty"`
	MemberID    string `yaml:"member_id,omitempty"` // mimic only
}

// TriggerSpec pairs a condition with a response.
type TriggerSpec struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description,omitempty"`
	When        ConditionSpec `yaml:"when"`
	Responses   []string      `yaml:"responses,omitempty"` // pool, one picked uniformly
	Response    string        `yaml:"response,omitempty"`  // single template
	Responder   string        `yaml:"responder,omitempty"` // "" (templates) or "llm"
	Prompt      string        `yaml:"prompt,omitempty"`    // llm responder prompt
}

// ConditionSpec is a tagged condition tree. Type selects which fields apply.
type ConditionSpec struct {
	Type string `yaml:"type"`
	Name string `yaml:"name,omitempty"` // branch label inside one_of

	Pattern  string   `yaml:"pattern,omitempty"`  // pattern
	Words    []string `yaml:"words,omitempty"`    // word
	Phrases  []string `yaml:"phrases,omitempty"`  // phrase
	ID       string   `yaml:"id,omitempty"`       // user, channel, mentions
	Percent  float64  `yaml:"percent,omitempty"`  // probability
	Amount   float64  `yaml:"amount,omitempty"`   // within
	Unit     string   `yaml:"unit,omitempty"`     // within: ms, s, m, h, d
	Cron     string   `yaml:"cron,omitempty"`     // schedule
	Personas []string `yaml:"personas,omitempty"` // automated
	Prompt   string   `yaml:"prompt,omitempty"`   // llm

	Conditions []ConditionSpec `yaml:"conditions,omitempty"` // and, or, one_of
	Condition  *ConditionSpec  `yaml:"condition,omitempty"`  // not
}

// LoadBots reads bot definitions from a YAML file.
func LoadBots(path string) ([]BotSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bots file: %w", err)
	}
	specs, err := ParseBots(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return specs, nil
}

// ParseBots decodes bot definitions. Unknown keys are errors so typos in
// condition fields do not silently produce a different condition.
func ParseBots(data []byte) ([]BotSpec, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f BotsFile
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("parse bots: %w", err)
	}
	return f.Bots, nil
}

// HashBots returns a short SHA-256 hash of the decoded definitions, used to
// log whether a reload changed anything. Formatting-only edits hash the same.
func HashBots(specs []BotSpec) string {
	data, _ := json.Marshal(specs)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}
