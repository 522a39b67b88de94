// Package identity resolves the persona (display name and avatar) a bot
// speaks as when it delivers a response.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/nextlevelbuilder/chorus/internal/bus"
)

// DefaultDisplayName is used when a member has no nick, global name or username.
const DefaultDisplayName = "Unknown"

var (
	// ErrInvalid marks an identity that fails validation.
	ErrInvalid = errors.New("invalid identity")
	// ErrMemberNotFound is returned by a Directory when the member does not exist.
	ErrMemberNotFound = errors.New("member not found")
)

// Identity is the display name and avatar used for one delivery.
type Identity struct {
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
}

// Validate checks that both fields are set and the avatar is an absolute http(s) URL.
func (id Identity) Validate() error {
	if strings.TrimSpace(id.DisplayName) == "" {
		return fmt.Errorf("%w: empty display name", ErrInvalid)
	}
	if id.AvatarURL == "" {
		return fmt.Errorf("%w: empty avatar url", ErrInvalid)
	}
	u, err := url.Parse(id.AvatarURL)
	if err != nil {
		return fmt.Errorf("%w: avatar url: %v", ErrInvalid, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: avatar url %q is not an absolute http(s) url", ErrInvalid, id.AvatarURL)
	}
	return nil
}

// Member is a guild member profile as reported by a Directory.
type Member struct {
	ID         string
	Nick       string // guild nickname
	GlobalName string // account-wide display name
	Username   string
	AvatarURL  string
}

// DisplayName returns nick, then global name, then username, then DefaultDisplayName.
func (m Member) DisplayName() string {
	for _, name := range []string{m.Nick, m.GlobalName, m.Username} {
		if strings.TrimSpace(name) != "" {
			return name
		}
	}
	return DefaultDisplayName
}

// Identity converts the member profile into a delivery identity.
func (m Member) Identity() Identity {
	return Identity{DisplayName: m.DisplayName(), AvatarURL: m.AvatarURL}
}

// Directory looks up live member profiles on the chat platform.
type Directory interface {
	// Member returns one member of guildID. An empty guildID means a direct
	// message context; implementations fall back to the account profile.
	Member(ctx context.Context, guildID, memberID string) (Member, error)
	// MemberIDs lists the member ids of guildID.
	MemberIDs(ctx context.Context, guildID string) ([]string, error)
}

// Resolver produces the identity for one dispatch.
type Resolver interface {
	Strategy() string
	Resolve(ctx context.Context, msg *bus.InboundMessage) (Identity, error)
}
