package identity

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/nextlevelbuilder/chorus/internal/bus"
)

// Strategy names as they appear in bot definitions.
const (
	StrategyStatic = "static"
	StrategyMimic  = "mimic"
	StrategyRandom = "random"
)

// Static always returns the same configured identity.
type Static struct {
	Identity Identity
}

// NewStatic validates id up front so a bad persona is a configuration error.
func NewStatic(id Identity) (*Static, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	return &Static{Identity: id}, nil
}

func (s *Static) Strategy() string { return StrategyStatic }

func (s *Static) Resolve(context.Context, *bus.InboundMessage) (Identity, error) {
	if err := s.Identity.Validate(); err != nil {
		return Identity{}, err
	}
	return s.Identity, nil
}

// Mimic speaks as one configured member, using their live profile.
type Mimic struct {
	Directory Directory
	MemberID  string
}

func (m *Mimic) Strategy() string { return StrategyMimic }

func (m *Mimic) Resolve(ctx context.Context, msg *bus.InboundMessage) (Identity, error) {
	return lookup(ctx, m.Directory, msg.GuildID, m.MemberID)
}

// RandomMember speaks as a member drawn uniformly from the message's guild.
// A new member is drawn for every dispatch.
type RandomMember struct {
	Directory Directory
	// IntN returns a value in [0, n). Nil uses math/rand/v2.
	IntN func(n int) int
}

func (r *RandomMember) Strategy() string { return StrategyRandom }

func (r *RandomMember) Resolve(ctx context.Context, msg *bus.InboundMessage) (Identity, error) {
	if r.Directory == nil {
		return Identity{}, errors.New("random member: no directory")
	}
	if msg.GuildID == "" {
		return Identity{}, errors.New("random member: message is not in a guild")
	}
	ids, err := r.Directory.MemberIDs(ctx, msg.GuildID)
	if err != nil {
		return Identity{}, fmt.Errorf("list members of guild %s: %w", msg.GuildID, err)
	}
	if len(ids) == 0 {
		return Identity{}, fmt.Errorf("guild %s has no members", msg.GuildID)
	}
	intN := r.IntN
	if intN == nil {
		intN = rand.IntN
	}
	return lookup(ctx, r.Directory, msg.GuildID, ids[intN(len(ids))])
}

func lookup(ctx context.Context, dir Directory, guildID, memberID string) (Identity, error) {
	if dir == nil {
		return Identity{}, errors.New("no member directory")
	}
	member, err := dir.Member(ctx, guildID, memberID)
	if err != nil {
		return Identity{}, fmt.Errorf("resolve member %s: %w", memberID, err)
	}
	id := member.Identity()
	if err := id.Validate(); err != nil {
		return Identity{}, fmt.Errorf("member %s: %w", memberID, err)
	}
	return id, nil
}
