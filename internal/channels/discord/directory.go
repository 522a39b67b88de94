package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/sync/singleflight"

	"github.com/nextlevelbuilder/chorus/internal/identity"
)

const (
	memberPageSize = 1000
	// maxListedMembers bounds how many members a random identity picks from.
	maxListedMembers = 10000
)

// memberAPI is the subset of *discordgo.Session used for member lookups.
type memberAPI interface {
	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
	GuildMembers(guildID, after string, limit int, options ...discordgo.RequestOption) ([]*discordgo.Member, error)
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
}

// memberState is the gateway cache; *discordgo.State satisfies it.
type memberState interface {
	Member(guildID, userID string) (*discordgo.Member, error)
}

type memberList struct {
	ids     []string
	fetched time.Time
}

// Directory implements identity.Directory over the Discord API, consulting
// the gateway state cache before making REST calls.
type Directory struct {
	api   memberAPI
	state memberState
	ttl   time.Duration
	now   func() time.Time

	lists sync.Map // guild id -> memberList
	group singleflight.Group
}

var _ identity.Directory = (*Directory)(nil)

// NewDirectory creates a Directory. Guild member lists are cached for ttl;
// state may be nil.
func NewDirectory(api memberAPI, state memberState, ttl time.Duration) *Directory {
	return &Directory{api: api, state: state, ttl: ttl, now: time.Now}
}

// Member returns the current profile of memberID. In a direct message context
// (empty guildID) the account profile is used.
func (d *Directory) Member(ctx context.Context, guildID, memberID string) (identity.Member, error) {
	if guildID == "" {
		u, err := d.api.User(memberID, discordgo.WithContext(ctx))
		if err != nil {
			return identity.Member{}, mapNotFound(err)
		}
		return memberFromUser(u, ""), nil
	}

	if d.state != nil {
		if m, err := d.state.Member(guildID, memberID); err == nil && m.User != nil {
			return toMember(m), nil
		}
	}
	m, err := d.api.GuildMember(guildID, memberID, discordgo.WithContext(ctx))
	if err != nil {
		return identity.Member{}, mapNotFound(err)
	}
	if m.User == nil {
		return identity.Member{}, identity.ErrMemberNotFound
	}
	return toMember(m), nil
}

// MemberIDs lists the human members of guildID. Results are cached for the
// directory TTL.
func (d *Directory) MemberIDs(ctx context.Context, guildID string) ([]string, error) {
	if v, ok := d.lists.Load(guildID); ok {
		l := v.(memberList)
		if d.now().Sub(l.fetched) < d.ttl {
			return l.ids, nil
		}
	}

	return shared(ctx, &d.group, guildID, func(ctx context.Context) ([]string, error) {
		ids, err := d.listMembers(ctx, guildID)
		if err != nil {
			return nil, err
		}
		d.lists.Store(guildID, memberList{ids: ids, fetched: d.now()})
		return ids, nil
	})
}

func (d *Directory) listMembers(ctx context.Context, guildID string) ([]string, error) {
	var (
		ids   []string
		after string
	)
	for len(ids) < maxListedMembers {
		page, err := d.api.GuildMembers(guildID, after, memberPageSize, discordgo.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("list guild members: %w", err)
		}
		for _, m := range page {
			if m == nil || m.User == nil {
				continue
			}
			after = m.User.ID
			if m.User.Bot {
				continue
			}
			ids = append(ids, m.User.ID)
		}
		if len(page) < memberPageSize {
			break
		}
	}
	return ids, nil
}

func toMember(m *discordgo.Member) identity.Member {
	out := memberFromUser(m.User, m.Nick)
	if avatar := m.AvatarURL(""); avatar != "" {
		out.AvatarURL = avatar
	}
	return out
}

func memberFromUser(u *discordgo.User, nick string) identity.Member {
	return identity.Member{
		ID:         u.ID,
		Nick:       nick,
		GlobalName: u.GlobalName,
		Username:   u.Username,
		AvatarURL:  u.AvatarURL(""),
	}
}

func mapNotFound(err error) error {
	if isRESTCode(err, discordgo.ErrCodeUnknownMember, discordgo.ErrCodeUnknownUser) {
		return fmt.Errorf("%w: %v", identity.ErrMemberNotFound, err)
	}
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil && rest.Response.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %v", identity.ErrMemberNotFound, err)
	}
	return err
}
