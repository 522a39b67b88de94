package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/chorus/internal/bots"
	"github.com/nextlevelbuilder/chorus/internal/bus"
	"github.com/nextlevelbuilder/chorus/internal/channels"
	"github.com/nextlevelbuilder/chorus/internal/config"
	"github.com/nextlevelbuilder/chorus/internal/identity"
)

func botsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bots",
		Short: "Inspect bot definitions",
	}
	cmd.AddCommand(botsValidateCmd())
	cmd.AddCommand(botsTryCmd())
	return cmd
}

func botsValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Build every bot definition and report errors",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			path := cfg.BotsPath()
			if len(args) == 1 {
				path = args[0]
			}
			specs, err := config.LoadBots(path)
			if err != nil {
				return err
			}
			deps, err := offlineDeps(cfg)
			if err != nil {
				return err
			}
			return validateBots(cmd.OutOrStdout(), specs, deps)
		},
	}
}

// validateBots prints one line per bot and its triggers, returning the
// joined build errors.
func validateBots(w io.Writer, specs []config.BotSpec, deps bots.Deps) error {
	built, err := bots.BuildAll(specs, deps)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, b := range built {
		fmt.Fprintf(tw, "%s\t%s\t%d triggers\n", b.Name, b.Identity.Strategy(), len(b.Triggers))
		for _, t := range b.Triggers {
			fmt.Fprintf(tw, "  %s\t%s\t%s\n", t.Name, t.Meta.ConditionKind, t.Meta.Description)
		}
	}
	tw.Flush()
	if err != nil {
		fmt.Fprintf(w, "\n%d of %d bots invalid:\n%v\n", len(specs)-len(built), len(specs), err)
		return errors.New("invalid bot definitions")
	}
	fmt.Fprintf(w, "%d bots ok\n", len(built))
	return nil
}

type tryOptions struct {
	content   string
	sender    string
	channelID string
	guildID   string
	automated bool
	mentions  []string
}

func botsTryCmd() *cobra.Command {
	var opts tryOptions
	cmd := &cobra.Command{
		Use:   "try",
		Short: "Dispatch a message to the configured bots without connecting to Discord",
		Long:  "Dispatches a synthetic message to every configured bot and prints what each would send. Member lookups return placeholder profiles.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			specs, err := config.LoadBots(cfg.BotsPath())
			if err != nil {
				return err
			}
			deps, err := offlineDeps(cfg)
			if err != nil {
				return err
			}
			return tryBots(cmd.Context(), cmd.OutOrStdout(), specs, deps, opts)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.content, "message", "m", "", "message content (required)")
	f.StringVar(&opts.sender, "sender", "100000000000000001", "author id")
	f.StringVar(&opts.channelID, "channel", "200000000000000002", "channel id")
	f.StringVar(&opts.guildID, "guild", "300000000000000003", "guild id (empty for a direct message)")
	f.BoolVar(&opts.automated, "automated", false, "author is a bot account")
	f.StringSliceVar(&opts.mentions, "mention", nil, "mentioned user ids")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

func tryBots(ctx context.Context, w io.Writer, specs []config.BotSpec, deps bots.Deps, opts tryOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	built, err := bots.BuildAll(specs, deps)
	if err != nil {
		fmt.Fprintf(w, "skipping invalid bots:\n%v\n\n", err)
	}

	sender := channels.SenderFunc(func(_ context.Context, msg bus.OutboundMessage) (channels.SendResult, error) {
		fmt.Fprintf(w, "[%s] %s\n", msg.DisplayName, msg.Content)
		return channels.SendResult{}, nil
	})
	registry := bots.NewRegistry(bots.NewHandler(bots.HandlerConfig{Sender: sender}), bots.RegistryConfig{MaxConcurrent: 1})
	registry.Replace(built)

	msg := &bus.InboundMessage{
		ID:              "try",
		Channel:         "try",
		SenderID:        opts.sender,
		SenderUsername:  "tester",
		SenderAutomated: opts.automated,
		ChannelID:       opts.channelID,
		GuildID:         opts.guildID,
		Content:         opts.content,
		Mentions:        opts.mentions,
		Timestamp:       time.Now(),
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	defer tw.Flush()
	fmt.Fprintln(tw, "\nBOT\tOUTCOME\tTRIGGER\tERROR")
	for _, r := range registry.Dispatch(ctx, msg) {
		errText := ""
		if r.Err != nil {
			errText = r.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Bot, r.Outcome, r.Trigger, errText)
	}
	return nil
}

// offlineDeps binds bots to a placeholder directory for commands that do
// not connect to Discord.
func offlineDeps(cfg *config.Config) (bots.Deps, error) {
	loc, err := cfg.Bots.Location()
	if err != nil {
		return bots.Deps{}, err
	}
	return bots.Deps{
		Directory: placeholderDirectory{},
		Debug:     cfg.Debug.Enabled,
		Location:  loc,
		Personas:  cfg.Bots.Personas,
	}, nil
}

// placeholderDirectory answers every lookup with a generated profile.
type placeholderDirectory struct{}

func (placeholderDirectory) Member(_ context.Context, _, memberID string) (identity.Member, error) {
	return identity.Member{
		ID:        memberID,
		Username:  "member-" + lastDigits(memberID, 4),
		AvatarURL: "https://cdn.discordapp.com/embed/avatars/0.png",
	}, nil
}

func (placeholderDirectory) MemberIDs(context.Context, string) ([]string, error) {
	return []string{"100000000000000001", "100000000000000002", "100000000000000003"}, nil
}

func lastDigits(id string, n int) string {
	id = strings.TrimSpace(id)
	if len(id) <= n {
		return id
	}
	return id[len(id)-n:]
}
