package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/nextlevelbuilder/chorus/internal/bots"
	"github.com/nextlevelbuilder/chorus/internal/bus"
	"github.com/nextlevelbuilder/chorus/internal/channels"
	"github.com/nextlevelbuilder/chorus/internal/channels/discord"
	"github.com/nextlevelbuilder/chorus/internal/config"
	"github.com/nextlevelbuilder/chorus/internal/store/journal"
	"github.com/nextlevelbuilder/chorus/internal/telemetry"
)

const (
	meterName       = "github.com/nextlevelbuilder/chorus"
	shutdownTimeout = 5 * time.Second
)

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Connect to Discord and run the configured bots",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGateway()
		},
	}
}

func runGateway() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			slog.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	sinks := telemetry.Multi{telemetry.LogSink{}}
	if m, err := telemetry.NewMetrics(otel.Meter(meterName)); err != nil {
		slog.Warn("dispatch metrics unavailable", "error", err)
	} else {
		sinks = append(sinks, m)
	}

	if cfg.Journal.Driver != "" {
		j, err := openJournal(ctx, cfg.Journal)
		if err != nil {
			return err
		}
		defer j.Close()
		js := journal.NewSink(j, 0)
		defer js.Close()
		sinks = append(sinks, js)
	}

	if !cfg.Discord.Enabled {
		return errors.New("discord is not enabled: set discord.enabled or CHORUS_DISCORD_TOKEN")
	}

	msgBus := bus.NewWithBuffer(cfg.Dispatch.Buffer)
	debug := channels.NewDebugFilter(cfg.Debug.Enabled, cfg.Debug.Channels)
	dc, err := discord.New(cfg.Discord, msgBus, debug)
	if err != nil {
		return err
	}
	channelMgr := channels.NewManager()
	channelMgr.RegisterChannel(dc)

	if err := channelMgr.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	defer channelMgr.StopAll(context.Background())

	loc, err := cfg.Bots.Location()
	if err != nil {
		return err
	}
	handler := bots.NewHandler(bots.HandlerConfig{Sender: channelMgr, Sink: sinks})
	registry := bots.NewRegistry(handler, bots.RegistryConfig{
		SelfID:        dc.BotUserID(),
		MaxConcurrent: cfg.Dispatch.MaxConcurrent,
	})
	loader := &botLoader{
		path:     cfg.BotsPath(),
		registry: registry,
		deps: bots.Deps{
			Directory: dc.Directory(),
			Debug:     cfg.Debug.Enabled,
			SelfID:    dc.BotUserID(),
			Location:  loc,
			Personas:  cfg.Bots.Personas,
		},
	}
	if err := loader.load(); err != nil {
		return err
	}

	if cfg.Bots.Watch {
		fw, err := config.NewFileWatcher(loader.path)
		if err != nil {
			slog.Warn("bot definitions watcher unavailable", "error", err)
		} else {
			go fw.Run(ctx, config.DefaultDebounce, func() {
				if err := loader.load(); err != nil {
					slog.Error("reload bot definitions", "error", err)
				}
			})
		}
	}

	if cfg.Debug.Enabled {
		slog.Warn("debug mode: probability conditions always match, deliveries limited to whitelisted channels",
			"channels", []string(cfg.Debug.Channels))
	}
	slog.Info("chorus gateway starting",
		"version", Version,
		"bots", registry.Len(),
		"channels", channelMgr.EnabledChannels(),
		"max_concurrent", cfg.Dispatch.MaxConcurrent,
	)

	consumeInboundMessages(ctx, msgBus, registry, cfg.Dispatch.TimeoutDuration())
	slog.Info("graceful shutdown initiated")
	return nil
}

func openJournal(ctx context.Context, jc config.JournalConfig) (*journal.Journal, error) {
	dsn := config.ExpandHome(jc.Path)
	if jc.Driver == journal.DriverPostgres {
		dsn = jc.PostgresDSN
	}
	j, err := journal.Open(ctx, jc.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open dispatch journal: %w", err)
	}
	return j, nil
}

// botLoader builds bot definitions from file and swaps them into the registry.
type botLoader struct {
	path     string
	registry *bots.Registry
	deps     bots.Deps
	hash     string // of the last applied definitions
}

// load reads and builds every definition. A file that cannot be read or
// parsed leaves the registry untouched; individual invalid bots are logged
// and left out. Definitions identical to the last applied set are skipped.
func (l *botLoader) load() error {
	specs, err := config.LoadBots(l.path)
	if err != nil {
		return err
	}
	hash := config.HashBots(specs)
	if l.hash != "" && hash == l.hash {
		slog.Info("bot definitions unchanged", "file", l.path, "hash", hash)
		return nil
	}

	built, err := bots.BuildAll(specs, l.deps)
	if err != nil {
		slog.Error("invalid bot definitions", "file", l.path, "error", err)
	}
	l.registry.Replace(built)
	l.hash = hash

	names := make([]string, 0, len(built))
	for _, b := range l.registry.Bots() {
		names = append(names, b.Name)
	}
	slog.Info("bots loaded", "file", l.path, "hash", hash, "count", len(names), "bots", names)
	return nil
}
