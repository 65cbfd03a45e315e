// Package servecmder provides the serve command, which runs the mnemo API
// server over the configured memory backends.
package servecmder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/papercomputeco/mnemo/api"
	"github.com/papercomputeco/mnemo/pkg/compaction"
	"github.com/papercomputeco/mnemo/pkg/config"
	"github.com/papercomputeco/mnemo/pkg/credentials"
	"github.com/papercomputeco/mnemo/pkg/dotdir"
	"github.com/papercomputeco/mnemo/pkg/events"
	"github.com/papercomputeco/mnemo/pkg/eventstream"
	"github.com/papercomputeco/mnemo/pkg/eventstream/kafka"
	"github.com/papercomputeco/mnemo/pkg/eventstream/nop"
	"github.com/papercomputeco/mnemo/pkg/logger"
	"github.com/papercomputeco/mnemo/pkg/memory"
	memoryutils "github.com/papercomputeco/mnemo/pkg/memory/utils"
	"github.com/papercomputeco/mnemo/pkg/session"
)

const shutdownTimeout = 10 * time.Second

type ServeCommander struct {
	configDir string
	debug     bool
	noMCP     bool

	listen    string
	logLevel  string
	logFormat string
	strategy  string

	configer *config.Configer
	config   *config.Config
	logger   *slog.Logger

	// discard is the publisher in use when no Kafka brokers are configured.
	discard *nop.Publisher
}

const serveLongDesc string = `Run the mnemo API server.

The server hosts the event bus, the compaction guard and the unified memory
client over every backend configured in config.toml. Agents report messages
and tool calls per session; when context usage crosses the configured
thresholds the guard warns and compaction cycles capture full session state
into memory before anything is discarded.

Config precedence: flags, then MNEMO_* environment variables, then
config.toml, then defaults.

Examples:
  mnemo serve
  mnemo serve --listen :9000 --strategy cascade
  mnemo serve --agent-id coder
  mnemo serve --kafka-brokers localhost:9092
  mnemo serve --log-format pretty --log-file mnemo.log`

const serveShortDesc string = "Run the mnemo API server"

var serveFlagKeys = []string{
	config.FlagAPIListen,
	config.FlagLogLevel,
	config.FlagLogFormat,
	config.FlagLogFile,
	config.FlagAgentID,
	config.FlagStrategy,
	config.FlagWarningThreshold,
	config.FlagImminentThreshold,
	config.FlagKafkaBrokers,
	config.FlagKafkaTopic,
	config.FlagEmbeddingProv,
	config.FlagEmbeddingTgt,
	config.FlagEmbeddingModel,
	config.FlagEmbeddingDims,
}

func NewServeCmd() *cobra.Command {
	cmder := &ServeCommander{}

	var (
		warning, imminent      float64
		kafkaBrokers, kafkaTop string
		embProv, embTgt, embMd string
		embDims                uint
		logFile, agentID       string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}
			cmder.configDir, err = cmd.Flags().GetString("config-dir")
			if err != nil {
				return fmt.Errorf("could not get config-dir flag: %w", err)
			}

			v, err := config.InitViper(cmder.configDir)
			if err != nil {
				return err
			}
			config.BindRegisteredFlags(v, cmd, config.ServeFlags, serveFlagKeys)

			return cmder.loadConfig(v)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd.Context())
		},
	}

	config.AddStringFlag(cmd, config.ServeFlags, config.FlagAPIListen, &cmder.listen)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagLogLevel, &cmder.logLevel)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagLogFormat, &cmder.logFormat)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagLogFile, &logFile)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagAgentID, &agentID)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagStrategy, &cmder.strategy)
	config.AddFloatFlag(cmd, config.ServeFlags, config.FlagWarningThreshold, &warning)
	config.AddFloatFlag(cmd, config.ServeFlags, config.FlagImminentThreshold, &imminent)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagKafkaBrokers, &kafkaBrokers)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagKafkaTopic, &kafkaTop)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagEmbeddingProv, &embProv)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagEmbeddingTgt, &embTgt)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagEmbeddingModel, &embMd)
	config.AddUintFlag(cmd, config.ServeFlags, config.FlagEmbeddingDims, &embDims)
	cmd.Flags().BoolVar(&cmder.noMCP, "no-mcp", false, "Do not serve the MCP endpoint")

	return cmd
}

func (c *ServeCommander) loadConfig(v *viper.Viper) error {
	cfger, err := config.NewConfiger(c.configDir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	base, err := cfger.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg, err := config.Resolve(v, base)
	if err != nil {
		return err
	}
	if c.debug {
		cfg.Log.Level = "debug"
	}

	creds, err := credentials.NewManager(c.configDir)
	if err != nil {
		return fmt.Errorf("loading credentials: %w", err)
	}
	if err := creds.Apply(cfg); err != nil {
		return err
	}

	// Agent overrides apply last, on top of flags and environment.
	cfg, err = cfg.ForAgent(cfg.Agent.ID)
	if err != nil {
		return err
	}

	c.configer = cfger
	c.config = cfg
	return nil
}

// newLogger builds the console logger and, when log.file is set, tees
// records into that file as JSON.
func (c *ServeCommander) newLogger(dataDir string) (*slog.Logger, func() error, error) {
	format, err := logger.ParseFormat(c.config.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	opts := []logger.Option{
		logger.WithLevel(c.config.LogLevel()),
		logger.WithFormat(format),
		logger.WithSource(c.debug),
	}
	console := logger.New(opts...)

	path := c.config.Log.File
	if path == "" {
		return console, func() error { return nil }, nil
	}
	if !filepath.IsAbs(path) && dataDir != "" {
		path = filepath.Join(dataDir, path)
	}
	file, f, err := logger.NewFile(path, logger.WithLevel(c.config.LogLevel()))
	if err != nil {
		return nil, nil, err
	}
	return logger.Multi(console, file), f.Close, nil
}

func (c *ServeCommander) newBus() *events.Bus {
	return events.NewBus(
		events.WithStrict(c.config.Events.Strict),
		events.WithAgentID(c.config.Agent.ID),
		events.WithLogger(c.logger),
	)
}

func (c *ServeCommander) run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg := c.config

	dataDir, err := dotdir.NewManager().Target(c.configDir)
	if err != nil {
		return fmt.Errorf("resolving data dir: %w", err)
	}

	var closeLog func() error
	c.logger, closeLog, err = c.newLogger(dataDir)
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()

	if dataDir == "" {
		c.logger.Warn("no .mnemo directory found, file backed memory is in-memory only")
	}

	bus := c.newBus()
	defer bus.Close()

	pool, err := c.newEventPool()
	if err != nil {
		return err
	}
	defer func() {
		if err := pool.Close(); err != nil {
			c.logger.Warn("closing event stream", "error", err)
		}
		if c.discard != nil {
			c.logger.Debug("event forwarding disabled", "discarded", c.discard.Discarded())
		}
	}()
	unsubscribe := eventstream.NewForwarder(pool).Attach(bus)
	defer unsubscribe()

	registry := memory.NewRegistry(c.logger)
	if err := memoryutils.RegisterBackends(ctx, registry, cfg, dataDir, c.logger); err != nil {
		return err
	}

	lifecycle := registry.Start(ctx)
	for id, err := range lifecycle.Failed {
		if d, ok := registry.Get(id); ok && d.Required {
			_ = registry.Stop(context.Background())
			return fmt.Errorf("required memory backend failed to start: %w", err)
		}
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stopCancel()
		if err := registry.Stop(stopCtx); err != nil {
			c.logger.Warn("stopping memory backends", "error", err)
		}
	}()

	client := memory.NewClient(registry, cfg.MemoryClient(), c.logger)

	sessions := session.NewStore(session.Config{
		ContextWindow: cfg.Session.ContextWindow,
		KeepMessages:  cfg.Session.KeepMessages,
	})

	guard, err := compaction.NewGuard(bus, sessions, cfg.Guard(),
		compaction.WithMemory(client),
		compaction.WithLogger(c.logger),
	)
	if err != nil {
		return fmt.Errorf("creating compaction guard: %w", err)
	}

	server, err := api.NewServer(api.Config{
		ListenAddr: cfg.API.Listen,
		Guard:      guard,
		Sessions:   sessions,
		Bus:        bus,
		DisableMCP: c.noMCP,
	}, client, c.logger)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	if c.configer.GetTarget() != "" {
		go func() {
			err := c.configer.Watch(ctx, c.logger, func(next *config.Config) {
				c.applyReload(guard, next)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				c.logger.Warn("config watcher stopped", "error", err)
			}
		}()
	}

	errChan := make(chan error, 1)
	go func() {
		if err := server.Run(); err != nil {
			errChan <- fmt.Errorf("API server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		c.logger.Info("received signal, shutting down", "signal", sig.String())
	case <-ctx.Done():
	}

	return server.Shutdown()
}

// applyReload pushes hot-reloadable settings from a changed config file into
// the running guard. Everything else needs a restart.
func (c *ServeCommander) applyReload(guard *compaction.Guard, next *config.Config) {
	next, err := next.ForAgent(c.config.Agent.ID)
	if err != nil {
		c.logger.Warn("ignoring reloaded config", "error", err)
		return
	}
	if err := guard.SetThresholds(next.Compaction.WarningThreshold, next.Compaction.ImminentThreshold); err != nil {
		c.logger.Warn("ignoring reloaded thresholds", "error", err)
		return
	}
	c.logger.Info("compaction thresholds reloaded",
		"warning", next.Compaction.WarningThreshold,
		"imminent", next.Compaction.ImminentThreshold,
	)
}

func (c *ServeCommander) newEventPool() (*eventstream.Pool, error) {
	k := c.config.Events.Kafka

	var publisher eventstream.Publisher
	if len(k.Brokers) == 0 {
		c.discard = nop.NewPublisher()
		publisher = c.discard
	} else {
		p, err := kafka.NewPublisher(kafka.Config{
			Brokers:  k.Brokers,
			Topic:    k.Topic,
			ClientID: k.ClientID,
		})
		if err != nil {
			return nil, fmt.Errorf("creating kafka publisher: %w", err)
		}
		publisher = p
		c.logger.Info("forwarding events to kafka", "brokers", k.Brokers, "topic", k.Topic)
	}

	return eventstream.NewPool(&eventstream.PoolConfig{
		Publisher:  publisher,
		NumWorkers: uint(max(k.Workers, 0)),
		QueueSize:  uint(max(k.QueueSize, 0)),
		Logger:     c.logger,
	})
}
