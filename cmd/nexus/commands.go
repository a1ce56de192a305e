package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/scrypster/nexus/internal/api/mcp"
	"github.com/scrypster/nexus/internal/config"
	"github.com/scrypster/nexus/internal/logging"
	"github.com/scrypster/nexus/internal/notify"
	"github.com/scrypster/nexus/internal/seed"
	"github.com/scrypster/nexus/internal/server"
)

// options holds values shared by every command.
type options struct {
	configPath string
	logLevel   string
}

func run(ctx context.Context, argv []string) error {
	return newApp().Run(ctx, argv)
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "nexus",
		Usage: "Agent memory store with semantic search",
		Commands: []*cli.Command{
			serveCommand(),
			seedCommand(),
			backupCommand(),
			mcpCommand(),
		},
	}
}

// commonFlags returns flags used by every command with destination opts.
func commonFlags(opts *options) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "Path to a YAML config file",
			Sources:     cli.EnvVars("NEXUS_CONFIG"),
			Destination: &opts.configPath,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Override log.level (debug, info, warn, error)",
			Destination: &opts.logLevel,
		},
	}
}

// load reads the configuration and installs the process logger.
func (opts *options) load() (*config.Config, error) {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load config", goerr.V("path", opts.configPath))
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	logging.SetDefault(logging.New(cfg.Log.Level, os.Stderr))
	return cfg, nil
}

func serveCommand() *cli.Command {
	var opts options

	return &cli.Command{
		Name:  "serve",
		Usage: "Start the HTTP API",
		Flags: commonFlags(&opts),
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger := logging.Default()

			store, err := openStore(cfg, logger)
			if err != nil {
				return err
			}
			eng, err := newEngineWithStore(cfg, store, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := eng.Close(); err != nil {
					logger.Warn("failed to close engine", "error", err)
				}
			}()

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()
			// the engine is closed only after every background task returns
			g, ctx := errgroup.WithContext(ctx)

			var serverOpts []server.Option
			if cfg.Backup.Interval > 0 {
				snapshots, err := newBackupService(cfg, store, logger)
				if err != nil {
					return err
				}
				if snapshots != nil {
					g.Go(func() error {
						snapshots.Run(ctx)
						return nil
					})
					serverOpts = append(serverOpts, server.WithSnapshots(snapshots))
				} else {
					logger.Warn("backup.interval ignored: snapshots need the sqlite engine")
				}
			}

			if cfg.Events.Enabled {
				serverOpts = append(serverOpts, server.WithEventSource(notify.NewWatcher(cfg.EventsDir(), logger)))
			}

			addr, done, err := server.Start(ctx, cfg, eng, logger, serverOpts...)
			if err != nil {
				stop()
				_ = g.Wait()
				return goerr.Wrap(err, "failed to start server")
			}
			logger.Info("nexus running",
				"url", "http://"+addr,
				"storage", cfg.Storage.Engine,
				"embedding_provider", cfg.Embedding.Provider,
				"embedding_model", eng.EmbeddingModel())

			g.Go(func() error {
				<-done
				stop()
				return nil
			})
			err = g.Wait()
			logger.Info("shutting down")
			return err
		},
	}
}

func seedCommand() *cli.Command {
	var (
		opts     options
		seedFile string
	)

	return &cli.Command{
		Name:  "seed",
		Usage: "Insert sample memories into an empty store",
		Flags: append(commonFlags(&opts),
			&cli.StringFlag{
				Name:        "file",
				Aliases:     []string{"f"},
				Usage:       "YAML file with memories to insert instead of the built-in samples",
				Destination: &seedFile,
			},
		),
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger := logging.Default()

			memories := seed.Defaults()
			if seedFile != "" {
				if memories, err = seed.LoadFile(seedFile); err != nil {
					return goerr.Wrap(err, "failed to load seed file", goerr.V("file", seedFile))
				}
			}

			eng, err := newEngine(cfg, logger)
			if err != nil {
				return err
			}
			defer eng.Close()

			n, err := seed.Run(ctx, eng, memories, logger)
			if err != nil {
				return goerr.Wrap(err, "failed to seed memories", goerr.V("inserted", n))
			}
			logger.Info("seed finished", "inserted", n, "requested", len(memories))
			return nil
		},
	}
}

func backupCommand() *cli.Command {
	var (
		opts     options
		listOnly bool
	)

	return &cli.Command{
		Name:  "backup",
		Usage: "Write a verified snapshot of the SQLite database",
		Flags: append(commonFlags(&opts),
			&cli.BoolFlag{
				Name:        "list",
				Aliases:     []string{"l"},
				Usage:       "List existing snapshots instead of taking one",
				Destination: &listOnly,
			},
		),
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger := logging.Default()

			store, err := openStore(cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			snapshots, err := newBackupService(cfg, store, logger)
			if err != nil {
				return err
			}
			if snapshots == nil {
				return goerr.New("backup requires the sqlite storage engine", goerr.V("engine", cfg.Storage.Engine))
			}

			if listOnly {
				infos, err := snapshots.List()
				if err != nil {
					return goerr.Wrap(err, "failed to list snapshots")
				}
				for _, info := range infos {
					fmt.Fprintf(c.Root().Writer, "%s\t%d\t%s\n", info.CreatedAt.Format(time.RFC3339), info.Size, info.Path)
				}
				return nil
			}

			if _, err := snapshots.Snapshot(ctx); err != nil {
				return goerr.Wrap(err, "snapshot failed")
			}
			return nil
		},
	}
}

func mcpCommand() *cli.Command {
	var opts options

	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve the memory tools over MCP on stdin/stdout",
		Flags: commonFlags(&opts),
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger := logging.Default()

			eng, err := newEngine(cfg, logger)
			if err != nil {
				return err
			}
			defer eng.Close()

			if cfg.Events.Enabled {
				eng.SetOnChange(notify.NewWriter(cfg.EventsDir(), logger).Publish)
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			in := c.Root().Reader
			if in == nil {
				in = os.Stdin
			}
			transport := mcp.NewStdioTransport(mcp.NewServer(eng, logger), in, c.Root().Writer, logger)
			if err := transport.Serve(ctx); err != nil && ctx.Err() == nil {
				return goerr.Wrap(err, "mcp transport failed")
			}
			return nil
		},
	}
}
