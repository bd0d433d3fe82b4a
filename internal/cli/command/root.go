// Package command defines the canvasctl commands.
package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/spec-kit/canvas-sync/internal/cli/config"
	"github.com/spec-kit/canvas-sync/internal/client/api"
	"github.com/spec-kit/canvas-sync/internal/client/session"
)

// Build information, set via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

const runtimeKey = "runtime"

// Runtime carries the objects shared by every command.
type Runtime struct {
	Config  *config.Config
	Client  *api.Client
	Session *session.Manager
	Logger  *zap.Logger
	store   *session.BadgerStore
}

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "canvasctl",
		Usage:   "Work with canvas documents from the command line",
		Version: fmt.Sprintf("%s (commit: %s)", Version, Commit),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			SignupCommand(),
			LoginCommand(),
			LogoutCommand(),
			WhoamiCommand(),
			CanvasCommand(),
		},
		Before: setup,
		After:  teardown,
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to the YAML config file",
			EnvVars: []string{"CANVASCTL_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "server",
			Aliases: []string{"s"},
			Usage:   "Server base URL (overrides config)",
		},
		&cli.StringFlag{
			Name:  "data-dir",
			Usage: "Directory holding the saved session (overrides config)",
		},
	}
}

func setup(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if s := c.String("server"); s != "" {
		cfg.Server = s
	}
	if d := c.String("data-dir"); d != "" {
		cfg.DataDir = d
	}

	logger := newLogger(cfg.LogLevel, c.App.ErrWriter)
	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
	}
	store, err := session.OpenBadgerStore(cfg.DataDir, logger)
	if err != nil {
		return err
	}

	client := api.NewClient(cfg.Server, cfg.Timeout())
	rt := &Runtime{
		Config:  cfg,
		Client:  client,
		Session: session.NewManager(store, client, logger),
		Logger:  logger,
		store:   store,
	}
	if c.App.Metadata == nil {
		c.App.Metadata = map[string]interface{}{}
	}
	c.App.Metadata[runtimeKey] = rt

	verdict, err := rt.Session.Restore(ctx(c))
	if err != nil {
		logger.Warn("could not restore session", zap.Error(err))
		return nil
	}
	// Short-lived process: settle the stored token before running the command.
	if verdict == nil {
		return nil
	}
	if res, ok := <-verdict; ok && res.Outcome == session.OutcomeUnreachable {
		logger.Warn("server unreachable; using unconfirmed session", zap.Error(res.Err))
	}
	return nil
}

func teardown(c *cli.Context) error {
	rt, ok := c.App.Metadata[runtimeKey].(*Runtime)
	if !ok {
		return nil
	}
	_ = rt.Logger.Sync()
	return rt.store.Close()
}

// GetRuntime retrieves the runtime built in Before.
func GetRuntime(c *cli.Context) (*Runtime, error) {
	if rt, ok := c.App.Metadata[runtimeKey].(*Runtime); ok {
		return rt, nil
	}
	return nil, errors.New("runtime not initialised")
}

// requireSession fails unless a token is held.
func requireSession(c *cli.Context) (*Runtime, error) {
	rt, err := GetRuntime(c)
	if err != nil {
		return nil, err
	}
	if !rt.Session.Current().IsAuthenticated() {
		return nil, cli.Exit("not logged in; run `canvasctl login` first", 1)
	}
	return rt, nil
}

func newLogger(level string, w io.Writer) *zap.Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.WarnLevel
	}
	if w == nil {
		w = os.Stderr
	}
	encoder := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	return zap.New(zapcore.NewCore(encoder, zapcore.AddSync(w), lvl))
}

func printJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func ctx(c *cli.Context) context.Context {
	if c.Context != nil {
		return c.Context
	}
	return context.Background()
}
