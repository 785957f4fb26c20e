package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/shaxzod-muhandis/Admin-Panel/internal/config"
	"github.com/shaxzod-muhandis/Admin-Panel/internal/logger"
	"github.com/shaxzod-muhandis/Admin-Panel/pkg/di"
)

const runtimeKey = "runtime"

// runtime is built once in Before and shared by every command.
type runtime struct {
	cfg    *config.Config
	logger *zap.Logger
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "roster:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "roster",
		Usage: "administer the teacher roster",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env-file",
				Value: ".env",
				Usage: "dotenv file read before the environment",
			},
		},
		Before: setup,
		After: func(c *cli.Context) error {
			if rt, ok := c.App.Metadata[runtimeKey].(*runtime); ok {
				_ = rt.logger.Sync()
			}
			return nil
		},
		Commands: []*cli.Command{
			listCommand(),
			getCommand(),
			createCommand(),
			updateCommand(),
			deleteCommand(),
			facesCommand(),
			imageCommand(),
			serveStubCommand(),
			devTokenCommand(),
		},
	}
}

func setup(c *cli.Context) error {
	cfg, err := config.LoadFrom(c.String("env-file"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if c.App.Metadata == nil {
		c.App.Metadata = map[string]any{}
	}
	c.App.Metadata[runtimeKey] = &runtime{cfg: cfg, logger: logr}
	return nil
}

func runtimeFrom(c *cli.Context) *runtime {
	return c.App.Metadata[runtimeKey].(*runtime)
}

// container builds the client stack against the configured service.
func container(c *cli.Context) (*di.Container, error) {
	rt := runtimeFrom(c)
	return di.NewContainer(rt.cfg, di.WithLogger(rt.logger))
}
