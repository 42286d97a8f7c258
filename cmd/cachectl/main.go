package main

import (
	"context"
	"fmt"
	"os"

	_ "github.com/joho/godotenv/autoload"

	"github.com/urfave/cli/v2"

	"github.com/agatticelli/cachekit/internal/platform/cache"
	"github.com/agatticelli/cachekit/internal/platform/config"
	"github.com/agatticelli/cachekit/internal/platform/observability"
)

func main() {
	if err := run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	app := cli.App{
		Name:  "cachectl",
		Usage: "inspect and drive a cachekit backend",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file",
				EnvVars: []string{"CACHEKIT_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "kind",
				Usage: "override cache kind (memory, redis, layered)",
			},
			&cli.StringFlag{
				Name:  "host",
				Usage: "override Redis host",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "override Redis port",
			},
			&cli.StringFlag{
				Name:  "serializer",
				Usage: "override value serializer (json, msgpack)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level for cache diagnostics",
				Value: "warn",
			},
		},
	}
	app.Commands = []*cli.Command{
		cmdGet,
		cmdSet,
		cmdDel,
		cmdExists,
		cmdExpire,
		cmdTTL,
		cmdKeys,
		cmdFlush,
		cmdIncr,
		cmdDecr,
		cmdBench,
	}
	return app.Run(args)
}

// backendConfig loads config and applies command-line overrides
func backendConfig(cctx *cli.Context) (cache.Config, error) {
	cfg, err := config.Load(cctx.String("config"))
	if err != nil {
		return cache.Config{}, err
	}

	bc := cfg.Cache.BackendConfig()
	if kind := cctx.String("kind"); kind != "" {
		bc.Kind = cache.Kind(kind)
	}
	if host := cctx.String("host"); host != "" {
		bc.Host = host
	}
	if port := cctx.Int("port"); port != 0 {
		bc.Port = port
	}
	if s := cctx.String("serializer"); s != "" {
		bc.Serializer = s
	}
	return bc, nil
}

// withCache connects the configured backend, runs fn and disconnects
func withCache(cctx *cli.Context, fn func(ctx context.Context, c cache.Cache) error) error {
	bc, err := backendConfig(cctx)
	if err != nil {
		return err
	}

	logger := observability.NewLoggerWithWriter(os.Stderr, cctx.String("log-level"), "text")
	c, err := cache.New(bc, logger.Logger)
	if err != nil {
		return err
	}

	return cache.WithConnection(cctx.Context, c, fn)
}
