package main

import (
	"log/slog"
	"os"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "swoopind",
		Usage:   "automation execution engine daemon",
		Version: versioninfo.Short(),
	}

	app.Commands = []*cli.Command{
		runCmd,
	}

	return app.Run(args)
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "run the service",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Value:   "sqlite://data/swoopind/swoopind.db",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.IntFlag{
			Name:    "max-db-connections",
			EnvVars: []string{"MAX_DB_CONNECTIONS"},
			Value:   40,
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis URL for quota counters and intake dedup; empty uses the database",
			EnvVars: []string{"REDIS_URL"},
		},
		&cli.StringFlag{
			Name:    "bind",
			Usage:   "IP or address, and port, to listen on for webhook deliveries",
			Value:   ":8200",
			EnvVars: []string{"SWOOPIND_BIND"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs",
			Value:   ":8201",
			EnvVars: []string{"SWOOPIND_METRICS_LISTEN"},
		},
		&cli.StringFlag{
			Name:    "webhook-secret",
			Usage:   "app secret for webhook signature verification; empty disables the check",
			EnvVars: []string{"WEBHOOK_SECRET"},
		},
		&cli.StringFlag{
			Name:    "verify-token",
			Usage:   "token echoed during webhook subscription handshakes",
			EnvVars: []string{"WEBHOOK_VERIFY_TOKEN"},
		},
		&cli.StringFlag{
			Name:    "platform-api-host",
			Usage:   "base URL of the platform graph API",
			Value:   "https://graph.facebook.com/v19.0",
			EnvVars: []string{"PLATFORM_API_HOST"},
		},
		&cli.StringFlag{
			Name:    "openai-api-key",
			Usage:   "API key for smart reply actions; empty disables them",
			EnvVars: []string{"OPENAI_API_KEY"},
		},
		&cli.IntFlag{
			Name:    "workers",
			Usage:   "max concurrent automation jobs",
			Value:   8,
			EnvVars: []string{"SWOOPIND_WORKERS"},
		},
	},
	Action: func(cctx *cli.Context) error {
		logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
		slog.SetDefault(logger)

		srv, err := NewServer(Config{
			Logger:          logger,
			DatabaseURL:     cctx.String("database-url"),
			MaxDBConns:      cctx.Int("max-db-connections"),
			RedisURL:        cctx.String("redis-url"),
			Bind:            cctx.String("bind"),
			MetricsListen:   cctx.String("metrics-listen"),
			WebhookSecret:   cctx.String("webhook-secret"),
			VerifyToken:     cctx.String("verify-token"),
			PlatformAPIHost: cctx.String("platform-api-host"),
			OpenAIAPIKey:    cctx.String("openai-api-key"),
			Workers:         cctx.Int("workers"),
		})
		if err != nil {
			return err
		}
		return srv.Run()
	},
}
