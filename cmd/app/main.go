package main

import (
	"context"
	"flag"
	"os"

	"ForeCrypt/internal/di"
	"ForeCrypt/internal/domain/models"
	"ForeCrypt/pkg/config"
	applogger "ForeCrypt/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	once := flag.Bool("once", false, "run a single tick for the current hour and exit")
	flag.Parse()

	boot, _ := applogger.New(&applogger.Config{Level: "info", Format: "console"})

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		boot.Error("config load failed", applogger.String("path", *configPath), applogger.Error(err))
		os.Exit(1)
	}
	boot.Info("config loaded", applogger.String("env", cfg.Environment), applogger.String("path", *configPath))

	app, err := di.InitializeApp(cfg)
	if err != nil {
		boot.Error("app initialization failed", applogger.Error(err))
		os.Exit(1)
	}

	if *once {
		r, err := app.RunOnce(context.Background())
		if err != nil {
			boot.Error("tick failed", applogger.Error(err))
			os.Exit(1)
		}
		boot.Info("tick finished",
			applogger.Time("hour", r.Now),
			applogger.Int("retrained", r.Count(models.ActionRetrain)),
			applogger.Int("forecasted", r.Count(models.ActionForecast)),
			applogger.Int("failed", r.Failures()),
		)
		return
	}

	if err := app.Run(); err != nil {
		boot.Error("app error", applogger.Error(err))
		os.Exit(1)
	}
}
