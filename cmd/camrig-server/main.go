package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/camrig/camrig-server/internal/api"
	"github.com/camrig/camrig-server/internal/ble"
	"github.com/camrig/camrig-server/internal/camera"
	"github.com/camrig/camrig-server/internal/cohn"
	"github.com/camrig/camrig-server/internal/config"
	"github.com/camrig/camrig-server/internal/storage"
	"github.com/camrig/camrig-server/pkg/crypto"
)

func main() {
	var configPath = flag.String("config", "config/camrig-server.yml", "path to config file")
	var validateOnly = flag.Bool("validate", false, "validate configuration and exit")
	var showConfig = flag.Bool("show-config", false, "print configuration and exit")
	var hashPassword = flag.String("hash-password", "", "print a bcrypt hash for the given admin password and exit")
	var generateSecret = flag.Bool("generate-secret", false, "print a random JWT secret and exit")
	flag.Parse()

	if *hashPassword != "" {
		hash, err := crypto.HashPassword(*hashPassword)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}
	if *generateSecret {
		secret, err := crypto.GenerateRandomString(32)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(secret)
		return
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config_path", *configPath).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Warn().Str("level", cfg.Log.Level).Msg("invalid log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Log.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	if *showConfig {
		cfg.PrintConfigSummary()
		return
	}
	if *validateOnly {
		cfg.PrintConfigSummary()
		fmt.Println("configuration OK")
		return
	}

	log.Info().
		Str("config_path", *configPath).
		Str("version", cfg.Server.Version).
		Msg("camrig server starting")

	store, err := storage.NewJSONStore(cfg.Storage.DataDir)
	if err != nil {
		log.Fatal().Err(err).Str("data_dir", cfg.Storage.DataDir).Msg("failed to open store")
	}
	defer store.Close()

	adapter, err := ble.NewBluetoothAdapter()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to enable bluetooth adapter")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	timing := camera.Timing{
		ScanWindow:      cfg.BLE.ScanWindow,
		ConnectTimeout:  cfg.BLE.ConnectTimeout,
		ResponseTimeout: cfg.BLE.ResponseTimeout,
		ConnectAttempts: cfg.BLE.ConnectAttempts,
	}
	manager, err := camera.NewManager(ctx, adapter, store, timing, cfg.BLE.DebugHex)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load camera roster")
	}

	cohnMgr := cohn.NewManager(adapter, store, cohn.Config{
		SSID:             cfg.COHN.SSID,
		Password:         cfg.COHN.Password,
		ProvisionTimeout: cfg.COHN.ProvisionTimeout,
		CheckTimeout:     cfg.COHN.CheckTimeout,
	}, timing)

	hub := api.NewHub()
	manager.SetBroadcaster(hub)

	server := api.NewRESTServer(cfg, store, manager, cohnMgr, hub)

	go manager.RunMonitor(ctx, camera.MonitorIntervals{
		Sweep:     cfg.Monitor.SweepInterval,
		Battery:   cfg.Monitor.BatteryInterval,
		KeepAlive: cfg.Monitor.KeepAliveInterval,
		Probe:     cfg.Monitor.ProbeInterval,
	})

	addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
	go func() {
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("api server stopped")
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case <-ctx.Done():
		log.Info().Msg("context cancelled, shutting down")
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("api shutdown incomplete")
	}
	manager.DisconnectAll()

	log.Info().Msg("camrig server stopped")
}
