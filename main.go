package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	conf "github.com/bartek5186/watchsync/internal/config"
	"github.com/bartek5186/watchsync/internal/db"
	logs "github.com/bartek5186/watchsync/internal/logs"
	syncer "github.com/bartek5186/watchsync/internal/syncer"
)

// override with: -ldflags "-X 'main.ver=1.0.1'"
var ver = "1.0.0"

func main() {
	once := flag.Bool("once", false, "run one sync sweep and exit")
	flag.Parse()

	appDir := mustAppDataDir("watchsync")

	cfgPath := filepath.Join(appDir, "config.json")
	cfg, firstRun, err := conf.LoadOrCreate(cfgPath)
	if err != nil {
		panic(err)
	}

	log := logs.New(filepath.Join(appDir, "app.log"), true, cfg.LogLevel)
	log.Info().Str("ver", ver).Msg("watchsync starting")
	if firstRun {
		log.Info().Msgf("created default configuration: %s (fill in campaign ids)", cfgPath)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	sec := conf.LoadSecrets()

	dbh, err := db.OpenAt(appDir)
	if err != nil {
		log.Fatal().Err(err).Msg("DB open error")
	}
	if err := dbh.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("DB migrate error")
	}
	log.Info().Str("db", dbh.Path).Msg("DB ready")
	sqlDB, _ := dbh.DB.DB()
	defer sqlDB.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	s := syncer.New(log, cfg, sec, dbh.DB)

	if *once {
		if err := s.RunOnce(ctx); err != nil {
			log.Error().Err(err).Msg("sweep finished with errors")
			os.Exit(1)
		}
		return
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)

	if cfg.AutoStart {
		if err := s.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("start error")
		}
	} else {
		log.Info().Msg("auto_start disabled; edit config.json and send SIGHUP to begin syncing")
	}

	for {
		select {
		case <-ctx.Done():
			s.Stop()
			return
		case <-hup:
			newCfg, _, err := conf.LoadOrCreate(cfgPath)
			if err != nil {
				log.Error().Err(err).Msg("config reload failed, keeping previous config")
				continue
			}
			if err := newCfg.Validate(); err != nil {
				log.Error().Err(err).Msg("reloaded config invalid, keeping previous config")
				continue
			}
			s.UpdateConfig(ctx, newCfg)
			if !s.IsRunning() {
				if err := s.Start(ctx); err != nil {
					log.Error().Err(err).Msg("start error")
				}
			}
		}
	}
}

func mustAppDataDir(name string) string {
	base, err := os.UserConfigDir()
	if err != nil {
		panic(err)
	}
	p := filepath.Join(base, name)
	_ = os.MkdirAll(p, 0o755)
	return p
}
