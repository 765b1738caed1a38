package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/lbedner/sector-7g/internal/api"
	"github.com/lbedner/sector-7g/internal/config"
	"github.com/lbedner/sector-7g/internal/dispatch"
	"github.com/lbedner/sector-7g/internal/handlers/plant"
	"github.com/lbedner/sector-7g/internal/producer"
	"github.com/lbedner/sector-7g/internal/registry"
	"github.com/lbedner/sector-7g/internal/scheduler"
	"github.com/lbedner/sector-7g/internal/store"
)

func main() {
	var (
		addr     = flag.String("addr", ":8080", "HTTP bind address")
		dbPath   = flag.String("db", "sector7g.db", "SQLite DB path")
		cfgPath  = flag.String("config", "", "queue config YAML (empty for built-in defaults)")
		poll     = flag.Duration("poll", 250*time.Millisecond, "poll interval for queue workers")
		logLevel = flag.String("log-level", "info", "zerolog level")
		sched    = flag.Bool("scheduler", true, "run the trigger scheduler")
		tz       = flag.String("tz", "America/Chicago", "plant wall-clock timezone for cron triggers")
	)
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	if lvl, err := zerolog.ParseLevel(*logLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	cfg := config.Default()
	if *cfgPath != "" {
		var err error
		cfg, err = config.Load(*cfgPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", *cfgPath).Msg("load config")
		}
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)", *dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()
	db.SetMaxOpenConns(1) // SQLite single writer

	if err := store.EnsureSchema(db); err != nil {
		log.Fatal().Err(err).Msg("ensure schema")
	}

	st := store.New(db)
	if n, err := st.RecoverStale(context.Background()); err == nil && n > 0 {
		log.Info().Int("recovered", n).Msg("recovered stale running tasks")
	}

	reg := registry.New(cfg.DefaultQueue)
	plant.Register(reg)
	reg.Freeze()

	d := dispatch.NewDispatcher(st, reg, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	for _, qc := range cfg.Queues {
		pool := dispatch.NewPool(st, reg, qc, *poll)
		go pool.Run(ctx)
	}
	go dispatch.NewReaper(st, time.Minute).Run(ctx)

	if *sched {
		loc, err := time.LoadLocation(*tz)
		if err != nil {
			log.Fatal().Err(err).Str("tz", *tz).Msg("load timezone")
		}
		s := scheduler.New(st, loc, scheduler.Definitions(d, producer.New(d), cfg))
		force := truthy(os.Getenv("SCHEDULER_FORCE_UPDATE"))
		if err := s.Reconcile(ctx, force); err != nil {
			log.Fatal().Err(err).Msg("reconcile triggers")
		}
		go func() {
			if err := s.Run(ctx); err != nil {
				log.Fatal().Err(err).Msg("scheduler")
			}
		}()
	}

	srv := &http.Server{Addr: *addr, Handler: api.NewServer(st, d, reg, cfg)}
	go func() {
		log.Info().Str("addr", *addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Info().Msg("shutting down")
	cancel()
	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()
	_ = srv.Shutdown(ctxTimeout)
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
