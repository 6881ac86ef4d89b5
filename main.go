package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/example/reviewengine/internal/config"
	"github.com/example/reviewengine/internal/database"
	"github.com/example/reviewengine/internal/logging"
	"github.com/example/reviewengine/internal/review"
	"github.com/example/reviewengine/internal/spaced_repetition"
	"github.com/example/reviewengine/internal/store"
)

const usage = `usage: reviewengine <command> [args]

commands:
  due <learner> [limit]                   list due items
  enroll <learner> <item>...              create review states for items
  import <file.xlsx|file.csv>             enroll learner/item pairs from a file
  tombstone <item>                        hide a deleted item from all learners
  review <learner> [limit]                run an interactive review session
  export <learner> <file.xlsx|file.csv>   write review states and history
`

type app struct {
	cfg    *config.Config
	log    zerolog.Logger
	db     *sqlx.DB
	store  store.Store
	engine *review.Engine
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log)

	a, err := newApp(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to start")
	}
	defer a.close()

	// Cancel on Ctrl+C so interactive sessions end cleanly
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	start := time.Now()
	cmd, args := os.Args[1], os.Args[2:]
	if err := a.run(ctx, cmd, args); err != nil {
		logger.Error().Err(err).Str("command", cmd).Dur("elapsed", logging.Since(start)).Msg("Command failed")
		a.close()
		os.Exit(1)
	}
	logger.Debug().Str("command", cmd).Dur("elapsed", logging.Since(start)).Msg("Command finished")
}

func newApp(cfg *config.Config, logger zerolog.Logger) (*app, error) {
	db, err := database.Connect(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	repo := database.NewReviewStateRepository(db, cfg.VersionedSaves, logger)
	engine := review.NewEngine(repo, newScheduler(cfg), logger, review.Options{
		DefaultLimit: cfg.DefaultLimit,
		SessionTTL:   cfg.SessionTTL,
	})

	return &app{cfg: cfg, log: logger, db: db, store: repo, engine: engine}, nil
}

func newScheduler(cfg *config.Config) *spaced_repetition.SM2 {
	sm := spaced_repetition.NewSM2()
	if cfg.IntervalPolicy == config.PolicyLadder {
		sm = spaced_repetition.NewLadder()
	}
	sm.MaxInterval = cfg.MaxIntervalDays
	return sm
}

func (a *app) close() {
	if a.db == nil {
		return
	}
	if err := a.db.Close(); err != nil {
		a.log.Warn().Err(err).Msg("Failed to close database")
	}
	a.db = nil
}

func (a *app) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "due":
		return a.cmdDue(ctx, args)
	case "enroll":
		return a.cmdEnroll(ctx, args)
	case "import":
		return a.cmdImport(ctx, args)
	case "tombstone":
		return a.cmdTombstone(ctx, args)
	case "review":
		return a.cmdReview(ctx, args)
	case "export":
		return a.cmdExport(ctx, args)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
}
