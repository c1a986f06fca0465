package main

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"

	"github.com/mtlprog/quota/internal/automation"
	"github.com/mtlprog/quota/internal/config"
	"github.com/mtlprog/quota/internal/database"
	"github.com/mtlprog/quota/internal/domain"
	"github.com/mtlprog/quota/internal/external"
	"github.com/mtlprog/quota/internal/fund"
	"github.com/mtlprog/quota/internal/ledger"
	"github.com/mtlprog/quota/internal/logging"
	"github.com/mtlprog/quota/internal/quota"
	"github.com/mtlprog/quota/internal/valuation"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "quota",
		Usage: "quota accounting and valuation for investment funds",
		Before: func(c *cli.Context) error {
			cfg := config.Load()
			logging.Setup(os.Stderr, cfg.LogLevel, cfg.LogFormat)
			c.App.Metadata = map[string]any{"config": cfg}
			return nil
		},
		Commands: []*cli.Command{
			serveCommand(),
			refreshCommand(),
			autoCommand(),
			quoteCommand(),
			exportCommand(),
			importLegacyCommand(),
			fundCommand(),
			expenseCommand(),
			clientCommand(),
		},
	}
}

// services is the wiring shared by every command.
type services struct {
	cfg       config.Config
	pool      *pgxpool.Pool
	store     *ledger.PgStore
	engine    *quota.Engine
	funds     *fund.Service
	clients   *fund.ClientService
	valuation *valuation.Service
	gate      *automation.Gate
	runner    *automation.Runner
}

func configFrom(c *cli.Context) config.Config {
	cfg, _ := c.App.Metadata["config"].(config.Config)
	return cfg
}

// connect opens the database, applies pending migrations and builds the services.
// The caller must call close.
func connect(c *cli.Context) (*services, error) {
	cfg := configFrom(c)
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}

	pool, err := database.Connect(c.Context, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	migrationsSub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create migrations sub-fs: %w", err)
	}
	if err := database.RunMigrations(c.Context, pool, migrationsSub); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	loc := cfg.Location()
	store := ledger.NewPgStore(pool)
	engine := quota.NewEngine(store)
	octav := external.NewOctavClient(cfg.OctavURL, cfg.OctavTimeout, cfg.OctavRetryMax, cfg.OctavRetryBaseDelay)
	valuationSvc := valuation.NewService(store, octav, engine, loc)
	gate := automation.NewGate(store, loc, cfg.DefaultIntervalHours)

	return &services{
		cfg:       cfg,
		pool:      pool,
		store:     store,
		engine:    engine,
		funds:     fund.NewService(store, engine, cfg.DefaultIntervalHours),
		clients:   fund.NewClientService(store),
		valuation: valuationSvc,
		gate:      gate,
		runner:    automation.NewRunner(store, gate, valuationSvc, cfg.AutomationTick),
	}, nil
}

func (s *services) close() {
	s.pool.Close()
}

// withServices runs fn with connected services.
func withServices(fn func(c *cli.Context, s *services) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		s, err := connect(c)
		if err != nil {
			return err
		}
		defer s.close()
		return fn(c, s)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseDateFlag parses an optional YYYY-MM-DD flag value in loc.
func parseDateFlag(value string, loc *time.Location) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(domain.DateLayout, value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", value)
	}
	return t, nil
}
