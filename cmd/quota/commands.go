package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"

	"github.com/mtlprog/quota/internal/api"
	"github.com/mtlprog/quota/internal/domain"
	"github.com/mtlprog/quota/internal/export"
	"github.com/mtlprog/quota/internal/fund"
	"github.com/mtlprog/quota/internal/legacy"
	"github.com/mtlprog/quota/internal/valuation"
	"github.com/mtlprog/quota/internal/worker"
)

func fundFlag() cli.Flag {
	return &cli.Int64Flag{Name: "fund", Aliases: []string{"f"}, Usage: "fund id", Required: true}
}

func decimalFlag(c *cli.Context, name string) (decimal.Decimal, error) {
	v := c.String(name)
	if v == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid --%s %q: %w", name, v, err)
	}
	return d, nil
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the HTTP API and the automatic refresh worker",
		Action: withServices(func(c *cli.Context, s *services) error {
			ctx, cancel := context.WithCancel(c.Context)
			defer cancel()

			// Sheets publishing is optional; the worker runs without a hook when unset.
			var hook worker.AfterRefreshHook
			if s.cfg.SheetsSpreadsheetID != "" {
				writer, err := export.NewSheetsWriter(ctx, s.cfg.SheetsSpreadsheetID, s.cfg.SheetsCredentials)
				if err != nil {
					slog.Warn("Google Sheets export disabled", "error", err)
				} else {
					hook = export.NewService(s.store, s.funds, writer)
				}
			}
			refreshWorker := worker.NewRefreshWorker(s.runner, s.cfg.AutomationTick, hook)
			go refreshWorker.Run(ctx)

			if s.cfg.AdminAPIKey == "" {
				slog.Warn("ADMIN_API_KEY not set, write endpoints are unprotected")
			}
			handler := api.NewHandler(s.funds, s.engine, s.valuation, s.gate)
			srv := api.NewServer(s.cfg.HTTPPort, handler, s.cfg.AdminAPIKey)

			serveErr := make(chan error, 1)
			go func() {
				slog.Info("HTTP server listening", "port", s.cfg.HTTPPort)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
			}()

			var err error
			select {
			case <-ctx.Done():
			case err = <-serveErr:
				err = fmt.Errorf("HTTP server error: %w", err)
			}
			slog.Info("Shutting down...")

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer shutdownCancel()
			if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
				slog.Error("HTTP server shutdown error", "error", shutdownErr)
			}
			slog.Info("Shutdown complete")
			return err
		}),
	}
}

func refreshCommand() *cli.Command {
	return &cli.Command{
		Name:  "refresh",
		Usage: "refresh a fund's AUM from the valuation provider",
		Flags: []cli.Flag{
			fundFlag(),
			&cli.StringFlag{Name: "date", Usage: "valuation date (YYYY-MM-DD), default today"},
			&cli.StringFlag{Name: "expenses", Usage: "manual expenses to deduct", Value: "0"},
			&cli.BoolFlag{Name: "historical", Usage: "ask for the valuation at --date before the current one"},
		},
		Action: withServices(func(c *cli.Context, s *services) error {
			asOf, err := parseDateFlag(c.String("date"), s.cfg.Location())
			if err != nil {
				return err
			}
			expenses, err := decimalFlag(c, "expenses")
			if err != nil {
				return err
			}
			out, err := s.valuation.RefreshFundAUM(c.Context, valuation.RefreshRequest{
				FundID:         c.Int64("fund"),
				AsOf:           asOf,
				ManualExpenses: expenses,
				PreferCurrent:  !c.Bool("historical"),
				Kind:           domain.KindManualUpdate,
			})
			if err != nil {
				return err
			}
			return printJSON(c.App.Writer, out)
		}),
	}
}

func autoCommand() *cli.Command {
	return &cli.Command{
		Name:  "auto",
		Usage: "run one automatic refresh pass over every active fund",
		Action: withServices(func(c *cli.Context, s *services) error {
			results, err := s.runner.RunDue(c.Context)
			if err != nil {
				return err
			}
			for _, r := range results {
				status := "skipped"
				switch {
				case r.Err != nil:
					status = "failed: " + r.Err.Error()
				case r.Refreshed:
					status = "refreshed, price " + r.Outcome.QuotaPrice.String()
				case !r.Decision.Enabled:
					status = "automation disabled"
				}
				next := "-"
				if !r.NextRun.IsZero() {
					next = r.NextRun.Format(time.RFC3339)
				}
				fmt.Fprintf(c.App.Writer, "fund %d: %s (next run %s)\n", r.FundID, status, next)
			}
			return nil
		}),
	}
}

func quoteCommand() *cli.Command {
	return &cli.Command{
		Name:  "quote",
		Usage: "convert a cash amount into quotas at the current price",
		Flags: []cli.Flag{
			fundFlag(),
			&cli.StringFlag{Name: "amount", Usage: "cash amount", Required: true},
			&cli.StringFlag{Name: "direction", Usage: "IN or OUT", Value: string(domain.DirectionIn)},
		},
		Action: withServices(func(c *cli.Context, s *services) error {
			amount, err := decimalFlag(c, "amount")
			if err != nil {
				return err
			}
			dir, err := domain.ParseDirection(c.String("direction"))
			if err != nil {
				return err
			}
			q, err := s.engine.QuoteMovement(c.Context, c.Int64("fund"), amount, dir)
			if err != nil {
				return err
			}
			return printJSON(c.App.Writer, q)
		}),
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "write a fund's AUM history and operation log to an xlsx file or Google Sheets",
		Flags: []cli.Flag{
			fundFlag(),
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "xlsx output path"},
			&cli.BoolFlag{Name: "sheets", Usage: "publish to the configured spreadsheet instead"},
		},
		Action: withServices(func(c *cli.Context, s *services) error {
			fundID := c.Int64("fund")
			if c.Bool("sheets") {
				writer, err := export.NewSheetsWriter(c.Context, s.cfg.SheetsSpreadsheetID, s.cfg.SheetsCredentials)
				if err != nil {
					return err
				}
				return export.NewService(s.store, s.funds, writer).Export(c.Context, fundID)
			}

			path := c.String("out")
			if path == "" {
				return errors.New("--out is required unless --sheets is set")
			}
			f, err := os.Create(path)
			if err != nil {
				return fmt.Errorf("creating %s: %w", path, err)
			}
			if err := export.NewService(s.store, s.funds, export.NewWorkbookWriter(f)).Export(c.Context, fundID); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("closing %s: %w", path, err)
			}
			slog.Info("workbook written", "fund", fundID, "path", path)
			return nil
		}),
	}
}

func importLegacyCommand() *cli.Command {
	return &cli.Command{
		Name:  "import-legacy",
		Usage: "import a legacy SQLite database into an empty ledger",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "sqlite", Usage: "path of the legacy database", Required: true},
		},
		Action: withServices(func(c *cli.Context, s *services) error {
			db, err := legacy.Open(c.Context, c.String("sqlite"))
			if err != nil {
				return err
			}
			defer db.Close()

			sum, err := legacy.NewImporter(db, s.store, s.cfg.Location()).Import(c.Context)
			if err != nil {
				return err
			}
			return printJSON(c.App.Writer, sum)
		}),
	}
}

func fundCommand() *cli.Command {
	return &cli.Command{
		Name:  "fund",
		Usage: "manage funds",
		Subcommands: []*cli.Command{
			{
				Name:  "create",
				Usage: "create a fund",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Required: true},
					&cli.StringFlag{Name: "description"},
					&cli.StringFlag{Name: "inception", Usage: "inception date (YYYY-MM-DD), default today"},
					&cli.StringFlag{Name: "initial-price", Value: "1"},
				},
				Action: withServices(func(c *cli.Context, s *services) error {
					inception, err := parseDateFlag(c.String("inception"), s.cfg.Location())
					if err != nil {
						return err
					}
					price, err := decimalFlag(c, "initial-price")
					if err != nil {
						return err
					}
					f, err := s.funds.CreateFund(c.Context, domain.Fund{
						Name:              c.String("name"),
						Description:       c.String("description"),
						InceptionDate:     inception,
						InitialQuotaPrice: price,
					})
					if err != nil {
						return err
					}
					return printJSON(c.App.Writer, f)
				}),
			},
			{
				Name:  "list",
				Usage: "list funds",
				Flags: []cli.Flag{&cli.BoolFlag{Name: "all", Usage: "include deactivated funds"}},
				Action: withServices(func(c *cli.Context, s *services) error {
					funds, err := s.funds.ListFunds(c.Context, !c.Bool("all"))
					if err != nil {
						return err
					}
					return printJSON(c.App.Writer, funds)
				}),
			},
			{
				Name:  "deactivate",
				Usage: "deactivate a fund",
				Flags: []cli.Flag{fundFlag()},
				Action: withServices(func(c *cli.Context, s *services) error {
					return s.funds.Deactivate(c.Context, c.Int64("fund"))
				}),
			},
			{
				Name:  "set-source",
				Usage: "set the valuation provider token and wallet of a fund",
				Flags: []cli.Flag{
					fundFlag(),
					&cli.StringFlag{Name: "token", EnvVars: []string{"OCTAV_API_TOKEN"}, Required: true},
					&cli.StringFlag{Name: "wallet", Required: true},
				},
				Action: withServices(func(c *cli.Context, s *services) error {
					return s.funds.SetValuationSource(c.Context, c.Int64("fund"), c.String("token"), c.String("wallet"))
				}),
			},
			{
				Name:  "automation",
				Usage: "enable, disable or reschedule automatic refreshes",
				Flags: []cli.Flag{
					fundFlag(),
					&cli.BoolFlag{Name: "enable"},
					&cli.BoolFlag{Name: "disable"},
					&cli.IntFlag{Name: "interval", Usage: "refresh interval in hours"},
				},
				Action: withServices(func(c *cli.Context, s *services) error {
					fundID := c.Int64("fund")
					if c.Bool("enable") && c.Bool("disable") {
						return errors.New("--enable and --disable are mutually exclusive")
					}
					if c.Bool("enable") || c.Bool("disable") {
						if err := s.gate.SetEnabled(c.Context, fundID, c.Bool("enable")); err != nil {
							return err
						}
					}
					if c.IsSet("interval") {
						if err := s.gate.SetInterval(c.Context, fundID, c.Int("interval")); err != nil {
							return err
						}
					}
					cfg, err := s.gate.Config(c.Context, fundID)
					if err != nil {
						return err
					}
					return printJSON(c.App.Writer, cfg)
				}),
			},
		},
	}
}

func expenseCommand() *cli.Command {
	return &cli.Command{
		Name:  "expense",
		Usage: "record and list fund expenses",
		Subcommands: []*cli.Command{
			{
				Name:  "add",
				Usage: "record an expense",
				Flags: []cli.Flag{
					fundFlag(),
					&cli.StringFlag{Name: "amount", Required: true},
					&cli.StringFlag{Name: "description", Required: true},
					&cli.StringFlag{Name: "category", Value: domain.DefaultExpenseCategory},
					&cli.StringFlag{Name: "date", Usage: "expense date (YYYY-MM-DD), default today"},
				},
				Action: withServices(func(c *cli.Context, s *services) error {
					amount, err := decimalFlag(c, "amount")
					if err != nil {
						return err
					}
					date, err := parseDateFlag(c.String("date"), s.cfg.Location())
					if err != nil {
						return err
					}
					e, err := s.funds.AddExpense(c.Context, domain.Expense{
						FundID:      c.Int64("fund"),
						Date:        date,
						Description: c.String("description"),
						Amount:      amount,
						Category:    c.String("category"),
					})
					if err != nil {
						return err
					}
					return printJSON(c.App.Writer, e)
				}),
			},
			{
				Name:  "summary",
				Usage: "total expenses by category",
				Flags: []cli.Flag{fundFlag()},
				Action: withServices(func(c *cli.Context, s *services) error {
					totals, err := s.funds.ExpensesByCategory(c.Context, c.Int64("fund"))
					if err != nil {
						return err
					}
					return printJSON(c.App.Writer, totals)
				}),
			},
		},
	}
}

func clientCommand() *cli.Command {
	return &cli.Command{
		Name:  "client",
		Usage: "manage clients",
		Subcommands: []*cli.Command{
			{
				Name:  "register",
				Usage: "register a client",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Required: true},
					&cli.StringFlag{Name: "email", Required: true},
					&cli.StringFlag{Name: "password", EnvVars: []string{"CLIENT_PASSWORD"}, Required: true},
					&cli.BoolFlag{Name: "admin", Usage: "grant the admin role"},
				},
				Action: withServices(func(c *cli.Context, s *services) error {
					role := domain.RoleClient
					if c.Bool("admin") {
						role = domain.RoleAdmin
					}
					client, err := s.clients.Register(c.Context, fund.Registration{
						Name:     c.String("name"),
						Email:    c.String("email"),
						Password: c.String("password"),
						Role:     role,
					})
					if err != nil {
						return err
					}
					return printJSON(c.App.Writer, client)
				}),
			},
			{
				Name:  "positions",
				Usage: "show a client's positions across active funds",
				Flags: []cli.Flag{&cli.Int64Flag{Name: "client", Required: true}},
				Action: withServices(func(c *cli.Context, s *services) error {
					p, err := s.funds.ClientPositions(c.Context, c.Int64("client"))
					if err != nil {
						return err
					}
					return printJSON(c.App.Writer, p)
				}),
			},
		},
	}
}
