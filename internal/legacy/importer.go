// Package legacy imports the SQLite databases written by the previous fund manager
// into the ledger.
//
// Two layouts are understood: the multi-fund one, where every table carries a
// fundo_id column and funds live in fundos, and the older single-fund one, where
// aum_diario holds valor_total and despesas and no table references a fund. Rows of
// a single-fund database are attached to one fund created during the import.
package legacy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/mtlprog/quota/internal/domain"
	"github.com/mtlprog/quota/internal/ledger"
)

// ErrLedgerNotEmpty is returned when the target ledger already holds funds.
var ErrLedgerNotEmpty = errors.New("ledger already holds funds")

// DefaultFundName names the fund created for single-fund databases without settings.
const DefaultFundName = "Legacy fund"

// Summary counts imported and skipped rows.
type Summary struct {
	Layout            string `json:"layout"`
	Funds             int    `json:"funds"`
	Clients           int    `json:"clients"`
	Movements         int    `json:"movements"`
	Snapshots         int    `json:"snapshots"`
	Expenses          int    `json:"expenses"`
	AutomationConfigs int    `json:"automationConfigs"`
	ValuationSources  int    `json:"valuationSources"`
	Logs              int    `json:"logs"`
	Skipped           int    `json:"skipped"`
}

// Open opens an existing legacy database on a single read-only connection.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("legacy database: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening legacy database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, `PRAGMA query_only = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("opening legacy database read-only: %w", err)
	}
	return db, nil
}

// Importer copies a legacy database into a ledger store.
type Importer struct {
	db    *sql.DB
	store ledger.Store
	loc   *time.Location
}

// NewImporter creates an Importer. Naive legacy timestamps are read in loc.
func NewImporter(db *sql.DB, store ledger.Store, loc *time.Location) *Importer {
	if loc == nil {
		loc = time.UTC
	}
	return &Importer{db: db, store: store, loc: loc}
}

// Import copies every legacy table into the store in one transaction. The ledger must
// not hold any fund yet; legacy ids are remapped to the ids assigned by the store.
func (im *Importer) Import(ctx context.Context) (Summary, error) {
	existing, err := im.store.ListFunds(ctx, false)
	if err != nil {
		return Summary{}, fmt.Errorf("listing funds: %w", err)
	}
	if len(existing) > 0 {
		return Summary{}, ErrLedgerNotEmpty
	}

	schema, err := im.readSchema(ctx)
	if err != nil {
		return Summary{}, err
	}
	if !schema.has("movimentacoes") && !schema.has("aum_diario") {
		return Summary{}, errors.New("not a legacy fund database: movimentacoes and aum_diario are missing")
	}

	var sum Summary
	err = im.store.WithTx(ctx, func(tx ledger.Store) error {
		run := &importRun{
			Importer: im,
			tx:       tx,
			schema:   schema,
			funds:    make(map[int64]int64),
			clients:  make(map[int64]int64),
		}
		steps := []struct {
			name string
			fn   func(context.Context) error
		}{
			{"funds", run.importFunds},
			{"clients", run.importClients},
			{"movements", run.importMovements},
			{"snapshots", run.importSnapshots},
			{"expenses", run.importExpenses},
			{"automation configs", run.importAutomation},
			{"valuation sources", run.importSources},
			{"operation logs", run.importLogs},
		}
		for _, step := range steps {
			if err := step.fn(ctx); err != nil {
				return fmt.Errorf("importing %s: %w", step.name, err)
			}
		}
		sum = run.sum
		return nil
	})
	if err != nil {
		return Summary{}, err
	}

	slog.Info("legacy import completed",
		"layout", sum.Layout,
		"funds", sum.Funds,
		"clients", sum.Clients,
		"movements", sum.Movements,
		"snapshots", sum.Snapshots,
		"logs", sum.Logs,
		"skipped", sum.Skipped,
	)
	return sum, nil
}

// schema maps table names to their column sets.
type schema map[string]map[string]bool

func (s schema) has(table string) bool { return len(s[table]) > 0 }

func (s schema) hasColumn(table, column string) bool { return s[table][column] }

func (s schema) multiFund() bool { return s.has("fundos") }

var legacyTables = []string{
	"fundos", "clientes", "movimentacoes", "aum_diario", "despesas",
	"configuracoes_fundo", "configuracoes_automacao", "configuracoes_octav", "logs_aum",
}

func (im *Importer) readSchema(ctx context.Context) (schema, error) {
	s := make(schema, len(legacyTables))
	for _, table := range legacyTables {
		rows, err := im.db.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, table)
		if err != nil {
			return nil, fmt.Errorf("reading columns of %s: %w", table, err)
		}
		cols := make(map[string]bool)
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scanning columns of %s: %w", table, err)
			}
			cols[strings.ToLower(name)] = true
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("reading columns of %s: %w", table, err)
		}
		s[table] = cols
	}
	return s, nil
}

type importRun struct {
	*Importer
	tx     ledger.Store
	schema schema
	sum    Summary

	// legacy id -> ledger id; single-fund databases map everything from key 0
	funds   map[int64]int64
	clients map[int64]int64
}

func (r *importRun) skip(kind string, legacyID int64, reason string) {
	r.sum.Skipped++
	slog.Warn("legacy: skipping row", "table", kind, "legacy_id", legacyID, "reason", reason)
}

// fundColumn returns the expression selecting the legacy fund id of table.
func (r *importRun) fundColumn(table string) string {
	if r.schema.hasColumn(table, "fundo_id") {
		return "fundo_id"
	}
	return "0"
}

// column returns name when table has it, otherwise the fallback SQL literal.
func (r *importRun) column(table, name, fallback string) string {
	if r.schema.hasColumn(table, name) {
		return "COALESCE(" + name + ", " + fallback + ")"
	}
	return fallback
}

func (r *importRun) fundFor(legacyID int64) (int64, bool) {
	if !r.schema.multiFund() {
		legacyID = 0
	}
	id, ok := r.funds[legacyID]
	return id, ok
}

func (r *importRun) each(ctx context.Context, query string, scan func(*sql.Rows) error) error {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (r *importRun) importFunds(ctx context.Context) error {
	if !r.schema.multiFund() {
		r.sum.Layout = "single-fund"
		return r.importSingleFund(ctx)
	}
	r.sum.Layout = "multi-fund"

	return r.each(ctx, `SELECT id, nome, `+r.column("fundos", "descricao", "''")+`, data_inicio, `+
		r.column("fundos", "valor_cota_inicial", "1.0")+`, `+r.column("fundos", "ativo", "1")+`
		FROM fundos ORDER BY id`, func(rows *sql.Rows) error {
		var (
			id         int64
			name, desc string
			inception  any
			initial    float64
			active     bool
		)
		if err := rows.Scan(&id, &name, &desc, &inception, &initial, &active); err != nil {
			return err
		}
		start, err := parseTime(inception, r.loc)
		if err != nil {
			return fmt.Errorf("fund %d inception: %w", id, err)
		}
		f, err := r.tx.CreateFund(ctx, domain.Fund{
			Name:              strings.TrimSpace(name),
			Description:       strings.TrimSpace(desc),
			InceptionDate:     start,
			InitialQuotaPrice: positiveOr(decimal.NewFromFloat(initial), decimal.NewFromInt(1)),
			Active:            active,
		})
		if err != nil {
			return fmt.Errorf("fund %d: %w", id, err)
		}
		r.funds[id] = f.ID
		r.sum.Funds++
		return nil
	})
}

// importSingleFund creates the one fund of a single-fund database from its settings
// row, or from the earliest movement when there is none.
func (r *importRun) importSingleFund(ctx context.Context) error {
	f := domain.Fund{Name: DefaultFundName, InitialQuotaPrice: decimal.NewFromInt(1), Active: true}

	var inception any
	if r.schema.hasColumn("configuracoes_fundo", "nome") {
		var (
			name    string
			initial float64
		)
		err := r.db.QueryRowContext(ctx, `SELECT nome, data_inicio, `+
			r.column("configuracoes_fundo", "valor_cota_inicial", "1.0")+
			` FROM configuracoes_fundo ORDER BY id LIMIT 1`).Scan(&name, &inception, &initial)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("reading fund settings: %w", err)
		default:
			if strings.TrimSpace(name) != "" {
				f.Name = strings.TrimSpace(name)
			}
			f.InitialQuotaPrice = positiveOr(decimal.NewFromFloat(initial), f.InitialQuotaPrice)
		}
	}
	if inception == nil && r.schema.has("movimentacoes") {
		if err := r.db.QueryRowContext(ctx, `SELECT MIN(data) FROM movimentacoes`).Scan(&inception); err != nil {
			return fmt.Errorf("reading first movement date: %w", err)
		}
	}
	if inception != nil {
		start, err := parseTime(inception, r.loc)
		if err != nil {
			return fmt.Errorf("fund inception: %w", err)
		}
		f.InceptionDate = start
	} else {
		f.InceptionDate = time.Now().In(r.loc)
	}

	created, err := r.tx.CreateFund(ctx, f)
	if err != nil {
		return err
	}
	r.funds[0] = created.ID
	r.sum.Funds++
	return nil
}

func (r *importRun) importClients(ctx context.Context) error {
	if !r.schema.has("clientes") {
		return nil
	}
	return r.each(ctx, `SELECT id, nome, email, `+r.column("clientes", "senha", "''")+`, `+
		r.column("clientes", "ativo", "1")+` FROM clientes ORDER BY id`, func(rows *sql.Rows) error {
		var (
			id                  int64
			name, email, digest string
			active              bool
		)
		if err := rows.Scan(&id, &name, &email, &digest, &active); err != nil {
			return err
		}
		// the legacy application treated the first registered user as its operator
		role := domain.RoleClient
		if id == 1 {
			role = domain.RoleAdmin
		}
		c, err := r.tx.CreateClient(ctx, domain.Client{
			Name:           strings.TrimSpace(name),
			Email:          strings.ToLower(strings.TrimSpace(email)),
			CredentialHash: domain.LegacyMD5Prefix + strings.ToLower(strings.TrimSpace(digest)),
			Role:           role,
			Active:         active,
		})
		if errors.Is(err, ledger.ErrConstraintViolation) {
			r.skip("clientes", id, err.Error())
			return nil
		}
		if err != nil {
			return fmt.Errorf("client %d: %w", id, err)
		}
		r.clients[id] = c.ID
		r.sum.Clients++
		return nil
	})
}

func (r *importRun) importMovements(ctx context.Context) error {
	if !r.schema.has("movimentacoes") {
		return nil
	}
	return r.each(ctx, `SELECT id, `+r.fundColumn("movimentacoes")+`, cliente_id, tipo, valor, cotas, valor_cota, data, `+
		r.column("movimentacoes", "observacoes", "''")+` FROM movimentacoes ORDER BY data, id`, func(rows *sql.Rows) error {
		var (
			id, legacyFund, legacyClient int64
			kind, note                   string
			cash, quotas, price          float64
			date                         any
		)
		if err := rows.Scan(&id, &legacyFund, &legacyClient, &kind, &cash, &quotas, &price, &date, &note); err != nil {
			return err
		}
		fundID, ok := r.fundFor(legacyFund)
		if !ok {
			r.skip("movimentacoes", id, "unknown fund")
			return nil
		}
		clientID, ok := r.clients[legacyClient]
		if !ok {
			r.skip("movimentacoes", id, "unknown client")
			return nil
		}
		dir, err := domain.ParseDirection(kind)
		if err != nil {
			r.skip("movimentacoes", id, err.Error())
			return nil
		}
		effective, err := parseTime(date, r.loc)
		if err != nil {
			r.skip("movimentacoes", id, err.Error())
			return nil
		}
		amount := decimal.NewFromFloat(cash).Abs()
		quotaPrice := decimal.NewFromFloat(price)
		if !amount.IsPositive() || !quotaPrice.IsPositive() {
			r.skip("movimentacoes", id, "non-positive amount or quota price")
			return nil
		}

		// legacy rows keep quotas unsigned and take the sign from tipo
		if _, err := r.tx.InsertMovement(ctx, domain.Movement{
			FundID:        fundID,
			ClientID:      clientID,
			Direction:     dir,
			CashAmount:    amount,
			QuotaAmount:   decimal.NewFromFloat(quotas).Abs().Mul(dir.Sign()),
			QuotaPrice:    quotaPrice,
			EffectiveDate: effective,
			Note:          strings.TrimSpace(note),
		}); err != nil {
			return fmt.Errorf("movement %d: %w", id, err)
		}
		r.sum.Movements++
		return nil
	})
}

func (r *importRun) importSnapshots(ctx context.Context) error {
	const table = "aum_diario"
	if !r.schema.has(table) {
		return nil
	}
	value := "valor"
	if !r.schema.hasColumn(table, value) {
		value = "valor_total"
	}
	return r.each(ctx, `SELECT id, `+r.fundColumn(table)+`, data, `+value+`, valor_cota, `+
		r.column(table, "despesas", "0")+`, `+r.column(table, "fonte", "'manual'")+
		` FROM `+table+` ORDER BY data`, func(rows *sql.Rows) error {
		var (
			id, legacyFund         int64
			date                   any
			total, price, expenses float64
			source                 string
		)
		if err := rows.Scan(&id, &legacyFund, &date, &total, &price, &expenses, &source); err != nil {
			return err
		}
		fundID, ok := r.fundFor(legacyFund)
		if !ok {
			r.skip(table, id, "unknown fund")
			return nil
		}
		day, err := parseTime(date, r.loc)
		if err != nil {
			r.skip(table, id, err.Error())
			return nil
		}
		quotaPrice := decimal.NewFromFloat(price)
		if quotaPrice.LessThan(domain.MinQuotaPrice) {
			r.skip(table, id, "quota price below floor")
			return nil
		}
		if err := r.tx.UpsertSnapshot(ctx, domain.AumSnapshot{
			FundID:     fundID,
			Date:       day,
			TotalAUM:   decimal.NewFromFloat(total),
			QuotaPrice: quotaPrice,
			Expenses:   decimal.NewFromFloat(expenses),
			Source:     snapshotSource(source),
		}); err != nil {
			return fmt.Errorf("snapshot %d: %w", id, err)
		}
		r.sum.Snapshots++
		return nil
	})
}

func (r *importRun) importExpenses(ctx context.Context) error {
	const table = "despesas"
	if !r.schema.has(table) {
		return nil
	}
	return r.each(ctx, `SELECT id, `+r.fundColumn(table)+`, data, `+r.column(table, "descricao", "''")+`, valor, `+
		r.column(table, "categoria", "'"+domain.DefaultExpenseCategory+"'")+
		` FROM `+table+` ORDER BY data, id`, func(rows *sql.Rows) error {
		var (
			id, legacyFund        int64
			date                  any
			description, category string
			amount                float64
		)
		if err := rows.Scan(&id, &legacyFund, &date, &description, &amount, &category); err != nil {
			return err
		}
		fundID, ok := r.fundFor(legacyFund)
		if !ok {
			r.skip(table, id, "unknown fund")
			return nil
		}
		day, err := parseTime(date, r.loc)
		if err != nil {
			r.skip(table, id, err.Error())
			return nil
		}
		value := decimal.NewFromFloat(amount)
		if !value.IsPositive() {
			r.skip(table, id, "non-positive amount")
			return nil
		}
		if strings.TrimSpace(category) == "" {
			category = domain.DefaultExpenseCategory
		}
		if _, err := r.tx.AddExpense(ctx, domain.Expense{
			FundID:      fundID,
			Date:        day,
			Description: strings.TrimSpace(description),
			Amount:      value,
			Category:    strings.TrimSpace(category),
		}); err != nil {
			return fmt.Errorf("expense %d: %w", id, err)
		}
		r.sum.Expenses++
		return nil
	})
}

// importAutomation carries last-run timestamps over as stored text; the scheduler
// treats unparseable values as due.
func (r *importRun) importAutomation(ctx context.Context) error {
	const table = "configuracoes_automacao"
	if !r.schema.has(table) {
		return nil
	}
	return r.each(ctx, `SELECT id, `+r.fundColumn(table)+`, `+
		r.column(table, "atualizacao_automatica_ativa", "1")+`, `+
		r.column(table, "ultima_atualizacao_automatica", "''")+`, `+
		r.column(table, "intervalo_horas", "24")+` FROM `+table+` ORDER BY id`, func(rows *sql.Rows) error {
		var (
			id, legacyFund int64
			enabled        bool
			lastRun        string
			interval       int
		)
		if err := rows.Scan(&id, &legacyFund, &enabled, &lastRun, &interval); err != nil {
			return err
		}
		fundID, ok := r.fundFor(legacyFund)
		if !ok {
			r.skip(table, id, "unknown fund")
			return nil
		}
		if interval <= 0 {
			interval = domain.DefaultIntervalHours
		}
		cfg := domain.AutomationConfig{FundID: fundID, Enabled: enabled, LastRun: lastRun, IntervalHours: interval}
		_, created, err := r.tx.EnsureAutomationConfig(ctx, cfg)
		if err != nil {
			return fmt.Errorf("automation config %d: %w", id, err)
		}
		if !created {
			r.skip(table, id, "duplicate config for fund")
			return nil
		}
		r.sum.AutomationConfigs++
		return nil
	})
}

func (r *importRun) importSources(ctx context.Context) error {
	const table = "configuracoes_octav"
	if !r.schema.has(table) {
		return nil
	}
	return r.each(ctx, `SELECT id, `+r.fundColumn(table)+`, api_token, wallet_address FROM `+table+` ORDER BY id`,
		func(rows *sql.Rows) error {
			var (
				id, legacyFund int64
				token, wallet  string
			)
			if err := rows.Scan(&id, &legacyFund, &token, &wallet); err != nil {
				return err
			}
			fundID, ok := r.fundFor(legacyFund)
			if !ok {
				r.skip(table, id, "unknown fund")
				return nil
			}
			if err := r.tx.SetValuationSource(ctx, domain.ValuationSource{
				FundID:        fundID,
				APIToken:      strings.TrimSpace(token),
				WalletAddress: strings.TrimSpace(wallet),
			}); err != nil {
				return fmt.Errorf("valuation source %d: %w", id, err)
			}
			r.sum.ValuationSources++
			return nil
		})
}

func (r *importRun) importLogs(ctx context.Context) error {
	const table = "logs_aum"
	if !r.schema.has(table) {
		return nil
	}
	return r.each(ctx, `SELECT id, `+r.fundColumn(table)+`, timestamp, tipo, `+r.column(table, "fonte", "''")+`, valor, status, `+
		r.column(table, "detalhes", "''")+`, `+r.column(table, "erro", "''")+
		` FROM `+table+` ORDER BY timestamp, id`, func(rows *sql.Rows) error {
		var (
			id, legacyFund       int64
			ts                   any
			kind, source, status string
			value                sql.NullFloat64
			detail, failure      string
		)
		if err := rows.Scan(&id, &legacyFund, &ts, &kind, &source, &value, &status, &detail, &failure); err != nil {
			return err
		}
		fundID, ok := r.fundFor(legacyFund)
		if !ok {
			r.skip(table, id, "unknown fund")
			return nil
		}
		at, err := parseTime(ts, r.loc)
		if err != nil {
			r.skip(table, id, err.Error())
			return nil
		}

		entry := domain.OperationLog{
			FundID:    fundID,
			Timestamp: at,
			Kind:      operationKind(kind),
			Source:    logSource(source),
			Status:    operationStatus(status),
			Detail:    strings.TrimSpace(detail),
		}
		if value.Valid {
			v := decimal.NewFromFloat(value.Float64)
			entry.Value = &v
		}
		if failure = strings.TrimSpace(failure); failure != "" {
			entry.Detail = strings.TrimSpace(entry.Detail + ": " + failure)
		}
		if _, err := r.tx.AppendLog(ctx, entry); err != nil {
			return fmt.Errorf("operation log %d: %w", id, err)
		}
		r.sum.Logs++
		return nil
	})
}

func positiveOr(d, fallback decimal.Decimal) decimal.Decimal {
	if d.IsPositive() {
		return d
	}
	return fallback
}
