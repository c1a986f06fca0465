package ledger

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/mtlprog/quota/internal/domain"
)

type snapshotKey struct {
	fundID int64
	date   time.Time
}

type memState struct {
	funds      map[int64]domain.Fund
	clients    map[int64]domain.Client
	movements  []domain.Movement
	snapshots  map[snapshotKey]domain.AumSnapshot
	expenses   []domain.Expense
	automation map[int64]domain.AutomationConfig
	sources    map[int64]domain.ValuationSource
	logs       []domain.OperationLog
	seq        map[string]int64
}

func newMemState() *memState {
	return &memState{
		funds:      make(map[int64]domain.Fund),
		clients:    make(map[int64]domain.Client),
		snapshots:  make(map[snapshotKey]domain.AumSnapshot),
		automation: make(map[int64]domain.AutomationConfig),
		sources:    make(map[int64]domain.ValuationSource),
		seq:        make(map[string]int64),
	}
}

func (st *memState) clone() *memState {
	return &memState{
		funds:      maps.Clone(st.funds),
		clients:    maps.Clone(st.clients),
		movements:  slices.Clone(st.movements),
		snapshots:  maps.Clone(st.snapshots),
		expenses:   slices.Clone(st.expenses),
		automation: maps.Clone(st.automation),
		sources:    maps.Clone(st.sources),
		logs:       slices.Clone(st.logs),
		seq:        maps.Clone(st.seq),
	}
}

func (st *memState) next(table string) int64 {
	st.seq[table]++
	return st.seq[table]
}

// MemoryStore implements Store in process memory. Transactions work on a private copy
// of the state that replaces the shared state only when fn succeeds.
type MemoryStore struct {
	mu    *sync.RWMutex
	txMu  *sync.Mutex
	state *memState
	inTx  bool
	now   func() time.Time
}

// NewMemoryStore creates an empty in-memory ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		mu:    &sync.RWMutex{},
		txMu:  &sync.Mutex{},
		state: newMemState(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	if m.inTx {
		return fn(m)
	}
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.RLock()
	staged := m.state.clone()
	m.mu.RUnlock()

	tx := &MemoryStore{mu: &sync.RWMutex{}, txMu: &sync.Mutex{}, state: staged, inTx: true, now: m.now}
	if err := fn(tx); err != nil {
		return err
	}

	m.mu.Lock()
	m.state = staged
	m.mu.Unlock()
	return nil
}

// write runs fn under the write lock. Outside a transaction it also waits for any
// running transaction so that its commit cannot drop the write.
func (m *MemoryStore) write(fn func(st *memState) error) error {
	if !m.inTx {
		m.txMu.Lock()
		defer m.txMu.Unlock()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m.state)
}

func (m *MemoryStore) read(fn func(st *memState)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fn(m.state)
}

func violation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConstraintViolation, fmt.Sprintf(format, args...))
}

func notFound(what string, id any) error {
	return fmt.Errorf("%s %v: %w", what, id, ErrNotFound)
}

func (m *MemoryStore) CreateFund(_ context.Context, f domain.Fund) (domain.Fund, error) {
	if !f.InitialQuotaPrice.IsPositive() {
		return domain.Fund{}, violation("initial quota price must be positive")
	}
	err := m.write(func(st *memState) error {
		f.ID = st.next("funds")
		f.InceptionDate = domain.DateOf(f.InceptionDate)
		f.CreatedAt = m.now()
		st.funds[f.ID] = f
		return nil
	})
	return f, err
}

func (m *MemoryStore) GetFund(_ context.Context, id int64) (domain.Fund, error) {
	var (
		f  domain.Fund
		ok bool
	)
	m.read(func(st *memState) { f, ok = st.funds[id] })
	if !ok {
		return domain.Fund{}, notFound("fund", id)
	}
	return f, nil
}

func (m *MemoryStore) ListFunds(_ context.Context, activeOnly bool) ([]domain.Fund, error) {
	var funds []domain.Fund
	m.read(func(st *memState) {
		for _, f := range st.funds {
			if f.Active || !activeOnly {
				funds = append(funds, f)
			}
		}
	})
	sort.Slice(funds, func(i, j int) bool { return funds[i].ID < funds[j].ID })
	return funds, nil
}

func (m *MemoryStore) UpdateFund(_ context.Context, f domain.Fund) error {
	return m.write(func(st *memState) error {
		existing, ok := st.funds[f.ID]
		if !ok {
			return notFound("fund", f.ID)
		}
		existing.Name = f.Name
		existing.Description = f.Description
		existing.InceptionDate = domain.DateOf(f.InceptionDate)
		existing.InitialQuotaPrice = f.InitialQuotaPrice
		st.funds[f.ID] = existing
		return nil
	})
}

func (m *MemoryStore) SetFundActive(_ context.Context, id int64, active bool) error {
	return m.write(func(st *memState) error {
		f, ok := st.funds[id]
		if !ok {
			return notFound("fund", id)
		}
		f.Active = active
		st.funds[id] = f
		return nil
	})
}

func (m *MemoryStore) CreateClient(_ context.Context, c domain.Client) (domain.Client, error) {
	err := m.write(func(st *memState) error {
		for _, existing := range st.clients {
			if strings.EqualFold(existing.Email, c.Email) {
				return violation("email %s already registered", c.Email)
			}
		}
		c.ID = st.next("clients")
		c.CreatedAt = m.now()
		st.clients[c.ID] = c
		return nil
	})
	if err != nil {
		return domain.Client{}, err
	}
	return c, nil
}

func (m *MemoryStore) GetClient(_ context.Context, id int64) (domain.Client, error) {
	var (
		c  domain.Client
		ok bool
	)
	m.read(func(st *memState) { c, ok = st.clients[id] })
	if !ok {
		return domain.Client{}, notFound("client", id)
	}
	return c, nil
}

func (m *MemoryStore) GetClientByEmail(_ context.Context, email string) (domain.Client, error) {
	var (
		c  domain.Client
		ok bool
	)
	m.read(func(st *memState) {
		c, ok = lo.Find(lo.Values(st.clients), func(c domain.Client) bool {
			return strings.EqualFold(c.Email, email)
		})
	})
	if !ok {
		return domain.Client{}, notFound("client", email)
	}
	return c, nil
}

func (m *MemoryStore) ListClients(_ context.Context, activeOnly bool) ([]domain.Client, error) {
	var clients []domain.Client
	m.read(func(st *memState) {
		for _, c := range st.clients {
			if c.Active || !activeOnly {
				clients = append(clients, c)
			}
		}
	})
	sort.Slice(clients, func(i, j int) bool { return clients[i].ID < clients[j].ID })
	return clients, nil
}

func (m *MemoryStore) InsertMovement(_ context.Context, mv domain.Movement) (domain.Movement, error) {
	if !mv.Direction.Valid() {
		return domain.Movement{}, violation("unknown direction %q", mv.Direction)
	}
	if !mv.CashAmount.IsPositive() || !mv.QuotaPrice.IsPositive() {
		return domain.Movement{}, violation("cash amount and quota price must be positive")
	}
	err := m.write(func(st *memState) error {
		if _, ok := st.funds[mv.FundID]; !ok {
			return violation("fund %d does not exist", mv.FundID)
		}
		if _, ok := st.clients[mv.ClientID]; !ok {
			return violation("client %d does not exist", mv.ClientID)
		}
		if mv.ReversesID != nil {
			target := *mv.ReversesID
			if !lo.ContainsBy(st.movements, func(o domain.Movement) bool { return o.ID == target }) {
				return violation("movement %d does not exist", target)
			}
			if lo.ContainsBy(st.movements, func(o domain.Movement) bool {
				return o.ReversesID != nil && *o.ReversesID == target
			}) {
				return violation("movement %d already reversed", target)
			}
		}
		mv.ID = st.next("movements")
		mv.EffectiveDate = domain.DateOf(mv.EffectiveDate)
		mv.CreatedAt = m.now()
		st.movements = append(st.movements, mv)
		return nil
	})
	if err != nil {
		return domain.Movement{}, err
	}
	return mv, nil
}

func (m *MemoryStore) GetMovement(_ context.Context, id int64) (domain.Movement, error) {
	var (
		mv domain.Movement
		ok bool
	)
	m.read(func(st *memState) {
		mv, ok = lo.Find(st.movements, func(o domain.Movement) bool { return o.ID == id })
	})
	if !ok {
		return domain.Movement{}, notFound("movement", id)
	}
	return mv, nil
}

func matchMovement(filter MovementFilter) func(domain.Movement, int) bool {
	return func(mv domain.Movement, _ int) bool {
		return (filter.FundID == 0 || mv.FundID == filter.FundID) &&
			(filter.ClientID == 0 || mv.ClientID == filter.ClientID)
	}
}

func (m *MemoryStore) ListMovements(_ context.Context, filter MovementFilter) ([]domain.Movement, error) {
	var out []domain.Movement
	m.read(func(st *memState) { out = lo.Filter(st.movements, matchMovement(filter)) })
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].EffectiveDate.Equal(out[j].EffectiveDate) {
			return out[i].EffectiveDate.Before(out[j].EffectiveDate)
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryStore) SumQuotas(_ context.Context, filter MovementFilter) (decimal.Decimal, error) {
	var total decimal.Decimal
	m.read(func(st *memState) {
		total = lo.Reduce(lo.Filter(st.movements, matchMovement(filter)), func(acc decimal.Decimal, mv domain.Movement, _ int) decimal.Decimal {
			return acc.Add(mv.QuotaAmount)
		}, decimal.Zero)
	})
	return total, nil
}

func (m *MemoryStore) UpsertSnapshot(_ context.Context, s domain.AumSnapshot) error {
	if s.QuotaPrice.LessThan(domain.MinQuotaPrice) {
		return violation("quota price %s below floor", s.QuotaPrice)
	}
	return m.write(func(st *memState) error {
		if _, ok := st.funds[s.FundID]; !ok {
			return violation("fund %d does not exist", s.FundID)
		}
		s.Date = domain.DateOf(s.Date)
		s.UpdatedAt = m.now()
		st.snapshots[snapshotKey{s.FundID, s.Date}] = s
		return nil
	})
}

func (m *MemoryStore) fundSnapshots(fundID int64) []domain.AumSnapshot {
	var out []domain.AumSnapshot
	m.read(func(st *memState) {
		for k, s := range st.snapshots {
			if k.fundID == fundID {
				out = append(out, s)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out
}

func (m *MemoryStore) LatestSnapshot(_ context.Context, fundID int64) (domain.AumSnapshot, error) {
	snaps := m.fundSnapshots(fundID)
	if len(snaps) == 0 {
		return domain.AumSnapshot{}, notFound("snapshot for fund", fundID)
	}
	return snaps[0], nil
}

func (m *MemoryStore) SnapshotByDate(_ context.Context, fundID int64, date time.Time) (domain.AumSnapshot, error) {
	var (
		s  domain.AumSnapshot
		ok bool
	)
	m.read(func(st *memState) { s, ok = st.snapshots[snapshotKey{fundID, domain.DateOf(date)}] })
	if !ok {
		return domain.AumSnapshot{}, notFound("snapshot for date", date.Format(domain.DateLayout))
	}
	return s, nil
}

func (m *MemoryStore) ListSnapshots(_ context.Context, fundID int64, since time.Time, limit int) ([]domain.AumSnapshot, error) {
	snaps := m.fundSnapshots(fundID)
	if !since.IsZero() {
		from := domain.DateOf(since)
		snaps = lo.Filter(snaps, func(s domain.AumSnapshot, _ int) bool { return !s.Date.Before(from) })
	}
	if limit > 0 && len(snaps) > limit {
		snaps = snaps[:limit]
	}
	return snaps, nil
}

func (m *MemoryStore) AddExpense(_ context.Context, e domain.Expense) (domain.Expense, error) {
	if !e.Amount.IsPositive() {
		return domain.Expense{}, violation("expense amount must be positive")
	}
	err := m.write(func(st *memState) error {
		if _, ok := st.funds[e.FundID]; !ok {
			return violation("fund %d does not exist", e.FundID)
		}
		e.ID = st.next("expenses")
		e.Date = domain.DateOf(e.Date)
		st.expenses = append(st.expenses, e)
		return nil
	})
	if err != nil {
		return domain.Expense{}, err
	}
	return e, nil
}

func (m *MemoryStore) SumExpenses(_ context.Context, fundID int64, upTo time.Time) (decimal.Decimal, error) {
	limit := domain.DateOf(upTo)
	var total decimal.Decimal
	m.read(func(st *memState) {
		for _, e := range st.expenses {
			if e.FundID == fundID && !e.Date.After(limit) {
				total = total.Add(e.Amount)
			}
		}
	})
	return total, nil
}

func (m *MemoryStore) ListExpenses(_ context.Context, fundID int64, limit int) ([]domain.Expense, error) {
	var out []domain.Expense
	m.read(func(st *memState) {
		out = lo.Filter(st.expenses, func(e domain.Expense, _ int) bool { return e.FundID == fundID })
	})
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ExpensesByCategory(ctx context.Context, fundID int64) ([]domain.CategoryTotal, error) {
	expenses, _ := m.ListExpenses(ctx, fundID, 0)
	grouped := lo.GroupBy(expenses, func(e domain.Expense) string { return e.Category })
	totals := lo.MapToSlice(grouped, func(category string, items []domain.Expense) domain.CategoryTotal {
		return domain.CategoryTotal{
			Category: category,
			Total: lo.Reduce(items, func(acc decimal.Decimal, e domain.Expense, _ int) decimal.Decimal {
				return acc.Add(e.Amount)
			}, decimal.Zero),
		}
	})
	sort.Slice(totals, func(i, j int) bool {
		if !totals[i].Total.Equal(totals[j].Total) {
			return totals[i].Total.GreaterThan(totals[j].Total)
		}
		return totals[i].Category < totals[j].Category
	})
	return totals, nil
}

func (m *MemoryStore) GetAutomationConfig(_ context.Context, fundID int64) (domain.AutomationConfig, error) {
	var (
		cfg domain.AutomationConfig
		ok  bool
	)
	m.read(func(st *memState) { cfg, ok = st.automation[fundID] })
	if !ok {
		return domain.AutomationConfig{}, notFound("automation config for fund", fundID)
	}
	return cfg, nil
}

func (m *MemoryStore) EnsureAutomationConfig(_ context.Context, cfg domain.AutomationConfig) (domain.AutomationConfig, bool, error) {
	var created bool
	err := m.write(func(st *memState) error {
		if existing, ok := st.automation[cfg.FundID]; ok {
			cfg = existing
			return nil
		}
		if _, ok := st.funds[cfg.FundID]; !ok {
			return violation("fund %d does not exist", cfg.FundID)
		}
		if cfg.IntervalHours <= 0 {
			return violation("interval must be positive")
		}
		st.automation[cfg.FundID] = cfg
		created = true
		return nil
	})
	if err != nil {
		return domain.AutomationConfig{}, false, err
	}
	return cfg, created, nil
}

func (m *MemoryStore) updateAutomation(fundID int64, fn func(*domain.AutomationConfig)) error {
	return m.write(func(st *memState) error {
		cfg, ok := st.automation[fundID]
		if !ok {
			return notFound("automation config for fund", fundID)
		}
		fn(&cfg)
		st.automation[fundID] = cfg
		return nil
	})
}

func (m *MemoryStore) SetAutomationEnabled(_ context.Context, fundID int64, enabled bool) error {
	return m.updateAutomation(fundID, func(c *domain.AutomationConfig) { c.Enabled = enabled })
}

func (m *MemoryStore) SetAutomationInterval(_ context.Context, fundID int64, hours int) error {
	if hours <= 0 {
		return violation("interval must be positive")
	}
	return m.updateAutomation(fundID, func(c *domain.AutomationConfig) { c.IntervalHours = hours })
}

func (m *MemoryStore) MarkAutomaticRun(_ context.Context, fundID int64, at time.Time) error {
	return m.updateAutomation(fundID, func(c *domain.AutomationConfig) { c.LastRun = at.Format(RFC3339Micro) })
}

// PutAutomationConfig stores cfg verbatim, including malformed LastRun values.
// Importers use it to carry legacy rows over unchanged.
func (m *MemoryStore) PutAutomationConfig(cfg domain.AutomationConfig) {
	_ = m.write(func(st *memState) error {
		st.automation[cfg.FundID] = cfg
		return nil
	})
}

func (m *MemoryStore) GetValuationSource(_ context.Context, fundID int64) (domain.ValuationSource, error) {
	var (
		v  domain.ValuationSource
		ok bool
	)
	m.read(func(st *memState) { v, ok = st.sources[fundID] })
	if !ok {
		return domain.ValuationSource{}, notFound("valuation source for fund", fundID)
	}
	return v, nil
}

func (m *MemoryStore) SetValuationSource(_ context.Context, src domain.ValuationSource) error {
	return m.write(func(st *memState) error {
		if _, ok := st.funds[src.FundID]; !ok {
			return violation("fund %d does not exist", src.FundID)
		}
		st.sources[src.FundID] = src
		return nil
	})
}

func (m *MemoryStore) AppendLog(_ context.Context, l domain.OperationLog) (domain.OperationLog, error) {
	err := m.write(func(st *memState) error {
		if _, ok := st.funds[l.FundID]; !ok {
			return violation("fund %d does not exist", l.FundID)
		}
		l.ID = st.next("logs")
		if l.Timestamp.IsZero() {
			l.Timestamp = m.now()
		}
		st.logs = append(st.logs, l)
		return nil
	})
	if err != nil {
		return domain.OperationLog{}, err
	}
	return l, nil
}

func (m *MemoryStore) ListLogs(_ context.Context, fundID int64, limit int) ([]domain.OperationLog, error) {
	if limit <= 0 {
		limit = defaultLogLimit
	}
	var out []domain.OperationLog
	m.read(func(st *memState) {
		out = lo.Filter(st.logs, func(l domain.OperationLog, _ int) bool { return l.FundID == fundID })
	})
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) LatestLog(ctx context.Context, fundID int64) (domain.OperationLog, error) {
	logs, _ := m.ListLogs(ctx, fundID, 1)
	if len(logs) == 0 {
		return domain.OperationLog{}, notFound("operation log for fund", fundID)
	}
	return logs[0], nil
}
