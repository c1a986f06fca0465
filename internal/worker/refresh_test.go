package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mtlprog/quota/internal/automation"
)

type mockRunner struct {
	callCount atomic.Int32
	results   []automation.RunResult
	err       error
}

func (m *mockRunner) RunDue(_ context.Context) ([]automation.RunResult, error) {
	m.callCount.Add(1)
	return m.results, m.err
}

type mockHook struct {
	mu    sync.Mutex
	funds []int64
	err   error
}

func (m *mockHook) Export(_ context.Context, fundID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.funds = append(m.funds, fundID)
	return m.err
}

func TestRefreshWorkerRunsAndShutdown(t *testing.T) {
	mock := &mockRunner{}
	w := NewRefreshWorker(mock, 50*time.Millisecond, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	w.Run(ctx)

	if got := mock.callCount.Load(); got < 2 {
		t.Errorf("call count = %d, want initial pass plus ticks", got)
	}
}

func TestRefreshWorkerHookOnlyForRefreshedFunds(t *testing.T) {
	mock := &mockRunner{results: []automation.RunResult{
		{FundID: 1, Refreshed: true},
		{FundID: 2, Err: errors.New("provider down")},
		{FundID: 3},
		{FundID: 4, Refreshed: true},
	}}
	hook := &mockHook{err: errors.New("sheets quota exceeded")}
	w := NewRefreshWorker(mock, time.Hour, hook)

	w.pass(context.Background())

	if len(hook.funds) != 2 || hook.funds[0] != 1 || hook.funds[1] != 4 {
		t.Errorf("hook called for %v, want [1 4]", hook.funds)
	}
}

func TestRefreshWorkerPassError(t *testing.T) {
	mock := &mockRunner{err: errors.New("db down")}
	hook := &mockHook{}
	w := NewRefreshWorker(mock, time.Hour, hook)

	w.pass(context.Background())

	if len(hook.funds) != 0 {
		t.Errorf("hook called after failed pass")
	}
}
