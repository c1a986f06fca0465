package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"
)

func TestParseDateFlag(t *testing.T) {
	loc := time.FixedZone("BRT", -3*60*60)

	got, err := parseDateFlag("2024-05-02", loc)
	if err != nil {
		t.Fatalf("parseDateFlag() error = %v", err)
	}
	if !got.Equal(time.Date(2024, 5, 2, 0, 0, 0, 0, loc)) {
		t.Errorf("parseDateFlag() = %v", got)
	}

	if got, err := parseDateFlag("", loc); err != nil || !got.IsZero() {
		t.Errorf("parseDateFlag(empty) = %v, %v", got, err)
	}
	if _, err := parseDateFlag("02/05/2024", loc); err == nil {
		t.Error("expected error for non-ISO date")
	}
}

func TestAppCommands(t *testing.T) {
	app := newApp()
	for _, name := range []string{"serve", "refresh", "auto", "quote", "export", "import-legacy", "fund", "expense", "client"} {
		if app.Command(name) == nil {
			t.Errorf("command %q not registered", name)
		}
	}
}

func TestCommandRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	app := newApp()
	var out bytes.Buffer
	app.Writer = &out
	app.ErrWriter = &out

	err := app.RunContext(context.Background(), []string{"quota", "auto"})
	if err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Errorf("RunContext() error = %v, want DATABASE_URL error", err)
	}
}
