package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestSafeParse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"valid integer", "100", "100"},
		{"valid decimal", "3.14", "3.14"},
		{"zero", "0", "0"},
		{"negative", "-5.5", "-5.5"},
		{"empty string", "", "0"},
		{"invalid string", "abc", "0"},
		{"whitespace", "  ", "0"},
		{"padded", " 12.5 ", "12.5"},
		{"small fraction", "0.0000001", "0.0000001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SafeParse(tt.input)
			want, _ := decimal.NewFromString(tt.want)
			if !got.Equal(want) {
				t.Errorf("SafeParse(%q) = %s, want %s", tt.input, got, want)
			}
		})
	}
}

func TestDivide(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want string
	}{
		{"exact", "600", "500", "1.2"},
		{"repeating", "1", "3", "0.333333333333"},
		{"division by zero", "10", "0", "0"},
		{"zero numerator", "0", "5", "0"},
		{"negative", "-10", "4", "-2.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Divide(decimal.RequireFromString(tt.a), decimal.RequireFromString(tt.b))
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("Divide(%s, %s) = %s, want %s", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestWithinTolerance(t *testing.T) {
	a := decimal.RequireFromString("999.999999999999")
	if !WithinTolerance(a, decimal.NewFromInt(1000)) {
		t.Error("expected values 1e-12 apart to be within tolerance")
	}
	if WithinTolerance(decimal.RequireFromString("999.99"), decimal.NewFromInt(1000)) {
		t.Error("expected values 0.01 apart to be outside tolerance")
	}
}

func TestFormatUSD(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"600", "$600.00"},
		{"1234567.891", "$1,234,567.89"},
		{"0.005", "$0.01"},
	}
	for _, tt := range tests {
		if got := FormatUSD(decimal.RequireFromString(tt.in)); got != tt.want {
			t.Errorf("FormatUSD(%s) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestToday(t *testing.T) {
	loc := time.FixedZone("BRT", -3*3600)
	// 01:30 UTC on the 2nd is still the 1st in UTC-3.
	now := time.Date(2025, 3, 2, 1, 30, 0, 0, time.UTC)

	if got := Today(now, loc); !got.Equal(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Today(UTC-3) = %v, want 2025-03-01", got)
	}
	if got := Today(now, nil); !got.Equal(time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Today(nil) = %v, want 2025-03-02", got)
	}
}

func TestParseDirection(t *testing.T) {
	tests := []struct {
		in      string
		want    Direction
		wantErr bool
	}{
		{"IN", DirectionIn, false},
		{"out", DirectionOut, false},
		{"ENTRADA", DirectionIn, false},
		{"SAÍDA", DirectionOut, false},
		{"SAIDA", DirectionOut, false},
		{"sideways", "", true},
	}
	for _, tt := range tests {
		got, err := ParseDirection(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseDirection(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseDirection(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
