package external

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestExtractNetworth(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		wantErr error
	}{
		{"top-level networth", `{"networth": 1500.25}`, "1500.25", nil},
		{"string value", `{"networth": "98765.4321"}`, "98765.4321", nil},
		{"synonym total_value", `{"total_value": 42}`, "42", nil},
		{"priority networth over value", `{"value": 1, "networth": 2}`, "2", nil},
		{"first element of list", `[{"portfolio_value": 300}, {"networth": 999}]`, "300", nil},
		{"data object", `{"data": {"balance": "77.7"}}`, "77.7", nil},
		{"data list", `{"data": [{"networth": 12.5}]}`, "12.5", nil},
		{"top-level wins over data", `{"networth": 10, "data": {"networth": 20}}`, "10", nil},
		{"falls through invalid to later shape", `{"networth": "n/a", "data": {"networth": 5}}`, "5", nil},
		{"falls through zero to next field", `{"networth": 0, "value": 8}`, "8", nil},
		{"keeps precision", `{"networth": 123456789.123456789}`, "123456789.123456789", nil},
		{"zero only", `{"networth": 0}`, "", ErrInvalidValue},
		{"negative only", `{"value": -5}`, "", ErrInvalidValue},
		{"null value", `{"networth": null}`, "", ErrInvalidValue},
		{"no known field", `{"foo": 1}`, "", ErrUnrecognizedShape},
		{"empty list", `[]`, "", ErrUnrecognizedShape},
		{"scalar document", `42`, "", ErrUnrecognizedShape},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := DecodeDocument([]byte(tt.body))
			if err != nil {
				t.Fatalf("DecodeDocument() error = %v", err)
			}
			got, err := ExtractNetworth(doc)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("ExtractNetworth() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ExtractNetworth() error = %v", err)
			}
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("ExtractNetworth() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDecodeDocumentRejectsNonJSON(t *testing.T) {
	if _, err := DecodeDocument([]byte("<html>oops</html>")); !errors.Is(err, ErrUnrecognizedShape) {
		t.Errorf("DecodeDocument() error = %v, want ErrUnrecognizedShape", err)
	}
}
