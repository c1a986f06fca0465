package external

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PaesslerAG/jsonpath"
	"github.com/shopspring/decimal"
)

// Containers that may hold the networth figure, in the order they are tried.
var networthShapes = []string{"$", "$[0]", "$.data", "$.data[0]"}

// Field names the provider has used for the networth figure, in priority order.
var networthFields = []string{"networth", "total_value", "portfolio_value", "value", "balance"}

// DecodeDocument parses a response body into a generic JSON document, keeping numbers exact.
func DecodeDocument(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnrecognizedShape, err)
	}
	return doc, nil
}

// ExtractNetworth finds the networth in a valuation document. The first known field
// holding a positive number wins. It returns ErrUnrecognizedShape when no known field
// exists anywhere, and ErrInvalidValue when fields exist but none is a positive number.
func ExtractNetworth(doc any) (decimal.Decimal, error) {
	var seen []string
	for _, shape := range networthShapes {
		for _, field := range networthFields {
			path := shape + "." + field
			raw, ok := lookup(doc, path)
			if !ok {
				continue
			}
			seen = append(seen, path)
			if v, ok := positiveDecimal(raw); ok {
				return v, nil
			}
		}
	}
	if len(seen) == 0 {
		return decimal.Zero, ErrUnrecognizedShape
	}
	return decimal.Zero, fmt.Errorf("%w: no positive value at %s", ErrInvalidValue, strings.Join(seen, ", "))
}

func lookup(doc any, path string) (any, bool) {
	v, err := jsonpath.Get(path, doc)
	if err != nil {
		return nil, false
	}
	// jsonpath may wrap a single match in a list.
	if list, ok := v.([]any); ok && strings.Contains(path, "[") && len(list) == 1 {
		v = list[0]
	}
	return v, true
}

func positiveDecimal(raw any) (decimal.Decimal, bool) {
	var (
		d   decimal.Decimal
		err error
	)
	switch v := raw.(type) {
	case json.Number:
		d, err = decimal.NewFromString(v.String())
	case string:
		d, err = decimal.NewFromString(strings.TrimSpace(v))
	case float64:
		d = decimal.NewFromFloat(v)
	default:
		return decimal.Zero, false
	}
	if err != nil || !d.IsPositive() {
		return decimal.Zero, false
	}
	return d, true
}
