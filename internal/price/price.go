package price

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Price is an amount in a given currency.
type Price struct {
	Number       decimal.Decimal `json:"number"`
	CurrencyCode string          `json:"currency_code"`
}

// New parses number into a Price. It panics on malformed input and is meant for literals.
func New(number, currencyCode string) Price {
	return Price{Number: decimal.RequireFromString(number), CurrencyCode: currencyCode}
}

// Zero returns a zero amount in currencyCode.
func Zero(currencyCode string) Price {
	return Price{Number: decimal.Zero, CurrencyCode: currencyCode}
}

// Add sums two prices. Amounts in a different currency are rejected.
func (p Price) Add(o Price) (Price, error) {
	if p.CurrencyCode != "" && o.CurrencyCode != "" && !strings.EqualFold(p.CurrencyCode, o.CurrencyCode) {
		return p, fmt.Errorf("currency mismatch: %s vs %s", p.CurrencyCode, o.CurrencyCode)
	}
	code := p.CurrencyCode
	if code == "" {
		code = o.CurrencyCode
	}
	return Price{Number: p.Number.Add(o.Number), CurrencyCode: code}, nil
}

// String renders the amount the way commerce numbers are formatted in query strings.
func (p Price) String() string {
	return Format(p.Number)
}

// Format renders d without trailing zeros ("10.00" -> "10", "2.50" -> "2.5").
func Format(d decimal.Decimal) string {
	return d.String()
}

// UnmarshalJSON accepts numbers encoded either as JSON strings or JSON numbers.
func (p *Price) UnmarshalJSON(data []byte) error {
	var raw struct {
		Number       json.RawMessage `json:"number"`
		CurrencyCode string          `json:"currency_code"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.CurrencyCode = raw.CurrencyCode
	p.Number = decimal.Zero
	if len(raw.Number) == 0 || string(raw.Number) == "null" {
		return nil
	}
	num := strings.Trim(string(raw.Number), `"`)
	if num == "" {
		return nil
	}
	d, err := decimal.NewFromString(num)
	if err != nil {
		return fmt.Errorf("invalid price number %q: %w", num, err)
	}
	p.Number = d
	return nil
}
