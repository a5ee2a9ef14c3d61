// Package schema defines the data structures stored and exchanged by the Celerix expenses service.
package schema

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
)

// Submission represents one reimbursement claim.
// It is stored as its own blob under RecordKey(ID).
type Submission struct {
	ID            string           `json:"id"`
	Timestamp     time.Time        `json:"timestamp"`
	Name          string           `json:"name"`
	Position      string           `json:"position,omitempty"`
	Email         string           `json:"email"`
	Phone         string           `json:"phone"`
	Date          string           `json:"date"`
	Officers      string           `json:"officers,omitempty"` // budget the claim is charged against
	Items         []ExpenseItem    `json:"items"`
	Signature     string           `json:"signature"` // typed name or a base64 image data URL
	SignatureDate string           `json:"signatureDate"`
	Total         *decimal.Decimal `json:"total,omitempty"`
	Reimbursed    bool             `json:"reimbursed"`
}

// ExpenseItem is a single line of a claim.
type ExpenseItem struct {
	Description string    `json:"description"`
	BudgetLine  string    `json:"budgetLine"`
	Amount      string    `json:"amount"`
	Notes       string    `json:"notes"`
	Receipts    []Receipt `json:"receipts"`
}

// Receipt points at an uploaded receipt image in the blob store.
// The JSON names match the records written by earlier versions of the service.
type Receipt struct {
	OriginalName string `json:"originalName"`
	ContentType  string `json:"type"`
	StorageURL   string `json:"url"`
	StoragePath  string `json:"pathname"`
}

// ComputedTotal returns the explicit total when one was provided, otherwise the
// sum of item amounts. Amounts that do not parse count as zero.
// Every listing, summary, report and notification goes through this function.
func (s *Submission) ComputedTotal() decimal.Decimal {
	if s.Total != nil {
		return *s.Total
	}
	sum := decimal.Zero
	for _, item := range s.Items {
		sum = sum.Add(ParseAmount(item.Amount))
	}
	return sum
}

var amountPrefix = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?`)

// ParseAmount reads the longest leading number in raw, ignoring leading
// whitespace and whatever follows, so "10.50 CAD" is 10.50 and "1,200" is 1.
// Input without a leading number is zero.
func ParseAmount(raw string) decimal.Decimal {
	m := amountPrefix.FindString(strings.TrimLeftFunc(raw, unicode.IsSpace))
	if m == "" {
		return decimal.Zero
	}
	m = strings.TrimPrefix(m, "+")
	mantissa, exp, _ := strings.Cut(strings.ToLower(m), "e")
	neg := strings.HasPrefix(mantissa, "-")
	mantissa = strings.TrimSuffix(strings.TrimPrefix(mantissa, "-"), ".")
	if strings.HasPrefix(mantissa, ".") {
		mantissa = "0" + mantissa
	}
	if neg {
		mantissa = "-" + mantissa
	}
	if exp != "" {
		mantissa += "e" + exp
	}
	d, err := decimal.NewFromString(mantissa)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// UnmarshalJSON accepts records as earlier versions wrote them: only a JSON
// number counts as an explicit total, anything else leaves Total nil.
func (s *Submission) UnmarshalJSON(data []byte) error {
	type plain Submission
	aux := struct {
		*plain
		Total json.RawMessage `json:"total"`
	}{plain: (*plain)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	s.Total = NumericTotal(aux.Total)
	return nil
}

// MarshalJSON writes the explicit total as a JSON number.
func (s Submission) MarshalJSON() ([]byte, error) {
	type plain Submission
	aux := struct {
		plain
		Total json.RawMessage `json:"total,omitempty"`
	}{plain: plain(s)}
	if s.Total != nil {
		aux.Total = json.RawMessage(s.Total.String())
	}
	return json.Marshal(aux)
}

// UnmarshalJSON accepts an amount given as a string or a bare number.
func (it *ExpenseItem) UnmarshalJSON(data []byte) error {
	type plain ExpenseItem
	aux := struct {
		*plain
		Amount json.RawMessage `json:"amount"`
	}{plain: (*plain)(it)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	it.Amount = AmountText(aux.Amount)
	return nil
}

// AmountText renders a raw JSON amount as text. Strings are unquoted, numbers
// keep their literal form and every other value is empty.
func AmountText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	switch c := raw[0]; {
	case c == '"':
		var text string
		if json.Unmarshal(raw, &text) == nil {
			return text
		}
	case c == '-' || (c >= '0' && c <= '9'):
		return string(raw)
	}
	return ""
}

// NumericTotal returns the explicit total carried by raw, or nil when raw is
// not a JSON number.
func NumericTotal(raw json.RawMessage) *decimal.Decimal {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || (raw[0] != '-' && (raw[0] < '0' || raw[0] > '9')) {
		return nil
	}
	d, err := decimal.NewFromString(string(raw))
	if err != nil {
		return nil
	}
	return &d
}

// HasReceipts reports whether any item carries at least one receipt.
func (s *Submission) HasReceipts() bool {
	for _, item := range s.Items {
		if len(item.Receipts) > 0 {
			return true
		}
	}
	return false
}

// Summary is the metadata projection of a Submission used by list views.
type Summary struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	Phone         string    `json:"phone"`
	Date          string    `json:"date"`
	Officers      string    `json:"officers,omitempty"`
	Total         string    `json:"total"`
	Timestamp     time.Time `json:"timestamp"`
	ItemCount     int       `json:"itemCount"`
	HasReceipts   bool      `json:"hasReceipts"`
	Signature     string    `json:"signature"`
	SignatureDate string    `json:"signatureDate"`
	Reimbursed    bool      `json:"reimbursed"`
}

// Summarize projects a submission onto its Summary.
func (s *Submission) Summarize() Summary {
	return Summary{
		ID:            s.ID,
		Name:          s.Name,
		Email:         s.Email,
		Phone:         s.Phone,
		Date:          s.Date,
		Officers:      s.Officers,
		Total:         s.ComputedTotal().StringFixed(2),
		Timestamp:     s.Timestamp,
		ItemCount:     len(s.Items),
		HasReceipts:   s.HasReceipts(),
		Signature:     s.Signature,
		SignatureDate: s.SignatureDate,
		Reimbursed:    s.Reimbursed,
	}
}
