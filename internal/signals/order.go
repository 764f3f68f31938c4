package signals

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Text is a scalar that decodes from a JSON string, number or bool. Anything
// else (objects, arrays, null) decodes to the empty string instead of failing
// the whole payload.
type Text string

func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		*t = ""
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			*t = ""
			return nil
		}
		*t = Text(s)
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		*t = Text(data)
	case 't', 'f':
		*t = Text(data)
	default:
		*t = ""
	}
	return nil
}

// String returns the trimmed value.
func (t Text) String() string {
	return strings.TrimSpace(string(t))
}

// Attribute is one free-form name/value pair attached to an order.
type Attribute struct {
	Name  Text `json:"name"`
	Value Text `json:"value"`
}

// Attributes decodes leniently: a non-array value yields no attributes.
type Attributes []Attribute

func (a *Attributes) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		*a = nil
		return nil
	}
	out := make(Attributes, 0, len(raw))
	for _, item := range raw {
		var attr Attribute
		if err := json.Unmarshal(item, &attr); err != nil {
			continue
		}
		out = append(out, attr)
	}
	*a = out
	return nil
}

// Customer is the nested customer record on an order.
type Customer struct {
	Email Text `json:"email"`
	Phone Text `json:"phone"`
}

func (c *Customer) UnmarshalJSON(data []byte) error {
	type alias Customer
	var decoded alias
	if err := json.Unmarshal(data, &decoded); err != nil {
		*c = Customer{}
		return nil
	}
	*c = Customer(decoded)
	return nil
}

// ClientDetails carries the browser metadata captured at checkout.
type ClientDetails struct {
	BrowserIP Text `json:"browser_ip"`
	UserAgent Text `json:"user_agent"`
}

func (c *ClientDetails) UnmarshalJSON(data []byte) error {
	type alias ClientDetails
	var decoded alias
	if err := json.Unmarshal(data, &decoded); err != nil {
		*c = ClientDetails{}
		return nil
	}
	*c = ClientDetails(decoded)
	return nil
}

// Order is the subset of a commerce order record the engine reads.
type Order struct {
	ID             Text           `json:"id"`
	Name           Text           `json:"name"`
	Email          Text           `json:"email"`
	ContactEmail   Text           `json:"contact_email"`
	Phone          Text           `json:"phone"`
	Customer       *Customer      `json:"customer"`
	ClientDetails  *ClientDetails `json:"client_details"`
	BrowserIP      Text           `json:"browser_ip"`
	LandingSite    Text           `json:"landing_site"`
	OrderStatusURL Text           `json:"order_status_url"`
	LandingSiteRef Text           `json:"landing_site_ref"`
	ReferringSite  Text           `json:"referring_site"`
	NoteAttributes Attributes     `json:"note_attributes"`
	TotalPrice     Text           `json:"total_price"`
	Currency       Text           `json:"currency"`
	CreatedAt      Text           `json:"created_at"`
	ProcessedAt    Text           `json:"processed_at"`
}

// ParseOrder decodes an order body. Only syntactically invalid JSON fails.
func ParseOrder(body []byte) (Order, error) {
	var order Order
	if err := json.Unmarshal(body, &order); err != nil {
		return Order{}, err
	}
	return order, nil
}

// URLs returns the URL-bearing fields in lookup priority order.
func (o Order) URLs() []string {
	return []string{
		o.LandingSite.String(),
		o.OrderStatusURL.String(),
		o.LandingSiteRef.String(),
		o.ReferringSite.String(),
	}
}

// CustomerEmail returns the nested customer email or "".
func (o Order) CustomerEmail() string {
	if o.Customer == nil {
		return ""
	}
	return o.Customer.Email.String()
}

// CustomerPhone returns the nested customer phone or "".
func (o Order) CustomerPhone() string {
	if o.Customer == nil {
		return ""
	}
	return o.Customer.Phone.String()
}

// UserAgent returns the checkout user agent or "".
func (o Order) UserAgent() string {
	if o.ClientDetails == nil {
		return ""
	}
	return o.ClientDetails.UserAgent.String()
}

// IP returns the checkout browser IP or "".
func (o Order) IP() string {
	if ip := o.BrowserIP.String(); ip != "" {
		return ip
	}
	if o.ClientDetails == nil {
		return ""
	}
	return o.ClientDetails.BrowserIP.String()
}

// Value parses total_price, returning zero when absent or malformed.
func (o Order) Value() decimal.Decimal {
	return parseAmount(o.TotalPrice.String())
}

// OccurredAt returns processed_at, else created_at, else fallback.
func (o Order) OccurredAt(fallback time.Time) time.Time {
	return firstTime(fallback, o.ProcessedAt.String(), o.CreatedAt.String())
}

// Input maps the order onto the generic extractor input.
func (o Order) Input() Input {
	return Input{
		URLs:       o.URLs(),
		Attributes: o.NoteAttributes,
		Emails:     []string{o.Email.String(), o.ContactEmail.String(), o.CustomerEmail()},
		Phones:     []string{o.Phone.String(), o.CustomerPhone()},
		IP:         o.IP(),
		UserAgent:  o.UserAgent(),
	}
}

// Transaction is one money movement on a refund.
type Transaction struct {
	Kind     Text `json:"kind"`
	Status   Text `json:"status"`
	Amount   Text `json:"amount"`
	Currency Text `json:"currency"`
}

// Transactions decodes leniently like Attributes.
type Transactions []Transaction

func (t *Transactions) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		*t = nil
		return nil
	}
	out := make(Transactions, 0, len(raw))
	for _, item := range raw {
		var tx Transaction
		if err := json.Unmarshal(item, &tx); err != nil {
			continue
		}
		out = append(out, tx)
	}
	*t = out
	return nil
}

// Refund is the subset of a refund record the engine reads.
type Refund struct {
	ID           Text         `json:"id"`
	OrderID      Text         `json:"order_id"`
	CreatedAt    Text         `json:"created_at"`
	ProcessedAt  Text         `json:"processed_at"`
	Transactions Transactions `json:"transactions"`
}

// ParseRefund decodes a refund body. Only syntactically invalid JSON fails.
func ParseRefund(body []byte) (Refund, error) {
	var refund Refund
	if err := json.Unmarshal(body, &refund); err != nil {
		return Refund{}, err
	}
	return refund, nil
}

// Amount sums successful refund transactions and reports their currency.
func (r Refund) Amount() (decimal.Decimal, string) {
	total := decimal.Zero
	currency := ""
	for _, tx := range r.Transactions {
		kind := strings.ToLower(tx.Kind.String())
		if kind != "" && kind != "refund" {
			continue
		}
		status := strings.ToLower(tx.Status.String())
		if status != "" && status != "success" {
			continue
		}
		total = total.Add(parseAmount(tx.Amount.String()))
		if currency == "" {
			currency = strings.ToUpper(tx.Currency.String())
		}
	}
	return total, currency
}

// OccurredAt returns processed_at, else created_at, else fallback.
func (r Refund) OccurredAt(fallback time.Time) time.Time {
	return firstTime(fallback, r.ProcessedAt.String(), r.CreatedAt.String())
}

func parseAmount(raw string) decimal.Decimal {
	if raw == "" {
		return decimal.Zero
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return value
}

func firstTime(fallback time.Time, candidates ...string) time.Time {
	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}
		if parsed, err := time.Parse(time.RFC3339, candidate); err == nil {
			return parsed.UTC()
		}
		if seconds, err := strconv.ParseInt(candidate, 10, 64); err == nil {
			return time.Unix(seconds, 0).UTC()
		}
	}
	return fallback.UTC()
}
