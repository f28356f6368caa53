package invoicing

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/clinic-ledger/internal/shared"
)

// Status of an invoice.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusPending   Status = "PENDING"
	StatusPaid      Status = "PAID"
	StatusPartial   Status = "PARTIAL"
	StatusCancelled Status = "CANCELLED"
)

// PaymentMethod is how money moved between clinic and patient.
type PaymentMethod string

const (
	MethodCash       PaymentMethod = "CASH"
	MethodUPI        PaymentMethod = "UPI"
	MethodBank       PaymentMethod = "BANK"
	MethodCheque     PaymentMethod = "CHEQUE"
	MethodCreditCard PaymentMethod = "CREDIT_CARD"
	MethodAmazonPay  PaymentMethod = "AMAZON_PAY"
	MethodOther      PaymentMethod = "OTHER"
)

// Valid reports whether m is a known method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCash, MethodUPI, MethodBank, MethodCheque, MethodCreditCard, MethodAmazonPay, MethodOther:
		return true
	}
	return false
}

// Invoice header. TotalAmount is cached on every save.
type Invoice struct {
	ID            int64           `json:"id"`
	Number        string          `json:"invoice_number"`
	PatientID     int64           `json:"patient_id"`
	DoctorID      int64           `json:"doctor_id,omitempty"`
	AppointmentID int64           `json:"appointment_id,omitempty"`
	InvoiceDate   time.Time       `json:"invoice_date"`
	DueDate       *time.Time      `json:"due_date,omitempty"`
	Status        Status          `json:"status"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Discount      decimal.Decimal `json:"discount"`
	Notes         string          `json:"notes"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Item is one billed line: a service, a batch of stock or free text.
type Item struct {
	ID          int64           `json:"id"`
	InvoiceID   int64           `json:"invoice_id"`
	ServiceID   int64           `json:"service_id,omitempty"`
	StockItemID int64           `json:"stock_item_id,omitempty"`
	Description string          `json:"description"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Discount    decimal.Decimal `json:"discount"`
	ServiceName string          `json:"service_name,omitempty"`
	VariantName string          `json:"variant_name,omitempty"`
}

// DisplayDescription falls back from the typed description to the service or variant name.
func (i Item) DisplayDescription() string {
	for _, candidate := range []string{i.Description, i.ServiceName, i.VariantName} {
		if strings.TrimSpace(candidate) != "" {
			return candidate
		}
	}
	return "N/A"
}

// LineTotal is round2(quantity × unit price).
func (i Item) LineTotal() decimal.Decimal {
	return shared.LineTotal(i.Quantity, i.UnitPrice)
}

// NetPrice is quantity × (unit price − discount).
func (i Item) NetPrice() decimal.Decimal {
	return shared.LineTotal(i.Quantity, i.UnitPrice.Sub(i.Discount))
}

// ItemView is a line with its display figures.
type ItemView struct {
	Item
	DisplayDescription string          `json:"display_description"`
	NetPrice           decimal.Decimal `json:"net_price"`
}

// Payment received from the patient.
type Payment struct {
	ID          int64           `json:"id"`
	InvoiceID   int64           `json:"invoice_id"`
	Amount      decimal.Decimal `json:"amount"`
	Method      PaymentMethod   `json:"payment_method"`
	PaymentDate time.Time       `json:"payment_date"`
	Reference   string          `json:"reference"`
	Notes       string          `json:"notes"`
}

// Refund paid back to the patient.
type Refund struct {
	ID         int64           `json:"id"`
	InvoiceID  int64           `json:"invoice_id"`
	Amount     decimal.Decimal `json:"amount"`
	Method     PaymentMethod   `json:"refund_method"`
	RefundDate time.Time       `json:"refund_date"`
	Reason     string          `json:"reason"`
}

// ServiceTerms is the billing view of a catalog service.
type ServiceTerms struct {
	ID       int64
	Name     string
	Price    decimal.Decimal
	IsActive bool
}

// Totals is the money position of an invoice.
type Totals struct {
	TotalAmount   decimal.Decimal `json:"total_amount"`
	TotalDiscount decimal.Decimal `json:"total_discount"`
	NetAmount     decimal.Decimal `json:"net_amount"`
	AmountPaid    decimal.Decimal `json:"amount_paid"`
	TotalRefunded decimal.Decimal `json:"total_refunded"`
	BalanceDue    decimal.Decimal `json:"balance_due"`
}

// ComputeTotals folds lines, payments and refunds. Negative balance means overpaid.
func ComputeTotals(invoiceDiscount decimal.Decimal, items []Item, payments []Payment, refunds []Refund) Totals {
	lines := make([]decimal.Decimal, 0, len(items))
	discounts := make([]decimal.Decimal, 0, len(items)+1)
	for _, item := range items {
		lines = append(lines, item.LineTotal())
		discounts = append(discounts, item.Discount.Mul(shared.Qty(item.Quantity)))
	}
	discounts = append(discounts, invoiceDiscount)
	paid := make([]decimal.Decimal, 0, len(payments))
	for _, p := range payments {
		paid = append(paid, p.Amount)
	}
	refunded := make([]decimal.Decimal, 0, len(refunds))
	for _, r := range refunds {
		refunded = append(refunded, r.Amount)
	}
	t := Totals{
		TotalAmount:   shared.SumMoney(lines...),
		TotalDiscount: shared.SumMoney(discounts...),
		AmountPaid:    shared.SumMoney(paid...),
		TotalRefunded: shared.SumMoney(refunded...),
	}
	t.NetAmount = shared.RoundMoney(t.TotalAmount.Sub(t.TotalDiscount))
	t.BalanceDue = shared.RoundMoney(t.NetAmount.Sub(t.AmountPaid).Add(t.TotalRefunded))
	return t
}

// DeriveStatus is a pure function of the totals. CANCELLED is never left.
func DeriveStatus(current Status, t Totals) Status {
	switch {
	case current == StatusCancelled:
		return StatusCancelled
	case !t.BalanceDue.IsPositive():
		return StatusPaid
	case t.AmountPaid.IsPositive():
		return StatusPartial
	default:
		return StatusPending
	}
}

// NumberPrefix is "INV-YYMMDD-" for the day of t.
func NumberPrefix(t time.Time) string {
	return "INV-" + t.Format("060102") + "-"
}

// NextNumber continues the per-day sequence after last, which is empty for the first
// invoice of the day.
func NextNumber(prefix, last string) (string, error) {
	seq := 0
	if last != "" {
		n, err := strconv.Atoi(strings.TrimPrefix(last, prefix))
		if err != nil || !strings.HasPrefix(last, prefix) {
			return "", fmt.Errorf("invoicing: malformed invoice number %q", last)
		}
		seq = n
	}
	return fmt.Sprintf("%s%04d", prefix, seq+1), nil
}

// Detail is the read model of an invoice.
type Detail struct {
	Invoice
	Items    []ItemView `json:"items"`
	Payments []Payment  `json:"payments"`
	Refunds  []Refund   `json:"refunds"`
	Totals   Totals     `json:"totals"`
}

// ListFilter narrows invoice listings.
type ListFilter struct {
	Status    Status
	PatientID int64
	Limit     int
	Offset    int
}
