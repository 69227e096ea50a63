package billing

import "time"

// InvoiceStatus tracks an invoice through payment.
type InvoiceStatus string

const (
	InvoiceOpen      InvoiceStatus = "open"
	InvoicePaid      InvoiceStatus = "paid"
	InvoiceRefunded  InvoiceStatus = "refunded"
	InvoiceCancelled InvoiceStatus = "cancelled"
)

// Invoice is a member charge. Amounts are in minor currency units.
type Invoice struct {
	ID             string
	MemberID       string
	Status         InvoiceStatus
	Amount         int64
	RefundedAmount int64
}

// Refundable is what can still be returned to the member.
func (i Invoice) Refundable() int64 {
	return i.Amount - i.RefundedAmount
}

// Refund returns part or all of a paid invoice.
type Refund struct {
	InvoiceID   string
	Amount      int64
	Reason      string
	PrincipalID string
	At          time.Time
}

// Credit grants account balance to a member.
type Credit struct {
	MemberID    string
	Amount      int64
	Reason      string
	PrincipalID string
	At          time.Time
}

// Cancellation voids an open invoice.
type Cancellation struct {
	InvoiceID   string
	Reason      string
	PrincipalID string
	At          time.Time
}
