package domain

import (
	"net"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the state of a subscription payment.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "Pending"
	PaymentCompleted PaymentStatus = "Completed"
	PaymentFailed    PaymentStatus = "Failed"
	PaymentRefunded  PaymentStatus = "Refunded"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending:   {PaymentCompleted, PaymentFailed},
	PaymentFailed:    {PaymentPending},
	PaymentCompleted: {PaymentRefunded},
}

// CanTransition reports whether a payment may move from s to next.
func (s PaymentStatus) CanTransition(next PaymentStatus) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// PaymentTransaction is a subscription charge against a pharmacy.
type PaymentTransaction struct {
	ID         string          `json:"id"`
	PharmacyID string          `json:"pharmacyId"`
	Plan       Plan            `json:"plan"`
	Amount     decimal.Decimal `json:"amount"`
	Method     string          `json:"method"`
	Reference  string          `json:"reference,omitempty"`
	Status     PaymentStatus   `json:"status"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// TicketStatus is the state of a support ticket.
type TicketStatus string

const (
	TicketOpen       TicketStatus = "Open"
	TicketInProgress TicketStatus = "In Progress"
	TicketClosed     TicketStatus = "Closed"
)

// Valid reports whether s is a known ticket status.
func (s TicketStatus) Valid() bool {
	return s == TicketOpen || s == TicketInProgress || s == TicketClosed
}

// TicketReply is one message in a ticket thread.
type TicketReply struct {
	ID         string    `json:"id"`
	AuthorID   string    `json:"authorId"`
	AuthorName string    `json:"authorName"`
	FromStaff  bool      `json:"fromStaff"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"createdAt"`
}

// SupportTicket is a tenant request to platform support.
type SupportTicket struct {
	ID          string        `json:"id"`
	PharmacyID  string        `json:"pharmacyId"`
	Subject     string        `json:"subject"`
	Description string        `json:"description"`
	Priority    string        `json:"priority"`
	Status      TicketStatus  `json:"status"`
	AssignedTo  string        `json:"assignedTo,omitempty"`
	Replies     []TicketReply `json:"replies"`
	CreatedBy   string        `json:"createdBy"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// Clone deep-copies t.
func (t SupportTicket) Clone() SupportTicket {
	t.Replies = append([]TicketReply(nil), t.Replies...)
	return t
}

// AddReply appends a reply. Staff replies move the ticket to In Progress and
// tenant replies reopen it.
func (t *SupportTicket) AddReply(r TicketReply) {
	t.Replies = append(t.Replies, r)
	if r.FromStaff {
		t.Status = TicketInProgress
	} else {
		t.Status = TicketOpen
	}
	t.UpdatedAt = r.CreatedAt
}

// Branding customises the dashboard look.
type Branding struct {
	PlatformName string `json:"platformName"`
	LogoURL      string `json:"logoUrl,omitempty"`
	PrimaryColor string `json:"primaryColor,omitempty"`
}

// PlatformSettings is the singleton platform configuration.
type PlatformSettings struct {
	Branding           Branding  `json:"branding"`
	MaintenanceMode    bool      `json:"maintenanceMode"`
	MaintenanceMessage string    `json:"maintenanceMessage,omitempty"`
	BlockedIPs         []string  `json:"blockedIps"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// DefaultSettings is the seed configuration.
func DefaultSettings() PlatformSettings {
	return PlatformSettings{
		Branding:   Branding{PlatformName: "RxLedger", PrimaryColor: "#0f766e"},
		BlockedIPs: []string{},
	}
}

// Clone deep-copies s.
func (s PlatformSettings) Clone() PlatformSettings {
	s.BlockedIPs = append([]string{}, s.BlockedIPs...)
	return s
}

// IsBlocked reports whether ip matches a blocked address or CIDR range.
func (s PlatformSettings) IsBlocked(ip string) bool {
	addr := net.ParseIP(ip)
	for _, entry := range s.BlockedIPs {
		if entry == ip {
			return true
		}
		if _, block, err := net.ParseCIDR(entry); err == nil && addr != nil && block.Contains(addr) {
			return true
		}
	}
	return false
}
