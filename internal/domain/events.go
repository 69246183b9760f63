package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of domain event
type EventType string

const (
	EventStockAdjusted           EventType = "StockAdjusted"
	EventMedicineCreated         EventType = "MedicineCreated"
	EventSaleRecorded            EventType = "SaleRecorded"
	EventSaleHeld                EventType = "SaleHeld"
	EventReturnRecorded          EventType = "ReturnRecorded"
	EventCreditPaymentRecorded   EventType = "CreditPaymentRecorded"
	EventPrescriptionCreated     EventType = "PrescriptionCreated"
	EventPrescriptionDispensed   EventType = "PrescriptionDispensed"
	EventPrescriptionCancelled   EventType = "PrescriptionCancelled"
	EventPharmacyCreated         EventType = "PharmacyCreated"
	EventPharmacyUpdateSubmitted EventType = "PharmacyUpdateSubmitted"
	EventPharmacyUpdateApproved  EventType = "PharmacyUpdateApproved"
	EventPharmacyUpdateRejected  EventType = "PharmacyUpdateRejected"
	EventSubscriptionChanged     EventType = "SubscriptionChanged"
	EventPharmacyStatusChanged   EventType = "PharmacyStatusChanged"
	EventPaymentStatusChanged    EventType = "PaymentStatusChanged"
	EventRolePermissionsChanged  EventType = "RolePermissionsChanged"
	EventLowStock                EventType = "LowStock"
)

// Aggregate types. Each maps to one event stream.
const (
	AggregateMedicine     = "Medicine"
	AggregateSale         = "Sale"
	AggregateReturn       = "Return"
	AggregatePrescription = "Prescription"
	AggregatePharmacy     = "Pharmacy"
	AggregatePayment      = "PaymentTransaction"
	AggregateRoles        = "RolePermissions"
)

// Stream names events are published on.
const (
	StreamPharmacy = "pharmacy.events"
	StreamStock    = "inventory.stock"
	StreamSales    = "sales.events"
	StreamAlerts   = "inventory.alerts"
)

// StreamFor returns the stream an aggregate's events are published on.
func StreamFor(aggregateType string) string {
	switch aggregateType {
	case AggregateMedicine:
		return StreamStock
	case AggregateSale, AggregateReturn, AggregatePrescription:
		return StreamSales
	default:
		return StreamPharmacy
	}
}

// Event represents a domain event recorded in the same unit of work as the
// mutation that produced it.
type Event struct {
	ID            string          `json:"id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	PharmacyID    string          `json:"pharmacy_id,omitempty"`
	EventType     EventType       `json:"event_type"`
	EventData     json.RawMessage `json:"event_data"`
	ActorID       string          `json:"actor_id,omitempty"`
	Stream        string          `json:"stream"`
	Timestamp     time.Time       `json:"timestamp"`
}

// NewEvent creates a new event
func NewEvent(aggregateType, aggregateID, pharmacyID string, eventType EventType, data interface{}) (*Event, error) {
	eventData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		PharmacyID:    pharmacyID,
		EventType:     eventType,
		EventData:     eventData,
		Stream:        StreamFor(aggregateType),
		Timestamp:     time.Now().UTC(),
	}, nil
}

// WithActor sets the acting user
func (e *Event) WithActor(userID string) *Event {
	e.ActorID = userID
	return e
}

// StockAdjustedData is the payload of EventStockAdjusted.
type StockAdjustedData struct {
	MedicineID    string `json:"medicine_id"`
	Name          string `json:"name"`
	BranchName    string `json:"branch_name,omitempty"`
	Delta         int    `json:"delta"`
	StockQuantity int    `json:"stock_quantity"`
	ReorderLevel  int    `json:"reorder_level"`
	Reason        string `json:"reason"`
}

// LowStockData is the payload of EventLowStock.
type LowStockData struct {
	MedicineID    string    `json:"medicine_id"`
	PharmacyID    string    `json:"pharmacy_id"`
	Name          string    `json:"name"`
	StockQuantity int       `json:"stock_quantity"`
	ReorderLevel  int       `json:"reorder_level"`
	DetectedAt    time.Time `json:"detected_at"`
}

// SaleRecordedData is the payload of EventSaleRecorded.
type SaleRecordedData struct {
	SaleID         string `json:"sale_id"`
	TotalAmount    string `json:"total_amount"`
	Items          int    `json:"items"`
	PrescriptionID string `json:"prescription_id,omitempty"`
	FromHeldSale   string `json:"from_held_sale,omitempty"`
}

// PharmacyUpdateData is the payload of the approval workflow events.
type PharmacyUpdateData struct {
	PharmacyID string           `json:"pharmacy_id"`
	Status     UpdateStatus     `json:"status"`
	Changes    *PharmacyChanges `json:"changes,omitempty"`
	Reason     string           `json:"reason,omitempty"`
}
