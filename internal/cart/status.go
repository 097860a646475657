package cart

import (
	"sync"
	"time"
)

// Family groups operations whose progress callers display together.
type Family string

const (
	FamilyCart      Family = "cart"
	FamilyItems     Family = "line_items"
	FamilyAddresses Family = "addresses"
	FamilyCustomer  Family = "customer"
	FamilyShipping  Family = "shipping"
	FamilyPayment   Family = "payment"
	FamilyPromotion Family = "promotion"
	FamilyCheckout  Family = "checkout"
)

// Phase is the coarse progress of the most recent operation in a family.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseInFlight Phase = "in_flight"
	PhaseFailed   Phase = "failed"
)

// OperationStatus reports the last observed phase of a family.
type OperationStatus struct {
	Phase     Phase     `json:"phase"`
	Operation string    `json:"operation,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

type statusBoard struct {
	mu      sync.RWMutex
	entries map[Family]OperationStatus
	now     func() time.Time
}

func newStatusBoard(now func() time.Time) *statusBoard {
	return &statusBoard{entries: make(map[Family]OperationStatus), now: now}
}

func (b *statusBoard) begin(family Family, operation string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[family] = OperationStatus{Phase: PhaseInFlight, Operation: operation, UpdatedAt: b.now()}
}

func (b *statusBoard) finish(family Family, operation string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	status := OperationStatus{Phase: PhaseIdle, Operation: operation, UpdatedAt: b.now()}
	if err != nil {
		status.Phase = PhaseFailed
		status.LastError = err.Error()
	}
	b.entries[family] = status
}

func (b *statusBoard) get(family Family) OperationStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if status, ok := b.entries[family]; ok {
		return status
	}
	return OperationStatus{Phase: PhaseIdle}
}

func (b *statusBoard) snapshot() map[Family]OperationStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[Family]OperationStatus, len(b.entries))
	for family, status := range b.entries {
		out[family] = status
	}
	return out
}
