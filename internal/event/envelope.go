// Package event defines the ledger's append-only event log types. Every
// mutating operation emits exactly one event; the persist and projection
// pipelines consume the same envelope.
package event

import "time"

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypePolicyIssued
	EventTypePolicyCancelled
	EventTypeClaimFiled
	EventTypeClaimSettled
	EventTypeReserveSeeded
	EventTypeWalletFunded
	EventTypeParamsUpdated
)

func (et EventType) String() string {
	switch et {
	case EventTypePolicyIssued:
		return "PolicyIssued"
	case EventTypePolicyCancelled:
		return "PolicyCancelled"
	case EventTypeClaimFiled:
		return "ClaimFiled"
	case EventTypeClaimSettled:
		return "ClaimSettled"
	case EventTypeReserveSeeded:
		return "ReserveSeeded"
	case EventTypeWalletFunded:
		return "WalletFunded"
	case EventTypeParamsUpdated:
		return "ParamsUpdated"
	default:
		return "Unknown"
	}
}

// ParseEventType inverts String for stored event rows.
func ParseEventType(s string) EventType {
	switch s {
	case "PolicyIssued":
		return EventTypePolicyIssued
	case "PolicyCancelled":
		return EventTypePolicyCancelled
	case "ClaimFiled":
		return EventTypeClaimFiled
	case "ClaimSettled":
		return EventTypeClaimSettled
	case "ReserveSeeded":
		return EventTypeReserveSeeded
	case "WalletFunded":
		return EventTypeWalletFunded
	case "ParamsUpdated":
		return EventTypeParamsUpdated
	default:
		return EventTypeUnknown
	}
}

// Envelope wraps every event in the log.
type Envelope struct {
	// Global monotonic sequence assigned by the engine
	Sequence uint64

	// Stable reference tying the event to its journal entries
	EventRef string

	// Event type discriminator
	EventType EventType

	// Engine clock at apply time
	Timestamp time.Time

	// JSON-encoded event-specific data
	Payload []byte
}

// Event is the interface all event payloads implement. Amounts travel as
// decimal strings so 1e18-scale values survive JSON intact.
type Event interface {
	// EventRef returns the stable reference used in journal entries
	EventRef() string

	// EventType returns the discriminator
	EventType() EventType
}
