package paypal

import "strings"

// IntentStatus is the gateway-side state of a checkout order. Responses are
// parsed into this tagged form so that an unrecognized status is rejected
// instead of silently treated as something it is not.
type IntentStatus int

const (
	StatusUnknown IntentStatus = iota
	StatusCreated
	StatusSaved
	StatusApproved
	StatusPayerActionRequired
	StatusCompleted
	StatusVoided
)

func ParseIntentStatus(s string) IntentStatus {
	switch strings.ToUpper(s) {
	case "CREATED":
		return StatusCreated
	case "SAVED":
		return StatusSaved
	case "APPROVED":
		return StatusApproved
	case "PAYER_ACTION_REQUIRED":
		return StatusPayerActionRequired
	case "COMPLETED":
		return StatusCompleted
	case "VOIDED":
		return StatusVoided
	default:
		return StatusUnknown
	}
}

func (s IntentStatus) String() string {
	switch s {
	case StatusCreated:
		return "CREATED"
	case StatusSaved:
		return "SAVED"
	case StatusApproved:
		return "APPROVED"
	case StatusPayerActionRequired:
		return "PAYER_ACTION_REQUIRED"
	case StatusCompleted:
		return "COMPLETED"
	case StatusVoided:
		return "VOIDED"
	default:
		return "UNKNOWN"
	}
}
