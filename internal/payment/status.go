package payment

// Status is the lifecycle state of a payment.
type Status string

const (
	StatusOpened   Status = "OPENED"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// Terminal reports whether the status is a closed state. A payment never
// leaves a terminal status.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// StatusFromGateway maps a raw gateway status onto the state machine.
// Anything the machine does not model (pending, in_process, ...) is
// ErrUnrecognizedStatus and leaves the payment OPENED.
func StatusFromGateway(raw string) (Status, error) {
	switch raw {
	case "approved", "paid":
		return StatusApproved, nil
	case "rejected", "cancelled", "expired":
		return StatusRejected, nil
	default:
		return "", ErrUnrecognizedStatus
	}
}
