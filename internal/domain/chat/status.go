package chat

// Status tracks a message through its delivery lifecycle. User messages
// move pending -> sending -> (sent | failed); failed re-enters sending
// only on explicit retry. Agent messages start delivered.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
	StatusDelivered Status = "delivered"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSending, StatusSent, StatusFailed, StatusDelivered:
		return true
	}
	return false
}

// Terminal reports whether the status ends a delivery attempt.
func (s Status) Terminal() bool {
	switch s {
	case StatusSent, StatusFailed, StatusDelivered:
		return true
	}
	return false
}
