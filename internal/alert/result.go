package alert

// Status classifies the outcome of one send attempt. Eligibility failures
// (not_subscribed, below_threshold, duplicate) are expected outcomes, not
// errors; batch callers count them without aborting.
type Status string

const (
	StatusSent            Status = "sent"
	StatusNotSubscribed   Status = "not_subscribed"
	StatusBelowThreshold  Status = "below_threshold"
	StatusDuplicate       Status = "duplicate"
	StatusTransportFailed Status = "transport_failed"
	StatusError           Status = "error"
)

// Outcome is the structured result of one orchestrated send.
type Outcome struct {
	Status            Status `json:"status"`
	UserID            uint64 `json:"user_id,omitempty"`
	ProviderMessageID string `json:"provider_message_id,omitempty"`
	Error             string `json:"error,omitempty"`
	Attempts          int    `json:"attempts,omitempty"`
}

func (o Outcome) Sent() bool { return o.Status == StatusSent }

func CountSent(outcomes []Outcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Sent() {
			n++
		}
	}
	return n
}
