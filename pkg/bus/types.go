package bus

import "time"

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notice is an operator-facing message produced by the relay itself, such as
// a destination that permanently rejects deliveries.
type Notice struct {
	ID            string    `json:"id"`
	Severity      Severity  `json:"severity"`
	SourceID      string    `json:"source_id,omitempty"`
	DestinationID string    `json:"destination_id,omitempty"`
	Text          string    `json:"text"`
	At            time.Time `json:"at"`
}
