package messages

import "time"

const (
	SourceManual       = "manual"
	SourceStatusChange = "status_change"
	SourceTracking     = "tracking"
)

// CheckpointSubmitted is emitted after the server confirms a check-in.
type CheckpointSubmitted struct {
	OrderID      int       `json:"order_id"`
	CheckpointID int       `json:"checkpoint_id"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	Notes        string    `json:"notes,omitempty"`
	Source       string    `json:"source"`
	SubmittedAt  time.Time `json:"submitted_at"`
}
