package pubsub

import "encoding/json"

// Topics published by the maintenance session
const (
	TopicStatus = "status" // Status lines from the engines and the purge pipeline
	TopicScene  = "scene"  // SceneUpdate after every committed change
)

// Status is one line on the textual status channel
type Status struct {
	Source  string `json:"source"`  // delete, unique, color, purge, reload
	State   string `json:"state"`   // running, completed, failed
	Message string `json:"message"` // Human-readable, e.g. "Purge unused materials (70%)"
	Percent int    `json:"percent"` // Purge progress, 0 for the engines
	Step    int    `json:"step"`    // Current step number (1-based)
	Total   int    `json:"total"`   // Total number of steps
	Final   bool   `json:"final"`   // Last status of an operation
	OK      bool   `json:"ok"`      // Set on final statuses that succeeded
}

// SceneUpdate announces a new scene revision
type SceneUpdate struct {
	Revision    uint64 `json:"revision"`
	Entities    int    `json:"entities"`
	Definitions int    `json:"definitions"`
	Label       string `json:"label"` // Label of the committed transaction
}

// PublishStatus publishes st on the status topic, typed by its state
func PublishStatus(p Publisher, st Status) error {
	return p.Publish(TopicStatus, st.State, st)
}

// DecodeStatus extracts the Status payload of a status event
func DecodeStatus(ev Event) (Status, error) {
	var st Status
	err := json.Unmarshal(ev.Data, &st)
	return st, err
}
