package messages

import (
	"encoding/json"
	"time"
)

// Change types as emitted by the row triggers.
const (
	ChangeInsert = "INSERT"
	ChangeUpdate = "UPDATE"
	ChangeDelete = "DELETE"
)

// ChangeMessage is the wire form of a single row change, shared by the
// Postgres notify payload and the Kafka topics.
type ChangeMessage struct {
	Table      string          `json:"table"`
	Type       string          `json:"type"`
	Record     json.RawMessage `json:"record,omitempty"`
	OldRecord  json.RawMessage `json:"old_record,omitempty"`
	CommitTime time.Time       `json:"commit_time"`
}
