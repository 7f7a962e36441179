package bus

import (
	"context"
	"encoding/json"
)

// Change event kinds, matching row-level datastore operations.
const (
	EventInsert = "INSERT"
	EventUpdate = "UPDATE"
	EventDelete = "DELETE"
)

// Change is a row-level change notification for a named table.
// Row carries the post-image of the row (pre-image for deletes) so that
// consumers can filter without a round trip; the row itself is not meant
// to be authoritative — consumers re-query the datastore on match.
type Change struct {
	Table string          `json:"table"`
	Event string          `json:"event"`
	Row   json.RawMessage `json:"row"`
}

// ChangeTopic returns the pub/sub topic carrying changes for a table.
func ChangeTopic(table string) string {
	return "changes:" + table
}

// PublishChange serializes and publishes a row change for table.
// row may be any JSON-marshalable value, typically the mutated model.
func PublishChange(ctx context.Context, ps PubSub, table, event string, row interface{}) error {
	raw, err := json.Marshal(row)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(Change{Table: table, Event: event, Row: raw})
	if err != nil {
		return err
	}
	return ps.Publish(ctx, ChangeTopic(table), string(payload))
}

// DecodeChange parses a change payload. A nil return with nil error means
// the payload was not a well-formed change and should be ignored.
func DecodeChange(payload string) (*Change, error) {
	var c Change
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return nil, err
	}
	if c.Table == "" || c.Event == "" {
		return nil, nil
	}
	return &c, nil
}
