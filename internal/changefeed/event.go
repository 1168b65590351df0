package changefeed

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/BearBump/DispatchBox/internal/broker/messages"
	"github.com/BearBump/DispatchBox/internal/gateway"
	"github.com/pkg/errors"
)

type Kind string

const (
	KindInsert Kind = "insert"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

var ErrInvalidEvent = errors.New("invalid change event")

// Event is one row change. Insert carries New, Delete carries Old, Update carries
// New and, when the backend has it, Old.
type Event struct {
	Table      gateway.Table   `json:"table"`
	Kind       Kind            `json:"kind"`
	New        json.RawMessage `json:"new,omitempty"`
	Old        json.RawMessage `json:"old,omitempty"`
	CommitTime time.Time       `json:"commit_time"`
}

func (e Event) Validate() error {
	if e.Table == "" {
		return errors.Wrap(ErrInvalidEvent, "empty table")
	}
	switch e.Kind {
	case KindInsert, KindUpdate:
		if empty(e.New) {
			return errors.Wrapf(ErrInvalidEvent, "%s without new row", e.Kind)
		}
	case KindDelete:
		if empty(e.Old) {
			return errors.Wrap(ErrInvalidEvent, "delete without old row")
		}
	default:
		return errors.Wrapf(ErrInvalidEvent, "kind %q", e.Kind)
	}
	return nil
}

func (e Event) NewRow() (gateway.Row, error) { return gateway.DecodeRaw(e.New) }
func (e Event) OldRow() (gateway.Row, error) { return gateway.DecodeRaw(e.Old) }

// Key returns the primary key of the affected row.
func (e Event) Key() (string, error) {
	raw := e.New
	if e.Kind == KindDelete {
		raw = e.Old
	}
	row, err := gateway.DecodeRaw(raw)
	if err != nil {
		return "", err
	}
	key := gateway.KeyOf(e.Table, row)
	if key == "" {
		return "", errors.Wrap(ErrInvalidEvent, "row without key")
	}
	return key, nil
}

func empty(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

func FromMessage(m messages.ChangeMessage) (Event, error) {
	ev := Event{
		Table:      gateway.Table(m.Table),
		CommitTime: m.CommitTime,
	}
	switch strings.ToUpper(m.Type) {
	case messages.ChangeInsert:
		ev.Kind = KindInsert
	case messages.ChangeUpdate:
		ev.Kind = KindUpdate
	case messages.ChangeDelete:
		ev.Kind = KindDelete
	default:
		return Event{}, errors.Wrapf(ErrInvalidEvent, "type %q", m.Type)
	}
	if !empty(m.Record) {
		ev.New = m.Record
	}
	if !empty(m.OldRecord) {
		ev.Old = m.OldRecord
	}
	if err := ev.Validate(); err != nil {
		return Event{}, err
	}
	return ev, nil
}

func ToMessage(e Event) messages.ChangeMessage {
	return messages.ChangeMessage{
		Table:      string(e.Table),
		Type:       strings.ToUpper(string(e.Kind)),
		Record:     e.New,
		OldRecord:  e.Old,
		CommitTime: e.CommitTime,
	}
}

func DecodeMessage(b []byte) (Event, error) {
	var m messages.ChangeMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return Event{}, errors.Wrap(err, "decode change message")
	}
	return FromMessage(m)
}

func EncodeMessage(e Event) ([]byte, error) {
	b, err := json.Marshal(ToMessage(e))
	if err != nil {
		return nil, errors.Wrap(err, "encode change message")
	}
	return b, nil
}

// TopicFor names the Kafka topic carrying changes of table.
func TopicFor(prefix string, table gateway.Table) string {
	if prefix == "" {
		return string(table)
	}
	return prefix + "." + string(table)
}
