package gateway

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var ErrInvalidTimestamp = errors.New("invalid timestamp")

// TimestampLayout is the canonical UTC form written to the backend.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTimestamp accepts the date-like inputs the console produces.
// Values without a zone are taken as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrInvalidTimestamp
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.Wrapf(ErrInvalidTimestamp, "%q", s)
}

func NormalizeTimestamp(s string) (string, error) {
	t, err := ParseTimestamp(s)
	if err != nil {
		return "", err
	}
	return t.Format(TimestampLayout), nil
}

// NormalizeEmbed folds an embedded relation into a single optional object.
// Backends return it as an object, a list or null; for lists the first element wins.
func NormalizeEmbed(v any) map[string]any {
	switch x := v.(type) {
	case map[string]any:
		return x
	case Row:
		return map[string]any(x)
	case []any:
		for _, item := range x {
			if m := NormalizeEmbed(item); m != nil {
				return m
			}
		}
	case []map[string]any:
		if len(x) > 0 {
			return x[0]
		}
	}
	return nil
}

// NormalizeEmbeds rewrites every requested embed of row in place.
func NormalizeEmbeds(row Row, embeds []Embed) {
	for _, e := range embeds {
		key := string(e.Relation)
		v, ok := row[key]
		if !ok {
			continue
		}
		if m := NormalizeEmbed(v); m != nil {
			row[key] = m
		} else {
			row[key] = nil
		}
	}
}

// Decode converts a row into a typed model through its JSON tags.
func Decode[T any](row Row) (T, error) {
	var out T
	b, err := json.Marshal(row)
	if err != nil {
		return out, errors.Wrap(err, "marshal row")
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, errors.Wrap(err, "decode row")
	}
	return out, nil
}

func DecodeAll[T any](rows []Row) ([]T, error) {
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		v, err := Decode[T](r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// DecodeRaw parses a raw row image such as a changefeed payload.
func DecodeRaw(raw json.RawMessage) (Row, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var r Row
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, errors.Wrap(err, "decode raw row")
	}
	return r, nil
}

// KeyOf extracts the primary key of row as a string.
func KeyOf(table Table, row Row) string {
	return StringValue(row[table.KeyColumn()])
}

func StringValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		b, _ := json.Marshal(x)
		return string(b)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return strings.Trim(string(b), `"`)
	}
}
