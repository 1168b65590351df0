package gateway

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

type ColumnType int

const (
	TypeText ColumnType = iota
	TypeInt
	TypeFloat
	TypeBool
	TypeTime
)

type Column struct {
	Name string
	Type ColumnType
}

var schema = map[Table][]Column{
	TableDrivers: {
		{"id", TypeText},
		{"full_name", TypeText},
		{"phone", TypeText},
		{"email", TypeText},
		{"auth_user_id", TypeText},
	},
	TableLoads: {
		{"id", TypeText},
		{"load_number", TypeText},
		{"commodity", TypeText},
		{"pallets", TypeInt},
		{"weights", TypeFloat},
		{"pickup_location", TypeText},
		{"delivery_location", TypeText},
		{"pickup_datetime", TypeTime},
		{"delivery_datetime", TypeTime},
		{"status", TypeText},
		{"driver_id", TypeText},
		{"created_at", TypeTime},
	},
	TableLocations: {
		{"driver_id", TypeText},
		{"latitude", TypeFloat},
		{"longitude", TypeFloat},
		{"updated_at", TypeTime},
		{"load_id", TypeText},
	},
	TableStopRequests: {
		{"id", TypeText},
		{"driver_id", TypeText},
		{"load_id", TypeText},
		{"approved", TypeBool},
		{"requested_at", TypeTime},
	},
}

var ErrUnknownColumn = errors.New("unknown column")

// Columns returns the column list of table in declaration order.
func Columns(table Table) []Column {
	return schema[table]
}

func ColumnNames(table Table) []string {
	cols := schema[table]
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Name
	}
	return out
}

func LookupColumn(table Table, name string) (Column, bool) {
	for _, c := range schema[table] {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// CheckColumns rejects names that are not columns of table.
func CheckColumns(table Table, names []string) error {
	for _, n := range names {
		if _, ok := LookupColumn(table, n); !ok {
			return errors.Wrapf(ErrUnknownColumn, "%s.%s", table, n)
		}
	}
	return nil
}

// Coerce converts v to the Go type used for the column. nil stays nil.
func Coerce(col Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch col.Type {
	case TypeText:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return StringValue(v), nil
	case TypeInt:
		return toInt(col.Name, v)
	case TypeFloat:
		return toFloat(col.Name, v)
	case TypeBool:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			b, err := strconv.ParseBool(x)
			if err != nil {
				return nil, errors.Errorf("invalid boolean for %s: %q", col.Name, x)
			}
			return b, nil
		}
	case TypeTime:
		switch x := v.(type) {
		case time.Time:
			return x.UTC(), nil
		case string:
			t, err := ParseTimestamp(x)
			if err != nil {
				return nil, errors.Wrap(err, col.Name)
			}
			return t, nil
		}
	}
	return nil, errors.Errorf("invalid value for %s: %v", col.Name, v)
}

func toInt(name string, v any) (any, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case float64:
		if math.IsInf(x, 0) || x != math.Trunc(x) {
			return nil, errors.Errorf("invalid integer for %s: %v", name, x)
		}
		return int64(x), nil
	case json.Number:
		return x.Int64()
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return nil, errors.Errorf("invalid integer for %s: %q", name, x)
		}
		return n, nil
	}
	return nil, errors.Errorf("invalid integer for %s: %v", name, v)
}

func toFloat(name string, v any) (any, error) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case json.Number:
		n, err := x.Float64()
		if err != nil {
			return nil, errors.Errorf("invalid number for %s: %q", name, x)
		}
		f = n
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil, errors.Errorf("invalid number for %s: %q", name, x)
		}
		f = n
	default:
		return nil, errors.Errorf("invalid number for %s: %v", name, v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, errors.Errorf("non-finite number for %s: %v", name, v)
	}
	return f, nil
}

// CoerceRow validates and converts every field of row against table.
func CoerceRow(table Table, row Row) (Row, error) {
	out := make(Row, len(row))
	for k, v := range row {
		col, ok := LookupColumn(table, k)
		if !ok {
			return nil, errors.Wrapf(ErrUnknownColumn, "%s.%s", table, k)
		}
		cv, err := Coerce(col, v)
		if err != nil {
			return nil, err
		}
		out[k] = cv
	}
	return out, nil
}

// Compare orders two column values; nil sorts first.
func Compare(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	switch x := a.(type) {
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	case int64:
		if y, ok := b.(int64); ok {
			return cmpOrdered(x, y)
		}
	case float64:
		if y, ok := b.(float64); ok {
			return cmpOrdered(x, y)
		}
	case bool:
		if y, ok := b.(bool); ok {
			return cmpOrdered(boolInt(x), boolInt(y))
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func cmpOrdered[T int | int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
