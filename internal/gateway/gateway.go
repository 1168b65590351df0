package gateway

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

type Table string

const (
	TableDrivers      Table = "drivers"
	TableLoads        Table = "loads"
	TableLocations    Table = "locations"
	TableStopRequests Table = "tracking_stop_requests"
)

var Tables = []Table{TableDrivers, TableLoads, TableLocations, TableStopRequests}

func (t Table) Valid() bool {
	for _, v := range Tables {
		if v == t {
			return true
		}
	}
	return false
}

// KeyColumn is the primary key of the table. Locations are keyed by driver.
func (t Table) KeyColumn() string {
	if t == TableLocations {
		return "driver_id"
	}
	return "id"
}

// Row is a single record as the backend returns it.
type Row map[string]any

// Embed asks for a related row to be joined in under the relation name.
type Embed struct {
	Relation Table
	Columns  []string
}

type Query struct {
	Columns []string
	Eq      map[string]any
	Order   string
	Desc    bool
	Limit   int
	Embeds  []Embed
}

type Gateway interface {
	List(ctx context.Context, table Table, q Query) ([]Row, error)
	Insert(ctx context.Context, table Table, row Row) (Row, error)
	Update(ctx context.Context, table Table, key string, patch Row) (Row, error)
	Delete(ctx context.Context, table Table, key string) error
}

var ErrNotFound = errors.New("row not found")

// Error carries the backend message verbatim so handlers can surface it.
type Error struct {
	Op    string
	Table Table
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Op, e.Table, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func NewError(op string, table Table, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Table: table, Msg: err.Error(), Err: err}
}

type OnDelete int

const (
	SetNull OnDelete = iota
	Cascade
)

// Relation describes how Table references Target.
type Relation struct {
	Table     Table
	Target    Table
	FKColumn  string
	TargetKey string
	OnDelete  OnDelete
}

var relations = []Relation{
	{Table: TableLoads, Target: TableDrivers, FKColumn: "driver_id", TargetKey: "id", OnDelete: SetNull},
	{Table: TableLocations, Target: TableDrivers, FKColumn: "driver_id", TargetKey: "id", OnDelete: Cascade},
	{Table: TableLocations, Target: TableLoads, FKColumn: "load_id", TargetKey: "id", OnDelete: SetNull},
	{Table: TableStopRequests, Target: TableDrivers, FKColumn: "driver_id", TargetKey: "id", OnDelete: Cascade},
	{Table: TableStopRequests, Target: TableLoads, FKColumn: "load_id", TargetKey: "id", OnDelete: SetNull},
}

// Referencing lists the relations pointing at target.
func Referencing(target Table) []Relation {
	var out []Relation
	for _, r := range relations {
		if r.Target == target {
			out = append(out, r)
		}
	}
	return out
}

func LookupRelation(table, target Table) (Relation, bool) {
	for _, r := range relations {
		if r.Table == table && r.Target == target {
			return r, true
		}
	}
	return Relation{}, false
}
