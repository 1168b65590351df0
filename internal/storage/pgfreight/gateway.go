package pgfreight

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/BearBump/DispatchBox/internal/gateway"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// List selects rows as jsonb so every table shares one scan path. Embeds are
// correlated subselects on the relation's foreign key.
func (s *Storage) List(ctx context.Context, t gateway.Table, q gateway.Query) ([]gateway.Row, error) {
	sql, args, err := buildSelect(t, q)
	if err != nil {
		return nil, gateway.NewError("list", t, err)
	}

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, gateway.NewError("list", t, errors.Wrap(err, "select"))
	}
	defer rows.Close()

	var out []gateway.Row
	for rows.Next() {
		var m map[string]any
		if err := rows.Scan(&m); err != nil {
			return nil, gateway.NewError("list", t, errors.Wrap(err, "scan row"))
		}
		row := gateway.Row(m)
		gateway.NormalizeEmbeds(row, q.Embeds)
		out = append(out, row)
	}
	if rows.Err() != nil {
		return nil, gateway.NewError("list", t, errors.Wrap(rows.Err(), "rows"))
	}
	return out, nil
}

func (s *Storage) Insert(ctx context.Context, t gateway.Table, in gateway.Row) (gateway.Row, error) {
	if !t.Valid() {
		return nil, gateway.NewError("insert", t, errors.New("unknown table"))
	}
	row, err := gateway.CoerceRow(t, in)
	if err != nil {
		return nil, gateway.NewError("insert", t, err)
	}

	var sql string
	var args []any
	if len(row) == 0 {
		sql = fmt.Sprintf(`INSERT INTO %s AS t DEFAULT VALUES RETURNING to_jsonb(t)`, ident(string(t)))
	} else {
		cols := sortedKeys(row)
		ph := make([]string, len(cols))
		quoted := make([]string, len(cols))
		for i, c := range cols {
			quoted[i] = ident(c)
			ph[i] = fmt.Sprintf("$%d", i+1)
			args = append(args, row[c])
		}
		sql = fmt.Sprintf(`INSERT INTO %s AS t (%s) VALUES (%s) RETURNING to_jsonb(t)`,
			ident(string(t)), strings.Join(quoted, ", "), strings.Join(ph, ", "))
	}

	var m map[string]any
	if err := s.db.QueryRow(ctx, sql, args...).Scan(&m); err != nil {
		return nil, gateway.NewError("insert", t, err)
	}
	return gateway.Row(m), nil
}

func (s *Storage) Update(ctx context.Context, t gateway.Table, key string, patch gateway.Row) (gateway.Row, error) {
	if !t.Valid() {
		return nil, gateway.NewError("update", t, errors.New("unknown table"))
	}
	p, err := gateway.CoerceRow(t, patch)
	if err != nil {
		return nil, gateway.NewError("update", t, err)
	}

	var sql string
	var args []any
	if len(p) == 0 {
		sql = fmt.Sprintf(`SELECT to_jsonb(t) FROM %s t WHERE t.%s = $1`, ident(string(t)), ident(t.KeyColumn()))
		args = []any{key}
	} else {
		cols := sortedKeys(p)
		sets := make([]string, len(cols))
		for i, c := range cols {
			sets[i] = fmt.Sprintf("%s = $%d", ident(c), i+1)
			args = append(args, p[c])
		}
		if t == gateway.TableLocations {
			if _, ok := p["updated_at"]; !ok {
				sets = append(sets, `updated_at = now()`)
			}
		}
		args = append(args, key)
		sql = fmt.Sprintf(`UPDATE %s AS t SET %s WHERE t.%s = $%d RETURNING to_jsonb(t)`,
			ident(string(t)), strings.Join(sets, ", "), ident(t.KeyColumn()), len(args))
	}

	var m map[string]any
	err = s.db.QueryRow(ctx, sql, args...).Scan(&m)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, gateway.NewError("update", t, gateway.ErrNotFound)
	}
	if err != nil {
		return nil, gateway.NewError("update", t, err)
	}
	return gateway.Row(m), nil
}

// Delete is idempotent: deleting a missing key succeeds.
func (s *Storage) Delete(ctx context.Context, t gateway.Table, key string) error {
	if !t.Valid() {
		return gateway.NewError("delete", t, errors.New("unknown table"))
	}
	_, err := s.db.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`, ident(string(t)), ident(t.KeyColumn())), key)
	if err != nil {
		return gateway.NewError("delete", t, err)
	}
	return nil
}

func buildSelect(t gateway.Table, q gateway.Query) (string, []any, error) {
	if !t.Valid() {
		return "", nil, errors.Errorf("relation %q does not exist", t)
	}
	if err := gateway.CheckColumns(t, q.Columns); err != nil {
		return "", nil, err
	}

	expr := jsonExpr("t", q.Columns)
	for _, e := range q.Embeds {
		rel, ok := gateway.LookupRelation(t, e.Relation)
		if !ok {
			return "", nil, errors.Errorf("no relationship between %s and %s", t, e.Relation)
		}
		if err := gateway.CheckColumns(e.Relation, e.Columns); err != nil {
			return "", nil, err
		}
		expr += fmt.Sprintf(" || jsonb_build_object('%s', (SELECT %s FROM %s e WHERE e.%s = t.%s))",
			e.Relation, jsonExpr("e", e.Columns), ident(string(e.Relation)), ident(rel.TargetKey), ident(rel.FKColumn))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s t", expr, ident(string(t)))

	var args []any
	if len(q.Eq) > 0 {
		var conds []string
		for _, k := range sortedKeys(q.Eq) {
			col, ok := gateway.LookupColumn(t, k)
			if !ok {
				return "", nil, errors.Wrapf(gateway.ErrUnknownColumn, "%s.%s", t, k)
			}
			v, err := gateway.Coerce(col, q.Eq[k])
			if err != nil {
				return "", nil, err
			}
			if v == nil {
				conds = append(conds, fmt.Sprintf("t.%s IS NULL", ident(k)))
				continue
			}
			args = append(args, v)
			conds = append(conds, fmt.Sprintf("t.%s = $%d", ident(k), len(args)))
		}
		b.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}

	if q.Order != "" {
		if err := gateway.CheckColumns(t, []string{q.Order}); err != nil {
			return "", nil, err
		}
		dir := "ASC"
		if q.Desc {
			dir = "DESC"
		}
		fmt.Fprintf(&b, " ORDER BY t.%s %s", ident(q.Order), dir)
	}
	if q.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", q.Limit)
	}
	return b.String(), args, nil
}

func jsonExpr(alias string, cols []string) string {
	if len(cols) == 0 {
		return fmt.Sprintf("to_jsonb(%s)", alias)
	}
	parts := make([]string, 0, len(cols)*2)
	for _, c := range cols {
		parts = append(parts, fmt.Sprintf("'%s'", c), fmt.Sprintf("%s.%s", alias, ident(c)))
	}
	return fmt.Sprintf("jsonb_build_object(%s)", strings.Join(parts, ", "))
}

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
