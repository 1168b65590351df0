package memstore

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BearBump/DispatchBox/internal/changefeed"
	"github.com/BearBump/DispatchBox/internal/gateway"
	"github.com/BearBump/DispatchBox/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrDuplicateKey  = errors.New("duplicate key value violates unique constraint")
	ErrMissingKey    = errors.New("null value in key column")
	ErrApprovalFinal = errors.New("approved stop request cannot be revoked")
	ErrUserExists    = errors.New("a user with this email address has already been registered")
)

type table struct {
	order []string
	rows  map[string]gateway.Row
}

type user struct {
	ID           string
	Email        string
	PasswordHash []byte
	FullName     string
	Phone        string
	Role         string
	CreatedAt    time.Time
}

// Store is an in-memory backend with the same defaults and triggers as the
// Postgres schema. Every committed write is published as a change event.
type Store struct {
	wmu sync.Mutex // serialises write+publish so events keep commit order
	mu  sync.RWMutex

	tables map[gateway.Table]*table
	users  map[string]user

	pmu     sync.RWMutex
	publish func(changefeed.Event)

	now func() time.Time
}

func New(publish func(changefeed.Event)) *Store {
	s := &Store{
		tables:  make(map[gateway.Table]*table),
		users:   make(map[string]user),
		publish: publish,
		now:     time.Now,
	}
	for _, t := range gateway.Tables {
		s.tables[t] = &table{rows: make(map[string]gateway.Row)}
	}
	return s
}

// Run attaches publish for the lifetime of ctx, which makes the store a changefeed source.
func (s *Store) Run(ctx context.Context, publish func(changefeed.Event)) error {
	s.pmu.Lock()
	s.publish = publish
	s.pmu.Unlock()

	<-ctx.Done()

	s.pmu.Lock()
	s.publish = nil
	s.pmu.Unlock()
	return ctx.Err()
}

func (s *Store) emit(events []changefeed.Event) {
	s.pmu.RLock()
	fn := s.publish
	s.pmu.RUnlock()
	if fn == nil {
		return
	}
	for _, ev := range events {
		fn(ev)
	}
}

func (s *Store) List(ctx context.Context, t gateway.Table, q gateway.Query) ([]gateway.Row, error) {
	if err := checkQuery(t, q); err != nil {
		return nil, gateway.NewError("list", t, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	tb := s.tables[t]
	out := make([]gateway.Row, 0, len(tb.order))
	for _, k := range tb.order {
		r := tb.rows[k]
		if !matches(t, r, q.Eq) {
			continue
		}
		out = append(out, r)
	}
	if q.Order != "" {
		sort.SliceStable(out, func(i, j int) bool {
			c := gateway.Compare(out[i][q.Order], out[j][q.Order])
			if q.Desc {
				return c > 0
			}
			return c < 0
		})
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}

	res := make([]gateway.Row, 0, len(out))
	for _, r := range out {
		row := project(r, q.Columns)
		for _, e := range q.Embeds {
			row[string(e.Relation)] = s.embed(t, r, e)
		}
		res = append(res, row)
	}
	return res, nil
}

func (s *Store) embed(t gateway.Table, r gateway.Row, e gateway.Embed) any {
	rel, _ := gateway.LookupRelation(t, e.Relation)
	fk := gateway.StringValue(r[rel.FKColumn])
	if fk == "" {
		return nil
	}
	target, ok := s.tables[e.Relation].rows[fk]
	if !ok {
		return nil
	}
	return map[string]any(project(target, e.Columns))
}

func (s *Store) Insert(ctx context.Context, t gateway.Table, in gateway.Row) (gateway.Row, error) {
	row, err := gateway.CoerceRow(t, in)
	if err != nil {
		return nil, gateway.NewError("insert", t, err)
	}
	s.applyDefaults(t, row)
	key := gateway.KeyOf(t, row)
	if key == "" {
		return nil, gateway.NewError("insert", t, errors.Wrap(ErrMissingKey, t.KeyColumn()))
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()

	s.mu.Lock()
	tb := s.tables[t]
	if _, ok := tb.rows[key]; ok {
		s.mu.Unlock()
		return nil, gateway.NewError("insert", t, errors.Wrapf(ErrDuplicateKey, "%s=%s", t.KeyColumn(), key))
	}
	tb.rows[key] = row
	tb.order = append(tb.order, key)
	events := []changefeed.Event{s.event(t, changefeed.KindInsert, row, nil)}
	s.mu.Unlock()

	s.emit(events)
	return cloneRow(row), nil
}

func (s *Store) Update(ctx context.Context, t gateway.Table, key string, patch gateway.Row) (gateway.Row, error) {
	p, err := gateway.CoerceRow(t, patch)
	if err != nil {
		return nil, gateway.NewError("update", t, err)
	}
	if _, ok := p[t.KeyColumn()]; ok && gateway.StringValue(p[t.KeyColumn()]) != key {
		return nil, gateway.NewError("update", t, errors.New("primary key cannot change"))
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()

	s.mu.Lock()
	tb := s.tables[t]
	old, ok := tb.rows[key]
	if !ok {
		s.mu.Unlock()
		return nil, gateway.NewError("update", t, gateway.ErrNotFound)
	}
	if t == gateway.TableStopRequests && old["approved"] == true {
		if v, ok := p["approved"]; ok && v != true {
			s.mu.Unlock()
			return nil, gateway.NewError("update", t, ErrApprovalFinal)
		}
	}
	next := cloneRow(old)
	for k, v := range p {
		next[k] = v
	}
	if t == gateway.TableLocations {
		if _, ok := p["updated_at"]; !ok {
			next["updated_at"] = s.now().UTC()
		}
	}
	tb.rows[key] = next
	events := []changefeed.Event{s.event(t, changefeed.KindUpdate, next, old)}

	if t == gateway.TableStopRequests && old["approved"] != true && next["approved"] == true {
		// approving a stop request ends tracking for that driver
		if driverID := gateway.StringValue(next["driver_id"]); driverID != "" {
			events = append(events, s.deleteLocked(gateway.TableLocations, driverID)...)
		}
	}
	s.mu.Unlock()

	s.emit(events)
	return cloneRow(next), nil
}

// Delete is idempotent: a missing key is not an error.
func (s *Store) Delete(ctx context.Context, t gateway.Table, key string) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	s.mu.Lock()
	events := s.deleteLocked(t, key)
	s.mu.Unlock()

	s.emit(events)
	return nil
}

func (s *Store) deleteLocked(t gateway.Table, key string) []changefeed.Event {
	tb := s.tables[t]
	old, ok := tb.rows[key]
	if !ok {
		return nil
	}
	var events []changefeed.Event
	for _, rel := range gateway.Referencing(t) {
		ref := s.tables[rel.Table]
		for _, k := range append([]string(nil), ref.order...) {
			r := ref.rows[k]
			if gateway.StringValue(r[rel.FKColumn]) != key {
				continue
			}
			if rel.OnDelete == gateway.Cascade {
				events = append(events, s.deleteLocked(rel.Table, k)...)
				continue
			}
			next := cloneRow(r)
			next[rel.FKColumn] = nil
			ref.rows[k] = next
			events = append(events, s.event(rel.Table, changefeed.KindUpdate, next, r))
		}
	}

	delete(tb.rows, key)
	for i, k := range tb.order {
		if k == key {
			tb.order = append(tb.order[:i], tb.order[i+1:]...)
			break
		}
	}
	return append(events, s.event(t, changefeed.KindDelete, nil, old))
}

// CreateUser stores a driver credential with a bcrypt hash and returns its id.
func (s *Store) CreateUser(ctx context.Context, in models.UserCreate) (string, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" {
		return "", errors.New("email is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return "", errors.Wrap(err, "hash password")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[email]; ok {
		return "", ErrUserExists
	}
	u := user{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		FullName:     in.FullName,
		Phone:        in.Phone,
		Role:         in.Role,
		CreatedAt:    s.now().UTC(),
	}
	s.users[email] = u
	return u.ID, nil
}

// CheckPassword reports whether password matches the stored hash for email.
func (s *Store) CheckPassword(email, password string) bool {
	s.mu.RLock()
	u, ok := s.users[strings.ToLower(strings.TrimSpace(email))]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)) == nil
}

func (s *Store) Ping(ctx context.Context) error { return nil }

func (s *Store) applyDefaults(t gateway.Table, row gateway.Row) {
	now := s.now().UTC()
	setDefault := func(k string, v any) {
		if cur, ok := row[k]; !ok || cur == nil {
			row[k] = v
		}
	}
	switch t {
	case gateway.TableDrivers:
		setDefault("id", uuid.NewString())
	case gateway.TableLoads:
		setDefault("id", uuid.NewString())
		setDefault("status", string(models.LoadStatusPending))
		setDefault("created_at", now)
	case gateway.TableLocations:
		setDefault("updated_at", now)
	case gateway.TableStopRequests:
		setDefault("id", uuid.NewString())
		setDefault("approved", false)
		setDefault("requested_at", now)
	}
	for _, c := range gateway.Columns(t) {
		if _, ok := row[c.Name]; !ok {
			row[c.Name] = nil
		}
	}
}

func (s *Store) event(t gateway.Table, kind changefeed.Kind, next, old gateway.Row) changefeed.Event {
	ev := changefeed.Event{Table: t, Kind: kind, CommitTime: s.now().UTC()}
	if next != nil {
		ev.New, _ = json.Marshal(next)
	}
	if old != nil {
		ev.Old, _ = json.Marshal(old)
	}
	return ev
}

func checkQuery(t gateway.Table, q gateway.Query) error {
	if !t.Valid() {
		return errors.Errorf("relation %q does not exist", t)
	}
	if err := gateway.CheckColumns(t, q.Columns); err != nil {
		return err
	}
	for k := range q.Eq {
		if err := gateway.CheckColumns(t, []string{k}); err != nil {
			return err
		}
	}
	if q.Order != "" {
		if err := gateway.CheckColumns(t, []string{q.Order}); err != nil {
			return err
		}
	}
	for _, e := range q.Embeds {
		if _, ok := gateway.LookupRelation(t, e.Relation); !ok {
			return errors.Errorf("no relationship between %s and %s", t, e.Relation)
		}
		if err := gateway.CheckColumns(e.Relation, e.Columns); err != nil {
			return err
		}
	}
	return nil
}

func matches(t gateway.Table, r gateway.Row, eq map[string]any) bool {
	for k, want := range eq {
		col, _ := gateway.LookupColumn(t, k)
		cv, err := gateway.Coerce(col, want)
		if err != nil {
			return false
		}
		if gateway.Compare(r[k], cv) != 0 {
			return false
		}
	}
	return true
}

func project(r gateway.Row, cols []string) gateway.Row {
	if len(cols) == 0 {
		return cloneRow(r)
	}
	out := make(gateway.Row, len(cols))
	for _, c := range cols {
		out[c] = r[c]
	}
	return out
}

func cloneRow(r gateway.Row) gateway.Row {
	out := make(gateway.Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
