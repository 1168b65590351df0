package pgfreight

import (
	"context"
	"fmt"

	"github.com/BearBump/DispatchBox/internal/gateway"
	"github.com/pkg/errors"
)

const schemaLockID int64 = 0x64697370

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS auth_users (
  id TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
  email TEXT NOT NULL UNIQUE,
  password_hash TEXT NOT NULL,
  full_name TEXT NOT NULL DEFAULT '',
  phone TEXT NOT NULL DEFAULT '',
  role TEXT NOT NULL DEFAULT 'driver',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`
CREATE TABLE IF NOT EXISTS drivers (
  id TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
  full_name TEXT NOT NULL DEFAULT '',
  phone TEXT NOT NULL DEFAULT '',
  email TEXT NOT NULL DEFAULT '',
  auth_user_id TEXT NULL REFERENCES auth_users(id) ON DELETE SET NULL
)`,
		`
CREATE TABLE IF NOT EXISTS loads (
  id TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
  load_number TEXT NOT NULL DEFAULT '',
  commodity TEXT NULL,
  pallets INTEGER NULL CHECK (pallets >= 0),
  weights DOUBLE PRECISION NULL CHECK (weights >= 0),
  pickup_location TEXT NOT NULL DEFAULT '',
  delivery_location TEXT NOT NULL DEFAULT '',
  pickup_datetime TIMESTAMPTZ NULL,
  delivery_datetime TIMESTAMPTZ NULL,
  status TEXT NOT NULL DEFAULT 'Pending',
  driver_id TEXT NULL REFERENCES drivers(id) ON DELETE SET NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE INDEX IF NOT EXISTS idx_loads_created_at ON loads(created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_loads_driver_id ON loads(driver_id)`,
		`
CREATE TABLE IF NOT EXISTS locations (
  driver_id TEXT PRIMARY KEY REFERENCES drivers(id) ON DELETE CASCADE,
  latitude DOUBLE PRECISION NOT NULL DEFAULT 0,
  longitude DOUBLE PRECISION NOT NULL DEFAULT 0,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  load_id TEXT NULL REFERENCES loads(id) ON DELETE SET NULL
)`,
		`
CREATE TABLE IF NOT EXISTS tracking_stop_requests (
  id TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
  driver_id TEXT NULL REFERENCES drivers(id) ON DELETE CASCADE,
  load_id TEXT NULL REFERENCES loads(id) ON DELETE SET NULL,
  approved BOOLEAN NOT NULL DEFAULT false,
  requested_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE INDEX IF NOT EXISTS idx_stop_requests_requested_at ON tracking_stop_requests(requested_at DESC)`,
		fmt.Sprintf(`
CREATE OR REPLACE FUNCTION dispatch_notify_change() RETURNS trigger AS $$
BEGIN
  PERFORM pg_notify('%s', jsonb_build_object(
    'table', TG_TABLE_NAME,
    'type', TG_OP,
    'record', CASE WHEN TG_OP = 'DELETE' THEN NULL ELSE to_jsonb(NEW) END,
    'old_record', CASE WHEN TG_OP = 'INSERT' THEN NULL ELSE to_jsonb(OLD) END,
    'commit_time', now()
  )::text);
  RETURN NULL;
END;
$$ LANGUAGE plpgsql`, NotifyChannel),
		// approval is one-way
		`
CREATE OR REPLACE FUNCTION dispatch_stop_request_guard() RETURNS trigger AS $$
BEGIN
  IF OLD.approved AND NOT NEW.approved THEN
    RAISE EXCEPTION 'approved stop request cannot be revoked';
  END IF;
  RETURN NEW;
END;
$$ LANGUAGE plpgsql`,
		// an approved stop request ends tracking for the driver
		`
CREATE OR REPLACE FUNCTION dispatch_stop_request_cleanup() RETURNS trigger AS $$
BEGIN
  IF NEW.approved AND NOT OLD.approved AND NEW.driver_id IS NOT NULL THEN
    DELETE FROM locations WHERE driver_id = NEW.driver_id;
  END IF;
  RETURN NULL;
END;
$$ LANGUAGE plpgsql`,
		`DROP TRIGGER IF EXISTS dispatch_stop_guard ON tracking_stop_requests`,
		`
CREATE TRIGGER dispatch_stop_guard BEFORE UPDATE ON tracking_stop_requests
FOR EACH ROW EXECUTE FUNCTION dispatch_stop_request_guard()`,
		`DROP TRIGGER IF EXISTS dispatch_stop_cleanup ON tracking_stop_requests`,
		`
CREATE TRIGGER dispatch_stop_cleanup AFTER UPDATE ON tracking_stop_requests
FOR EACH ROW EXECUTE FUNCTION dispatch_stop_request_cleanup()`,
	}

	for _, t := range gateway.Tables {
		stmts = append(stmts,
			fmt.Sprintf(`DROP TRIGGER IF EXISTS dispatch_notify ON %s`, t),
			fmt.Sprintf(`
CREATE TRIGGER dispatch_notify AFTER INSERT OR UPDATE OR DELETE ON %s
FOR EACH ROW EXECUTE FUNCTION dispatch_notify_change()`, t),
		)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// api and relay may bootstrap the same database at once
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockID); err != nil {
		return errors.Wrap(err, "schema lock")
	}
	for _, q := range stmts {
		if _, err := tx.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}
