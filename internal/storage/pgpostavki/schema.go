package pgpostavki

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS postavki (
  id BIGSERIAL PRIMARY KEY,
  report_id TEXT NOT NULL,
  pvs_name TEXT NOT NULL,
  delivery_date DATE NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  unload_started_at TIMESTAMPTZ NULL,
  closed_at TIMESTAMPTZ NULL,
  status TEXT NOT NULL,
  sent INT NOT NULL DEFAULT 0,
  received INT NOT NULL DEFAULT 0,
  excess INT NOT NULL DEFAULT 0,
  group_index INT NOT NULL,
  boxes_count INT NOT NULL DEFAULT 0,
  unload_duration_seconds BIGINT NULL,
  inserted_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL,
  CONSTRAINT uq_postavki_report UNIQUE (report_id, pvs_name)
)`,
		// Один индекс на слот группы: коллизия здесь означает баг группировки
		// выше по конвейеру, вставка должна отбиться, а не перезаписать.
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_postavki_group_slot ON postavki(pvs_name, delivery_date, group_index)`,
		`CREATE INDEX IF NOT EXISTS idx_postavki_pvs_date ON postavki(pvs_name, delivery_date)`,
		`
CREATE TABLE IF NOT EXISTS user_whitelist (
  chat_id BIGINT PRIMARY KEY
)`,
		`
CREATE TABLE IF NOT EXISTS user_subscriptions (
  chat_id BIGINT NOT NULL,
  location_name TEXT NOT NULL,
  time_slot TEXT NOT NULL,
  PRIMARY KEY (chat_id, location_name, time_slot)
)`,
		`CREATE INDEX IF NOT EXISTS idx_user_subscriptions_location ON user_subscriptions(location_name)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
