package pgpostavki

import (
	"context"
	"time"

	"github.com/BearBump/PostavkaBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

const postavkaColumns = `
  id, report_id, pvs_name, delivery_date,
  created_at, unload_started_at, closed_at,
  status, sent, received, excess,
  group_index, boxes_count, unload_duration_seconds,
  inserted_at, updated_at`

func scanPostavka(row pgx.Row) (*models.Postavka, error) {
	var p models.Postavka
	var unloadStartedAt, closedAt *time.Time
	var unloadDuration *int64
	if err := row.Scan(
		&p.ID, &p.ReportID, &p.PvsName, &p.DeliveryDate,
		&p.CreatedAt, &unloadStartedAt, &closedAt,
		&p.Status, &p.Sent, &p.Received, &p.Excess,
		&p.GroupIndex, &p.BoxesCount, &unloadDuration,
		&p.InsertedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	p.UnloadStartedAt = unloadStartedAt
	p.ClosedAt = closedAt
	p.UnloadDurationSeconds = unloadDuration
	return &p, nil
}

// GroupIndexes возвращает уже назначенные индексы группы (pvs_name, дата):
// report_id -> group_index и максимальный занятый индекс (-1, если группа пуста).
// Группер обязан спрашивать здесь перед назначением, иначе индексы поплывут
// между циклами.
func (s *Storage) GroupIndexes(ctx context.Context, pvsName string, deliveryDate time.Time) (map[string]int, int, error) {
	rows, err := s.db.Query(ctx, `
SELECT report_id, group_index
FROM postavki
WHERE pvs_name = $1 AND delivery_date = $2
`, pvsName, deliveryDate)
	if err != nil {
		return nil, -1, errors.Wrap(err, "select group indexes")
	}
	defer rows.Close()

	out := make(map[string]int)
	maxIdx := -1
	for rows.Next() {
		var reportID string
		var idx int
		if err := rows.Scan(&reportID, &idx); err != nil {
			return nil, -1, errors.Wrap(err, "scan group index")
		}
		out[reportID] = idx
		if idx > maxIdx {
			maxIdx = idx
		}
	}
	if rows.Err() != nil {
		return nil, -1, errors.Wrap(rows.Err(), "rows")
	}
	return out, maxIdx, nil
}

func (s *Storage) GetByKey(ctx context.Context, reportID, pvsName string) (*models.Postavka, error) {
	p, err := scanPostavka(s.db.QueryRow(ctx, `
SELECT`+postavkaColumns+`
FROM postavki
WHERE report_id = $1 AND pvs_name = $2
`, reportID, pvsName))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select postavka")
	}
	return p, nil
}

// Upsert атомарно создаёт или обновляет поставку по логическому ключу
// (report_id, pvs_name). Конкурирующие апсерты одного ключа сериализуются
// блокировкой строки (SELECT ... FOR UPDATE), разные ключи идут параллельно.
// Регресс статуса и коллизия group_index не применяются: возвращается
// Rejected, строка остаётся как была.
func (s *Storage) Upsert(ctx context.Context, in *models.Postavka) (models.UpsertOutcome, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.UpsertOutcome{}, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cur, err := scanPostavka(tx.QueryRow(ctx, `
SELECT`+postavkaColumns+`
FROM postavki
WHERE report_id = $1 AND pvs_name = $2
FOR UPDATE
`, in.ReportID, in.PvsName))

	if err == pgx.ErrNoRows {
		outcome, err := s.insertNew(ctx, tx, in, now)
		if err != nil {
			return models.UpsertOutcome{}, err
		}
		if outcome.Result == models.UpsertCreated {
			if err := tx.Commit(ctx); err != nil {
				return models.UpsertOutcome{}, errors.Wrap(err, "commit tx")
			}
		}
		return outcome, nil
	}
	if err != nil {
		return models.UpsertOutcome{}, errors.Wrap(err, "select for update")
	}

	// Статус движется только вперёд.
	if models.StatusRank(in.Status) < models.StatusRank(cur.Status) {
		return models.UpsertOutcome{
			Result:       models.UpsertRejected,
			RejectReason: models.RejectStatusRegression,
		}, nil
	}

	next := *cur
	next.Status = in.Status
	next.CreatedAt = in.CreatedAt
	next.UnloadStartedAt = in.UnloadStartedAt
	next.ClosedAt = in.ClosedAt
	next.Sent = in.Sent
	next.Received = in.Received
	next.Excess = in.Excess
	next.BoxesCount = in.BoxesCount
	next.UnloadDurationSeconds = unloadDuration(in.UnloadStartedAt, in.ClosedAt)

	if !mutableFieldsDiffer(cur, &next) {
		// No-op: downstream нотификации не нужны.
		return models.UpsertOutcome{
			Result:   models.UpsertUpdated,
			Changed:  false,
			Postavka: cur,
		}, nil
	}

	if err := tx.QueryRow(ctx, `
UPDATE postavki
SET
  status = $3,
  created_at = $4,
  unload_started_at = $5,
  closed_at = $6,
  sent = $7,
  received = $8,
  excess = $9,
  boxes_count = $10,
  unload_duration_seconds = $11,
  updated_at = $12
WHERE report_id = $1 AND pvs_name = $2
RETURNING updated_at
`, next.ReportID, next.PvsName,
		next.Status, next.CreatedAt.UTC(), tsPtr(next.UnloadStartedAt), tsPtr(next.ClosedAt),
		next.Sent, next.Received, next.Excess, next.BoxesCount,
		next.UnloadDurationSeconds, now,
	).Scan(&next.UpdatedAt); err != nil {
		return models.UpsertOutcome{}, errors.Wrap(err, "update postavka")
	}

	if err := tx.Commit(ctx); err != nil {
		return models.UpsertOutcome{}, errors.Wrap(err, "commit tx")
	}

	return models.UpsertOutcome{
		Result:   models.UpsertUpdated,
		Changed:  true,
		Postavka: &next,
	}, nil
}

func (s *Storage) insertNew(ctx context.Context, tx pgx.Tx, in *models.Postavka, now time.Time) (models.UpsertOutcome, error) {
	created := *in
	created.UnloadDurationSeconds = unloadDuration(in.UnloadStartedAt, in.ClosedAt)

	err := tx.QueryRow(ctx, `
INSERT INTO postavki (
  report_id, pvs_name, delivery_date, created_at,
  unload_started_at, closed_at, status,
  sent, received, excess, group_index,
  boxes_count, unload_duration_seconds, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
RETURNING id, inserted_at, updated_at
`, in.ReportID, in.PvsName, in.DeliveryDate, in.CreatedAt.UTC(),
		tsPtr(in.UnloadStartedAt), tsPtr(in.ClosedAt), in.Status,
		in.Sent, in.Received, in.Excess, in.GroupIndex,
		in.BoxesCount, created.UnloadDurationSeconds, now,
	).Scan(&created.ID, &created.InsertedAt, &created.UpdatedAt)

	if isUniqueViolation(err, "uq_postavki_group_slot") {
		return models.UpsertOutcome{
			Result:       models.UpsertRejected,
			RejectReason: models.RejectGroupIndexCollide,
		}, nil
	}
	if err != nil {
		return models.UpsertOutcome{}, errors.Wrap(err, "insert postavka")
	}

	return models.UpsertOutcome{
		Result:   models.UpsertCreated,
		Changed:  true,
		Postavka: &created,
	}, nil
}

func unloadDuration(started, closed *time.Time) *int64 {
	if started == nil || closed == nil {
		return nil
	}
	d := int64(closed.Sub(*started).Seconds())
	if d < 0 {
		return nil
	}
	return &d
}

func mutableFieldsDiffer(a, b *models.Postavka) bool {
	return a.Status != b.Status ||
		!a.CreatedAt.Equal(b.CreatedAt) ||
		!timePtrEqual(a.UnloadStartedAt, b.UnloadStartedAt) ||
		!timePtrEqual(a.ClosedAt, b.ClosedAt) ||
		a.Sent != b.Sent ||
		a.Received != b.Received ||
		a.Excess != b.Excess ||
		a.BoxesCount != b.BoxesCount
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func tsPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return constraint == "" || pgErr.ConstraintName == constraint
	}
	return false
}
