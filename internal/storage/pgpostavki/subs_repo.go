package pgpostavki

import (
	"context"

	"github.com/BearBump/PostavkaBox/internal/models"
	"github.com/pkg/errors"
)

// Подписки и whitelist пишутся внешней админкой бота, конвейер их только
// читает. Слегка устаревший снапшот допустим.

func (s *Storage) ListSubscriptionsByLocation(ctx context.Context, locationName string) ([]models.Subscription, error) {
	rows, err := s.db.Query(ctx, `
SELECT chat_id, location_name, time_slot
FROM user_subscriptions
WHERE location_name = $1
ORDER BY chat_id, time_slot
`, locationName)
	if err != nil {
		return nil, errors.Wrap(err, "select subscriptions")
	}
	defer rows.Close()

	var out []models.Subscription
	for rows.Next() {
		var sub models.Subscription
		if err := rows.Scan(&sub.ChatID, &sub.LocationName, &sub.TimeSlot); err != nil {
			return nil, errors.Wrap(err, "scan subscription")
		}
		out = append(out, sub)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) ListWhitelist(ctx context.Context) (map[int64]struct{}, error) {
	rows, err := s.db.Query(ctx, `SELECT chat_id FROM user_whitelist`)
	if err != nil {
		return nil, errors.Wrap(err, "select whitelist")
	}
	defer rows.Close()

	out := make(map[int64]struct{})
	for rows.Next() {
		var chatID int64
		if err := rows.Scan(&chatID); err != nil {
			return nil, errors.Wrap(err, "scan whitelist")
		}
		out[chatID] = struct{}{}
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
