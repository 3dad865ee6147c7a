package cache

import (
	"context"
	"time"
)

// BytesCache — кэш "как есть" байтов. Кэш best-effort: промах или ошибка
// не считаются фатальными, источником истины всегда остаётся БД.
type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
