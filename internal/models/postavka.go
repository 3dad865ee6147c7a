package models

import "time"

// Статусы поставки. Переходы только вперёд: created -> unloading -> closed.
const (
	PostavkaStatusCreated   = "created"
	PostavkaStatusUnloading = "unloading"
	PostavkaStatusClosed    = "closed"
	PostavkaStatusUnknown   = "unknown"
)

// StatusRank задаёт порядок статусов для проверки монотонности.
// Неизвестные строки приравниваются к unknown.
func StatusRank(status string) int {
	switch status {
	case PostavkaStatusCreated:
		return 1
	case PostavkaStatusUnloading:
		return 2
	case PostavkaStatusClosed:
		return 3
	default:
		return 0
	}
}

// Postavka — одна поставка на ПВЗ. Логический ключ (ReportID, PvsName),
// физический — суррогатный ID.
type Postavka struct {
	ID           uint64
	ReportID     string
	PvsName      string
	DeliveryDate time.Time

	CreatedAt       time.Time
	UnloadStartedAt *time.Time
	ClosedAt        *time.Time

	Status string

	Sent     int
	Received int
	Excess   int

	// GroupIndex назначается один раз при первой записи и больше не меняется.
	GroupIndex int

	BoxesCount int

	// UnloadDurationSeconds = ClosedAt - UnloadStartedAt, когда оба известны.
	UnloadDurationSeconds *int64

	InsertedAt time.Time
	UpdatedAt  time.Time
}

type Subscription struct {
	ChatID       int64
	LocationName string
	TimeSlot     string
}

type UpsertResult string

const (
	UpsertCreated  UpsertResult = "CREATED"
	UpsertUpdated  UpsertResult = "UPDATED"
	UpsertRejected UpsertResult = "REJECTED"
)

// Причины отказа при апсерте (data-integrity, не ошибки инфраструктуры).
const (
	RejectStatusRegression  = "status_regression"
	RejectGroupIndexCollide = "group_index_collision"
)

type UpsertOutcome struct {
	Result UpsertResult

	// Changed=false у Updated означает no-op: все изменяемые поля совпали,
	// нотификации не нужны.
	Changed bool

	RejectReason string

	// Полное состояние строки после апсерта (nil при Rejected).
	Postavka *Postavka
}
