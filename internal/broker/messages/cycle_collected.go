package messages

import (
	"time"

	"github.com/BearBump/PostavkaBox/internal/integrations/pvsportal"
)

// Итоги опроса одного инстанса.
const (
	CycleOutcomeSuccess = "success"
	CycleOutcomeFailed  = "failed"
)

// CycleCollected — сообщение коллектора: сырые строки одного инстанса за
// один цикл опроса. Failed-результаты тоже публикуются, чтобы notifier видел
// полную картину цикла в логах.
type CycleCollected struct {
	Instance    string    `json:"instance"`
	CollectedAt time.Time `json:"collected_at"`

	Outcome   string  `json:"outcome"`
	ErrorKind string  `json:"error_kind,omitempty"`
	Error     *string `json:"error,omitempty"`

	Records []RawShipment `json:"records,omitempty"`
}

// RawShipment дублирует pvsportal.RawShipment в wire-формате, чтобы схема
// топика не зависела от внутреннего пакета интеграции.
type RawShipment struct {
	ReportID        string `json:"report_id"`
	PvsName         string `json:"pvs_name"`
	DeliveryDate    string `json:"delivery_date"`
	CreatedAt       string `json:"created_at"`
	UnloadStartedAt string `json:"unload_started_at"`
	ClosedAt        string `json:"closed_at"`
	Status          string `json:"status"`
	Sent            string `json:"sent"`
	Received        string `json:"received"`
	Excess          string `json:"excess"`
	BoxesCount      string `json:"boxes_count"`
}

func FromRawShipments(in []pvsportal.RawShipment) []RawShipment {
	out := make([]RawShipment, 0, len(in))
	for _, r := range in {
		out = append(out, RawShipment(r))
	}
	return out
}

func ToRawShipments(in []RawShipment) []pvsportal.RawShipment {
	out := make([]pvsportal.RawShipment, 0, len(in))
	for _, r := range in {
		out = append(out, pvsportal.RawShipment(r))
	}
	return out
}
