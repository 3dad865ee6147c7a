package pvsportal

import (
	"context"
	"errors"
	"fmt"
)

// RawShipment — строка поставки в том виде, как её отдаёт портал ПВЗ:
// всё строками, "-" вместо отсутствующих значений. Валидация и парсинг
// выполняются нормализатором, не клиентом.
type RawShipment struct {
	ReportID        string
	PvsName         string
	DeliveryDate    string // "2006-01-02"
	CreatedAt       string // "2006-01-02 15:04:05"
	UnloadStartedAt string // "-" если разгрузка не начиналась
	ClosedAt        string // "-" если не закрыта
	Status          string
	Sent            string
	Received        string
	Excess          string
	BoxesCount      string
}

type ErrorKind string

const (
	ErrTimeout           ErrorKind = "TIMEOUT"
	ErrAuthFailure       ErrorKind = "AUTH_FAILURE"
	ErrMalformedResponse ErrorKind = "MALFORMED_RESPONSE"
	ErrUnreachable       ErrorKind = "UNREACHABLE"
)

// SourceError — классифицированная ошибка одного инстанса. Никогда не
// роняет цикл: коллектор превращает её в failed-результат по инстансу.
type SourceError struct {
	Kind     ErrorKind
	Instance string
	Err      error
}

func (e *SourceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("pvs %s: %s", e.Instance, e.Kind)
	}
	return fmt.Sprintf("pvs %s: %s: %v", e.Instance, e.Kind, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

func NewSourceError(kind ErrorKind, instance string, err error) *SourceError {
	return &SourceError{Kind: kind, Instance: instance, Err: err}
}

// KindOf достаёт классификацию из ошибки. Всё, что не SourceError
// (включая отмену контекста по дедлайну цикла), считаем таймаутом:
// инстанс просто не успел в бюджет и будет опрошен в следующем цикле.
func KindOf(err error) ErrorKind {
	var se *SourceError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ErrTimeout
}

type Client interface {
	FetchShipments(ctx context.Context, instance string) ([]RawShipment, error)
}
