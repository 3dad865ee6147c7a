package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	tgbotapi "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
)

// Transport — канал доставки уведомлений. Диспетчер ретраит только
// TransientError, PermanentError фиксируется и не повторяется.
type Transport interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// TransientError — временный сбой доставки (сеть, 5xx, 429). RetryAfter > 0
// значит Telegram явно попросил подождать.
type TransientError struct {
	Err        error
	RetryAfter time.Duration
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError — доставка этому получателю невозможна (бот заблокирован,
// чат не существует). Ретраи бессмысленны.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// RetryAfterOf достаёт подсказку Telegram из transient-ошибки (0, если нет).
func RetryAfterOf(err error) time.Duration {
	var te *TransientError
	if errors.As(err, &te) {
		return te.RetryAfter
	}
	return 0
}

type Bot struct {
	api    *tgbotapi.BotAPI
	logger *slog.Logger
}

func NewBot(token string, logger *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, errors.Wrap(err, "telegram bot init")
	}
	logger.Info("telegram bot authorized", "username", api.Self.UserName)
	return &Bot{api: api, logger: logger}, nil
}

func (b *Bot) Send(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return &TransientError{Err: err}
	}
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		return classify(err)
	}
	return nil
}

func classify(err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 429:
			retryAfter := time.Duration(apiErr.RetryAfter) * time.Second
			return &TransientError{Err: err, RetryAfter: retryAfter}
		case apiErr.Code >= 500:
			return &TransientError{Err: err}
		case apiErr.Code == 403 || apiErr.Code == 400:
			// бот заблокирован / chat not found / битый текст
			return &PermanentError{Err: err}
		default:
			return &PermanentError{Err: err}
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &TransientError{Err: err}
	}
	// неизвестный транспортный сбой считаем временным
	return &TransientError{Err: err}
}

// LogTransport пишет уведомления в лог вместо Telegram. Используется, когда
// токен не задан (dev-окружение, интеграционные стенды).
type LogTransport struct {
	Logger *slog.Logger
}

func (t *LogTransport) Send(_ context.Context, chatID int64, text string) error {
	t.Logger.Info("notification (dry-run)", "chat_id", chatID, "text", fmt.Sprintf("%.120s", text))
	return nil
}
