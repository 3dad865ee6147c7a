package matcher

import (
	"fmt"
	"strings"
	"time"

	"github.com/BearBump/PostavkaBox/internal/models"
)

// Политика сравнения слота подписки со временем поставки.
const (
	PolicyExact  = "exact"  // метка слота должна совпасть буквально
	PolicyWindow = "window" // время поставки попадает в интервал слота
)

// Snapshot — подписки и whitelist, прочитанные одним заходом перед матчингом.
// Матчер не ходит в базу сам: так состав получателей не меняется
// посреди одной поставки.
type Snapshot struct {
	Subscriptions []models.Subscription
	Whitelist     map[int64]struct{}
}

type Matcher struct {
	policy string
}

func New(policy string) *Matcher {
	if policy != PolicyWindow {
		policy = PolicyExact
	}
	return &Matcher{policy: policy}
}

// Match возвращает chat_id получателей для поставки: подписка на её локацию,
// подходящий слот и присутствие в whitelist. Без дублей, порядок как в
// снапшоте.
func (m *Matcher) Match(p *models.Postavka, snap Snapshot) []int64 {
	var out []int64
	seen := make(map[int64]struct{})
	for _, sub := range snap.Subscriptions {
		if sub.LocationName != p.PvsName {
			continue
		}
		if !m.slotMatches(sub.TimeSlot, p.CreatedAt) {
			continue
		}
		if _, ok := snap.Whitelist[sub.ChatID]; !ok {
			continue
		}
		if _, ok := seen[sub.ChatID]; ok {
			continue
		}
		seen[sub.ChatID] = struct{}{}
		out = append(out, sub.ChatID)
	}
	return out
}

func (m *Matcher) slotMatches(slot string, createdAt time.Time) bool {
	slot = strings.TrimSpace(slot)
	if slot == "" {
		// подписка на локацию целиком
		return true
	}
	if m.policy == PolicyWindow {
		start, end, ok := parseWindow(slot)
		if !ok {
			return false
		}
		minute := createdAt.Hour()*60 + createdAt.Minute()
		return minute >= start && minute < end
	}
	return slot == SlotLabel(createdAt)
}

// SlotLabel — каноническая метка часового слота, как её показывает бот:
// "10:00-11:00".
func SlotLabel(t time.Time) string {
	h := t.Hour()
	return fmt.Sprintf("%d:00-%d:00", h, h+1)
}

// parseWindow разбирает "HH:MM-HH:MM" в минуты от полуночи.
func parseWindow(slot string) (start, end int, ok bool) {
	parts := strings.SplitN(slot, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	start, ok = parseClock(parts[0])
	if !ok {
		return 0, 0, false
	}
	end, ok = parseClock(parts[1])
	if !ok {
		return 0, 0, false
	}
	if end <= start {
		return 0, 0, false
	}
	return start, end, true
}

func parseClock(s string) (int, bool) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		// слоты из бота без ведущего нуля: "6:00"
		t, err = time.Parse("3:04", strings.TrimSpace(s))
		if err != nil {
			return 0, false
		}
	}
	return t.Hour()*60 + t.Minute(), true
}
