package matcher

import (
	"testing"
	"time"

	"github.com/BearBump/PostavkaBox/internal/models"
	"github.com/stretchr/testify/require"
)

func snapshotWith(subs ...models.Subscription) Snapshot {
	wl := make(map[int64]struct{})
	for _, s := range subs {
		wl[s.ChatID] = struct{}{}
	}
	return Snapshot{Subscriptions: subs, Whitelist: wl}
}

func postavkaAt(pvs string, hour, minute int) *models.Postavka {
	return &models.Postavka{
		PvsName:   pvs,
		CreatedAt: time.Date(2025, 9, 1, hour, minute, 0, 0, time.UTC),
	}
}

func TestMatcher_ExactPolicy(t *testing.T) {
	m := New(PolicyExact)
	snap := snapshotWith(
		models.Subscription{ChatID: 1, LocationName: "Loc1", TimeSlot: "10:00-11:00"},
		models.Subscription{ChatID: 2, LocationName: "Loc1", TimeSlot: "11:00-12:00"},
		models.Subscription{ChatID: 3, LocationName: "Loc2", TimeSlot: "10:00-11:00"},
	)

	got := m.Match(postavkaAt("Loc1", 10, 30), snap)
	require.Equal(t, []int64{1}, got)

	got = m.Match(postavkaAt("Loc1", 12, 0), snap)
	require.Empty(t, got)
}

func TestMatcher_WhitelistGate(t *testing.T) {
	m := New(PolicyExact)
	snap := Snapshot{
		Subscriptions: []models.Subscription{
			{ChatID: 1, LocationName: "Loc1", TimeSlot: "10:00-11:00"},
			{ChatID: 2, LocationName: "Loc1", TimeSlot: "10:00-11:00"},
		},
		Whitelist: map[int64]struct{}{2: {}},
	}

	got := m.Match(postavkaAt("Loc1", 10, 0), snap)
	require.Equal(t, []int64{2}, got)
}

func TestMatcher_DedupAcrossSlots(t *testing.T) {
	m := New(PolicyWindow)
	snap := snapshotWith(
		models.Subscription{ChatID: 1, LocationName: "Loc1", TimeSlot: "9:00-12:00"},
		models.Subscription{ChatID: 1, LocationName: "Loc1", TimeSlot: "10:00-11:00"},
	)

	got := m.Match(postavkaAt("Loc1", 10, 15), snap)
	require.Equal(t, []int64{1}, got)
}

func TestMatcher_WindowPolicy(t *testing.T) {
	m := New(PolicyWindow)
	snap := snapshotWith(
		models.Subscription{ChatID: 1, LocationName: "Loc1", TimeSlot: "10:00-12:00"},
	)

	require.Equal(t, []int64{1}, m.Match(postavkaAt("Loc1", 11, 59), snap))
	// правая граница исключается
	require.Empty(t, m.Match(postavkaAt("Loc1", 12, 0), snap))
	require.Empty(t, m.Match(postavkaAt("Loc1", 9, 59), snap))
}

func TestMatcher_EmptySlotMatchesWholeLocation(t *testing.T) {
	m := New(PolicyExact)
	snap := snapshotWith(
		models.Subscription{ChatID: 1, LocationName: "Loc1", TimeSlot: ""},
	)
	require.Equal(t, []int64{1}, m.Match(postavkaAt("Loc1", 3, 0), snap))
}

func TestSlotLabel(t *testing.T) {
	require.Equal(t, "6:00-7:00", SlotLabel(time.Date(2025, 9, 1, 6, 59, 0, 0, time.UTC)))
	require.Equal(t, "21:00-22:00", SlotLabel(time.Date(2025, 9, 1, 21, 0, 0, 0, time.UTC)))
}

func TestMatcher_UnknownPolicyFallsBackToExact(t *testing.T) {
	m := New("что-то")
	snap := snapshotWith(
		models.Subscription{ChatID: 1, LocationName: "Loc1", TimeSlot: "10:00-11:00"},
	)
	require.Equal(t, []int64{1}, m.Match(postavkaAt("Loc1", 10, 5), snap))
}
