package fake

import (
	"context"
	"testing"

	"github.com/BearBump/PostavkaBox/internal/integrations/pvsportal"
	"github.com/stretchr/testify/require"
)

func TestFake_Deterministic(t *testing.T) {
	f := New()
	a, err := f.FetchShipments(context.Background(), "pvs-01")
	require.NoError(t, err)
	b, err := f.FetchShipments(context.Background(), "pvs-01")
	require.NoError(t, err)

	require.Len(t, a, 2)
	require.Equal(t, a[0].ReportID, b[0].ReportID)
	require.Equal(t, "pvs-01", a[0].PvsName)
	require.Equal(t, "closed", a[0].Status)
	require.Equal(t, "-", a[1].ClosedAt)
}

func TestFake_FailuresClassified(t *testing.T) {
	f := New().WithFailures(1) // каждый инстанс падает

	_, err := f.FetchShipments(context.Background(), "pvs-02")
	require.Error(t, err)
	require.Equal(t, pvsportal.ErrUnreachable, pvsportal.KindOf(err))
}

func TestFake_CancelledContextIsTimeout(t *testing.T) {
	f := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.FetchShipments(ctx, "pvs-03")
	require.Error(t, err)
	require.Equal(t, pvsportal.ErrTimeout, pvsportal.KindOf(err))
}
