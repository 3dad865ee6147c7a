package portalhttp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BearBump/PostavkaBox/internal/integrations/pvsportal"
	"github.com/stretchr/testify/require"
)

func TestClient_FetchShipments_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/user/login":
			require.NoError(t, r.ParseForm())
			require.Equal(t, "demo_user", r.PostForm.Get("identity"))
			require.Equal(t, "demo_pass", r.PostForm.Get("credential"))
			w.WriteHeader(http.StatusOK)
		case "/api/shipments/incoming":
			require.NotEmpty(t, r.URL.Query().Get("date"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{
  "rows": [
    {"externalId":"R1","deliveryDate":"2025-09-01","createdAt":"2025-09-01 10:15:00",
     "unloadStartedAt":"-","closedAt":"-","status":"Created",
     "sent":"10","received":"0","excess":"0","boxesCount":"4"}
  ]
}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "demo_user", "demo_pass")
	recs, err := c.FetchShipments(context.Background(), "pvs-01")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "R1", recs[0].ReportID)
	require.Equal(t, "pvs-01", recs[0].PvsName)
	require.Equal(t, "created", recs[0].Status)
	require.Equal(t, "-", recs[0].ClosedAt)
}

func TestClient_FetchShipments_AuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := New(srv.URL, "u", "bad")
	_, err := c.FetchShipments(context.Background(), "pvs-01")
	require.Error(t, err)
	require.Equal(t, pvsportal.ErrAuthFailure, pvsportal.KindOf(err))
}

func TestClient_FetchShipments_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/user/login" {
			w.WriteHeader(http.StatusOK)
			return
		}
		_, _ = w.Write([]byte(`<html>definitely not json</html>`))
	}))
	defer srv.Close()

	c := New(srv.URL, "u", "p")
	_, err := c.FetchShipments(context.Background(), "pvs-01")
	require.Error(t, err)
	require.Equal(t, pvsportal.ErrMalformedResponse, pvsportal.KindOf(err))
}

func TestClient_FetchShipments_Unreachable(t *testing.T) {
	// Закрытый сервер: connection refused.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := New(srv.URL, "u", "p")
	_, err := c.FetchShipments(context.Background(), "pvs-01")
	require.Error(t, err)
	require.Equal(t, pvsportal.ErrUnreachable, pvsportal.KindOf(err))
}
