package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGate_StartsOnline(t *testing.T) {
	g := NewGate(0)
	require.True(t, g.IsOnline())
	require.True(t, g.CanSubmit())
}

func TestGate_OfflineRejectsUntilOnline(t *testing.T) {
	g := NewGate(0)
	g.Offline()
	require.False(t, g.IsOnline())
	require.False(t, g.CanSubmit())
	require.False(t, g.CanSubmit())

	g.Online()
	require.True(t, g.CanSubmit())
}

func TestGate_ListenersSeeTransitionsOnly(t *testing.T) {
	g := NewGate(0)
	var seen []bool
	g.Subscribe(func(online bool) { seen = append(seen, online) })
	g.Subscribe(nil)

	g.Online() // already online, not a transition
	g.Offline()
	g.Offline()
	g.Online()

	require.Equal(t, []bool{false, true}, seen)
}

func TestGate_TrialAfterRetryWindow(t *testing.T) {
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	g := NewGate(30 * time.Second)
	g.now = func() time.Time { return now }

	g.Offline()
	require.False(t, g.CanSubmit())

	now = now.Add(29 * time.Second)
	require.False(t, g.CanSubmit())

	now = now.Add(time.Second)
	require.True(t, g.CanSubmit(), "one trial submission is admitted once the window elapses")
	require.False(t, g.CanSubmit(), "the window restarts after a trial submission")
	require.False(t, g.IsOnline())

	now = now.Add(30 * time.Second)
	require.True(t, g.CanSubmit())
}

func TestTransport_ResponseMarksOnline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	g := NewGate(0)
	g.Offline()
	client := &http.Client{Transport: &Transport{Gate: g}, Timeout: 2 * time.Second}

	res, err := client.Get(srv.URL)
	require.NoError(t, err)
	_ = res.Body.Close()
	require.True(t, g.IsOnline())
}

func TestTransport_DialFailureMarksOffline(t *testing.T) {
	g := NewGate(0)
	client := &http.Client{Transport: &Transport{Gate: g}, Timeout: 2 * time.Second}

	_, err := client.Get("http://127.0.0.1:1")
	require.Error(t, err)
	require.False(t, g.IsOnline())
	require.False(t, g.CanSubmit())
}

func TestTransport_CancelledRequestIsNotAnEvent(t *testing.T) {
	g := NewGate(0)
	client := &http.Client{Transport: &Transport{Gate: g}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://127.0.0.1:1", nil)
	require.NoError(t, err)

	_, err = client.Do(req)
	require.Error(t, err)
	require.True(t, g.IsOnline())
}

func TestTransport_NilGatePassesThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := &http.Client{Transport: &Transport{}}
	res, err := client.Get(srv.URL)
	require.NoError(t, err)
	_ = res.Body.Close()
	require.Equal(t, http.StatusNoContent, res.StatusCode)
}
