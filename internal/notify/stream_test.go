package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tiongMax/stockwatch/internal/alert"
)

func TestHubStreamsAlerts(t *testing.T) {
	hub := NewHub(quietLogger())
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Deliver(context.Background(), sampleAlert()))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got alert.PriceAlert
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, sampleAlert(), got)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHubDeliverWithoutClients(t *testing.T) {
	hub := NewHub(quietLogger())
	assert.NoError(t, hub.Deliver(context.Background(), sampleAlert()))
	hub.Close()
	assert.Zero(t, hub.Clients())
}

func TestHubOrigins(t *testing.T) {
	tests := []struct {
		name    string
		origins []string
		origin  string
		allowed bool
	}{
		{name: "no origin header", origin: "", allowed: true},
		{name: "cross origin rejected by default", origin: "https://evil.example", allowed: false},
		{name: "listed origin", origins: []string{"https://dash.example/"}, origin: "https://dash.example", allowed: true},
		{name: "unlisted origin", origins: []string{"https://dash.example"}, origin: "https://evil.example", allowed: false},
		{name: "wildcard", origins: []string{"*"}, origin: "https://anything.example", allowed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(NewHub(quietLogger(), tt.origins...))
			t.Cleanup(srv.Close)

			header := http.Header{}
			if tt.origin != "" {
				header.Set("Origin", tt.origin)
			}
			url := "ws" + strings.TrimPrefix(srv.URL, "http")
			conn, resp, err := websocket.DefaultDialer.Dial(url, header)
			if !tt.allowed {
				require.ErrorIs(t, err, websocket.ErrBadHandshake)
				assert.Equal(t, http.StatusForbidden, resp.StatusCode)
				return
			}
			require.NoError(t, err)
			conn.Close()
		})
	}
}
