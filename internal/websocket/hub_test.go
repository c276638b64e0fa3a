package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-soc/argus/internal/models"
)

func dialTestHub(t *testing.T) (*Hub, *gws.Conn, context.CancelFunc) {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := gws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	// Wait for the registration to land before broadcasting.
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	require.Equal(t, 1, hub.ClientCount())
	return hub, conn, cancel
}

func readMessage(t *testing.T, conn *gws.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHubBroadcastsNewAlerts(t *testing.T) {
	hub, conn, cancel := dialTestHub(t)
	defer cancel()

	alert := &models.Alert{ID: "a-1", Title: "Brute force on ws-01", Severity: 80}
	hub.AlertStored(alert, true)

	msg := readMessage(t, conn)
	assert.Equal(t, "alert", msg.Type)
	data := msg.Data.(map[string]interface{})
	assert.Equal(t, "a-1", data["id"])

	hub.AlertStored(alert, false)
	msg = readMessage(t, conn)
	assert.Equal(t, "alertUpdated", msg.Type)
}

func TestHubBroadcastsJobProgress(t *testing.T) {
	hub, conn, cancel := dialTestHub(t)
	defer cancel()

	hub.BroadcastJobProgress("job-1", 42, "running")

	msg := readMessage(t, conn)
	assert.Equal(t, "jobProgress", msg.Type)
	data := msg.Data.(map[string]interface{})
	assert.Equal(t, "job-1", data["jobId"])
	assert.Equal(t, float64(42), data["progress"])
}

func TestHubPingPong(t *testing.T) {
	_, conn, cancel := dialTestHub(t)
	defer cancel()

	require.NoError(t, conn.WriteJSON(Message{Type: "ping"}))
	msg := readMessage(t, conn)
	assert.Equal(t, "pong", msg.Type)
}

func TestHubShutdownDisconnectsClients(t *testing.T) {
	hub, conn, cancel := dialTestHub(t)
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, 0, hub.ClientCount())

	conn.SetReadDeadline(time.Now().Add(time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}
