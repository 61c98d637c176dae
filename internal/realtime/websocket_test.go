package realtime

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altiviz/datachat/internal/storage"
)

func dialHub(t *testing.T, hub *StatusHub) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(hub)
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *StatusHub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, have %d", n, hub.ClientCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStatusHubBroadcast(t *testing.T) {
	hub := NewStatusHub(nil)
	conn := dialHub(t, hub)
	waitForClients(t, hub, 1)

	docID := uuid.New()
	hub.Broadcast(DocumentStatusEvent{
		DocumentID: docID,
		Status:     storage.DocumentReady,
		At:         time.Now().UTC(),
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var event DocumentStatusEvent
	require.NoError(t, json.Unmarshal(data, &event))
	assert.Equal(t, docID, event.DocumentID)
	assert.Equal(t, storage.DocumentReady, event.Status)
}

func TestStatusHubShutdownDisconnectsClients(t *testing.T) {
	hub := NewStatusHub(nil)
	conn := dialHub(t, hub)
	waitForClients(t, hub, 1)

	hub.Shutdown(t.Context())
	assert.Zero(t, hub.ClientCount())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}
