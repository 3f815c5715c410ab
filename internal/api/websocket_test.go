package api

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rawblock/mule-forensics/internal/alerts"
	"github.com/rawblock/mule-forensics/pkg/models"
)

func TestHub_BroadcastsEnvelopes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub(zaptest.NewLogger(t))
	go hub.Run()
	defer hub.Close()

	r := gin.New()
	r.GET("/stream", hub.Subscribe)
	srv := httptest.NewServer(r)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/stream", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.BroadcastReport(&models.Report{
		BatchID:    "batch-1",
		Accounts:   []models.AccountReport{{AccountID: "A"}},
		FraudRings: []models.FraudRing{{RingID: "RING_001", Members: []string{"A", "B", "C"}}},
		Summary:    models.Summary{FraudRingsDetected: 1},
	})
	hub.BroadcastAlert(alerts.Alert{ID: "al-1", Severity: "critical", AlertType: alerts.TypeMuleAccount})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var first struct {
		Type    string       `json:"type"`
		Payload ReportDigest `json:"payload"`
	}
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &first))
	assert.Equal(t, EventReport, first.Type)
	assert.Equal(t, "batch-1", first.Payload.BatchID)
	assert.Equal(t, 1, first.Payload.Summary.FraudRingsDetected)
	assert.NotContains(t, string(data), `"accounts"`, "digest omits the account list")

	var second struct {
		Type    string       `json:"type"`
		Payload alerts.Alert `json:"payload"`
	}
	_, data, err = conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &second))
	assert.Equal(t, EventAlert, second.Type)
	assert.Equal(t, "al-1", second.Payload.ID)
}

func TestHub_BroadcastDropsWhenQueueFull(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t))
	// Run is not started; the queue fills and further messages are dropped
	for i := 0; i < cap(hub.broadcast)+10; i++ {
		hub.Broadcast(EventAlert, i)
	}
	assert.Len(t, hub.broadcast, cap(hub.broadcast))
}
