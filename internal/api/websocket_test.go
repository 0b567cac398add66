package api

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doc-summarizer/backend/internal/jobs"
)

func dialWS(t *testing.T, wsh *WebSocketHandler) *websocket.Conn {
	t.Helper()
	e := echo.New()
	e.GET("/ws", wsh.HandleWebSocket)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var hello WSMessage
	require.NoError(t, conn.ReadJSON(&hello))
	require.Equal(t, MsgTypeConnected, hello.Type)
	return conn
}

func readWS(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWebSocket_PingPong(t *testing.T) {
	conn := dialWS(t, NewWebSocketHandler(newFakeJobs(), nil))

	require.NoError(t, conn.WriteJSON(WSMessage{Type: MsgTypePing}))
	msg := readWS(t, conn)
	assert.Equal(t, MsgTypePong, msg.Type)
	assert.NotZero(t, msg.Timestamp)
}

func TestWebSocket_WatchFinishedJob(t *testing.T) {
	fj := newFakeJobs()
	fj.put(&jobs.Job{ID: "j1", Status: jobs.StatusComplete, Stage: jobs.StageDone, Progress: 100}, "all the text")
	conn := dialWS(t, NewWebSocketHandler(fj, nil))

	require.NoError(t, conn.WriteJSON(WSMessage{Type: MsgTypeJobWatch, ID: "j1"}))
	assert.Equal(t, MsgTypeAck, readWS(t, conn).Type)

	msg := readWS(t, conn)
	require.Equal(t, MsgTypeComplete, msg.Type)
	assert.Equal(t, "j1", msg.ID)

	var payload WSCompleteResponse
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, "all the text", payload.Text)
	assert.Equal(t, jobs.StatusComplete, payload.Job.Status)
}

func TestWebSocket_WatchRunningJob(t *testing.T) {
	fj := newFakeJobs()
	fj.put(&jobs.Job{ID: "j1", Status: jobs.StatusExtracting, Stage: jobs.StageDecoding, Progress: 30}, "")
	wsh := NewWebSocketHandler(fj, nil)
	wsh.pollInterval = 5 * time.Millisecond
	conn := dialWS(t, wsh)

	require.NoError(t, conn.WriteJSON(WSMessage{Type: MsgTypeJobWatch, ID: "j1"}))
	assert.Equal(t, MsgTypeAck, readWS(t, conn).Type)

	msg := readWS(t, conn)
	require.Equal(t, MsgTypeProgress, msg.Type)
	var job jobs.Job
	require.NoError(t, json.Unmarshal(msg.Payload, &job))
	assert.Equal(t, 30.0, job.Progress)

	fj.put(&jobs.Job{ID: "j1", Status: jobs.StatusError, Error: "failed to extract text from a.pdf", ErrorKind: "decode_failed"}, "")

	for {
		msg = readWS(t, conn)
		if msg.Type != MsgTypeProgress {
			break
		}
	}
	require.Equal(t, MsgTypeError, msg.Type)
	var errResp WSErrorResponse
	require.NoError(t, json.Unmarshal(msg.Payload, &errResp))
	assert.Equal(t, "EXTRACTION_FAILED", errResp.Code)
	assert.Equal(t, "decode_failed", errResp.Kind)
}

func TestWebSocket_BadRequests(t *testing.T) {
	conn := dialWS(t, NewWebSocketHandler(newFakeJobs(), nil))

	tests := []struct {
		msg  WSMessage
		code string
	}{
		{WSMessage{Type: MsgTypeJobWatch}, "INVALID_PAYLOAD"},
		{WSMessage{Type: MsgTypeJobWatch, ID: "missing"}, "NOT_FOUND"},
		{WSMessage{Type: "upload:start"}, "INVALID_TYPE"},
	}
	for _, tt := range tests {
		require.NoError(t, conn.WriteJSON(tt.msg))
		msg := readWS(t, conn)
		require.Equal(t, MsgTypeError, msg.Type)

		var errResp WSErrorResponse
		require.NoError(t, json.Unmarshal(msg.Payload, &errResp))
		assert.Equal(t, tt.code, errResp.Code)
	}
}
