// ABOUTME: Tests for the NDJSON stream writer.
// ABOUTME: Covers line framing, header emission, and the event size ceiling.

package gateway

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/larderhq/larder-gateway/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNDJSONStreamWritesOneLinePerEvent(t *testing.T) {
	rec := httptest.NewRecorder()
	stream := newNDJSONStream(rec, rec, testLogger())

	require.NoError(t, stream.Send(protocol.Event{
		Event:          protocol.EventStatus,
		ConversationID: "conv-1",
		Data:           protocol.StatusData{State: "thinking"},
	}))
	require.NoError(t, stream.Send(protocol.Event{
		Event:          protocol.EventDone,
		ConversationID: "conv-1",
	}))

	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))
	assert.True(t, rec.Flushed)

	lines := strings.Split(strings.TrimRight(rec.Body.String(), "\n"), "\n")
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "status", first["event"])
	assert.Equal(t, "conv-1", first["conversation_id"])

	var second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "done", second["event"])
}

func TestNDJSONStreamTruncatesOversizedEvents(t *testing.T) {
	rec := httptest.NewRecorder()
	stream := newNDJSONStream(rec, rec, testLogger())

	huge := strings.Repeat("x", protocol.MaxEventBytes)
	require.NoError(t, stream.Send(protocol.Event{
		Event:          protocol.EventToolResult,
		ConversationID: "conv-1",
		MessageID:      "msg-1",
		Data:           map[string]string{"blob": huge},
	}))

	line := strings.TrimRight(rec.Body.String(), "\n")
	assert.LessOrEqual(t, len(line), protocol.MaxEventBytes)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &decoded))
	// The envelope survives; only the payload is replaced.
	assert.Equal(t, "tool.result", decoded["event"])
	assert.Equal(t, "conv-1", decoded["conversation_id"])
	assert.Equal(t, map[string]any{"truncated": true}, decoded["data"])
}

func TestNDJSONStreamKeepsEventsAtCeiling(t *testing.T) {
	rec := httptest.NewRecorder()
	stream := newNDJSONStream(rec, rec, testLogger())

	payload := strings.Repeat("x", 1024)
	require.NoError(t, stream.Send(protocol.Event{
		Event:          protocol.EventMessageDelta,
		ConversationID: "conv-1",
		Data:           protocol.MessageDeltaData{Text: payload},
	}))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimRight(rec.Body.String(), "\n")), &decoded))
	data := decoded["data"].(map[string]any)
	assert.Equal(t, payload, data["delta"])
}
