// ABOUTME: Contract tests for the push-stream wire surface to detect breaking API changes.
// ABOUTME: Pins the envelope field names and the set of event kinds clients depend on.

package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/larderhq/larder-gateway/internal/store"
)

// expectedKinds is the contract for the event kinds on the wire. Removing
// or renaming one breaks every deployed client, so these tests fail first.
var expectedKinds = []string{
	"status",
	"tool.started",
	"tool.result",
	"blocks.append",
	"message.delta",
	"message.complete",
	"error",
	"done",
}

func TestEventKindsSurface(t *testing.T) {
	actual := []string{
		EventStatus,
		EventToolStarted,
		EventToolResult,
		EventBlocksAppend,
		EventMessageDelta,
		EventMessageComplete,
		EventError,
		EventDone,
	}
	assert.Equal(t, expectedKinds, actual)
}

func TestEnvelopeWireShape(t *testing.T) {
	ev := Event{
		Event:          EventToolStarted,
		ConversationID: "conv-1",
		MessageID:      "msg-1",
		Data: ToolStartedData{
			CallID: "call-1",
			Tool:   "recipes.suggest",
			Arguments: map[string]any{
				"query": "ramen",
			},
		},
	}

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	// Envelope keys are the contract; clients switch on "event" and route
	// by the id fields.
	assert.Equal(t, "tool.started", decoded["event"])
	assert.Equal(t, "conv-1", decoded["conversation_id"])
	assert.Equal(t, "msg-1", decoded["message_id"])

	payload, ok := decoded["data"].(map[string]any)
	require.True(t, ok, "data should be an object")
	assert.Equal(t, "call-1", payload["tool_call_id"])
	assert.Equal(t, "recipes.suggest", payload["tool_name"])
}

func TestToolResultWireShape(t *testing.T) {
	ev := Event{
		Event:          EventToolResult,
		ConversationID: "conv-1",
		MessageID:      "msg-1",
		Data: ToolResultData{
			CallID: "call-1",
			Tool:   "suggest_recipes",
			Status: "success",
			Result: map[string]any{"count": 3},
		},
	}

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	payload, ok := decoded["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "call-1", payload["tool_call_id"])
	assert.Equal(t, "suggest_recipes", payload["tool_name"])
	assert.Equal(t, "success", payload["status"])
}

func TestMessageDeltaWireShape(t *testing.T) {
	data, err := json.Marshal(Event{
		Event:          EventMessageDelta,
		ConversationID: "conv-1",
		MessageID:      "msg-1",
		Data:           MessageDeltaData{Text: "chunk"},
	})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	payload, ok := decoded["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "chunk", payload["delta"])
}

func TestEnvelopeOmitsEmptyFields(t *testing.T) {
	// done frames carry no message id and no payload
	ev := Event{
		Event:          EventDone,
		ConversationID: "conv-1",
	}

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.NotContains(t, decoded, "message_id")
	assert.NotContains(t, decoded, "data")
}

func TestBlocksAppendWireShape(t *testing.T) {
	ev := Event{
		Event:          EventBlocksAppend,
		ConversationID: "conv-1",
		MessageID:      "msg-1",
		Data: BlocksAppendData{
			Blocks: []store.Block{
				{
					Type:        store.BlockActionCard,
					ActionID:    "action-1",
					Title:       "Update Friday dinner",
					Description: "Replace Friday dinner with miso ramen",
					AcceptLabel: "Apply",
					CancelLabel: "Keep current plan",
				},
			},
		},
	}

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded struct {
		Data struct {
			Blocks []map[string]any `json:"blocks"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded.Data.Blocks, 1)

	block := decoded.Data.Blocks[0]
	assert.Equal(t, "action_card", block["type"])
	assert.Equal(t, "action-1", block["action_id"])
	assert.Equal(t, "Update Friday dinner", block["title"])
}

func TestErrorDataWireShape(t *testing.T) {
	ev := Event{
		Event:          EventError,
		ConversationID: "conv-1",
		Data: ErrorData{
			Code:    "upstream_unavailable",
			Message: "The assistant is temporarily overloaded. Please try again in a moment.",
		},
	}

	data, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.Less(t, len(data), MaxEventBytes)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	payload, ok := decoded["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "upstream_unavailable", payload["code"])
	assert.NotEmpty(t, payload["message"])
}
