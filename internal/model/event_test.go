package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testAgent = AgentConfig{ID: "a1", Label: "Agent 1", URL: "ws://h1/ws"}

func TestHubEvent_MarshalStatus(t *testing.T) {
	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	data, err := json.Marshal(NewStatusEvent(testAgent, StatusConnected, at))
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"type": "agent_status",
		"agent_id": "a1",
		"status": "connected",
		"label": "Agent 1",
		"at": "2024-01-01T11:00:00Z"
	}`, string(data))
}

func TestHubEvent_MarshalStatsForwardsPayload(t *testing.T) {
	raw := json.RawMessage(`{"type":"container_stats_batch","agent_id":"a1","sequence":7,"extra":{"kept":true}}`)
	ev := NewStatsEvent(testAgent, raw, &StatsBatch{Sequence: json.RawMessage(`7`)}, time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC))
	ev.History = []CPUSample{{At: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), CPUPct: 42}}

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"type": "container_stats_batch",
		"agent_id": "a1",
		"label": "Agent 1",
		"payload": {"type":"container_stats_batch","agent_id":"a1","sequence":7,"extra":{"kept":true}},
		"received_at": "2024-01-01T00:00:01Z",
		"history": [{"at":"2024-01-01T00:00:00Z","cpu_pct":42}]
	}`, string(data))
}

func TestHubEvent_MarshalStatsEmptyHistory(t *testing.T) {
	data, err := json.Marshal(NewStatsEvent(testAgent, nil, nil, time.Unix(0, 0)))
	require.NoError(t, err)

	var frame map[string]any
	require.NoError(t, json.Unmarshal(data, &frame))
	assert.Equal(t, []any{}, frame["history"])
	assert.Nil(t, frame["payload"])
}

func TestHubEvent_MarshalUnknownType(t *testing.T) {
	_, err := json.Marshal(HubEvent{Type: "bogus"})
	assert.Error(t, err)
}

func TestNewAgentList(t *testing.T) {
	data, err := json.Marshal(NewAgentList(nil, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"agent_list","agents":[],"ts":"2024-01-01T00:00:00Z"}`, string(data))

	list := NewAgentList([]AgentConfig{testAgent}, time.Now())
	assert.Equal(t, []AgentConfig{testAgent}, list.Agents)
}
