package model

import (
	"encoding/json"
	"time"
)

// Discriminators used on both the inbound agent protocol and the outbound observer protocol.
const (
	MessageTypeStatsBatch  = "container_stats_batch"
	MessageTypeAgentStatus = "agent_status"
	MessageTypeAgentList   = "agent_list"
)

// StatsBatch holds the parts of a container_stats_batch the hub reads. The frame
// itself is forwarded untouched, so nothing else is decoded and no other field can
// reject it.
type StatsBatch struct {
	// SentAt is empty unless the frame carried sent_at as a JSON string.
	SentAt string
	// CPUPct is nil when agent_metrics.cpu_pct is missing or not a number.
	CPUPct     *float64
	Sequence   json.RawMessage
	Containers int
}

// CPUSample is one point of an agent's aggregate CPU history.
type CPUSample struct {
	At     time.Time `json:"at"`
	CPUPct float64   `json:"cpu_pct"`
}

// AgentList is the bootstrap message sent to every observer before live events.
type AgentList struct {
	Type   string        `json:"type"`
	Agents []AgentConfig `json:"agents"`
	TS     time.Time     `json:"ts"`
}

func NewAgentList(agents []AgentConfig, at time.Time) AgentList {
	if agents == nil {
		agents = []AgentConfig{}
	}
	return AgentList{Type: MessageTypeAgentList, Agents: agents, TS: at.UTC()}
}
