package model

import (
	"encoding/json"
	"fmt"
	"time"
)

type EventType string

const (
	EventAgentStatus    EventType = MessageTypeAgentStatus
	EventContainerStats EventType = MessageTypeStatsBatch
)

// HubEvent is the only event shape observers see. It is a tagged union on Type:
// agent_status events carry Status and At, container_stats_batch events carry
// Payload, ReceivedAt and History.
type HubEvent struct {
	Type    EventType
	AgentID string
	Label   string

	Status ConnectionStatus
	At     time.Time

	// Payload is the agent's message forwarded byte for byte.
	Payload    json.RawMessage
	Batch      *StatsBatch
	ReceivedAt time.Time
	History    []CPUSample
}

func NewStatusEvent(cfg AgentConfig, status ConnectionStatus, at time.Time) HubEvent {
	return HubEvent{
		Type:    EventAgentStatus,
		AgentID: cfg.ID,
		Label:   cfg.Label,
		Status:  status,
		At:      at.UTC(),
	}
}

func NewStatsEvent(cfg AgentConfig, raw json.RawMessage, batch *StatsBatch, receivedAt time.Time) HubEvent {
	return HubEvent{
		Type:       EventContainerStats,
		AgentID:    cfg.ID,
		Label:      cfg.Label,
		Payload:    raw,
		Batch:      batch,
		ReceivedAt: receivedAt.UTC(),
	}
}

type statusFrame struct {
	Type    EventType        `json:"type"`
	AgentID string           `json:"agent_id"`
	Status  ConnectionStatus `json:"status"`
	Label   string           `json:"label"`
	At      time.Time        `json:"at"`
}

type statsFrame struct {
	Type       EventType       `json:"type"`
	AgentID    string          `json:"agent_id"`
	Label      string          `json:"label"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"received_at"`
	History    []CPUSample     `json:"history"`
}

func (e HubEvent) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventAgentStatus:
		return json.Marshal(statusFrame{
			Type:    e.Type,
			AgentID: e.AgentID,
			Status:  e.Status,
			Label:   e.Label,
			At:      e.At,
		})
	case EventContainerStats:
		payload := e.Payload
		if len(payload) == 0 {
			payload = json.RawMessage("null")
		}
		history := e.History
		if history == nil {
			history = []CPUSample{}
		}
		return json.Marshal(statsFrame{
			Type:       e.Type,
			AgentID:    e.AgentID,
			Label:      e.Label,
			Payload:    payload,
			ReceivedAt: e.ReceivedAt,
			History:    history,
		})
	default:
		return nil, fmt.Errorf("marshal hub event: unknown type %q", e.Type)
	}
}
