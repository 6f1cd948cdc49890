package stream

import (
	"encoding/json"
	"errors"
	"fmt"

	"docker-stats-hub/internal/model"
)

var (
	ErrMalformed   = errors.New("malformed agent message")
	ErrUnknownType = errors.New("unknown agent message type")
)

// Inbound is one classified agent message. Batch is set for stats batches only.
type Inbound struct {
	Type  string
	Raw   json.RawMessage
	Batch *model.StatsBatch
}

// Decode parses a single agent frame and classifies it by its type discriminator.
// Only invalid JSON or a non-object frame is malformed; field types are not checked,
// the hub reads a few fields leniently and forwards the rest as is.
func Decode(data []byte) (Inbound, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	typ, _ := rawString(fields["type"])
	in := Inbound{Type: typ, Raw: append(json.RawMessage(nil), data...)}
	switch typ {
	case model.MessageTypeStatsBatch:
		in.Batch = decodeBatch(fields)
	case model.MessageTypeAgentStatus:
	default:
		return Inbound{}, fmt.Errorf("%w: %s", ErrUnknownType, fieldText(fields["type"]))
	}
	return in, nil
}

func decodeBatch(fields map[string]json.RawMessage) *model.StatsBatch {
	batch := &model.StatsBatch{Sequence: fields["sequence"]}
	batch.SentAt, _ = rawString(fields["sent_at"])

	var summary map[string]json.RawMessage
	if json.Unmarshal(fields["agent_metrics"], &summary) == nil {
		if v, ok := rawNumber(summary["cpu_pct"]); ok {
			batch.CPUPct = &v
		}
	}

	var containers []json.RawMessage
	if json.Unmarshal(fields["containers"], &containers) == nil {
		batch.Containers = len(containers)
	}
	return batch
}

func rawString(raw json.RawMessage) (string, bool) {
	var v any
	if len(raw) == 0 || json.Unmarshal(raw, &v) != nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func rawNumber(raw json.RawMessage) (float64, bool) {
	var v any
	if len(raw) == 0 || json.Unmarshal(raw, &v) != nil {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

func fieldText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "<missing>"
	}
	return string(raw)
}
