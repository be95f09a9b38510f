package protocol

import (
	"bytes"
	"errors"
	"math"

	json "github.com/goccy/go-json"
	"github.com/rotisserie/eris"
)

var ErrProtocol = eris.New("protocol error")

type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Decode parses a client frame. Only client->server events are accepted; anything
// else, or a payload that does not validate, is a protocol error.
func Decode(raw []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, eris.Wrap(ErrProtocol, "malformed envelope")
	}

	switch env.Event {
	case EventQueueJoin:
		return QueueJoin{}, nil
	case EventQueueLeave:
		return QueueLeave{}, nil
	case EventMatchReady:
		var msg MatchReady
		if err := decodeData(env.Data, &msg); err != nil {
			return nil, err
		}
		if msg.MatchID == "" {
			return nil, eris.Wrap(ErrProtocol, "match:ready requires matchId")
		}
		return msg, nil
	case EventGameInput:
		var msg GameInput
		if err := decodeData(env.Data, &msg); err != nil {
			return nil, err
		}
		if !finite(msg.MoveX) || !finite(msg.MoveY) {
			return nil, eris.Wrap(ErrProtocol, "game:input move vector is not finite")
		}
		return msg, nil
	case "":
		return nil, eris.Wrap(ErrProtocol, "missing event")
	default:
		return nil, eris.Wrapf(ErrProtocol, "unsupported event %q", env.Event)
	}
}

func decodeData(data json.RawMessage, v any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return eris.Wrap(ErrProtocol, "missing payload")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return eris.Wrapf(ErrProtocol, "invalid payload: %v", err)
	}
	return nil
}

// Encode wraps a server message in its envelope.
func Encode(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, errors.New("nil message")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to encode %s", msg.Event())
	}
	return json.Marshal(Envelope{Event: msg.Event(), Data: data})
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
