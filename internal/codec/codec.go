// Package codec encodes signaling messages for the broadcast transport.
package codec

import (
	"encoding/json"
	"fmt"

	"github.com/mossy-p/meshcall/internal/models"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec turns signaling messages into transport payloads and back.
type Codec interface {
	Name() string
	Marshal(msg *models.SignalMessage) ([]byte, error)
	Unmarshal(data []byte) (*models.SignalMessage, error)
}

// JSON is the default, human readable codec.
type JSON struct{}

func (JSON) Name() string { return "json" }

func (JSON) Marshal(msg *models.SignalMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (JSON) Unmarshal(data []byte) (*models.SignalMessage, error) {
	var msg models.SignalMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Msgpack is a compact binary codec. Both ends of a room must agree on it.
type Msgpack struct{}

func (Msgpack) Name() string { return "msgpack" }

func (Msgpack) Marshal(msg *models.SignalMessage) ([]byte, error) {
	return msgpack.Marshal(msg)
}

func (Msgpack) Unmarshal(data []byte) (*models.SignalMessage, error) {
	var msg models.SignalMessage
	if err := msgpack.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ByName resolves a codec from configuration. An empty name selects JSON.
func ByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSON{}, nil
	case "msgpack":
		return Msgpack{}, nil
	default:
		return nil, fmt.Errorf("unknown signal codec %q", name)
	}
}
