// Package intake receives crash tasks from RabbitMQ and announces finished
// analyses on an exchange.
package intake

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	uuid "github.com/satori/go.uuid"

	"github.com/crash-analysis/pkg/model"
)

// ErrInvalidMessage marks deliveries that can never be processed.
var ErrInvalidMessage = errors.New("invalid intake message")

// Message announces a minidump already uploaded to object storage.
type Message struct {
	UUID           string            `json:"uuid,omitempty"`
	Product        string            `json:"product,omitempty"`
	Version        string            `json:"version,omitempty"`
	ReleaseChannel string            `json:"release_channel,omitempty"`
	Platform       string            `json:"platform,omitempty"`
	Minidump       string            `json:"minidump"`
	Extra          string            `json:"extra,omitempty"`
	Options        model.TaskOptions `json:"options"`
}

// DecodeMessage parses and validates a delivery body.
func DecodeMessage(body []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if strings.TrimSpace(m.Minidump) == "" {
		return nil, fmt.Errorf("%w: minidump key is required", ErrInvalidMessage)
	}
	if m.UUID == "" {
		m.UUID = uuid.NewV4().String()
	}
	return &m, nil
}

// Task returns the pending task described by m.
func (m *Message) Task() *model.CrashTask {
	t := model.NewCrashTask(m.UUID, m.Minidump, model.ParsePlatform(m.Platform))
	t.Product = m.Product
	t.Version = m.Version
	t.ReleaseChannel = m.ReleaseChannel
	t.ExtraKey = m.Extra
	t.Options = m.Options
	return t
}
