// Package relay implements the duplex wire protocol between the
// gateway and boss/worker clients: the envelope schema, the connection
// hub and the protocol handler that drives the NLU orchestrator.
package relay

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/handyboss/relay-gateway/internal/langdetect"
	"github.com/handyboss/relay-gateway/internal/nlu"
	"github.com/handyboss/relay-gateway/internal/storage"
)

// Role is the conversational persona attached to a message. The role
// carries a default language (boss speaks the primary language,
// workers the secondary one) that an explicit language field or the
// detector may override.
type Role string

const (
	RoleBoss   Role = "boss"
	RoleWorker Role = "worker"
)

// Envelope kinds on the wire.
const (
	KindChatMessage     = "chat-message"
	KindChatResponse    = "chat-response"
	KindCommand         = "command"
	KindCommandResponse = "command-response"
	KindCommandUpdate   = "command-update"
	KindError           = "error"
	KindWelcome         = "welcome"
	KindWeatherAlert    = "weather-alert"
)

// Location is an optional client position attached to an envelope.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Timestamp accepts both RFC3339 strings and epoch milliseconds; the
// field clients send came from loosely typed code and both forms are
// in the wild.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		parsed, err := time.Parse(time.RFC3339, str)
		if err != nil {
			return fmt.Errorf("invalid timestamp %q", str)
		}
		t.Time = parsed
		return nil
	}
	millis, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp %s", s)
	}
	t.Time = time.UnixMilli(millis)
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(time.RFC3339))
}

// Inbound is the client→server envelope. Kind discriminates; Validate
// enforces the per-kind required fields before dispatch.
type Inbound struct {
	Kind          string     `json:"kind"`
	Text          string     `json:"text,omitempty"`
	Command       string     `json:"command,omitempty"`
	Role          Role       `json:"role,omitempty"`
	Language      string     `json:"language,omitempty"`
	Timestamp     *Timestamp `json:"timestamp,omitempty"`
	CorrelationID string     `json:"correlationId,omitempty"`
	JobsiteID     string     `json:"jobsiteId,omitempty"`
	Location      *Location  `json:"location,omitempty"`
}

// CommandText returns the command body; clients send it in either
// field.
func (in *Inbound) CommandText() string {
	if in.Text != "" {
		return in.Text
	}
	return in.Command
}

// Validate checks the envelope against the known kinds and their
// required fields.
func (in *Inbound) Validate() error {
	switch in.Kind {
	case KindChatMessage:
		if strings.TrimSpace(in.Text) == "" {
			return fmt.Errorf("chat-message requires a text field")
		}
		if in.Role != "" && in.Role != RoleBoss && in.Role != RoleWorker {
			return fmt.Errorf("unknown role %q", in.Role)
		}
	case KindCommand:
		if strings.TrimSpace(in.CommandText()) == "" {
			return fmt.Errorf("command requires a text or command field")
		}
	case "":
		return fmt.Errorf("missing envelope kind")
	default:
		return fmt.Errorf("unknown envelope kind %q", in.Kind)
	}
	return nil
}

// ChatResponse is the unicast reply to a chat-message.
type ChatResponse struct {
	Kind           string              `json:"kind"`
	Text           string              `json:"text"`
	TranslatedText string              `json:"translatedText"`
	SourceLanguage langdetect.Language `json:"sourceLanguage"`
	TargetLanguage langdetect.Language `json:"targetLanguage"`
	Provider       string              `json:"provider,omitempty"`
	Degraded       bool                `json:"degraded,omitempty"`
	CorrelationID  string              `json:"correlationId,omitempty"`
	Timestamp      Timestamp           `json:"timestamp"`
}

// CommandResponse is the unicast acknowledgment of a command.
type CommandResponse struct {
	Kind          string    `json:"kind"`
	Text          string    `json:"text"`
	CommandID     string    `json:"commandId"`
	CorrelationID string    `json:"correlationId,omitempty"`
	Timestamp     Timestamp `json:"timestamp"`
}

// CommandUpdate is broadcast to every other open connection when a new
// command lands.
type CommandUpdate struct {
	Kind      string            `json:"kind"`
	Command   storage.Command   `json:"command"`
	Intent    *nlu.IntentResult `json:"intent,omitempty"`
	Timestamp Timestamp         `json:"timestamp"`
}

// ErrorEnvelope is a non-fatal error reply; the connection stays open.
type ErrorEnvelope struct {
	Kind          string `json:"kind"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// Welcome is sent once when a connection opens.
type Welcome struct {
	Kind         string `json:"kind"`
	Message      string `json:"message"`
	ConnectionID string `json:"connectionId"`
}

// WeatherAlertEnvelope is broadcast by the scheduled alert sweep.
type WeatherAlertEnvelope struct {
	Kind      string                 `json:"kind"`
	Alerts    []storage.WeatherAlert `json:"alerts"`
	Timestamp Timestamp              `json:"timestamp"`
}
