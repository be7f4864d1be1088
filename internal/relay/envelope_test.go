package relay

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateChatMessage(t *testing.T) {
	in := Inbound{Kind: KindChatMessage, Text: "hello", Role: RoleBoss}
	assert.NoError(t, in.Validate())

	in = Inbound{Kind: KindChatMessage, Text: "  "}
	assert.Error(t, in.Validate())

	in = Inbound{Kind: KindChatMessage, Text: "hello", Role: "manager"}
	assert.Error(t, in.Validate())
}

func TestValidateCommandEitherField(t *testing.T) {
	in := Inbound{Kind: KindCommand, Text: "order cement"}
	assert.NoError(t, in.Validate())

	in = Inbound{Kind: KindCommand, Command: "order cement"}
	assert.NoError(t, in.Validate())
	assert.Equal(t, "order cement", in.CommandText())

	in = Inbound{Kind: KindCommand}
	assert.Error(t, in.Validate())
}

func TestValidateUnknownKind(t *testing.T) {
	in := Inbound{Kind: "shout"}
	assert.Error(t, in.Validate())

	in = Inbound{}
	assert.Error(t, in.Validate())
}

func TestTimestampAcceptsBothForms(t *testing.T) {
	var in Inbound
	require.NoError(t, json.Unmarshal([]byte(`{"kind":"command","text":"x","timestamp":"2026-03-01T10:00:00Z"}`), &in))
	require.NotNil(t, in.Timestamp)
	assert.Equal(t, 2026, in.Timestamp.Year())

	var in2 Inbound
	millis := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC).UnixMilli()
	require.NoError(t, json.Unmarshal([]byte(`{"kind":"command","text":"x","timestamp":1772359200000}`), &in2))
	require.NotNil(t, in2.Timestamp)
	assert.Equal(t, millis, in2.Timestamp.UnixMilli())
}

func TestTimestampRejectsGarbage(t *testing.T) {
	var in Inbound
	err := json.Unmarshal([]byte(`{"kind":"command","text":"x","timestamp":"next tuesday"}`), &in)
	assert.Error(t, err)
}
