package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeInbound(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantType string
		wantErr  error
	}{
		{name: "join", raw: `{"type":"join","username":"alice"}`, wantType: TypeJoin},
		{name: "message", raw: `{"type":"message","message":"hi"}`, wantType: TypeMessage},
		{name: "unknown type is still an envelope", raw: `{"type":"dance"}`, wantType: "dance"},
		{name: "not json", raw: `hello`, wantErr: ErrMalformedEnvelope},
		{name: "array", raw: `[1,2,3]`, wantErr: ErrMalformedEnvelope},
		{name: "numeric type", raw: `{"type":5}`, wantErr: ErrMalformedEnvelope},
		{name: "missing type", raw: `{"username":"alice"}`, wantErr: ErrMissingType},
		{name: "blank type", raw: `{"type":"  "}`, wantErr: ErrMissingType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := DecodeInbound([]byte(tt.raw))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, in)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, in.Type)
		})
	}
}

func TestDecodeInboundKeepsFieldsOptional(t *testing.T) {
	in, err := DecodeInbound([]byte(`{"type":"join"}`))
	require.NoError(t, err)
	assert.Nil(t, in.Username)
	assert.Nil(t, in.Message)

	in, err = DecodeInbound([]byte(`{"type":"message","message":""}`))
	require.NoError(t, err)
	require.NotNil(t, in.Message)
	assert.Equal(t, "", *in.Message)
}

func TestHistoryEncodesEmptyArray(t *testing.T) {
	data, err := Encode(NewHistory(nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"history","messages":[]}`, string(data))
}

func TestBroadcastWireFormat(t *testing.T) {
	at := time.Date(2025, 3, 14, 9, 26, 53, 589_000_000, time.FixedZone("CET", 3600))
	data, err := Encode(NewBroadcast("alice", "hi", at))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"message","username":"alice","message":"hi","timestamp":"2025-03-14T08:26:53.589Z"}`, string(data))
}

func TestErrorWireFormat(t *testing.T) {
	data, err := Encode(NewError(ErrMsgAuthRequired))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","error":"Authentication required"}`, string(data))
}

func TestDecodeServerEvent(t *testing.T) {
	raw := `{"type":"history","messages":[{"username":"alice","message":"hi","timestamp":"2025-03-14T08:26:53.589Z"}]}`
	ev, err := DecodeServerEvent([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, TypeHistory, ev.Type)
	require.Len(t, ev.Messages, 1)
	assert.Equal(t, "alice", ev.Messages[0].Username)

	_, err = DecodeServerEvent([]byte(`{}`))
	assert.ErrorIs(t, err, ErrMissingType)
}

func TestClientEnvelopesDecodeAsInbound(t *testing.T) {
	data, err := json.Marshal(NewJoin("bob"))
	require.NoError(t, err)
	in, err := DecodeInbound(data)
	require.NoError(t, err)
	assert.Equal(t, TypeJoin, in.Type)
	require.NotNil(t, in.Username)
	assert.Equal(t, "bob", *in.Username)

	data, err = json.Marshal(NewChat("hello"))
	require.NoError(t, err)
	in, err = DecodeInbound(data)
	require.NoError(t, err)
	require.NotNil(t, in.Message)
	assert.Equal(t, "hello", *in.Message)
}

func TestTimestampParseFormat(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 6_000_000, time.UTC)
	parsed, err := ParseTimestamp(FormatTimestamp(at))
	require.NoError(t, err)
	assert.True(t, at.Equal(parsed))
}
