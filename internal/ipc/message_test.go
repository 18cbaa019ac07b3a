package ipc

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	cfg, err := json.Marshal(map[string]string{"id": "w1"})
	require.NoError(t, err)

	require.NoError(t, enc.Encode(Message{Type: Start, Config: cfg}))
	require.NoError(t, enc.Encode(Message{Type: Ready, URL: "http://127.0.0.1:9000", Port: 9000}))

	dec := NewDecoder(&buf)

	msg1, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, Start, msg1.Type)
	assert.JSONEq(t, `{"id":"w1"}`, string(msg1.Config))

	msg2, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, Ready, msg2.Type)
	assert.Equal(t, 9000, msg2.Port)

	_, err = dec.Decode()
	assert.ErrorIs(t, err, ErrEOF)
}

func TestEncode_RejectsUnknownType(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	err := enc.Encode(Message{Type: "bogus"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownMessageType)
}

func TestDecode_RejectsUnknownType(t *testing.T) {
	buf := bytes.NewBufferString(`{"type":"bogus"}` + "\n")
	dec := NewDecoder(buf)
	_, err := dec.Decode()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownMessageType)
}
