package protocol

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	body, err := JSONCodec{}.Encode(GlobalBeginRequest{ApplicationID: "svc-a", TransactionName: "buy", TimeoutMs: 30000})
	require.NoError(t, err)

	msg := &RpcMessage{ID: 42, Type: MessageTypeGlobalBegin, Body: body}
	buf := &bytes.Buffer{}
	require.NoError(t, WriteFrame(buf, msg))

	got, err := ReadFrame(bufio.NewReader(buf))
	require.NoError(t, err)
	assert.Equal(t, msg.ID, got.ID)
	assert.Equal(t, msg.Type, got.Type)

	var decoded GlobalBeginRequest
	require.NoError(t, JSONCodec{}.Decode(got.Body, &decoded))
	assert.Equal(t, "svc-a", decoded.ApplicationID)
	assert.EqualValues(t, 30000, decoded.TimeoutMs)
}

func TestFrameBadMagic(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0x00, 0x00, 1, 10, 0, 0, 0, 1, 0, 0, 0, 0})
	_, err := ReadFrame(bufio.NewReader(buf))
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestFrameBadVersion(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, WriteFrame(buf, &RpcMessage{ID: 1, Type: MessageTypeGlobalBegin}))
	raw := buf.Bytes()
	raw[2] = Version + 1
	_, err := ReadFrame(bufio.NewReader(bytes.NewReader(raw)))
	assert.ErrorIs(t, err, ErrBadVersion)
}

func TestCodecRoundTrip(t *testing.T) {
	c := GetCodec("json")
	data, err := c.Encode(map[string]string{"a": "b"})
	require.NoError(t, err)
	var out map[string]string
	require.NoError(t, c.Decode(data, &out))
	assert.Equal(t, "b", out["a"])
}

func TestGetCodecUnknownFallsBackToJSON(t *testing.T) {
	c := GetCodec("hessian-not-registered")
	assert.Equal(t, "json", c.Name())
}
