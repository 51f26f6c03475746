package main

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abrant-ru/vendista/slave"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()

	return out.String(), err
}

func TestFrameEncode(t *testing.T) {
	out, err := execute(t, "frame", "encode", "--command", "ShowPicture", "--seq", "7", "--payload", "02")
	require.NoError(t, err)

	want, err := slave.DefaultLayout().Encode(slave.Frame{Command: slave.CmdShowPicture, Sequence: 7, Payload: []byte{0x02}})
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(want), strings.TrimSpace(out))
}

func TestFrameEncode_NumericCommand(t *testing.T) {
	byName, err := execute(t, "frame", "encode", "--command", "ConnectStateRequest", "--seq", "1")
	require.NoError(t, err)

	code := fmt.Sprintf("%#02x", uint8(slave.CmdConnectStateRequest))
	byCode, err := execute(t, "frame", "encode", "--command", code, "--seq", "1")
	require.NoError(t, err)
	assert.Equal(t, byName, byCode)
}

func TestFrameEncode_Errors(t *testing.T) {
	_, err := execute(t, "frame", "encode", "--command", "Bogus")
	assert.Error(t, err)

	_, err = execute(t, "frame", "encode", "--command", "0x05", "--payload", "zz")
	assert.Error(t, err)

	_, err = execute(t, "frame", "encode")
	assert.Error(t, err)
}

func TestFrameDecode(t *testing.T) {
	layout := slave.DefaultLayout()
	f1, err := layout.Encode(slave.Frame{Command: slave.CmdAck, Sequence: 3})
	require.NoError(t, err)
	f2, err := layout.Encode(slave.Frame{Command: slave.CmdConnectStateReport, Sequence: 4, Payload: []byte{9}})
	require.NoError(t, err)

	stream := append([]byte{0xAA, 0xBB}, f1...)
	stream = append(stream, f2...)
	stream = append(stream, f1[:3]...)

	out, err := execute(t, "frame", "decode", hex.EncodeToString(stream))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "@0 skip 2 bytes")
	assert.Contains(t, lines[1], "@2 Ack seq=3")
	assert.Contains(t, lines[2], "ConnectStateReport seq=4 payload=[09]")
	assert.Contains(t, lines[3], "incomplete frame, 3 bytes left")
}

func TestFrameDecode_ConfiguredLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vendista.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[protocol]
start_marker = 0x7E
length_size = 1
checksum = "xor8"
max_payload = 200
`), 0o600))

	layout := slave.DefaultLayout()
	layout.StartMarker = 0x7E
	layout.LengthSize = 1
	layout.Checksum = slave.XOR8
	layout.MaxPayload = 200
	wire, err := layout.Encode(slave.Frame{Command: slave.CmdTouch, Sequence: 1})
	require.NoError(t, err)

	out, err := execute(t, "--config", path, "frame", "decode", hex.EncodeToString(wire))
	require.NoError(t, err)
	assert.Contains(t, out, "@0 Touch seq=1")
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version", "--short")
	require.NoError(t, err)
	assert.Equal(t, version+"\n", out)
}

func TestRun_NoTerminals(t *testing.T) {
	_, err := execute(t, "run")
	assert.ErrorContains(t, err, "no terminals configured")
}

func TestRootOptions_BadLogLevel(t *testing.T) {
	_, err := execute(t, "--log-level", "loud", "frame", "decode", "02")
	assert.Error(t, err)
}
