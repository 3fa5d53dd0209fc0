package scanner

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreloginProbeLayout(t *testing.T) {
	packet := preloginProbe

	require.Len(t, packet, 47)

	// TDS header
	assert.Equal(t, tdsPacketPrelogin, packet[0], "packet type")
	assert.Equal(t, byte(0x01), packet[1], "status must be end-of-message")
	assert.Equal(t, uint16(len(packet)), binary.BigEndian.Uint16(packet[2:4]),
		"header length field must equal the true packet length")
	assert.Equal(t, []byte{0x00, 0x00}, packet[4:6], "SPID")

	// Option headers: token, 2-byte offset, 2-byte length, five of
	// them, then the terminator.
	type option struct {
		token  byte
		offset uint16
		length uint16
	}
	wantOptions := []option{
		{preloginVersion, 21, 6},
		{preloginEncryption, 27, 1},
		{preloginInstOpt, 28, 1},
		{preloginThreadID, 29, 4},
		{preloginMARS, 33, 1},
	}

	pos := tdsHeaderSize
	for _, want := range wantOptions {
		got := option{
			token:  packet[pos],
			offset: binary.BigEndian.Uint16(packet[pos+1 : pos+3]),
			length: binary.BigEndian.Uint16(packet[pos+3 : pos+5]),
		}
		assert.Equal(t, want, got)
		pos += 5
	}

	assert.Equal(t, preloginTerminator, packet[pos], "option list terminator")

	// Payloads: VERSION all zero, ENCRYPTION not-supported, INSTOPT
	// empty, THREADID zero, MARS off.
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0}, packet[34:40])
	assert.Equal(t, encryptNotSup, packet[40])
	assert.Equal(t, byte(0x00), packet[41])
	assert.Equal(t, []byte{0, 0, 0, 0}, packet[42:46])
	assert.Equal(t, byte(0x00), packet[46])
}

// The probe is a wire constant: real servers answer this exact byte
// sequence, so any drift in it is a regression even when the packet
// stays structurally well-formed.
func TestPreloginProbeExactBytes(t *testing.T) {
	want := []byte{
		0x12, 0x01, 0x00, 0x2F, 0x00, 0x00, 0x01, 0x00, // header
		0x00, 0x00, 0x15, 0x00, 0x06, // VERSION header
		0x01, 0x00, 0x1B, 0x00, 0x01, // ENCRYPTION header
		0x02, 0x00, 0x1C, 0x00, 0x01, // INSTOPT header
		0x03, 0x00, 0x1D, 0x00, 0x04, // THREADID header
		0x04, 0x00, 0x21, 0x00, 0x01, // MARS header
		0xFF,                               // terminator
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // VERSION
		0x02,                   // ENCRYPTION
		0x00,                   // INSTOPT
		0x00, 0x00, 0x00, 0x00, // THREADID
		0x00, // MARS
	}

	assert.Equal(t, want, preloginProbe)
}

func TestClassifyResponse(t *testing.T) {
	tests := []struct {
		name     string
		response []byte
		want     bool
	}{
		{"prelogin reply", []byte{0x12, 0x01, 0x00, 0x20}, true},
		{"tabular result", []byte{0x04, 0x01, 0x00, 0x20}, true},
		{"single prelogin byte", []byte{0x12}, true},
		{"zero byte", []byte{0x00}, false},
		{"http response", []byte("HTTP/1.1"), false},
		{"empty", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			confirmed, info := classifyResponse(tt.response)
			assert.Equal(t, tt.want, confirmed)
			assert.NotEmpty(t, info)
		})
	}
}
