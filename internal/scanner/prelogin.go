package scanner

import "fmt"

// TDS packet types relevant to pre-login fingerprinting.
const (
	tdsPacketTabularResult byte = 0x04
	tdsPacketPrelogin      byte = 0x12
)

// TDS packet header size.
const tdsHeaderSize = 8

// PRELOGIN option tokens.
const (
	preloginVersion    byte = 0x00
	preloginEncryption byte = 0x01
	preloginInstOpt    byte = 0x02
	preloginThreadID   byte = 0x03
	preloginMARS       byte = 0x04
	preloginTerminator byte = 0xFF
)

// ENCRYPT_NOT_SUP: the probe neither requires nor supports encryption.
const encryptNotSup byte = 0x02

// preloginReadLen is the number of response bytes read before
// classifying. Only the first byte matters; reading a few more keeps
// slow servers from stalling on a one-byte read.
const preloginReadLen = 8

// preloginProbe is the fixed PRELOGIN request sent verbatim to every
// candidate port. 47 bytes total: 8-byte TDS header, five option
// headers, terminator, then the option payloads.
var preloginProbe = buildPreloginProbe()

// buildPreloginProbe constructs the minimal legal PRELOGIN packet:
// VERSION 0.0.0.0 build 0, ENCRYPTION not supported, empty instance
// name, zero thread id, MARS off. The header length field must equal
// the true byte count of the whole packet.
func buildPreloginProbe() []byte {
	// Offset values carried in the option headers. VERSION advertises
	// payload offset 21, the rest follow back to back; SQL Server
	// answers this exact byte sequence, so do not recompute it.
	const (
		versionOff    = 21
		versionLen    = 6
		encryptionOff = versionOff + versionLen
		encryptionLen = 1
		instOptOff    = encryptionOff + encryptionLen
		instOptLen    = 1
		threadIDOff   = instOptOff + instOptLen
		threadIDLen   = 4
		marsOff       = threadIDOff + threadIDLen
		marsLen       = 1
		totalLen      = 47
	)

	packet := make([]byte, 0, totalLen)

	packet = append(packet,
		tdsPacketPrelogin,                 // packet type
		0x01,                              // status: end of message
		byte(totalLen>>8), byte(totalLen), // total length, big-endian
		0x00, 0x00, // SPID
		0x01, // packet id
		0x00, // window
	)

	appendOption := func(token byte, off, length int) {
		packet = append(packet, token, byte(off>>8), byte(off), byte(length>>8), byte(length))
	}

	appendOption(preloginVersion, versionOff, versionLen)
	appendOption(preloginEncryption, encryptionOff, encryptionLen)
	appendOption(preloginInstOpt, instOptOff, instOptLen)
	appendOption(preloginThreadID, threadIDOff, threadIDLen)
	appendOption(preloginMARS, marsOff, marsLen)
	packet = append(packet, preloginTerminator)

	// VERSION: all zero (version 0.0.0.0 build 0).
	packet = append(packet, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00)
	// ENCRYPTION: not supported.
	packet = append(packet, encryptNotSup)
	// INSTOPT: empty instance name.
	packet = append(packet, 0x00)
	// THREADID: zero.
	packet = append(packet, 0x00, 0x00, 0x00, 0x00)
	// MARS: off.
	packet = append(packet, 0x00)

	return packet
}

// classifyResponse decides whether response bytes prove a TDS listener.
// A genuine PRELOGIN reply (0x12) confirms. So does TABULAR_RESULT
// (0x04): SQL Server reports certain pre-login errors that way, which
// still proves it speaks TDS. Anything else is an open TCP service
// that is not SQL Server.
func classifyResponse(response []byte) (bool, string) {
	if len(response) == 0 {
		return false, "no response"
	}

	switch response[0] {
	case tdsPacketPrelogin:
		return true, "PRELOGIN response (0x12)"
	case tdsPacketTabularResult:
		return true, "TABULAR_RESULT response (0x04)"
	default:
		return false, fmt.Sprintf("non-TDS response (first byte 0x%02X)", response[0])
	}
}
