// Package relay implements the MCTP/ODP host-to-EC message relay (§4.8):
// a big-endian header codec, a per-service-ID dispatch aggregator, and the
// request/result framing every registered service family (battery,
// thermal, debug, time/alarm) rides on.
package relay

import "encoding/binary"

// MessageType is the MCTP message type identifying ODP traffic.
const MessageType uint8 = 0x7D

// Header is the 32-bit big-endian MCTP/ODP message header (§4.8):
//
//	bit 25:    IsRequest (1 = request, 0 = result)
//	bit 24:    reserved/datagram
//	bits 23-16: ServiceID
//	bit 15:    IsError (results only; undefined for requests)
//	bits 14-0: MessageID (discriminant)
type Header struct {
	IsRequest bool
	ServiceID uint8
	IsError   bool
	MessageID uint16 // 15-bit discriminant
}

const (
	bitIsRequest  = 1 << 25
	bitIsError    = 1 << 15
	messageIDMask = 0x7FFF
)

// Encode packs h into its wire representation.
func (h Header) Encode() uint32 {
	var v uint32
	if h.IsRequest {
		v |= bitIsRequest
	}
	v |= uint32(h.ServiceID) << 16
	if h.IsError {
		v |= bitIsError
	}
	v |= uint32(h.MessageID) & messageIDMask
	return v
}

// DecodeHeader unpacks a wire header value.
func DecodeHeader(v uint32) Header {
	return Header{
		IsRequest: v&bitIsRequest != 0,
		ServiceID: uint8((v >> 16) & 0xFF),
		IsError:   v&bitIsError != 0,
		MessageID: uint16(v & messageIDMask),
	}
}

// HeaderSize is the wire size, in bytes, of an encoded Header.
const HeaderSize = 4

// ParseError reports a malformed header or packet.
type ParseError string

func (e ParseError) Error() string { return string(e) }

const (
	ErrHeaderTooShort  ParseError = "relay: packet shorter than header"
	ErrUnknownService  ParseError = "relay: unknown service id"
	ErrInvalidDirection ParseError = "relay: result received, EC does not accept results"
)

// WriteHeader serializes h as big-endian into the front of buf, which
// must have length >= HeaderSize.
func WriteHeader(buf []byte, h Header) {
	binary.BigEndian.PutUint32(buf, h.Encode())
}

// ReadHeader parses the first HeaderSize bytes of packet as a Header.
func ReadHeader(packet []byte) (Header, []byte, error) {
	if len(packet) < HeaderSize {
		return Header{}, nil, ErrHeaderTooShort
	}
	return DecodeHeader(binary.BigEndian.Uint32(packet)), packet[HeaderSize:], nil
}
