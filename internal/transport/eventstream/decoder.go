// Package eventstream decodes the binary length-prefixed framing used by
// Bedrock streaming responses. The decoder is a pure streaming transform:
// it knows nothing about model semantics and only yields typed JSON
// payloads to its caller.
package eventstream

import (
	"encoding/binary"
	"encoding/json"
)

// Frame layout:
//
//	[4B total length BE][4B headers length BE][4B prelude CRC]
//	[headers block][payload][4B message CRC]
//
// Header entry: [1B name length][name][1B type tag][type-specific value].
const (
	preludeLen  = 12
	trailerLen  = 4
	minFrameLen = preludeLen + trailerLen

	// maxFrameLen guards against a corrupted length prefix.
	maxFrameLen = 16 << 20
)

// Header value type tags. Only string headers are interpreted; the rest
// are skipped by their wire size.
const (
	typeBoolTrue  = 0
	typeBoolFalse = 1
	typeByte      = 2
	typeShort     = 3
	typeInt       = 4
	typeLong      = 5
	typeBytes     = 6
	typeString    = 7
	typeTimestamp = 8
	typeUUID      = 9
)

const eventTypeHeader = ":event-type"

// Message is one decoded frame: the event-type discriminator and the
// frame's JSON payload.
type Message struct {
	EventType string
	Payload   json.RawMessage
}

// Decoder incrementally decodes frames from arbitrary byte chunks.
// A malformed frame is dropped silently and decoding continues with the
// next frame; only a corrupted length prefix discards buffered input,
// since the stream cannot be resynchronized without it.
type Decoder struct {
	buf []byte
}

// NewDecoder creates an empty streaming decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends p to the internal buffer and returns every complete frame
// that decoded to a valid message. Partial trailing bytes stay buffered
// until more input arrives.
func (d *Decoder) Feed(p []byte) []Message {
	d.buf = append(d.buf, p...)

	var msgs []Message
	for {
		if len(d.buf) < preludeLen {
			return msgs
		}

		total := int(binary.BigEndian.Uint32(d.buf[:4]))
		if total < minFrameLen || total > maxFrameLen {
			d.buf = nil
			return msgs
		}
		if len(d.buf) < total {
			return msgs
		}

		frame := d.buf[:total]
		d.buf = d.buf[total:]

		if msg, ok := decodeFrame(frame); ok {
			msgs = append(msgs, msg)
		}
	}
}

// decodeFrame decodes one complete frame. Returns ok=false for frames
// that must be dropped.
func decodeFrame(frame []byte) (Message, bool) {
	total := len(frame)
	headersLen := int(binary.BigEndian.Uint32(frame[4:8]))
	if headersLen < 0 || preludeLen+headersLen > total-trailerLen {
		return Message{}, false
	}

	headers, ok := decodeHeaders(frame[preludeLen : preludeLen+headersLen])
	if !ok {
		return Message{}, false
	}

	eventType, ok := headers[eventTypeHeader]
	if !ok {
		return Message{}, false
	}

	payload := frame[preludeLen+headersLen : total-trailerLen]
	if !json.Valid(payload) {
		return Message{}, false
	}

	return Message{
		EventType: eventType,
		Payload:   json.RawMessage(append([]byte(nil), payload...)),
	}, true
}

// decodeHeaders parses the packed header block, keeping string-typed
// entries and skipping the rest. An entry that cannot be sized fails the
// whole block.
func decodeHeaders(block []byte) (map[string]string, bool) {
	headers := make(map[string]string)
	i := 0
	for i < len(block) {
		nameLen := int(block[i])
		i++
		if i+nameLen > len(block) {
			return nil, false
		}
		name := string(block[i : i+nameLen])
		i += nameLen

		if i >= len(block) {
			return nil, false
		}
		tag := block[i]
		i++

		switch tag {
		case typeBoolTrue, typeBoolFalse:
			// no value bytes
		case typeByte:
			i++
		case typeShort:
			i += 2
		case typeInt:
			i += 4
		case typeLong, typeTimestamp:
			i += 8
		case typeUUID:
			i += 16
		case typeBytes, typeString:
			if i+2 > len(block) {
				return nil, false
			}
			valLen := int(binary.BigEndian.Uint16(block[i : i+2]))
			i += 2
			if i+valLen > len(block) {
				return nil, false
			}
			if tag == typeString {
				headers[name] = string(block[i : i+valLen])
			}
			i += valLen
		default:
			return nil, false
		}
		if i > len(block) {
			return nil, false
		}
	}
	return headers, true
}
