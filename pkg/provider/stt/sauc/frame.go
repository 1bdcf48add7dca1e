package sauc

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/tidwall/gjson"
)

// MessageType is the 4-bit message kind in byte 1 of the header.
type MessageType uint8

const (
	FullClientRequest   MessageType = 0b0001
	AudioOnlyRequest    MessageType = 0b0010
	FullServerResponse  MessageType = 0b1001
	ServerErrorResponse MessageType = 0b1111
)

func (t MessageType) String() string {
	switch t {
	case FullClientRequest:
		return "full_client_request"
	case AudioOnlyRequest:
		return "audio_only_request"
	case FullServerResponse:
		return "full_server_response"
	case ServerErrorResponse:
		return "server_error_response"
	default:
		return fmt.Sprintf("message_type(%#x)", uint8(t))
	}
}

// Flags is the 4-bit message-type-specific flag set in byte 1 of the header.
type Flags uint8

const (
	FlagSequence Flags = 0b0001
	FlagLast     Flags = 0b0010
	FlagEvent    Flags = 0b0100
)

// Serialization is the payload encoding declared in byte 2 of the header.
type Serialization uint8

const (
	SerializationNone Serialization = 0b0000
	SerializationJSON Serialization = 0b0001
)

// Compression is the payload compression declared in byte 2 of the header.
type Compression uint8

const (
	CompressionNone Compression = 0b0000
	CompressionGzip Compression = 0b0001
)

const (
	// ProtocolVersion is the only protocol version spoken.
	ProtocolVersion = 0b0001

	// HeaderSize is the size of the header in bytes; one 4-byte word.
	HeaderSize = 4
)

// Header is the decoded form of the 4-byte frame header.
type Header struct {
	Version       uint8
	Size          int // in bytes
	MessageType   MessageType
	Flags         Flags
	Serialization Serialization
	Compression   Compression
}

// EncodeHeader packs the header fields into their wire form.
func EncodeHeader(t MessageType, f Flags, s Serialization, c Compression) [HeaderSize]byte {
	return [HeaderSize]byte{
		ProtocolVersion<<4 | HeaderSize/4,
		byte(t)<<4 | byte(f)&0x0f,
		byte(s)<<4 | byte(c)&0x0f,
		0x00,
	}
}

// DecodeHeader unpacks the first header word of b.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes is shorter than the header", ErrMalformedFrame, len(b))
	}
	h := Header{
		Version:       b[0] >> 4,
		Size:          int(b[0]&0x0f) * 4,
		MessageType:   MessageType(b[1] >> 4),
		Flags:         Flags(b[1] & 0x0f),
		Serialization: Serialization(b[2] >> 4),
		Compression:   Compression(b[2] & 0x0f),
	}
	if h.Size < HeaderSize || h.Size > len(b) {
		return Header{}, fmt.Errorf("%w: declared header size %d, frame has %d bytes", ErrMalformedFrame, h.Size, len(b))
	}
	return h, nil
}

// Request is an outbound frame.
type Request interface {
	Encode() ([]byte, error)
}

// ConfigRequest is the full client request that opens a recognition. Payload
// is the JSON configuration document; it is compressed on encode.
type ConfigRequest struct {
	Sequence int32
	Payload  []byte
}

// Encode implements [Request].
func (r ConfigRequest) Encode() ([]byte, error) {
	h := EncodeHeader(FullClientRequest, FlagSequence, SerializationJSON, CompressionGzip)
	return encodeFrame(h, r.Sequence, r.Payload)
}

// AudioRequest carries one audio segment. Sequence is the positive counter
// value; the final segment is written with the value negated.
type AudioRequest struct {
	Sequence int32
	Last     bool
	Audio    []byte
}

// Encode implements [Request].
func (r AudioRequest) Encode() ([]byte, error) {
	flags, seq := FlagSequence, r.Sequence
	if r.Last {
		flags |= FlagLast
		seq = -seq
	}
	h := EncodeHeader(AudioOnlyRequest, flags, SerializationJSON, CompressionGzip)
	return encodeFrame(h, seq, r.Audio)
}

func encodeFrame(h [HeaderSize]byte, seq int32, payload []byte) ([]byte, error) {
	compressed, err := gzipCompress(payload)
	if err != nil {
		return nil, fmt.Errorf("sauc: compress payload: %w", err)
	}
	out := make([]byte, 0, HeaderSize+8+len(compressed))
	out = append(out, h[:]...)
	out = binary.BigEndian.AppendUint32(out, uint32(seq))
	out = binary.BigEndian.AppendUint32(out, uint32(len(compressed)))
	return append(out, compressed...), nil
}

// Response is a decoded server frame.
type Response struct {
	MessageType MessageType

	// Code is the service status; 0 means success. Only error responses
	// carry one.
	Code int32

	Event    int32
	HasEvent bool

	IsLastPackage bool

	Sequence    int32
	HasSequence bool

	PayloadSize uint32

	// Payload is the decoded JSON document, nil when the frame had none or it
	// could not be decoded.
	Payload json.RawMessage

	// Warning is set when a payload was present but dropped.
	Warning *DecodeWarning
}

// field is a fixed-width big-endian integer that may follow the header.
type field uint8

const (
	fieldSequence field = iota
	fieldEvent
	fieldCode
	fieldPayloadSize
)

func (f field) String() string {
	return [...]string{"sequence", "event", "code", "payload size"}[f]
}

// flagFields lists the optional fields announced by header flags, in wire
// order.
var flagFields = []struct {
	flag  Flags
	field field
}{
	{FlagSequence, fieldSequence},
	{FlagEvent, fieldEvent},
}

// messageFields lists the fields each server message type carries after the
// flag-driven ones. Types not listed carry none.
var messageFields = map[MessageType][]field{
	FullServerResponse:  {fieldPayloadSize},
	ServerErrorResponse: {fieldCode, fieldPayloadSize},
}

// DecodeResponse parses a server frame. Truncated frames yield
// [ErrMalformedFrame]. A payload that fails to decompress or is not valid JSON
// does not fail the call: the Response comes back with a nil Payload and
// Warning set.
func DecodeResponse(frame []byte) (Response, error) {
	h, err := DecodeHeader(frame)
	if err != nil {
		return Response{}, err
	}
	r := Response{
		MessageType:   h.MessageType,
		IsLastPackage: h.Flags&FlagLast != 0,
	}

	var fields []field
	for _, ff := range flagFields {
		if h.Flags&ff.flag != 0 {
			fields = append(fields, ff.field)
		}
	}
	fields = append(fields, messageFields[h.MessageType]...)

	rest := frame[h.Size:]
	hasSize := false
	for _, f := range fields {
		if len(rest) < 4 {
			return Response{}, fmt.Errorf("%w: %s frame ends before %s", ErrMalformedFrame, h.MessageType, f)
		}
		v := binary.BigEndian.Uint32(rest)
		rest = rest[4:]
		switch f {
		case fieldSequence:
			r.Sequence, r.HasSequence = int32(v), true
		case fieldEvent:
			r.Event, r.HasEvent = int32(v), true
		case fieldCode:
			r.Code = int32(v)
		case fieldPayloadSize:
			r.PayloadSize, hasSize = v, true
		}
	}
	if hasSize && uint64(r.PayloadSize) > uint64(len(rest)) {
		return Response{}, fmt.Errorf("%w: payload declares %d bytes, %d present", ErrMalformedFrame, r.PayloadSize, len(rest))
	}
	if len(rest) == 0 {
		return r, nil
	}

	payload := rest
	if h.Compression == CompressionGzip {
		payload, err = gzipDecompress(payload)
		if err != nil {
			r.Warning = &DecodeWarning{Stage: "decompress", Err: err}
			return r, nil
		}
	}
	if h.Serialization == SerializationJSON {
		if !gjson.ValidBytes(payload) {
			r.Warning = &DecodeWarning{Stage: "unmarshal", Err: fmt.Errorf("invalid JSON (%d bytes)", len(payload))}
			return r, nil
		}
		r.Payload = json.RawMessage(payload)
	}
	return r, nil
}

func gzipCompress(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(b); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gzipDecompress(b []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
