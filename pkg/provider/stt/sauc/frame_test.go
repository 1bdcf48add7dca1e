package sauc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"testing"
)

// serverFrame builds a server frame the way the service does: header, the
// flag-driven fields, the code for error responses, then a sized gzip payload.
func serverFrame(t *testing.T, mt MessageType, flags Flags, seq, code int32, payload string) []byte {
	t.Helper()
	h := EncodeHeader(mt, flags, SerializationJSON, CompressionGzip)
	b := append([]byte(nil), h[:]...)
	if flags&FlagSequence != 0 {
		b = binary.BigEndian.AppendUint32(b, uint32(seq))
	}
	if mt == ServerErrorResponse {
		b = binary.BigEndian.AppendUint32(b, uint32(code))
	}
	var z []byte
	if payload != "" {
		var err error
		if z, err = gzipCompress([]byte(payload)); err != nil {
			t.Errorf("compress: %v", err)
		}
	}
	b = binary.BigEndian.AppendUint32(b, uint32(len(z)))
	return append(b, z...)
}

// clientFrame is an outbound frame split into its parts.
type clientFrame struct {
	Header   Header
	Sequence int32
	Payload  []byte // decompressed
}

func decodeClientFrame(b []byte) (clientFrame, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return clientFrame{}, err
	}
	rest := b[h.Size:]
	if len(rest) < 8 {
		return clientFrame{}, fmt.Errorf("client frame too short: %d bytes after header", len(rest))
	}
	seq := int32(binary.BigEndian.Uint32(rest[0:4]))
	size := binary.BigEndian.Uint32(rest[4:8])
	if int(size) != len(rest)-8 {
		return clientFrame{}, fmt.Errorf("declared payload size %d, actual %d", size, len(rest)-8)
	}
	payload, err := gzipDecompress(rest[8:])
	if err != nil {
		return clientFrame{}, fmt.Errorf("decompress: %w", err)
	}
	return clientFrame{Header: h, Sequence: seq, Payload: payload}, nil
}

func parseClientFrame(t *testing.T, b []byte) clientFrame {
	t.Helper()
	f, err := decodeClientFrame(b)
	if err != nil {
		t.Fatalf("parse client frame: %v", err)
	}
	return f
}

func TestHeaderRoundTrip(t *testing.T) {
	t.Parallel()

	types := []MessageType{FullClientRequest, AudioOnlyRequest, FullServerResponse, ServerErrorResponse}
	for _, mt := range types {
		for f := Flags(0); f <= 0x0f; f++ {
			for _, s := range []Serialization{SerializationNone, SerializationJSON} {
				for _, c := range []Compression{CompressionNone, CompressionGzip} {
					b := EncodeHeader(mt, f, s, c)
					if b[0] != 0x11 || b[3] != 0 {
						t.Fatalf("EncodeHeader(%v, %#x, %d, %d) = % x: bad version/size or reserved byte", mt, f, s, c, b)
					}
					h, err := DecodeHeader(b[:])
					if err != nil {
						t.Fatalf("DecodeHeader(% x): %v", b, err)
					}
					want := Header{Version: ProtocolVersion, Size: HeaderSize, MessageType: mt, Flags: f, Serialization: s, Compression: c}
					if h != want {
						t.Fatalf("round trip = %+v, want %+v", h, want)
					}
				}
			}
		}
	}
}

func TestConfigRequestEncode(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"user":{"uid":"demo_uid"}}`)
	b, err := ConfigRequest{Sequence: 1, Payload: payload}.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if want := []byte{0x11, 0x11, 0x11, 0x00}; !bytes.Equal(b[:4], want) {
		t.Errorf("header = % x, want % x", b[:4], want)
	}
	f := parseClientFrame(t, b)
	if f.Sequence != 1 {
		t.Errorf("sequence = %d, want 1", f.Sequence)
	}
	if !bytes.Equal(f.Payload, payload) {
		t.Errorf("payload = %s, want %s", f.Payload, payload)
	}
}

func TestAudioRequestRoundTrip(t *testing.T) {
	t.Parallel()

	audio := make([]byte, 6400)
	for i := range audio {
		audio[i] = byte(i * 7)
	}

	tests := []struct {
		name      string
		req       AudioRequest
		wantByte1 byte
		wantSeq   int32
	}{
		{"first segment", AudioRequest{Sequence: 2, Audio: audio}, 0x21, 2},
		{"middle segment", AudioRequest{Sequence: 4, Audio: audio}, 0x21, 4},
		{"final segment", AudioRequest{Sequence: 5, Last: true, Audio: audio[:800]}, 0x23, -5},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b, err := tc.req.Encode()
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if b[0] != 0x11 || b[1] != tc.wantByte1 || b[2] != 0x11 || b[3] != 0 {
				t.Errorf("header = % x, want 11 %02x 11 00", b[:4], tc.wantByte1)
			}
			f := parseClientFrame(t, b)
			if f.Header.MessageType != AudioOnlyRequest {
				t.Errorf("message type = %v, want %v", f.Header.MessageType, AudioOnlyRequest)
			}
			if f.Sequence != tc.wantSeq {
				t.Errorf("sequence = %d, want %d", f.Sequence, tc.wantSeq)
			}
			if !bytes.Equal(f.Payload, tc.req.Audio) {
				t.Error("audio does not survive the gzip round trip")
			}
		})
	}
}

func TestDecodeResponse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		frame func(t *testing.T) []byte
		check func(t *testing.T, r Response)
	}{
		{
			name: "full response with sequence",
			frame: func(t *testing.T) []byte {
				return serverFrame(t, FullServerResponse, FlagSequence, 3, 0, `{"result":{"text":"hi"}}`)
			},
			check: func(t *testing.T, r Response) {
				if r.MessageType != FullServerResponse || !r.HasSequence || r.Sequence != 3 {
					t.Errorf("got type %v seq %d (has %v)", r.MessageType, r.Sequence, r.HasSequence)
				}
				if r.IsLastPackage || r.Code != 0 || r.HasEvent {
					t.Errorf("unexpected last=%v code=%d event=%v", r.IsLastPackage, r.Code, r.HasEvent)
				}
				if string(r.Payload) != `{"result":{"text":"hi"}}` {
					t.Errorf("payload = %s", r.Payload)
				}
				if r.PayloadSize == 0 || r.Warning != nil {
					t.Errorf("payload size %d, warning %v", r.PayloadSize, r.Warning)
				}
			},
		},
		{
			name: "last package with negative sequence",
			frame: func(t *testing.T) []byte {
				return serverFrame(t, FullServerResponse, FlagSequence|FlagLast, -5, 0, `{}`)
			},
			check: func(t *testing.T, r Response) {
				if !r.IsLastPackage || r.Sequence != -5 {
					t.Errorf("last=%v seq=%d, want true/-5", r.IsLastPackage, r.Sequence)
				}
			},
		},
		{
			name: "error response",
			frame: func(t *testing.T) []byte {
				return serverFrame(t, ServerErrorResponse, 0, 0, 45000081, `{"error":"invalid audio"}`)
			},
			check: func(t *testing.T, r Response) {
				if r.Code != 45000081 || r.HasSequence {
					t.Errorf("code = %d, has sequence %v", r.Code, r.HasSequence)
				}
				if pe := newProtocolError(r); pe.Message != "invalid audio" {
					t.Errorf("protocol error message = %q", pe.Message)
				}
			},
		},
		{
			name: "event field",
			frame: func(t *testing.T) []byte {
				h := EncodeHeader(FullServerResponse, FlagSequence|FlagEvent, SerializationJSON, CompressionNone)
				b := append([]byte(nil), h[:]...)
				b = binary.BigEndian.AppendUint32(b, 7)
				b = binary.BigEndian.AppendUint32(b, 150)
				b = binary.BigEndian.AppendUint32(b, 2)
				return append(b, "{}"...)
			},
			check: func(t *testing.T, r Response) {
				if r.Sequence != 7 || !r.HasEvent || r.Event != 150 {
					t.Errorf("seq=%d event=%d (has %v)", r.Sequence, r.Event, r.HasEvent)
				}
				if string(r.Payload) != "{}" {
					t.Errorf("uncompressed payload = %q", r.Payload)
				}
			},
		},
		{
			name: "empty payload",
			frame: func(t *testing.T) []byte {
				return serverFrame(t, FullServerResponse, FlagSequence, 1, 0, "")
			},
			check: func(t *testing.T, r Response) {
				if r.Payload != nil || r.Warning != nil {
					t.Errorf("payload %q warning %v, want neither", r.Payload, r.Warning)
				}
			},
		},
		{
			name: "corrupt gzip",
			frame: func(t *testing.T) []byte {
				h := EncodeHeader(FullServerResponse, 0, SerializationJSON, CompressionGzip)
				b := append([]byte(nil), h[:]...)
				b = binary.BigEndian.AppendUint32(b, 5)
				return append(b, "nope!"...)
			},
			check: func(t *testing.T, r Response) {
				if r.Payload != nil {
					t.Errorf("payload = %q, want nil", r.Payload)
				}
				if r.Warning == nil || r.Warning.Stage != "decompress" {
					t.Errorf("warning = %v, want decompress stage", r.Warning)
				}
			},
		},
		{
			name: "invalid json",
			frame: func(t *testing.T) []byte {
				return serverFrame(t, FullServerResponse, 0, 0, 0, `{"result":`)
			},
			check: func(t *testing.T, r Response) {
				if r.Payload != nil {
					t.Errorf("payload = %q, want nil", r.Payload)
				}
				if r.Warning == nil || r.Warning.Stage != "unmarshal" {
					t.Errorf("warning = %v, want unmarshal stage", r.Warning)
				}
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r, err := DecodeResponse(tc.frame(t))
			if err != nil {
				t.Fatalf("DecodeResponse: %v", err)
			}
			tc.check(t, r)
		})
	}
}

func TestDecodeResponse_Malformed(t *testing.T) {
	t.Parallel()

	full := EncodeHeader(FullServerResponse, FlagSequence, SerializationJSON, CompressionGzip)
	errHdr := EncodeHeader(ServerErrorResponse, 0, SerializationJSON, CompressionGzip)

	tests := []struct {
		name  string
		frame []byte
	}{
		{"empty", nil},
		{"three bytes", full[:3]},
		{"zero header size", []byte{0x10, 0x91, 0x11, 0x00}},
		{"header size beyond frame", []byte{0x12, 0x91, 0x11, 0x00, 0, 0}},
		{"missing sequence", append(full[:], 0, 0)},
		{"missing payload size", append(full[:], 0, 0, 0, 1)},
		{"error missing code", append(errHdr[:], 0, 0)},
		{"error missing size", append(errHdr[:], 0, 0, 0, 9)},
		{"payload shorter than declared", append(full[:], 0, 0, 0, 1, 0, 0, 0, 10, 'x')},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeResponse(tc.frame); !errors.Is(err, ErrMalformedFrame) {
				t.Errorf("err = %v, want ErrMalformedFrame", err)
			}
		})
	}
}

func TestDecodeResponse_EveryPrefix(t *testing.T) {
	t.Parallel()

	frame := serverFrame(t, ServerErrorResponse, FlagSequence|FlagEvent, 9, 1, `{"error":"x"}`)
	for n := 0; n < len(frame); n++ {
		// Must not panic; any outcome other than a panic is acceptable.
		_, _ = DecodeResponse(frame[:n])
	}
}
