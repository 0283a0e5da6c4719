package codec

import (
	"encoding/binary"
	"math"
	"reflect"
	"testing"

	"github.com/lonng/nano-gateway/message"
)

func TestPack(t *testing.T) {
	e1 := &message.Envelope{Command: 1, Sequence: 1, Timestamp: 1000, TraceID: "a", Body: []byte("hello world")}
	p1, err := Encode(e1)
	if err != nil {
		t.Fatal(err.Error())
	}
	if int(binary.BigEndian.Uint32(p1)) != len(p1)-HeadLength {
		t.Fatalf("wrong length prefix: %v", p1[:HeadLength])
	}

	d1 := NewDecoder(0)
	envelopes, err := d1.Decode(p1)
	if err != nil {
		t.Fatal(err.Error())
	}
	if len(envelopes) != 1 {
		t.Fatal("envelopes should not empty")
	}
	if !reflect.DeepEqual(e1, envelopes[0]) {
		t.Fatalf("expect: %v, got: %v", e1, envelopes[0])
	}
}

func TestDecodePartial(t *testing.T) {
	e1 := &message.Envelope{Command: 1, Sequence: 1, Body: []byte("first")}
	e2 := &message.Envelope{Command: 2, Sequence: 2, TraceID: "second"}
	p1, _ := Encode(e1)
	p2, _ := Encode(e2)
	stream := append(p1, p2...)

	d := NewDecoder(0)
	var got []*message.Envelope
	for i := range stream {
		envelopes, err := d.Decode(stream[i : i+1])
		if err != nil {
			t.Fatal(err)
		}
		// nothing can be emitted before the last byte of a frame arrived
		if len(envelopes) > 0 && i != len(p1)-1 && i != len(stream)-1 {
			t.Fatalf("frame emitted early at byte %d", i)
		}
		got = append(got, envelopes...)
	}

	if !reflect.DeepEqual([]*message.Envelope{e1, e2}, got) {
		t.Fatalf("expect: %v, got: %v", []*message.Envelope{e1, e2}, got)
	}
	if d.Buffered() != 0 {
		t.Fatalf("buffer should be empty, got %d", d.Buffered())
	}
}

func TestDecodeMultiple(t *testing.T) {
	var stream []byte
	for i := int32(1); i <= 10; i++ {
		p, _ := Encode(&message.Envelope{Command: i, Sequence: i})
		stream = append(stream, p...)
	}
	// trailing header of an incomplete frame
	stream = append(stream, 0x00, 0x00, 0x00, 0x08, 0x08)

	d := NewDecoder(0)
	envelopes, err := d.Decode(stream)
	if err != nil {
		t.Fatal(err)
	}
	if len(envelopes) != 10 {
		t.Fatalf("expect 10 envelopes, got %d", len(envelopes))
	}
	for i, e := range envelopes {
		if e.Command != int32(i+1) {
			t.Fatalf("wrong order: %v", e)
		}
	}
}

func TestDecodeEmptyEnvelope(t *testing.T) {
	p, _ := Encode(&message.Envelope{})
	envelopes, err := NewDecoder(0).Decode(p)
	if err != nil || len(envelopes) != 1 {
		t.Fatalf("empty envelope should be decoded, err: %v", err)
	}
}

func TestDecodeFrameTooLarge(t *testing.T) {
	d := NewDecoder(16)
	header := make([]byte, HeadLength)
	binary.BigEndian.PutUint32(header, 17)

	_, err := d.Decode(header)
	if !IsFrameError(err) {
		t.Fatalf("expect frame error, got: %v", err)
	}
	if err.(*FrameError).Err != ErrFrameTooLarge {
		t.Fatalf("expect too large, got: %v", err)
	}

	// decoder stays broken
	p, _ := Encode(&message.Envelope{Command: 1})
	if _, err := d.Decode(p); !IsFrameError(err) {
		t.Fatal("decoder should keep failing")
	}
}

func TestDecodeHugeLength(t *testing.T) {
	d := NewDecoder(math.MaxInt32)
	header := []byte{0xff, 0xff, 0xff, 0xff}

	envelopes, err := d.Decode(header)
	if !IsFrameError(err) || len(envelopes) != 0 {
		t.Fatalf("expect frame error, got: %v", err)
	}
	if fe := err.(*FrameError); fe.Err != ErrFrameTooLarge || fe.Length != math.MaxUint32 {
		t.Fatalf("expect too large with full length, got: %v", err)
	}
}

func TestEmptyBody(t *testing.T) {
	e := message.New(3, 1, []byte{})
	p, _ := Encode(e)
	envelopes, err := NewDecoder(0).Decode(p)
	if err != nil || len(envelopes) != 1 {
		t.Fatalf("decode failed: %v", err)
	}
	if !reflect.DeepEqual(e, envelopes[0]) {
		t.Fatalf("expect: %#v, got: %#v", e, envelopes[0])
	}

	// nil and empty bodies are the same on the wire
	p, _ = Encode(&message.Envelope{Command: 3, Body: []byte{}})
	envelopes, _ = NewDecoder(0).Decode(p)
	if len(envelopes) != 1 || envelopes[0].Body != nil {
		t.Fatalf("empty body should decode as nil: %#v", envelopes)
	}
}

func TestDecodeCorrupted(t *testing.T) {
	good, _ := Encode(&message.Envelope{Command: 1})
	bad := []byte{0x00, 0x00, 0x00, 0x03, 0xff, 0xff, 0xff}

	envelopes, err := NewDecoder(0).Decode(append(good, bad...))
	if !IsFrameError(err) {
		t.Fatalf("expect frame error, got: %v", err)
	}
	if len(envelopes) != 1 || envelopes[0].Command != 1 {
		t.Fatalf("frames before the broken one should be returned: %v", envelopes)
	}
}

func BenchmarkDecoder_Decode(b *testing.B) {
	data, err := Encode(&message.Envelope{Command: 1, Sequence: 1, Body: []byte("hello world")})
	if err != nil {
		b.Error(err.Error())
	}

	b.ReportAllocs()
	d1 := NewDecoder(0)
	for i := 0; i < b.N; i++ {
		envelopes, err := d1.Decode(data)
		if err != nil {
			b.Fatal(err)
		}
		if len(envelopes) != 1 {
			b.Fatal("decode error")
		}
	}
}
