package message

import (
	"reflect"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	tests := []*Envelope{
		{},
		{Command: 1, Sequence: 1, Timestamp: 1589000000000, TraceID: "trace-1", Body: []byte("hello world")},
		{Command: -7, Sequence: -1, Timestamp: -5, TraceID: "negative"},
		{Command: 2 | ErrorMask, Sequence: 1 << 30, Body: []byte{0x00, 0xff}},
	}

	for _, e := range tests {
		data, err := Marshal(e)
		if err != nil {
			t.Fatal(err)
		}
		if len(data) != Size(e) {
			t.Fatalf("size expect: %d, got: %d", Size(e), len(data))
		}
		d, err := Unmarshal(data)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(e, d) {
			t.Fatalf("expect: %v, got: %v", e, d)
		}
	}
}

func TestNewEmptyBody(t *testing.T) {
	in := New(2, 9, []byte{})
	if in.Body != nil {
		t.Fatalf("empty body should be nil: %#v", in.Body)
	}
	if r := in.Reply([]byte{}); r.Body != nil {
		t.Fatalf("empty reply body should be nil: %#v", r.Body)
	}
}

func TestUnmarshalSkipUnknownField(t *testing.T) {
	data, _ := Marshal(&Envelope{Command: 3, Body: []byte("x")})
	data = protowire.AppendTag(data, 15, protowire.BytesType)
	data = protowire.AppendString(data, "future")

	e, err := Unmarshal(data)
	if err != nil {
		t.Fatal(err)
	}
	if e.Command != 3 || string(e.Body) != "x" {
		t.Fatalf("unexpected envelope: %v", e)
	}
}

func TestUnmarshalCorrupted(t *testing.T) {
	data, _ := Marshal(&Envelope{Command: 3, TraceID: "abcdef"})

	if _, err := Unmarshal(data[:len(data)-2]); err == nil {
		t.Fatal("truncated envelope should fail")
	}
	if _, err := Unmarshal([]byte{0xff, 0xff, 0xff}); err == nil {
		t.Fatal("garbage should fail")
	}

	// command encoded as bytes
	bad := protowire.AppendTag(nil, fieldCommand, protowire.BytesType)
	bad = protowire.AppendString(bad, "1")
	if _, err := Unmarshal(bad); err == nil {
		t.Fatal("wrong wire type should fail")
	}
}

func TestErrorEnvelope(t *testing.T) {
	in := &Envelope{Command: 2, Sequence: 9, TraceID: "t"}
	e := NewError(in, []byte("{}"))
	if !e.IsError() || e.RequestCommand() != 2 || e.Sequence != 9 || e.TraceID != "t" {
		t.Fatalf("unexpected error envelope: %v", e)
	}
	if r := in.Reply(nil); r.IsError() || r.Command != 2 {
		t.Fatalf("unexpected reply: %v", r)
	}
}
