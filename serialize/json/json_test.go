package json

import (
	"reflect"
	"testing"

	"github.com/lonng/nano-gateway/message"
)

func TestSerializer_ErrorBody(t *testing.T) {
	body := &message.ErrorBody{Code: message.CodeUnauthorized, Command: 2, Message: "unauthorized"}
	s := NewSerializer()
	b, err := s.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}

	decoded := &message.ErrorBody{}
	if err := s.Unmarshal(b, decoded); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(body, decoded) {
		t.Fatalf("expect %v, got %v", body, decoded)
	}

	if err := s.Unmarshal([]byte("{"), decoded); err == nil {
		t.Fatal("truncated input should fail")
	}
}

func TestSerializer_Raw(t *testing.T) {
	s := NewSerializer()
	b, err := s.Marshal([]byte("10001"))
	if err != nil || string(b) != "10001" {
		t.Fatalf("raw body changed: %q, %v", b, err)
	}

	var out []byte
	if err := s.Unmarshal([]byte("echo"), &out); err != nil || string(out) != "echo" {
		t.Fatalf("raw body not copied: %q, %v", out, err)
	}
}

func BenchmarkSerializer_Serialize(b *testing.B) {
	body := &message.ErrorBody{Code: message.CodeOverloaded, Command: 7, Message: "overloaded"}
	s := NewSerializer()

	for i := 0; i < b.N; i++ {
		s.Marshal(body)
	}

	b.ReportAllocs()
}
