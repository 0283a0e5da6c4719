package msgpack

import (
	"reflect"
	"testing"
)

type BagItem struct {
	ID    int32  `msgpack:"id"`
	Name  string `msgpack:"name"`
	Count int    `msgpack:"count"`
}

func TestSerializer_Serialize(t *testing.T) {
	items := []BagItem{{1, "sword", 1}, {2, "potion", 12}}
	s := NewSerializer()
	b, err := s.Marshal(items)
	if err != nil {
		t.Fatal(err)
	}

	var decoded []BagItem
	if err := s.Unmarshal(b, &decoded); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(items, decoded) {
		t.Fatalf("expect %v, got %v", items, decoded)
	}
}

func TestSerializer_Raw(t *testing.T) {
	s := NewSerializer()
	b, err := s.Marshal([]byte{0x01, 0x02})
	if err != nil || !reflect.DeepEqual(b, []byte{0x01, 0x02}) {
		t.Fatalf("raw body changed: %v, %v", b, err)
	}
}
