package msgpack

import (
	"github.com/vmihailenco/msgpack/v5"

	"github.com/lonng/nano-gateway/serialize"
	"github.com/pingcap/errors"
)

// Serializer encodes envelope bodies with msgpack. A []byte value is passed
// through as is.
type Serializer struct{}

// NewSerializer returns a new Serializer.
func NewSerializer() *Serializer {
	return &Serializer{}
}

// Marshal returns the msgpack encoding of v.
func (s *Serializer) Marshal(v interface{}) ([]byte, error) {
	if raw, ok := serialize.Raw(v); ok {
		return raw, nil
	}
	data, err := msgpack.Marshal(v)
	return data, errors.Trace(err)
}

// Unmarshal decodes data into the value pointed to by v.
func (s *Serializer) Unmarshal(data []byte, v interface{}) error {
	if serialize.SetRaw(data, v) {
		return nil
	}
	return errors.Trace(msgpack.Unmarshal(data, v))
}
