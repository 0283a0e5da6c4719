package protobuf

import (
	"github.com/lonng/nano-gateway/serialize"
	"github.com/pingcap/errors"
	"google.golang.org/protobuf/proto"
)

// ErrWrongValueType is returned when the value is not a proto.Message.
var ErrWrongValueType = errors.New("protobuf: convert on wrong type value")

// Serializer encodes envelope bodies as protobuf messages. A []byte value
// is passed through as is.
type Serializer struct{}

// NewSerializer returns a new Serializer.
func NewSerializer() *Serializer {
	return &Serializer{}
}

// Marshal returns the protobuf encoding of v.
func (s *Serializer) Marshal(v interface{}) ([]byte, error) {
	if raw, ok := serialize.Raw(v); ok {
		return raw, nil
	}
	pb, ok := v.(proto.Message)
	if !ok {
		return nil, ErrWrongValueType
	}
	data, err := proto.Marshal(pb)
	return data, errors.Trace(err)
}

// Unmarshal decodes data into the proto.Message pointed to by v.
func (s *Serializer) Unmarshal(data []byte, v interface{}) error {
	if serialize.SetRaw(data, v) {
		return nil
	}
	pb, ok := v.(proto.Message)
	if !ok {
		return ErrWrongValueType
	}
	return errors.Trace(proto.Unmarshal(data, pb))
}
