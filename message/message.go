package message

import (
	"fmt"
	"time"

	"github.com/pingcap/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Envelope field numbers on the wire
const (
	fieldCommand   protowire.Number = 1
	fieldSequence  protowire.Number = 2
	fieldTimestamp protowire.Number = 3
	fieldTraceID   protowire.Number = 4
	fieldBody      protowire.Number = 5
)

// ErrorMask is set on the command of every error envelope sent by the gateway,
// the original request command is kept in the low bits.
const ErrorMask int32 = 0x40000000

// Errors that could be occurred in envelope codec
var (
	ErrInvalidEnvelope = errors.New("invalid envelope")
	ErrWrongWireType   = errors.New("wrong wire type")
)

// Envelope represents one decoded protocol message. An envelope is treated as
// immutable after decoding; handlers build new envelopes for replies.
type Envelope struct {
	Command   int32  // selects the handler
	Sequence  int32  // client assigned, echoed back in replies
	Timestamp int64  // unix milliseconds
	TraceID   string // opaque, propagated for observability
	Body      []byte // command specific payload, an empty body is nil
}

// New returns a new envelope stamped with the current time. An empty body is
// stored as nil, which is how it decodes from the wire.
func New(command, sequence int32, body []byte) *Envelope {
	if len(body) == 0 {
		body = nil
	}
	return &Envelope{
		Command:   command,
		Sequence:  sequence,
		Timestamp: time.Now().UnixNano() / int64(time.Millisecond),
		Body:      body,
	}
}

// Reply creates a response envelope which echoes command, sequence and trace id
func (e *Envelope) Reply(body []byte) *Envelope {
	r := New(e.Command, e.Sequence, body)
	r.TraceID = e.TraceID
	return r
}

// IsError reports whether the envelope is an error response
func (e *Envelope) IsError() bool {
	return e.Command&ErrorMask != 0
}

// RequestCommand strips the error mask and returns the command of the request
// which caused this envelope.
func (e *Envelope) RequestCommand() int32 {
	return e.Command &^ ErrorMask
}

// String, implementation of fmt.Stringer interface
func (e *Envelope) String() string {
	return fmt.Sprintf("Command=%d, Sequence=%d, Trace=%s (%dbytes)", e.Command, e.Sequence, e.TraceID, len(e.Body))
}

// Marshal marshals envelope to protobuf wire format. Zero fields are omitted
// the same as proto3 does.
func Marshal(e *Envelope) ([]byte, error) {
	if e == nil {
		return nil, ErrInvalidEnvelope
	}
	buf := make([]byte, 0, Size(e))
	return AppendEnvelope(buf, e), nil
}

// Size returns the length of the encoded envelope
func Size(e *Envelope) int {
	n := 0
	if e.Command != 0 {
		n += protowire.SizeTag(fieldCommand) + protowire.SizeVarint(uint64(int64(e.Command)))
	}
	if e.Sequence != 0 {
		n += protowire.SizeTag(fieldSequence) + protowire.SizeVarint(uint64(int64(e.Sequence)))
	}
	if e.Timestamp != 0 {
		n += protowire.SizeTag(fieldTimestamp) + protowire.SizeVarint(uint64(e.Timestamp))
	}
	if e.TraceID != "" {
		n += protowire.SizeTag(fieldTraceID) + protowire.SizeBytes(len(e.TraceID))
	}
	if len(e.Body) > 0 {
		n += protowire.SizeTag(fieldBody) + protowire.SizeBytes(len(e.Body))
	}
	return n
}

// AppendEnvelope appends the wire format of e to buf
func AppendEnvelope(buf []byte, e *Envelope) []byte {
	if e.Command != 0 {
		buf = protowire.AppendTag(buf, fieldCommand, protowire.VarintType)
		buf = protowire.AppendVarint(buf, uint64(int64(e.Command)))
	}
	if e.Sequence != 0 {
		buf = protowire.AppendTag(buf, fieldSequence, protowire.VarintType)
		buf = protowire.AppendVarint(buf, uint64(int64(e.Sequence)))
	}
	if e.Timestamp != 0 {
		buf = protowire.AppendTag(buf, fieldTimestamp, protowire.VarintType)
		buf = protowire.AppendVarint(buf, uint64(e.Timestamp))
	}
	if e.TraceID != "" {
		buf = protowire.AppendTag(buf, fieldTraceID, protowire.BytesType)
		buf = protowire.AppendString(buf, e.TraceID)
	}
	if len(e.Body) > 0 {
		buf = protowire.AppendTag(buf, fieldBody, protowire.BytesType)
		buf = protowire.AppendBytes(buf, e.Body)
	}
	return buf
}

// Unmarshal unmarshals the bytes slice to an envelope. Unknown fields are
// skipped, the body is copied so the caller may reuse data.
func Unmarshal(data []byte) (*Envelope, error) {
	e := &Envelope{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, errors.Annotate(ErrInvalidEnvelope, protowire.ParseError(n).Error())
		}
		data = data[n:]

		switch num {
		case fieldCommand, fieldSequence, fieldTimestamp:
			if typ != protowire.VarintType {
				return nil, errors.Annotatef(ErrWrongWireType, "field %d", num)
			}
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, errors.Annotate(ErrInvalidEnvelope, protowire.ParseError(n).Error())
			}
			data = data[n:]
			switch num {
			case fieldCommand:
				e.Command = int32(v)
			case fieldSequence:
				e.Sequence = int32(v)
			default:
				e.Timestamp = int64(v)
			}

		case fieldTraceID, fieldBody:
			if typ != protowire.BytesType {
				return nil, errors.Annotatef(ErrWrongWireType, "field %d", num)
			}
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, errors.Annotate(ErrInvalidEnvelope, protowire.ParseError(n).Error())
			}
			data = data[n:]
			if num == fieldTraceID {
				e.TraceID = string(v)
			} else if len(v) > 0 {
				e.Body = make([]byte, len(v))
				copy(e.Body, v)
			}

		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, errors.Annotate(ErrInvalidEnvelope, protowire.ParseError(n).Error())
			}
			data = data[n:]
		}
	}
	return e, nil
}
