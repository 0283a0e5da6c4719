package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/lonng/nano-gateway/message"
	"github.com/pingcap/errors"
)

// HeadLength is the length of the frame header
const HeadLength = 4

// DefaultMaxFrameSize is the frame size limitation if none configured
const DefaultMaxFrameSize = 64 * 1024

var (
	ErrFrameTooLarge = errors.New("frame size exceed")
	ErrInvalidFrame  = errors.New("invalid frame")
)

// FrameError is returned by the decoder when the stream can not be decoded any
// more, the owning connection must be closed.
type FrameError struct {
	Err    error
	Length uint32 // length prefix of the broken frame
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("frame error: %s (length: %d)", e.Err.Error(), e.Length)
}

// Cause implements the causer interface of pingcap/errors
func (e *FrameError) Cause() error { return e.Err }

func (e *FrameError) Unwrap() error { return e.Err }

// IsFrameError reports whether err is a *FrameError
func IsFrameError(err error) bool {
	_, ok := err.(*FrameError)
	return ok
}

// Decoder buffers a byte stream and extracts complete frames from it. A Decoder
// belongs to one connection and is not safe for concurrent use.
type Decoder struct {
	buf     *bytes.Buffer
	size    int // length of the pending frame, -1 when the header has not arrived
	maxSize int
	err     error
}

// NewDecoder returns a decoder which rejects frames larger than maxSize
func NewDecoder(maxSize int) *Decoder {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}
	return &Decoder{buf: bytes.NewBuffer(nil), size: -1, maxSize: maxSize}
}

// Buffered returns the number of bytes waiting for the rest of their frame
func (c *Decoder) Buffered() int {
	return c.buf.Len()
}

// Decode appends data to the stream and returns all envelopes completed by it.
// Envelopes decoded before a broken frame are returned alongside the error. Once
// an error returned the decoder keeps returning it.
func (c *Decoder) Decode(data []byte) ([]*message.Envelope, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.buf.Write(data)

	var envelopes []*message.Envelope
	for {
		if c.size < 0 {
			if c.buf.Len() < HeadLength {
				break
			}
			// compared before the conversion, a 32-bit int overflows
			size := binary.BigEndian.Uint32(c.buf.Next(HeadLength))
			if uint64(size) > uint64(c.maxSize) {
				c.err = &FrameError{Err: ErrFrameTooLarge, Length: size}
				return envelopes, c.err
			}
			c.size = int(size)
		}

		if c.buf.Len() < c.size {
			break
		}

		e, err := message.Unmarshal(c.buf.Next(c.size))
		if err != nil {
			c.err = &FrameError{Err: errors.Annotate(ErrInvalidFrame, err.Error()), Length: uint32(c.size)}
			return envelopes, c.err
		}
		envelopes = append(envelopes, e)
		c.size = -1
	}

	// release memory held by consumed frames
	if c.buf.Len() == 0 {
		c.buf.Reset()
	}
	return envelopes, nil
}

// Encode returns the exact wire bytes of an envelope:
//
// -------<length>-------|--------<envelope>--------
// 4 bytes big end length | protobuf encoded envelope
func Encode(e *message.Envelope) ([]byte, error) {
	if e == nil {
		return nil, message.ErrInvalidEnvelope
	}
	size := message.Size(e)
	buf := make([]byte, HeadLength, HeadLength+size)
	binary.BigEndian.PutUint32(buf, uint32(size))
	return message.AppendEnvelope(buf, e), nil
}
