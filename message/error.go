package message

// Error codes carried by error envelopes
const (
	CodeBadRequest   int32 = 400
	CodeUnauthorized int32 = 401
	CodeNotFound     int32 = 404
	CodeInternal     int32 = 500
	CodeOverloaded   int32 = 503
)

// ErrorBody is the payload of an error envelope, it is serialized with the
// serializer configured on the gateway (json by default).
type ErrorBody struct {
	Code    int32  `json:"code" msgpack:"code"`
	Command int32  `json:"command" msgpack:"command"`
	Message string `json:"message" msgpack:"message"`
}

// NewError builds an error envelope answering the request in
func NewError(in *Envelope, body []byte) *Envelope {
	e := New(in.Command|ErrorMask, in.Sequence, body)
	e.TraceID = in.TraceID
	return e
}
