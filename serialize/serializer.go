package serialize

type (
	// Marshaler represents a marshal interface
	Marshaler interface {
		Marshal(interface{}) ([]byte, error)
	}

	// Unmarshaler represents a Unmarshal interface
	Unmarshaler interface {
		Unmarshal([]byte, interface{}) error
	}

	// Serializer is the interface that groups the basic Marshal and Unmarshal methods.
	Serializer interface {
		Marshaler
		Unmarshaler
	}
)

// Raw reports whether v is an already encoded body. Envelope bodies are
// opaque, so handlers may reply with bytes they received unchanged.
func Raw(v interface{}) ([]byte, bool) {
	b, ok := v.([]byte)
	return b, ok
}

// SetRaw copies data into v when v is a *[]byte.
func SetRaw(data []byte, v interface{}) bool {
	p, ok := v.(*[]byte)
	if !ok {
		return false
	}
	*p = append((*p)[:0], data...)
	return true
}
