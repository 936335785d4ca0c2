package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrMalformed = errors.New("malformed packet")
)

// Validator is implemented by packet types that carry fields with a fixed
// expected value (e.g. a protocol version).
type Validator interface {
	Validate() error
}

// Size is the encoded size of T; all fields of T must have a fixed size.
func Size[T any]() int {
	var t T
	return binary.Size(&t)
}

// Encode appends the big-endian, unpadded encoding of t to buf.
func Encode[T any](buf []byte, t *T) ([]byte, error) {
	res, err := binary.Append(buf, binary.BigEndian, t)
	if err != nil {
		return nil, fmt.Errorf("binary.Append: %w", err)
	}
	return res, nil
}

// Decode parses buf, which must be exactly Size[T]() bytes long.
func Decode[T any](buf []byte) (T, error) {
	var t T
	if size := binary.Size(&t); len(buf) != size {
		return t, fmt.Errorf("%w: %d bytes, expected %d", ErrMalformed, len(buf), size)
	}

	if _, err := binary.Decode(buf, binary.BigEndian, &t); err != nil {
		return t, fmt.Errorf("%w: binary.Decode: %w", ErrMalformed, err)
	}

	if v, ok := any(&t).(Validator); ok {
		if err := v.Validate(); err != nil {
			return t, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
	}
	return t, nil
}
