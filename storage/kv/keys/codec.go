package keys

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"
)

var (
	// ErrEncode indicates that a value could not be encoded
	// into an order-preserving key segment.
	ErrEncode = errors.New("could not encode key segment")
	// ErrDecode indicates that a byte string does not contain
	// a well-formed key segment at the expected position.
	ErrDecode = errors.New("could not decode key segment")
)

// AppendString appends the order-preserving encoding of s to dst:
// the raw UTF-8 bytes followed by a 0x00 terminator. Strings
// containing a NUL byte cannot be represented and are rejected, and
// the encoding is defined over UTF-8 only: bytes like 0xff that never
// appear in valid UTF-8 are what makes sentinel-based range bounds
// sound.
func AppendString(dst []byte, s string) ([]byte, error) {
	if len(s) == 0 {
		return nil, fmt.Errorf("%w: string must not be empty", ErrEncode)
	}

	if !utf8.ValidString(s) {
		return nil, fmt.Errorf("%w: string is not valid UTF-8", ErrEncode)
	}

	for i := 0; i < len(s); i++ {
		if s[i] == 0x00 {
			return nil, fmt.Errorf("%w: string contains a NUL byte", ErrEncode)
		}
	}

	dst = append(dst, s...)
	dst = append(dst, 0x00)

	return dst, nil
}

// TakeString consumes an encoded string from the front of src and
// returns it along with the remaining bytes.
func TakeString(src []byte) (string, []byte, error) {
	i := bytes.IndexByte(src, 0x00)

	if i < 0 {
		return "", nil, fmt.Errorf("%w: unterminated string", ErrDecode)
	}

	if i == 0 {
		return "", nil, fmt.Errorf("%w: empty string", ErrDecode)
	}

	return string(src[:i]), src[i+1:], nil
}

// AppendUint32 appends the fixed-width big-endian encoding of n to
// dst. Fixed width plus big-endian byte order is what keeps numeric
// segments comparable as raw bytes.
func AppendUint32(dst []byte, n uint32) []byte {
	var b [4]byte

	binary.BigEndian.PutUint32(b[:], n)

	return append(dst, b[:]...)
}

// TakeUint32 consumes a fixed-width uint32 from the front of src.
func TakeUint32(src []byte) (uint32, []byte, error) {
	if len(src) < 4 {
		return 0, nil, fmt.Errorf("%w: truncated uint32", ErrDecode)
	}

	return binary.BigEndian.Uint32(src[:4]), src[4:], nil
}

// AppendUint64 appends the fixed-width big-endian encoding of n to dst.
func AppendUint64(dst []byte, n uint64) []byte {
	var b [8]byte

	binary.BigEndian.PutUint64(b[:], n)

	return append(dst, b[:]...)
}

// TakeUint64 consumes a fixed-width uint64 from the front of src.
func TakeUint64(src []byte) (uint64, []byte, error) {
	if len(src) < 8 {
		return 0, nil, fmt.Errorf("%w: truncated uint64", ErrDecode)
	}

	return binary.BigEndian.Uint64(src[:8]), src[8:], nil
}

// AppendBytes appends exactly len(b) raw bytes to dst. Raw segments
// are fixed width by construction so they need no terminator.
func AppendBytes(dst []byte, b []byte) []byte {
	return append(dst, b...)
}

// TakeBytes consumes exactly n raw bytes from the front of src.
func TakeBytes(src []byte, n int) ([]byte, []byte, error) {
	if len(src) < n {
		return nil, nil, fmt.Errorf("%w: truncated byte segment", ErrDecode)
	}

	b := make([]byte, n)
	copy(b, src[:n])

	return b, src[n:], nil
}

// TakeTag consumes the literal tag from the front of src, failing if
// the bytes do not match.
func TakeTag(src []byte, tag []byte) ([]byte, error) {
	if len(src) < len(tag) || !bytes.Equal(src[:len(tag)], tag) {
		return nil, fmt.Errorf("%w: expected tag %q", ErrDecode, tag)
	}

	return src[len(tag):], nil
}
