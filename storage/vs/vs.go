package vs

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// Size is the fixed width of a versionstamp in bytes
	Size = 10
)

var (
	// ErrExhausted indicates that the versionstamp counter overflowed
	ErrExhausted = errors.New("versionstamp space exhausted")
	// ErrMalformed indicates that a byte string is not a versionstamp
	ErrMalformed = errors.New("malformed versionstamp")
)

// VersionStamp is a strictly increasing commit stamp: an 8 byte
// big-endian counter followed by a 2 byte suffix reserved for ordering
// multiple stamps issued inside one commit. The encoding sorts the
// same way the logical value does so stamps can be embedded directly
// in keys.
type VersionStamp [Size]byte

// New returns the versionstamp for the given counter value with a
// zero suffix
func New(counter uint64) VersionStamp {
	var v VersionStamp

	binary.BigEndian.PutUint64(v[:8], counter)

	return v
}

// FromSlice reconstructs a versionstamp from its encoded form
func FromSlice(b []byte) (VersionStamp, error) {
	var v VersionStamp

	if len(b) != Size {
		return v, fmt.Errorf("%w: expected %d bytes, got %d", ErrMalformed, Size, len(b))
	}

	copy(v[:], b)

	return v, nil
}

// Counter returns the 8 byte counter portion of the stamp
func (v VersionStamp) Counter() uint64 {
	return binary.BigEndian.Uint64(v[:8])
}

// Next returns the smallest versionstamp greater than v with a zero
// suffix. It returns ErrExhausted if the counter would overflow.
func (v VersionStamp) Next() (VersionStamp, error) {
	counter := v.Counter()

	if counter == ^uint64(0) {
		return VersionStamp{}, ErrExhausted
	}

	return New(counter + 1), nil
}

// Compare returns -1, 0, or 1 if v is less than, equal to, or greater
// than o
func (v VersionStamp) Compare(o VersionStamp) int {
	for i := 0; i < Size; i++ {
		if v[i] < o[i] {
			return -1
		}

		if v[i] > o[i] {
			return 1
		}
	}

	return 0
}

// Slice returns the encoded form of the stamp
func (v VersionStamp) Slice() []byte {
	return append([]byte{}, v[:]...)
}

func (v VersionStamp) String() string {
	return fmt.Sprintf("%x", v[:])
}
