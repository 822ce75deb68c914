package keys_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jrife/tanager/storage/kv/keys"
)

func TestStringRoundTrip(t *testing.T) {
	testCases := map[string]string{
		"ascii":   "accounts",
		"unicode": "zür1ch",
		"single":  "a",
	}

	for name, s := range testCases {
		t.Run(name, func(t *testing.T) {
			encoded, err := keys.AppendString(nil, s)

			if err != nil {
				t.Fatalf("expected err to be nil, got %#v", err)
			}

			decoded, rest, err := keys.TakeString(encoded)

			if err != nil {
				t.Fatalf("expected err to be nil, got %#v", err)
			}

			if decoded != s {
				t.Fatalf("expected %#v, got %#v", s, decoded)
			}

			if len(rest) != 0 {
				t.Fatalf("expected no trailing bytes, got %#v", rest)
			}
		})
	}
}

func TestStringRejectsNulAndEmpty(t *testing.T) {
	if _, err := keys.AppendString(nil, "a\x00b"); !errors.Is(err, keys.ErrEncode) {
		t.Fatalf("expected ErrEncode, got %#v", err)
	}

	if _, err := keys.AppendString(nil, ""); !errors.Is(err, keys.ErrEncode) {
		t.Fatalf("expected ErrEncode, got %#v", err)
	}
}

func TestStringRejectsInvalidUTF8(t *testing.T) {
	// 0xff never appears in valid UTF-8, so letting it through would
	// break prefix range bounds built on it
	for _, s := range []string{"\xffusers", "us\xff\xfeers", "users\xff"} {
		if _, err := keys.AppendString(nil, s); !errors.Is(err, keys.ErrEncode) {
			t.Fatalf("expected ErrEncode for %#v, got %#v", s, err)
		}
	}
}

func TestStringOrdering(t *testing.T) {
	// The terminator must not break prefix ordering: "ab" < "ab1"
	a, _ := keys.AppendString(nil, "ab")
	b, _ := keys.AppendString(nil, "ab1")

	if bytes.Compare(a, b) >= 0 {
		t.Fatalf("expected %#v < %#v", a, b)
	}
}

func TestUintRoundTripAndOrdering(t *testing.T) {
	values := []uint32{0, 1, 255, 256, 1 << 20, ^uint32(0)}

	var prev []byte

	for _, v := range values {
		encoded := keys.AppendUint32(nil, v)

		decoded, rest, err := keys.TakeUint32(encoded)

		if err != nil {
			t.Fatalf("expected err to be nil, got %#v", err)
		}

		if decoded != v || len(rest) != 0 {
			t.Fatalf("round trip failed for %d: got %d rest %#v", v, decoded, rest)
		}

		if prev != nil && bytes.Compare(prev, encoded) >= 0 {
			t.Fatalf("expected %#v < %#v", prev, encoded)
		}

		prev = encoded
	}
}

func TestTakeTruncated(t *testing.T) {
	if _, _, err := keys.TakeUint32([]byte{0x01}); !errors.Is(err, keys.ErrDecode) {
		t.Fatalf("expected ErrDecode, got %#v", err)
	}

	if _, _, err := keys.TakeUint64([]byte{0x01, 0x02}); !errors.Is(err, keys.ErrDecode) {
		t.Fatalf("expected ErrDecode, got %#v", err)
	}

	if _, _, err := keys.TakeString([]byte("no-terminator")); !errors.Is(err, keys.ErrDecode) {
		t.Fatalf("expected ErrDecode, got %#v", err)
	}

	if _, err := keys.TakeTag([]byte("!tb"), []byte("!fd")); !errors.Is(err, keys.ErrDecode) {
		t.Fatalf("expected ErrDecode, got %#v", err)
	}
}

func TestInc(t *testing.T) {
	testCases := map[string]struct {
		key  keys.Key
		next keys.Key
	}{
		"simple":   {key: keys.Key{0x04, 0x01}, next: keys.Key{0x04, 0x02}},
		"carry":    {key: keys.Key{0x04, 0xff}, next: keys.Key{0x05, 0x00}},
		"overflow": {key: keys.Key{0xff, 0xff}, next: nil},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			diff := cmp.Diff(testCase.next, keys.Inc(testCase.key))

			if diff != "" {
				t.Fatalf(diff)
			}
		})
	}
}

func TestRange(t *testing.T) {
	r := keys.All().Prefix([]byte("aa"))

	if keys.Compare(r.Min, keys.Key("aa\x00")) != 0 {
		t.Fatalf("unexpected min %#v", r.Min)
	}

	if keys.Compare(r.Max, keys.Key("ab")) != 0 {
		t.Fatalf("unexpected max %#v", r.Max)
	}

	r = keys.All().Gte([]byte("b")).Lt([]byte("d"))

	if keys.Compare(r.Min, keys.Key("b")) != 0 || keys.Compare(r.Max, keys.Key("d")) != 0 {
		t.Fatalf("unexpected range %#v", r)
	}
}

func TestPrefixDoesNotMutateArgument(t *testing.T) {
	k := []byte("aa")

	r := keys.All().Prefix(k)

	if string(k) != "aa" {
		t.Fatalf("expected the argument to be untouched, got %#v", string(k))
	}

	if keys.Compare(r.Max, keys.Key("ab")) != 0 {
		t.Fatalf("unexpected max %#v", r.Max)
	}
}
