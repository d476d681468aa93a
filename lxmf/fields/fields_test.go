package fields

import (
	"bytes"
	"testing"

	"github.com/vmihailenco/msgpack/v5"
)

func roundTrip(t *testing.T, f Fields) Fields {
	t.Helper()
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := EncodeFields(enc, f); err != nil {
		t.Fatalf("EncodeFields: %v", err)
	}
	dec := msgpack.NewDecoder(bytes.NewReader(buf.Bytes()))
	got, err := DecodeFields(dec)
	if err != nil {
		t.Fatalf("DecodeFields: %v", err)
	}
	return got
}

func TestFieldsRoundTripEmpty(t *testing.T) {
	got := roundTrip(t, nil)
	if len(got) != 0 {
		t.Fatalf("expected empty map, got %v", got)
	}
}

func TestFieldsRoundTripAttachments(t *testing.T) {
	data := bytes.Repeat([]byte{0xAB}, 1024)
	f := Fields{
		FileAttachments: List(
			List(Bin([]byte("readme.txt")), Bin([]byte("Hello"))),
			List(Bin([]byte("data.bin")), Bin(data)),
		),
	}
	got := roundTrip(t, f)
	if !got.Equal(f) {
		t.Fatalf("round trip mismatch: got=%+v want=%+v", got, f)
	}
	name := got[FileAttachments].List[1].List[0].Bin
	if string(name) != "data.bin" {
		t.Fatalf("filename mismatch: %q", name)
	}
	binData := got[FileAttachments].List[1].List[1].Bin
	if !bytes.Equal(binData, data) {
		t.Fatalf("binary content mismatch")
	}
}

func TestFieldsRoundTripNestedMap(t *testing.T) {
	f := Fields{
		Thread: Map(map[int64]Value{
			1: Int(42),
			2: List(Int(1), Int(2), Int(3)),
		}),
	}
	got := roundTrip(t, f)
	if !got.Equal(f) {
		t.Fatalf("round trip mismatch: got=%+v want=%+v", got, f)
	}
}

func TestFieldsEqualDistinguishesAbsentFromEmpty(t *testing.T) {
	empty := Fields{}
	withEmptyBin := Fields{Thread: Bin(nil)}
	if empty.Equal(withEmptyBin) {
		t.Fatalf("absent field should not equal a field with an empty value")
	}
}
