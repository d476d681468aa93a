package fields

import (
	"fmt"
	"sort"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// EncodeValue writes a single dynamic field value using the low-level
// encoder so that the exact wire shape (bin vs. str, map vs. array) is under
// our control rather than left to reflection-based encoding.
func EncodeValue(enc *msgpack.Encoder, v Value) error {
	switch v.Kind {
	case KindInt:
		return enc.EncodeInt(v.Int)
	case KindBin:
		// Always binary, never the str8/16/32 family, to match reference
		// wire behavior for strings carried inside fields (spec §4.1). A nil
		// slice is written as an empty bin rather than msgpack nil.
		if v.Bin == nil {
			return enc.EncodeBytes([]byte{})
		}
		return enc.EncodeBytes(v.Bin)
	case KindList:
		if err := enc.EncodeArrayLen(len(v.List)); err != nil {
			return err
		}
		for _, item := range v.List {
			if err := EncodeValue(enc, item); err != nil {
				return err
			}
		}
		return nil
	case KindMap:
		keys := make([]int64, 0, len(v.Map))
		for k := range v.Map {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
		if err := enc.EncodeMapLen(len(keys)); err != nil {
			return err
		}
		for _, k := range keys {
			if err := enc.EncodeInt(k); err != nil {
				return err
			}
			if err := EncodeValue(enc, v.Map[k]); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("fields: unknown value kind %d", v.Kind)
	}
}

// DecodeValue reads a single dynamic field value, dispatching on the
// msgpack type code actually present on the wire.
func DecodeValue(dec *msgpack.Decoder) (Value, error) {
	code, err := dec.PeekCode()
	if err != nil {
		return Value{}, err
	}
	switch {
	case msgpcode.IsFixedMap(code) || code == msgpcode.Map16 || code == msgpcode.Map32:
		n, err := dec.DecodeMapLen()
		if err != nil {
			return Value{}, err
		}
		m := make(map[int64]Value, n)
		for i := 0; i < n; i++ {
			k, err := dec.DecodeInt64()
			if err != nil {
				return Value{}, err
			}
			v, err := DecodeValue(dec)
			if err != nil {
				return Value{}, err
			}
			m[k] = v
		}
		return Map(m), nil
	case msgpcode.IsFixedArray(code) || code == msgpcode.Array16 || code == msgpcode.Array32:
		n, err := dec.DecodeArrayLen()
		if err != nil {
			return Value{}, err
		}
		list := make([]Value, 0, n)
		for i := 0; i < n; i++ {
			v, err := DecodeValue(dec)
			if err != nil {
				return Value{}, err
			}
			list = append(list, v)
		}
		return Value{Kind: KindList, List: list}, nil
	case msgpcode.IsBin(code) || msgpcode.IsString(code):
		b, err := dec.DecodeBytes()
		if err != nil {
			return Value{}, err
		}
		return Bin(b), nil
	default:
		i, err := dec.DecodeInt64()
		if err != nil {
			return Value{}, fmt.Errorf("fields: unsupported value code 0x%x: %w", code, err)
		}
		return Int(i), nil
	}
}

// EncodeFields writes a Fields map as msgpack, always as a map header even
// when empty (spec §4.1: the fields element is never omitted).
func EncodeFields(enc *msgpack.Encoder, f Fields) error {
	keys := make([]int64, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	if err := enc.EncodeMapLen(len(keys)); err != nil {
		return err
	}
	for _, k := range keys {
		if err := enc.EncodeInt(k); err != nil {
			return err
		}
		if err := EncodeValue(enc, f[k]); err != nil {
			return err
		}
	}
	return nil
}

// DecodeFields reads a Fields map.
func DecodeFields(dec *msgpack.Decoder) (Fields, error) {
	n, err := dec.DecodeMapLen()
	if err != nil {
		return nil, err
	}
	f := make(Fields, n)
	for i := 0; i < n; i++ {
		k, err := dec.DecodeInt64()
		if err != nil {
			return nil, err
		}
		v, err := DecodeValue(dec)
		if err != nil {
			return nil, err
		}
		f[k] = v
	}
	return f, nil
}
