// Package fields models the dynamically typed LXMF fields map: small
// integer tags to a value space of integer, binary string, list, or nested
// map, round-tripping exactly through msgpack including the distinction
// between an absent field and a field holding an empty value.
package fields

// Stable field tags, treated as registry configuration rather than
// hardcoded per call site (spec §6).
const (
	Renderer        = 15
	FileAttachments = 16
	Image           = 17
	Thread          = 18
	Commands        = 19
)

// entry describes a tag for logging/debugging only; it never gates
// encode/decode, which always accepts the full dynamic value space.
type entry struct {
	Name  string
	Shape string
}

// Registry is a stable, read-only table of known field tags. It is
// informational: absence from the table does not make a tag invalid.
var Registry = map[int]entry{
	Renderer:        {Name: "renderer", Shape: "int"},
	FileAttachments: {Name: "file_attachments", Shape: "list[[name bin, data bin]]"},
	Image:           {Name: "image", Shape: "list[format bin, data bin]"},
	Thread:          {Name: "thread", Shape: "bin"},
	Commands:        {Name: "commands", Shape: "list[...]"},
}

// Name returns the registry name for tag, or "" if unregistered.
func Name(tag int) string {
	return Registry[tag].Name
}

// Kind tags the dynamic value space of a single fields entry.
type Kind int

const (
	KindInt Kind = iota
	KindBin
	KindList
	KindMap
)

// Value is a tagged sum over {int64, []byte, []Value, map[int64]Value},
// matching the reference wire's recursively msgpack-encodable field space.
type Value struct {
	Kind Kind
	Int  int64
	Bin  []byte
	List []Value
	Map  map[int64]Value
}

func Int(v int64) Value  { return Value{Kind: KindInt, Int: v} }
func Bin(v []byte) Value { return Value{Kind: KindBin, Bin: v} }
func List(v ...Value) Value {
	return Value{Kind: KindList, List: v}
}
func Map(v map[int64]Value) Value { return Value{Kind: KindMap, Map: v} }

// Equal reports deep value equality, used by round-trip tests.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindInt:
		return v.Int == o.Int
	case KindBin:
		if len(v.Bin) != len(o.Bin) {
			return false
		}
		for i := range v.Bin {
			if v.Bin[i] != o.Bin[i] {
				return false
			}
		}
		return true
	case KindList:
		if len(v.List) != len(o.List) {
			return false
		}
		for i := range v.List {
			if !v.List[i].Equal(o.List[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.Map) != len(o.Map) {
			return false
		}
		for k, mv := range v.Map {
			ov, ok := o.Map[k]
			if !ok || !mv.Equal(ov) {
				return false
			}
		}
		return true
	}
	return false
}

// Fields is the tag->Value map carried by a Message. A nil Fields and an
// empty-but-non-nil Fields are both encoded as an empty msgpack map: the
// wire format never omits the fields element (spec §4.1).
type Fields map[int64]Value

// Equal reports whether two Fields maps are deeply equal, key set and
// values alike.
func (f Fields) Equal(o Fields) bool {
	if len(f) != len(o) {
		return false
	}
	for k, v := range f {
		ov, ok := o[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}
