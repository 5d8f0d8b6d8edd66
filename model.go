package schemacodec

// Schema is the top-level, immutable container produced by construction.
// It may serve concurrent Decode/Encode calls without locking: nothing in
// a Schema value is mutated after New returns it.
type Schema struct {
	Name    string
	Version int
	Endian  Endian

	// Exactly one of Fields or Ports is populated.
	Fields FieldSequence
	Ports  map[int]FieldSequence
	// DefaultPort, when non-nil, names the port sequence used when the
	// caller's port does not match any key in Ports.
	DefaultPort *FieldSequence

	// Defs holds reusable field-group definitions keyed by name, built by
	// New from the tree's "definitions" block. Decode and encode do not
	// read it, and the reference resolver works on the raw tree before New;
	// a fully resolved Schema has no References left in its sequences.
	Defs map[string]FieldSequence

	Metadata *MetadataDirective
}

// FieldSequence is an ordered list of field entries. Order is significant:
// decode visits entries in order exactly once per call (ByteGroup members
// excepted, which share one cursor advance).
type FieldSequence []FieldEntry

// EntryKind tags which variant a FieldEntry holds.
type EntryKind int

const (
	EntryLeaf EntryKind = iota
	EntryComputed
	EntryByteGroup
	EntryObject
	EntryFlagged
	EntryMatch
	EntryTLV
	EntryReference
)

// FieldEntry is a tagged-union field description. Exactly one of the
// type-specific pointer fields matching Kind is populated; this mirrors the
// seven FieldEntry variants (Leaf, Computed, ByteGroup, Object, Flagged,
// Match, TLV) plus the pre-resolution-only Reference variant.
type FieldEntry struct {
	Kind EntryKind

	Leaf      *LeafField
	Computed  *ComputedField
	ByteGroup *ByteGroupField
	Object    *ObjectField
	Flagged   *FlaggedField
	Match     *MatchField
	TLV       *TLVField
	Reference *ReferenceField
}

// Internal reports whether this entry's decoded value should be omitted
// from the output record while still populating the variable environment,
// per the `_name` convention.
func (f FieldEntry) Internal() bool {
	name := f.Name()
	return len(name) > 0 && name[0] == '_'
}

// Name returns the entry's declared name, or "" for entries that don't
// carry one directly (ByteGroup members carry their own names instead).
func (f FieldEntry) Name() string {
	switch f.Kind {
	case EntryLeaf:
		return f.Leaf.Name
	case EntryComputed:
		return f.Computed.Name
	case EntryObject:
		return f.Object.Name
	case EntryMatch:
		return f.Match.Name
	}
	return ""
}

// Annotations carries the descriptive metadata a leaf field may declare;
// the engine records but does not interpret these.
type Annotations struct {
	Unit        string
	Semantic    map[string]any // e.g. {"ipso": 3303}
	ValidRange  *[2]float64
	Resolution  float64
	Description string
}

// ModifierOp names one step of a leaf's arithmetic modifier chain. Order of
// appearance in LeafField.Modifiers is the order of application; encoding
// reverses it with the inverse operator.
type ModifierOp int

const (
	ModMult ModifierOp = iota
	ModDiv
	ModAdd
)

type Modifier struct {
	Op    ModifierOp
	Const float64
}

// TransformKind is one step of a computed/ref field's transform pipeline.
type TransformKind int

const (
	XformSqrt TransformKind = iota
	XformAbs
	XformPow
	XformFloor   // clamps a lower bound
	XformCeiling // clamps an upper bound
	XformClamp
	XformLog10
	XformLog
	XformAdd
	XformMult
	XformDiv
	XformRound
)

type Transform struct {
	Kind  TransformKind
	Arg   float64    // pow exponent, floor/ceiling bound, add/mult/div operand
	Range [2]float64 // clamp [lo, hi]
	Round int        // round decimal places
}

// GuardOp is a comparison operator for a guard predicate.
type GuardOp int

const (
	GuardGT GuardOp = iota
	GuardGTE
	GuardLT
	GuardLTE
	GuardEQ
	GuardNE
)

type GuardCond struct {
	Field string // variable name, without the leading '$'
	Op    GuardOp
	Const float64
}

// Guard is a conjunction of predicates over previously decoded numeric
// fields, plus the value to emit when any predicate fails.
type Guard struct {
	When []GuardCond
	Else float64 // defaults to NaN when unset; see ElseSet
	ElseSet bool
}

// BitSlice describes one of the four accepted bitfield notations, already
// normalized to (byteSize, bitOffset, bitWidth). bitOffset == -1 marks the
// sequential `u8:w` form that consumes from a running MSB-down bit cursor.
type BitSlice struct {
	ByteSize  int
	BitOffset int
	BitWidth  int
}

// LookupTable maps a decoded integer to a string; out-of-range indices pass
// the raw integer through unchanged (LookupOverflow is not an error).
type LookupTable []string

// LeafField is a terminal, byte-consuming field.
type LeafField struct {
	Name string
	Type string // e.g. "u16", "s8", "f32", "bool", "skip", "bits<3,2>", ...

	Size   int // declared byte length for bytes/ascii/hex/base64/skip types; 0 if type-fixed
	Bits   *BitSlice
	Consume *int // explicit consume override in bytes; nil = type default

	Modifiers []Modifier
	Transform []Transform

	Lookup   LookupTable
	EnumBase string          // integer base type of an enum leaf (Type is "enum")
	EnumMap  map[int64]string

	Var string // variable-environment binding name; defaults to Name

	Formula string // deprecated

	BoolBit *int // explicit bit within the byte for `bool` type

	// bitfield_string / version_string support
	StringParts  []BitStringPart
	StringJoin   string
	StringPrefix string
	StringCount  int // version_string byte count

	Annotations Annotations
}

// BitStringPart is one (bit_offset, bit_width, format) triple composing a
// bitfield_string field.
type BitStringPart struct {
	BitOffset int
	BitWidth  int
	Format    string // "decimal" or "hex"
}

// ComputedSourceKind tags which of ref/compute/value/formula a ComputedField
// uses; exactly one is populated on a given field.
type ComputedSourceKind int

const (
	ComputedRef ComputedSourceKind = iota
	ComputedOp
	ComputedValue
	ComputedFormula
)

type ComputeOp int

const (
	OpAdd ComputeOp = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpIDiv
)

// Operand is either a literal or a `$name` variable reference.
type Operand struct {
	IsRef bool
	Ref   string
	Lit   float64
}

type ComputedField struct {
	Name       string
	SourceKind ComputedSourceKind

	RefName    string // for ComputedRef, without leading '$'
	Polynomial []float64

	Op ComputeOp
	A, B Operand

	Literal float64

	Formula string // for ComputedFormula

	Transform []Transform
	Guard     *Guard
}

type ByteGroupField struct {
	Size   int
	Fields FieldSequence
}

type ObjectField struct {
	Name   string
	Fields FieldSequence
}

// FlaggedGroup is one bit-gated sub-sequence of a Flagged construct.
type FlaggedGroup struct {
	Bit    int
	Fields FieldSequence
}

type FlaggedField struct {
	FlagsRef string // name of the previously-decoded integer field
	Groups   []FlaggedGroup
}

// MatchDefaultKind selects the behavior when no case matches.
type MatchDefaultKind int

const (
	MatchDefaultError MatchDefaultKind = iota
	MatchDefaultSkip
	MatchDefaultFallback
)

// MatchCase pairs a discriminator pattern with the sequence to run. Pattern
// is one of: int64/string (equality), []any (membership), or a [2]float64
// inclusive range (built from a "lo..hi" string).
type MatchCase struct {
	Pattern any
	Fields  FieldSequence
}

type MatchField struct {
	// Exactly one of VarRef / InlineSize is set.
	VarRef     string // "$name" reference, without the '$'
	InlineSize int    // byte count to read inline; 0 means not inline

	Cases   []MatchCase
	Default MatchDefaultKind
	Fallback FieldSequence

	Name string // output binding for the inline discriminator value, "" = none
	Var  string // variable-environment binding for the inline value, "" = none
}

// TLVUnknownPolicy selects behavior for a tag absent from Cases.
type TLVUnknownPolicy int

const (
	TLVUnknownSkip TLVUnknownPolicy = iota
	TLVUnknownError
	TLVUnknownRaw
)

type TLVTagField struct {
	Name string
	Type string // usually an unsigned integer type
}

type TLVField struct {
	TagFields  []TLVTagField // one entry for a single tag field, >1 for a composite key
	LengthSize int           // 0 means implicit (no length prefix)
	Cases      map[string]FieldSequence
	Unknown    TLVUnknownPolicy
	Merge      bool // default true; false appends to a "channels" array
}

type ReferenceField struct {
	Ref    string // "path#/fragment" or a bare name for `use:`
	Rename map[string]string
	Prefix string
}
