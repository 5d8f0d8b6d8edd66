package schemacodec

import (
	"encoding/base64"
	"hash/crc32"
	"math"
	"strconv"
)

// binFieldType is the 4-bit type nibble stored in a binary schema record's
// high bits.
type binFieldType byte

const (
	binUnsigned   binFieldType = 0x0
	binSigned     binFieldType = 0x1
	binFloat      binFieldType = 0x2
	binBytes      binFieldType = 0x3
	binBool       binFieldType = 0x4
	binEnum       binFieldType = 0x5
	binBitfield   binFieldType = 0x6
	binStructural binFieldType = 0x7
)

const (
	opcodeMatch byte = 0x70
	opcodeVar   byte = 0x73
)

const multSentinelHalf byte = 0xFF

// binTypeSize maps a leaf's declared type string to its binary-schema type
// code and byte width. Types with no binary-schema representation (bitfield
// notations, strings, udec/sdec, ...) are not covered here; EncodeBinarySchema
// skips those fields with a warning, matching the compact format's
// device-oriented scope.
func binTypeSize(t string) (binFieldType, int, bool) {
	switch t {
	case "u8", "uint8":
		return binUnsigned, 1, true
	case "u16", "uint16":
		return binUnsigned, 2, true
	case "u24", "uint24":
		return binUnsigned, 3, true
	case "u32", "uint32":
		return binUnsigned, 4, true
	case "u64", "uint64":
		return binUnsigned, 8, true
	case "s8", "i8", "int8":
		return binSigned, 1, true
	case "s16", "i16", "int16":
		return binSigned, 2, true
	case "s24", "i24", "int24":
		return binSigned, 3, true
	case "s32", "i32", "int32":
		return binSigned, 4, true
	case "s64", "i64", "int64":
		return binSigned, 8, true
	case "f32", "float":
		return binFloat, 4, true
	case "f64", "double":
		return binFloat, 8, true
	case "bool":
		return binBool, 1, true
	}
	return 0, 0, false
}

var sizeToType = map[[2]int]string{
	{int(binUnsigned), 1}: "u8",
	{int(binUnsigned), 2}: "u16",
	{int(binUnsigned), 3}: "u24",
	{int(binUnsigned), 4}: "u32",
	{int(binUnsigned), 8}: "u64",
	{int(binSigned), 1}:   "s8",
	{int(binSigned), 2}:   "s16",
	{int(binSigned), 3}:   "s24",
	{int(binSigned), 4}:   "s32",
	{int(binSigned), 8}:   "s64",
	{int(binFloat), 4}:    "f32",
	{int(binFloat), 8}:    "f64",
	{int(binBool), 1}:     "bool",
}

// multExponentByte converts a multiplier constant to the encoded exponent
// byte: 0 for the identity, the sentinel for the non-power-of-ten 0.5, or a
// signed base-10 exponent clamped to the byte's range. Multipliers that
// aren't exactly 1.0, 0.5, or a power of ten encode as the identity rather
// than failing outright, matching a compact format that trades precision
// for device-side simplicity.
func multExponentByte(mult float64) byte {
	if mult == 0 || mult == 1.0 {
		return 0
	}
	if mult == 0.5 {
		return multSentinelHalf
	}
	exp := math.Log10(mult)
	rounded := math.Round(exp)
	if math.Abs(exp-rounded) >= 0.001 {
		return 0
	}
	if rounded < -128 {
		rounded = -128
	}
	if rounded > 127 {
		rounded = 127
	}
	return byte(int8(rounded))
}

// exponentByteToMult is multExponentByte's inverse. The sentinel decodes
// back to exactly 0.5, unlike the reference implementation's decoder (which
// collapses it to 0.1); this module's round-trip invariant requires the
// correct inverse, so the sentinel is honored both ways.
func exponentByteToMult(b byte) float64 {
	if b == 0 {
		return 1.0
	}
	if b == multSentinelHalf {
		return 0.5
	}
	return math.Pow(10, float64(int8(b)))
}

func leafMult(leaf *LeafField) float64 {
	mult := 1.0
	for _, m := range leaf.Modifiers {
		switch m.Op {
		case ModMult:
			mult *= m.Const
		case ModDiv:
			if m.Const != 0 {
				mult /= m.Const
			}
		}
	}
	return mult
}

func leafSemanticID(leaf *LeafField) uint16 {
	if leaf.Annotations.Semantic == nil {
		return 0
	}
	if v, ok := leaf.Annotations.Semantic["ipso"]; ok {
		if f, ok := toFloat(v); ok {
			return uint16(f)
		}
	}
	return 0
}

// encodeBinaryDataRecord writes one 4-byte [type_byte, mult_exp,
// semantic_id_lo, semantic_id_hi] record, little-endian throughout
// regardless of the schema's runtime endianness.
func encodeBinaryDataRecord(leaf *LeafField) ([4]byte, bool) {
	typ, size, ok := binTypeSize(leaf.Type)
	if !ok {
		return [4]byte{}, false
	}
	typeByte := byte(typ)<<4 | byte(size&0x0F)
	expByte := multExponentByte(leafMult(leaf))
	sem := leafSemanticID(leaf)
	return [4]byte{typeByte, expByte, byte(sem), byte(sem >> 8)}, true
}

func decodeBinaryDataRecord(b []byte) BinaryFieldDesc {
	typeByte, expByte := b[0], b[1]
	sem := uint16(b[2]) | uint16(b[3])<<8
	typ := binFieldType((typeByte >> 4) & 0x0F)
	size := int(typeByte & 0x0F)
	typeStr, ok := sizeToType[[2]int{int(typ), size}]
	if !ok {
		typeStr = "u8"
	}
	return BinaryFieldDesc{
		Type: typeStr,
		Mult: exponentByteToMult(expByte),
		IPSO: int(sem),
	}
}

// BinaryFieldDesc is one decoded binary-schema data field. Names are not
// carried by the wire format (the device only needs type/mult/semantic);
// decode synthesizes a positional name.
type BinaryFieldDesc struct {
	Name string
	Type string
	Mult float64
	IPSO int
	Var  string // non-empty when a VAR opcode follows this field
}

// BinaryMatchDesc is a decoded v2 MATCH structural record.
type BinaryMatchDesc struct {
	Inline        bool
	WideValue     bool
	VarIndex      int
	Cases         map[int64][]BinaryFieldDesc
	DefaultKind   MatchDefaultKind
	DefaultFields []BinaryFieldDesc
}

// BinarySchemaEntry is a decoded top-level binary-schema record: exactly one
// of Data or Match is populated.
type BinarySchemaEntry struct {
	Data  *BinaryFieldDesc
	Match *BinaryMatchDesc
}

// BinarySchemaDoc is the result of decoding a compact binary schema.
type BinarySchemaDoc struct {
	Version int
	Endian  Endian
	Entries []BinarySchemaEntry
}

type binarySchemaOptions struct {
	checksum bool
}

// BinarySchemaOption configures EncodeBinarySchema.
type BinarySchemaOption func(*binarySchemaOptions)

// WithChecksum appends a little-endian CRC32 trailer over the encoded bytes
// for transport integrity checking.
func WithChecksum() BinarySchemaOption {
	return func(o *binarySchemaOptions) { o.checksum = true }
}

// EncodeBinarySchema renders schema's top-level field sequence to the
// compact binary form. It emits v1 when every entry is a plain Leaf with a
// representable type, and v2 otherwise: Leaf entries still pack into
// 4-byte records, Match entries lower to a MATCH opcode when every one of
// their cases is itself Leaf-only, and anything else (Object, TLV,
// ByteGroup, Computed, or a Match with non-Leaf cases) is omitted with a
// warning, per the v2 encoder's documented scope.
func EncodeBinarySchema(schema *Schema, opts ...BinarySchemaOption) ([]byte, []string, error) {
	var cfg binarySchemaOptions
	for _, o := range opts {
		o(&cfg)
	}

	seq := schema.Fields
	if seq == nil && len(schema.Ports) > 0 {
		return nil, nil, errStructural("", "binary schema encoding requires a flat field sequence, not a port-keyed schema")
	}

	if allLeaf(seq) {
		out, warnings := encodeBinaryV1(seq)
		return finishBinary(out, cfg), warnings, nil
	}

	out, warnings := encodeBinaryV2(schema, seq)
	return finishBinary(out, cfg), warnings, nil
}

func finishBinary(out []byte, cfg binarySchemaOptions) []byte {
	if !cfg.checksum {
		return out
	}
	sum := crc32.ChecksumIEEE(out)
	out = append(out, byte(sum), byte(sum>>8), byte(sum>>16), byte(sum>>24))
	return out
}

func allLeaf(seq FieldSequence) bool {
	for _, e := range seq {
		if e.Kind != EntryLeaf {
			return false
		}
		if _, _, ok := binTypeSize(e.Leaf.Type); !ok {
			return false
		}
	}
	return len(seq) > 0
}

func encodeBinaryV1(seq FieldSequence) ([]byte, []string) {
	out := make([]byte, 0, 2+4*len(seq))
	out = append(out, 1, byte(len(seq)))
	for _, e := range seq {
		rec, _ := encodeBinaryDataRecord(e.Leaf)
		out = append(out, rec[:]...)
	}
	return out, nil
}

func encodeBinaryV2(schema *Schema, seq FieldSequence) ([]byte, []string) {
	var warnings []string
	var body []byte

	varIndex := map[string]int{}
	nextVar := 0

	matchRefs := map[string]bool{}
	for _, e := range seq {
		if e.Kind == EntryMatch && e.Match.VarRef != "" {
			matchRefs[e.Match.VarRef] = true
		}
	}

	count := 0
	for _, e := range seq {
		switch e.Kind {
		case EntryLeaf:
			rec, ok := encodeBinaryDataRecord(e.Leaf)
			if !ok {
				warnings = append(warnings, "binary schema: field "+e.Leaf.Name+" has no compact representation, skipped")
				continue
			}
			body = append(body, rec[:]...)
			count++
			if matchRefs[varName(e.Leaf)] {
				body = append(body, opcodeVar)
				varIndex[varName(e.Leaf)] = nextVar
				nextVar++
			}

		case EntryMatch:
			rec, ok, w := encodeBinaryMatch(e.Match, varIndex)
			warnings = append(warnings, w...)
			if !ok {
				warnings = append(warnings, "binary schema: match "+e.Match.Name+" could not be encoded, skipped")
				continue
			}
			body = append(body, rec...)
			count++

		default:
			warnings = append(warnings, "binary schema: field entry kind has no compact representation, skipped")
		}
	}

	flags := byte(0)
	if schema.Endian == LittleEndian {
		flags |= 0x01
	}

	out := make([]byte, 0, 3+len(body))
	out = append(out, 2, flags, byte(count))
	out = append(out, body...)
	return out, warnings
}

func encodeBinaryMatch(m *MatchField, varIndex map[string]int) ([]byte, bool, []string) {
	var warnings []string
	for _, c := range m.Cases {
		for _, f := range c.Fields {
			if f.Kind != EntryLeaf {
				return nil, false, warnings
			}
		}
	}

	wide := false
	for _, c := range m.Cases {
		if n, ok := c.Pattern.(int64); ok && (n > 255 || n < 0) {
			wide = true
		}
		if n, ok := c.Pattern.(int); ok && (n > 255 || n < 0) {
			wide = true
		}
	}

	flags := byte(0)
	if m.InlineSize > 0 {
		flags |= 0x10
		if m.InlineSize >= 2 {
			wide = true
		}
	} else {
		flags |= byte(varIndex[m.VarRef] & 0x0F)
	}
	if wide {
		flags |= 0x20
	}
	hasDefault := m.Default != MatchDefaultError || len(m.Fallback) > 0
	if hasDefault {
		flags |= 0x40
	}

	out := []byte{opcodeMatch, flags, byte(len(m.Cases))}
	for _, c := range m.Cases {
		val, ok := matchPatternInt(c.Pattern)
		if !ok {
			return nil, false, warnings
		}
		if wide {
			out = append(out, byte(val), byte(val>>8))
		} else {
			out = append(out, byte(val))
		}
		out = append(out, byte(len(c.Fields)))
		for _, f := range c.Fields {
			rec, ok := encodeBinaryDataRecord(f.Leaf)
			if !ok {
				return nil, false, warnings
			}
			out = append(out, rec[:]...)
		}
	}

	if hasDefault {
		switch m.Default {
		case MatchDefaultSkip:
			out = append(out, 0)
		case MatchDefaultFallback:
			out = append(out, byte(len(m.Fallback)))
			for _, f := range m.Fallback {
				if f.Kind != EntryLeaf {
					return nil, false, warnings
				}
				rec, ok := encodeBinaryDataRecord(f.Leaf)
				if !ok {
					return nil, false, warnings
				}
				out = append(out, rec[:]...)
			}
		default:
			out = append(out, 0xFF)
		}
	}

	return out, true, warnings
}

func matchPatternInt(pattern any) (int64, bool) {
	switch v := pattern.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	}
	return 0, false
}

// DecodeBinarySchema parses the compact binary form back to a descriptive
// document. Field names are synthesized (field_0, field_1, ...) since the
// wire format never carries them.
func DecodeBinarySchema(data []byte) (*BinarySchemaDoc, error) {
	if len(data) < 2 {
		return nil, errBinarySchemaMalformed("binary schema too short: need at least 2 bytes, got %d", len(data))
	}

	switch data[0] {
	case 1:
		return decodeBinaryV1(data)
	case 2:
		return decodeBinaryV2(data)
	default:
		return nil, errBinarySchemaMalformed("unknown binary schema version %d", data[0])
	}
}

func decodeBinaryV1(data []byte) (*BinarySchemaDoc, error) {
	count := int(data[1])
	want := 2 + 4*count
	if len(data) < want {
		return nil, errBinarySchemaMalformed("v1 schema declares %d fields but only %d bytes present", count, len(data))
	}

	doc := &BinarySchemaDoc{Version: 1, Endian: BigEndian}
	for i := 0; i < count; i++ {
		off := 2 + 4*i
		desc := decodeBinaryDataRecord(data[off : off+4])
		desc.Name = fieldPositionalName(i)
		doc.Entries = append(doc.Entries, BinarySchemaEntry{Data: &desc})
	}
	return doc, nil
}

func fieldPositionalName(i int) string {
	return "field_" + strconv.Itoa(i)
}

func decodeBinaryV2(data []byte) (*BinarySchemaDoc, error) {
	if len(data) < 3 {
		return nil, errBinarySchemaMalformed("v2 schema header truncated")
	}
	flags := data[1]
	doc := &BinarySchemaDoc{Version: 2, Endian: BigEndian}
	if flags&0x01 != 0 {
		doc.Endian = LittleEndian
	}

	body := data[3:]
	pos := 0
	fieldIdx := 0
	varCounter := 0

	for pos < len(body) {
		b := body[pos]
		switch {
		case b == opcodeMatch:
			pos++
			m, newPos, err := decodeBinaryMatch(body, pos, &fieldIdx)
			if err != nil {
				return nil, err
			}
			pos = newPos
			doc.Entries = append(doc.Entries, BinarySchemaEntry{Match: m})

		case b == opcodeVar:
			pos++
			if n := len(doc.Entries); n > 0 && doc.Entries[n-1].Data != nil {
				doc.Entries[n-1].Data.Var = "var_" + strconv.Itoa(varCounter)
				varCounter++
			}

		case (b>>4)&0x0F < 0x7:
			if pos+4 > len(body) {
				return nil, errBinarySchemaMalformed("truncated data field at byte %d", pos)
			}
			desc := decodeBinaryDataRecord(body[pos : pos+4])
			desc.Name = fieldPositionalName(fieldIdx)
			fieldIdx++
			pos += 4
			doc.Entries = append(doc.Entries, BinarySchemaEntry{Data: &desc})

		default:
			pos++ // unknown opcode: skip, preserving forward compatibility
		}
	}
	return doc, nil
}

func decodeBinaryMatch(body []byte, pos int, fieldIdx *int) (*BinaryMatchDesc, int, error) {
	if pos+2 > len(body) {
		return nil, 0, errBinarySchemaMalformed("truncated MATCH record at byte %d", pos)
	}
	flags := body[pos]
	caseCount := int(body[pos+1])
	pos += 2

	m := &BinaryMatchDesc{
		Inline:    flags&0x10 != 0,
		WideValue: flags&0x20 != 0,
		VarIndex:  int(flags & 0x0F),
		Cases:     make(map[int64][]BinaryFieldDesc),
	}
	hasDefault := flags&0x40 != 0

	valSize := 1
	if m.WideValue {
		valSize = 2
	}

	for i := 0; i < caseCount; i++ {
		if pos+valSize > len(body) {
			return nil, 0, errBinarySchemaMalformed("truncated MATCH case value at byte %d", pos)
		}
		var caseVal int64
		if m.WideValue {
			caseVal = int64(body[pos]) | int64(body[pos+1])<<8
		} else {
			caseVal = int64(body[pos])
		}
		pos += valSize

		if pos >= len(body) {
			return nil, 0, errBinarySchemaMalformed("truncated MATCH case field count at byte %d", pos)
		}
		fieldCount := int(body[pos])
		pos++

		fields := make([]BinaryFieldDesc, 0, fieldCount)
		for f := 0; f < fieldCount; f++ {
			if pos+4 > len(body) {
				return nil, 0, errBinarySchemaMalformed("truncated MATCH case field at byte %d", pos)
			}
			fd := decodeBinaryDataRecord(body[pos : pos+4])
			fd.Name = fieldPositionalName(*fieldIdx)
			*fieldIdx = *fieldIdx + 1
			fields = append(fields, fd)
			pos += 4
		}
		m.Cases[caseVal] = fields
	}

	if hasDefault {
		if pos >= len(body) {
			return nil, 0, errBinarySchemaMalformed("truncated MATCH default at byte %d", pos)
		}
		defaultCount := int(body[pos])
		pos++
		switch defaultCount {
		case 0:
			m.DefaultKind = MatchDefaultSkip
		case 0xFF:
			m.DefaultKind = MatchDefaultError
		default:
			m.DefaultKind = MatchDefaultFallback
			for f := 0; f < defaultCount; f++ {
				if pos+4 > len(body) {
					return nil, 0, errBinarySchemaMalformed("truncated MATCH default field at byte %d", pos)
				}
				fd := decodeBinaryDataRecord(body[pos : pos+4])
				fd.Name = fieldPositionalName(*fieldIdx)
				*fieldIdx = *fieldIdx + 1
				m.DefaultFields = append(m.DefaultFields, fd)
				pos += 4
			}
		}
	}

	return m, pos, nil
}

// EncodeBinarySchemaBase64 encodes schema and wraps the result in standard
// base64, for transports (LoRaWAN downlink queues, MQTT JSON payloads) that
// carry the binary schema as text.
func EncodeBinarySchemaBase64(schema *Schema, opts ...BinarySchemaOption) (string, []string, error) {
	b, warnings, err := EncodeBinarySchema(schema, opts...)
	if err != nil {
		return "", warnings, err
	}
	return base64.StdEncoding.EncodeToString(b), warnings, nil
}

// DecodeBinarySchemaBase64 is DecodeBinarySchema's base64 counterpart.
func DecodeBinarySchemaBase64(s string) (*BinarySchemaDoc, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, errBinarySchemaMalformed("invalid base64 input: %v", err)
	}
	return DecodeBinarySchema(b)
}

// SchemaFingerprint computes the CRC32 used as the binary schema's optional
// transport-integrity trailer (see WithChecksum).
func SchemaFingerprint(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}
