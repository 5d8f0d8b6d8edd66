package schemacodec

import (
	"hash/crc32"
	"testing"
)

func twoFieldLeafSchema(t *testing.T) *Schema {
	t.Helper()
	return mustBuild(t, map[string]any{
		"name": "env-sensor",
		"fields": []any{
			map[string]any{
				"name": "temperature", "type": "s16", "mult": 0.01,
				"semantic": map[string]any{"ipso": 3303},
			},
			map[string]any{
				"name": "humidity", "type": "u8", "mult": 0.5,
				"semantic": map[string]any{"ipso": 3304},
			},
		},
	})
}

// A leaf-only schema packs to v1: 2-byte header plus one 4-byte record per
// field, walkable by integer indexing on the device side.
func TestBinarySchemaV1TwoFieldFixture(t *testing.T) {
	s := twoFieldLeafSchema(t)

	data, warnings, err := EncodeBinarySchema(s)
	if err != nil {
		t.Fatalf("EncodeBinarySchema: %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}

	want := []byte{
		0x01, 0x02, // version 1, 2 fields
		0x12, 0xFE, 0xE7, 0x0C, // s16, exp -2, ipso 3303 LE
		0x01, 0xFF, 0xE8, 0x0C, // u8, 0.5 sentinel, ipso 3304 LE
	}
	if !bytesEqual(data, want) {
		t.Fatalf("encoded = % x, want % x", data, want)
	}
}

func TestBinarySchemaV1RoundTrip(t *testing.T) {
	s := twoFieldLeafSchema(t)
	data, _, err := EncodeBinarySchema(s)
	if err != nil {
		t.Fatalf("EncodeBinarySchema: %v", err)
	}

	doc, err := DecodeBinarySchema(data)
	if err != nil {
		t.Fatalf("DecodeBinarySchema: %v", err)
	}
	if doc.Version != 1 {
		t.Fatalf("version = %d, want 1", doc.Version)
	}
	if len(doc.Entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(doc.Entries))
	}

	temp := doc.Entries[0].Data
	if temp == nil || temp.Type != "s16" || temp.Mult != 0.01 || temp.IPSO != 3303 {
		t.Fatalf("entry 0 = %+v, want s16/0.01/3303", temp)
	}
	hum := doc.Entries[1].Data
	if hum == nil || hum.Type != "u8" || hum.Mult != 0.5 || hum.IPSO != 3304 {
		t.Fatalf("entry 1 = %+v, want u8/0.5/3304", hum)
	}
}

// A schema containing a match lowers to v2: the discriminator leaf gains a
// VAR opcode, and the match itself becomes a MATCH opcode whose variable
// index points back at it.
func TestBinarySchemaV2MatchOpcode(t *testing.T) {
	s := mustBuild(t, map[string]any{
		"name":   "multi-msg",
		"endian": "little",
		"fields": []any{
			map[string]any{"name": "_type", "type": "u8"},
			map[string]any{"match": map[string]any{
				"field": "$_type",
				"cases": []any{
					map[string]any{"case": 1, "fields": []any{
						map[string]any{"name": "temperature", "type": "s16", "mult": 0.01},
					}},
					map[string]any{"case": 2, "fields": []any{
						map[string]any{"name": "humidity", "type": "u8", "mult": 0.5},
					}},
				},
				"default": "skip",
			}},
		},
	})

	data, warnings, err := EncodeBinarySchema(s)
	if err != nil {
		t.Fatalf("EncodeBinarySchema: %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}

	want := []byte{
		0x02, 0x01, 0x02, // version 2, little-endian flag, 2 top-level records
		0x01, 0x00, 0x00, 0x00, // _type: u8, no mult, no semantic id
		0x73,             // VAR: bind the preceding record as variable 0
		0x70, 0x40, 0x02, // MATCH: default present, var index 0, 2 cases
		0x01, 0x01, 0x12, 0xFE, 0x00, 0x00, // case 1: one s16 mult 0.01
		0x02, 0x01, 0x01, 0xFF, 0x00, 0x00, // case 2: one u8 mult 0.5
		0x00, // default: skip
	}
	if !bytesEqual(data, want) {
		t.Fatalf("encoded = % x, want % x", data, want)
	}

	doc, err := DecodeBinarySchema(data)
	if err != nil {
		t.Fatalf("DecodeBinarySchema: %v", err)
	}
	if doc.Version != 2 || doc.Endian != LittleEndian {
		t.Fatalf("header = v%d %v, want v2 little-endian", doc.Version, doc.Endian)
	}
	if len(doc.Entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(doc.Entries))
	}
	if doc.Entries[0].Data == nil || doc.Entries[0].Data.Var == "" {
		t.Fatalf("entry 0 = %+v, want a VAR-bound data field", doc.Entries[0])
	}
	m := doc.Entries[1].Match
	if m == nil {
		t.Fatalf("entry 1 is not a match")
	}
	if m.VarIndex != 0 || m.Inline || m.WideValue {
		t.Fatalf("match header = %+v, want var index 0, not inline, narrow values", m)
	}
	if m.DefaultKind != MatchDefaultSkip {
		t.Fatalf("default kind = %v, want skip", m.DefaultKind)
	}
	if len(m.Cases[1]) != 1 || m.Cases[1][0].Type != "s16" || m.Cases[1][0].Mult != 0.01 {
		t.Fatalf("case 1 = %+v, want one s16 mult 0.01", m.Cases[1])
	}
	if len(m.Cases[2]) != 1 || m.Cases[2][0].Type != "u8" || m.Cases[2][0].Mult != 0.5 {
		t.Fatalf("case 2 = %+v, want one u8 mult 0.5", m.Cases[2])
	}
}

// Non-representable entries (here a fixed-length ascii run) drop out of the
// compact form with a warning rather than failing the whole encode.
func TestBinarySchemaSkipsNonRepresentableFields(t *testing.T) {
	s := mustBuild(t, map[string]any{
		"name": "mixed",
		"fields": []any{
			map[string]any{"name": "serial", "type": "ascii", "length": 8},
			map[string]any{"name": "battery", "type": "u16"},
		},
	})

	data, warnings, err := EncodeBinarySchema(s)
	if err != nil {
		t.Fatalf("EncodeBinarySchema: %v", err)
	}
	if len(warnings) != 1 {
		t.Fatalf("warnings = %v, want exactly one skip notice", warnings)
	}
	if data[0] != 2 {
		t.Fatalf("version = %d, want 2 (ascii field forces the structural form)", data[0])
	}
	if data[2] != 1 {
		t.Fatalf("record count = %d, want 1 (serial skipped)", data[2])
	}
}

func TestBinarySchemaChecksumTrailer(t *testing.T) {
	s := twoFieldLeafSchema(t)

	plain, _, err := EncodeBinarySchema(s)
	if err != nil {
		t.Fatalf("EncodeBinarySchema: %v", err)
	}
	summed, _, err := EncodeBinarySchema(s, WithChecksum())
	if err != nil {
		t.Fatalf("EncodeBinarySchema(WithChecksum): %v", err)
	}

	if len(summed) != len(plain)+4 {
		t.Fatalf("checksum form is %d bytes, want %d", len(summed), len(plain)+4)
	}
	if !bytesEqual(summed[:len(plain)], plain) {
		t.Fatalf("checksum form does not start with the plain encoding")
	}
	sum := crc32.ChecksumIEEE(plain)
	trailer := uint32(summed[len(plain)]) | uint32(summed[len(plain)+1])<<8 |
		uint32(summed[len(plain)+2])<<16 | uint32(summed[len(plain)+3])<<24
	if trailer != sum {
		t.Fatalf("trailer = %08x, want %08x", trailer, sum)
	}
	if SchemaFingerprint(plain) != sum {
		t.Fatalf("SchemaFingerprint disagrees with the trailer")
	}
}

func TestBinarySchemaBase64RoundTrip(t *testing.T) {
	s := twoFieldLeafSchema(t)

	encoded, _, err := EncodeBinarySchemaBase64(s)
	if err != nil {
		t.Fatalf("EncodeBinarySchemaBase64: %v", err)
	}
	doc, err := DecodeBinarySchemaBase64(encoded)
	if err != nil {
		t.Fatalf("DecodeBinarySchemaBase64: %v", err)
	}
	if len(doc.Entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(doc.Entries))
	}

	if _, err := DecodeBinarySchemaBase64("not!!base64"); err == nil {
		t.Fatalf("malformed base64 did not error")
	} else if Kind(err) != KindBinarySchemaMalformed {
		t.Fatalf("error kind = %v, want BinarySchemaMalformed", Kind(err))
	}
}

func TestBinarySchemaMalformedInputs(t *testing.T) {
	cases := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"one byte", []byte{0x01}},
		{"unknown version", []byte{0x09, 0x00}},
		{"v1 truncated record", []byte{0x01, 0x02, 0x12, 0xFE, 0xE7, 0x0C}},
		{"v2 truncated match", []byte{0x02, 0x00, 0x01, 0x70, 0x40}},
	}
	for _, tc := range cases {
		if _, err := DecodeBinarySchema(tc.data); err == nil {
			t.Fatalf("%s: decode did not error", tc.name)
		} else if Kind(err) != KindBinarySchemaMalformed {
			t.Fatalf("%s: error kind = %v, want BinarySchemaMalformed", tc.name, Kind(err))
		}
	}
}

// Unknown structural opcodes (high nibble 7, low nibble neither 0 nor 3) are
// reserved: a decoder skips them and keeps walking.
func TestBinarySchemaUnknownOpcodeSkipped(t *testing.T) {
	data := []byte{
		0x02, 0x00, 0x01, // v2, big-endian, 1 record
		0x75,                   // reserved opcode
		0x01, 0x00, 0x00, 0x00, // u8 leaf
	}
	doc, err := DecodeBinarySchema(data)
	if err != nil {
		t.Fatalf("DecodeBinarySchema: %v", err)
	}
	if len(doc.Entries) != 1 || doc.Entries[0].Data == nil || doc.Entries[0].Data.Type != "u8" {
		t.Fatalf("entries = %+v, want the single u8 leaf", doc.Entries)
	}
}
