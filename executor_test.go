package schemacodec

import (
	"math"
	"testing"
)

func mustBuild(t *testing.T, tree map[string]any) *Schema {
	t.Helper()
	s, err := New(tree)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

// Scenario 1: a single signed 16-bit field scaled by a fractional
// multiplier, big-endian (the schema default).
func TestScenarioSignedMultiplier(t *testing.T) {
	s := mustBuild(t, map[string]any{
		"name":   "s1",
		"fields": []any{map[string]any{"name": "t", "type": "s16", "mult": 0.01}},
	})
	res := s.Decode([]byte{0x09, 0x29}, nil, nil)
	if !res.Ok() {
		t.Fatalf("decode errors: %v", res.Errors)
	}
	if got := res.Record["t"].(float64); math.Abs(got-23.45) > 1e-9 {
		t.Fatalf("t = %v, want 23.45", got)
	}
}

// Scenario 2: little-endian unsigned field scaled by 0.5.
func TestScenarioLittleEndianHalfMultiplier(t *testing.T) {
	s := mustBuild(t, map[string]any{
		"name":   "s2",
		"endian": "little",
		"fields": []any{map[string]any{"name": "t", "type": "u16", "mult": 0.5}},
	})
	res := s.Decode([]byte{0x02, 0x00}, nil, nil)
	if !res.Ok() {
		t.Fatalf("decode errors: %v", res.Errors)
	}
	if got := res.Record["t"].(float64); got != 1.0 {
		t.Fatalf("t = %v, want 1.0", got)
	}
}

// Scenario 3: a flagged construct whose two bit-gated groups each decode a
// scaled field, and a round trip back through Encode.
func TestScenarioFlaggedRoundTrip(t *testing.T) {
	s := mustBuild(t, map[string]any{
		"name": "s3",
		"fields": []any{
			map[string]any{"name": "flags", "type": "u16"},
			map[string]any{"flagged": map[string]any{
				"field": "$flags",
				"groups": []any{
					map[string]any{"bit": 0, "fields": []any{
						map[string]any{"name": "temp", "type": "s16", "mult": 0.01},
					}},
					map[string]any{"bit": 1, "fields": []any{
						map[string]any{"name": "battery", "type": "u16", "div": 1000},
					}},
				},
			}},
		},
	})

	payload := []byte{0x00, 0x03, 0x09, 0x29, 0x0C, 0xE4}
	res := s.Decode(payload, nil, nil)
	if !res.Ok() {
		t.Fatalf("decode errors: %v", res.Errors)
	}
	if res.Record["flags"] != int64(3) {
		t.Fatalf("flags = %v, want 3", res.Record["flags"])
	}
	if got := res.Record["temp"].(float64); math.Abs(got-23.45) > 1e-9 {
		t.Fatalf("temp = %v, want 23.45", got)
	}
	if got := res.Record["battery"].(float64); math.Abs(got-3.3) > 1e-9 {
		t.Fatalf("battery = %v, want 3.3", got)
	}

	enc := s.Encode(res.Record, nil)
	if !enc.Ok() {
		t.Fatalf("encode errors: %v", enc.Errors)
	}
	if !bytesEqual(enc.Payload, payload) {
		t.Fatalf("round-trip payload = % x, want % x", enc.Payload, payload)
	}
}

// Scenario 4: an inline discriminated match, including the skip default.
func TestScenarioMatchInlineDiscriminator(t *testing.T) {
	tree := map[string]any{
		"name": "s4",
		"fields": []any{
			map[string]any{"match": map[string]any{
				"length": 1,
				"cases": []any{
					map[string]any{"case": 1, "fields": []any{
						map[string]any{"name": "temp", "type": "s16", "mult": 0.01},
					}},
					map[string]any{"case": 2, "fields": []any{
						map[string]any{"name": "hum", "type": "u8"},
					}},
				},
				"default": "skip",
			}},
		},
	}
	s := mustBuild(t, tree)

	r1 := s.Decode([]byte{0x01, 0x09, 0x29}, nil, nil)
	if !r1.Ok() {
		t.Fatalf("decode errors: %v", r1.Errors)
	}
	if got := r1.Record["temp"].(float64); math.Abs(got-23.45) > 1e-9 {
		t.Fatalf("temp = %v, want 23.45", got)
	}

	r2 := s.Decode([]byte{0x02, 0x82}, nil, nil)
	if !r2.Ok() {
		t.Fatalf("decode errors: %v", r2.Errors)
	}
	if r2.Record["hum"] != int64(130) {
		t.Fatalf("hum = %v, want 130", r2.Record["hum"])
	}

	r3 := s.Decode([]byte{0xFF, 0x00}, nil, nil)
	if !r3.Ok() {
		t.Fatalf("decode errors: %v", r3.Errors)
	}
	if len(r3.Record) != 0 {
		t.Fatalf("skip default record = %v, want empty", r3.Record)
	}
	if r3.Consumed != 1 {
		t.Fatalf("skip default consumed %d bytes, want 1", r3.Consumed)
	}
}

// Scenario 5: a TLV construct with a 1-byte tag and no length prefix.
func TestScenarioTLVFixedFieldCases(t *testing.T) {
	s := mustBuild(t, map[string]any{
		"name": "s5",
		"fields": []any{
			map[string]any{"tlv": map[string]any{
				"tag_size": 1,
				"cases": []any{
					map[string]any{"tag": 1, "fields": []any{
						map[string]any{"name": "temp", "type": "s16"},
					}},
					map[string]any{"tag": 7, "fields": []any{
						map[string]any{"name": "batt", "type": "u16"},
					}},
				},
			}},
		},
	})

	res := s.Decode([]byte{0x01, 0x00, 0xE7, 0x07, 0x0B, 0xB8}, nil, nil)
	if !res.Ok() {
		t.Fatalf("decode errors: %v", res.Errors)
	}
	if res.Record["temp"] != int64(231) {
		t.Fatalf("temp = %v, want 231", res.Record["temp"])
	}
	if res.Record["batt"] != int64(3000) {
		t.Fatalf("batt = %v, want 3000", res.Record["batt"])
	}
}

func TestCursorProgressMatchesDeclaredSizes(t *testing.T) {
	s := mustBuild(t, map[string]any{
		"name": "progress",
		"fields": []any{
			map[string]any{"name": "a", "type": "u8"},
			map[string]any{"name": "b", "type": "u16"},
			map[string]any{"byte_group": []any{
				map[string]any{"name": "c", "type": "u8"},
			}, "size": 1},
		},
	})
	res := s.Decode([]byte{1, 0, 2, 3}, nil, nil)
	if !res.Ok() {
		t.Fatalf("decode errors: %v", res.Errors)
	}
	if res.Consumed != 4 {
		t.Fatalf("consumed = %d, want 4", res.Consumed)
	}
}
