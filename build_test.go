package schemacodec

import "testing"

func TestBuildModifiersExplicitOrderVsShorthand(t *testing.T) {
	explicit, err := buildModifiers(map[string]any{
		"modifiers": []any{
			map[string]any{"op": "add", "const": -40},
			map[string]any{"op": "mult", "const": 2},
		},
	})
	if err != nil {
		t.Fatalf("buildModifiers: %v", err)
	}
	if len(explicit) != 2 || explicit[0].Op != ModAdd || explicit[1].Op != ModMult {
		t.Fatalf("explicit modifier order not preserved: %+v", explicit)
	}

	shorthand, err := buildModifiers(map[string]any{"add": -40, "mult": 2})
	if err != nil {
		t.Fatalf("buildModifiers: %v", err)
	}
	if len(shorthand) != 2 || shorthand[0].Op != ModMult || shorthand[1].Op != ModAdd {
		t.Fatalf("shorthand modifier order should always be mult then add, got %+v", shorthand)
	}
}

func TestBuildMatchPatternRange(t *testing.T) {
	p, err := buildMatchPattern("10..20")
	if err != nil {
		t.Fatalf("buildMatchPattern: %v", err)
	}
	rng, ok := p.([2]float64)
	if !ok || rng != [2]float64{10, 20} {
		t.Fatalf("range pattern = %v, want [10 20]", p)
	}

	scalar, err := buildMatchPattern(int64(3))
	if err != nil {
		t.Fatalf("buildMatchPattern: %v", err)
	}
	if scalar != int64(3) {
		t.Fatalf("scalar pattern = %v, want 3", scalar)
	}

	list, err := buildMatchPattern([]any{int64(1), int64(2)})
	if err != nil {
		t.Fatalf("buildMatchPattern: %v", err)
	}
	if l, ok := list.([]any); !ok || len(l) != 2 {
		t.Fatalf("list pattern = %v, want [1 2]", list)
	}
}

func TestTLVCaseKeyComposite(t *testing.T) {
	key, err := tlvCaseKey([]any{int64(1), int64(7)})
	if err != nil {
		t.Fatalf("tlvCaseKey: %v", err)
	}
	if key != "1:7" {
		t.Fatalf("composite tag key = %q, want 1:7", key)
	}

	single, err := tlvCaseKey(int64(5))
	if err != nil {
		t.Fatalf("tlvCaseKey: %v", err)
	}
	if single != "5" {
		t.Fatalf("single tag key = %q, want 5", single)
	}
}

func TestBuildByteGroupAndObject(t *testing.T) {
	s := mustBuild(t, map[string]any{
		"name": "constructs",
		"fields": []any{
			map[string]any{"byte_group": []any{
				map[string]any{"name": "a", "type": "u8"},
			}, "size": 1},
			map[string]any{"object": "nested", "fields": []any{
				map[string]any{"name": "b", "type": "u8"},
			}},
		},
	})
	if s.Fields[0].Kind != EntryByteGroup || s.Fields[0].ByteGroup.Size != 1 {
		t.Fatalf("byte_group entry malformed: %+v", s.Fields[0])
	}
	if s.Fields[1].Kind != EntryObject || s.Fields[1].Object.Name != "nested" {
		t.Fatalf("object entry malformed: %+v", s.Fields[1])
	}
}

func TestBuildGuardConstruction(t *testing.T) {
	g, err := buildGuard(map[string]any{
		"when": []any{
			map[string]any{"field": "$battery", "gt": 0},
		},
		"else": -1,
	})
	if err != nil {
		t.Fatalf("buildGuard: %v", err)
	}
	if len(g.When) != 1 || g.When[0].Field != "battery" || g.When[0].Op != GuardGT {
		t.Fatalf("guard condition malformed: %+v", g.When)
	}
	if !g.ElseSet || g.Else != -1 {
		t.Fatalf("guard else malformed: %+v", g)
	}
}

func TestBuildMetadataDirective(t *testing.T) {
	s := mustBuild(t, map[string]any{
		"name":   "withmeta",
		"fields": []any{map[string]any{"name": "a", "type": "u8"}},
		"metadata": map[string]any{
			"include": []any{
				map[string]any{"name": "deviceId", "source": "$.end_device_ids.device_id"},
			},
			"timestamps": []any{
				map[string]any{"name": "received_at", "mode": "rx_time"},
			},
			"correlation_id": "$.correlation_ids[0]",
		},
	})
	if s.Metadata == nil {
		t.Fatal("expected a metadata directive")
	}
	if len(s.Metadata.Include) != 1 || s.Metadata.Include[0].Name != "deviceId" {
		t.Fatalf("include directive malformed: %+v", s.Metadata.Include)
	}
	if len(s.Metadata.Timestamps) != 1 || s.Metadata.Timestamps[0].Mode != TimestampRxTime {
		t.Fatalf("timestamp directive malformed: %+v", s.Metadata.Timestamps)
	}
	if s.Metadata.CorrelationID != "$.correlation_ids[0]" {
		t.Fatalf("correlation id = %q", s.Metadata.CorrelationID)
	}
}

func TestBuildRejectsMatchWithoutDiscriminator(t *testing.T) {
	_, err := New(map[string]any{
		"name": "badmatch",
		"fields": []any{
			map[string]any{"match": map[string]any{
				"cases": []any{
					map[string]any{"case": 1, "fields": []any{}},
				},
			}},
		},
	})
	if err == nil {
		t.Fatal("expected an error for a match with neither on/field nor length")
	}
	if Kind(err) != KindStructuralError {
		t.Fatalf("Kind(err) = %v, want KindStructuralError", Kind(err))
	}
}

func TestBuildRejectsMatchCasesAsMap(t *testing.T) {
	_, err := New(map[string]any{
		"name": "badcases",
		"fields": []any{
			map[string]any{"match": map[string]any{
				"length": 1,
				"cases": map[string]any{
					"1": []any{},
				},
			}},
		},
	})
	if err == nil {
		t.Fatal("expected an error: match.cases must be an ordered list, not a map")
	}
}

func TestBuildPortsAndDefaultPort(t *testing.T) {
	s := mustBuild(t, map[string]any{
		"name": "ports",
		"ports": map[string]any{
			"1":       []any{map[string]any{"name": "a", "type": "u8"}},
			"default": []any{map[string]any{"name": "b", "type": "u8"}},
		},
	})
	if len(s.Ports) != 1 {
		t.Fatalf("Ports = %v, want one entry", s.Ports)
	}
	if _, ok := s.Ports[1]; !ok {
		t.Fatalf("Ports missing key 1: %v", s.Ports)
	}
	if s.DefaultPort == nil || len(*s.DefaultPort) != 1 {
		t.Fatalf("DefaultPort not populated: %v", s.DefaultPort)
	}
}
