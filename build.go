package schemacodec

import (
	"fmt"
	"sort"
	"strings"
)

// New constructs an immutable Schema from an already-parsed tree (the
// generic map/list/scalar shape a YAML or JSON adapter produces).
// Construction is where most StructuralErrors are detected: a missing
// name, a malformed bitfield notation, a malformed match/tlv shape, or an
// unresolved reference entry (references must go through ReferenceResolver
// first) all fail here rather than at first decode. Type names are not
// checked here: a type the engine does not recognize is reported as a
// StructuralError when a decode or encode reaches that field.
func New(tree map[string]any) (*Schema, error) {
	name, _ := asString(tree["name"])
	if name == "" {
		return nil, errStructural("", "schema is missing a name")
	}

	version := 1
	if v, ok := asInt(tree["version"]); ok {
		version = v
	}

	endian := BigEndian
	if e, ok := asString(tree["endian"]); ok && e == "little" {
		endian = LittleEndian
	}

	s := &Schema{Name: name, Version: version, Endian: endian}

	fieldsRaw, hasFields := tree["fields"].([]any)
	portsRaw, hasPorts := tree["ports"].(map[string]any)
	switch {
	case hasFields:
		seq, err := buildFieldSequence(fieldsRaw)
		if err != nil {
			return nil, err
		}
		s.Fields = seq
	case hasPorts:
		ports := make(map[int]FieldSequence, len(portsRaw))
		for key, raw := range portsRaw {
			seq, err := buildPortSequence(raw)
			if err != nil {
				return nil, errStructural("", "port %q: %v", key, err)
			}
			if key == "default" {
				dp := seq
				s.DefaultPort = &dp
				continue
			}
			portNum, ok := parsePortKey(key)
			if !ok {
				return nil, errStructural("", "port key %q is not an integer", key)
			}
			ports[portNum] = seq
		}
		s.Ports = ports
	default:
		return nil, errStructural("", "schema must declare either fields or ports")
	}

	if defsRaw, ok := tree["definitions"].(map[string]any); ok {
		defs := make(map[string]FieldSequence, len(defsRaw))
		for key, raw := range defsRaw {
			list, ok := raw.([]any)
			if !ok {
				continue
			}
			seq, err := buildFieldSequence(list)
			if err != nil {
				return nil, errStructural("", "definition %q: %v", key, err)
			}
			defs[key] = seq
		}
		s.Defs = defs
	}

	if metaRaw, ok := tree["metadata"].(map[string]any); ok {
		dir, err := buildMetadataDirective(metaRaw)
		if err != nil {
			return nil, err
		}
		s.Metadata = dir
	}

	return s, nil
}

func buildPortSequence(raw any) (FieldSequence, error) {
	switch v := raw.(type) {
	case []any:
		return buildFieldSequence(v)
	case map[string]any:
		list, _ := v["fields"].([]any)
		return buildFieldSequence(list)
	}
	return nil, errStructural("", "port entry must be a field list or a {fields: [...]} map")
}

func parsePortKey(key string) (int, bool) {
	n, ok := asInt(key)
	return n, ok
}

// buildFieldSequence parses an ordered list of field-entry trees. Order
// is preserved exactly as given since it drives cursor advancement.
func buildFieldSequence(list []any) (FieldSequence, error) {
	seq := make(FieldSequence, 0, len(list))
	for i, raw := range list {
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, errStructural("", "field entry %d is not a map", i)
		}
		entry, err := buildFieldEntry(m)
		if err != nil {
			return nil, err
		}
		seq = append(seq, entry)
	}
	return seq, nil
}

func buildFieldEntry(m map[string]any) (FieldEntry, error) {
	switch {
	case m["$ref"] != nil || m["use"] != nil:
		return FieldEntry{}, errStructural("", "unresolved reference entry; run ReferenceResolver.Resolve before New")

	case m["byte_group"] != nil:
		bg, err := buildByteGroup(m)
		if err != nil {
			return FieldEntry{}, err
		}
		return FieldEntry{Kind: EntryByteGroup, ByteGroup: bg}, nil

	case m["object"] != nil:
		obj, err := buildObject(m)
		if err != nil {
			return FieldEntry{}, err
		}
		return FieldEntry{Kind: EntryObject, Object: obj}, nil

	case m["flagged"] != nil:
		fl, err := buildFlagged(m)
		if err != nil {
			return FieldEntry{}, err
		}
		return FieldEntry{Kind: EntryFlagged, Flagged: fl}, nil

	case m["match"] != nil:
		mt, err := buildMatch(m)
		if err != nil {
			return FieldEntry{}, err
		}
		return FieldEntry{Kind: EntryMatch, Match: mt}, nil

	case m["tlv"] != nil:
		tl, err := buildTLV(m)
		if err != nil {
			return FieldEntry{}, err
		}
		return FieldEntry{Kind: EntryTLV, TLV: tl}, nil

	case isComputedEntry(m):
		c, err := buildComputed(m)
		if err != nil {
			return FieldEntry{}, err
		}
		return FieldEntry{Kind: EntryComputed, Computed: c}, nil

	default:
		leaf, err := buildLeaf(m)
		if err != nil {
			return FieldEntry{}, err
		}
		return FieldEntry{Kind: EntryLeaf, Leaf: leaf}, nil
	}
}

func isComputedEntry(m map[string]any) bool {
	t, _ := asString(m["type"])
	if t == "number" {
		return true
	}
	if t != "" {
		return false
	}
	_, hasRef := m["ref"]
	_, hasCompute := m["compute"]
	_, hasValue := m["value"]
	_, hasFormula := m["formula"]
	return hasRef || hasCompute || hasValue || hasFormula
}

// --- Leaf ---

func buildLeaf(m map[string]any) (*LeafField, error) {
	name, _ := asString(m["name"])
	typ, _ := asString(m["type"])
	if typ == "" {
		return nil, errStructural(name, "leaf field has no type")
	}

	leaf := &LeafField{Name: name, Type: typ}

	if IsBitfieldType(typ) {
		bs, err := ParseBitSlice(typ)
		if err != nil {
			return nil, errStructural(name, "%v", err)
		}
		leaf.Bits = bs
	}

	if n, ok := asInt(m["length"]); ok {
		leaf.Size = n
	} else if n, ok := asInt(m["size"]); ok {
		leaf.Size = n
	}

	if n, ok := asInt(m["consume"]); ok {
		leaf.Consume = &n
	}

	mods, err := buildModifiers(m)
	if err != nil {
		return nil, errStructural(name, "%v", err)
	}
	leaf.Modifiers = mods

	if tlist, ok := m["transform"].([]any); ok {
		xs, err := buildTransform(tlist)
		if err != nil {
			return nil, errStructural(name, "%v", err)
		}
		leaf.Transform = xs
	}

	if lk, ok := m["lookup"].([]any); ok {
		table := make(LookupTable, len(lk))
		for i, v := range lk {
			s, _ := asString(v)
			table[i] = s
		}
		leaf.Lookup = table
	}

	if typ == "enum" {
		base, _ := asString(m["base"])
		if base == "" {
			base = "u8"
		}
		leaf.EnumBase = base
		enumMap, err := buildEnumMap(m["values"])
		if err != nil {
			return nil, errStructural(name, "%v", err)
		}
		leaf.EnumMap = enumMap
	}

	if v, ok := asString(m["var"]); ok {
		leaf.Var = v
	}

	if f, ok := asString(m["formula"]); ok {
		leaf.Formula = f
	}

	if b, ok := asInt(m["bit"]); ok {
		leaf.BoolBit = &b
	}

	if typ == "bitfield_string" {
		parts, err := buildBitStringParts(m["parts"])
		if err != nil {
			return nil, errStructural(name, "%v", err)
		}
		leaf.StringParts = parts
		if j, ok := asString(m["delimiter"]); ok {
			leaf.StringJoin = j
		}
		if p, ok := asString(m["prefix"]); ok {
			leaf.StringPrefix = p
		}
	}

	if typ == "version_string" {
		if j, ok := asString(m["delimiter"]); ok {
			leaf.StringJoin = j
		}
		if p, ok := asString(m["prefix"]); ok {
			leaf.StringPrefix = p
		}
		if n, ok := asInt(m["length"]); ok {
			leaf.StringCount = n
		}
	}

	leaf.Annotations = buildAnnotations(m)

	return leaf, nil
}

func buildEnumMap(raw any) (map[int64]string, error) {
	out := make(map[int64]string)
	switch v := raw.(type) {
	case map[string]any:
		for k, val := range v {
			n, ok := asInt(k)
			if !ok {
				return nil, fmt.Errorf("enum key %q is not an integer", k)
			}
			s, _ := asString(val)
			out[int64(n)] = s
		}
	case []any:
		for i, val := range v {
			s, _ := asString(val)
			out[int64(i)] = s
		}
	}
	return out, nil
}

func buildBitStringParts(raw any) ([]BitStringPart, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, nil
	}
	out := make([]BitStringPart, 0, len(list))
	for _, item := range list {
		tuple, ok := item.([]any)
		if !ok || len(tuple) < 2 {
			return nil, fmt.Errorf("bitfield_string part must be [bit_offset, bit_width, format?]")
		}
		off, _ := asInt(tuple[0])
		width, _ := asInt(tuple[1])
		format := "decimal"
		if len(tuple) >= 3 {
			format, _ = asString(tuple[2])
		}
		out = append(out, BitStringPart{BitOffset: off, BitWidth: width, Format: format})
	}
	return out, nil
}

func buildAnnotations(m map[string]any) Annotations {
	var a Annotations
	a.Unit, _ = asString(m["unit"])
	a.Description, _ = asString(m["description"])
	if r, ok := asFloat(m["resolution"]); ok {
		a.Resolution = r
	}
	if sem, ok := m["semantic"].(map[string]any); ok {
		a.Semantic = sem
	}
	if vr, ok := m["valid_range"].([]any); ok && len(vr) == 2 {
		lo, _ := asFloat(vr[0])
		hi, _ := asFloat(vr[1])
		a.ValidRange = &[2]float64{lo, hi}
	}
	return a
}

// --- modifiers / transforms / guard ---

var modOrder = []struct {
	key string
	op  ModifierOp
}{
	{"mult", ModMult}, {"div", ModDiv}, {"add", ModAdd},
}

// buildModifiers accepts an explicit ordered list (`modifiers: [{op: mult,
// const: 0.01}, {op: add, const: -40}]`), the only form that can represent
// an order other than mult/div/add. A generic map loses key order by the
// time it reaches this package, so the flat `mult`/`div`/`add` shorthand
// below always applies in that fixed order.
func buildModifiers(m map[string]any) ([]Modifier, error) {
	if list, ok := m["modifiers"].([]any); ok {
		out := make([]Modifier, 0, len(list))
		for _, raw := range list {
			mm, ok := raw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("modifier entry is not a map")
			}
			opName, _ := asString(mm["op"])
			c, _ := asFloat(mm["const"])
			op, ok := modOpFromName(opName)
			if !ok {
				return nil, fmt.Errorf("unknown modifier op %q", opName)
			}
			out = append(out, Modifier{Op: op, Const: c})
		}
		return out, nil
	}

	var out []Modifier
	for _, mo := range modOrder {
		if v, ok := m[mo.key]; ok {
			c, _ := asFloat(v)
			out = append(out, Modifier{Op: mo.op, Const: c})
		}
	}
	return out, nil
}

func modOpFromName(name string) (ModifierOp, bool) {
	switch name {
	case "mult":
		return ModMult, true
	case "div":
		return ModDiv, true
	case "add":
		return ModAdd, true
	}
	return 0, false
}

func buildTransform(list []any) ([]Transform, error) {
	out := make([]Transform, 0, len(list))
	for _, raw := range list {
		op, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("transform entry is not a map")
		}
		t, err := buildTransformOp(op)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func buildTransformOp(op map[string]any) (Transform, error) {
	switch {
	case truthy(op["sqrt"]):
		return Transform{Kind: XformSqrt}, nil
	case truthy(op["abs"]):
		return Transform{Kind: XformAbs}, nil
	case op["pow"] != nil:
		f, _ := asFloat(op["pow"])
		return Transform{Kind: XformPow, Arg: f}, nil
	case op["floor"] != nil:
		f, _ := asFloat(op["floor"])
		return Transform{Kind: XformFloor, Arg: f}, nil
	case op["ceiling"] != nil:
		f, _ := asFloat(op["ceiling"])
		return Transform{Kind: XformCeiling, Arg: f}, nil
	case op["clamp"] != nil:
		bounds, ok := op["clamp"].([]any)
		if !ok || len(bounds) != 2 {
			return Transform{}, fmt.Errorf("clamp requires [lo, hi]")
		}
		lo, _ := asFloat(bounds[0])
		hi, _ := asFloat(bounds[1])
		return Transform{Kind: XformClamp, Range: [2]float64{lo, hi}}, nil
	case truthy(op["log10"]):
		return Transform{Kind: XformLog10}, nil
	case truthy(op["log"]):
		return Transform{Kind: XformLog}, nil
	case op["add"] != nil:
		f, _ := asFloat(op["add"])
		return Transform{Kind: XformAdd, Arg: f}, nil
	case op["mult"] != nil:
		f, _ := asFloat(op["mult"])
		return Transform{Kind: XformMult, Arg: f}, nil
	case op["div"] != nil:
		f, _ := asFloat(op["div"])
		return Transform{Kind: XformDiv, Arg: f}, nil
	case op["round"] != nil:
		n, _ := asInt(op["round"])
		return Transform{Kind: XformRound, Round: n}, nil
	}
	return Transform{}, fmt.Errorf("unrecognized transform operation %v", op)
}

func buildGuard(raw any) (*Guard, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("guard must be a map")
	}
	g := &Guard{}
	whenList, _ := m["when"].([]any)
	for _, raw := range whenList {
		cm, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		field, _ := asString(cm["field"])
		field = strings.TrimPrefix(field, "$")
		cond, err := buildGuardCond(field, cm)
		if err != nil {
			return nil, err
		}
		g.When = append(g.When, cond)
	}
	if e, ok := m["else"]; ok {
		f, _ := asFloat(e)
		g.Else = f
		g.ElseSet = true
	}
	return g, nil
}

func buildGuardCond(field string, cm map[string]any) (GuardCond, error) {
	for key, op := range map[string]GuardOp{
		"gt": GuardGT, "gte": GuardGTE, "lt": GuardLT,
		"lte": GuardLTE, "eq": GuardEQ, "ne": GuardNE,
	} {
		if v, ok := cm[key]; ok {
			f, _ := asFloat(v)
			return GuardCond{Field: field, Op: op, Const: f}, nil
		}
	}
	return GuardCond{}, fmt.Errorf("guard condition for field %q has no comparison operator", field)
}

// --- Computed ---

func buildComputed(m map[string]any) (*ComputedField, error) {
	name, _ := asString(m["name"])
	c := &ComputedField{Name: name}

	if g, ok := m["guard"]; ok {
		guard, err := buildGuard(g)
		if err != nil {
			return nil, errStructural(name, "%v", err)
		}
		c.Guard = guard
	}

	switch {
	case m["formula"] != nil:
		c.SourceKind = ComputedFormula
		c.Formula, _ = asString(m["formula"])

	case m["ref"] != nil:
		c.SourceKind = ComputedRef
		ref, _ := asString(m["ref"])
		c.RefName = strings.TrimPrefix(ref, "$")
		if poly, ok := m["polynomial"].([]any); ok {
			coeffs := make([]float64, len(poly))
			for i, v := range poly {
				coeffs[i], _ = asFloat(v)
			}
			c.Polynomial = coeffs
		}

	case m["compute"] != nil:
		c.SourceKind = ComputedOp
		cm, ok := m["compute"].(map[string]any)
		if !ok {
			return nil, errStructural(name, "compute must be a map")
		}
		opName, _ := asString(cm["op"])
		op, ok := computeOpFromName(opName)
		if !ok {
			return nil, errStructural(name, "unknown compute op %q", opName)
		}
		c.Op = op
		a, err := buildOperand(cm["a"])
		if err != nil {
			return nil, errStructural(name, "%v", err)
		}
		b, err := buildOperand(cm["b"])
		if err != nil {
			return nil, errStructural(name, "%v", err)
		}
		c.A, c.B = a, b

	case m["value"] != nil:
		c.SourceKind = ComputedValue
		c.Literal, _ = asFloat(m["value"])

	default:
		return nil, errStructural(name, "computed field has none of ref/compute/value/formula")
	}

	if tlist, ok := m["transform"].([]any); ok {
		xs, err := buildTransform(tlist)
		if err != nil {
			return nil, errStructural(name, "%v", err)
		}
		c.Transform = xs
	}

	return c, nil
}

func computeOpFromName(name string) (ComputeOp, bool) {
	switch name {
	case "add":
		return OpAdd, true
	case "sub":
		return OpSub, true
	case "mul":
		return OpMul, true
	case "div":
		return OpDiv, true
	case "mod":
		return OpMod, true
	case "idiv":
		return OpIDiv, true
	}
	return 0, false
}

func buildOperand(raw any) (Operand, error) {
	if s, ok := raw.(string); ok && strings.HasPrefix(s, "$") {
		return Operand{IsRef: true, Ref: strings.TrimPrefix(s, "$")}, nil
	}
	f, ok := asFloat(raw)
	if !ok {
		return Operand{}, fmt.Errorf("operand %v is neither a $reference nor a number", raw)
	}
	return Operand{Lit: f}, nil
}

// --- ByteGroup / Object / Flagged ---

func buildByteGroup(m map[string]any) (*ByteGroupField, error) {
	list, ok := m["byte_group"].([]any)
	if !ok {
		return nil, errStructural("", "byte_group must be a field list")
	}
	seq, err := buildFieldSequence(list)
	if err != nil {
		return nil, err
	}
	size := 1
	if n, ok := asInt(m["size"]); ok {
		size = n
	}
	return &ByteGroupField{Size: size, Fields: seq}, nil
}

func buildObject(m map[string]any) (*ObjectField, error) {
	name, _ := asString(m["object"])
	list, _ := m["fields"].([]any)
	seq, err := buildFieldSequence(list)
	if err != nil {
		return nil, errStructural(name, "%v", err)
	}
	return &ObjectField{Name: name, Fields: seq}, nil
}

func buildFlagged(m map[string]any) (*FlaggedField, error) {
	fm, ok := m["flagged"].(map[string]any)
	if !ok {
		return nil, errStructural("", "flagged must be a map")
	}
	field, _ := asString(fm["field"])
	if field == "" {
		field, _ = asString(fm["on"])
	}
	field = strings.TrimPrefix(field, "$")

	groupsRaw, _ := fm["groups"].([]any)
	groups := make([]FlaggedGroup, 0, len(groupsRaw))
	for _, raw := range groupsRaw {
		gm, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		bit, _ := asInt(gm["bit"])
		list, _ := gm["fields"].([]any)
		seq, err := buildFieldSequence(list)
		if err != nil {
			return nil, errStructural(field, "%v", err)
		}
		groups = append(groups, FlaggedGroup{Bit: bit, Fields: seq})
	}
	return &FlaggedField{FlagsRef: field, Groups: groups}, nil
}

// --- Match ---

func buildMatch(m map[string]any) (*MatchField, error) {
	mm, ok := m["match"].(map[string]any)
	if !ok {
		return nil, errStructural("", "match must be a map")
	}
	mf := &MatchField{}

	if on, ok := asString(mm["on"]); ok && on != "" {
		mf.VarRef = strings.TrimPrefix(on, "$")
	} else if field, ok := asString(mm["field"]); ok && field != "" {
		mf.VarRef = strings.TrimPrefix(field, "$")
	}
	if n, ok := asInt(mm["length"]); ok {
		mf.InlineSize = n
	}
	if mf.VarRef == "" && mf.InlineSize == 0 {
		return nil, errStructural("", "match must set either on/field or length")
	}

	mf.Name, _ = asString(mm["name"])
	mf.Var, _ = asString(mm["var"])

	casesRaw, ok := mm["cases"].([]any)
	if !ok {
		return nil, errStructural("", "match.cases must be a list of {case, fields}")
	}
	for _, raw := range casesRaw {
		cm, ok := raw.(map[string]any)
		if !ok {
			return nil, errStructural("", "match case must be a map")
		}
		pattern, err := buildMatchPattern(cm["case"])
		if err != nil {
			return nil, errStructural(mf.Name, "%v", err)
		}
		list, _ := cm["fields"].([]any)
		seq, err := buildFieldSequence(list)
		if err != nil {
			return nil, errStructural(mf.Name, "%v", err)
		}
		mf.Cases = append(mf.Cases, MatchCase{Pattern: pattern, Fields: seq})
	}

	switch d := mm["default"].(type) {
	case nil:
		mf.Default = MatchDefaultError
	case string:
		switch d {
		case "skip":
			mf.Default = MatchDefaultSkip
		case "error", "":
			mf.Default = MatchDefaultError
		default:
			return nil, errStructural(mf.Name, "unknown match default %q", d)
		}
	case map[string]any:
		list, _ := d["fields"].([]any)
		seq, err := buildFieldSequence(list)
		if err != nil {
			return nil, errStructural(mf.Name, "%v", err)
		}
		mf.Default = MatchDefaultFallback
		mf.Fallback = seq
	default:
		return nil, errStructural(mf.Name, "unrecognized match default shape")
	}

	return mf, nil
}

// buildMatchPattern accepts a scalar (equality), a list (membership), or a
// "lo..hi" range string.
func buildMatchPattern(raw any) (any, error) {
	switch v := raw.(type) {
	case []any:
		return v, nil
	case string:
		if lo, hi, ok := parseRangePattern(v); ok {
			return [2]float64{lo, hi}, nil
		}
		return v, nil
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	}
	return nil, fmt.Errorf("unrecognized match case pattern %v", raw)
}

func parseRangePattern(s string) (lo, hi float64, ok bool) {
	idx := strings.Index(s, "..")
	if idx < 0 {
		return 0, 0, false
	}
	loF, okLo := asFloat(s[:idx])
	hiF, okHi := asFloat(s[idx+2:])
	if !okLo || !okHi {
		return 0, 0, false
	}
	return loF, hiF, true
}

// --- TLV ---

func buildTLV(m map[string]any) (*TLVField, error) {
	tm, ok := m["tlv"].(map[string]any)
	if !ok {
		return nil, errStructural("", "tlv must be a map")
	}
	t := &TLVField{Merge: true}

	if tagFieldsRaw, ok := tm["tag_fields"].([]any); ok {
		for _, raw := range tagFieldsRaw {
			fm, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			name, _ := asString(fm["name"])
			typ, _ := asString(fm["type"])
			t.TagFields = append(t.TagFields, TLVTagField{Name: name, Type: typ})
		}
	} else {
		size := 1
		if n, ok := asInt(tm["tag_size"]); ok {
			size = n
		}
		t.TagFields = []TLVTagField{{Name: "tag", Type: unsignedTypeForSize(size)}}
	}

	if n, ok := asInt(tm["length_size"]); ok {
		t.LengthSize = n
	}
	if b, ok := tm["merge"].(bool); ok {
		t.Merge = b
	}
	switch u, _ := asString(tm["unknown"]); u {
	case "error":
		t.Unknown = TLVUnknownError
	case "raw":
		t.Unknown = TLVUnknownRaw
	default:
		t.Unknown = TLVUnknownSkip
	}

	t.Cases = make(map[string]FieldSequence)
	casesRaw, _ := tm["cases"].([]any)
	for _, raw := range casesRaw {
		cm, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		key, err := tlvCaseKey(cm["tag"])
		if err != nil {
			return nil, errStructural("", "%v", err)
		}
		list, _ := cm["fields"].([]any)
		seq, err := buildFieldSequence(list)
		if err != nil {
			return nil, errStructural("", "%v", err)
		}
		t.Cases[key] = seq
	}

	return t, nil
}

func unsignedTypeForSize(size int) string {
	switch size {
	case 1:
		return "u8"
	case 2:
		return "u16"
	case 3:
		return "u24"
	default:
		return "u32"
	}
}

// tlvCaseKey builds the same lookup key readTLVTag produces: a decimal
// string for a single tag, or colon-joined decimals for a composite tag.
func tlvCaseKey(raw any) (string, error) {
	switch v := raw.(type) {
	case []any:
		parts := make([]string, len(v))
		for i, e := range v {
			n, ok := asInt(e)
			if !ok {
				return "", fmt.Errorf("tlv tag %v is not an integer list", raw)
			}
			parts[i] = fmt.Sprintf("%d", n)
		}
		return strings.Join(parts, ":"), nil
	default:
		n, ok := asInt(v)
		if !ok {
			return "", fmt.Errorf("tlv tag %v is not an integer", raw)
		}
		return fmt.Sprintf("%d", n), nil
	}
}

// --- Metadata directive ---

func buildMetadataDirective(m map[string]any) (*MetadataDirective, error) {
	dir := &MetadataDirective{}

	if list, ok := m["include"].([]any); ok {
		for _, raw := range list {
			im, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			name, _ := asString(im["name"])
			source, _ := asString(im["source"])
			dir.Include = append(dir.Include, MetadataInclude{Name: name, Source: source})
		}
	}

	if list, ok := m["timestamps"].([]any); ok {
		for _, raw := range list {
			tm, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			spec, err := buildTimestampSpec(tm)
			if err != nil {
				return nil, errStructural("", "%v", err)
			}
			dir.Timestamps = append(dir.Timestamps, spec)
		}
	}

	dir.CorrelationID, _ = asString(m["correlation_id"])

	return dir, nil
}

func buildTimestampSpec(tm map[string]any) (TimestampSpec, error) {
	name, _ := asString(tm["name"])
	if name == "" {
		name = "timestamp"
	}
	modeName, _ := asString(tm["mode"])
	spec := TimestampSpec{Name: name}
	switch modeName {
	case "rx_time":
		spec.Mode = TimestampRxTime
	case "subtract":
		spec.Mode = TimestampSubtract
		spec.Field, _ = asString(tm["offset_field"])
	case "unix_epoch":
		spec.Mode = TimestampUnixEpoch
		spec.Field, _ = asString(tm["field"])
	case "iso8601":
		spec.Mode = TimestampISO8601
		spec.Field, _ = asString(tm["field"])
		spec.Format, _ = asString(tm["format"])
	case "elapsed_to_absolute":
		spec.Mode = TimestampElapsedToAbsolute
		spec.Field, _ = asString(tm["elapsed_field"])
		if spec.Field == "" {
			spec.Field, _ = asString(tm["offset_field"])
		}
	default:
		return TimestampSpec{}, fmt.Errorf("unknown timestamp mode %q", modeName)
	}
	return spec, nil
}

// --- generic tree scalar coercion ---

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		// allow numeric strings for tree formats that stringify everything
		var f float64
		if _, err := fmt.Sscanf(n, "%g", &f); err == nil {
			return f, true
		}
	}
	return 0, false
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		var i int
		if _, err := fmt.Sscanf(n, "%d", &i); err == nil {
			return i, true
		}
	}
	return 0, false
}

func truthy(v any) bool {
	b, ok := v.(bool)
	return ok && b
}

// sortedKeys returns m's keys in sorted order, for a deterministic view over
// a map-derived structure (e.g. TLV cases). Nothing in this module calls it;
// the core never depends on map iteration order for decode/encode semantics.
func sortedKeys(m map[string]FieldSequence) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
