package schemacodec

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	reClosedSlice = regexp.MustCompile(`^u(\d+)\[(\d+):(\d+)\]$`)
	rePartSelect  = regexp.MustCompile(`^u(\d+)\[(\d+)\+:(\d+)\]$`)
	reAngle       = regexp.MustCompile(`^bits<(\d+),(\d+)>$`)
	reAtNotation  = regexp.MustCompile(`^bits:(\d+)@(\d+)$`)
	reSequential  = regexp.MustCompile(`^u(\d+):(\d+)$`)
)

// ParseBitSlice recognizes the four explicit bitfield syntaxes plus the
// sequential form and normalizes them to a BitSlice. BitOffset == -1 marks
// the sequential form.
func ParseBitSlice(typeStr string) (*BitSlice, error) {
	if m := reClosedSlice.FindStringSubmatch(typeStr); m != nil {
		base, start, end := atoi(m[1]), atoi(m[2]), atoi(m[3])
		return &BitSlice{ByteSize: base / 8, BitOffset: start, BitWidth: end - start + 1}, nil
	}
	if m := rePartSelect.FindStringSubmatch(typeStr); m != nil {
		base, off, w := atoi(m[1]), atoi(m[2]), atoi(m[3])
		return &BitSlice{ByteSize: base / 8, BitOffset: off, BitWidth: w}, nil
	}
	if m := reAngle.FindStringSubmatch(typeStr); m != nil {
		off, w := atoi(m[1]), atoi(m[2])
		return &BitSlice{ByteSize: 1, BitOffset: off, BitWidth: w}, nil
	}
	if m := reAtNotation.FindStringSubmatch(typeStr); m != nil {
		w, off := atoi(m[1]), atoi(m[2])
		return &BitSlice{ByteSize: 1, BitOffset: off, BitWidth: w}, nil
	}
	if m := reSequential.FindStringSubmatch(typeStr); m != nil {
		base, w := atoi(m[1]), atoi(m[2])
		return &BitSlice{ByteSize: base / 8, BitOffset: -1, BitWidth: w}, nil
	}
	return nil, errStructural("", "unrecognized bitfield type %q", typeStr)
}

// IsBitfieldType reports whether a type string uses any of the bitfield
// notations ParseBitSlice recognizes.
func IsBitfieldType(typeStr string) bool {
	return strings.ContainsAny(typeStr, "[<") ||
		(strings.Contains(typeStr, ":") && reSequential.MatchString(typeStr))
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// extractBits pulls bit_width bits from the byte at the cursor's current
// position without advancing it. Explicit-offset notations always read
// from the bit_offset given, counted from the LSB (bit 0). The sequential
// form keeps a
// running bit cursor starting at the MSB (position 8) that decrements by
// each field's width and resets whenever the byte position changes.
func extractBits(ctx *decodeCtx, field string, slice *BitSlice) (uint64, bool, error) {
	b, err := ctx.cur.PeekByte(field)
	if err != nil {
		return 0, false, err
	}

	if slice.BitOffset >= 0 {
		return bitsliceGet(b, slice.BitOffset, slice.BitWidth), false, nil
	}

	// sequential mode
	pos := ctx.cur.Position()
	if !ctx.seqValid || ctx.seqPos != pos {
		ctx.seqPos = pos
		ctx.seqByteVal = b
		ctx.seqBitPos = 8
		ctx.seqValid = true
	}

	ctx.seqBitPos -= slice.BitWidth
	if ctx.seqBitPos < 0 {
		return 0, false, errStructural(field, "bit overflow in sequential extraction")
	}

	value := bitsliceGet(ctx.seqByteVal, ctx.seqBitPos, slice.BitWidth)
	consumed := ctx.seqBitPos == 0
	return value, consumed, nil
}

// fieldConsume determines how many bytes a decoded bitfield leaf should
// advance the cursor by: an explicit `consume` always wins, otherwise the
// sequential bit cursor reaching zero auto-consumes one byte, otherwise the
// cursor is left in place for a sibling field to share the same byte.
func fieldConsume(leaf *LeafField, autoConsumed bool) int {
	if leaf.Consume != nil {
		return *leaf.Consume
	}
	if autoConsumed {
		return 1
	}
	return 0
}

// decodeLeaf decodes one Leaf field from the cursor. It does not advance
// the cursor for bitfield or bool reads: those return a consume count that
// the caller applies. All other types read their declared size and advance
// past it directly.
func decodeLeaf(ctx *decodeCtx, leaf *LeafField) (any, int, error) {
	if leaf.Bits != nil {
		raw, autoConsumed, err := extractBits(ctx, leaf.Name, leaf.Bits)
		if err != nil {
			return nil, 0, err
		}
		value, err := applyModifiers(ctx, leaf, int64(raw), false)
		if err != nil {
			return nil, 0, err
		}
		return value, fieldConsume(leaf, autoConsumed), nil
	}

	switch leaf.Type {
	case "u8", "uint8", "u16", "uint16", "u24", "uint24", "u32", "uint32", "u64", "uint64":
		size := unsignedSize(leaf.Type)
		u, err := ctx.cur.ReadUint(leaf.Name, size)
		if err != nil {
			return nil, 0, err
		}
		value, err := applyModifiers(ctx, leaf, int64(u), false)
		return value, 0, err

	case "s8", "i8", "int8", "s16", "i16", "int16", "s24", "i24", "int24",
		"s32", "i32", "int32", "s64", "i64", "int64":
		size := signedSize(leaf.Type)
		v, err := ctx.cur.ReadInt(leaf.Name, size)
		if err != nil {
			return nil, 0, err
		}
		value, err := applyModifiers(ctx, leaf, v, false)
		return value, 0, err

	case "udec", "UDec":
		b, err := ctx.cur.PeekByte(leaf.Name)
		if err != nil {
			return nil, 0, err
		}
		ctx.cur.Skip(leaf.Name, 1)
		v := float64(b>>4) + float64(b&0x0f)*0.1
		value, err := applyModifiersFloat(ctx, leaf, v)
		return value, 0, err

	case "sdec", "SDec":
		b, err := ctx.cur.PeekByte(leaf.Name)
		if err != nil {
			return nil, 0, err
		}
		ctx.cur.Skip(leaf.Name, 1)
		whole := float64(b >> 4)
		if whole >= 8 {
			whole -= 16
		}
		v := whole + float64(b&0x0f)*0.1
		value, err := applyModifiersFloat(ctx, leaf, v)
		return value, 0, err

	case "f16":
		v, err := ctx.cur.ReadF16(leaf.Name)
		if err != nil {
			return nil, 0, err
		}
		value, err := applyModifiersFloat(ctx, leaf, v)
		return value, 0, err

	case "f32", "float":
		v, err := ctx.cur.ReadF32(leaf.Name)
		if err != nil {
			return nil, 0, err
		}
		value, err := applyModifiersFloat(ctx, leaf, float64(v))
		return value, 0, err

	case "f64", "double":
		v, err := ctx.cur.ReadF64(leaf.Name)
		if err != nil {
			return nil, 0, err
		}
		value, err := applyModifiersFloat(ctx, leaf, v)
		return value, 0, err

	case "bool":
		b, err := ctx.cur.PeekByte(leaf.Name)
		if err != nil {
			return nil, 0, err
		}
		bit := 0
		if leaf.BoolBit != nil {
			bit = *leaf.BoolBit
		}
		value := (b>>uint(bit))&1 == 1
		consume := 0
		if leaf.Consume != nil {
			consume = *leaf.Consume
		}
		return value, consume, nil

	case "bytes":
		size := leafSize(leaf)
		b, err := ctx.cur.ReadBytes(leaf.Name, size)
		if err != nil {
			return nil, 0, err
		}
		out := make([]byte, len(b))
		copy(out, b)
		return out, 0, nil

	case "string":
		size := leafSize(leaf)
		s, err := ctx.cur.ReadAscii(leaf.Name, size)
		if err != nil {
			return nil, 0, err
		}
		return s, 0, nil

	case "ascii":
		size := leafSize(leaf)
		s, err := ctx.cur.ReadAscii(leaf.Name, size)
		if err != nil {
			return nil, 0, err
		}
		return s, 0, nil

	case "hex":
		size := leafSize(leaf)
		s, err := ctx.cur.ReadHex(leaf.Name, size)
		if err != nil {
			return nil, 0, err
		}
		return s, 0, nil

	case "base64":
		size := leafSize(leaf)
		s, err := ctx.cur.ReadBase64(leaf.Name, size)
		if err != nil {
			return nil, 0, err
		}
		return s, 0, nil

	case "skip":
		size := leafSize(leaf)
		if err := ctx.cur.Skip(leaf.Name, size); err != nil {
			return nil, 0, err
		}
		return nil, 0, nil

	case "bitfield_string":
		s, err := decodeBitfieldString(ctx, leaf)
		return s, 0, err

	case "version_string":
		s, err := decodeVersionString(ctx, leaf)
		return s, 0, err

	case "enum":
		return decodeEnum(ctx, leaf)
	}

	return nil, 0, errStructural(leaf.Name, "unknown type %q", leaf.Type)
}

func leafSize(leaf *LeafField) int {
	if leaf.Size > 0 {
		return leaf.Size
	}
	return 1
}

func unsignedSize(t string) int {
	switch t {
	case "u8", "uint8":
		return 1
	case "u16", "uint16":
		return 2
	case "u24", "uint24":
		return 3
	case "u32", "uint32":
		return 4
	case "u64", "uint64":
		return 8
	}
	return 1
}

func signedSize(t string) int {
	switch t {
	case "s8", "i8", "int8":
		return 1
	case "s16", "i16", "int16":
		return 2
	case "s24", "i24", "int24":
		return 3
	case "s32", "i32", "int32":
		return 4
	case "s64", "i64", "int64":
		return 8
	}
	return 1
}

func decodeEnum(ctx *decodeCtx, leaf *LeafField) (any, int, error) {
	base := leaf.EnumBase
	if base == "" {
		base = "u8"
	}
	size := unsignedSize(base)
	u, err := ctx.cur.ReadUint(leaf.Name, size)
	if err != nil {
		return nil, 0, err
	}
	raw := int64(u)
	// the raw integer populates the variable environment for later
	// references, the mapped name becomes the record value.
	ctx.env.set(varName(leaf), raw)
	if name, ok := leaf.EnumMap[raw]; ok {
		return name, 0, nil
	}
	return fmt.Sprintf("unknown(%d)", raw), 0, nil
}

// applyModifiers runs the mult/div/add chain plus transform/lookup on an
// integer-typed raw value, in source order, and publishes the result to the
// variable environment. When formula is set it takes precedence and
// short-circuits the whole chain: modifiers, transform, and lookup are all
// skipped, and the formula's result is the field's value.
func applyModifiers(ctx *decodeCtx, leaf *LeafField, raw int64, skipEnv bool) (any, error) {
	if leaf.Formula != "" {
		value := applyFormula(ctx, leaf, float64(raw))
		if !skipEnv {
			ctx.env.set(varName(leaf), value)
		}
		return value, nil
	}

	value, err := applyModifierChain(leaf, float64(raw))
	if err != nil {
		return nil, err
	}
	if !skipEnv {
		ctx.env.set(varName(leaf), value)
	}
	return finishNumeric(leaf, value, raw), nil
}

func applyModifiersFloat(ctx *decodeCtx, leaf *LeafField, raw float64) (any, error) {
	if leaf.Formula != "" {
		value := applyFormula(ctx, leaf, raw)
		ctx.env.set(varName(leaf), value)
		return value, nil
	}

	value, err := applyModifierChain(leaf, raw)
	if err != nil {
		return nil, err
	}
	ctx.env.set(varName(leaf), value)
	return value, nil
}

// applyFormula evaluates the deprecated leaf-level formula against the raw
// value. An evaluation failure warns and leaves the value unchanged rather
// than failing the decode.
func applyFormula(ctx *decodeCtx, leaf *LeafField, value float64) float64 {
	out, err := evalFormula(leaf.Formula, value, ctx.env)
	if err != nil {
		ctx.warn("field %q: formula evaluation failed: %v", leaf.Name, err)
		return value
	}
	return out
}

// applyModifierChain runs the modifier chain in source order, then the
// transform pipeline. Division by zero, or a chain that turns a finite
// input non-finite, is a ModifierDomain error that halts the field decode.
func applyModifierChain(leaf *LeafField, value float64) (float64, error) {
	finiteIn := !math.IsNaN(value) && !math.IsInf(value, 0)

	for _, m := range leaf.Modifiers {
		switch m.Op {
		case ModMult:
			value = value * m.Const
		case ModDiv:
			if m.Const == 0 {
				return 0, errModifierDomain(leaf.Name, "division by zero in modifier chain")
			}
			value = value / m.Const
		case ModAdd:
			value = value + m.Const
		}
	}

	if finiteIn && (math.IsNaN(value) || math.IsInf(value, 0)) {
		return 0, errModifierDomain(leaf.Name, "modifier chain produced a non-finite value")
	}

	if len(leaf.Transform) > 0 {
		value = applyTransformPipeline(value, leaf.Transform)
	}

	return value, nil
}

// finishNumeric applies the lookup table (if any) and otherwise returns the
// value as an int64 when no modifiers/transform changed its shape, or a
// float64 when they did (e.g. mult by a fractional constant). Never reached
// on the formula path, which bypasses lookup entirely.
func finishNumeric(leaf *LeafField, value float64, raw int64) any {
	if len(leaf.Lookup) > 0 {
		idx := int64(value)
		if idx >= 0 && idx < int64(len(leaf.Lookup)) {
			return leaf.Lookup[idx]
		}
		// LookupOverflow is not an error: pass the raw numeric value through
	}

	if len(leaf.Modifiers) == 0 && len(leaf.Transform) == 0 {
		return raw
	}
	return value
}

func varName(leaf *LeafField) string {
	if leaf.Var != "" {
		return leaf.Var
	}
	return leaf.Name
}

// decodeBitfieldString reads `length` bytes as an unsigned integer then
// assembles a delimiter-joined string from its declared bit parts.
func decodeBitfieldString(ctx *decodeCtx, leaf *LeafField) (string, error) {
	size := leafSize(leaf)
	u, err := ctx.cur.ReadUint(leaf.Name, size)
	if err != nil {
		return "", err
	}

	join := leaf.StringJoin
	if join == "" {
		join = "."
	}

	parts := make([]string, 0, len(leaf.StringParts))
	for _, p := range leaf.StringParts {
		mask := uint64(1)<<uint(p.BitWidth) - 1
		v := (u >> uint(p.BitOffset)) & mask
		if p.Format == "hex" {
			parts = append(parts, fmt.Sprintf("%X", v))
		} else {
			parts = append(parts, strconv.FormatUint(v, 10))
		}
	}
	return strings.Join(parts, join), nil
}

// decodeVersionString reads N consecutive bytes and joins them with a
// delimiter, optionally prefixed.
func decodeVersionString(ctx *decodeCtx, leaf *LeafField) (string, error) {
	count := leaf.StringCount
	if count == 0 {
		count = leafSize(leaf)
	}
	b, err := ctx.cur.ReadBytes(leaf.Name, count)
	if err != nil {
		return "", err
	}

	join := leaf.StringJoin
	if join == "" {
		join = "."
	}

	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = strconv.Itoa(int(v))
	}
	return leaf.StringPrefix + strings.Join(parts, join), nil
}

// encodeLeaf writes one Leaf field's value onto the cursor, reversing the
// modifier chain and lookup/enum mapping. inGroup marks a field as a
// ByteGroup member: its bitfield writes accumulate but never self-flush,
// since the group forces a single position advance at group exit.
func encodeLeaf(ctx *encodeCtx, leaf *LeafField, value any, inGroup bool) error {
	if leaf.Bits != nil {
		return encodeBitfield(ctx, leaf, value, inGroup)
	}
	ctx.flushAccumulator()

	switch leaf.Type {
	case "u8", "uint8", "u16", "uint16", "u24", "uint24", "u32", "uint32", "u64", "uint64":
		raw := reverseModifiers(ctx, leaf, value)
		ctx.cur.WriteUint(uint64(roundHalfEven(raw)), unsignedSize(leaf.Type))
		return nil

	case "s8", "i8", "int8", "s16", "i16", "int16", "s24", "i24", "int24",
		"s32", "i32", "int32", "s64", "i64", "int64":
		raw := reverseModifiers(ctx, leaf, value)
		ctx.cur.WriteInt(roundHalfEven(raw), signedSize(leaf.Type))
		return nil

	case "udec", "UDec":
		f, _ := toFloat(value)
		whole := int(f)
		frac := int(math.Round((f - float64(whole)) * 10))
		ctx.cur.WriteBytes([]byte{byte(whole<<4) | byte(frac&0x0f)})
		return nil

	case "sdec", "SDec":
		f, _ := toFloat(value)
		whole := int(f)
		frac := int(math.Round((f - float64(whole)) * 10))
		if frac < 0 {
			frac = -frac
		}
		if whole < 0 {
			whole += 16
		}
		ctx.cur.WriteBytes([]byte{byte(whole<<4) | byte(frac&0x0f)})
		return nil

	case "f16":
		f, _ := toFloat(value)
		ctx.cur.WriteF16(f)
		return nil

	case "f32", "float":
		f, _ := toFloat(value)
		ctx.cur.WriteF32(float32(f))
		return nil

	case "f64", "double":
		f, _ := toFloat(value)
		ctx.cur.WriteF64(f)
		return nil

	case "bool":
		b, _ := value.(bool)
		bit := 0
		if leaf.BoolBit != nil {
			bit = *leaf.BoolBit
		}
		var by byte
		if b {
			by = 1 << uint(bit)
		}
		ctx.cur.WriteBytes([]byte{by})
		return nil

	case "bytes":
		b, _ := value.([]byte)
		size := leafSize(leaf)
		out := make([]byte, size)
		copy(out, b)
		ctx.cur.WriteBytes(out)
		return nil

	case "string", "ascii":
		s, _ := value.(string)
		ctx.cur.WriteAscii(s, leafSize(leaf))
		return nil

	case "hex":
		s, _ := value.(string)
		b, err := hexDecode(s)
		if err != nil {
			return errStructural(leaf.Name, "invalid hex value: %v", err)
		}
		out := make([]byte, leafSize(leaf))
		copy(out, b)
		ctx.cur.WriteBytes(out)
		return nil

	case "base64":
		s, _ := value.(string)
		b, err := base64Decode(s)
		if err != nil {
			return errStructural(leaf.Name, "invalid base64 value: %v", err)
		}
		out := make([]byte, leafSize(leaf))
		copy(out, b)
		ctx.cur.WriteBytes(out)
		return nil

	case "skip":
		ctx.cur.WriteBytes(make([]byte, leafSize(leaf)))
		return nil

	case "enum":
		return encodeEnum(ctx, leaf, value)
	}

	return errStructural(leaf.Name, "unknown type %q", leaf.Type)
}

func encodeEnum(ctx *encodeCtx, leaf *LeafField, value any) error {
	base := leaf.EnumBase
	if base == "" {
		base = "u8"
	}
	size := unsignedSize(base)

	s, _ := value.(string)
	for raw, name := range leaf.EnumMap {
		if name == s {
			ctx.cur.WriteUint(uint64(raw), size)
			ctx.env.set(varName(leaf), raw)
			return nil
		}
	}
	return errStructural(leaf.Name, "enum value %q has no matching case", s)
}

// encodeBitfield composes a bitfield leaf's value into the pending
// accumulator byte. Standalone fields (inGroup == false) flush the
// accumulator to the cursor themselves once fieldConsume says this field
// advances the position, mirroring extractBits' decode-side sequential bit
// cursor; ByteGroup members never self-flush, leaving the single
// position advance to the group's own exit logic.
func encodeBitfield(ctx *encodeCtx, leaf *LeafField, value any, inGroup bool) error {
	raw := reverseModifiers(ctx, leaf, value)
	v := uint64(roundHalfEven(raw))

	ctx.openAccumulator()

	autoConsumed := false
	if leaf.Bits.BitOffset >= 0 {
		ctx.accByteVal = bitsliceSet(ctx.accByteVal, leaf.Bits.BitOffset, leaf.Bits.BitWidth, v)
	} else {
		// sequential mode: pack from the MSB down, same order as extractBits.
		ctx.accBitPos -= leaf.Bits.BitWidth
		if ctx.accBitPos < 0 {
			return errStructural(leaf.Name, "bit overflow in sequential encoding")
		}
		ctx.accByteVal = bitsliceSet(ctx.accByteVal, ctx.accBitPos, leaf.Bits.BitWidth, v)
		autoConsumed = ctx.accBitPos == 0
	}

	if !inGroup && fieldConsume(leaf, autoConsumed) > 0 {
		ctx.flushAccumulator()
	}
	return nil
}

// reverseModifiers undoes the encoded value's transform/lookup/modifier
// chain by walking it in reverse with inverse operators, per the round-trip
// invariant: encode(decode(x)) == x for fields without conditional discard.
func reverseModifiers(ctx *encodeCtx, leaf *LeafField, value any) float64 {
	if s, ok := value.(string); ok && len(leaf.Lookup) > 0 {
		for i, v := range leaf.Lookup {
			if v == s {
				value = float64(i)
				break
			}
		}
	}

	f, _ := toFloat(value)

	if len(leaf.Transform) > 0 {
		f = reverseTransformPipeline(f, leaf.Transform)
	}

	for i := len(leaf.Modifiers) - 1; i >= 0; i-- {
		m := leaf.Modifiers[i]
		switch m.Op {
		case ModAdd:
			f -= m.Const
		case ModMult:
			if m.Const != 0 {
				f /= m.Const
			}
		case ModDiv:
			f *= m.Const
		}
	}

	return f
}

// roundHalfEven rounds to the nearest integer, ties to even. Integer-typed
// outputs encode through this rather than truncation.
func roundHalfEven(v float64) int64 {
	floor := math.Floor(v)
	diff := v - floor
	switch {
	case diff < 0.5:
		return int64(floor)
	case diff > 0.5:
		return int64(floor) + 1
	default:
		if int64(floor)%2 == 0 {
			return int64(floor)
		}
		return int64(floor) + 1
	}
}
