package schemacodec

import "fmt"

// decodeSequence walks a FieldSequence against the cursor, populating rec
// with every non-internal entry's value and the variable environment with
// every entry's value regardless of internal status.
func decodeSequence(ctx *decodeCtx, seq FieldSequence, rec Record) error {
	for _, entry := range seq {
		if err := decodeEntry(ctx, entry, rec); err != nil {
			return err
		}
	}
	return nil
}

func decodeEntry(ctx *decodeCtx, entry FieldEntry, rec Record) error {
	switch entry.Kind {
	case EntryLeaf:
		leaf := entry.Leaf
		value, consume, err := decodeLeaf(ctx, leaf)
		if err != nil {
			return err
		}
		if consume > 0 {
			if err := ctx.cur.Skip(leaf.Name, consume); err != nil {
				return err
			}
		}
		if leaf.Type != "skip" {
			// decodeEnum has already published the raw integer.
			if leaf.Type != "enum" {
				ctx.env.set(varName(leaf), value)
			}
			if !entry.Internal() {
				rec[leaf.Name] = value
			}
		}
		return nil

	case EntryComputed:
		c := entry.Computed
		value, err := decodeComputed(ctx, c)
		if err != nil {
			return err
		}
		ctx.env.set(c.Name, value)
		if !entry.Internal() {
			rec[c.Name] = value
		}
		return nil

	case EntryByteGroup:
		return decodeByteGroup(ctx, entry.ByteGroup, rec)

	case EntryObject:
		return decodeObject(ctx, entry.Object, rec)

	case EntryFlagged:
		return decodeFlagged(ctx, entry.Flagged, rec)

	case EntryMatch:
		return decodeMatch(ctx, entry.Match, rec)

	case EntryTLV:
		return decodeTLV(ctx, entry.TLV, rec)

	case EntryReference:
		return errStructural("", "unresolved reference entry reached the decoder; run the resolver first")
	}
	return errStructural("", "unknown field entry kind %d", entry.Kind)
}

// decodeByteGroup decodes every member against the same shared byte(s),
// forcing each member's own consume accounting to zero, then advances the
// cursor by the group's declared size exactly once.
func decodeByteGroup(ctx *decodeCtx, g *ByteGroupField, rec Record) error {
	savedValid := ctx.seqValid
	ctx.seqValid = false

	start := ctx.cur.Position()
	for _, member := range g.Fields {
		if member.Kind != EntryLeaf {
			if err := decodeEntry(ctx, member, rec); err != nil {
				return err
			}
			continue
		}
		leaf := member.Leaf
		value, _, err := decodeLeaf(ctx, leaf)
		if err != nil {
			return err
		}
		ctx.cur.pos = start
		ctx.env.set(varName(leaf), value)
		if !member.Internal() {
			rec[leaf.Name] = value
		}
	}

	ctx.seqValid = savedValid
	return ctx.cur.Skip("byte_group", g.Size)
}

func decodeObject(ctx *decodeCtx, o *ObjectField, rec Record) error {
	nested := make(Record)
	if err := decodeSequence(ctx, o.Fields, nested); err != nil {
		return err
	}
	rec[o.Name] = nested
	return nil
}

// decodeFlagged decodes the sub-sequence gated by each set bit of a
// previously decoded flags field, merging every active group's fields
// directly into rec (groups are not individually named).
func decodeFlagged(ctx *decodeCtx, f *FlaggedField, rec Record) error {
	flags, ok := ctx.env.getFloat(f.FlagsRef)
	if !ok {
		return errReferenceNotFound("flagged construct references unknown variable %q", f.FlagsRef)
	}
	mask := int64(flags)
	for _, group := range f.Groups {
		if mask&(1<<uint(group.Bit)) == 0 {
			continue
		}
		if err := decodeSequence(ctx, group.Fields, rec); err != nil {
			return err
		}
	}
	return nil
}

// decodeMatch reads (or resolves) the discriminator, finds the matching
// case, and decodes its sequence. No matching case falls back to the
// configured default behavior.
func decodeMatch(ctx *decodeCtx, m *MatchField, rec Record) error {
	var disc any
	var discFloat float64

	if m.InlineSize > 0 {
		u, err := ctx.cur.ReadUint(m.Name, m.InlineSize)
		if err != nil {
			return err
		}
		disc = int64(u)
		discFloat = float64(u)
		if m.Var != "" {
			ctx.env.set(m.Var, disc)
		}
		if m.Name != "" {
			rec[m.Name] = disc
		}
	} else {
		raw, ok := ctx.env.getRaw(m.VarRef)
		if !ok {
			return errReferenceNotFound("match construct references unknown variable %q", m.VarRef)
		}
		disc = raw
		discFloat, _ = toFloat(raw)
	}

	for _, c := range m.Cases {
		if matchCasePattern(c.Pattern, disc, discFloat) {
			return decodeSequence(ctx, c.Fields, rec)
		}
	}

	switch m.Default {
	case MatchDefaultSkip:
		return nil
	case MatchDefaultFallback:
		return decodeSequence(ctx, m.Fallback, rec)
	default:
		return errNoMatchingCase(m.Name, ctx.cur.Position(), "no match case for discriminator %v", disc)
	}
}

func matchCasePattern(pattern any, disc any, discFloat float64) bool {
	switch p := pattern.(type) {
	case string:
		if s, ok := disc.(string); ok {
			return s == p
		}
		return fmt.Sprintf("%v", disc) == p
	case int64:
		return discFloat == float64(p)
	case int:
		return discFloat == float64(p)
	case []any:
		for _, v := range p {
			if matchCasePattern(v, disc, discFloat) {
				return true
			}
		}
		return false
	case [2]float64:
		return discFloat >= p[0] && discFloat <= p[1]
	}
	return false
}

// decodeTLV loops reading tag/length/value triples until the cursor is
// exhausted, merging matching tags into rec or appending to a channels list
// depending on Merge. When merging, a tag that occurs more than once
// overwrites the values its earlier occurrence wrote; repeated tags are not
// collected into a list.
func decodeTLV(ctx *decodeCtx, t *TLVField, rec Record) error {
	var channels List

loop:
	for ctx.cur.BytesLeft() > 0 {
		tag, tagStr, err := readTLVTag(ctx, t)
		if err != nil {
			return err
		}

		var payloadLen int
		if t.LengthSize > 0 {
			n, err := ctx.cur.ReadUint("tlv_length", t.LengthSize)
			if err != nil {
				return err
			}
			payloadLen = int(n)
		}

		fields, known := t.Cases[tagStr]
		if !known {
			switch t.Unknown {
			case TLVUnknownSkip:
				if t.LengthSize == 0 {
					// no length to skip by; the rest of the payload is opaque
					break loop
				}
				if err := ctx.cur.Skip("tlv_unknown", payloadLen); err != nil {
					return err
				}
				continue
			case TLVUnknownRaw:
				b, err := readTLVPayload(ctx, payloadLen)
				if err != nil {
					return err
				}
				channels = append(channels, Record{"tag": tag, "raw": b})
				continue
			default:
				return errUnknownTLVTag(tagStr, ctx.cur.Position(), "unknown TLV tag %v", tag)
			}
		}

		nested := make(Record)
		if t.LengthSize > 0 {
			payload, err := ctx.cur.ReadBytes("tlv_payload", payloadLen)
			if err != nil {
				return err
			}
			sub := NewDecodeCursor(payload, ctx.cur.Endian())
			subCtx := &decodeCtx{cur: sub, env: ctx.env}
			if err := decodeSequence(subCtx, fields, nested); err != nil {
				return err
			}
			ctx.warnings = append(ctx.warnings, subCtx.warnings...)
		} else {
			if err := decodeSequence(ctx, fields, nested); err != nil {
				return err
			}
		}

		if t.Merge {
			for k, v := range nested {
				rec[k] = v
			}
		} else {
			channels = append(channels, nested)
		}
	}

	if !t.Merge && channels != nil {
		rec["channels"] = channels
	}
	return nil
}

func readTLVPayload(ctx *decodeCtx, n int) ([]byte, error) {
	return ctx.cur.ReadBytes("tlv_payload", n)
}

// readTLVTag reads one or more tag fields (a composite key joins their
// string forms with ":") and returns both the raw value of the first field
// and the lookup key used against TLVField.Cases.
func readTLVTag(ctx *decodeCtx, t *TLVField) (any, string, error) {
	if len(t.TagFields) == 1 {
		size := unsignedSize(t.TagFields[0].Type)
		u, err := ctx.cur.ReadUint(t.TagFields[0].Name, size)
		if err != nil {
			return nil, "", err
		}
		return int64(u), fmt.Sprintf("%d", u), nil
	}

	var key string
	var first any
	for i, tf := range t.TagFields {
		size := unsignedSize(tf.Type)
		u, err := ctx.cur.ReadUint(tf.Name, size)
		if err != nil {
			return nil, "", err
		}
		if i == 0 {
			first = int64(u)
		}
		if i > 0 {
			key += ":"
		}
		key += fmt.Sprintf("%d", u)
	}
	return first, key, nil
}

// --- encode side ---

func encodeSequence(ctx *encodeCtx, seq FieldSequence, rec Record) error {
	for _, entry := range seq {
		if err := encodeEntry(ctx, entry, rec, false); err != nil {
			return err
		}
	}
	ctx.flushAccumulator()
	return nil
}

func encodeEntry(ctx *encodeCtx, entry FieldEntry, rec Record, inGroup bool) error {
	switch entry.Kind {
	case EntryLeaf:
		leaf := entry.Leaf
		value, present := rec[leaf.Name]
		if entry.Internal() {
			if raw, ok := ctx.env.getRaw(leaf.Name); ok {
				value, present = raw, true
			}
		}
		if !present && leaf.Type != "skip" {
			ctx.warn("field %q missing from record, encoding zero value", leaf.Name)
		}
		if err := encodeLeaf(ctx, leaf, value, inGroup); err != nil {
			return err
		}
		if f, ok := toFloat(value); ok {
			ctx.env.set(varName(leaf), f)
		} else {
			ctx.env.set(varName(leaf), value)
		}
		return nil

	case EntryComputed:
		// computed fields are derived, never independently encoded; they
		// exist purely to populate the variable environment on decode.
		return nil

	case EntryByteGroup:
		return encodeByteGroup(ctx, entry.ByteGroup, rec)

	case EntryObject:
		return encodeObject(ctx, entry.Object, rec)

	case EntryFlagged:
		return encodeFlagged(ctx, entry.Flagged, rec)

	case EntryMatch:
		return encodeMatch(ctx, entry.Match, rec)

	case EntryTLV:
		return encodeTLV(ctx, entry.TLV, rec)

	case EntryReference:
		return errStructural("", "unresolved reference entry reached the encoder; run the resolver first")
	}
	return errStructural("", "unknown field entry kind %d", entry.Kind)
}

func encodeByteGroup(ctx *encodeCtx, g *ByteGroupField, rec Record) error {
	for _, member := range g.Fields {
		if err := encodeEntry(ctx, member, rec, true); err != nil {
			return err
		}
	}
	ctx.openAccumulator()
	ctx.flushAccumulator()
	if g.Size > 1 {
		ctx.cur.WriteBytes(make([]byte, g.Size-1))
	}
	return nil
}

func encodeObject(ctx *encodeCtx, o *ObjectField, rec Record) error {
	nested, _ := rec[o.Name].(Record)
	if nested == nil {
		if m, ok := rec[o.Name].(map[string]any); ok {
			nested = Record(m)
		}
	}
	return encodeSequence(ctx, o.Fields, nested)
}

func encodeFlagged(ctx *encodeCtx, f *FlaggedField, rec Record) error {
	flags, ok := ctx.env.getFloat(f.FlagsRef)
	if !ok {
		return errReferenceNotFound("flagged construct references unknown variable %q during encode", f.FlagsRef)
	}
	mask := int64(flags)
	for _, group := range f.Groups {
		if mask&(1<<uint(group.Bit)) == 0 {
			continue
		}
		if err := encodeSequence(ctx, group.Fields, rec); err != nil {
			return err
		}
	}
	return nil
}

func encodeMatch(ctx *encodeCtx, m *MatchField, rec Record) error {
	discFloat, ok := ctx.env.getFloat(m.VarRef)
	if m.InlineSize > 0 {
		if v, present := rec[m.Name]; present {
			discFloat, _ = toFloat(v)
			ok = true
		}
	}
	if !ok {
		return errReferenceNotFound("match construct references unknown variable %q during encode", m.VarRef)
	}

	if m.InlineSize > 0 {
		ctx.cur.WriteUint(uint64(discFloat), m.InlineSize)
	}

	for _, c := range m.Cases {
		if matchCasePattern(c.Pattern, int64(discFloat), discFloat) {
			return encodeSequence(ctx, c.Fields, rec)
		}
	}

	switch m.Default {
	case MatchDefaultSkip:
		return nil
	case MatchDefaultFallback:
		return encodeSequence(ctx, m.Fallback, rec)
	default:
		return errNoMatchingCase(m.Name, ctx.cur.Position(), "no match case for discriminator %v", discFloat)
	}
}

func encodeTLV(ctx *encodeCtx, t *TLVField, rec Record) error {
	if t.Merge {
		for tagStr, fields := range t.Cases {
			if !tlvCaseApplies(fields, rec) {
				continue
			}
			if err := writeTLVEntry(ctx, t, tagStr, fields, rec); err != nil {
				return err
			}
		}
		return nil
	}

	channels, _ := rec["channels"].(List)
	for _, ch := range channels {
		for tagStr, fields := range t.Cases {
			if !tlvCaseApplies(fields, ch) {
				continue
			}
			if err := writeTLVEntry(ctx, t, tagStr, fields, ch); err != nil {
				return err
			}
			break
		}
	}
	return nil
}

// tlvCaseApplies reports whether rec carries every field a TLV case's
// sequence would produce, used to pick which tag to emit for a merged record.
func tlvCaseApplies(fields FieldSequence, rec Record) bool {
	for _, f := range fields {
		name := f.Name()
		if name == "" {
			continue
		}
		if _, ok := rec[name]; !ok {
			return false
		}
	}
	return true
}

func writeTLVEntry(ctx *encodeCtx, t *TLVField, tagStr string, fields FieldSequence, rec Record) error {
	tagVal, err := parseTLVTagKey(tagStr)
	if err != nil {
		return err
	}
	for i, tf := range t.TagFields {
		size := unsignedSize(tf.Type)
		ctx.cur.WriteUint(uint64(tagVal[i]), size)
	}

	if t.LengthSize == 0 {
		return encodeSequence(ctx, fields, rec)
	}

	sub := NewEncodeCursor(ctx.cur.Endian(), 16)
	subCtx := &encodeCtx{cur: sub, env: ctx.env}
	if err := encodeSequence(subCtx, fields, rec); err != nil {
		return err
	}
	ctx.warnings = append(ctx.warnings, subCtx.warnings...)
	ctx.cur.WriteUint(uint64(len(sub.Bytes())), t.LengthSize)
	ctx.cur.WriteBytes(sub.Bytes())
	return nil
}

func parseTLVTagKey(key string) ([]int64, error) {
	var out []int64
	cur := int64(0)
	seen := false
	for _, r := range key {
		if r == ':' {
			out = append(out, cur)
			cur = 0
			seen = false
			continue
		}
		if r < '0' || r > '9' {
			return nil, errStructural("", "malformed TLV tag key %q", key)
		}
		cur = cur*10 + int64(r-'0')
		seen = true
	}
	if seen {
		out = append(out, cur)
	}
	return out, nil
}
