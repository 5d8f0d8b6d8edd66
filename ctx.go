package schemacodec

import "fmt"

// decodeCtx threads the per-call state a decode walk needs: the cursor,
// the variable environment, accumulated warnings, and the running bit
// cursor used by sequential (`u8:w`) bitfields. It is created fresh for
// every Decode call and never shared across calls or goroutines.
type decodeCtx struct {
	cur      *Cursor
	env      *varEnv
	warnings []string

	seqPos     int  // byte position the sequential bit cursor belongs to
	seqBitPos  int  // bits remaining in the current byte, counted from the MSB
	seqByteVal byte // the byte currently being sliced
	seqValid   bool
}

func newDecodeCtx(cur *Cursor) *decodeCtx {
	return &decodeCtx{cur: cur, env: newVarEnv()}
}

func (c *decodeCtx) warn(format string, args ...any) {
	c.warnings = append(c.warnings, fmt.Sprintf(format, args...))
}

// encodeCtx is the write-side counterpart of decodeCtx. Bitfield leaves that
// share a byte (ByteGroup members, or standalone consume:0 siblings) compose
// their bits into accByteVal rather than writing immediately; the sequence
// encoder flushes the accumulator to the cursor once a field's consume
// count is non-zero, mirroring decodeCtx's sequential bit cursor.
type encodeCtx struct {
	cur      *Cursor
	env      *varEnv
	warnings []string

	accByteVal byte
	accBitPos  int // bits remaining, MSB-down, for the sequential form
	accValid   bool
}

func newEncodeCtx(cur *Cursor) *encodeCtx {
	return &encodeCtx{cur: cur, env: newVarEnv()}
}

// openAccumulator ensures a pending bit accumulator exists, starting a fresh
// zero byte if none is active.
func (c *encodeCtx) openAccumulator() {
	if !c.accValid {
		c.accByteVal = 0
		c.accBitPos = 8
		c.accValid = true
	}
}

// flushAccumulator writes the pending accumulator byte to the cursor and
// clears it. A no-op when nothing is pending.
func (c *encodeCtx) flushAccumulator() {
	if !c.accValid {
		return
	}
	c.cur.WriteBytes([]byte{c.accByteVal})
	c.accValid = false
	c.accByteVal = 0
	c.accBitPos = 8
}

func (c *encodeCtx) warn(format string, args ...any) {
	c.warnings = append(c.warnings, fmt.Sprintf(format, args...))
}
