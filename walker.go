package schemacodec

import (
	"github.com/sirupsen/logrus"
)

// DecodeResult carries a decode call's output: the record accumulated so
// far, how many payload bytes were consumed, and any warnings/errors. A
// decode is successful iff Errors is empty; a non-empty Errors list still
// returns whatever Record was accumulated before the fault, for diagnostics.
type DecodeResult struct {
	Record   Record
	Consumed int
	Warnings []string
	Errors   []error
}

// Ok reports whether the decode completed without error.
func (r *DecodeResult) Ok() bool { return len(r.Errors) == 0 }

// EncodeResult carries an encode call's output payload plus diagnostics.
type EncodeResult struct {
	Payload  []byte
	Warnings []string
	Errors   []error
}

func (r *EncodeResult) Ok() bool { return len(r.Errors) == 0 }

var log = logrus.WithField("component", "schemacodec")

// Decode walks payload against the schema, selecting a port sequence when
// the schema is port-keyed. metadata supplies the external values a
// metadata-enrichment `include`/`timestamps` directive may draw from (e.g.
// rx_time); it may be nil.
func (s *Schema) Decode(payload []byte, port *int, metadata map[string]any) *DecodeResult {
	seq, err := s.selectSequence(port)
	if err != nil {
		return &DecodeResult{Record: Record{}, Errors: []error{err}}
	}

	cur := NewDecodeCursor(payload, s.Endian)
	ctx := newDecodeCtx(cur)
	rec := make(Record)

	result := &DecodeResult{Record: rec}
	if err := decodeSequence(ctx, seq, rec); err != nil {
		log.WithError(err).Debug("decode halted")
		result.Errors = append(result.Errors, err)
	}
	result.Consumed = cur.Position()
	result.Warnings = ctx.warnings

	if s.Metadata != nil {
		applyMetadata(rec, s.Metadata, metadata)
	}
	return result
}

// Encode walks record against the schema's chosen port sequence, producing
// a payload. Missing fields encode as a zero value and a warning rather
// than a hard failure, matching the decode-side tolerance for partial data.
func (s *Schema) Encode(record Record, port *int) *EncodeResult {
	seq, err := s.selectSequence(port)
	if err != nil {
		return &EncodeResult{Errors: []error{err}}
	}

	cur := NewEncodeCursor(s.Endian, 32)
	ctx := newEncodeCtx(cur)

	result := &EncodeResult{}
	if err := encodeSequence(ctx, seq, record); err != nil {
		log.WithError(err).Debug("encode halted")
		result.Errors = append(result.Errors, err)
	}
	result.Payload = cur.Bytes()
	result.Warnings = ctx.warnings
	return result
}

// selectSequence resolves the field sequence to walk: the flat Fields list,
// or a Ports entry chosen by the caller-supplied port, falling back to
// DefaultPort when present.
func (s *Schema) selectSequence(port *int) (FieldSequence, error) {
	if s.Ports == nil {
		return s.Fields, nil
	}
	if port != nil {
		if seq, ok := s.Ports[*port]; ok {
			return seq, nil
		}
	}
	if s.DefaultPort != nil {
		return *s.DefaultPort, nil
	}
	if port == nil {
		return nil, errUnknownPort("schema is port-keyed but no port was supplied and no default exists")
	}
	return nil, errUnknownPort("no field sequence for port %d and no default exists", *port)
}
