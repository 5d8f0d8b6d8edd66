package schemacodec

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MetadataDirective is a schema's optional enrichment block: it copies
// values out of the caller-supplied network envelope into the decoded
// record, and composes timestamp fields from a mix of envelope and decoded
// values.
type MetadataDirective struct {
	Include    []MetadataInclude
	Timestamps []TimestampSpec

	// CorrelationID, when set, publishes a fresh UUID under this name on
	// every decode call that supplies a metadata envelope, used to thread a
	// decode through downstream diagnostics.
	CorrelationID string
}

// MetadataInclude copies metadata[Source] into data[Name] when present.
type MetadataInclude struct {
	Name   string
	Source string // "$foo.bar[0].baz" style pointer into the metadata map
}

// TimestampMode selects how a TimestampSpec composes its value.
type TimestampMode int

const (
	TimestampRxTime TimestampMode = iota
	TimestampSubtract
	TimestampUnixEpoch
	TimestampISO8601
	TimestampElapsedToAbsolute
)

// TimestampSpec is one `timestamps` entry of a MetadataDirective.
type TimestampSpec struct {
	Name   string
	Mode   TimestampMode
	Field  string // decoded field carrying an offset or epoch seconds
	Format string // custom Go time layout for Iso8601; "" = default
}

const defaultISO8601 = "2006-01-02T15:04:05.000Z"

var metadataIndexRE = regexp.MustCompile(`\[(\d+)\]`)

// resolveMetadataRef walks a "$foo.bar[0].baz" pointer through the
// caller-supplied metadata map. A missing segment returns (nil, false)
// rather than an error: metadata enrichment is best-effort.
func resolveMetadataRef(ref string, meta map[string]any) (any, bool) {
	if !strings.HasPrefix(ref, "$") {
		return nil, false
	}
	path := metadataIndexRE.ReplaceAllString(strings.TrimPrefix(ref, "$"), ".$1")
	parts := strings.Split(path, ".")

	var cur any = meta
	for _, part := range parts {
		if part == "" {
			continue
		}
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[part]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// applyMetadata enriches rec in place per dir, using meta as the envelope.
// A nil meta is a no-op: enrichment only ever runs when the caller supplied
// an envelope.
func applyMetadata(rec Record, dir *MetadataDirective, meta map[string]any) {
	if meta == nil {
		return
	}

	for _, inc := range dir.Include {
		if inc.Name == "" || inc.Source == "" {
			continue
		}
		if v, ok := resolveMetadataRef(inc.Source, meta); ok && v != nil {
			rec[inc.Name] = v
		}
	}

	for _, ts := range dir.Timestamps {
		applyTimestamp(rec, ts, meta)
	}

	if dir.CorrelationID != "" {
		rec[dir.CorrelationID] = uuid.New().String()
	}
}

func applyTimestamp(rec Record, ts TimestampSpec, meta map[string]any) {
	switch ts.Mode {
	case TimestampRxTime:
		if v, ok := resolveMetadataRef("$recvTime", meta); ok {
			rec[ts.Name] = v
		}

	case TimestampSubtract, TimestampElapsedToAbsolute:
		offsetField := ts.Field
		if offsetField == "" {
			return
		}
		offset, ok := toFloat(rec[offsetField])
		if !ok {
			return
		}
		rx, ok := resolveMetadataRef("$recvTime", meta)
		if !ok {
			return
		}
		rxStr, ok := rx.(string)
		if !ok {
			return
		}
		rxTime, err := parseISO8601(rxStr)
		if err != nil {
			return
		}
		rec[ts.Name] = rxTime.Add(-time.Duration(offset * float64(time.Second))).UTC().Format(defaultISO8601)

	case TimestampUnixEpoch:
		if ts.Field == "" {
			return
		}
		secs, ok := toFloat(rec[ts.Field])
		if !ok {
			return
		}
		rec[ts.Name] = time.Unix(int64(secs), 0).UTC().Format(defaultISO8601)

	case TimestampISO8601:
		if ts.Field == "" {
			return
		}
		secs, ok := toFloat(rec[ts.Field])
		if !ok {
			return
		}
		format := ts.Format
		if format == "" {
			format = defaultISO8601
		}
		rec[ts.Name] = time.Unix(int64(secs), 0).UTC().Format(format)
	}
}

// parseISO8601 accepts the common "...Z" and explicit-offset RFC3339 forms.
func parseISO8601(s string) (time.Time, error) {
	for _, layout := range []string{
		"2006-01-02T15:04:05.000Z",
		"2006-01-02T15:04:05Z",
		time.RFC3339,
		time.RFC3339Nano,
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format %q", s)
}
