// Package devtool backs the schemacodec command-line tool. It is kept
// unexported so the library surface stays exactly what package schemacodec
// declares; nothing here is meant to be imported by other programs.
package devtool

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	schemacodec "github.com/nimbusdevices/schemacodec"
)

var Log = logrus.WithField("component", "devtool")

// LoadSchema reads a YAML schema document from path, resolves every
// reference entry against roots (the document's own directory is always
// searched first), and constructs a Schema from the resolved tree.
func LoadSchema(path string, roots []string) (*schemacodec.Schema, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}

	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("parse schema yaml: %w", err)
	}

	resolver := schemacodec.NewReferenceResolver(roots...)
	resolved, err := resolver.Resolve(tree, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("resolve references: %w", err)
	}

	schema, err := schemacodec.New(resolved)
	if err != nil {
		return nil, fmt.Errorf("build schema: %w", err)
	}
	Log.WithField("schema", schema.Name).Debug("schema loaded")
	return schema, nil
}

// DecodeHex decodes a hex-encoded payload string against schema.
func DecodeHex(schema *schemacodec.Schema, payloadHex string, port *int, metadata map[string]any) (*schemacodec.DecodeResult, error) {
	payload, err := hex.DecodeString(payloadHex)
	if err != nil {
		return nil, fmt.Errorf("decode hex payload: %w", err)
	}
	return schema.Decode(payload, port, metadata), nil
}

// EncodeJSON parses a JSON object into a Record and encodes it against
// schema, returning the resulting payload hex-encoded by the caller.
func EncodeJSON(schema *schemacodec.Schema, recordJSON string, port *int) (*schemacodec.EncodeResult, error) {
	var rec schemacodec.Record
	if err := json.Unmarshal([]byte(recordJSON), &rec); err != nil {
		return nil, fmt.Errorf("parse record json: %w", err)
	}
	return schema.Encode(rec, port), nil
}

// FanOutResult pairs one payload's decode outcome with its index so
// results can be reassembled in input order after concurrent decoding.
type FanOutResult struct {
	Index  int
	Result *schemacodec.DecodeResult
}

// FanOutDecode decodes every payload in payloadsHex concurrently against the
// same schema value. Schema carries no mutable state after construction, so
// every goroutine reads it without locking; each goroutine gets its own
// decodeCtx internally. A malformed hex string fails the whole batch, same
// as any other argument error a devtool command would report up front.
func FanOutDecode(ctx context.Context, schema *schemacodec.Schema, payloadsHex []string, port *int) ([]*schemacodec.DecodeResult, error) {
	results := make([]*schemacodec.DecodeResult, len(payloadsHex))

	g, ctx := errgroup.WithContext(ctx)
	for i, ph := range payloadsHex {
		i, ph := i, ph
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			payload, err := hex.DecodeString(ph)
			if err != nil {
				return fmt.Errorf("payload %d: decode hex: %w", i, err)
			}
			results[i] = schema.Decode(payload, port, nil)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// PackBinary serializes schema into the compact wire format, returning it
// base64-encoded for easy shell handling, or hex-encoded in the v1 form
// when v1 is set.
func PackBinary(schema *schemacodec.Schema, checksum bool, v1 bool) (string, []string, error) {
	var opts []schemacodec.BinarySchemaOption
	if checksum {
		opts = append(opts, schemacodec.WithChecksum())
	}
	if v1 {
		return packV1(schema, opts)
	}
	return schemacodec.EncodeBinarySchemaBase64(schema, opts...)
}

func packV1(schema *schemacodec.Schema, opts []schemacodec.BinarySchemaOption) (string, []string, error) {
	if len(schema.Fields) == 0 {
		return "", nil, fmt.Errorf("v1 packing requires a flat leaf-only field list")
	}
	data, warnings, err := schemacodec.EncodeBinarySchema(schema, opts...)
	if err != nil {
		return "", warnings, err
	}
	if len(data) == 0 || data[0] != 1 {
		return "", warnings, fmt.Errorf("v1 packing requires a flat leaf-only field list")
	}
	return hex.EncodeToString(data), warnings, nil
}

// UnpackBinary decodes a base64 compact binary schema and returns its
// decoded field descriptors.
func UnpackBinary(encoded string) (*schemacodec.BinarySchemaDoc, error) {
	return schemacodec.DecodeBinarySchemaBase64(encoded)
}
