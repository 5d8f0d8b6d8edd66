package schemacodec

import (
	"context"
	"math"
	"testing"

	"golang.org/x/sync/errgroup"
)

// TestConcurrentDecodeAgainstSharedSchema exercises the concurrency
// contract: a single Schema value, built once, serves any number of
// simultaneous Decode calls without locking because every call gets its own
// decodeCtx and varEnv. errgroup fans the calls out and surfaces the first
// error, same shape as a real ingestion pipeline decoding a batch of
// messages for one device type concurrently.
func TestConcurrentDecodeAgainstSharedSchema(t *testing.T) {
	schema, err := New(map[string]any{
		"name":   "concurrent",
		"fields": []any{map[string]any{"name": "t", "type": "s16", "mult": 0.01}},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	const workers = 64
	results := make([]float64, workers)

	g, _ := errgroup.WithContext(context.Background())
	for i := 0; i < workers; i++ {
		i := i
		g.Go(func() error {
			res := schema.Decode([]byte{0x09, 0x29}, nil, nil)
			if !res.Ok() {
				return res.Errors[0]
			}
			results[i] = res.Record["t"].(float64)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent decode: %v", err)
	}

	for i, v := range results {
		if math.Abs(v-23.45) > 1e-9 {
			t.Fatalf("worker %d decoded %v, want 23.45", i, v)
		}
	}
}
