package schemacodec

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransformPipelineAppliesInOrder(t *testing.T) {
	// (9 -> sqrt -> 3) * 10 + 2 = 32; the reverse order would give sqrt(92).
	ops := []Transform{
		{Kind: XformSqrt},
		{Kind: XformMult, Arg: 10},
		{Kind: XformAdd, Arg: 2},
	}
	assert.InDelta(t, 32, applyTransformPipeline(9, ops), 1e-9)
}

// Out-of-domain inputs clamp to the nearest defined value instead of
// producing NaN or infinities.
func TestTransformDomainClamping(t *testing.T) {
	assert.Equal(t, 0.0, applyTransformPipeline(-4, []Transform{{Kind: XformSqrt}}))
	assert.InDelta(t, -10, applyTransformPipeline(-1, []Transform{{Kind: XformLog10}}), 1e-9)
	assert.InDelta(t, math.Log(1e-10), applyTransformPipeline(0, []Transform{{Kind: XformLog}}), 1e-9)
}

func TestTransformBoundsAndRounding(t *testing.T) {
	assert.Equal(t, 5.0, applyTransformPipeline(3, []Transform{{Kind: XformFloor, Arg: 5}}))
	assert.Equal(t, 5.0, applyTransformPipeline(9, []Transform{{Kind: XformCeiling, Arg: 5}}))
	assert.Equal(t, 0.0, applyTransformPipeline(-3, []Transform{{Kind: XformClamp, Range: [2]float64{0, 100}}}))
	assert.Equal(t, 100.0, applyTransformPipeline(250, []Transform{{Kind: XformClamp, Range: [2]float64{0, 100}}}))
	assert.Equal(t, 3.14, applyTransformPipeline(3.14159, []Transform{{Kind: XformRound, Round: 2}}))
	assert.Equal(t, 4.0, applyTransformPipeline(-4, []Transform{{Kind: XformAbs}}))
	assert.Equal(t, 8.0, applyTransformPipeline(2, []Transform{{Kind: XformPow, Arg: 3}}))
}

// A zero div operand leaves the value untouched rather than dividing by zero.
func TestTransformDivByZeroIsIdentity(t *testing.T) {
	assert.Equal(t, 7.0, applyTransformPipeline(7, []Transform{{Kind: XformDiv, Arg: 0}}))
}

// The invertible subset of a pipeline reverses exactly; lossy steps are left
// alone, which is all the encode path relies on.
func TestReverseTransformPipelineInvertsArithmetic(t *testing.T) {
	ops := []Transform{
		{Kind: XformMult, Arg: 10},
		{Kind: XformAdd, Arg: 2},
		{Kind: XformDiv, Arg: 4},
	}
	forward := applyTransformPipeline(3, ops)
	assert.InDelta(t, 3, reverseTransformPipeline(forward, ops), 1e-9)

	sq := []Transform{{Kind: XformSqrt}}
	assert.InDelta(t, 16, reverseTransformPipeline(applyTransformPipeline(16, sq), sq), 1e-9)
}

// A leaf's transform pipeline runs after its modifier chain on decode.
func TestLeafTransformRunsAfterModifiers(t *testing.T) {
	s := mustBuild(t, map[string]any{
		"name": "xform",
		"fields": []any{
			map[string]any{
				"name": "rssi", "type": "u8", "mult": 2,
				"transform": []any{
					map[string]any{"clamp": []any{0, 100}},
				},
			},
		},
	})
	res := s.Decode([]byte{80}, nil, nil) // 80*2 = 160 -> clamp 100
	if !res.Ok() {
		t.Fatalf("decode errors: %v", res.Errors)
	}
	assert.Equal(t, 100.0, res.Record["rssi"])
}
