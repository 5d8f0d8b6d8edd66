package schemacodec

import "math"

// decodeComputed evaluates a ComputedField against the variables gathered
// so far and returns its published value. Computed fields never consume
// cursor bytes; they only read the variable environment populated by
// preceding leaves.
func decodeComputed(ctx *decodeCtx, c *ComputedField) (any, error) {
	if c.Guard != nil {
		if !evalGuard(ctx.env, c.Guard) {
			v := c.Guard.Else
			if !c.Guard.ElseSet {
				v = math.NaN()
			}
			return v, nil
		}
	}

	var value float64
	switch c.SourceKind {
	case ComputedRef:
		f, ok := ctx.env.getFloat(c.RefName)
		if !ok {
			return nil, errReferenceNotFound("computed field %q references unknown variable %q", c.Name, c.RefName)
		}
		if len(c.Polynomial) > 0 {
			value = evalPolynomial(c.Polynomial, f)
		} else {
			value = f
		}

	case ComputedOp:
		a, err := resolveOperand(ctx.env, c.Name, c.A)
		if err != nil {
			return nil, err
		}
		b, err := resolveOperand(ctx.env, c.Name, c.B)
		if err != nil {
			return nil, err
		}
		value = applyComputeOp(c.Op, a, b)

	case ComputedValue:
		value = c.Literal

	case ComputedFormula:
		f, err := evalFormula(c.Formula, 0, ctx.env)
		if err != nil {
			ctx.warn("computed field %s: %v", c.Name, err)
			value = math.NaN()
		} else {
			value = f
		}
	}

	return applyTransformPipeline(value, c.Transform), nil
}

func resolveOperand(env *varEnv, field string, op Operand) (float64, error) {
	if !op.IsRef {
		return op.Lit, nil
	}
	f, ok := env.getFloat(op.Ref)
	if !ok {
		return 0, errReferenceNotFound("computed field %q references unknown variable %q", field, op.Ref)
	}
	return f, nil
}

func applyComputeOp(op ComputeOp, a, b float64) float64 {
	switch op {
	case OpAdd:
		return a + b
	case OpSub:
		return a - b
	case OpMul:
		return a * b
	case OpDiv:
		if b == 0 {
			return math.NaN()
		}
		return a / b
	case OpMod:
		if b == 0 {
			return math.NaN()
		}
		return math.Mod(a, b)
	case OpIDiv:
		if b == 0 {
			return math.NaN()
		}
		return math.Trunc(a / b)
	}
	return math.NaN()
}

// evalGuard reports whether every predicate in the guard's conjunction
// holds against the current variable environment. A predicate whose field
// was never decoded counts as failing, steering the guard to Else.
func evalGuard(env *varEnv, g *Guard) bool {
	for _, cond := range g.When {
		f, ok := env.getFloat(cond.Field)
		if !ok {
			return false
		}
		if !guardHolds(f, cond.Op, cond.Const) {
			return false
		}
	}
	return true
}

func guardHolds(v float64, op GuardOp, c float64) bool {
	switch op {
	case GuardGT:
		return v > c
	case GuardGTE:
		return v >= c
	case GuardLT:
		return v < c
	case GuardLTE:
		return v <= c
	case GuardEQ:
		return v == c
	case GuardNE:
		return v != c
	}
	return false
}
