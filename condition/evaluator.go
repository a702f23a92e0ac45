package condition

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/stagecraft/stagecraft/model"
	"github.com/stagecraft/stagecraft/resolver"
)

type comparator string

const (
	opEquals         comparator = "equals"
	opNotEquals      comparator = "not-equals"
	opGreater        comparator = "greater"
	opLess           comparator = "less"
	opGreaterOrEqual comparator = "greater-or-equal"
	opLessOrEqual    comparator = "less-or-equal"
)

// operators maps every accepted spelling, lowercased, to its comparator.
var operators = map[string]comparator{
	"=": opEquals, "==": opEquals, "===": opEquals, "eq": opEquals, "equal": opEquals, "equals": opEquals,
	"!=": opNotEquals, "!==": opNotEquals, "<>": opNotEquals, "ne": opNotEquals, "neq": opNotEquals, "not-equals": opNotEquals, "notequals": opNotEquals,
	">": opGreater, "gt": opGreater, "greater": opGreater, "greater-than": opGreater, "greaterthan": opGreater,
	"<": opLess, "lt": opLess, "less": opLess, "less-than": opLess, "lessthan": opLess,
	">=": opGreaterOrEqual, "gte": opGreaterOrEqual, "ge": opGreaterOrEqual, "greater-than-equals": opGreaterOrEqual, "greater-or-equal": opGreaterOrEqual,
	"<=": opLessOrEqual, "lte": opLessOrEqual, "le": opLessOrEqual, "less-than-equals": opLessOrEqual, "less-or-equal": opLessOrEqual,
}

type Evaluator struct {
	resolver *resolver.Resolver
}

func NewEvaluator(r *resolver.Resolver) *Evaluator {
	return &Evaluator{resolver: r}
}

// Evaluate resolves and compares every expression of every condition on the
// gateway stage and returns an evaluated copy. On an unrecognized operator
// or an expression with both operands unresolved, the original conditions
// are returned untouched together with an ExpressionError; the caller is
// expected to fall through to the gateway's default route.
func (e *Evaluator) Evaluate(ctx context.Context, instance *model.ProcessInstance, stage *model.StageInstance) ([]model.Condition, error) {
	out := make([]model.Condition, len(stage.Conditions))
	for ci, cond := range stage.Conditions {
		evaluated := cond
		evaluated.Expressions = make([]model.Expression, len(cond.Expressions))
		allValid := len(cond.Expressions) > 0
		anyValid := false
		for xi, expr := range cond.Expressions {
			result, err := e.evaluateExpression(ctx, instance, expr)
			if err != nil {
				return stage.Conditions, err
			}
			evaluated.Expressions[xi] = result
			allValid = allValid && result.Valid
			anyValid = anyValid || result.Valid
		}
		evaluated.AllValid = allValid
		evaluated.AnyValid = anyValid
		out[ci] = evaluated
	}
	return out, nil
}

func (e *Evaluator) evaluateExpression(ctx context.Context, instance *model.ProcessInstance, expr model.Expression) (model.Expression, error) {
	op, ok := operators[strings.ToLower(strings.TrimSpace(expr.Op))]
	if !ok {
		return expr, model.ExpressionError{Message: fmt.Sprintf("unknown operator %q", expr.Op)}
	}
	lhs, lhsOk := e.resolver.Resolve(ctx, instance, expr.Lhs)
	rhs, rhsOk := e.resolver.Resolve(ctx, instance, expr.Rhs)
	if !lhsOk && !rhsOk {
		return expr, model.ExpressionError{Message: fmt.Sprintf("both operands unresolved: %v %s %v", expr.Lhs, expr.Op, expr.Rhs)}
	}
	expr.LhsValue = lhs
	expr.RhsValue = rhs
	expr.Valid = compare(op, lhs, rhs)
	return expr, nil
}

func compare(op comparator, lhs, rhs any) bool {
	lnum, lok := toNumber(lhs)
	rnum, rok := toNumber(rhs)
	if lok && rok {
		switch op {
		case opEquals:
			return lnum == rnum
		case opNotEquals:
			return lnum != rnum
		case opGreater:
			return lnum > rnum
		case opLess:
			return lnum < rnum
		case opGreaterOrEqual:
			return lnum >= rnum
		case opLessOrEqual:
			return lnum <= rnum
		}
	}
	switch op {
	case opEquals:
		return reflect.DeepEqual(lhs, rhs) || fmt.Sprint(lhs) == fmt.Sprint(rhs)
	case opNotEquals:
		return !reflect.DeepEqual(lhs, rhs) && fmt.Sprint(lhs) != fmt.Sprint(rhs)
	case opGreater:
		return fmt.Sprint(lhs) > fmt.Sprint(rhs)
	case opLess:
		return fmt.Sprint(lhs) < fmt.Sprint(rhs)
	case opGreaterOrEqual:
		return fmt.Sprint(lhs) >= fmt.Sprint(rhs)
	case opLessOrEqual:
		return fmt.Sprint(lhs) <= fmt.Sprint(rhs)
	}
	return false
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
