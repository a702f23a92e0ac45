package condition

import (
	"context"
	"testing"

	"github.com/stagecraft/stagecraft/model"
	"github.com/stagecraft/stagecraft/resolver"
	"github.com/stretchr/testify/require"
)

type emptyLocator struct{}

func (emptyLocator) LatestByRootAndKey(ctx context.Context, rootId string, definitionKey string) (*model.ProcessInstance, error) {
	return nil, model.NotFoundError{Entity: "instance", ID: definitionKey}
}

func paymentInstance() *model.ProcessInstance {
	return &model.ProcessInstance{
		ID:                    "inst-1",
		ProcessDefinitionKey:  "payment",
		RootProcessInstanceID: "inst-1",
		Parameters:            map[string]any{"amount": 150.0, "currency": "EUR"},
		StageIndex:            map[string]int{},
	}
}

func gatewayStage(conditions ...model.Condition) *model.StageInstance {
	return &model.StageInstance{
		StageDef: model.StageDef{
			Key:        "route",
			Type:       model.STAGE_TYPE_GATEWAY,
			SubType:    model.SUB_TYPE_EXCLUSIVE,
			Conditions: conditions,
		},
	}
}

func TestEvaluate(t *testing.T) {
	e := NewEvaluator(resolver.NewResolver(emptyLocator{}))
	instance := paymentInstance()
	ctx := context.Background()

	for scenario, fn := range map[string]func(t *testing.T){
		"operator synonyms": func(t *testing.T) {
			for _, op := range []string{">", "gt", "greater", "Greater-Than", "GREATERTHAN"} {
				stage := gatewayStage(model.Condition{
					Name:        "large",
					Expressions: []model.Expression{{Lhs: "$[parameters.amount]", Op: op, Rhs: 100}},
				})
				conds, err := e.Evaluate(ctx, instance, stage)
				require.NoError(t, err)
				require.True(t, conds[0].Expressions[0].Valid, op)
			}
		},
		"numeric string comparison": func(t *testing.T) {
			stage := gatewayStage(model.Condition{
				Expressions: []model.Expression{{Lhs: "150", Op: "==", Rhs: 150.0}},
			})
			conds, err := e.Evaluate(ctx, instance, stage)
			require.NoError(t, err)
			require.True(t, conds[0].Expressions[0].Valid)
		},
		"string comparison": func(t *testing.T) {
			stage := gatewayStage(model.Condition{
				Expressions: []model.Expression{{Lhs: "$[parameters.currency]", Op: "eq", Rhs: "EUR"}},
			})
			conds, err := e.Evaluate(ctx, instance, stage)
			require.NoError(t, err)
			require.True(t, conds[0].Expressions[0].Valid)
			require.Equal(t, "EUR", conds[0].Expressions[0].LhsValue)
		},
		"and combinator": func(t *testing.T) {
			stage := gatewayStage(model.Condition{
				Expressions: []model.Expression{
					{Lhs: "$[parameters.amount]", Op: ">", Rhs: 100},
					{Lhs: "$[parameters.currency]", Op: "==", Rhs: "USD"},
				},
			})
			conds, err := e.Evaluate(ctx, instance, stage)
			require.NoError(t, err)
			require.False(t, conds[0].AllValid)
			require.True(t, conds[0].AnyValid)
		},
		"empty condition is never valid": func(t *testing.T) {
			stage := gatewayStage(model.Condition{Name: "empty"})
			conds, err := e.Evaluate(ctx, instance, stage)
			require.NoError(t, err)
			require.False(t, conds[0].AllValid)
			require.False(t, conds[0].AnyValid)
		},
		"unknown operator": func(t *testing.T) {
			stage := gatewayStage(model.Condition{
				Expressions: []model.Expression{{Lhs: 1, Op: "~=", Rhs: 1}},
			})
			_, err := e.Evaluate(ctx, instance, stage)
			require.Error(t, err)
			_, ok := err.(model.ExpressionError)
			require.True(t, ok)
		},
		"both operands unresolved": func(t *testing.T) {
			stage := gatewayStage(model.Condition{
				Expressions: []model.Expression{{Lhs: "$[parameters.a]", Op: "==", Rhs: "$[parameters.b]"}},
			})
			_, err := e.Evaluate(ctx, instance, stage)
			require.Error(t, err)
			_, ok := err.(model.ExpressionError)
			require.True(t, ok)
		},
	} {
		t.Run(scenario, fn)
	}
}
