package gateway

import (
	"context"
	"testing"

	"github.com/stagecraft/stagecraft/condition"
	"github.com/stagecraft/stagecraft/model"
	"github.com/stagecraft/stagecraft/resolver"
	"github.com/stretchr/testify/require"
)

type treeLocator struct {
	instances map[string]*model.ProcessInstance
}

func (f *treeLocator) LatestByRootAndKey(ctx context.Context, rootId string, definitionKey string) (*model.ProcessInstance, error) {
	instance, ok := f.instances[definitionKey]
	if !ok {
		return nil, model.NotFoundError{Entity: "instance", ID: definitionKey}
	}
	return instance, nil
}

func newTestRouter(locator resolver.InstanceLocator) *Router {
	res := resolver.NewResolver(locator)
	return NewRouter(condition.NewEvaluator(res), locator)
}

func claimInstance(amount float64) *model.ProcessInstance {
	gatewayStage := &model.StageInstance{
		StageDef: model.StageDef{
			Key:        "route",
			Type:       model.STAGE_TYPE_GATEWAY,
			SubType:    model.SUB_TYPE_EXCLUSIVE,
			NextStages: []string{"manual-review"},
			Conditions: []model.Condition{
				{
					Name:            "auto-approve",
					Expressions:     []model.Expression{{Lhs: "$[parameters.amount]", Op: "<=", Rhs: 100}},
					OnTrueNextStage: "approve",
				},
			},
		},
		ID:     "stage-route",
		Status: model.STAGE_ACTIVE,
	}
	return &model.ProcessInstance{
		ID:                    "inst-1",
		ProcessDefinitionKey:  "claim",
		RootProcessInstanceID: "inst-1",
		Parameters:            map[string]any{"amount": amount},
		Stages:                []*model.StageInstance{gatewayStage},
		StageIndex:            map[string]int{"route": 0},
	}
}

func TestRouteExclusive(t *testing.T) {
	r := newTestRouter(&treeLocator{instances: map[string]*model.ProcessInstance{}})
	ctx := context.Background()

	instance := claimInstance(50)
	decision, err := r.Route(ctx, instance, instance.Stages[0])
	require.NoError(t, err)
	require.True(t, decision.Routed)
	require.Equal(t, []string{"approve"}, decision.NextStages)
	require.True(t, decision.Conditions[0].AllValid)

	instance = claimInstance(150)
	decision, err = r.Route(ctx, instance, instance.Stages[0])
	require.NoError(t, err)
	require.True(t, decision.Routed)
	require.Equal(t, []string{"manual-review"}, decision.NextStages)
}

func TestRouteExclusiveSkipsFailedConditions(t *testing.T) {
	r := newTestRouter(&treeLocator{instances: map[string]*model.ProcessInstance{}})
	instance := claimInstance(150)
	stage := instance.Stages[0]
	stage.Conditions = []model.Condition{
		{
			Name:             "vip",
			Expressions:      []model.Expression{{Lhs: "$[parameters.amount]", Op: ">", Rhs: 1000}},
			OnTrueNextStage:  "fast-track",
			OnFalseNextStage: "reject",
		},
		{
			Name:            "big",
			Expressions:     []model.Expression{{Lhs: "$[parameters.amount]", Op: ">", Rhs: 100}},
			OnTrueNextStage: "big",
		},
	}

	// a failed condition is skipped, it never short-circuits the scan
	decision, err := r.Route(context.Background(), instance, stage)
	require.NoError(t, err)
	require.True(t, decision.Routed)
	require.Equal(t, []string{"big"}, decision.NextStages)

	// with every condition failed the gateway falls back to its own nextStages
	instance = claimInstance(50)
	instance.Stages[0].Conditions = []model.Condition{
		{
			Name:             "vip",
			Expressions:      []model.Expression{{Lhs: "$[parameters.amount]", Op: ">", Rhs: 1000}},
			OnTrueNextStage:  "fast-track",
			OnFalseNextStage: "reject",
		},
	}
	decision, err = r.Route(context.Background(), instance, instance.Stages[0])
	require.NoError(t, err)
	require.True(t, decision.Routed)
	require.Equal(t, []string{"manual-review"}, decision.NextStages)
}

func TestRouteExclusiveBadExpressionUsesDefault(t *testing.T) {
	r := newTestRouter(&treeLocator{instances: map[string]*model.ProcessInstance{}})
	instance := claimInstance(50)
	instance.Stages[0].Conditions[0].Expressions[0].Op = "~="

	decision, err := r.Route(context.Background(), instance, instance.Stages[0])
	require.NoError(t, err)
	require.True(t, decision.Routed)
	require.Equal(t, []string{"manual-review"}, decision.NextStages)
}

func TestRouteInclusive(t *testing.T) {
	r := newTestRouter(&treeLocator{instances: map[string]*model.ProcessInstance{}})
	instance := claimInstance(50)
	stage := instance.Stages[0]
	stage.SubType = model.SUB_TYPE_INCLUSIVE
	stage.Conditions = append(stage.Conditions, model.Condition{
		Name:            "notify",
		Expressions:     []model.Expression{{Lhs: "$[parameters.amount]", Op: ">", Rhs: 10}},
		OnTrueNextStage: "notify",
	})

	decision, err := r.Route(context.Background(), instance, stage)
	require.NoError(t, err)
	require.True(t, decision.Routed)
	require.Equal(t, []string{"approve", "notify"}, decision.NextStages)
}

func TestRouteParallelJoin(t *testing.T) {
	join := &model.StageInstance{
		StageDef: model.StageDef{
			Key:        "join",
			Type:       model.STAGE_TYPE_GATEWAY,
			SubType:    model.SUB_TYPE_PARALLEL,
			NextStages: []string{"finish"},
		},
		ID:     "stage-join",
		Status: model.STAGE_ACTIVE,
	}
	packed := &model.StageInstance{
		StageDef: model.StageDef{Key: "pack", NextStages: []string{"join"}},
		ID:       "stage-pack",
		Status:   model.STAGE_COMPLETED,
	}
	billed := &model.StageInstance{
		StageDef: model.StageDef{Key: "bill", NextStages: []string{"join"}},
		ID:       "stage-bill",
		Status:   model.STAGE_ACTIVE,
	}
	instance := &model.ProcessInstance{
		ID:                    "inst-1",
		RootProcessInstanceID: "inst-1",
		Stages:                []*model.StageInstance{packed, billed, join},
		StageIndex:            map[string]int{"pack": 0, "bill": 1, "join": 2},
	}
	r := newTestRouter(&treeLocator{instances: map[string]*model.ProcessInstance{}})

	decision, err := r.Route(context.Background(), instance, join)
	require.NoError(t, err)
	require.False(t, decision.Routed)

	billed.Status = model.STAGE_ERROR
	decision, err = r.Route(context.Background(), instance, join)
	require.NoError(t, err)
	require.True(t, decision.Routed)
	require.Equal(t, []string{"finish"}, decision.NextStages)
}

func TestRouteDependency(t *testing.T) {
	billing := &model.ProcessInstance{
		ID:                    "inst-2",
		ProcessDefinitionKey:  "billing",
		RootProcessInstanceID: "inst-1",
		Stages: []*model.StageInstance{
			{StageDef: model.StageDef{Key: "charge"}, ID: "stage-charge", Status: model.STAGE_ACTIVE},
		},
		StageIndex: map[string]int{"charge": 0},
	}
	locator := &treeLocator{instances: map[string]*model.ProcessInstance{"billing": billing}}
	r := newTestRouter(locator)

	gate := &model.StageInstance{
		StageDef: model.StageDef{
			Key:        "after-billing",
			Type:       model.STAGE_TYPE_GATEWAY,
			SubType:    model.SUB_TYPE_DEPENDENCY,
			NextStages: []string{"ship"},
			Dependencies: []model.Dependency{
				{ProcessDefinitionKey: "billing", StageKey: "charge"},
			},
		},
		ID:     "stage-gate",
		Status: model.STAGE_ACTIVE,
	}
	instance := &model.ProcessInstance{
		ID:                    "inst-1",
		ProcessDefinitionKey:  "order",
		RootProcessInstanceID: "inst-1",
		Stages:                []*model.StageInstance{gate},
		StageIndex:            map[string]int{"after-billing": 0},
	}
	ctx := context.Background()

	decision, err := r.Route(ctx, instance, gate)
	require.NoError(t, err)
	require.False(t, decision.Routed)

	billing.Stages[0].Status = model.STAGE_COMPLETED
	decision, err = r.Route(ctx, instance, gate)
	require.NoError(t, err)
	require.True(t, decision.Routed)
	require.Equal(t, []string{"ship"}, decision.NextStages)

	// obligation on a definition the tree never ran stays unsatisfied
	gate.Dependencies = []model.Dependency{{ProcessDefinitionKey: "shipping", StageKey: "x"}}
	decision, err = r.Route(ctx, instance, gate)
	require.NoError(t, err)
	require.False(t, decision.Routed)
}
