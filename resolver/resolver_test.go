package resolver

import (
	"context"
	"testing"

	"github.com/stagecraft/stagecraft/model"
	"github.com/stretchr/testify/require"
)

type fakeLocator struct {
	instances map[string]*model.ProcessInstance
}

func (f *fakeLocator) LatestByRootAndKey(ctx context.Context, rootId string, definitionKey string) (*model.ProcessInstance, error) {
	instance, ok := f.instances[definitionKey]
	if !ok {
		return nil, model.NotFoundError{Entity: "instance", ID: definitionKey}
	}
	return instance, nil
}

func orderInstance() *model.ProcessInstance {
	return &model.ProcessInstance{
		ID:                    "inst-1",
		ProcessDefinitionKey:  "order-fulfilment",
		RootProcessInstanceID: "inst-1",
		Parameters:            map[string]any{"orderId": "o-42", "amount": 150.0},
		Stages: []*model.StageInstance{
			{
				StageDef: model.StageDef{Key: "pack"},
				ID:       "stage-1",
				Status:   model.STAGE_COMPLETED,
				Data:     map[string]any{"trackingId": "trk-9"},
			},
		},
		StageIndex: map[string]int{"pack": 0},
	}
}

func TestResolve(t *testing.T) {
	billing := &model.ProcessInstance{
		ID:                    "inst-2",
		ProcessDefinitionKey:  "billing",
		RootProcessInstanceID: "inst-1",
		Parameters:            map[string]any{"invoiceId": "inv-7"},
		StageIndex:            map[string]int{},
	}
	locator := &fakeLocator{instances: map[string]*model.ProcessInstance{"billing": billing}}
	r := NewResolver(locator)
	instance := orderInstance()
	ctx := context.Background()

	for scenario, fn := range map[string]func(t *testing.T){
		"literal passes through": func(t *testing.T) {
			value, ok := r.Resolve(ctx, instance, 42)
			require.True(t, ok)
			require.Equal(t, 42, value)

			value, ok = r.Resolve(ctx, instance, "plain")
			require.True(t, ok)
			require.Equal(t, "plain", value)
		},
		"instance field": func(t *testing.T) {
			value, ok := r.Resolve(ctx, instance, "$[parameters.orderId]")
			require.True(t, ok)
			require.Equal(t, "o-42", value)
		},
		"stage field": func(t *testing.T) {
			value, ok := r.Resolve(ctx, instance, "$[<pack>._data.trackingId]")
			require.True(t, ok)
			require.Equal(t, "trk-9", value)
		},
		"remote field": func(t *testing.T) {
			value, ok := r.Resolve(ctx, instance, "$[(billing).parameters.invoiceId]")
			require.True(t, ok)
			require.Equal(t, "inv-7", value)
		},
		"missing remote fails open": func(t *testing.T) {
			value, ok := r.Resolve(ctx, instance, "$[(shipping).parameters.carrier]")
			require.True(t, ok)
			require.Equal(t, map[string]any{}, value)
		},
		"unknown stage keeps raw": func(t *testing.T) {
			value, ok := r.Resolve(ctx, instance, "$[<ship>._data.x]")
			require.False(t, ok)
			require.Equal(t, "$[<ship>._data.x]", value)
		},
		"unknown field keeps raw": func(t *testing.T) {
			value, ok := r.Resolve(ctx, instance, "$[parameters.missing]")
			require.False(t, ok)
			require.Equal(t, "$[parameters.missing]", value)
		},
	} {
		t.Run(scenario, fn)
	}
}

func TestResolveTokens(t *testing.T) {
	r := NewResolver(&fakeLocator{instances: map[string]*model.ProcessInstance{}})
	instance := orderInstance()
	ctx := context.Background()

	resolved := r.ResolveTokens(ctx, instance, map[string]any{
		"amount":  "$[parameters.amount]",
		"label":   "order $[parameters.orderId] shipped",
		"nested":  map[string]any{"tracking": "$[<pack>._data.trackingId]"},
		"list":    []any{"$[parameters.orderId]", "literal"},
		"untouch": true,
	})

	out, ok := resolved.(map[string]any)
	require.True(t, ok)
	require.Equal(t, 150.0, out["amount"])
	require.Equal(t, "order o-42 shipped", out["label"])
	require.Equal(t, "trk-9", out["nested"].(map[string]any)["tracking"])
	require.Equal(t, "o-42", out["list"].([]any)[0])
	require.Equal(t, "literal", out["list"].([]any)[1])
	require.Equal(t, true, out["untouch"])

	// unresolved embedded tokens stay verbatim
	kept := r.ResolveTokens(ctx, instance, "ref $[parameters.missing] here")
	require.Equal(t, "ref $[parameters.missing] here", kept)
}
