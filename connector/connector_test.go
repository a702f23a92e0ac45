package connector

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stagecraft/stagecraft/model"
	"github.com/stagecraft/stagecraft/resolver"
	"github.com/stretchr/testify/require"
)

type noTreeLocator struct{}

func (noTreeLocator) LatestByRootAndKey(ctx context.Context, rootId string, definitionKey string) (*model.ProcessInstance, error) {
	return nil, model.NotFoundError{Entity: "instance", ID: definitionKey}
}

type recordingConnector struct {
	calls    int
	failures int
	config   map[string]any
	params   map[string]any
}

func (r *recordingConnector) Type() model.ConnectorType {
	return model.CONNECTOR_TYPE_REST
}

func (r *recordingConnector) Call(ctx context.Context, config map[string]any, parameters map[string]any) (any, error) {
	r.calls++
	r.config = config
	r.params = parameters
	if r.calls <= r.failures {
		return nil, fmt.Errorf("attempt %d failed", r.calls)
	}
	return "done", nil
}

func dispatchInstance() *model.ProcessInstance {
	return &model.ProcessInstance{
		ID:                    "inst-1",
		ProcessDefinitionKey:  "order",
		RootProcessInstanceID: "inst-1",
		Parameters:            map[string]any{"orderId": "o-7"},
		StageIndex:            map[string]int{},
	}
}

func TestDispatchResolvesTokens(t *testing.T) {
	rec := &recordingConnector{}
	d := NewDispatcher(resolver.NewResolver(noTreeLocator{}), rec)
	stage := &model.StageInstance{
		StageDef: model.StageDef{
			Key: "ship",
			Connector: &model.Connector{
				Type:   model.CONNECTOR_TYPE_REST,
				Config: map[string]any{"url": "http://shipping.local/orders/$[parameters.orderId]"},
			},
		},
		Parameters: map[string]any{"ref": "$[parameters.orderId]"},
	}

	data, resolved, err := d.Dispatch(context.Background(), dispatchInstance(), stage)
	require.NoError(t, err)
	require.Equal(t, "done", data)
	require.Equal(t, "http://shipping.local/orders/o-7", rec.config["url"])
	require.Equal(t, "o-7", rec.params["ref"])
	require.Equal(t, "http://shipping.local/orders/o-7", resolved.Config["url"])
	// the stage's own spec keeps its unresolved template
	require.Equal(t, "http://shipping.local/orders/$[parameters.orderId]", stage.Connector.Config["url"])
}

func TestDispatchRetriesFixedDelay(t *testing.T) {
	rec := &recordingConnector{failures: 2}
	d := NewDispatcher(resolver.NewResolver(noTreeLocator{}), rec)
	stage := &model.StageInstance{
		StageDef: model.StageDef{
			Key: "ship",
			Connector: &model.Connector{
				Type:            model.CONNECTOR_TYPE_REST,
				Config:          map[string]any{"url": "http://shipping.local"},
				Retry:           true,
				Retries:         3,
				RetryIntervalMs: 1,
			},
		},
	}

	data, _, err := d.Dispatch(context.Background(), dispatchInstance(), stage)
	require.NoError(t, err)
	require.Equal(t, "done", data)
	require.Equal(t, 3, rec.calls)
}

func TestDispatchExhaustedRetries(t *testing.T) {
	rec := &recordingConnector{failures: 10}
	d := NewDispatcher(resolver.NewResolver(noTreeLocator{}), rec)
	stage := &model.StageInstance{
		StageDef: model.StageDef{
			Key: "ship",
			Connector: &model.Connector{
				Type:            model.CONNECTOR_TYPE_REST,
				Config:          map[string]any{"url": "http://shipping.local"},
				Retry:           true,
				Retries:         1,
				RetryIntervalMs: 1,
			},
		},
	}

	_, _, err := d.Dispatch(context.Background(), dispatchInstance(), stage)
	require.Error(t, err)
	var connectorErr model.ConnectorError
	require.True(t, errors.As(err, &connectorErr))
	require.Equal(t, 2, rec.calls)
}

func TestDispatchUnknownType(t *testing.T) {
	d := NewDispatcher(resolver.NewResolver(noTreeLocator{}))
	stage := &model.StageInstance{
		StageDef: model.StageDef{
			Key:       "ship",
			Connector: &model.Connector{Type: model.CONNECTOR_TYPE_RPC},
		},
	}
	_, _, err := d.Dispatch(context.Background(), dispatchInstance(), stage)
	require.Error(t, err)
	var connectorErr model.ConnectorError
	require.True(t, errors.As(err, &connectorErr))
}
