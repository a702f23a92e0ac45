package connector

import (
	"context"
	"time"

	"github.com/stagecraft/stagecraft/logger"
	"github.com/stagecraft/stagecraft/model"
	"github.com/stagecraft/stagecraft/resolver"
	"go.uber.org/zap"
)

// Connector invokes one kind of external side effect.
type Connector interface {
	Type() model.ConnectorType
	Call(ctx context.Context, config map[string]any, parameters map[string]any) (any, error)
}

// Dispatcher resolves a stage's connector spec against instance state and
// invokes the matching connector with the stage's fixed-delay retry policy.
type Dispatcher struct {
	resolver   *resolver.Resolver
	connectors map[model.ConnectorType]Connector
}

func NewDispatcher(r *resolver.Resolver, connectors ...Connector) *Dispatcher {
	byType := make(map[model.ConnectorType]Connector, len(connectors))
	for _, c := range connectors {
		byType[c.Type()] = c
	}
	return &Dispatcher{resolver: r, connectors: byType}
}

// Dispatch returns the connector's response data and the resolved spec that
// was actually sent, so the caller can persist it onto the stage. Retries
// use a fixed delay, never backoff.
func (d *Dispatcher) Dispatch(ctx context.Context, instance *model.ProcessInstance, stage *model.StageInstance) (any, *model.Connector, error) {
	spec := stage.Connector
	if spec == nil {
		return nil, nil, model.ConnectorError{Type: "", Message: "stage " + stage.Key + " has no connector"}
	}
	impl, ok := d.connectors[spec.Type]
	if !ok {
		return nil, nil, model.ConnectorError{Type: spec.Type, Message: "unknown connector type"}
	}

	resolved := *spec
	if cfg, ok := d.resolver.ResolveTokens(ctx, instance, spec.Config).(map[string]any); ok {
		resolved.Config = cfg
	}
	parameters, _ := d.resolver.ResolveTokens(ctx, instance, stage.Parameters).(map[string]any)

	attempts := 1
	if resolved.Retry && resolved.Retries > 0 {
		attempts += resolved.Retries
	}
	interval := time.Duration(resolved.RetryIntervalMs) * time.Millisecond

	var data any
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		data, err = impl.Call(ctx, resolved.Config, parameters)
		if err == nil {
			return data, &resolved, nil
		}
		logger.Warn("connector call failed",
			zap.String("type", string(resolved.Type)),
			zap.String("stage", stage.Key),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt < attempts && interval > 0 {
			select {
			case <-ctx.Done():
				return nil, &resolved, model.ConnectorError{Type: resolved.Type, Message: ctx.Err().Error()}
			case <-time.After(interval):
			}
		}
	}
	return nil, &resolved, model.ConnectorError{Type: resolved.Type, Message: err.Error()}
}
