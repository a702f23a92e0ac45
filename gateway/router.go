package gateway

import (
	"context"
	"errors"

	"github.com/stagecraft/stagecraft/condition"
	"github.com/stagecraft/stagecraft/logger"
	"github.com/stagecraft/stagecraft/model"
	"github.com/stagecraft/stagecraft/resolver"
	"go.uber.org/zap"
)

// Decision is the outcome of routing one gateway stage. Routed is false
// when a join barrier is not yet satisfied; the gateway then stays active
// and is revisited on a later completion.
type Decision struct {
	NextStages []string
	Conditions []model.Condition
	Routed     bool
}

type Router struct {
	evaluator *condition.Evaluator
	locator   resolver.InstanceLocator
}

func NewRouter(evaluator *condition.Evaluator, locator resolver.InstanceLocator) *Router {
	return &Router{evaluator: evaluator, locator: locator}
}

// Route dispatches on the gateway subtype. Condition evaluation failures
// are logged and fall through to the gateway's own nextStages.
func (r *Router) Route(ctx context.Context, instance *model.ProcessInstance, stage *model.StageInstance) (Decision, error) {
	switch stage.SubType {
	case model.SUB_TYPE_EXCLUSIVE, model.SUB_TYPE_SWITCH_CASE, model.SUB_TYPE_IF_ELSE:
		return r.routeExclusive(ctx, instance, stage), nil
	case model.SUB_TYPE_INCLUSIVE:
		return r.routeInclusive(ctx, instance, stage), nil
	case model.SUB_TYPE_PARALLEL:
		return r.routeParallel(instance, stage), nil
	case model.SUB_TYPE_DEPENDENCY:
		return r.routeDependency(ctx, instance, stage)
	case model.SUB_TYPE_EVENT_BASED:
		return Decision{NextStages: stage.NextStages, Conditions: stage.Conditions, Routed: true}, nil
	default:
		return Decision{}, model.ValidationError{Message: "unsupported gateway subtype " + string(stage.SubType)}
	}
}

func (r *Router) routeExclusive(ctx context.Context, instance *model.ProcessInstance, stage *model.StageInstance) Decision {
	evaluated, err := r.evaluator.Evaluate(ctx, instance, stage)
	if err != nil {
		logger.Warn("condition evaluation failed, using default route",
			zap.String("stage", stage.Key), zap.Error(err))
		return Decision{NextStages: stage.NextStages, Conditions: stage.Conditions, Routed: true}
	}
	for _, cond := range evaluated {
		if conditionValid(cond) {
			if cond.OnTrueNextStage != "" {
				return Decision{NextStages: []string{cond.OnTrueNextStage}, Conditions: evaluated, Routed: true}
			}
			return Decision{NextStages: stage.NextStages, Conditions: evaluated, Routed: true}
		}
	}
	return Decision{NextStages: stage.NextStages, Conditions: evaluated, Routed: true}
}

func (r *Router) routeInclusive(ctx context.Context, instance *model.ProcessInstance, stage *model.StageInstance) Decision {
	evaluated, err := r.evaluator.Evaluate(ctx, instance, stage)
	if err != nil {
		logger.Warn("condition evaluation failed, using default route",
			zap.String("stage", stage.Key), zap.Error(err))
		return Decision{NextStages: stage.NextStages, Conditions: stage.Conditions, Routed: true}
	}
	var next []string
	for _, cond := range evaluated {
		if conditionValid(cond) && cond.OnTrueNextStage != "" {
			next = append(next, cond.OnTrueNextStage)
		}
	}
	if len(next) == 0 {
		next = stage.NextStages
	}
	return Decision{NextStages: next, Conditions: evaluated, Routed: true}
}

// routeParallel is a join barrier: it routes only once every upstream stage
// feeding this gateway has settled as completed or error.
func (r *Router) routeParallel(instance *model.ProcessInstance, stage *model.StageInstance) Decision {
	for _, upstream := range instance.Stages {
		if upstream.ID == stage.ID {
			continue
		}
		feeds := false
		for _, next := range upstream.NextStages {
			if next == stage.Key {
				feeds = true
				break
			}
		}
		if !feeds {
			continue
		}
		if upstream.Status != model.STAGE_COMPLETED && upstream.Status != model.STAGE_ERROR {
			return Decision{Conditions: stage.Conditions}
		}
	}
	return Decision{NextStages: stage.NextStages, Conditions: stage.Conditions, Routed: true}
}

// routeDependency is a cross-instance join: every {definitionKey, stageKey}
// obligation must be completed on the most recent instance of that
// definition within the tree.
func (r *Router) routeDependency(ctx context.Context, instance *model.ProcessInstance, stage *model.StageInstance) (Decision, error) {
	for _, dep := range stage.Dependencies {
		satisfied, err := r.dependencySatisfied(ctx, instance, dep)
		if err != nil {
			return Decision{}, err
		}
		if !satisfied {
			return Decision{Conditions: stage.Conditions}, nil
		}
	}
	return Decision{NextStages: stage.NextStages, Conditions: stage.Conditions, Routed: true}, nil
}

func (r *Router) dependencySatisfied(ctx context.Context, instance *model.ProcessInstance, dep model.Dependency) (bool, error) {
	target := instance
	if dep.ProcessDefinitionKey != "" && dep.ProcessDefinitionKey != instance.ProcessDefinitionKey {
		remote, err := r.locator.LatestByRootAndKey(ctx, instance.RootProcessInstanceID, dep.ProcessDefinitionKey)
		if err != nil {
			var nfe model.NotFoundError
			if errors.As(err, &nfe) {
				return false, nil
			}
			return false, err
		}
		target = remote
	}
	depStage := target.StageByKey(dep.StageKey)
	if depStage == nil {
		return false, nil
	}
	return depStage.Status == model.STAGE_COMPLETED, nil
}

func conditionValid(cond model.Condition) bool {
	if cond.Combinator == "or" {
		return cond.AnyValid
	}
	return cond.AllValid
}
