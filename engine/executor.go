package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stagecraft/stagecraft/compiler"
	"github.com/stagecraft/stagecraft/connector"
	"github.com/stagecraft/stagecraft/gateway"
	"github.com/stagecraft/stagecraft/logger"
	"github.com/stagecraft/stagecraft/model"
	"github.com/stagecraft/stagecraft/persistence"
	"github.com/stagecraft/stagecraft/resolver"
	"github.com/stagecraft/stagecraft/util"
	"go.uber.org/zap"
)

// DefinitionSource yields process definitions for compound-task spawning.
// Version 0 means latest.
type DefinitionSource interface {
	Get(ctx context.Context, key string, version int) (*model.ProcessDefinition, error)
}

// Trail receives lifecycle events for offline analysis. All methods must be
// safe for concurrent use.
type Trail interface {
	RecordStageCompleted(definitionKey string, instanceId string, stageKey string, status string)
	RecordFlowCompleted(definitionKey string, instanceId string)
	RecordConnectorFailure(definitionKey string, instanceId string, stageKey string, reason string)
}

// Executor is the stage lifecycle controller. Every public operation locks
// the instance tree for its whole duration, so the read-modify-write chains
// across connector calls and parent propagation never interleave within a
// tree. Independent trees run fully in parallel.
type Executor struct {
	instances    persistence.InstanceRepository
	definitions  DefinitionSource
	dispatcher   *connector.Dispatcher
	resolver     *resolver.Resolver
	router       *gateway.Router
	locks        *treeLocks
	historyLimit int
	trail        Trail
	userTasks    persistence.UserTaskRepository
}

func NewExecutor(instances persistence.InstanceRepository, definitions DefinitionSource,
	dispatcher *connector.Dispatcher, res *resolver.Resolver, router *gateway.Router, historyLimit int) *Executor {
	if historyLimit <= 0 {
		historyLimit = 20
	}
	return &Executor{
		instances:    instances,
		definitions:  definitions,
		dispatcher:   dispatcher,
		resolver:     res,
		router:       router,
		locks:        newTreeLocks(),
		historyLimit: historyLimit,
	}
}

// SetTrail attaches an optional lifecycle trail. Must be called before the
// executor starts serving requests.
func (e *Executor) SetTrail(trail Trail) {
	e.trail = trail
}

// SetUserTasks attaches an optional work-queue repository tracking
// interactive stages. Must be called before the executor starts serving
// requests.
func (e *Executor) SetUserTasks(userTasks persistence.UserTaskRepository) {
	e.userTasks = userTasks
}

// StartFlow starts a created instance from its start stage. An already
// started instance is rejected with a StateConflictError.
func (e *Executor) StartFlow(ctx context.Context, instanceId string, parameters map[string]any) error {
	unlock, instance, err := e.lockTree(ctx, instanceId)
	if err != nil {
		return err
	}
	defer unlock()
	return e.startFlow(ctx, instance, parameters, false)
}

// HandleTask applies one completion-surface request to an instance:
// complete, hold, cancel, resume, or the empty status that only saves
// parameters. Guard failures surface as StateConflictError.
func (e *Executor) HandleTask(ctx context.Context, instanceId string, req model.TaskCompletionRequest) error {
	unlock, instance, err := e.lockTree(ctx, instanceId)
	if err != nil {
		return err
	}
	defer unlock()

	switch req.Status {
	case model.ACTION_COMPLETE:
		return e.handleComplete(ctx, instance, req)
	case model.ACTION_HOLD:
		if instance.Status == model.INSTANCE_ON_HOLD {
			return model.StateConflictError{Message: "already " + string(instance.Status)}
		}
		return e.makeFlowHold(ctx, instance)
	case model.ACTION_CANCEL:
		if instance.Status == model.INSTANCE_CANCELLED {
			return model.StateConflictError{Message: "already " + string(instance.Status)}
		}
		return e.makeFlowCancel(ctx, instance)
	case model.ACTION_RESUME:
		if instance.Status == model.INSTANCE_ACTIVE {
			return model.StateConflictError{Message: "already " + string(instance.Status)}
		}
		if instance.Status != model.INSTANCE_ON_HOLD {
			return model.StateConflictError{Message: "flow is not on hold"}
		}
		return e.makeFlowResume(ctx, instance)
	case model.ACTION_SAVE:
		if instance.Status == model.INSTANCE_ON_HOLD || instance.Status == model.INSTANCE_CANCELLED {
			return model.StateConflictError{Message: "flow is in " + string(instance.Status) + " state"}
		}
		return e.saveParams(ctx, instance, req)
	default:
		return model.ValidationError{Message: "unknown task status " + string(req.Status)}
	}
}

// HandleTimer completes one expired timer stage and advances past it. A
// timer that is no longer active, or not yet due, is left untouched.
func (e *Executor) HandleTimer(ctx context.Context, ref persistence.TimerRef) error {
	unlock, instance, err := e.lockTree(ctx, ref.ProcessInstanceID)
	if err != nil {
		return err
	}
	defer unlock()

	stage := instance.StageByID(ref.StageID)
	if stage == nil {
		return model.NotFoundError{Entity: "stage", ID: ref.StageID}
	}
	if stage.SubType != model.SUB_TYPE_TIMER || stage.Status != model.STAGE_ACTIVE {
		return nil
	}
	if stage.ExpToCompleteAt > time.Now().UnixMilli() {
		return nil
	}
	stage.Status = model.STAGE_COMPLETED
	stage.TimeCompleted = time.Now().UnixMilli()
	if err := e.instances.UpdateStage(ctx, instance.ID, stage, model.STAGE_ACTIVE); err != nil {
		return err
	}
	if err := e.refreshFlags(ctx, instance); err != nil {
		return err
	}
	logger.Info("timer stage completed", zap.String("instance", instance.ID), zap.String("stage", stage.Key))
	if err := e.iterateNextStages(ctx, instance, stage.NextStages); err != nil {
		return err
	}
	return e.recheckDependencyGateways(ctx, instance.RootProcessInstanceID)
}

func (e *Executor) handleComplete(ctx context.Context, instance *model.ProcessInstance, req model.TaskCompletionRequest) error {
	if req.TaskID == "" && req.TaskKey == "" {
		return model.ValidationError{Message: "task not found"}
	}
	var stage *model.StageInstance
	if req.TaskID != "" {
		stage = instance.StageByID(req.TaskID)
	} else {
		stage = instance.StageByKey(req.TaskKey)
	}
	if stage == nil {
		return model.NotFoundError{Entity: "stage", ID: req.TaskID + req.TaskKey}
	}
	if stage.Status == model.STAGE_COMPLETED || stage.Status == model.STAGE_STARTED {
		return model.StateConflictError{Message: "already " + string(stage.Status)}
	}
	if instance.Status == model.INSTANCE_ON_HOLD || instance.Status == model.INSTANCE_CANCELLED {
		return model.StateConflictError{Message: "flow is in " + string(instance.Status) + " state"}
	}
	if stage.Status != model.STAGE_ACTIVE && stage.Status != model.STAGE_ERROR {
		return model.StateConflictError{Message: "task is not active"}
	}
	if stage.SubType == model.SUB_TYPE_END {
		return e.makeFlowEnd(ctx, instance, stage)
	}
	if stage.SubType == model.SUB_TYPE_SUB_PROCESS && stage.ProcessInstanceID != "" {
		child, err := e.instances.Get(ctx, stage.ProcessInstanceID)
		if err != nil {
			return err
		}
		if child.Status != model.INSTANCE_COMPLETED {
			return model.StateConflictError{Message: "child process instance is not completed"}
		}
	}
	if err := e.makeTaskComplete(ctx, instance, stage, &req, true); err != nil {
		return err
	}
	return e.recheckDependencyGateways(ctx, instance.RootProcessInstanceID)
}

// lockTree resolves the instance's root, locks it, and reloads the
// instance under the lock.
func (e *Executor) lockTree(ctx context.Context, instanceId string) (func(), *model.ProcessInstance, error) {
	instance, err := e.instances.Get(ctx, instanceId)
	if err != nil {
		return nil, nil, err
	}
	root := instance.RootProcessInstanceID
	e.locks.Lock(root)
	instance, err = e.instances.Get(ctx, instanceId)
	if err != nil {
		e.locks.Unlock(root)
		return nil, nil, err
	}
	return func() { e.locks.Unlock(root) }, instance, nil
}

func (e *Executor) startFlow(ctx context.Context, instance *model.ProcessInstance, parameters map[string]any, internal bool) error {
	start := instance.Stages[instance.StartIndex]
	if start.Status == model.STAGE_STARTED {
		if internal {
			logger.Error("flow already started", zap.String("instance", instance.ID))
			return nil
		}
		return model.StateConflictError{Message: "already " + string(start.Status)}
	}

	now := time.Now().UnixMilli()
	instance.Parameters = util.MergeMaps(instance.Parameters, parameters)
	instance.TimeStarted = now
	start.Status = model.STAGE_STARTED
	start.TimeCompleted = now

	var activated []*model.StageInstance
	if instance.IsParallel {
		skip := downstreamKeys(instance)
		for _, stage := range instance.Stages {
			if stage.Type == model.STAGE_TYPE_ACTIVITY && stage.Status == model.STAGE_WAITING && !skip[stage.Key] {
				stage.Status = model.STAGE_ACTIVE
				stage.TimeActivated = now
				activated = append(activated, stage)
			}
		}
	}
	if err := e.refreshFlags(ctx, instance); err != nil {
		return err
	}
	logger.Info("flow started", zap.String("instance", instance.ID), zap.String("definition", instance.ProcessDefinitionKey))
	for _, stage := range activated {
		if err := e.onStageActive(ctx, instance, stage); err != nil {
			return err
		}
	}
	return e.iterateNextStages(ctx, instance, start.NextStages)
}

// downstreamKeys collects every stage key reachable as a successor of some
// stage: activity nextStages plus gateway condition targets. Parallel
// start activates only the stages outside this set.
func downstreamKeys(instance *model.ProcessInstance) map[string]bool {
	skip := make(map[string]bool)
	for _, stage := range instance.Stages {
		switch stage.Type {
		case model.STAGE_TYPE_ACTIVITY:
			for _, key := range stage.NextStages {
				skip[key] = true
			}
		case model.STAGE_TYPE_GATEWAY:
			for _, cond := range stage.Conditions {
				if cond.OnTrueNextStage != "" {
					skip[cond.OnTrueNextStage] = true
				}
				if cond.OnFalseNextStage != "" {
					skip[cond.OnFalseNextStage] = true
				}
			}
			for _, key := range stage.NextStages {
				skip[key] = true
			}
		}
	}
	return skip
}

// goToNextStage reloads the instance and dispatches one stage by its type
// and subtype. Stages already mid-transition or auto stages already done
// are skipped, so re-entry is harmless.
func (e *Executor) goToNextStage(ctx context.Context, instanceId string, stageKey string) error {
	instance, err := e.instances.Get(ctx, instanceId)
	if err != nil {
		return err
	}
	if err := e.refreshFlags(ctx, instance); err != nil {
		return err
	}
	stage := instance.StageByKey(stageKey)
	if stage == nil {
		logger.Error("next stage not found", zap.String("instance", instanceId), zap.String("stage", stageKey))
		return nil
	}
	if stage.Status == model.STAGE_RUNNING || stage.Status == model.STAGE_STARTED {
		return nil
	}
	if stage.Status == model.STAGE_COMPLETED && stage.Auto {
		return nil
	}

	switch stage.Type {
	case model.STAGE_TYPE_EVENT:
		switch stage.SubType {
		case model.SUB_TYPE_END:
			return e.makeFlowEnd(ctx, instance, stage)
		case model.SUB_TYPE_TIMER:
			return e.makeStageActive(ctx, instance, stage)
		}
		return nil
	case model.STAGE_TYPE_ACTIVITY:
		switch stage.SubType {
		case model.SUB_TYPE_USER_TASK, model.SUB_TYPE_MANUAL_TASK, model.SUB_TYPE_RECEIVE_TASK,
			model.SUB_TYPE_COMPOUND_TASK, model.SUB_TYPE_CALL_ACTIVITY, model.SUB_TYPE_SUB_PROCESS:
			return e.makeStageActive(ctx, instance, stage)
		default:
			if stage.Auto {
				return e.makeTaskComplete(ctx, instance, stage, nil, false)
			}
			return e.makeStageActive(ctx, instance, stage)
		}
	case model.STAGE_TYPE_GATEWAY:
		return e.gatewayHandler(ctx, instance, stage)
	}
	logger.Warn("stage has unknown type", zap.String("stage", stageKey), zap.String("type", string(stage.Type)))
	return nil
}

// makeStageActive activates a stage, resolving its property value
// references first. A stage revisited after its first run snapshots the
// prior run into history before resetting its working state.
func (e *Executor) makeStageActive(ctx context.Context, instance *model.ProcessInstance, stage *model.StageInstance) error {
	now := time.Now().UnixMilli()
	if props, ok := e.resolver.ResolveTokens(ctx, instance, propertiesToAny(stage.Properties)).([]any); ok {
		stage.Properties = propertiesFromAny(props, stage.Properties)
	}
	if stage.Status != model.STAGE_WAITING {
		e.snapshotHistory(stage)
		stage.Parameters = nil
		stage.TimeStarted = -1
		stage.TimeCompleted = -1
		stage.Flags = model.Flags{}
		stage.Err = nil
		stage.Data = nil
	}
	stage.Status = model.STAGE_ACTIVE
	stage.TimeActivated = now
	if stage.SubType == model.SUB_TYPE_TIMER {
		stage.ExpToCompleteAt = now + stage.EstimatedTimeDuration
		ref := persistence.TimerRef{ProcessInstanceID: instance.ID, StageID: stage.ID}
		if err := e.instances.AddTimer(ctx, ref, time.UnixMilli(stage.ExpToCompleteAt)); err != nil {
			return err
		}
	}
	if err := e.refreshFlags(ctx, instance); err != nil {
		return err
	}
	logger.Debug("stage active", zap.String("instance", instance.ID), zap.String("stage", stage.Key), zap.String("subType", string(stage.SubType)))
	return e.onStageActive(ctx, instance, stage)
}

func (e *Executor) snapshotHistory(stage *model.StageInstance) {
	entry := model.HistoryEntry{
		Status:        stage.Status,
		Parameters:    stage.Parameters,
		TimeActivated: stage.TimeActivated,
		TimeStarted:   stage.TimeStarted,
		TimeCompleted: stage.TimeCompleted,
		Flags:         stage.Flags,
		Err:           stage.Err,
		Data:          stage.Data,
	}
	stage.History = append(stage.History, entry)
	if len(stage.History) > e.historyLimit {
		stage.History = stage.History[len(stage.History)-e.historyLimit:]
	}
}

// onStageActive runs whatever an activated stage implies: auto stages
// complete themselves, compound stages spawn or re-open their child
// instance, interactive stages wait for the completion surface.
func (e *Executor) onStageActive(ctx context.Context, instance *model.ProcessInstance, stage *model.StageInstance) error {
	if stage.Type != model.STAGE_TYPE_ACTIVITY {
		return nil
	}
	switch stage.SubType {
	case model.SUB_TYPE_USER_TASK, model.SUB_TYPE_MANUAL_TASK:
		return e.openUserTask(ctx, instance, stage)
	case model.SUB_TYPE_RECEIVE_TASK:
		return nil
	case model.SUB_TYPE_COMPOUND_TASK, model.SUB_TYPE_CALL_ACTIVITY, model.SUB_TYPE_SUB_PROCESS:
		if stage.ProcessDefinitionKey == "" {
			return e.makeTaskComplete(ctx, instance, stage, nil, false)
		}
		if stage.ProcessInstanceID != "" {
			return e.reopenChildInstance(ctx, stage.ProcessInstanceID)
		}
		return e.createChildInstance(ctx, instance, stage)
	default:
		if stage.Auto {
			return e.makeTaskComplete(ctx, instance, stage, nil, false)
		}
		return nil
	}
}

// openUserTask records an interactive stage in the work queue: a fresh
// record on the first activation, a reopen to todo on every later one.
func (e *Executor) openUserTask(ctx context.Context, instance *model.ProcessInstance, stage *model.StageInstance) error {
	if e.userTasks == nil {
		return nil
	}
	existing, err := e.userTasks.ByStage(ctx, instance.ID, stage.ID)
	if err != nil {
		var nfe model.NotFoundError
		if !errors.As(err, &nfe) {
			return err
		}
	}
	if existing != nil {
		existing.Status = model.USER_TASK_TODO
		existing.TimeCompleted = 0
		logger.Info("user task reopened", zap.String("instance", instance.ID), zap.String("stage", stage.Key))
		return e.userTasks.Save(ctx, existing)
	}
	task := &model.UserTask{
		ID:                    uuid.NewString(),
		ProcessDefinitionID:   instance.ProcessDefinitionID,
		ProcessDefinitionKey:  instance.ProcessDefinitionKey,
		RootProcessInstanceID: instance.RootProcessInstanceID,
		ProcessInstanceID:     instance.ID,
		StageID:               stage.ID,
		StageKey:              stage.Key,
		Summary:               stage.Name,
		Description:           stage.Description,
		Assignee:              stage.Assignee,
		Watchers:              stage.Watchers,
		Parameters:            stage.Parameters,
		Status:                model.USER_TASK_TODO,
		TimeCreated:           time.Now().UnixMilli(),
	}
	logger.Info("user task opened",
		zap.String("instance", instance.ID),
		zap.String("stage", stage.Key),
		zap.String("assignee", task.Assignee))
	return e.userTasks.Save(ctx, task)
}

// closeUserTask folds a settled interactive stage back into its work-queue
// record. A completed stage closes as done, any other outcome carries the
// stage status. Failures here never fail the completion itself.
func (e *Executor) closeUserTask(ctx context.Context, instance *model.ProcessInstance, stage *model.StageInstance, completedBy string) {
	if e.userTasks == nil {
		return
	}
	task, err := e.userTasks.ByStage(ctx, instance.ID, stage.ID)
	if err != nil {
		logger.Error("user task lookup failed", zap.String("instance", instance.ID), zap.String("stage", stage.Key), zap.Error(err))
		return
	}
	if stage.Status == model.STAGE_COMPLETED {
		task.Status = model.USER_TASK_DONE
	} else {
		task.Status = model.UserTaskStatus(stage.Status)
	}
	task.TimeCompleted = stage.TimeCompleted
	if completedBy != "" {
		task.Assignee = completedBy
	}
	if err := e.userTasks.Save(ctx, task); err != nil {
		logger.Error("user task update failed", zap.String("instance", instance.ID), zap.String("stage", stage.Key), zap.Error(err))
	}
}

// closeUserTasks closes every open work-queue record in the tree.
func (e *Executor) closeUserTasks(ctx context.Context, rootId string, status model.UserTaskStatus) error {
	if e.userTasks == nil {
		return nil
	}
	members, err := e.instances.ByRoot(ctx, rootId)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	for _, member := range members {
		tasks, err := e.userTasks.ByInstance(ctx, member.ID)
		if err != nil {
			return err
		}
		for _, task := range tasks {
			if task.Status != model.USER_TASK_TODO {
				continue
			}
			task.Status = status
			task.TimeCompleted = now
			if err := e.userTasks.Save(ctx, task); err != nil {
				return err
			}
		}
	}
	return nil
}

// makeTaskComplete validates parameters and criteria, dispatches the
// stage's connector if one is attached, folds the outcome into the stage,
// and advances when the criteria allow it. Failures on the automatic path
// are logged and halt at the stage; on the interactive path they surface
// to the caller.
func (e *Executor) makeTaskComplete(ctx context.Context, instance *model.ProcessInstance, stage *model.StageInstance, req *model.TaskCompletionRequest, interactive bool) error {
	storedStatus := stage.Status
	var input map[string]any
	if req != nil {
		input = req.Parameters
	}
	parameters, err := validateParameters(stage.Properties, util.DeepCopyMap(input))
	if err != nil {
		if !interactive && stage.Auto {
			logger.Error("parameter validation failed", zap.String("instance", instance.ID), zap.String("stage", stage.Key), zap.Error(err))
			return nil
		}
		return err
	}
	parameters = util.MergeMaps(parameters, input)

	criteria := stage.Criteria
	if criteria == nil {
		criteria = instance.Criteria
	}
	spec := stage.Connector
	if req != nil && req.Connector != nil {
		spec = req.Connector
	}
	// a stale connector error does not block when the dispatch below will
	// settle the flag anew
	preFlags := stage.Flags
	if spec != nil {
		preFlags.Error = false
	}
	valid, status := validateCriteria(criteria, preFlags)
	if !valid {
		if !interactive && stage.Auto {
			logger.Error("task could not be completed", zap.String("instance", instance.ID), zap.String("stage", stage.Key))
			return nil
		}
		return model.StateConflictError{Message: fmt.Sprintf("task %s could not be completed", stage.Key)}
	}

	var connectorErr error
	if spec != nil {
		stage.Parameters = parameters
		dispatchStage := stage
		if spec != stage.Connector {
			copied := *stage
			copied.Connector = spec
			dispatchStage = &copied
		}
		data, resolved, err := e.dispatcher.Dispatch(ctx, instance, dispatchStage)
		if err != nil {
			stage.Flags.Error = true
			stage.Err = err.Error()
			connectorErr = err
			if e.trail != nil {
				e.trail.RecordConnectorFailure(instance.ProcessDefinitionKey, instance.ID, stage.Key, err.Error())
			}
		} else {
			stage.Data = data
			stage.Flags.Error = false
			stage.Err = nil
		}
		if resolved != nil {
			stage.Connector = resolved
		}
		valid, status = validateCriteria(criteria, stage.Flags)
	}

	stage.Parameters = parameters
	stage.Status = status
	stage.TimeCompleted = time.Now().UnixMilli()
	if err := e.instances.UpdateStage(ctx, instance.ID, stage, storedStatus); err != nil {
		return err
	}
	if err := e.refreshFlags(ctx, instance); err != nil {
		return err
	}
	logger.Debug("task completed",
		zap.String("instance", instance.ID),
		zap.String("stage", stage.Key),
		zap.String("status", string(status)))
	if e.trail != nil {
		e.trail.RecordStageCompleted(instance.ProcessDefinitionKey, instance.ID, stage.Key, string(status))
	}
	if stage.SubType == model.SUB_TYPE_USER_TASK || stage.SubType == model.SUB_TYPE_MANUAL_TASK {
		var completedBy string
		if req != nil {
			completedBy = req.Assignee
		}
		e.closeUserTask(ctx, instance, stage, completedBy)
	}

	if valid {
		if err := e.iterateNextStages(ctx, instance, stage.NextStages); err != nil {
			return err
		}
		if err := e.recheckDependencyGateways(ctx, instance.RootProcessInstanceID); err != nil {
			return err
		}
	}
	if interactive && connectorErr != nil {
		return connectorErr
	}
	return nil
}

// iterateNextStages advances into every listed successor. An empty list
// means the stage is a leaf: the flow tries to end if the instance
// criteria already hold.
func (e *Executor) iterateNextStages(ctx context.Context, instance *model.ProcessInstance, nextStages []string) error {
	if len(nextStages) > 0 {
		for _, stageKey := range nextStages {
			if err := e.goToNextStage(ctx, instance.ID, stageKey); err != nil {
				return err
			}
		}
		return nil
	}
	updated, err := e.instances.Get(ctx, instance.ID)
	if err != nil {
		return err
	}
	if err := e.refreshFlags(ctx, updated); err != nil {
		return err
	}
	if updated.Status != model.INSTANCE_COMPLETED && updated.EndIndex >= 0 {
		if valid, _ := validateCriteria(updated.Criteria, updated.Flags); valid {
			return e.makeFlowEnd(ctx, updated, updated.Stages[updated.EndIndex])
		}
	}
	return nil
}

// gatewayHandler routes one gateway stage. A satisfied gateway is
// completed with its evaluated conditions persisted; an unsatisfied join
// barrier stays active and is revisited later.
func (e *Executor) gatewayHandler(ctx context.Context, instance *model.ProcessInstance, stage *model.StageInstance) error {
	decision, err := e.router.Route(ctx, instance, stage)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	stage.Conditions = decision.Conditions
	if decision.Routed {
		stage.Status = model.STAGE_COMPLETED
		stage.TimeCompleted = now
	} else {
		stage.Status = model.STAGE_ACTIVE
		stage.TimeActivated = now
	}
	if err := e.refreshFlags(ctx, instance); err != nil {
		return err
	}
	if !decision.Routed {
		logger.Debug("gateway waiting", zap.String("instance", instance.ID), zap.String("stage", stage.Key))
		return nil
	}
	logger.Debug("gateway routed",
		zap.String("instance", instance.ID),
		zap.String("stage", stage.Key),
		zap.Strings("nextStages", decision.NextStages))
	return e.iterateNextStages(ctx, instance, decision.NextStages)
}

// makeFlowEnd completes the end stage, and completes the instance when no
// other stage is still active and the instance criteria pass. Completion
// then propagates to the parent compound task, if any.
func (e *Executor) makeFlowEnd(ctx context.Context, instance *model.ProcessInstance, endStage *model.StageInstance) error {
	now := time.Now().UnixMilli()
	storedStatus := endStage.Status
	endStage.Status = model.STAGE_COMPLETED
	endStage.TimeCompleted = now
	if err := e.instances.UpdateStage(ctx, instance.ID, endStage, storedStatus); err != nil {
		return err
	}

	active := false
	for _, stage := range instance.Stages {
		if stage.ID != endStage.ID && stage.Status == model.STAGE_ACTIVE {
			active = true
			break
		}
	}
	if active {
		return e.refreshFlags(ctx, instance)
	}
	instance.Flags = computeFlags(instance)
	valid, _ := validateCriteria(instance.Criteria, instance.Flags)
	if !valid {
		logger.Info("flow could not be completed", zap.String("instance", instance.ID))
		return e.instances.Save(ctx, instance)
	}
	instance.Status = model.INSTANCE_COMPLETED
	instance.TimeCompleted = now
	if err := e.instances.Save(ctx, instance); err != nil {
		return err
	}
	logger.Info("flow completed", zap.String("instance", instance.ID), zap.String("definition", instance.ProcessDefinitionKey))
	if e.trail != nil {
		e.trail.RecordFlowCompleted(instance.ProcessDefinitionKey, instance.ID)
	}
	return e.onFlowEnd(ctx, instance)
}

// onFlowEnd reports a completed child instance upward: the parent
// compound-task stage is completed carrying the child's aggregate flags.
func (e *Executor) onFlowEnd(ctx context.Context, instance *model.ProcessInstance) error {
	if instance.ParentTaskID == "" || instance.ParentProcessInstanceID == "" {
		return nil
	}
	parent, err := e.instances.Get(ctx, instance.ParentProcessInstanceID)
	if err != nil {
		logger.Error("parent instance lookup failed", zap.String("parent", instance.ParentProcessInstanceID), zap.Error(err))
		return nil
	}
	parentStage := parent.StageByID(instance.ParentTaskID)
	if parentStage == nil {
		logger.Error("parent task not found", zap.String("parent", parent.ID), zap.String("task", instance.ParentTaskID))
		return nil
	}
	parentStage.Flags = instance.Flags
	return e.makeTaskComplete(ctx, parent, parentStage, nil, false)
}

// createChildInstance compiles, persists, and starts a child instance for
// a compound-task stage, then records the child id on the stage.
func (e *Executor) createChildInstance(ctx context.Context, parent *model.ProcessInstance, stage *model.StageInstance) error {
	version := 0
	definition, err := e.definitions.Get(ctx, stage.ProcessDefinitionKey, version)
	if err != nil {
		logger.Error("child definition lookup failed",
			zap.String("definitionKey", stage.ProcessDefinitionKey), zap.Error(err))
		return nil
	}
	child, err := compiler.Compile(definition, compiler.Options{
		RootProcessInstanceID:   parent.RootProcessInstanceID,
		ParentProcessInstanceID: parent.ID,
		ParentTaskID:            stage.ID,
	})
	if err != nil {
		logger.Error("child compilation failed", zap.String("definitionKey", stage.ProcessDefinitionKey), zap.Error(err))
		return nil
	}
	if err := e.instances.Create(ctx, child); err != nil {
		return err
	}
	stage.ProcessInstanceID = child.ID
	if err := e.instances.Save(ctx, parent); err != nil {
		return err
	}
	parameters, err := validateParameters(stage.Properties, util.DeepCopyMap(stage.Parameters))
	if err != nil {
		logger.Error("child parameter validation failed", zap.String("stage", stage.Key), zap.Error(err))
		parameters = stage.Parameters
	}
	logger.Info("child instance spawned",
		zap.String("parent", parent.ID),
		zap.String("stage", stage.Key),
		zap.String("child", child.ID))
	return e.startFlow(ctx, child, util.MergeMaps(parameters, parent.Parameters), true)
}

// reopenChildInstance reactivates an existing child instance when its
// compound-task stage is revisited. Parallel children re-open every
// non-downstream activity with a history snapshot; sequential children
// simply resume from the start stage's successors.
func (e *Executor) reopenChildInstance(ctx context.Context, childId string) error {
	child, err := e.instances.Get(ctx, childId)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	child.Status = model.INSTANCE_ACTIVE
	var reopened []*model.StageInstance
	if child.IsParallel {
		skip := downstreamKeys(child)
		for _, stage := range child.Stages {
			if stage.Type == model.STAGE_TYPE_ACTIVITY && !skip[stage.Key] {
				e.snapshotHistory(stage)
				stage.Status = model.STAGE_ACTIVE
				stage.TimeActivated = now
				stage.Parameters = nil
				stage.TimeStarted = -1
				stage.TimeCompleted = -1
				stage.Flags = model.Flags{}
				stage.Err = nil
				stage.Data = nil
				reopened = append(reopened, stage)
			}
		}
	}
	if err := e.refreshFlags(ctx, child); err != nil {
		return err
	}
	logger.Info("child instance reopened", zap.String("child", child.ID))
	for _, stage := range reopened {
		if err := e.onStageActive(ctx, child, stage); err != nil {
			return err
		}
	}
	return e.iterateNextStages(ctx, child, child.Stages[child.StartIndex].NextStages)
}

// recheckDependencyGateways revisits every active dependency gateway in
// the tree after a completion anywhere in it. Routing a gateway completes
// it, so the recheck converges.
func (e *Executor) recheckDependencyGateways(ctx context.Context, rootId string) error {
	members, err := e.instances.ByRoot(ctx, rootId)
	if err != nil {
		return err
	}
	for _, member := range members {
		for _, stage := range member.Stages {
			if stage.SubType == model.SUB_TYPE_DEPENDENCY && stage.Status == model.STAGE_ACTIVE {
				if err := e.gatewayHandler(ctx, member, stage); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (e *Executor) makeFlowHold(ctx context.Context, instance *model.ProcessInstance) error {
	now := time.Now().UnixMilli()
	if err := e.updateTree(ctx, instance.RootProcessInstanceID, func(member *model.ProcessInstance) bool {
		if member.Status != model.INSTANCE_ACTIVE {
			return false
		}
		member.Status = model.INSTANCE_ON_HOLD
		member.TimeOnHold = now
		return true
	}); err != nil {
		return err
	}
	return e.detachTimers(ctx, instance.RootProcessInstanceID)
}

func (e *Executor) makeFlowCancel(ctx context.Context, instance *model.ProcessInstance) error {
	now := time.Now().UnixMilli()
	if err := e.updateTree(ctx, instance.RootProcessInstanceID, func(member *model.ProcessInstance) bool {
		member.Status = model.INSTANCE_CANCELLED
		member.TimeCancelled = now
		return true
	}); err != nil {
		return err
	}
	if err := e.detachTimers(ctx, instance.RootProcessInstanceID); err != nil {
		return err
	}
	return e.closeUserTasks(ctx, instance.RootProcessInstanceID, model.USER_TASK_CANCELLED)
}

func (e *Executor) makeFlowResume(ctx context.Context, instance *model.ProcessInstance) error {
	now := time.Now().UnixMilli()
	if err := e.updateTree(ctx, instance.RootProcessInstanceID, func(member *model.ProcessInstance) bool {
		if member.Status != model.INSTANCE_ON_HOLD {
			return false
		}
		member.Status = model.INSTANCE_ACTIVE
		member.TimeResumed = now
		return true
	}); err != nil {
		return err
	}
	return e.reattachTimers(ctx, instance.RootProcessInstanceID)
}

// detachTimers unregisters the pending timer of every active timer stage
// in the tree, so a held or cancelled flow does not pop later.
func (e *Executor) detachTimers(ctx context.Context, rootId string) error {
	return e.eachActiveTimer(ctx, rootId, func(ref persistence.TimerRef, fireAt int64) error {
		return e.instances.RemoveTimer(ctx, ref)
	})
}

// reattachTimers re-registers the timers detachTimers removed, keeping
// their original fire time.
func (e *Executor) reattachTimers(ctx context.Context, rootId string) error {
	return e.eachActiveTimer(ctx, rootId, func(ref persistence.TimerRef, fireAt int64) error {
		return e.instances.AddTimer(ctx, ref, time.UnixMilli(fireAt))
	})
}

func (e *Executor) eachActiveTimer(ctx context.Context, rootId string, fn func(ref persistence.TimerRef, fireAt int64) error) error {
	members, err := e.instances.ByRoot(ctx, rootId)
	if err != nil {
		return err
	}
	for _, member := range members {
		for _, stage := range member.Stages {
			if stage.SubType != model.SUB_TYPE_TIMER || stage.Status != model.STAGE_ACTIVE {
				continue
			}
			ref := persistence.TimerRef{ProcessInstanceID: member.ID, StageID: stage.ID}
			if err := fn(ref, stage.ExpToCompleteAt); err != nil {
				return err
			}
		}
	}
	return nil
}

// updateTree applies a bulk status mutation to every instance sharing the
// root id.
func (e *Executor) updateTree(ctx context.Context, rootId string, apply func(*model.ProcessInstance) bool) error {
	members, err := e.instances.ByRoot(ctx, rootId)
	if err != nil {
		return err
	}
	for _, member := range members {
		if !apply(member) {
			continue
		}
		if err := e.instances.Save(ctx, member); err != nil {
			return err
		}
	}
	return nil
}

// saveParams merges submitted parameters into the stage's or the
// instance's parameter bag without advancing the flow. An attached
// connector, if any, is invoked on the synchronous path.
func (e *Executor) saveParams(ctx context.Context, instance *model.ProcessInstance, req model.TaskCompletionRequest) error {
	if req.Connector != nil {
		copied := instance.Clone()
		if copied == nil {
			return persistence.StorageLayerError{Message: "instance not serializable"}
		}
		carrier := &model.StageInstance{}
		carrier.Connector = req.Connector
		carrier.Key = "save-parameters"
		carrier.Parameters = req.Parameters
		if _, _, err := e.dispatcher.Dispatch(ctx, copied, carrier); err != nil {
			return err
		}
	}
	if req.TaskID != "" {
		stage := instance.StageByID(req.TaskID)
		if stage == nil {
			return model.NotFoundError{Entity: "stage", ID: req.TaskID}
		}
		stage.Parameters = util.MergeMaps(stage.Parameters, req.Parameters)
		if req.Assignee != "" {
			if err := e.reassignUserTask(ctx, instance, stage, req.Assignee); err != nil {
				return err
			}
		}
	} else {
		instance.Parameters = util.MergeMaps(instance.Parameters, req.Parameters)
	}
	return e.instances.Save(ctx, instance)
}

func (e *Executor) reassignUserTask(ctx context.Context, instance *model.ProcessInstance, stage *model.StageInstance, assignee string) error {
	if e.userTasks == nil {
		return nil
	}
	task, err := e.userTasks.ByStage(ctx, instance.ID, stage.ID)
	if err != nil {
		return err
	}
	task.Assignee = assignee
	logger.Info("user task reassigned",
		zap.String("instance", instance.ID),
		zap.String("stage", stage.Key),
		zap.String("assignee", assignee))
	return e.userTasks.Save(ctx, task)
}

// refreshFlags recomputes the aggregate flags and persists the instance.
func (e *Executor) refreshFlags(ctx context.Context, instance *model.ProcessInstance) error {
	instance.Flags = computeFlags(instance)
	return e.instances.Save(ctx, instance)
}

func propertiesToAny(properties []model.Property) []any {
	data, err := json.Marshal(properties)
	if err != nil {
		return nil
	}
	var out []any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

func propertiesFromAny(raw []any, fallback []model.Property) []model.Property {
	data, err := json.Marshal(raw)
	if err != nil {
		return fallback
	}
	var out []model.Property
	if err := json.Unmarshal(data, &out); err != nil {
		return fallback
	}
	return out
}
