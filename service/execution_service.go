package service

import (
	"context"

	"github.com/stagecraft/stagecraft/compiler"
	"github.com/stagecraft/stagecraft/engine"
	"github.com/stagecraft/stagecraft/logger"
	"github.com/stagecraft/stagecraft/model"
	"github.com/stagecraft/stagecraft/persistence"
	"go.uber.org/zap"
)

// ExecutionService is the entrypoint the transport layer talks to: it
// compiles definitions into instances and hands lifecycle requests to the
// executor.
type ExecutionService struct {
	metadata  *MetadataService
	instances persistence.InstanceRepository
	userTasks persistence.UserTaskRepository
	executor  *engine.Executor
}

func NewExecutionService(metadata *MetadataService, instances persistence.InstanceRepository,
	userTasks persistence.UserTaskRepository, executor *engine.Executor) *ExecutionService {
	return &ExecutionService{
		metadata:  metadata,
		instances: instances,
		userTasks: userTasks,
		executor:  executor,
	}
}

// CreateInstance compiles a fresh instance from a definition and persists
// it without starting it.
func (s *ExecutionService) CreateInstance(ctx context.Context, key string, version int) (*model.ProcessInstance, error) {
	definition, err := s.metadata.Get(ctx, key, version)
	if err != nil {
		return nil, err
	}
	instance, err := compiler.Compile(definition, compiler.Options{})
	if err != nil {
		return nil, err
	}
	if err := s.instances.Create(ctx, instance); err != nil {
		return nil, err
	}
	logger.Info("instance created", zap.String("instance", instance.ID), zap.String("definition", key))
	return instance, nil
}

// StartInstance starts a previously created instance.
func (s *ExecutionService) StartInstance(ctx context.Context, instanceId string, req model.StartInstanceRequest) error {
	return s.executor.StartFlow(ctx, instanceId, req.Parameters)
}

// RunInstance creates and immediately starts an instance of a definition.
func (s *ExecutionService) RunInstance(ctx context.Context, req model.RunInstanceRequest) (*model.ProcessInstance, error) {
	instance, err := s.CreateInstance(ctx, req.Key, req.Version)
	if err != nil {
		return nil, err
	}
	if err := s.executor.StartFlow(ctx, instance.ID, req.Parameters); err != nil {
		return nil, err
	}
	return s.instances.Get(ctx, instance.ID)
}

func (s *ExecutionService) GetInstance(ctx context.Context, instanceId string) (*model.ProcessInstance, error) {
	return s.instances.Get(ctx, instanceId)
}

// HandleTask applies a completion-surface request to an instance.
func (s *ExecutionService) HandleTask(ctx context.Context, instanceId string, req model.TaskCompletionRequest) error {
	return s.executor.HandleTask(ctx, instanceId, req)
}

func (s *ExecutionService) Stats(ctx context.Context) (*persistence.InstanceStats, error) {
	return s.instances.Stats(ctx)
}

// UserTasksByAssignee lists the work queue of one assignee.
func (s *ExecutionService) UserTasksByAssignee(ctx context.Context, assignee string) ([]*model.UserTask, error) {
	return s.userTasks.ByAssignee(ctx, assignee)
}

// UserTasksByInstance lists every work-queue record of one instance.
func (s *ExecutionService) UserTasksByInstance(ctx context.Context, instanceId string) ([]*model.UserTask, error) {
	return s.userTasks.ByInstance(ctx, instanceId)
}
