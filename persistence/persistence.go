package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/stagecraft/stagecraft/model"
)

type StorageLayerError struct {
	Message string
}

func (e StorageLayerError) Error() string {
	return fmt.Sprintf("storage layer error %s", e.Message)
}

// TimerRef identifies a timer stage waiting to fire.
type TimerRef struct {
	ProcessInstanceID string `json:"processInstanceId"`
	StageID           string `json:"stageId"`
}

type InstanceStats struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	OnHold    int64 `json:"onHold"`
	Cancelled int64 `json:"cancelled"`
	Total     int64 `json:"total"`
}

type DefinitionRepository interface {
	Save(ctx context.Context, def model.ProcessDefinition) error
	// Get returns the stored definition for key. Version 0 resolves to the
	// latest saved version.
	Get(ctx context.Context, key string, version int) (*model.ProcessDefinition, error)
	Delete(ctx context.Context, key string, version int) error
	List(ctx context.Context) ([]model.ProcessDefinition, error)
}

type InstanceRepository interface {
	Create(ctx context.Context, instance *model.ProcessInstance) error
	Get(ctx context.Context, id string) (*model.ProcessInstance, error)
	Save(ctx context.Context, instance *model.ProcessInstance) error
	// UpdateStage replaces one stage in place, guarded by a status
	// precondition: the write is rejected with a StateConflictError when
	// the stored stage's status no longer matches expected.
	UpdateStage(ctx context.Context, instanceId string, stage *model.StageInstance, expected model.StageStatus) error
	Delete(ctx context.Context, id string) error

	// ByRoot returns every instance belonging to the tree rooted at rootId,
	// the root itself included.
	ByRoot(ctx context.Context, rootId string) ([]*model.ProcessInstance, error)
	// LatestByRootAndKey returns the most recently created instance of the
	// given definition key within the tree rooted at rootId.
	LatestByRootAndKey(ctx context.Context, rootId string, definitionKey string) (*model.ProcessInstance, error)

	AddTimer(ctx context.Context, ref TimerRef, fireAt time.Time) error
	RemoveTimer(ctx context.Context, ref TimerRef) error
	// ExpiredTimers pops at most batch timers whose fire time is at or before
	// now. Popped timers are not returned again.
	ExpiredTimers(ctx context.Context, now time.Time, batch int) ([]TimerRef, error)

	Stats(ctx context.Context) (*InstanceStats, error)
}

type UserTaskRepository interface {
	Save(ctx context.Context, task *model.UserTask) error
	// ByStage returns the task tracking the given stage, across all of its
	// openings. There is at most one per stage.
	ByStage(ctx context.Context, instanceId string, stageId string) (*model.UserTask, error)
	ByAssignee(ctx context.Context, assignee string) ([]*model.UserTask, error)
	ByInstance(ctx context.Context, instanceId string) ([]*model.UserTask, error)
}
