package inmem

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/stagecraft/stagecraft/model"
	"github.com/stagecraft/stagecraft/persistence"
)

var _ persistence.UserTaskRepository = new(inmemUserTaskRepository)

type inmemUserTaskRepository struct {
	mu    sync.RWMutex
	tasks map[string]*model.UserTask
}

func NewInmemUserTaskRepository() *inmemUserTaskRepository {
	return &inmemUserTaskRepository{tasks: make(map[string]*model.UserTask)}
}

func (r *inmemUserTaskRepository) Save(ctx context.Context, task *model.UserTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied, err := cloneUserTask(task)
	if err != nil {
		return err
	}
	r.tasks[task.ID] = copied
	return nil
}

func (r *inmemUserTaskRepository) ByStage(ctx context.Context, instanceId string, stageId string) (*model.UserTask, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, task := range r.tasks {
		if task.ProcessInstanceID == instanceId && task.StageID == stageId {
			return cloneUserTask(task)
		}
	}
	return nil, model.NotFoundError{Entity: "user task", ID: stageId}
}

func (r *inmemUserTaskRepository) ByAssignee(ctx context.Context, assignee string) ([]*model.UserTask, error) {
	return r.collect(func(task *model.UserTask) bool { return task.Assignee == assignee })
}

func (r *inmemUserTaskRepository) ByInstance(ctx context.Context, instanceId string) ([]*model.UserTask, error) {
	return r.collect(func(task *model.UserTask) bool { return task.ProcessInstanceID == instanceId })
}

func (r *inmemUserTaskRepository) collect(match func(*model.UserTask) bool) ([]*model.UserTask, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*model.UserTask
	for _, task := range r.tasks {
		if !match(task) {
			continue
		}
		copied, err := cloneUserTask(task)
		if err != nil {
			return nil, err
		}
		out = append(out, copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TimeCreated < out[j].TimeCreated })
	return out, nil
}

func cloneUserTask(task *model.UserTask) (*model.UserTask, error) {
	data, err := json.Marshal(task)
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	var out model.UserTask
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return &out, nil
}
