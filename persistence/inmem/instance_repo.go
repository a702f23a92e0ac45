package inmem

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/stagecraft/stagecraft/model"
	"github.com/stagecraft/stagecraft/persistence"
)

var _ persistence.InstanceRepository = new(inmemInstanceRepository)

type timerEntry struct {
	ref    persistence.TimerRef
	fireAt time.Time
}

type inmemInstanceRepository struct {
	mu        sync.RWMutex
	instances map[string]*model.ProcessInstance
	trees     map[string][]string
	timers    []timerEntry
}

func NewInmemInstanceRepository() *inmemInstanceRepository {
	return &inmemInstanceRepository{
		instances: make(map[string]*model.ProcessInstance),
		trees:     make(map[string][]string),
	}
}

func (r *inmemInstanceRepository) Create(ctx context.Context, instance *model.ProcessInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := instance.Clone()
	if copied == nil {
		return persistence.StorageLayerError{Message: "instance not serializable"}
	}
	r.instances[instance.ID] = copied
	root := instance.RootProcessInstanceID
	r.trees[root] = append(r.trees[root], instance.ID)
	return nil
}

func (r *inmemInstanceRepository) Get(ctx context.Context, id string) (*model.ProcessInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	instance, ok := r.instances[id]
	if !ok {
		return nil, model.NotFoundError{Entity: "process instance", ID: id}
	}
	return instance.Clone(), nil
}

func (r *inmemInstanceRepository) Save(ctx context.Context, instance *model.ProcessInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.instances[instance.ID]; !ok {
		return model.NotFoundError{Entity: "process instance", ID: instance.ID}
	}
	copied := instance.Clone()
	if copied == nil {
		return persistence.StorageLayerError{Message: "instance not serializable"}
	}
	r.instances[instance.ID] = copied
	return nil
}

func (r *inmemInstanceRepository) UpdateStage(ctx context.Context, instanceId string, stage *model.StageInstance, expected model.StageStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	instance, ok := r.instances[instanceId]
	if !ok {
		return model.NotFoundError{Entity: "process instance", ID: instanceId}
	}
	for i, stored := range instance.Stages {
		if stored.ID != stage.ID {
			continue
		}
		if stored.Status != expected {
			return model.StateConflictError{
				Message: "stage " + stage.Key + " is " + string(stored.Status) + ", expected " + string(expected),
			}
		}
		copied, err := cloneStage(stage)
		if err != nil {
			return err
		}
		instance.Stages[i] = copied
		return nil
	}
	return model.NotFoundError{Entity: "stage", ID: stage.ID}
}

func cloneStage(stage *model.StageInstance) (*model.StageInstance, error) {
	data, err := json.Marshal(stage)
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	var out model.StageInstance
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return &out, nil
}

func (r *inmemInstanceRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	instance, ok := r.instances[id]
	if !ok {
		return model.NotFoundError{Entity: "process instance", ID: id}
	}
	delete(r.instances, id)
	root := instance.RootProcessInstanceID
	members := r.trees[root]
	for i, member := range members {
		if member == id {
			r.trees[root] = append(members[:i], members[i+1:]...)
			break
		}
	}
	return nil
}

func (r *inmemInstanceRepository) ByRoot(ctx context.Context, rootId string) ([]*model.ProcessInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*model.ProcessInstance
	for _, id := range r.trees[rootId] {
		instance, ok := r.instances[id]
		if !ok {
			continue
		}
		out = append(out, instance.Clone())
	}
	return out, nil
}

func (r *inmemInstanceRepository) LatestByRootAndKey(ctx context.Context, rootId string, definitionKey string) (*model.ProcessInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.trees[rootId]
	for i := len(members) - 1; i >= 0; i-- {
		instance, ok := r.instances[members[i]]
		if !ok {
			continue
		}
		if instance.ProcessDefinitionKey == definitionKey {
			return instance.Clone(), nil
		}
	}
	return nil, model.NotFoundError{Entity: "process instance", ID: definitionKey}
}

func (r *inmemInstanceRepository) AddTimer(ctx context.Context, ref persistence.TimerRef, fireAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, entry := range r.timers {
		if entry.ref == ref {
			r.timers[i].fireAt = fireAt
			return nil
		}
	}
	r.timers = append(r.timers, timerEntry{ref: ref, fireAt: fireAt})
	return nil
}

func (r *inmemInstanceRepository) RemoveTimer(ctx context.Context, ref persistence.TimerRef) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, entry := range r.timers {
		if entry.ref == ref {
			r.timers = append(r.timers[:i], r.timers[i+1:]...)
			return nil
		}
	}
	return nil
}

func (r *inmemInstanceRepository) ExpiredTimers(ctx context.Context, now time.Time, batch int) ([]persistence.TimerRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sort.SliceStable(r.timers, func(i, j int) bool {
		return r.timers[i].fireAt.Before(r.timers[j].fireAt)
	})
	var out []persistence.TimerRef
	for len(r.timers) > 0 && len(out) < batch {
		entry := r.timers[0]
		if entry.fireAt.After(now) {
			break
		}
		out = append(out, entry.ref)
		r.timers = r.timers[1:]
	}
	return out, nil
}

func (r *inmemInstanceRepository) Stats(ctx context.Context) (*persistence.InstanceStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := &persistence.InstanceStats{}
	for _, instance := range r.instances {
		stats.Total++
		switch instance.Status {
		case model.INSTANCE_ACTIVE:
			stats.Active++
		case model.INSTANCE_COMPLETED:
			stats.Completed++
		case model.INSTANCE_ON_HOLD:
			stats.OnHold++
		case model.INSTANCE_CANCELLED:
			stats.Cancelled++
		}
	}
	return stats, nil
}
