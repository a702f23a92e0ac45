package inmem

import (
	"context"
	"fmt"
	"sync"

	"github.com/stagecraft/stagecraft/model"
	"github.com/stagecraft/stagecraft/persistence"
)

var _ persistence.DefinitionRepository = new(inmemDefinitionRepository)

type inmemDefinitionRepository struct {
	mu       sync.RWMutex
	versions map[string][]model.ProcessDefinition
}

func NewInmemDefinitionRepository() *inmemDefinitionRepository {
	return &inmemDefinitionRepository{
		versions: make(map[string][]model.ProcessDefinition),
	}
}

func (r *inmemDefinitionRepository) Save(ctx context.Context, def model.ProcessDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing := r.versions[def.Key]
	for i, v := range existing {
		if v.Version == def.Version {
			existing[i] = def
			return nil
		}
	}
	r.versions[def.Key] = append(existing, def)
	return nil
}

func (r *inmemDefinitionRepository) Get(ctx context.Context, key string, version int) (*model.ProcessDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	existing := r.versions[key]
	if len(existing) == 0 {
		return nil, model.NotFoundError{Entity: "process definition", ID: key}
	}
	if version == 0 {
		latest := existing[0]
		for _, v := range existing[1:] {
			if v.Version > latest.Version {
				latest = v
			}
		}
		return &latest, nil
	}
	for _, v := range existing {
		if v.Version == version {
			return &v, nil
		}
	}
	return nil, model.NotFoundError{Entity: "process definition", ID: fmt.Sprintf("%s:%d", key, version)}
}

func (r *inmemDefinitionRepository) Delete(ctx context.Context, key string, version int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.versions[key]
	if !ok {
		return model.NotFoundError{Entity: "process definition", ID: key}
	}
	if version == 0 {
		delete(r.versions, key)
		return nil
	}
	for i, v := range existing {
		if v.Version == version {
			r.versions[key] = append(existing[:i], existing[i+1:]...)
			if len(r.versions[key]) == 0 {
				delete(r.versions, key)
			}
			return nil
		}
	}
	return model.NotFoundError{Entity: "process definition", ID: fmt.Sprintf("%s:%d", key, version)}
}

func (r *inmemDefinitionRepository) List(ctx context.Context) ([]model.ProcessDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.ProcessDefinition
	for _, versions := range r.versions {
		out = append(out, versions...)
	}
	return out, nil
}
