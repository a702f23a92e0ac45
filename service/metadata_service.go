package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/stagecraft/stagecraft/logger"
	"github.com/stagecraft/stagecraft/model"
	"github.com/stagecraft/stagecraft/persistence"
	"go.uber.org/zap"
)

// MetadataService owns definition authoring: versioned saves and cached
// reads. Published versions are immutable; saving a definition without a
// version creates the next one.
type MetadataService struct {
	definitions persistence.DefinitionRepository
	cache       *gocache.Cache
}

func NewMetadataService(definitions persistence.DefinitionRepository, ttl time.Duration) *MetadataService {
	return &MetadataService{
		definitions: definitions,
		cache:       gocache.New(ttl, 2*ttl),
	}
}

func (s *MetadataService) Save(ctx context.Context, def model.ProcessDefinition) (*model.ProcessDefinition, error) {
	if def.Key == "" {
		return nil, model.ValidationError{Message: "definition key is required"}
	}
	if len(def.Stages) == 0 {
		return nil, model.ValidationError{Message: "definition has no stages"}
	}
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	if def.Version == 0 {
		latest, err := s.definitions.Get(ctx, def.Key, 0)
		switch err.(type) {
		case nil:
			def.Version = latest.Version + 1
		case model.NotFoundError:
			def.Version = 1
		default:
			return nil, err
		}
	}
	if err := s.definitions.Save(ctx, def); err != nil {
		return nil, err
	}
	// never serve a stale latest after a new version lands
	s.cache.Delete(cacheKey(def.Key, 0))
	s.cache.Delete(cacheKey(def.Key, def.Version))
	logger.Info("definition saved", zap.String("key", def.Key), zap.Int("version", def.Version))
	return &def, nil
}

// Get returns a definition; version 0 resolves to the latest.
func (s *MetadataService) Get(ctx context.Context, key string, version int) (*model.ProcessDefinition, error) {
	if cached, ok := s.cache.Get(cacheKey(key, version)); ok {
		def := cached.(model.ProcessDefinition)
		return &def, nil
	}
	def, err := s.definitions.Get(ctx, key, version)
	if err != nil {
		return nil, err
	}
	s.cache.SetDefault(cacheKey(key, version), *def)
	return def, nil
}

func (s *MetadataService) Delete(ctx context.Context, key string, version int) error {
	if err := s.definitions.Delete(ctx, key, version); err != nil {
		return err
	}
	s.cache.Flush()
	return nil
}

func (s *MetadataService) List(ctx context.Context) ([]model.ProcessDefinition, error) {
	return s.definitions.List(ctx)
}

func cacheKey(key string, version int) string {
	return fmt.Sprintf("%s:%d", key, version)
}
