package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	rd "github.com/redis/go-redis/v9"
	"github.com/stagecraft/stagecraft/config"
	"github.com/stagecraft/stagecraft/model"
	"github.com/stagecraft/stagecraft/persistence"
	"github.com/stagecraft/stagecraft/util"
)

var _ persistence.DefinitionRepository = new(redisDefinitionDao)

const DEFINITION string = "DEFINITION"
const DEFINITION_LATEST string = "DEFINITION_LATEST"
const DEFINITION_ALL string = "DEFINITION_ALL"

type redisDefinitionDao struct {
	baseDao
	encoderDecoder util.EncoderDecoder[model.ProcessDefinition]
}

func NewRedisDefinitionDao(conf config.RedisStorageConfig) *redisDefinitionDao {
	return &redisDefinitionDao{
		baseDao:        *newBaseDao(conf),
		encoderDecoder: util.NewJsonEncoderDecoder[model.ProcessDefinition](),
	}
}

func (rdd *redisDefinitionDao) Save(ctx context.Context, def model.ProcessDefinition) error {
	data, err := rdd.encoderDecoder.Encode(def)
	if err != nil {
		return err
	}
	key := rdd.getNamespaceKey(DEFINITION, def.Key, strconv.Itoa(def.Version))
	latestKey := rdd.getNamespaceKey(DEFINITION_LATEST, def.Key)
	allKey := rdd.getNamespaceKey(DEFINITION_ALL)
	_, err = rdd.redisClient.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
		pipe.Set(ctx, key, data, 0)
		pipe.SAdd(ctx, allKey, fmt.Sprintf("%s:%d", def.Key, def.Version))
		// latest is the highest version saved so far
		pipe.Eval(ctx, `local cur = redis.call('GET', KEYS[1])
if not cur or tonumber(cur) < tonumber(ARGV[1]) then
  redis.call('SET', KEYS[1], ARGV[1])
end
return 1`, []string{latestKey}, def.Version)
		return nil
	})
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rdd *redisDefinitionDao) Get(ctx context.Context, key string, version int) (*model.ProcessDefinition, error) {
	if version == 0 {
		latestKey := rdd.getNamespaceKey(DEFINITION_LATEST, key)
		val, err := rdd.redisClient.Get(ctx, latestKey).Result()
		if err != nil {
			if errors.Is(err, rd.Nil) {
				return nil, model.NotFoundError{Entity: "process definition", ID: key}
			}
			return nil, persistence.StorageLayerError{Message: err.Error()}
		}
		version, err = strconv.Atoi(val)
		if err != nil {
			return nil, persistence.StorageLayerError{Message: err.Error()}
		}
	}
	defKey := rdd.getNamespaceKey(DEFINITION, key, strconv.Itoa(version))
	val, err := rdd.redisClient.Get(ctx, defKey).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, model.NotFoundError{Entity: "process definition", ID: fmt.Sprintf("%s:%d", key, version)}
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return rdd.encoderDecoder.Decode([]byte(val))
}

func (rdd *redisDefinitionDao) Delete(ctx context.Context, key string, version int) error {
	allKey := rdd.getNamespaceKey(DEFINITION_ALL)
	if version == 0 {
		members, err := rdd.redisClient.SMembers(ctx, allKey).Result()
		if err != nil {
			return persistence.StorageLayerError{Message: err.Error()}
		}
		_, err = rdd.redisClient.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
			for _, member := range members {
				if !strings.HasPrefix(member, key+":") {
					continue
				}
				pipe.Del(ctx, rdd.getNamespaceKey(DEFINITION, member))
				pipe.SRem(ctx, allKey, member)
			}
			pipe.Del(ctx, rdd.getNamespaceKey(DEFINITION_LATEST, key))
			return nil
		})
		if err != nil {
			return persistence.StorageLayerError{Message: err.Error()}
		}
		return nil
	}
	_, err := rdd.redisClient.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
		pipe.Del(ctx, rdd.getNamespaceKey(DEFINITION, key, strconv.Itoa(version)))
		pipe.SRem(ctx, allKey, fmt.Sprintf("%s:%d", key, version))
		return nil
	})
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rdd *redisDefinitionDao) List(ctx context.Context) ([]model.ProcessDefinition, error) {
	allKey := rdd.getNamespaceKey(DEFINITION_ALL)
	members, err := rdd.redisClient.SMembers(ctx, allKey).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	var out []model.ProcessDefinition
	for _, member := range members {
		val, err := rdd.redisClient.Get(ctx, rdd.getNamespaceKey(DEFINITION, member)).Result()
		if err != nil {
			if errors.Is(err, rd.Nil) {
				continue
			}
			return nil, persistence.StorageLayerError{Message: err.Error()}
		}
		def, err := rdd.encoderDecoder.Decode([]byte(val))
		if err != nil {
			return nil, err
		}
		out = append(out, *def)
	}
	return out, nil
}
