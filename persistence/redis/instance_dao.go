package redis

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	rd "github.com/redis/go-redis/v9"
	"github.com/stagecraft/stagecraft/config"
	"github.com/stagecraft/stagecraft/logger"
	"github.com/stagecraft/stagecraft/model"
	"github.com/stagecraft/stagecraft/persistence"
	"github.com/stagecraft/stagecraft/util"
	"go.uber.org/zap"
)

var _ persistence.InstanceRepository = new(redisInstanceDao)

const INSTANCE string = "INSTANCE"
const INSTANCE_TREE string = "INSTANCE_TREE"
const INSTANCE_STATUS string = "INSTANCE_STATUS"
const TIMERS string = "TIMERS"

type redisInstanceDao struct {
	baseDao
	encoderDecoder util.EncoderDecoder[model.ProcessInstance]
}

func NewRedisInstanceDao(conf config.RedisStorageConfig) *redisInstanceDao {
	return &redisInstanceDao{
		baseDao:        *newBaseDao(conf),
		encoderDecoder: util.NewJsonEncoderDecoder[model.ProcessInstance](),
	}
}

func (rid *redisInstanceDao) Create(ctx context.Context, instance *model.ProcessInstance) error {
	data, err := rid.encoderDecoder.Encode(*instance)
	if err != nil {
		return err
	}
	key := rid.getNamespaceKey(INSTANCE, instance.ID)
	treeKey := rid.getNamespaceKey(INSTANCE_TREE, instance.RootProcessInstanceID)
	statusKey := rid.getNamespaceKey(INSTANCE_STATUS)
	_, err = rid.redisClient.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
		pipe.Set(ctx, key, data, 0)
		pipe.RPush(ctx, treeKey, instance.ID)
		pipe.HSet(ctx, statusKey, instance.ID, string(instance.Status))
		return nil
	})
	if err != nil {
		logger.Error("error while saving instance", zap.String("id", instance.ID), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rid *redisInstanceDao) Get(ctx context.Context, id string) (*model.ProcessInstance, error) {
	key := rid.getNamespaceKey(INSTANCE, id)
	val, err := rid.redisClient.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, model.NotFoundError{Entity: "process instance", ID: id}
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return rid.encoderDecoder.Decode([]byte(val))
}

func (rid *redisInstanceDao) Save(ctx context.Context, instance *model.ProcessInstance) error {
	data, err := rid.encoderDecoder.Encode(*instance)
	if err != nil {
		return err
	}
	key := rid.getNamespaceKey(INSTANCE, instance.ID)
	statusKey := rid.getNamespaceKey(INSTANCE_STATUS)
	_, err = rid.redisClient.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
		pipe.Set(ctx, key, data, 0)
		pipe.HSet(ctx, statusKey, instance.ID, string(instance.Status))
		return nil
	})
	if err != nil {
		logger.Error("error while saving instance", zap.String("id", instance.ID), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rid *redisInstanceDao) UpdateStage(ctx context.Context, instanceId string, stage *model.StageInstance, expected model.StageStatus) error {
	instance, err := rid.Get(ctx, instanceId)
	if err != nil {
		return err
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
		instance.Stages[i] = stage
		return rid.Save(ctx, instance)
	}
	return model.NotFoundError{Entity: "stage", ID: stage.ID}
}

func (rid *redisInstanceDao) Delete(ctx context.Context, id string) error {
	instance, err := rid.Get(ctx, id)
	if err != nil {
		return err
	}
	key := rid.getNamespaceKey(INSTANCE, id)
	treeKey := rid.getNamespaceKey(INSTANCE_TREE, instance.RootProcessInstanceID)
	statusKey := rid.getNamespaceKey(INSTANCE_STATUS)
	_, err = rid.redisClient.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.LRem(ctx, treeKey, 0, id)
		pipe.HDel(ctx, statusKey, id)
		return nil
	})
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rid *redisInstanceDao) ByRoot(ctx context.Context, rootId string) ([]*model.ProcessInstance, error) {
	treeKey := rid.getNamespaceKey(INSTANCE_TREE, rootId)
	ids, err := rid.redisClient.LRange(ctx, treeKey, 0, -1).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	var out []*model.ProcessInstance
	for _, id := range ids {
		instance, err := rid.Get(ctx, id)
		if err != nil {
			var nfe model.NotFoundError
			if errors.As(err, &nfe) {
				continue
			}
			return nil, err
		}
		out = append(out, instance)
	}
	return out, nil
}

func (rid *redisInstanceDao) LatestByRootAndKey(ctx context.Context, rootId string, definitionKey string) (*model.ProcessInstance, error) {
	members, err := rid.ByRoot(ctx, rootId)
	if err != nil {
		return nil, err
	}
	for i := len(members) - 1; i >= 0; i-- {
		if members[i].ProcessDefinitionKey == definitionKey {
			return members[i], nil
		}
	}
	return nil, model.NotFoundError{Entity: "process instance", ID: definitionKey}
}

func (rid *redisInstanceDao) AddTimer(ctx context.Context, ref persistence.TimerRef, fireAt time.Time) error {
	timersKey := rid.getNamespaceKey(TIMERS)
	member := rd.Z{
		Score:  float64(fireAt.UnixMilli()),
		Member: ref.ProcessInstanceID + "|" + ref.StageID,
	}
	err := rid.redisClient.ZAdd(ctx, timersKey, member).Err()
	if err != nil {
		logger.Error("error while adding timer", zap.String("instance", ref.ProcessInstanceID), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rid *redisInstanceDao) RemoveTimer(ctx context.Context, ref persistence.TimerRef) error {
	timersKey := rid.getNamespaceKey(TIMERS)
	err := rid.redisClient.ZRem(ctx, timersKey, ref.ProcessInstanceID+"|"+ref.StageID).Err()
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rid *redisInstanceDao) ExpiredTimers(ctx context.Context, now time.Time, batch int) ([]persistence.TimerRef, error) {
	timersKey := rid.getNamespaceKey(TIMERS)
	max := strconv.FormatInt(now.UnixMilli(), 10)
	opt := &rd.ZRangeBy{
		Min:   "0",
		Max:   max,
		Count: int64(batch),
	}
	res, err := rid.redisClient.ZRangeByScore(ctx, timersKey, opt).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, nil
		}
		logger.Error("error while polling timers", zap.Error(err))
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	if len(res) == 0 {
		return nil, nil
	}
	members := make([]interface{}, 0, len(res))
	for _, member := range res {
		members = append(members, member)
	}
	if err := rid.redisClient.ZRem(ctx, timersKey, members...).Err(); err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	var out []persistence.TimerRef
	for _, member := range res {
		parts := strings.SplitN(member, "|", 2)
		if len(parts) != 2 {
			continue
		}
		out = append(out, persistence.TimerRef{ProcessInstanceID: parts[0], StageID: parts[1]})
	}
	return out, nil
}

func (rid *redisInstanceDao) Stats(ctx context.Context) (*persistence.InstanceStats, error) {
	statusKey := rid.getNamespaceKey(INSTANCE_STATUS)
	statuses, err := rid.redisClient.HVals(ctx, statusKey).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	stats := &persistence.InstanceStats{}
	for _, status := range statuses {
		stats.Total++
		switch model.InstanceStatus(status) {
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
