package redis

import (
	"context"
	"errors"

	rd "github.com/redis/go-redis/v9"
	"github.com/stagecraft/stagecraft/config"
	"github.com/stagecraft/stagecraft/model"
	"github.com/stagecraft/stagecraft/persistence"
	"github.com/stagecraft/stagecraft/util"
)

var _ persistence.UserTaskRepository = new(redisUserTaskDao)

const USER_TASK string = "USER_TASK"
const USER_TASK_STAGE string = "USER_TASK_STAGE"
const USER_TASK_ASSIGNEE string = "USER_TASK_ASSIGNEE"
const USER_TASK_INSTANCE string = "USER_TASK_INSTANCE"

type redisUserTaskDao struct {
	baseDao
	encoderDecoder util.EncoderDecoder[model.UserTask]
}

func NewRedisUserTaskDao(conf config.RedisStorageConfig) *redisUserTaskDao {
	return &redisUserTaskDao{
		baseDao:        *newBaseDao(conf),
		encoderDecoder: util.NewJsonEncoderDecoder[model.UserTask](),
	}
}

func (rut *redisUserTaskDao) Save(ctx context.Context, task *model.UserTask) error {
	data, err := rut.encoderDecoder.Encode(*task)
	if err != nil {
		return err
	}
	prev, err := rut.get(ctx, task.ID)
	if err != nil {
		var nfe model.NotFoundError
		if !errors.As(err, &nfe) {
			return err
		}
	}
	key := rut.getNamespaceKey(USER_TASK, task.ID)
	stageKey := rut.getNamespaceKey(USER_TASK_STAGE)
	_, err = rut.redisClient.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
		pipe.Set(ctx, key, data, 0)
		pipe.HSet(ctx, stageKey, task.ProcessInstanceID+"|"+task.StageID, task.ID)
		pipe.SAdd(ctx, rut.getNamespaceKey(USER_TASK_INSTANCE, task.ProcessInstanceID), task.ID)
		if prev != nil && prev.Assignee != task.Assignee {
			pipe.SRem(ctx, rut.getNamespaceKey(USER_TASK_ASSIGNEE, prev.Assignee), task.ID)
		}
		if task.Assignee != "" {
			pipe.SAdd(ctx, rut.getNamespaceKey(USER_TASK_ASSIGNEE, task.Assignee), task.ID)
		}
		return nil
	})
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rut *redisUserTaskDao) ByStage(ctx context.Context, instanceId string, stageId string) (*model.UserTask, error) {
	stageKey := rut.getNamespaceKey(USER_TASK_STAGE)
	id, err := rut.redisClient.HGet(ctx, stageKey, instanceId+"|"+stageId).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, model.NotFoundError{Entity: "user task", ID: stageId}
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return rut.get(ctx, id)
}

func (rut *redisUserTaskDao) ByAssignee(ctx context.Context, assignee string) ([]*model.UserTask, error) {
	return rut.members(ctx, rut.getNamespaceKey(USER_TASK_ASSIGNEE, assignee))
}

func (rut *redisUserTaskDao) ByInstance(ctx context.Context, instanceId string) ([]*model.UserTask, error) {
	return rut.members(ctx, rut.getNamespaceKey(USER_TASK_INSTANCE, instanceId))
}

func (rut *redisUserTaskDao) members(ctx context.Context, setKey string) ([]*model.UserTask, error) {
	ids, err := rut.redisClient.SMembers(ctx, setKey).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, nil
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	var out []*model.UserTask
	for _, id := range ids {
		task, err := rut.get(ctx, id)
		if err != nil {
			var nfe model.NotFoundError
			if errors.As(err, &nfe) {
				continue
			}
			return nil, err
		}
		out = append(out, task)
	}
	return out, nil
}

func (rut *redisUserTaskDao) get(ctx context.Context, id string) (*model.UserTask, error) {
	key := rut.getNamespaceKey(USER_TASK, id)
	val, err := rut.redisClient.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, model.NotFoundError{Entity: "user task", ID: id}
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return rut.encoderDecoder.Decode([]byte(val))
}
