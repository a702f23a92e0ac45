package connector

import (
	"context"
	"encoding/json"
	"fmt"

	rd "github.com/redis/go-redis/v9"
	"github.com/stagecraft/stagecraft/config"
	"github.com/stagecraft/stagecraft/model"
)

var _ Connector = new(queueConnector)

// queueConnector publishes a message to a redis-backed queue. Config:
// queue (name, required), message (default: the stage parameters).
type queueConnector struct {
	redisClient rd.UniversalClient
	namespace   string
}

func NewQueueConnector(conf config.RedisStorageConfig) *queueConnector {
	return &queueConnector{
		redisClient: rd.NewUniversalClient(&rd.UniversalOptions{Addrs: conf.Addrs}),
		namespace:   conf.Namespace,
	}
}

func (c *queueConnector) Type() model.ConnectorType {
	return model.CONNECTOR_TYPE_QUEUE
}

func (c *queueConnector) Call(ctx context.Context, config map[string]any, parameters map[string]any) (any, error) {
	queue, _ := config["queue"].(string)
	if queue == "" {
		return nil, fmt.Errorf("message-queue connector config has no queue")
	}
	var message any
	if body, ok := config["message"]; ok {
		message = body
	} else {
		message = parameters
	}
	data, err := json.Marshal(message)
	if err != nil {
		return nil, err
	}
	key := fmt.Sprintf("%s:QUEUE:%s", c.namespace, queue)
	if err := c.redisClient.RPush(ctx, key, data).Err(); err != nil {
		return nil, err
	}
	return map[string]any{"queue": queue, "published": true}, nil
}
