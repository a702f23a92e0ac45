package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/stagecraft/stagecraft/model"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
)

const jsonCodecName = "json"

// jsonCodec lets Invoke carry plain JSON frames, so the connector can call
// services without generated message types.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return jsonCodecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

var _ Connector = new(rpcConnector)

// rpcConnector performs a unary gRPC call described by config: target
// (host:port), method (/package.Service/Method), payload (default: the
// stage parameters).
type rpcConnector struct {
	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

func NewRpcConnector() *rpcConnector {
	return &rpcConnector{conns: make(map[string]*grpc.ClientConn)}
}

func (c *rpcConnector) Type() model.ConnectorType {
	return model.CONNECTOR_TYPE_RPC
}

func (c *rpcConnector) Call(ctx context.Context, config map[string]any, parameters map[string]any) (any, error) {
	target, _ := config["target"].(string)
	if target == "" {
		return nil, fmt.Errorf("rpc connector config has no target")
	}
	method, _ := config["method"].(string)
	if method == "" {
		return nil, fmt.Errorf("rpc connector config has no method")
	}
	if !strings.HasPrefix(method, "/") {
		method = "/" + method
	}

	conn, err := c.conn(target)
	if err != nil {
		return nil, err
	}

	var payload any
	if body, ok := config["payload"]; ok {
		payload = body
	} else {
		payload = parameters
	}
	var reply map[string]any
	err = conn.Invoke(ctx, method, payload, &reply, grpc.CallContentSubtype(jsonCodecName))
	if err != nil {
		return nil, err
	}
	return reply, nil
}

func (c *rpcConnector) conn(target string) (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conn, ok := c.conns[target]; ok {
		return conn, nil
	}
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	c.conns[target] = conn
	return conn, nil
}

func (c *rpcConnector) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, conn := range c.conns {
		_ = conn.Close()
	}
	c.conns = make(map[string]*grpc.ClientConn)
}
