package agent

import (
	"sync"

	"github.com/stagecraft/stagecraft/audit"
	"github.com/stagecraft/stagecraft/condition"
	"github.com/stagecraft/stagecraft/config"
	"github.com/stagecraft/stagecraft/connector"
	"github.com/stagecraft/stagecraft/engine"
	"github.com/stagecraft/stagecraft/gateway"
	"github.com/stagecraft/stagecraft/logger"
	"github.com/stagecraft/stagecraft/persistence"
	"github.com/stagecraft/stagecraft/persistence/inmem"
	"github.com/stagecraft/stagecraft/persistence/redis"
	"github.com/stagecraft/stagecraft/resolver"
	"github.com/stagecraft/stagecraft/rest"
	"github.com/stagecraft/stagecraft/service"
)

// Agent wires config, storage, engine, sweeper, and the http server into
// one runnable daemon.
type Agent struct {
	Config           config.Config
	instances        persistence.InstanceRepository
	definitions      persistence.DefinitionRepository
	userTasks        persistence.UserTaskRepository
	executor         *engine.Executor
	sweeper          *engine.Sweeper
	metadataService  *service.MetadataService
	executionService *service.ExecutionService
	httpServer       *rest.Server
	shutdown         bool
	shutdowns        chan struct{}
	shutdownLock     sync.Mutex
	wg               sync.WaitGroup
}

func New(conf config.Config) (*Agent, error) {
	a := &Agent{
		Config:    conf,
		shutdowns: make(chan struct{}),
	}
	setup := []func() error{
		a.setupStorage,
		a.setupEngine,
		a.setupServices,
		a.setupHttpServer,
	}
	for _, fn := range setup {
		if err := fn(); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *Agent) setupStorage() error {
	switch a.Config.StorageType {
	case config.STORAGE_TYPE_REDIS:
		a.instances = redis.NewRedisInstanceDao(a.Config.RedisConfig)
		a.definitions = redis.NewRedisDefinitionDao(a.Config.RedisConfig)
		a.userTasks = redis.NewRedisUserTaskDao(a.Config.RedisConfig)
	default:
		a.instances = inmem.NewInmemInstanceRepository()
		a.definitions = inmem.NewInmemDefinitionRepository()
		a.userTasks = inmem.NewInmemUserTaskRepository()
	}
	return nil
}

func (a *Agent) setupEngine() error {
	res := resolver.NewResolver(a.instances)
	evaluator := condition.NewEvaluator(res)
	router := gateway.NewRouter(evaluator, a.instances)

	connectors := []connector.Connector{
		connector.NewRestConnector(a.Config.ConnectorTimeout),
		connector.NewRpcConnector(),
		connector.NewAiConnector(a.Config.ConnectorTimeout),
	}
	if a.Config.StorageType == config.STORAGE_TYPE_REDIS {
		connectors = append(connectors, connector.NewQueueConnector(a.Config.RedisConfig))
	}
	dispatcher := connector.NewDispatcher(res, connectors...)

	a.metadataService = service.NewMetadataService(a.definitions, a.Config.DefinitionCacheTTL)
	a.executor = engine.NewExecutor(a.instances, a.metadataService, dispatcher, res, router, a.Config.HistoryLimit)
	a.executor.SetUserTasks(a.userTasks)
	if a.Config.AuditLogFile != "" {
		trail, err := audit.NewLogFileTrail(a.Config.AuditLogFile)
		if err != nil {
			return err
		}
		a.executor.SetTrail(trail)
	}
	a.sweeper = engine.NewSweeper(a.executor, a.instances, a.Config.SweepInterval, a.Config.SweepWorkerCapacity, &a.wg)
	a.sweeper.Start()
	return nil
}

func (a *Agent) setupServices() error {
	a.executionService = service.NewExecutionService(a.metadataService, a.instances, a.userTasks, a.executor)
	return nil
}

func (a *Agent) setupHttpServer() error {
	var err error
	a.httpServer, err = rest.NewServer(a.Config.HttpPort, a.metadataService, a.executionService)
	if err != nil {
		return err
	}
	return nil
}

func (a *Agent) Start() error {
	go func() {
		if err := a.httpServer.Start(); err != nil {
			_ = a.Shutdown()
			panic(err)
		}
	}()
	return nil
}

func (a *Agent) Shutdown() error {
	logger.Info("shutting down server")
	a.shutdownLock.Lock()
	defer a.shutdownLock.Unlock()
	if a.shutdown {
		return nil
	}
	a.shutdown = true
	close(a.shutdowns)

	a.sweeper.Stop()
	if err := a.httpServer.Stop(); err != nil {
		return err
	}
	logger.Info("waiting for all services to shutdown...")
	a.wg.Wait()
	return nil
}
