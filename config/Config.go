package config

import "time"

type StorageType string

const STORAGE_TYPE_REDIS StorageType = "redis"
const STORAGE_TYPE_INMEM StorageType = "memory"

type Config struct {
	HttpPort            int
	StorageType         StorageType
	RedisConfig         RedisStorageConfig
	SweepInterval       time.Duration
	SweepWorkerCapacity int
	HistoryLimit        int
	DefinitionCacheTTL  time.Duration
	ConnectorTimeout    time.Duration
	AuditLogFile        string
	LogLevel            string
}

type RedisStorageConfig struct {
	Addrs     []string
	Namespace string
}
