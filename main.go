package main

import (
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stagecraft/stagecraft/agent"
	"github.com/stagecraft/stagecraft/config"
	"github.com/stagecraft/stagecraft/logger"
)

type cfg struct {
	config.Config
}
type cli struct {
	cfg cfg
}

func setupFlags(cmd *cobra.Command) error {
	cmd.Flags().String("config-file", "", "Path to config file.")
	cmd.Flags().Int("http-port", 8080, "http port for rest endpoints")
	cmd.Flags().String("storage-impl", "memory", "implementation of underline storage")
	cmd.Flags().String("redis-addr", "localhost:6379", "comma separated list of redis host:port")
	cmd.Flags().String("namespace", "stagecraft", "namespace used in storage")
	cmd.Flags().Duration("sweep-interval", 5*time.Second, "timer sweep period")
	cmd.Flags().Int("sweep-capacity", 512, "timer worker queue capacity")
	cmd.Flags().Int("history-limit", 20, "max retained stage re-open snapshots")
	cmd.Flags().Duration("definition-cache-ttl", 5*time.Minute, "definition cache ttl")
	cmd.Flags().Duration("connector-timeout", 30*time.Second, "http/ai connector request timeout")
	cmd.Flags().String("audit-log-file", "", "append lifecycle events to this file")
	cmd.Flags().String("log-level", "info", "log level")
	return viper.BindPFlags(cmd.Flags())
}

func (c *cli) setupConfig(cmd *cobra.Command, args []string) error {
	configFile, err := cmd.Flags().GetString("config-file")
	if err != nil {
		return err
	}
	viper.SetConfigFile(configFile)

	if err = viper.ReadInConfig(); err != nil {
		// it's ok if config file doesn't exist
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}

	c.cfg.HttpPort = viper.GetInt("http-port")
	c.cfg.StorageType = config.StorageType(viper.GetString("storage-impl"))
	c.cfg.RedisConfig.Addrs = strings.Split(viper.GetString("redis-addr"), ",")
	c.cfg.RedisConfig.Namespace = viper.GetString("namespace")
	c.cfg.SweepInterval = viper.GetDuration("sweep-interval")
	c.cfg.SweepWorkerCapacity = viper.GetInt("sweep-capacity")
	c.cfg.HistoryLimit = viper.GetInt("history-limit")
	c.cfg.DefinitionCacheTTL = viper.GetDuration("definition-cache-ttl")
	c.cfg.ConnectorTimeout = viper.GetDuration("connector-timeout")
	c.cfg.AuditLogFile = viper.GetString("audit-log-file")
	c.cfg.LogLevel = viper.GetString("log-level")
	return nil
}

func (c *cli) run(cmd *cobra.Command, args []string) error {
	logger.Configure(c.cfg.LogLevel)
	agent, err := agent.New(c.cfg.Config)
	if err != nil {
		panic(err)
	}
	err = agent.Start()
	if err != nil {
		panic(err)
	}
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	return agent.Shutdown()
}

func main() {
	cli := &cli{}

	cmd := &cobra.Command{
		Use:     "stagecraft",
		PreRunE: cli.setupConfig,
		RunE:    cli.run,
	}

	if err := setupFlags(cmd); err != nil {
		log.Fatal(err)
	}

	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
