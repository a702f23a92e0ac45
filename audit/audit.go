package audit

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogFileTrail appends one JSON line per lifecycle event to a file, kept
// separate from the operational log so it can be shipped to analytics.
type LogFileTrail struct {
	fileName string
	logger   *zap.Logger
}

func NewLogFileTrail(fileName string) (*LogFileTrail, error) {
	enccoderConfig := zap.NewProductionEncoderConfig()
	enccoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	enccoderConfig.StacktraceKey = "" // to hide stacktrace info
	fileEncoder := zapcore.NewJSONEncoder(enccoderConfig)
	logFile, err := os.OpenFile(fileName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	writer := zapcore.AddSync(logFile)
	defaultLogLevel := zapcore.InfoLevel
	core := zapcore.NewTee(zapcore.NewCore(fileEncoder, writer, defaultLogLevel))
	logger := zap.New(core)
	return &LogFileTrail{
		fileName: fileName,
		logger:   logger,
	}, nil
}

func (lt *LogFileTrail) RecordStageCompleted(definitionKey string, instanceId string, stageKey string, status string) {
	lt.logger.Info("stage", zap.String("definition", definitionKey), zap.String("instance", instanceId), zap.String("stage", stageKey), zap.String("status", status))
}

func (lt *LogFileTrail) RecordFlowCompleted(definitionKey string, instanceId string) {
	lt.logger.Info("flow", zap.String("definition", definitionKey), zap.String("instance", instanceId))
}

func (lt *LogFileTrail) RecordConnectorFailure(definitionKey string, instanceId string, stageKey string, reason string) {
	lt.logger.Info("connector-failure", zap.String("definition", definitionKey), zap.String("instance", instanceId), zap.String("stage", stageKey), zap.String("reason", reason))
}
