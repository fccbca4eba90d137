package actions

import (
	"context"

	"github.com/sirupsen/logrus"

	"supportops/internal/services"
)

// LogExecutor 内置动作：把渲染后的消息写入结构化日志。
// 没有外部依赖，规则试跑与演示环境用它收尾。
type LogExecutor struct {
	logger *logrus.Logger
}

func NewLogExecutor(logger *logrus.Logger) *LogExecutor {
	return &LogExecutor{logger: logger}
}

func (e *LogExecutor) Execute(ctx context.Context, req *services.ActionRequest) (*services.ActionOutcome, error) {
	message := "rule action fired"
	if raw, ok := req.Params["message"].(string); ok && raw != "" {
		message = RenderTemplate(raw, req.TriggerFields)
	}
	level := logrus.InfoLevel
	if raw, ok := req.Params["level"].(string); ok {
		if parsed, err := logrus.ParseLevel(raw); err == nil {
			level = parsed
		}
	}
	e.logger.WithFields(logrus.Fields{
		"action":  "log",
		"trigger": req.TriggerFields,
	}).Log(level, message)

	return &services.ActionOutcome{
		Success: true,
		Message: message,
	}, nil
}
