package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

var ErrUnsupportedAction = errors.New("unsupported action")

// Action 规则里的一条动作配置
type Action struct {
	Platform string                 `json:"platform"`
	Type     string                 `json:"type"`
	Params   map[string]interface{} `json:"params,omitempty"`
}

// DecodeActions 解析规则的动作 JSON
func DecodeActions(raw string) ([]Action, error) {
	if raw == "" || raw == "[]" {
		return nil, nil
	}
	var actions []Action
	if err := json.Unmarshal([]byte(raw), &actions); err != nil {
		return nil, fmt.Errorf("decode actions: %w", err)
	}
	return actions, nil
}

// EncodeActions 将动作列表编码为可入库的 JSON
func EncodeActions(actions []Action) (string, error) {
	if len(actions) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(actions)
	if err != nil {
		return "", fmt.Errorf("encode actions: %w", err)
	}
	return string(data), nil
}

// ActionRequest 执行器的输入，凭据已解密
type ActionRequest struct {
	Credentials       map[string]interface{}
	Params            map[string]interface{}
	TriggerFields     map[string]interface{}
	IntegrationConfig map[string]interface{}
}

// ActionOutcome 执行器的结果。err 表示执行器自身失败，
// Success=false 表示对端拒绝了动作。
type ActionOutcome struct {
	Success bool
	Message string
	Data    map[string]interface{}
}

// ActionExecutor 按平台+类型注册的动作执行器
type ActionExecutor interface {
	Execute(ctx context.Context, req *ActionRequest) (*ActionOutcome, error)
}

type registeredExecutor struct {
	executor            ActionExecutor
	requiresIntegration bool
}

// ActionRegistry 平台.类型 到执行器的映射，注册在启动期完成
type ActionRegistry struct {
	mu        sync.RWMutex
	executors map[string]registeredExecutor
}

func NewActionRegistry() *ActionRegistry {
	return &ActionRegistry{executors: make(map[string]registeredExecutor)}
}

func actionKey(platform, actionType string) string {
	return platform + "." + actionType
}

// Register 注册需要集成凭据的平台执行器
func (r *ActionRegistry) Register(platform, actionType string, executor ActionExecutor) {
	r.register(platform, actionType, executor, true)
}

// RegisterBuiltin 注册无需集成的内置执行器（log、http 直连）
func (r *ActionRegistry) RegisterBuiltin(platform, actionType string, executor ActionExecutor) {
	r.register(platform, actionType, executor, false)
}

func (r *ActionRegistry) register(platform, actionType string, executor ActionExecutor, requiresIntegration bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[actionKey(platform, actionType)] = registeredExecutor{executor, requiresIntegration}
}

func (r *ActionRegistry) Lookup(platform, actionType string) (ActionExecutor, error) {
	executor, _, err := r.lookup(platform, actionType)
	return executor, err
}

func (r *ActionRegistry) lookup(platform, actionType string) (ActionExecutor, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.executors[actionKey(platform, actionType)]
	if !ok {
		return nil, false, fmt.Errorf("%w: %s.%s", ErrUnsupportedAction, platform, actionType)
	}
	return entry.executor, entry.requiresIntegration, nil
}

// Supported 返回已注册的 平台.类型 列表，供规则校验与调试接口使用
func (r *ActionRegistry) Supported() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.executors))
	for key := range r.executors {
		keys = append(keys, key)
	}
	return keys
}
