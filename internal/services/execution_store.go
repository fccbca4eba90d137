package services

import (
	"context"
	"errors"
	"sync"
	"time"
)

// 执行状态，只允许 pending → running → {completed|failed} 单向推进
const (
	ExecutionStatusPending   = "pending"
	ExecutionStatusRunning   = "running"
	ExecutionStatusCompleted = "completed"
	ExecutionStatusFailed    = "failed"
)

var ErrExecutionNotFound = errors.New("execution not found")

// ActionResult 单个动作的执行结果
type ActionResult struct {
	Action  Action                 `json:"action"`
	Status  string                 `json:"status"` // success, failed
	Message string                 `json:"message,omitempty"`
	Error   string                 `json:"error,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

// Execution 一条规则对一个事件的一次尝试
type Execution struct {
	ID              string                 `json:"execution_id"`
	RuleID          uint                   `json:"rule_id"`
	RequestID       string                 `json:"request_id,omitempty"`
	TriggerData     map[string]interface{} `json:"trigger_data,omitempty"`
	StartedAt       time.Time              `json:"started_at"`
	CompletedAt     *time.Time             `json:"completed_at,omitempty"`
	Status          string                 `json:"status"`
	ErrorMessage    string                 `json:"error_message,omitempty"`
	ActionsExecuted []ActionResult         `json:"actions_executed"`
}

// Clone 返回深到动作列表的副本；派发协程持有原件，读取方只见副本。
func (e *Execution) Clone() *Execution {
	cp := *e
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		cp.CompletedAt = &t
	}
	cp.ActionsExecuted = append([]ActionResult(nil), e.ActionsExecuted...)
	return &cp
}

// ExecutionStore 执行记录的读写接口。执行可在 running 状态被查询；
// 后端选择（内存/Redis）是部署决策。
type ExecutionStore interface {
	Create(ctx context.Context, execution *Execution) error
	Update(ctx context.Context, execution *Execution) error
	Get(ctx context.Context, id string) (*Execution, error)
}

// MemoryExecutionStore 进程内实现，带保留时长的惰性清理
type MemoryExecutionStore struct {
	mu         sync.RWMutex
	executions map[string]*Execution
	retention  time.Duration
}

func NewMemoryExecutionStore(retention time.Duration) *MemoryExecutionStore {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &MemoryExecutionStore{
		executions: make(map[string]*Execution),
		retention:  retention,
	}
}

func (s *MemoryExecutionStore) Create(ctx context.Context, execution *Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(time.Now())
	s.executions[execution.ID] = execution.Clone()
	return nil
}

func (s *MemoryExecutionStore) Update(ctx context.Context, execution *Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.executions[execution.ID]; !ok {
		return ErrExecutionNotFound
	}
	s.executions[execution.ID] = execution.Clone()
	return nil
}

func (s *MemoryExecutionStore) Get(ctx context.Context, id string) (*Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	execution, ok := s.executions[id]
	if !ok {
		return nil, ErrExecutionNotFound
	}
	return execution.Clone(), nil
}

func (s *MemoryExecutionStore) pruneLocked(now time.Time) {
	cutoff := now.Add(-s.retention)
	for id, execution := range s.executions {
		if execution.CompletedAt != nil && execution.CompletedAt.Before(cutoff) {
			delete(s.executions, id)
		}
	}
}
