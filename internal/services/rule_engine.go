package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"supportops/internal/metrics"
	"supportops/internal/models"
)

// RuleEngine 规则引擎：接收规范化事件，匹配规则并派发动作。
// 同一事件命中的多条规则并发执行，单条规则内的动作顺序执行。
type RuleEngine struct {
	db             *gorm.DB
	logger         *logrus.Logger
	store          ExecutionStore
	registry       *ActionRegistry
	integrations   *IntegrationService
	audit          *AuditService
	limiter        *RateLimiter
	metrics        *metrics.Metrics
	defaultTimeout time.Duration

	sem chan struct{}
	wg  sync.WaitGroup
}

// RuleEngineOptions 引擎构造参数
type RuleEngineOptions struct {
	Store                   ExecutionStore
	Registry                *ActionRegistry
	Integrations            *IntegrationService
	Audit                   *AuditService
	MaxConcurrentDispatches int
	DefaultTimeout          time.Duration
}

func NewRuleEngine(db *gorm.DB, logger *logrus.Logger, opts RuleEngineOptions) *RuleEngine {
	maxDispatches := opts.MaxConcurrentDispatches
	if maxDispatches <= 0 {
		maxDispatches = 32
	}
	timeout := opts.DefaultTimeout
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	store := opts.Store
	if store == nil {
		store = NewMemoryExecutionStore(0)
	}
	registry := opts.Registry
	if registry == nil {
		registry = NewActionRegistry()
	}
	return &RuleEngine{
		db:             db,
		logger:         logger,
		store:          store,
		registry:       registry,
		integrations:   opts.Integrations,
		audit:          opts.Audit,
		limiter:        NewRateLimiter(),
		metrics:        metrics.Default,
		defaultTimeout: timeout,
		sem:            make(chan struct{}, maxDispatches),
	}
}

// Limiter 暴露限流器，规则删除时需要回收窗口
func (e *RuleEngine) Limiter() *RateLimiter { return e.limiter }

// ProcessTrigger 匹配事件并异步派发命中的规则，返回已创建的执行 ID。
// 返回的执行此刻处于 pending 或 running，结果通过 GetExecution 查询。
func (e *RuleEngine) ProcessTrigger(ctx context.Context, evt *TriggerEvent) ([]string, error) {
	var rules []models.Rule
	err := e.db.WithContext(ctx).
		Where("status = ? AND is_enabled = ? AND trigger_platform = ? AND trigger_event = ?",
			models.RuleStatusActive, true, evt.Platform, evt.Event).
		Order("id ASC").
		Find(&rules).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}

	now := time.Now()
	var executionIDs []string
	for i := range rules {
		rule := rules[i]

		conditions, err := DecodeConditions(rule.TriggerConditions)
		if err != nil {
			e.logger.Warnf("Rule %d has malformed conditions, skipping: %v", rule.ID, err)
			continue
		}
		if !MatchesConditions(conditions, evt.Fields) {
			continue
		}
		e.metrics.RuleMatched()

		if !e.limiter.Allow(rule.ID, rule.MaxExecutionsPerHour, now) {
			e.metrics.RateLimitSkip()
			e.logger.Warnf("Rule %d skipped: hourly execution limit %d reached", rule.ID, rule.MaxExecutionsPerHour)
			continue
		}

		execution := &Execution{
			ID:          uuid.New().String(),
			RuleID:      rule.ID,
			RequestID:   evt.RequestID,
			TriggerData: evt.Fields,
			StartedAt:   now,
			Status:      ExecutionStatusPending,
		}
		if err := e.store.Create(ctx, execution); err != nil {
			e.logger.Errorf("Failed to record execution for rule %d: %v", rule.ID, err)
			continue
		}
		executionIDs = append(executionIDs, execution.ID)
		e.metrics.ExecutionStarted()

		e.wg.Add(1)
		go func(rule models.Rule, execution *Execution) {
			defer e.wg.Done()
			e.sem <- struct{}{}
			defer func() { <-e.sem }()
			e.ExecuteRule(context.Background(), &rule, evt, execution)
		}(rule, execution)
	}

	return executionIDs, nil
}

// ExecuteRule 同步执行一条规则的全部动作并落盘结果。
// 调用方负责确保同一 execution 不被并发执行。
func (e *RuleEngine) ExecuteRule(ctx context.Context, rule *models.Rule, evt *TriggerEvent, execution *Execution) {
	timeout := e.defaultTimeout
	if rule.ExecutionTimeoutSeconds > 0 {
		timeout = time.Duration(rule.ExecutionTimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	execution.Status = ExecutionStatusRunning
	if err := e.store.Update(ctx, execution); err != nil {
		e.logger.Warnf("Failed to mark execution %s running: %v", execution.ID, err)
	}

	actions, err := DecodeActions(rule.Actions)
	if err != nil {
		e.finishExecution(rule, evt, execution, started, fmt.Sprintf("malformed actions: %v", err))
		return
	}

	var timedOut bool
	var failures int
	for i := range actions {
		if ctx.Err() != nil {
			timedOut = true
			break
		}
		result := e.runAction(ctx, rule, evt, &actions[i])
		execution.ActionsExecuted = append(execution.ActionsExecuted, result)
		if result.Error == errDispatchTimeout {
			timedOut = true
			break
		}
		if result.Status == actionStatusFailed {
			failures++
		}
	}

	var errMsg string
	switch {
	case timedOut:
		errMsg = fmt.Sprintf("execution timed out after %s", timeout)
	case failures > 0:
		errMsg = fmt.Sprintf("%d of %d actions failed", failures, len(actions))
	}
	e.finishExecution(rule, evt, execution, started, errMsg)
}

const (
	actionStatusSuccess = "success"
	actionStatusFailed  = "failed"

	errDispatchTimeout = "dispatch timeout"
)

// runAction 执行单个动作。集成缺失、动作类型未注册都记为失败结果，
// 不中断后续动作。
func (e *RuleEngine) runAction(ctx context.Context, rule *models.Rule, evt *TriggerEvent, action *Action) ActionResult {
	result := ActionResult{Action: *action, Status: actionStatusFailed}

	executor, needsIntegration, err := e.registry.lookup(action.Platform, action.Type)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	req := &ActionRequest{
		Params:        action.Params,
		TriggerFields: evt.Fields,
	}
	var integrationID uint
	if needsIntegration && e.integrations != nil {
		resolved, err := e.integrations.Resolve(ctx, rule.UserID, action.Platform)
		if err != nil {
			if errors.Is(err, ErrIntegrationMissing) {
				result.Error = err.Error()
			} else {
				result.Error = fmt.Sprintf("integration lookup failed: %v", err)
			}
			return result
		}
		integrationID = resolved.ID
		req.Credentials = resolved.Credentials
		req.IntegrationConfig = resolved.Config
	}

	type outcomeOrErr struct {
		outcome *ActionOutcome
		err     error
	}
	done := make(chan outcomeOrErr, 1)
	go func() {
		outcome, err := executor.Execute(ctx, req)
		done <- outcomeOrErr{outcome, err}
	}()

	select {
	case <-ctx.Done():
		// 超时后放弃等待，执行器协程自行退出
		result.Error = errDispatchTimeout
	case res := <-done:
		switch {
		case res.err != nil:
			result.Error = res.err.Error()
		case res.outcome == nil:
			result.Error = "executor returned no outcome"
		case !res.outcome.Success:
			result.Error = res.outcome.Message
			result.Data = res.outcome.Data
		default:
			result.Status = actionStatusSuccess
			result.Message = res.outcome.Message
			result.Data = res.outcome.Data
		}
	}

	if e.integrations != nil && integrationID != 0 {
		e.integrations.RecordActionExecuted(context.Background(), integrationID, result.Error)
	}
	return result
}

// finishExecution 终结执行状态、更新规则统计并落审计。
// 存储与数据库此处不再使用请求上下文，避免请求取消丢失终态。
func (e *RuleEngine) finishExecution(rule *models.Rule, evt *TriggerEvent, execution *Execution, started time.Time, errMsg string) {
	now := time.Now()
	execution.CompletedAt = &now
	execution.ErrorMessage = errMsg
	if errMsg != "" {
		execution.Status = ExecutionStatusFailed
		e.metrics.ExecutionFailed()
	} else {
		execution.Status = ExecutionStatusCompleted
		e.metrics.ExecutionCompleted()
	}

	ctx := context.Background()
	if err := e.store.Update(ctx, execution); err != nil {
		e.logger.Errorf("Failed to persist execution %s: %v", execution.ID, err)
	}

	updates := map[string]interface{}{
		"execution_count":       gorm.Expr("execution_count + 1"),
		"last_executed_at":      now,
		"last_execution_status": execution.Status,
		"last_execution_error":  errMsg,
	}
	if err := e.db.WithContext(ctx).Model(&models.Rule{}).
		Where("id = ?", rule.ID).
		Updates(updates).Error; err != nil {
		e.logger.Warnf("Failed to update rule %d stats: %v", rule.ID, err)
	}

	if e.audit != nil {
		action := models.AuditRuleExecuted
		status := "success"
		if execution.Status == ExecutionStatusFailed {
			action = models.AuditRuleExecutionFailed
			status = "failure"
		}
		e.audit.Record(ctx, &AuditEntry{
			UserID:       rule.UserID,
			RuleID:       rule.ID,
			Action:       action,
			ResourceType: "rule",
			ResourceID:   execution.ID,
			RequestID:    evt.RequestID,
			Status:       status,
			ErrorMessage: errMsg,
			Details: map[string]interface{}{
				"platform":         evt.Platform,
				"event":            evt.Event,
				"actions_executed": len(execution.ActionsExecuted),
			},
			DurationMs: now.Sub(started).Milliseconds(),
		})
	}

	e.logger.Infof("Rule %d execution %s finished: %s (%d actions, %dms)",
		rule.ID, execution.ID, execution.Status, len(execution.ActionsExecuted), now.Sub(started).Milliseconds())
}

// GetExecution 查询一次执行的当前状态
func (e *RuleEngine) GetExecution(ctx context.Context, id string) (*Execution, error) {
	return e.store.Get(ctx, id)
}

// Wait 等待在途派发结束，优雅停机时调用
func (e *RuleEngine) Wait() {
	e.wg.Wait()
}
