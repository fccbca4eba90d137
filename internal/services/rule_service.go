package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"supportops/internal/models"
)

var ErrRuleNotFound = errors.New("rule not found")

// ValidationError 规则配置错误，HTTP 层映射为 422
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// RuleService 自动化规则的增删改查与校验
type RuleService struct {
	db       *gorm.DB
	logger   *logrus.Logger
	limiter  *RateLimiter
	registry *ActionRegistry
}

func NewRuleService(db *gorm.DB, logger *logrus.Logger, limiter *RateLimiter, registry *ActionRegistry) *RuleService {
	return &RuleService{db: db, logger: logger, limiter: limiter, registry: registry}
}

// RuleInput 创建/更新规则的输入
type RuleInput struct {
	Name                    string                 `json:"name" binding:"required"`
	Description             string                 `json:"description"`
	Status                  string                 `json:"status"`
	TriggerPlatform         string                 `json:"trigger_platform" binding:"required"`
	TriggerEvent            string                 `json:"trigger_event" binding:"required"`
	TriggerConditions       map[string]interface{} `json:"trigger_conditions"`
	Actions                 []Action               `json:"actions" binding:"required"`
	IsEnabled               *bool                  `json:"is_enabled"`
	MaxExecutionsPerHour    int                    `json:"max_executions_per_hour"`
	ExecutionTimeoutSeconds int                    `json:"execution_timeout_seconds"`
}

func (s *RuleService) validate(input *RuleInput) error {
	if SupportedEvents(input.TriggerPlatform) == nil {
		return &ValidationError{Field: "trigger_platform", Message: fmt.Sprintf("unsupported platform %q", input.TriggerPlatform)}
	}
	// 事件名不限定在规范表内。未识别的事件按原生名透传到匹配器，
	// 规则可以直接订阅平台原生事件名。
	knownEvent := false
	for _, canonical := range CanonicalEvents(input.TriggerPlatform) {
		if canonical == input.TriggerEvent {
			knownEvent = true
			break
		}
	}
	if !knownEvent {
		s.logger.Infof("Rule targets event %q not in the %s canonical table, matching by native name", input.TriggerEvent, input.TriggerPlatform)
	}

	if len(input.Actions) == 0 {
		return &ValidationError{Field: "actions", Message: "at least one action is required"}
	}
	for i, action := range input.Actions {
		if action.Platform == "" || action.Type == "" {
			return &ValidationError{Field: fmt.Sprintf("actions[%d]", i), Message: "platform and type are required"}
		}
	}

	if input.MaxExecutionsPerHour < 0 || input.MaxExecutionsPerHour > 1000 {
		return &ValidationError{Field: "max_executions_per_hour", Message: "must be between 1 and 1000"}
	}
	if input.ExecutionTimeoutSeconds != 0 && (input.ExecutionTimeoutSeconds < 30 || input.ExecutionTimeoutSeconds > 3600) {
		return &ValidationError{Field: "execution_timeout_seconds", Message: "must be between 30 and 3600"}
	}

	if input.Status != "" {
		switch input.Status {
		case models.RuleStatusDraft, models.RuleStatusActive, models.RuleStatusInactive, models.RuleStatusArchived:
		default:
			return &ValidationError{Field: "status", Message: fmt.Sprintf("invalid status %q", input.Status)}
		}
	}
	return nil
}

// Create 校验并落库新规则
func (s *RuleService) Create(ctx context.Context, userID uint, input *RuleInput) (*models.Rule, error) {
	if err := s.validate(input); err != nil {
		return nil, err
	}

	conditions, err := EncodeConditions(input.TriggerConditions)
	if err != nil {
		return nil, err
	}
	actions, err := EncodeActions(input.Actions)
	if err != nil {
		return nil, err
	}

	rule := models.Rule{
		UserID:                  userID,
		Name:                    input.Name,
		Description:             input.Description,
		Status:                  input.Status,
		TriggerPlatform:         input.TriggerPlatform,
		TriggerEvent:            input.TriggerEvent,
		TriggerConditions:       conditions,
		Actions:                 actions,
		IsEnabled:               true,
		MaxExecutionsPerHour:    input.MaxExecutionsPerHour,
		ExecutionTimeoutSeconds: input.ExecutionTimeoutSeconds,
	}
	if rule.Status == "" {
		rule.Status = models.RuleStatusDraft
	}
	if input.IsEnabled != nil {
		rule.IsEnabled = *input.IsEnabled
	}
	if rule.MaxExecutionsPerHour == 0 {
		rule.MaxExecutionsPerHour = 100
	}
	if rule.ExecutionTimeoutSeconds == 0 {
		rule.ExecutionTimeoutSeconds = 300
	}

	if err := s.db.WithContext(ctx).Create(&rule).Error; err != nil {
		return nil, fmt.Errorf("failed to create rule: %w", err)
	}
	s.logger.Infof("Rule %d created for user %d: %s on %s.%s", rule.ID, userID, rule.Name, rule.TriggerPlatform, rule.TriggerEvent)
	return &rule, nil
}

// List 返回用户的规则，可按状态过滤
func (s *RuleService) List(ctx context.Context, userID uint, status string) ([]models.Rule, error) {
	query := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var rules []models.Rule
	if err := query.Order("created_at DESC").Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	return rules, nil
}

func (s *RuleService) Get(ctx context.Context, userID, ruleID uint) (*models.Rule, error) {
	var rule models.Rule
	err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", ruleID, userID).First(&rule).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRuleNotFound
		}
		return nil, fmt.Errorf("failed to load rule: %w", err)
	}
	return &rule, nil
}

// Update 整体更新规则配置，只写可编辑列。
// 运行统计列由引擎独占写入，并发派发落盘的计数不会被这里覆盖。
func (s *RuleService) Update(ctx context.Context, userID, ruleID uint, input *RuleInput) (*models.Rule, error) {
	rule, err := s.Get(ctx, userID, ruleID)
	if err != nil {
		return nil, err
	}
	if err := s.validate(input); err != nil {
		return nil, err
	}

	updates, err := ruleUpdateColumns(input)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(&models.Rule{}).
		Where("id = ?", rule.ID).
		Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to update rule: %w", err)
	}
	return s.Get(ctx, userID, ruleID)
}

// ruleUpdateColumns 构造 Update 的列集合。统计列
// (execution_count、last_executed_at、last_execution_*)不得出现在这里。
func ruleUpdateColumns(input *RuleInput) (map[string]interface{}, error) {
	conditions, err := EncodeConditions(input.TriggerConditions)
	if err != nil {
		return nil, err
	}
	actions, err := EncodeActions(input.Actions)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{
		"name":               input.Name,
		"description":        input.Description,
		"trigger_platform":   input.TriggerPlatform,
		"trigger_event":      input.TriggerEvent,
		"trigger_conditions": conditions,
		"actions":            actions,
	}
	if input.Status != "" {
		updates["status"] = input.Status
	}
	if input.IsEnabled != nil {
		updates["is_enabled"] = *input.IsEnabled
	}
	if input.MaxExecutionsPerHour > 0 {
		updates["max_executions_per_hour"] = input.MaxExecutionsPerHour
	}
	if input.ExecutionTimeoutSeconds > 0 {
		updates["execution_timeout_seconds"] = input.ExecutionTimeoutSeconds
	}
	return updates, nil
}

// Delete 软删除规则并回收限流窗口
func (s *RuleService) Delete(ctx context.Context, userID, ruleID uint) error {
	result := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", ruleID, userID).Delete(&models.Rule{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete rule: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRuleNotFound
	}
	if s.limiter != nil {
		s.limiter.Reset(ruleID)
	}
	s.logger.Infof("Rule %d deleted for user %d", ruleID, userID)
	return nil
}

// RuleTestResult 规则试跑的结果，不触碰外部系统
type RuleTestResult struct {
	Matched     bool                   `json:"matched"`
	Fields      map[string]interface{} `json:"fields"`
	Conditions  map[string]interface{} `json:"conditions,omitempty"`
	Actions     []Action               `json:"actions"`
	Unsupported []string               `json:"unsupported_actions,omitempty"`
}

// TestRule 用样例载荷试跑规则：走真实的归一化与条件匹配，
// 但不执行动作，只报告哪些动作类型未注册。
func (s *RuleService) TestRule(ctx context.Context, userID, ruleID uint, payload map[string]interface{}, nativeEvent string) (*RuleTestResult, error) {
	rule, err := s.Get(ctx, userID, ruleID)
	if err != nil {
		return nil, err
	}

	normalizer := NewNormalizer(s.logger)
	evt := normalizer.Normalize(rule.TriggerPlatform, nativeEvent, payload, "")

	conditions, err := DecodeConditions(rule.TriggerConditions)
	if err != nil {
		return nil, &ValidationError{Field: "trigger_conditions", Message: err.Error()}
	}
	actions, err := DecodeActions(rule.Actions)
	if err != nil {
		return nil, &ValidationError{Field: "actions", Message: err.Error()}
	}

	result := &RuleTestResult{
		Matched:    evt.Event == rule.TriggerEvent && MatchesConditions(conditions, evt.Fields),
		Fields:     evt.Fields,
		Conditions: conditions,
		Actions:    actions,
	}
	if s.registry != nil {
		for _, action := range actions {
			if _, err := s.registry.Lookup(action.Platform, action.Type); err != nil {
				result.Unsupported = append(result.Unsupported, action.Platform+"."+action.Type)
			}
		}
	}
	return result, nil
}
