package models

import (
	"time"

	"gorm.io/gorm"
)

// 用户模型（规则属主，鉴权由外部系统负责）
type User struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Username  string         `gorm:"unique;not null" json:"username"`
	Email     string         `gorm:"unique;not null" json:"email"`
	Status    string         `gorm:"default:'active'" json:"status"` // active, inactive
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Rules        []Rule        `gorm:"foreignKey:UserID" json:"rules,omitempty"`
	Integrations []Integration `gorm:"foreignKey:UserID" json:"integrations,omitempty"`
}

// 规则状态枚举
const (
	RuleStatusDraft    = "draft"
	RuleStatusActive   = "active"
	RuleStatusInactive = "inactive"
	RuleStatusArchived = "archived"
)

// 自动化规则：一个触发器（平台+事件+条件）加一组有序动作
type Rule struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	UserID      uint   `gorm:"index" json:"user_id"`
	Name        string `gorm:"not null;index" json:"name"`
	Description string `gorm:"size:1000" json:"description"`
	Status      string `gorm:"default:'draft';index" json:"status"` // draft, active, inactive, archived

	TriggerPlatform   string `gorm:"size:50;index;not null" json:"trigger_platform"` // zendesk, freshdesk, jira, github
	TriggerEvent      string `gorm:"size:100;not null" json:"trigger_event"`
	TriggerConditions string `gorm:"type:text" json:"trigger_conditions"` // JSON: {field: literal | {operator,value}}
	Actions           string `gorm:"type:text" json:"actions"`            // JSON: [{platform,type,params}]

	IsEnabled               bool `gorm:"default:true" json:"is_enabled"`
	MaxExecutionsPerHour    int  `gorm:"default:100" json:"max_executions_per_hour"`
	ExecutionTimeoutSeconds int  `gorm:"default:300" json:"execution_timeout_seconds"`

	// 运行统计，只由规则引擎写入
	ExecutionCount      int64      `gorm:"default:0" json:"execution_count"`
	LastExecutedAt      *time.Time `json:"last_executed_at"`
	LastExecutionStatus string     `gorm:"size:50" json:"last_execution_status"`
	LastExecutionError  string     `gorm:"type:text" json:"last_execution_error"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	User User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

// 集成状态枚举
const (
	IntegrationStatusActive       = "active"
	IntegrationStatusInactive     = "inactive"
	IntegrationStatusError        = "error"
	IntegrationStatusPendingSetup = "pending_setup"
)

// 第三方平台集成配置
type Integration struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	UserID   uint   `gorm:"index" json:"user_id"`
	Name     string `gorm:"not null" json:"name"`
	Platform string `gorm:"size:50;index;not null" json:"platform"` // slack, trello, notion, google_sheets, ...
	Status   string `gorm:"default:'pending_setup'" json:"status"`  // active, inactive, error, pending_setup
	Config   string `gorm:"type:text" json:"config"`                // JSON: 平台相关设置

	TotalActionsExecuted int64      `gorm:"default:0" json:"total_actions_executed"`
	LastActionExecutedAt *time.Time `json:"last_action_executed_at"`
	LastError            string     `gorm:"size:1000" json:"last_error"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	User       User                   `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Credential *IntegrationCredential `gorm:"foreignKey:IntegrationID" json:"-"`
}

// 集成凭据，密文存储，核心只消费 decrypt 能力
type IntegrationCredential struct {
	ID                   uint      `gorm:"primaryKey" json:"id"`
	IntegrationID        uint      `gorm:"uniqueIndex" json:"integration_id"`
	EncryptedCredentials string    `gorm:"type:text;not null" json:"-"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// 审计动作枚举
const (
	AuditRuleExecuted        = "rule_executed"
	AuditRuleExecutionFailed = "rule_execution_failed"
)

// 审计日志：每次规则执行落一条
type AuditLog struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	UserID       uint      `gorm:"index" json:"user_id"`
	RuleID       uint      `gorm:"index" json:"rule_id"`
	Action       string    `gorm:"size:100;index" json:"action"`
	ResourceType string    `gorm:"size:50" json:"resource_type"`
	ResourceID   string    `gorm:"size:100" json:"resource_id"`
	RequestID    string    `gorm:"size:100;index" json:"request_id"`
	Status       string    `gorm:"size:50;default:'success'" json:"status"`
	ErrorMessage string    `gorm:"type:text" json:"error_message"`
	Details      string    `gorm:"type:text" json:"details"` // JSON 补充信息
	DurationMs   int64     `json:"duration_ms"`
	CreatedAt    time.Time `gorm:"index" json:"created_at"`

	Rule Rule `gorm:"foreignKey:RuleID" json:"rule,omitempty"`
}
