package services

import (
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"supportops/internal/models"
)

// AuditService 审计日志服务，落库失败只告警不影响主流程
type AuditService struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewAuditService(db *gorm.DB, logger *logrus.Logger) *AuditService {
	return &AuditService{db: db, logger: logger}
}

// AuditEntry 一条审计记录的输入
type AuditEntry struct {
	UserID       uint
	RuleID       uint
	Action       string
	ResourceType string
	ResourceID   string
	RequestID    string
	Status       string
	ErrorMessage string
	Details      map[string]interface{}
	DurationMs   int64
}

func (s *AuditService) Record(ctx context.Context, entry *AuditEntry) {
	record := models.AuditLog{
		UserID:       entry.UserID,
		RuleID:       entry.RuleID,
		Action:       entry.Action,
		ResourceType: entry.ResourceType,
		ResourceID:   entry.ResourceID,
		RequestID:    entry.RequestID,
		Status:       entry.Status,
		ErrorMessage: entry.ErrorMessage,
		DurationMs:   entry.DurationMs,
	}
	if len(entry.Details) > 0 {
		if data, err := json.Marshal(entry.Details); err == nil {
			record.Details = string(data)
		}
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.logger.Warnf("Failed to write audit log for rule %d: %v", entry.RuleID, err)
	}
}

// ListByRule 按规则查询最近的审计记录
func (s *AuditService) ListByRule(ctx context.Context, userID, ruleID uint, limit int) ([]models.AuditLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var logs []models.AuditLog
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND rule_id = ?", userID, ruleID).
		Order("created_at DESC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}
