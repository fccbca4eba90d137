package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"supportops/internal/models"
)

var ErrIntegrationMissing = errors.New("integration not configured")

// Decryptor 凭据解密接口，由 pkg/crypto 实现
type Decryptor interface {
	Decrypt(ciphertext string) ([]byte, error)
}

// ResolvedIntegration 解密后的集成，动作执行前的最终形态
type ResolvedIntegration struct {
	ID          uint
	Platform    string
	Config      map[string]interface{}
	Credentials map[string]interface{}
}

// IntegrationService 集成配置与凭据管理服务
type IntegrationService struct {
	db        *gorm.DB
	logger    *logrus.Logger
	decryptor Decryptor
}

func NewIntegrationService(db *gorm.DB, logger *logrus.Logger, decryptor Decryptor) *IntegrationService {
	return &IntegrationService{db: db, logger: logger, decryptor: decryptor}
}

// Resolve 查找用户在指定平台的活跃集成并解密凭据
func (s *IntegrationService) Resolve(ctx context.Context, userID uint, platform string) (*ResolvedIntegration, error) {
	var integration models.Integration
	err := s.db.WithContext(ctx).
		Preload("Credential").
		Where("user_id = ? AND platform = ? AND status = ?", userID, platform, models.IntegrationStatusActive).
		First(&integration).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrIntegrationMissing, platform)
		}
		return nil, fmt.Errorf("failed to load integration: %w", err)
	}

	resolved := &ResolvedIntegration{
		ID:       integration.ID,
		Platform: integration.Platform,
	}

	if integration.Config != "" {
		if err := json.Unmarshal([]byte(integration.Config), &resolved.Config); err != nil {
			s.logger.Warnf("Integration %d has malformed config: %v", integration.ID, err)
		}
	}

	if integration.Credential == nil || integration.Credential.EncryptedCredentials == "" {
		return nil, fmt.Errorf("%w: %s has no credentials", ErrIntegrationMissing, platform)
	}
	plaintext, err := s.decryptor.Decrypt(integration.Credential.EncryptedCredentials)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credentials for integration %d: %w", integration.ID, err)
	}
	if err := json.Unmarshal(plaintext, &resolved.Credentials); err != nil {
		return nil, fmt.Errorf("failed to decode credentials for integration %d: %w", integration.ID, err)
	}

	return resolved, nil
}

// RecordActionExecuted 更新集成的动作统计，失败只记日志不打断派发
func (s *IntegrationService) RecordActionExecuted(ctx context.Context, integrationID uint, execErr string) {
	now := time.Now()
	updates := map[string]interface{}{
		"total_actions_executed":  gorm.Expr("total_actions_executed + 1"),
		"last_action_executed_at": now,
	}
	if execErr != "" {
		updates["last_error"] = execErr
	}
	if err := s.db.WithContext(ctx).Model(&models.Integration{}).
		Where("id = ?", integrationID).
		Updates(updates).Error; err != nil {
		s.logger.Warnf("Failed to update integration %d stats: %v", integrationID, err)
	}
}
