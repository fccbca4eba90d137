package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"supportops/internal/config"
	"supportops/internal/models"
)

func main() {
	viper.AddConfigPath(".")
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()

	cfg := config.Load()

	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		dsn = fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
			cfg.Database.Host, cfg.Database.User, cfg.Database.Password, cfg.Database.Name, cfg.Database.Port)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	log.Println("Starting database migration...")

	err = db.AutoMigrate(
		&models.User{},
		&models.Rule{},
		&models.Integration{},
		&models.IntegrationCredential{},
		&models.AuditLog{},
	)
	if err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	log.Println("Database migration completed successfully!")

	log.Println("Creating additional indexes...")

	// 规则匹配是热路径，按平台+事件+状态建复合索引
	db.Exec("CREATE INDEX IF NOT EXISTS idx_rules_trigger_lookup ON rules(trigger_platform, trigger_event, status, is_enabled)")

	// 集成解析按用户+平台查
	db.Exec("CREATE INDEX IF NOT EXISTS idx_integrations_user_platform ON integrations(user_id, platform, status)")

	// 审计按规则倒序翻页
	db.Exec("CREATE INDEX IF NOT EXISTS idx_audit_logs_rule_created ON audit_logs(rule_id, created_at)")

	log.Println("Indexes created successfully!")
}
