package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"supportops/internal/config"
	"supportops/internal/models"
	"supportops/internal/services"
)

func newWebhookTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := "file:webhooks_" + name + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(
		&models.User{}, &models.Rule{},
		&models.Integration{}, &models.IntegrationCredential{},
		&models.AuditLog{},
	); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return db
}

// recordingExecutor 记录每次调用收到的触发字段
type recordingExecutor struct {
	requests []*services.ActionRequest
}

func (r *recordingExecutor) Execute(ctx context.Context, req *services.ActionRequest) (*services.ActionOutcome, error) {
	r.requests = append(r.requests, req)
	return &services.ActionOutcome{Success: true, Message: "ok"}, nil
}

type webhookTestEnv struct {
	router *gin.Engine
	engine *services.RuleEngine
	db     *gorm.DB
}

func newWebhookTestEnv(t *testing.T, secrets config.WebhooksConfig, registry *services.ActionRegistry) *webhookTestEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	db := newWebhookTestDB(t)
	engine := services.NewRuleEngine(db, logger, services.RuleEngineOptions{
		Registry: registry,
		Audit:    services.NewAuditService(db, logger),
	})
	verifier := services.NewSignatureVerifier(logger, 5*time.Minute)
	normalizer := services.NewNormalizer(logger)
	handler := NewWebhookHandler(engine, verifier, normalizer, secrets, logger)

	router := gin.New()
	RegisterWebhookRoutes(router.Group(""), handler)
	return &webhookTestEnv{router: router, engine: engine, db: db}
}

func plainSig(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func timestampedSig(secret, ts string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func seedZendeskRule(t *testing.T, db *gorm.DB, actions string) *models.Rule {
	t.Helper()
	rule := &models.Rule{
		UserID:               1,
		Name:                 "high priority escalation",
		Status:               models.RuleStatusActive,
		TriggerPlatform:      "zendesk",
		TriggerEvent:         "ticket_created",
		TriggerConditions:    `{"priority":"high"}`,
		Actions:              actions,
		IsEnabled:            true,
		MaxExecutionsPerHour: 100,
	}
	if err := db.Create(rule).Error; err != nil {
		t.Fatalf("seed rule: %v", err)
	}
	return rule
}

func TestWebhookHandler_ZendeskEndToEnd(t *testing.T) {
	registry := services.NewActionRegistry()
	rec := &recordingExecutor{}
	registry.RegisterBuiltin("log", "notify", rec)
	env := newWebhookTestEnv(t, config.WebhooksConfig{ZendeskSecret: "z-secret"}, registry)
	seedZendeskRule(t, env.db, `[{"platform":"log","type":"notify"},{"platform":"log","type":"notify"}]`)

	body := []byte(`{"type":"ticket.created","ticket":{"id":42,"priority":"high"}}`)
	ts := time.Now().UTC().Format(time.RFC3339)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/zendesk", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Zendesk-Webhook-Signature", timestampedSig("z-secret", ts, body))
	req.Header.Set("X-Zendesk-Webhook-Signature-Timestamp", ts)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Status       string   `json:"status"`
		EventType    string   `json:"event_type"`
		ExecutionIDs []string `json:"execution_ids"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "ticket_created", resp.EventType)
	require.Len(t, resp.ExecutionIDs, 1)

	// 派发异步完成，轮询执行查询端点直到终态
	var execution struct {
		Status          string `json:"status"`
		ActionsExecuted []struct {
			Status string `json:"status"`
		} `json:"actions_executed"`
	}
	require.Eventually(t, func() bool {
		getReq := httptest.NewRequest(http.MethodGet, "/webhooks/execution/"+resp.ExecutionIDs[0], nil)
		getW := httptest.NewRecorder()
		env.router.ServeHTTP(getW, getReq)
		if getW.Code != http.StatusOK {
			return false
		}
		if err := json.Unmarshal(getW.Body.Bytes(), &execution); err != nil {
			return false
		}
		return execution.Status == "completed"
	}, 2*time.Second, 10*time.Millisecond)

	require.Len(t, execution.ActionsExecuted, 2)
	env.engine.Wait()
	require.Len(t, rec.requests, 2)
	require.Equal(t, float64(42), rec.requests[0].TriggerFields["ticket_id"])
}

func TestWebhookHandler_BadSignature(t *testing.T) {
	env := newWebhookTestEnv(t, config.WebhooksConfig{GithubSecret: "hub"}, services.NewActionRegistry())

	body := []byte(`{"action":"opened"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", "sha256="+plainSig("wrong", body))
	req.Header.Set("X-GitHub-Event", "issues")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWebhookHandler_MissingSignature(t *testing.T) {
	env := newWebhookTestEnv(t, config.WebhooksConfig{FreshdeskSecret: "fd"}, services.NewActionRegistry())

	req := httptest.NewRequest(http.MethodPost, "/webhooks/freshdesk", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWebhookHandler_MalformedJSON(t *testing.T) {
	env := newWebhookTestEnv(t, config.WebhooksConfig{JiraSecret: "j"}, services.NewActionRegistry())

	body := []byte(`{not json`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/jira", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature", plainSig("j", body))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookHandler_NoMatchingRules(t *testing.T) {
	env := newWebhookTestEnv(t, config.WebhooksConfig{GithubSecret: "hub"}, services.NewActionRegistry())

	body := []byte(`{"action":"opened","issue":{"number":1}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", "sha256="+plainSig("hub", body))
	req.Header.Set("X-GitHub-Event", "issues")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		ExecutionIDs []string `json:"execution_ids"`
		EventType    string   `json:"event_type"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Empty(t, resp.ExecutionIDs)
	require.Equal(t, "issue_created", resp.EventType)
}

func TestWebhookHandler_GetExecutionNotFound(t *testing.T) {
	env := newWebhookTestEnv(t, config.WebhooksConfig{}, services.NewActionRegistry())

	req := httptest.NewRequest(http.MethodGet, "/webhooks/execution/nope", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestWebhookHandler_ListEvents(t *testing.T) {
	env := newWebhookTestEnv(t, config.WebhooksConfig{}, services.NewActionRegistry())

	req := httptest.NewRequest(http.MethodGet, "/webhooks/events", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Platforms map[string][]string `json:"platforms"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Contains(t, resp.Platforms, "zendesk")
	require.Contains(t, resp.Platforms["zendesk"], "ticket_created")
	require.Contains(t, resp.Platforms["github"], "pr_created")
}
