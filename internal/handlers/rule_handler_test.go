package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"supportops/internal/models"
	"supportops/internal/services"
)

func newRuleHandlerEnv(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.User{}, &models.Rule{}, &models.AuditLog{}); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	registry := services.NewActionRegistry()
	ruleService := services.NewRuleService(db, logger, services.NewRateLimiter(), registry)
	auditService := services.NewAuditService(db, logger)

	router := gin.New()
	RegisterRuleRoutes(router.Group("/api"), NewRuleHandler(ruleService, auditService))
	return router, db
}

func doJSON(t *testing.T, router *gin.Engine, method, path, userID string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func ruleBody() map[string]interface{} {
	return map[string]interface{}{
		"name":             "escalate urgent",
		"trigger_platform": "zendesk",
		"trigger_event":    "ticket_created",
		"trigger_conditions": map[string]interface{}{
			"priority": "urgent",
		},
		"actions": []map[string]interface{}{
			{"platform": "log", "type": "notify", "params": map[string]interface{}{"message": "ticket {ticket_id}"}},
		},
	}
}

func TestRuleHandler_CreateAndGet(t *testing.T) {
	router, _ := newRuleHandlerEnv(t)

	w := doJSON(t, router, http.MethodPost, "/api/rules", "1", ruleBody())
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var created models.Rule
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.MaxExecutionsPerHour != 100 {
		t.Fatalf("expected default limit in response, got %d", created.MaxExecutionsPerHour)
	}

	w = doJSON(t, router, http.MethodGet, fmt.Sprintf("/api/rules/%d", created.ID), "1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", w.Code)
	}
}

func TestRuleHandler_MissingUserHeader(t *testing.T) {
	router, _ := newRuleHandlerEnv(t)

	w := doJSON(t, router, http.MethodGet, "/api/rules", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without X-User-ID, got %d", w.Code)
	}
}

func TestRuleHandler_ValidationMapsTo422(t *testing.T) {
	router, _ := newRuleHandlerEnv(t)

	body := ruleBody()
	body["trigger_platform"] = "intercom"
	w := doJSON(t, router, http.MethodPost, "/api/rules", "1", body)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for bad platform, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRuleHandler_UpdateAndDelete(t *testing.T) {
	router, db := newRuleHandlerEnv(t)

	w := doJSON(t, router, http.MethodPost, "/api/rules", "1", ruleBody())
	var created models.Rule
	_ = json.Unmarshal(w.Body.Bytes(), &created)

	update := ruleBody()
	update["name"] = "renamed"
	update["status"] = "active"
	w = doJSON(t, router, http.MethodPut, fmt.Sprintf("/api/rules/%d", created.ID), "1", update)
	if w.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var updated models.Rule
	_ = json.Unmarshal(w.Body.Bytes(), &updated)
	if updated.Name != "renamed" || updated.Status != models.RuleStatusActive {
		t.Fatalf("update not applied: %+v", updated)
	}

	w = doJSON(t, router, http.MethodDelete, fmt.Sprintf("/api/rules/%d", created.ID), "1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", w.Code)
	}

	var count int64
	db.Model(&models.Rule{}).Where("id = ?", created.ID).Count(&count)
	if count != 0 {
		t.Fatal("rule should be soft-deleted")
	}
}

func TestRuleHandler_OtherUsersRulesHidden(t *testing.T) {
	router, _ := newRuleHandlerEnv(t)

	w := doJSON(t, router, http.MethodPost, "/api/rules", "1", ruleBody())
	var created models.Rule
	_ = json.Unmarshal(w.Body.Bytes(), &created)

	w = doJSON(t, router, http.MethodGet, fmt.Sprintf("/api/rules/%d", created.ID), "2", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for another user, got %d", w.Code)
	}

	w = doJSON(t, router, http.MethodGet, "/api/rules", "2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", w.Code)
	}
	var rules []models.Rule
	_ = json.Unmarshal(w.Body.Bytes(), &rules)
	if len(rules) != 0 {
		t.Fatalf("user 2 should see no rules, got %d", len(rules))
	}
}

func TestRuleHandler_TestRuleDryRun(t *testing.T) {
	router, _ := newRuleHandlerEnv(t)

	w := doJSON(t, router, http.MethodPost, "/api/rules", "1", ruleBody())
	var created models.Rule
	_ = json.Unmarshal(w.Body.Bytes(), &created)

	testBody := map[string]interface{}{
		"event_type": "ticket.created",
		"payload": map[string]interface{}{
			"type":   "ticket.created",
			"ticket": map[string]interface{}{"id": 7, "priority": "urgent"},
		},
	}
	w = doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/rules/%d/test", created.ID), "1", testBody)
	if w.Code != http.StatusOK {
		t.Fatalf("test: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var result struct {
		Matched bool `json:"matched"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &result)
	if !result.Matched {
		t.Fatalf("expected dry run to match: %s", w.Body.String())
	}

	// 试跑不产生执行记录，也不动统计
	w = doJSON(t, router, http.MethodGet, fmt.Sprintf("/api/rules/%d", created.ID), "1", nil)
	var reloaded models.Rule
	_ = json.Unmarshal(w.Body.Bytes(), &reloaded)
	if reloaded.ExecutionCount != 0 {
		t.Fatalf("dry run must not bump counters, got %d", reloaded.ExecutionCount)
	}
}

func TestRuleHandler_AuditListing(t *testing.T) {
	router, db := newRuleHandlerEnv(t)

	w := doJSON(t, router, http.MethodPost, "/api/rules", "1", ruleBody())
	var created models.Rule
	_ = json.Unmarshal(w.Body.Bytes(), &created)

	if err := db.Create(&models.AuditLog{
		UserID: 1,
		RuleID: created.ID,
		Action: models.AuditRuleExecuted,
		Status: "success",
	}).Error; err != nil {
		t.Fatalf("seed audit: %v", err)
	}

	w = doJSON(t, router, http.MethodGet, fmt.Sprintf("/api/rules/%d/audit", created.ID), "1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("audit: expected 200, got %d", w.Code)
	}
	var logs []models.AuditLog
	_ = json.Unmarshal(w.Body.Bytes(), &logs)
	if len(logs) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(logs))
	}
}
