package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"supportops/internal/services"
)

// RuleHandler 自动化规则管理接口。
// 调用方身份由网关注入的 X-User-ID 头给出，本服务不做鉴权。
type RuleHandler struct {
	rules *services.RuleService
	audit *services.AuditService
}

func NewRuleHandler(rules *services.RuleService, audit *services.AuditService) *RuleHandler {
	return &RuleHandler{rules: rules, audit: audit}
}

func currentUserID(c *gin.Context) (uint, bool) {
	raw := c.GetHeader("X-User-ID")
	if raw == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Missing user", Message: "X-User-ID header is required"})
		return 0, false
	}
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid user", Message: "X-User-ID must be a positive integer"})
		return 0, false
	}
	return uint(id), true
}

func ruleIDParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id", Message: err.Error()})
		return 0, false
	}
	return uint(id), true
}

func (h *RuleHandler) respondError(c *gin.Context, err error, action string) {
	var vErr *services.ValidationError
	switch {
	case errors.Is(err, services.ErrRuleNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Rule not found", Message: err.Error()})
	case errors.As(err, &vErr):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: "Invalid rule", Message: err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: action, Message: err.Error()})
	}
}

// ListRules 获取当前用户的规则列表
func (h *RuleHandler) ListRules(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	rules, err := h.rules.List(c.Request.Context(), userID, c.Query("status"))
	if err != nil {
		h.respondError(c, err, "Failed to list rules")
		return
	}
	c.JSON(http.StatusOK, rules)
}

// GetRule 获取单条规则
func (h *RuleHandler) GetRule(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	ruleID, ok := ruleIDParam(c)
	if !ok {
		return
	}
	rule, err := h.rules.Get(c.Request.Context(), userID, ruleID)
	if err != nil {
		h.respondError(c, err, "Failed to load rule")
		return
	}
	c.JSON(http.StatusOK, rule)
}

// CreateRule 创建规则
func (h *RuleHandler) CreateRule(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var input services.RuleInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	rule, err := h.rules.Create(c.Request.Context(), userID, &input)
	if err != nil {
		h.respondError(c, err, "Failed to create rule")
		return
	}
	c.JSON(http.StatusCreated, rule)
}

// UpdateRule 更新规则
func (h *RuleHandler) UpdateRule(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	ruleID, ok := ruleIDParam(c)
	if !ok {
		return
	}
	var input services.RuleInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	rule, err := h.rules.Update(c.Request.Context(), userID, ruleID, &input)
	if err != nil {
		h.respondError(c, err, "Failed to update rule")
		return
	}
	c.JSON(http.StatusOK, rule)
}

// DeleteRule 删除规则
func (h *RuleHandler) DeleteRule(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	ruleID, ok := ruleIDParam(c)
	if !ok {
		return
	}
	if err := h.rules.Delete(c.Request.Context(), userID, ruleID); err != nil {
		h.respondError(c, err, "Failed to delete rule")
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "deleted"})
}

// ruleTestRequest 规则试跑入参
type ruleTestRequest struct {
	EventType string                 `json:"event_type"`
	Payload   map[string]interface{} `json:"payload" binding:"required"`
}

// TestRule 用样例载荷试跑规则，不执行任何动作
func (h *RuleHandler) TestRule(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	ruleID, ok := ruleIDParam(c)
	if !ok {
		return
	}
	var req ruleTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	result, err := h.rules.TestRule(c.Request.Context(), userID, ruleID, req.Payload, req.EventType)
	if err != nil {
		h.respondError(c, err, "Failed to test rule")
		return
	}
	c.JSON(http.StatusOK, result)
}

// ListRuleAudit 查询规则的执行审计记录
func (h *RuleHandler) ListRuleAudit(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	ruleID, ok := ruleIDParam(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	logs, err := h.audit.ListByRule(c.Request.Context(), userID, ruleID, limit)
	if err != nil {
		h.respondError(c, err, "Failed to list audit logs")
		return
	}
	c.JSON(http.StatusOK, logs)
}

// RegisterRuleRoutes 注册规则管理路由
func RegisterRuleRoutes(r *gin.RouterGroup, handler *RuleHandler) {
	rules := r.Group("/rules")
	{
		rules.GET("", handler.ListRules)
		rules.POST("", handler.CreateRule)
		rules.GET(":id", handler.GetRule)
		rules.PUT(":id", handler.UpdateRule)
		rules.DELETE(":id", handler.DeleteRule)
		rules.POST(":id/test", handler.TestRule)
		rules.GET(":id/audit", handler.ListRuleAudit)
	}
}
