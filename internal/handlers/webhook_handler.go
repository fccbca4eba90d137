package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"supportops/internal/config"
	"supportops/internal/metrics"
	"supportops/internal/services"
)

// WebhookHandler 接收外部平台回调，验签、归一化、交给规则引擎。
// 动作派发是异步的，响应只携带已创建的执行 ID。
type WebhookHandler struct {
	engine     *services.RuleEngine
	verifier   *services.SignatureVerifier
	normalizer *services.Normalizer
	secrets    config.WebhooksConfig
	logger     *logrus.Logger
}

func NewWebhookHandler(engine *services.RuleEngine, verifier *services.SignatureVerifier, normalizer *services.Normalizer, secrets config.WebhooksConfig, logger *logrus.Logger) *WebhookHandler {
	return &WebhookHandler{
		engine:     engine,
		verifier:   verifier,
		normalizer: normalizer,
		secrets:    secrets,
		logger:     logger,
	}
}

// webhookResponse 入站回调的统一应答
type webhookResponse struct {
	Status       string   `json:"status"`
	Message      string   `json:"message"`
	EventType    string   `json:"event_type"`
	ExecutionIDs []string `json:"execution_ids"`
}

func (h *WebhookHandler) respondUnauthorized(c *gin.Context, platform string, err error) {
	metrics.Default.WebhookUnauthorized(platform)
	h.logger.Warnf("%s webhook rejected: %v", platform, err)
	c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "Invalid signature", Message: err.Error()})
}

func (h *WebhookHandler) readPayload(c *gin.Context, platform string) ([]byte, map[string]interface{}, bool) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to read body", Message: err.Error()})
		return nil, nil, false
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		metrics.Default.WebhookMalformed(platform)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid JSON payload", Message: err.Error()})
		return nil, nil, false
	}
	return body, payload, true
}

func (h *WebhookHandler) dispatch(c *gin.Context, platform, native string, payload map[string]interface{}) {
	metrics.Default.WebhookReceived(platform)
	requestID := c.GetString("request_id")
	evt := h.normalizer.Normalize(platform, native, payload, requestID)

	executionIDs, err := h.engine.ProcessTrigger(c.Request.Context(), evt)
	if err != nil {
		h.logger.Errorf("Failed to process %s webhook: %v", platform, err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to process webhook", Message: err.Error()})
		return
	}

	if executionIDs == nil {
		executionIDs = []string{}
	}
	c.JSON(http.StatusOK, webhookResponse{
		Status:       "accepted",
		Message:      "webhook processed",
		EventType:    evt.Event,
		ExecutionIDs: executionIDs,
	})
}

// HandleZendesk 处理 Zendesk 回调，签名为带时间戳的 HMAC
func (h *WebhookHandler) HandleZendesk(c *gin.Context) {
	body, payload, ok := h.readPayload(c, "zendesk")
	if !ok {
		return
	}
	signature := c.GetHeader("X-Zendesk-Webhook-Signature")
	timestamp := c.GetHeader("X-Zendesk-Webhook-Signature-Timestamp")
	if err := h.verifier.VerifyTimestamped(body, signature, timestamp, h.secrets.ZendeskSecret, "zendesk", time.Now()); err != nil {
		h.respondUnauthorized(c, "zendesk", err)
		return
	}
	native, _ := payload["type"].(string)
	h.dispatch(c, "zendesk", native, payload)
}

// HandleFreshdesk 处理 Freshdesk 回调
func (h *WebhookHandler) HandleFreshdesk(c *gin.Context) {
	body, payload, ok := h.readPayload(c, "freshdesk")
	if !ok {
		return
	}
	if err := h.verifier.VerifyPlain(body, c.GetHeader("X-Signature"), h.secrets.FreshdeskSecret, "freshdesk"); err != nil {
		h.respondUnauthorized(c, "freshdesk", err)
		return
	}
	native, _ := payload["event_type"].(string)
	h.dispatch(c, "freshdesk", native, payload)
}

// HandleJira 处理 Jira 回调
func (h *WebhookHandler) HandleJira(c *gin.Context) {
	body, payload, ok := h.readPayload(c, "jira")
	if !ok {
		return
	}
	if err := h.verifier.VerifyPlain(body, c.GetHeader("X-Hub-Signature"), h.secrets.JiraSecret, "jira"); err != nil {
		h.respondUnauthorized(c, "jira", err)
		return
	}
	native, _ := payload["webhookEvent"].(string)
	h.dispatch(c, "jira", native, payload)
}

// HandleGithub 处理 GitHub 回调，事件名来自请求头
func (h *WebhookHandler) HandleGithub(c *gin.Context) {
	body, payload, ok := h.readPayload(c, "github")
	if !ok {
		return
	}
	if err := h.verifier.VerifyPlain(body, c.GetHeader("X-Hub-Signature-256"), h.secrets.GithubSecret, "github"); err != nil {
		h.respondUnauthorized(c, "github", err)
		return
	}
	native := c.GetHeader("X-GitHub-Event")
	h.dispatch(c, "github", native, payload)
}

// GetExecution 查询单次执行的状态与动作结果
func (h *WebhookHandler) GetExecution(c *gin.Context) {
	execution, err := h.engine.GetExecution(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, services.ErrExecutionNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "Execution not found", Message: err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to load execution", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, execution)
}

// ListEvents 列出各平台支持的事件类型，前端建规则时用
func (h *WebhookHandler) ListEvents(c *gin.Context) {
	platforms := map[string]interface{}{}
	for _, platform := range []string{"zendesk", "freshdesk", "jira", "github"} {
		platforms[platform] = services.CanonicalEvents(platform)
	}
	c.JSON(http.StatusOK, gin.H{"platforms": platforms})
}

// RegisterWebhookRoutes 注册回调路由
func RegisterWebhookRoutes(r *gin.RouterGroup, handler *WebhookHandler) {
	webhooks := r.Group("/webhooks")
	{
		webhooks.POST("/zendesk", handler.HandleZendesk)
		webhooks.POST("/freshdesk", handler.HandleFreshdesk)
		webhooks.POST("/jira", handler.HandleJira)
		webhooks.POST("/github", handler.HandleGithub)
		webhooks.GET("/execution/:id", handler.GetExecution)
		webhooks.GET("/events", handler.ListEvents)
	}
}
