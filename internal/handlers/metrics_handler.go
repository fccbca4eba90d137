package handlers

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"supportops/internal/metrics"
)

// MetricsHandler 按 Prometheus 文本格式输出引擎计数器
type MetricsHandler struct{}

func NewMetricsHandler() *MetricsHandler {
	return &MetricsHandler{}
}

func writePlatformCounter(b *strings.Builder, name, help string, values map[string]int64) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s counter\n", name)
	platforms := make([]string, 0, len(values))
	for platform := range values {
		platforms = append(platforms, platform)
	}
	sort.Strings(platforms)
	for _, platform := range platforms {
		fmt.Fprintf(b, "%s{platform=%q} %d\n", name, platform, values[platform])
	}
}

func writeCounter(b *strings.Builder, name, help string, value int64) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s counter\n", name)
	fmt.Fprintf(b, "%s %d\n", name, value)
}

func (h *MetricsHandler) GetMetrics(c *gin.Context) {
	snap := metrics.Default.Snapshot()

	var b strings.Builder
	writePlatformCounter(&b, "supportops_webhooks_received_total", "Webhook deliveries accepted for processing.", snap.WebhooksReceived)
	writePlatformCounter(&b, "supportops_webhooks_unauthorized_total", "Webhook deliveries rejected for bad signatures.", snap.WebhooksUnauthorized)
	writePlatformCounter(&b, "supportops_webhooks_malformed_total", "Webhook deliveries with unparseable payloads.", snap.WebhooksMalformed)
	writeCounter(&b, "supportops_rules_matched_total", "Rules whose trigger and conditions matched an event.", snap.RulesMatched)
	writeCounter(&b, "supportops_executions_started_total", "Rule executions created.", snap.ExecutionsStarted)
	writeCounter(&b, "supportops_executions_completed_total", "Rule executions that finished with all actions succeeding.", snap.ExecutionsCompleted)
	writeCounter(&b, "supportops_executions_failed_total", "Rule executions that failed or timed out.", snap.ExecutionsFailed)
	writeCounter(&b, "supportops_rate_limit_skips_total", "Rule matches skipped by the hourly execution limit.", snap.RateLimitSkips)
	writeCounter(&b, "supportops_http_rate_limited_total", "HTTP requests rejected by the per-IP rate limiter.", snap.HTTPRateLimited)

	c.Data(http.StatusOK, "text/plain; version=0.0.4; charset=utf-8", []byte(b.String()))
}
