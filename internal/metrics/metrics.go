package metrics

import (
	"sync"
	"sync/atomic"
)

// Metrics 进程内计数器，/metrics 端点按 Prometheus 文本格式渲染
type Metrics struct {
	webhooksReceived     sync.Map // platform -> *int64
	webhooksUnauthorized sync.Map // platform -> *int64
	webhooksMalformed    sync.Map // platform -> *int64

	RulesMatched        int64
	ExecutionsStarted   int64
	ExecutionsCompleted int64
	ExecutionsFailed    int64
	RateLimitSkips      int64
	HTTPRateLimited     int64
}

var Default = &Metrics{}

func counter(m *sync.Map, key string) *int64 {
	if v, ok := m.Load(key); ok {
		return v.(*int64)
	}
	v, _ := m.LoadOrStore(key, new(int64))
	return v.(*int64)
}

func (m *Metrics) WebhookReceived(platform string) {
	atomic.AddInt64(counter(&m.webhooksReceived, platform), 1)
}

func (m *Metrics) WebhookUnauthorized(platform string) {
	atomic.AddInt64(counter(&m.webhooksUnauthorized, platform), 1)
}

func (m *Metrics) WebhookMalformed(platform string) {
	atomic.AddInt64(counter(&m.webhooksMalformed, platform), 1)
}

func (m *Metrics) RuleMatched()        { atomic.AddInt64(&m.RulesMatched, 1) }
func (m *Metrics) ExecutionStarted()   { atomic.AddInt64(&m.ExecutionsStarted, 1) }
func (m *Metrics) ExecutionCompleted() { atomic.AddInt64(&m.ExecutionsCompleted, 1) }
func (m *Metrics) ExecutionFailed()    { atomic.AddInt64(&m.ExecutionsFailed, 1) }
func (m *Metrics) RateLimitSkip()      { atomic.AddInt64(&m.RateLimitSkips, 1) }
func (m *Metrics) RequestRateLimited() { atomic.AddInt64(&m.HTTPRateLimited, 1) }

// Snapshot 一次性读出全部计数，渲染端点用
type Snapshot struct {
	WebhooksReceived     map[string]int64
	WebhooksUnauthorized map[string]int64
	WebhooksMalformed    map[string]int64
	RulesMatched         int64
	ExecutionsStarted    int64
	ExecutionsCompleted  int64
	ExecutionsFailed     int64
	RateLimitSkips       int64
	HTTPRateLimited      int64
}

func collect(m *sync.Map) map[string]int64 {
	out := make(map[string]int64)
	m.Range(func(k, v interface{}) bool {
		out[k.(string)] = atomic.LoadInt64(v.(*int64))
		return true
	})
	return out
}

func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		WebhooksReceived:     collect(&m.webhooksReceived),
		WebhooksUnauthorized: collect(&m.webhooksUnauthorized),
		WebhooksMalformed:    collect(&m.webhooksMalformed),
		RulesMatched:         atomic.LoadInt64(&m.RulesMatched),
		ExecutionsStarted:    atomic.LoadInt64(&m.ExecutionsStarted),
		ExecutionsCompleted:  atomic.LoadInt64(&m.ExecutionsCompleted),
		ExecutionsFailed:     atomic.LoadInt64(&m.ExecutionsFailed),
		RateLimitSkips:       atomic.LoadInt64(&m.RateLimitSkips),
		HTTPRateLimited:      atomic.LoadInt64(&m.HTTPRateLimited),
	}
}
