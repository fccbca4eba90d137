package services

import (
	"sync"
	"time"
)

// RateLimiter 每条规则一个滑动窗口：保留最近一次窗口内的放行时间戳，
// 任意时刻回看 60 分钟内的放行数不超过规则的 max_executions_per_hour。
// 放行在派发 goroutine 启动前记账，同一规则的并发事件不会超发。
type RateLimiter struct {
	mu      sync.Mutex
	windows map[uint]*ruleWindow
	window  time.Duration
}

type ruleWindow struct {
	mu    sync.Mutex
	times []time.Time // admission times, oldest first
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		windows: make(map[uint]*ruleWindow),
		window:  time.Hour,
	}
}

// Allow 判断规则在 now 时刻是否还有执行额度，有则立即占用一个名额。
// limit <= 0 表示不限速。
func (l *RateLimiter) Allow(ruleID uint, limit int, now time.Time) bool {
	if limit <= 0 {
		return true
	}
	w := l.windowFor(ruleID)

	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-l.window)
	i := 0
	for i < len(w.times) && !w.times[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.times = append(w.times[:0], w.times[i:]...)
	}

	if len(w.times) >= limit {
		return false
	}
	w.times = append(w.times, now)
	return true
}

// Reset 清空一条规则的窗口（规则删除时调用）。
func (l *RateLimiter) Reset(ruleID uint) {
	l.mu.Lock()
	delete(l.windows, ruleID)
	l.mu.Unlock()
}

func (l *RateLimiter) windowFor(ruleID uint) *ruleWindow {
	l.mu.Lock()
	defer l.mu.Unlock()
	if w, ok := l.windows[ruleID]; ok {
		return w
	}
	w := &ruleWindow{}
	l.windows[ruleID] = w
	return w
}
