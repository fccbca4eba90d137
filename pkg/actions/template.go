package actions

import (
	"fmt"
	"strings"
)

// RenderTemplate 将 {field} 占位符替换为触发事件的字段值。
// 未知占位符原样保留，方便在日志里发现拼写错误。
func RenderTemplate(template string, fields map[string]interface{}) string {
	if template == "" || !strings.Contains(template, "{") {
		return template
	}
	var b strings.Builder
	rest := template
	for {
		open := strings.Index(rest, "{")
		if open < 0 {
			b.WriteString(rest)
			break
		}
		close := strings.Index(rest[open:], "}")
		if close < 0 {
			b.WriteString(rest)
			break
		}
		close += open
		b.WriteString(rest[:open])
		name := rest[open+1 : close]
		if v, ok := fields[name]; ok {
			b.WriteString(formatValue(v))
		} else {
			b.WriteString(rest[open : close+1])
		}
		rest = rest[close+1:]
	}
	return b.String()
}

// RenderParams 对动作参数做一层占位符渲染，只处理字符串值
func RenderParams(params map[string]interface{}, fields map[string]interface{}) map[string]interface{} {
	if len(params) == 0 {
		return params
	}
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		if s, ok := v.(string); ok {
			out[k] = RenderTemplate(s, fields)
		} else {
			out[k] = v
		}
	}
	return out
}

func formatValue(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
