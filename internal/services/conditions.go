package services

import (
	"encoding/json"
	"fmt"
	"strings"
)

// 条件求值：纯函数，无 I/O，热路径上对每条候选规则运行。
//
// Conditions are a flat map of field name to either a literal (equality) or
// an {operator, value} object. All listed fields must pass (AND semantics);
// a field missing from the event is an immediate non-match.

// DecodeConditions parses the JSON text column of a rule.
func DecodeConditions(raw string) (map[string]interface{}, error) {
	if raw == "" || raw == "null" {
		return nil, nil
	}
	var conds map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &conds); err != nil {
		return nil, fmt.Errorf("invalid conditions: %w", err)
	}
	return conds, nil
}

// EncodeConditions serializes a condition map for storage.
func EncodeConditions(conds map[string]interface{}) (string, error) {
	if len(conds) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(conds)
	if err != nil {
		return "", fmt.Errorf("invalid conditions: %w", err)
	}
	return string(data), nil
}

// MatchesConditions reports whether every condition holds for the event
// fields. An empty or nil condition map matches unconditionally.
func MatchesConditions(conds map[string]interface{}, fields map[string]interface{}) bool {
	if len(conds) == 0 {
		return true
	}
	for field, expected := range conds {
		actual, ok := fields[field]
		if !ok {
			return false
		}
		if spec, ok := expected.(map[string]interface{}); ok {
			op, _ := spec["operator"].(string)
			if op == "" {
				op = "equals"
			}
			if !evaluateOperator(op, actual, spec["value"]) {
				return false
			}
			continue
		}
		if !looseEqual(actual, expected) {
			return false
		}
	}
	return true
}

func evaluateOperator(op string, actual, expected interface{}) bool {
	switch op {
	case "equals":
		return looseEqual(actual, expected)
	case "contains":
		// 数组取成员关系，标量取子串
		if items, ok := actual.([]interface{}); ok {
			for _, item := range items {
				if looseEqual(item, expected) {
					return true
				}
			}
			return false
		}
		return strings.Contains(stringify(actual), stringify(expected))
	case "starts_with":
		return strings.HasPrefix(stringify(actual), stringify(expected))
	case "ends_with":
		return strings.HasSuffix(stringify(actual), stringify(expected))
	case "greater_than":
		a, aok := toFloat(actual)
		b, bok := toFloat(expected)
		return aok && bok && a > b
	case "less_than":
		a, aok := toFloat(actual)
		b, bok := toFloat(expected)
		return aok && bok && a < b
	default:
		return false
	}
}

// looseEqual compares numerically when both sides are numbers, otherwise by
// string form. JSON decoding yields float64 for all numbers, so 3 and 3.0
// must compare equal; a number and a non-number never compare equal.
func looseEqual(actual, expected interface{}) bool {
	a, aok := toFloat(actual)
	b, bok := toFloat(expected)
	if aok && bok {
		return a == b
	}
	if aok != bok {
		return false
	}
	return stringify(actual) == stringify(expected)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func stringify(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	if f, ok := toFloat(v); ok && f == float64(int64(f)) {
		// 避免 float64 打出 "42" 变 "42.000000" 之类
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%v", v)
}
