package services

import (
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// TriggerEvent 单次 webhook 调用的规范化事件，只在内存中存在
type TriggerEvent struct {
	Platform     string                 `json:"platform"`
	Event        string                 `json:"event"`        // canonical name used for rule matching
	NativeEvent  string                 `json:"native_event"` // platform's own event name
	Unrecognized bool                   `json:"unrecognized"`
	Fields       map[string]interface{} `json:"fields"` // flat map the condition evaluator compares against
	RawPayload   map[string]interface{} `json:"raw_payload"`
	ReceivedAt   time.Time              `json:"received_at"`
	RequestID    string                 `json:"request_id"`
}

// Normalizer maps platform-native webhook payloads into TriggerEvents.
type Normalizer struct {
	logger *logrus.Logger
}

func NewNormalizer(logger *logrus.Logger) *Normalizer {
	if logger == nil {
		logger = logrus.New()
	}
	return &Normalizer{logger: logger}
}

// 各平台原生事件名到内部规范名的静态映射
var eventTables = map[string]map[string]string{
	"zendesk": {
		"ticket.created":          "ticket_created",
		"ticket.updated":          "ticket_updated",
		"ticket.solved":           "ticket_solved",
		"ticket.closed":           "ticket_closed",
		"ticket.status_changed":   "status_changed",
		"ticket.priority_changed": "priority_changed",
		"ticket.assignee_changed": "assignee_changed",
		"ticket.tag_added":        "tag_added",
		"ticket.tag_removed":      "tag_removed",
		"comment.created":         "comment_created",
		"user.created":            "user_created",
		"user.updated":            "user_updated",
		"organization.created":    "organization_created",
		"organization.updated":    "organization_updated",
	},
	"freshdesk": {
		"ticket_create":          "ticket_created",
		"ticket_created":         "ticket_created",
		"ticket_update":          "ticket_updated",
		"ticket_updated":         "ticket_updated",
		"ticket_resolved":        "ticket_solved",
		"ticket_closed":          "ticket_closed",
		"ticket_status_change":   "status_changed",
		"ticket_priority_change": "priority_changed",
		"ticket_agent_change":    "assignee_changed",
		"ticket_tag_add":         "tag_added",
		"ticket_tag_remove":      "tag_removed",
		"note_created":           "note_created",
		"contact_created":        "contact_created",
		"contact_updated":        "contact_updated",
	},
	"jira": {
		"jira:issue_created":          "issue_created",
		"jira:issue_updated":          "issue_updated",
		"jira:issue_deleted":          "issue_deleted",
		"jira:issue_assigned":         "assignee_changed",
		"jira:issue_status_changed":   "status_changed",
		"jira:issue_priority_changed": "priority_changed",
		"comment_created":             "issue_commented",
	},
	"github": {
		"issue_comment": "issue_commented",
		"push":          "code_pushed",
	},
}

// SupportedEvents 返回一个平台的 原生事件名 -> 规范名 表；未知平台返回 nil。
func SupportedEvents(platform string) map[string]string {
	return eventTables[platform]
}

// GitHub 顶层事件按 payload.action 展开，不在静态表里
var githubFanoutEvents = []string{
	"issue_created", "issue_updated",
	"pr_created", "pr_updated",
	"release_created", "release_updated",
}

// CanonicalEvents 返回平台全部可触发的规范事件名（含展开事件），
// 排序稳定；未知平台返回 nil。
func CanonicalEvents(platform string) []string {
	table, ok := eventTables[platform]
	if !ok {
		return nil
	}
	seen := map[string]bool{}
	for _, canonical := range table {
		seen[canonical] = true
	}
	if platform == "github" {
		for _, name := range githubFanoutEvents {
			seen[name] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CanonicalEvent resolves a platform-native event name to the internal name.
// GitHub's top-level event names fan out by the payload "action" field; the
// remaining platforms are plain table lookups. Unknown names pass through
// unchanged with ok=false so rules authored against native names still match.
func CanonicalEvent(platform, native string, payload map[string]interface{}) (string, bool) {
	if platform == "github" {
		action, _ := payload["action"].(string)
		switch native {
		case "issues":
			if action == "opened" {
				return "issue_created", true
			}
			return "issue_updated", true
		case "pull_request":
			if action == "opened" {
				return "pr_created", true
			}
			return "pr_updated", true
		case "release":
			if action == "published" {
				return "release_created", true
			}
			return "release_updated", true
		}
	}
	if table, ok := eventTables[platform]; ok {
		if canonical, ok := table[native]; ok {
			return canonical, true
		}
	}
	return native, false
}

// Normalize builds the TriggerEvent for one webhook delivery. The extracted
// field map is the stable contract the condition evaluator relies on; keys
// are documented per platform in the extractors below.
func (n *Normalizer) Normalize(platform, native string, payload map[string]interface{}, requestID string) *TriggerEvent {
	canonical, recognized := CanonicalEvent(platform, native, payload)
	if !recognized {
		n.logger.Warnf("webhook: unrecognized %s event type: %s", platform, native)
	}

	evt := &TriggerEvent{
		Platform:     platform,
		Event:        canonical,
		NativeEvent:  native,
		Unrecognized: !recognized,
		RawPayload:   payload,
		ReceivedAt:   time.Now().UTC(),
		RequestID:    requestID,
	}

	switch platform {
	case "zendesk":
		evt.Fields = extractZendeskFields(canonical, payload)
	case "freshdesk":
		evt.Fields = extractFreshdeskFields(canonical, payload)
	case "jira":
		evt.Fields = extractJiraFields(payload)
	case "github":
		evt.Fields = extractGithubFields(canonical, payload)
	default:
		evt.Fields = extractScalars(payload)
	}
	return evt
}

// Zendesk field contract: ticket_id, priority, status, type, group_id,
// assignee_id, requester_id, requester_email, organization_id, tags, plus
// comment_*/user_*/organization_* keys for non-ticket events.
func extractZendeskFields(event string, payload map[string]interface{}) map[string]interface{} {
	fields := map[string]interface{}{}
	if ticket := subMap(payload, "ticket"); ticket != nil {
		putIf(fields, "ticket_id", ticket["id"])
		putIf(fields, "priority", ticket["priority"])
		putIf(fields, "status", ticket["status"])
		putIf(fields, "type", ticket["type"])
		putIf(fields, "group_id", ticket["group_id"])
		putIf(fields, "assignee_id", ticket["assignee_id"])
		putIf(fields, "requester_id", ticket["requester_id"])
		putIf(fields, "organization_id", ticket["organization_id"])
		putIf(fields, "tags", ticket["tags"])
	}
	if requester := subMap(payload, "requester"); requester != nil {
		putIf(fields, "requester_email", requester["email"])
	}
	if comment := subMap(payload, "comment"); comment != nil {
		putIf(fields, "comment_id", comment["id"])
		putIf(fields, "comment_public", comment["public"])
		putIf(fields, "author_id", comment["author_id"])
	}
	if author := subMap(payload, "author"); author != nil {
		putIf(fields, "author_role", author["role"])
	}
	if user := subMap(payload, "user"); user != nil {
		putIf(fields, "user_id", user["id"])
		putIf(fields, "user_email", user["email"])
		putIf(fields, "user_role", user["role"])
		putIf(fields, "organization_id", user["organization_id"])
		putIf(fields, "tags", user["tags"])
	}
	if org := subMap(payload, "organization"); org != nil {
		putIf(fields, "organization_id", org["id"])
		putIf(fields, "organization_name", org["name"])
		putIf(fields, "domain_names", org["domain_names"])
		putIf(fields, "tags", org["tags"])
	}
	if changes := subMap(payload, "changes"); changes != nil {
		fields["changes"] = mapKeys(changes)
	}
	return fields
}

// Freshdesk field contract: ticket_id, priority, status, type, source,
// group_id, responder_id, requester_email, tags, plus note_*/contact_* keys.
func extractFreshdeskFields(event string, payload map[string]interface{}) map[string]interface{} {
	fields := map[string]interface{}{}
	if ticket := subMap(payload, "ticket"); ticket != nil {
		putIf(fields, "ticket_id", ticket["id"])
		putIf(fields, "priority", ticket["priority"])
		putIf(fields, "status", ticket["status"])
		putIf(fields, "type", ticket["type"])
		putIf(fields, "source", ticket["source"])
		putIf(fields, "group_id", ticket["group_id"])
		putIf(fields, "responder_id", ticket["responder_id"])
		putIf(fields, "tags", ticket["tags"])
	}
	if requester := subMap(payload, "requester"); requester != nil {
		putIf(fields, "requester_email", requester["email"])
		putIf(fields, "company_id", requester["company_id"])
	}
	if note := subMap(payload, "note"); note != nil {
		putIf(fields, "note_id", note["id"])
		putIf(fields, "note_private", note["private"])
		putIf(fields, "note_incoming", note["incoming"])
		putIf(fields, "user_id", note["user_id"])
	}
	if contact := subMap(payload, "contact"); contact != nil {
		putIf(fields, "contact_id", contact["id"])
		putIf(fields, "contact_email", contact["email"])
		putIf(fields, "company_id", contact["company_id"])
		putIf(fields, "tags", contact["tags"])
	}
	if changes := subMap(payload, "changes"); changes != nil {
		fields["changes"] = mapKeys(changes)
	}
	return fields
}

// Jira field contract: issue_key, project_key, issue_type, priority, status,
// assignee_id, reporter_email, labels.
func extractJiraFields(payload map[string]interface{}) map[string]interface{} {
	fields := map[string]interface{}{}
	issue := subMap(payload, "issue")
	if issue == nil {
		return fields
	}
	putIf(fields, "issue_key", issue["key"])
	f := subMap(issue, "fields")
	if f == nil {
		return fields
	}
	if project := subMap(f, "project"); project != nil {
		putIf(fields, "project_key", project["key"])
	}
	if issuetype := subMap(f, "issuetype"); issuetype != nil {
		putIf(fields, "issue_type", issuetype["name"])
	}
	if priority := subMap(f, "priority"); priority != nil {
		putIf(fields, "priority", priority["name"])
	}
	if status := subMap(f, "status"); status != nil {
		putIf(fields, "status", status["name"])
	}
	if assignee := subMap(f, "assignee"); assignee != nil {
		putIf(fields, "assignee_id", assignee["accountId"])
	}
	if reporter := subMap(f, "reporter"); reporter != nil {
		putIf(fields, "reporter_email", reporter["emailAddress"])
	}
	putIf(fields, "labels", f["labels"])
	return fields
}

// GitHub field contract: repo, action, number, title, author, labels, branch.
func extractGithubFields(event string, payload map[string]interface{}) map[string]interface{} {
	fields := map[string]interface{}{}
	putIf(fields, "action", payload["action"])
	if repo := subMap(payload, "repository"); repo != nil {
		putIf(fields, "repo", repo["name"])
		putIf(fields, "repo_full_name", repo["full_name"])
	}
	if sender := subMap(payload, "sender"); sender != nil {
		putIf(fields, "author", sender["login"])
	}
	if issue := subMap(payload, "issue"); issue != nil {
		putIf(fields, "number", issue["number"])
		putIf(fields, "title", issue["title"])
		fields["labels"] = labelNames(issue["labels"])
	}
	if pr := subMap(payload, "pull_request"); pr != nil {
		putIf(fields, "number", pr["number"])
		putIf(fields, "title", pr["title"])
		fields["labels"] = labelNames(pr["labels"])
		if base := subMap(pr, "base"); base != nil {
			putIf(fields, "branch", base["ref"])
		}
	}
	putIf(fields, "branch", payload["ref"])
	return fields
}

// extractScalars 兜底：未知平台只取顶层标量字段
func extractScalars(payload map[string]interface{}) map[string]interface{} {
	fields := map[string]interface{}{}
	for k, v := range payload {
		switch v.(type) {
		case string, float64, int, int64, bool:
			fields[k] = v
		}
	}
	return fields
}

func subMap(m map[string]interface{}, key string) map[string]interface{} {
	if m == nil {
		return nil
	}
	sub, _ := m[key].(map[string]interface{})
	return sub
}

func putIf(fields map[string]interface{}, key string, v interface{}) {
	if v != nil {
		fields[key] = v
	}
}

func mapKeys(m map[string]interface{}) []interface{} {
	keys := make([]interface{}, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

// labelNames flattens GitHub's [{name: ...}] label objects to plain names.
func labelNames(v interface{}) []interface{} {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	names := make([]interface{}, 0, len(items))
	for _, item := range items {
		if label, ok := item.(map[string]interface{}); ok {
			if name, ok := label["name"]; ok {
				names = append(names, name)
				continue
			}
		}
		names = append(names, item)
	}
	return names
}
