// Package modelrules holds the per-model request augmentation table. Each
// upstream model family expects its reasoning switch in a different shape;
// the table maps model-name patterns to the fields that turn it on.
package modelrules

import (
	"regexp"
	"strings"
)

// Matcher reports whether a lowercased model name belongs to a rule.
type Matcher func(model string) bool

// Exact matches one model name.
func Exact(name string) Matcher {
	name = strings.ToLower(name)
	return func(model string) bool { return model == name }
}

// Prefix matches model names starting with p.
func Prefix(p string) Matcher {
	p = strings.ToLower(p)
	return func(model string) bool { return strings.HasPrefix(model, p) }
}

// Contains matches model names containing s.
func Contains(s string) Matcher {
	s = strings.ToLower(s)
	return func(model string) bool { return strings.Contains(model, s) }
}

// Pattern matches model names against a regular expression.
func Pattern(expr string) Matcher {
	re := regexp.MustCompile(expr)
	return re.MatchString
}

// Rule is one (matcher, field patch) pair. Set fields are only added when the
// caller did not supply them. Delete fields are always removed.
type Rule struct {
	Name   string
	Match  Matcher
	Set    map[string]any
	Delete []string
}

// Table is an ordered rule list. The first matching rule wins.
type Table []Rule

func chatTemplateThinking() map[string]any {
	return map[string]any{"chat_template_kwargs": map[string]any{"enable_thinking": true}}
}

func thinkingEnabled() map[string]any {
	return map[string]any{"thinking": map[string]any{"type": "enabled"}}
}

// Default is the built-in table for the upstream's model catalogue.
var Default = Table{
	// Small qwen models reject every reasoning switch.
	{Name: "qwen-4b", Match: Pattern(`^qwen.*4b`), Delete: []string{"thinking_mode", "reasoning", "chat_template_kwargs"}},
	{Name: "deepseek", Match: Prefix("deepseek"), Set: map[string]any{"thinking_mode": true, "reasoning": true}},
	{Name: "glm-5", Match: Exact("glm-5"), Set: map[string]any{
		"chat_template_kwargs": map[string]any{"enable_thinking": true},
		"enable_thinking":      true,
		"thinking":             map[string]any{"type": "enabled"},
	}},
	{Name: "glm-4.7", Match: Exact("glm-4.7"), Set: chatTemplateThinking()},
	{Name: "glm", Match: Prefix("glm-"), Set: chatTemplateThinking()},
	{Name: "kimi-k2.5", Match: Prefix("kimi-k2.5"), Set: thinkingEnabled()},
	{Name: "thinking", Match: Contains("thinking"), Set: map[string]any{"thinking_mode": true}},
	{Name: "mimo", Match: Prefix("mimo-"), Set: thinkingEnabled()},
	{Name: "claude", Match: Contains("claude"), Set: chatTemplateThinking()},
	{Name: "sonnet", Match: Contains("sonnet-"), Set: chatTemplateThinking()},
	{Name: "reasoning", Match: Contains("reasoning"), Set: map[string]any{"reasoning": true}},
}

// Lookup returns the first rule matching model, or nil.
func (t Table) Lookup(model string) *Rule {
	model = strings.ToLower(model)
	for i := range t {
		if t[i].Match(model) {
			return &t[i]
		}
	}
	return nil
}

// Apply patches body in place for model and returns the applied rule name,
// or "" when no rule matched.
func (t Table) Apply(model string, body map[string]any) string {
	rule := t.Lookup(model)
	if rule == nil {
		return ""
	}
	for key, val := range rule.Set {
		if _, ok := body[key]; !ok {
			body[key] = cloneValue(val)
		}
	}
	for _, key := range rule.Delete {
		delete(body, key)
	}
	return rule.Name
}

// cloneValue copies nested maps so request bodies never share table state.
func cloneValue(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	out := make(map[string]any, len(m))
	for k, inner := range m {
		out[k] = cloneValue(inner)
	}
	return out
}
