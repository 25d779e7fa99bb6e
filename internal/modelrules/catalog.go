package modelrules

import "strings"

// Catalog lists the model ids served by the upstream.
var Catalog = []string{
	"glm-4.6",
	"glm-4.7",
	"glm-5",
	"iFlow-ROME-30BA3B",
	"deepseek-v3.2-chat",
	"qwen3-coder-plus",
	"kimi-k2",
	"kimi-k2-thinking",
	"kimi-k2.5",
	"kimi-k2-0905",
	"minimax-m2.5",
	"glm-4v",
	"glm-4v-plus",
	"glm-4v-flash",
	"glm-4.5v",
	"glm-4.6v",
	"qwen-vl-plus",
	"qwen-vl-max",
	"qwen2.5-vl",
	"qwen3-vl",
}

var known = func() map[string]struct{} {
	m := make(map[string]struct{}, len(Catalog))
	for _, id := range Catalog {
		m[id] = struct{}{}
	}
	return m
}()

// Resolve maps Anthropic client model names, which have no upstream
// equivalent, to fallback. Other names pass through unchanged.
func Resolve(model, fallback string) string {
	if _, ok := known[model]; ok {
		return model
	}
	if model == "" || strings.HasPrefix(strings.ToLower(model), "claude") {
		return fallback
	}
	return model
}
