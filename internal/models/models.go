package models

import "strings"

// Resolution is the outcome of mapping a client-supplied model name to a
// backend model id plus the feature flags the name encodes.
type Resolution struct {
	Model          string // backend model id
	ReasoningLevel string // "", "low", "medium", "high"
	Use1MContext   bool
}

// aliases maps short client-facing names to backend model ids.
var aliases = map[string]string{
	"opus":   "claude-opus-4-5-20251101",
	"sonnet": "claude-sonnet-4-5-20250929",
	"haiku":  "claude-haiku-4-5-20251001",
}

// knownModels is the catalog exposed via GET /v1/models.
var knownModels = []string{
	"claude-opus-4-5-20251101",
	"claude-sonnet-4-5-20250929",
	"claude-haiku-4-5-20251001",
	"claude-opus-4-1-20250805",
	"claude-sonnet-4-20250514",
}

// Resolve parses a client model name into a backend model id and derived
// flags. Recognized decorations, applied in any order at the end of the
// name: "-1m" (1M context window variant) and "-thinking" optionally
// followed by "-low"/"-medium"/"-high" (reasoning level, default medium).
func Resolve(requested string) Resolution {
	name := strings.TrimSpace(strings.ToLower(requested))
	res := Resolution{}

	for {
		switch {
		case strings.HasSuffix(name, "-1m"):
			res.Use1MContext = true
			name = strings.TrimSuffix(name, "-1m")
		case strings.HasSuffix(name, "-thinking-low"):
			res.ReasoningLevel = "low"
			name = strings.TrimSuffix(name, "-thinking-low")
		case strings.HasSuffix(name, "-thinking-medium"):
			res.ReasoningLevel = "medium"
			name = strings.TrimSuffix(name, "-thinking-medium")
		case strings.HasSuffix(name, "-thinking-high"):
			res.ReasoningLevel = "high"
			name = strings.TrimSuffix(name, "-thinking-high")
		case strings.HasSuffix(name, "-thinking"):
			res.ReasoningLevel = "medium"
			name = strings.TrimSuffix(name, "-thinking")
		default:
			if backend, ok := aliases[name]; ok {
				name = backend
			}
			res.Model = name
			return res
		}
	}
}

// Known lists the backend model ids exposed to clients.
func Known() []string {
	out := make([]string, len(knownModels))
	copy(out, knownModels)
	return out
}

// ThinkingBudget maps a reasoning level to a thinking token budget.
func ThinkingBudget(level string) int {
	switch level {
	case "low":
		return 4096
	case "high":
		return 32000
	default:
		return 16000
	}
}
