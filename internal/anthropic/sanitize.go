package anthropic

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Sanitize removes or coerces request body fields the backend would reject.
// All corrections are silent: the goal is maximal backend acceptance, not
// validation feedback. Sanitize is idempotent.
func Sanitize(body []byte) []byte {
	body = sanitizeTopP(body)
	body = sanitizeNumber(body, "temperature")
	body = sanitizeTopK(body)
	body = sanitizeNonEmptyArray(body, "tools")
	body = sanitizeThinking(body)
	body = sanitizeNonEmptyArray(body, "stop_sequences")
	body = sanitizeObject(body, "metadata")
	body = sanitizeServiceTier(body)
	body = sanitizeObject(body, "tool_choice")
	body = sanitizeOutputConfig(body)
	body = sanitizeObject(body, "context_management")
	return body
}

func del(body []byte, path, reason string) []byte {
	out, err := sjson.DeleteBytes(body, path)
	if err != nil {
		return body
	}
	slog.Debug("sanitize.removed", "field", path, "reason", reason)
	return out
}

func sanitizeTopP(body []byte) []byte {
	v := gjson.GetBytes(body, "top_p")
	if !v.Exists() {
		return body
	}
	if v.Type != gjson.Number {
		return del(body, "top_p", "not numeric")
	}
	if v.Float() < 0 || v.Float() > 1 {
		return del(body, "top_p", "out of range")
	}
	return body
}

func sanitizeNumber(body []byte, field string) []byte {
	v := gjson.GetBytes(body, field)
	if v.Exists() && v.Type != gjson.Number {
		return del(body, field, "not numeric")
	}
	return body
}

func sanitizeTopK(body []byte) []byte {
	v := gjson.GetBytes(body, "top_k")
	if !v.Exists() {
		return body
	}
	if v.Type != gjson.Number || v.Float() != math.Trunc(v.Float()) {
		return del(body, "top_k", "not an integer")
	}
	if v.Int() <= 0 {
		return del(body, "top_k", "must be positive")
	}
	return body
}

func sanitizeNonEmptyArray(body []byte, field string) []byte {
	v := gjson.GetBytes(body, field)
	if !v.Exists() {
		return body
	}
	if !v.IsArray() || len(v.Array()) == 0 {
		return del(body, field, "not a non-empty array")
	}
	return body
}

func sanitizeObject(body []byte, field string) []byte {
	v := gjson.GetBytes(body, field)
	if v.Exists() && !v.IsObject() {
		return del(body, field, "not an object")
	}
	return body
}

func sanitizeThinking(body []byte) []byte {
	thinking := gjson.GetBytes(body, "thinking")
	if !thinking.Exists() {
		return body
	}
	if !thinking.IsObject() {
		return del(body, "thinking", "not an object")
	}

	mode := thinking.Get("type").String()
	if mode != "enabled" && mode != "adaptive" {
		return body
	}

	// Adaptive thinking rejects an explicit budget.
	if mode == "adaptive" && thinking.Get("budget_tokens").Exists() {
		body = del(body, "thinking.budget_tokens", "not permitted with adaptive thinking")
	}

	// Thinking requires temperature 1.0 exactly.
	if temp := gjson.GetBytes(body, "temperature"); temp.Exists() && temp.Float() != 1.0 {
		slog.Debug("sanitize.adjusted", "field", "temperature", "from", temp.Float(), "to", 1.0)
		body, _ = sjson.SetBytes(body, "temperature", 1.0)
	}

	// top_p must sit in [0.95, 1.0] when thinking is on.
	if topP := gjson.GetBytes(body, "top_p"); topP.Exists() {
		v := topP.Float()
		if v < 0.95 || v > 1.0 {
			clamped := math.Max(0.95, math.Min(1.0, v))
			slog.Debug("sanitize.adjusted", "field", "top_p", "from", v, "to", clamped)
			body, _ = sjson.SetBytes(body, "top_p", clamped)
		}
	}

	// top_k is incompatible with thinking.
	if gjson.GetBytes(body, "top_k").Exists() {
		body = del(body, "top_k", "not allowed with thinking")
	}

	return body
}

func sanitizeServiceTier(body []byte) []byte {
	v := gjson.GetBytes(body, "service_tier")
	if !v.Exists() {
		return body
	}
	if s := v.String(); v.Type == gjson.String && (s == "auto" || s == "standard_only") {
		return body
	}
	return del(body, "service_tier", fmt.Sprintf("invalid value %q", v.String()))
}

func sanitizeOutputConfig(body []byte) []byte {
	v := gjson.GetBytes(body, "output_config")
	if !v.Exists() {
		return body
	}
	if !v.IsObject() {
		return del(body, "output_config", "not an object")
	}
	if effort := v.Get("effort"); effort.Exists() {
		switch effort.String() {
		case "low", "medium", "high":
		default:
			return del(body, "output_config", fmt.Sprintf("invalid effort %q", effort.String()))
		}
	}
	return body
}
