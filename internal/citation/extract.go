// Package citation separates an answer from its source references in the
// free-text body returned by the retrieval backend.
package citation

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Answer is the displayable text plus zero or more source references.
type Answer struct {
	Text    string   `json:"text"`
	Sources []string `json:"sources,omitempty"`
}

// Strategy tries to extract an Answer from body and reports whether it applied.
type Strategy interface {
	Extract(body string) (Answer, bool)
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(body string) (Answer, bool)

func (f StrategyFunc) Extract(body string) (Answer, bool) { return f(body) }

// Chain runs strategies in order and returns the first that applies. When
// none applies the whole body is the answer.
type Chain []Strategy

func (c Chain) Extract(body string) Answer {
	for _, s := range c {
		if a, ok := s.Extract(body); ok {
			return a
		}
	}
	return Answer{Text: body}
}

// Default is structured JSON first, then label scanning, then plain text.
var Default = Chain{Structured(), Labeled(DefaultLabels...), Plain()}

// DefaultLabels in priority order.
var DefaultLabels = []string{"Source", "Reference", "From"}

// Extract applies the Default chain.
func Extract(body string) Answer {
	return Default.Extract(body)
}

// Structured matches a JSON object carrying a string "response" and an
// optional "source" that is either a string or an array of strings.
func Structured() Strategy {
	return StrategyFunc(func(body string) (Answer, bool) {
		trimmed := strings.TrimSpace(body)
		if !strings.HasPrefix(trimmed, "{") {
			return Answer{}, false
		}

		var payload struct {
			Response *string        `json:"response"`
			Source   json.RawMessage `json:"source"`
		}
		if err := json.Unmarshal([]byte(trimmed), &payload); err != nil || payload.Response == nil {
			return Answer{}, false
		}

		return Answer{Text: *payload.Response, Sources: decodeSources(payload.Source)}, true
	})
}

func decodeSources(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}

	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		if one = strings.TrimSpace(one); one == "" {
			return nil
		}
		return []string{one}
	}

	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		out := make([]string, 0, len(many))
		for _, s := range many {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	}
	return nil
}

// Labeled scans for "<label>: value" using the first label (in the given
// order) that occurs. The value runs to the end of its line and is removed,
// together with the label, from the answer.
func Labeled(labels ...string) Strategy {
	patterns := make([]*regexp.Regexp, 0, len(labels))
	for _, l := range labels {
		patterns = append(patterns, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(l)+`:[ \t]*([^\r\n]*)`))
	}

	return StrategyFunc(func(body string) (Answer, bool) {
		for _, re := range patterns {
			loc := re.FindStringSubmatchIndex(body)
			if loc == nil {
				continue
			}
			source := strings.TrimSpace(body[loc[2]:loc[3]])
			if source == "" {
				continue
			}
			text := strings.TrimSpace(body[:loc[0]] + body[loc[1]:])
			return Answer{Text: text, Sources: []string{source}}, true
		}
		return Answer{}, false
	})
}

// Plain always applies and returns the body unchanged.
func Plain() Strategy {
	return StrategyFunc(func(body string) (Answer, bool) {
		return Answer{Text: body}, true
	})
}
