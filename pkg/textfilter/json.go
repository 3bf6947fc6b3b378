// Package textfilter cleans up model output before it is decoded.
//
// The fence handling here is heuristic. Models asked for bare JSON still wrap
// it in markdown often enough that every decode path strips fences first.
package textfilter

import (
	"regexp"
	"strings"
)

var fencedBlock = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*\\n?(.*?)\\n?\\s*```")

// StripCodeFence removes a surrounding markdown code fence, with or without
// a language tag. A complete fenced block anywhere in the text wins; an
// unterminated fence is trimmed from whichever end it appears on.
func StripCodeFence(s string) string {
	cleaned := strings.TrimSpace(s)
	if m := fencedBlock.FindStringSubmatch(cleaned); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}

	if strings.HasSuffix(cleaned, "```") {
		cleaned = strings.TrimSpace(strings.TrimSuffix(cleaned, "```"))
	}
	if strings.HasPrefix(cleaned, "```") {
		if nl := strings.Index(cleaned, "\n"); nl != -1 {
			cleaned = cleaned[nl+1:]
		} else {
			cleaned = strings.TrimPrefix(cleaned, "```")
			cleaned = strings.TrimPrefix(cleaned, "json")
		}
	}
	return strings.TrimSpace(cleaned)
}

// ExtractObject returns the text between the first '{' and the last '}'.
// Prose around the object ("Here is the result: {...}") is dropped. The
// second result is false when no object-shaped span exists.
func ExtractObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end < start {
		return "", false
	}
	return s[start : end+1], true
}

// JSONObject strips fences and surrounding prose from a model reply that is
// supposed to be a single JSON object.
func JSONObject(s string) (string, bool) {
	return ExtractObject(StripCodeFence(s))
}
