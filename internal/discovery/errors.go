package discovery

import (
	"fmt"
	"strings"
)

// Code identifies why a discovery run failed.
type Code string

const (
	CodeInvalidInput     Code = "INVALID_INPUT"
	CodePageNotFound     Code = "PAGE_NOT_FOUND"
	CodeDomainBlocked    Code = "DOMAIN_BLOCKED"
	CodeTimeout          Code = "TIMEOUT"
	CodeExtractionFailed Code = "EXTRACTION_FAILED"
	CodeDiscoveryFailed  Code = "DISCOVERY_FAILED"
)

var messages = map[Code]string{
	CodeInvalidInput:     "Provide a topic or a source URL.",
	CodePageNotFound:     "That page could not be found. Check the URL and try again.",
	CodeDomainBlocked:    "That site blocks automated access. Try a different source or describe the topic instead.",
	CodeTimeout:          "The source took too long to respond. Try again or use a different URL.",
	CodeExtractionFailed: "We could not read any article content from that page. Try a different URL or describe the topic instead.",
	CodeDiscoveryFailed:  "We could not build a scenario from that input. Please try again.",
}

// Error is a failed discovery run. Attempts holds one message per
// extraction strategy that was tried.
type Error struct {
	Code     Code
	Attempts []string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	if len(e.Attempts) > 0 {
		return fmt.Sprintf("%s: %s", e.Code, strings.Join(e.Attempts, "; "))
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Message is the text shown to the player.
func (e *Error) Message() string {
	if m, ok := messages[e.Code]; ok {
		return m
	}
	return messages[CodeDiscoveryFailed]
}

var (
	notFoundSignals = []string{"404", "not found", "page not found", "no longer available"}
	blockedSignals  = []string{"403", "401", "429", "forbidden", "blocked", "access denied", "captcha", "cloudflare", "unauthorized"}
	timeoutSignals  = []string{"timeout", "timed out", "deadline exceeded"}
)

// Classify picks a failure code from the accumulated strategy errors. A
// missing page outranks a block, which outranks a timeout.
func Classify(attempts []string) Code {
	joined := strings.ToLower(strings.Join(attempts, "\n"))
	switch {
	case containsAny(joined, notFoundSignals):
		return CodePageNotFound
	case containsAny(joined, blockedSignals):
		return CodeDomainBlocked
	case containsAny(joined, timeoutSignals):
		return CodeTimeout
	default:
		return CodeExtractionFailed
	}
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
