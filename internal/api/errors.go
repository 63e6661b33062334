package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

const DefaultErrorMessage = "An unexpected error occurred. Please try again."

var ErrUnauthorized = errors.New("unauthorized")

// Error is a non-2xx response. Message is safe to show to the user.
type Error struct {
	Status  int
	Message string
	Body    []byte
}

func (e *Error) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

func (e *Error) Unwrap() error {
	if e.Status == 401 {
		return ErrUnauthorized
	}
	return nil
}

// Message returns the text to show for err.
func Message(err error) string {
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return DefaultErrorMessage
}

var (
	tagRe   = regexp.MustCompile(`<[^>]*>`)
	spaceRe = regexp.MustCompile(`\s+`)
)

func stripHTML(s string) string {
	s = tagRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

// BuildErrorMessage extracts a user-facing message from an error body. A
// string body is used as is; an object contributes its message, error or
// detail field, in that order. Markup is removed. Anything else yields
// fallback, or DefaultErrorMessage when fallback is blank.
func BuildErrorMessage(body []byte, fallback string) string {
	if strings.TrimSpace(fallback) == "" {
		fallback = DefaultErrorMessage
	}
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return fallback
	}

	var core string
	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
		core = stripHTML(trimmed)
	} else {
		switch t := v.(type) {
		case string:
			core = stripHTML(t)
		case map[string]any:
			for _, key := range []string{"message", "error"} {
				if s, ok := t[key].(string); ok && strings.TrimSpace(s) != "" {
					core = s
					break
				}
			}
			if core == "" {
				core = firstString(t["detail"])
			}
			core = stripHTML(core)
		}
	}
	if core == "" {
		return fallback
	}
	return core
}

// firstString digs the first string out of DRF-style values such as
// ["msg"] or {"field": ["msg"]}.
func firstString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		if len(t) > 0 {
			return firstString(t[0])
		}
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if s := firstString(t[k]); s != "" {
				return s
			}
		}
	}
	return ""
}
