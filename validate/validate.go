// Package validate screens user-supplied input before it reaches storage
// or the rendered dashboard. The checks are a blocklist on top of
// parameterized queries and escaping, not a replacement for them.
package validate

import (
	"context"
	"html"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"moddash/audit"
)

const (
	MaxUserID         = 999999999
	MaxEmailLength    = 254
	MaxUsernameLength = 100
	MaxSearchLength   = 200
	MaxMessageLength  = 5000
)

// sqlSpace matches any Unicode whitespace. RE2's \s is ASCII-only and
// misses the vertical tab.
const sqlSpace = `[\s\x0B\x1C-\x1F\x85\p{Z}]`

var (
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

	searchBlocklist = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(union|select|drop|delete|insert|update|create|alter|exec|execute)` + sqlSpace),
		regexp.MustCompile("[;<>|&$`]"),
		regexp.MustCompile(`--`),
		regexp.MustCompile(`/\*`),
		regexp.MustCompile(`\*/`),
		regexp.MustCompile(`(?i)xp_`),
		regexp.MustCompile(`(?i)sp_`),
		regexp.MustCompile(`(?i)0x[0-9a-f]+`),
	}

	messageBlocklist = []string{"<script", "javascript:", "vbscript:", "onload=", "onerror=", "onclick="}

	controlChars = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)

	htmlPolicy = bluemonday.NewPolicy().AllowElements("b", "i", "u", "em", "strong", "p", "br")
)

// UserID reports whether s is a decimal id in [1, MaxUserID].
func UserID(s string) bool {
	if s == "" {
		return false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return false
	}
	return n >= 1 && n <= MaxUserID
}

// Lengths below are counted in characters, not bytes.

func Email(s string) bool {
	if s == "" || utf8.RuneCountInString(s) > MaxEmailLength {
		return false
	}
	return emailPattern.MatchString(s)
}

func Username(s string) bool {
	n := utf8.RuneCountInString(s)
	return n >= 1 && n <= MaxUsernameLength
}

// Validator holds the checks that report blocked input to the audit trail.
type Validator struct {
	trail  *audit.Trail
	logger *zap.Logger
}

func New(trail *audit.Trail, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{trail: trail, logger: logger}
}

// SearchQuery accepts free-text search terms. Input matching the SQL
// blocklist is rejected and recorded as SECURITY_BLOCKED_SEARCH.
func (v *Validator) SearchQuery(ctx context.Context, q string) bool {
	if q == "" {
		return false
	}
	for _, p := range searchBlocklist {
		if p.MatchString(q) {
			actor := audit.ActorFrom(ctx)
			v.logger.Warn("SECURITY: Blocked potentially dangerous search query",
				zap.String("username", actor.Username), zap.String("query", q))
			v.trail.LogAction(ctx, "SECURITY_BLOCKED_SEARCH", map[string]any{"query": q, "pattern": p.String()}, false)
			return false
		}
	}
	return utf8.RuneCountInString(q) <= MaxSearchLength
}

// MessageContent accepts an admin message body. Script-like content is
// rejected and recorded as SECURITY_BLOCKED_MESSAGE.
func (v *Validator) MessageContent(ctx context.Context, c string) bool {
	if c == "" || utf8.RuneCountInString(c) > MaxMessageLength {
		return false
	}
	lower := strings.ToLower(c)
	for _, p := range messageBlocklist {
		if strings.Contains(lower, p) {
			actor := audit.ActorFrom(ctx)
			v.logger.Warn("SECURITY: Blocked message with script content", zap.String("username", actor.Username))
			v.trail.LogAction(ctx, "SECURITY_BLOCKED_MESSAGE", map[string]any{"pattern": p, "length": utf8.RuneCountInString(c)}, false)
			return false
		}
	}
	return true
}

// SanitizeInput escapes HTML, drops control characters other than tab,
// newline and carriage return, and trims surrounding whitespace.
func SanitizeInput(s string) string {
	if s == "" {
		return ""
	}
	s = html.EscapeString(s)
	s = controlChars.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// SanitizeHTML keeps a small set of formatting tags and strips everything
// else, attributes included.
func SanitizeHTML(s string) string {
	if s == "" {
		return ""
	}
	return htmlPolicy.Sanitize(s)
}

// SanitizeDisplayData returns a copy of data with every string value passed
// through SanitizeInput.
func SanitizeDisplayData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		if s, ok := v.(string); ok {
			out[k] = SanitizeInput(s)
			continue
		}
		out[k] = v
	}
	return out
}
