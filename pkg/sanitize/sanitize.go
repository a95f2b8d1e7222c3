// Package sanitize strips secrets, filesystem paths, and usernames from any
// text or record before it reaches an LLM or shared storage (spec C1 / §4.1).
package sanitize

import (
	"os"
	"os/user"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/convergence-engine/convergence/internal/config"
)

// tokenPatterns matches well-known credential shapes: provider-prefixed API
// keys, bearer-encoded JWTs, cloud-vendor access-key prefixes, and the
// assignment form of recognised secret-variable names. Order matters only
// in that all of these are applied before path stripping.
var tokenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)sk-[a-zA-Z0-9]{20,}`),
	regexp.MustCompile(`(?i)sk-ant-[a-zA-Z0-9\-]{20,}`),
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
	regexp.MustCompile(`(?i)aws_secret_access_key\s*=\s*\S+`),
	regexp.MustCompile(`ghp_[a-zA-Z0-9]{36,}`),
	regexp.MustCompile(`gho_[a-zA-Z0-9]{36,}`),
	regexp.MustCompile(`glpat-[a-zA-Z0-9\-]{20,}`),
	regexp.MustCompile(`xoxb-[a-zA-Z0-9\-]{20,}`),
	regexp.MustCompile(`xoxp-[a-zA-Z0-9\-]{20,}`),
	regexp.MustCompile(`eyJ[a-zA-Z0-9_\-]{10,}\.eyJ[a-zA-Z0-9_\-]{10,}\.[a-zA-Z0-9_\-]+`),
	regexp.MustCompile(`(?i)(API_KEY|SECRET|TOKEN|PASSWORD|PRIVATE_KEY|ACCESS_KEY)\s*[=:]\s*['"]?\S{8,}['"]?`),
}

// envPatterns matches assignment forms of recognised secret environment
// variable names.
var envPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:export\s+)?(?:DATABASE_URL|DB_PASSWORD|REDIS_URL|SUPABASE_KEY|` +
		`STRIPE_SECRET|NEXTAUTH_SECRET|JWT_SECRET|ENCRYPTION_KEY|PRIVATE_KEY|SSH_KEY)\s*=\s*\S+`),
}

// pathPatterns matches POSIX and Windows user-home paths and common
// system directories.
var pathPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)/Users/[^\s:"']+`),
	regexp.MustCompile(`(?i)/home/[^\s:"']+`),
	regexp.MustCompile(`(?i)[A-Z]:\\Users\\[^\s:"']+`),
	regexp.MustCompile(`(?i)/var/[^\s:"']+`),
	regexp.MustCompile(`(?i)/tmp/[^\s:"']+`),
	regexp.MustCompile(`(?i)/opt/[^\s:"']+`),
	regexp.MustCompile(`(?i)/etc/[^\s:"']+`),
}

var (
	usernamePattern     *regexp.Regexp
	usernamePatternOnce sync.Once
)

func currentUsernamePattern() *regexp.Regexp {
	usernamePatternOnce.Do(func() {
		name := currentUsername()
		if len(name) >= 3 {
			usernamePattern = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(name) + `\b`)
		}
	})
	return usernamePattern
}

func currentUsername() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if v := os.Getenv("USER"); v != "" {
		return v
	}
	return os.Getenv("USERNAME")
}

// Sanitiser applies the configured ruleset to text and records. It is
// stateless aside from the lazily-resolved username pattern, and is safe
// for concurrent use, mirroring masking.MaskingService.
type Sanitiser struct {
	cfg config.SanitizerConfig
}

// New builds a Sanitiser bound to cfg.
func New(cfg config.SanitizerConfig) *Sanitiser {
	return &Sanitiser{cfg: cfg}
}

// Sanitise strips sensitive data from text and replaces it with stable
// placeholders. Order matters: tokens are stripped before paths, since a
// token embedded in a path-like string (e.g. a URL with a credential)
// should be redacted as a token first. Sanitise is idempotent — running it
// twice on its own output is a no-op (spec testable property 10).
func (s *Sanitiser) Sanitise(text string) string {
	if text == "" || !s.cfg.Enabled {
		return text
	}

	result := text

	if s.cfg.StripTokens {
		for _, p := range tokenPatterns {
			result = p.ReplaceAllString(result, "[TOKEN_REDACTED]")
		}
		for _, p := range envPatterns {
			result = p.ReplaceAllString(result, "[ENV_REDACTED]")
		}
	}

	if s.cfg.StripPaths {
		for _, p := range pathPatterns {
			result = p.ReplaceAllStringFunc(result, func(match string) string {
				base := filepath.Base(match)
				if base == "" || base == "." || base == string(filepath.Separator) {
					return "[PATH_REDACTED]"
				}
				return "[PATH_REDACTED]/" + base
			})
		}
	}

	if s.cfg.StripUsernames {
		if p := currentUsernamePattern(); p != nil {
			result = p.ReplaceAllString(result, "[USER_REDACTED]")
		}
	}

	return result
}

// SanitiseRecord deep-sanitises every string value in a record, recursing
// through nested maps and slices, matching sanitize_record's shape.
func (s *Sanitiser) SanitiseRecord(value any) any {
	if !s.cfg.Enabled {
		return value
	}
	return s.sanitiseValue(value)
}

func (s *Sanitiser) sanitiseValue(value any) any {
	switch v := value.(type) {
	case string:
		return s.Sanitise(v)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = s.sanitiseValue(val)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = s.sanitiseValue(val)
		}
		return out
	case []string:
		out := make([]string, len(v))
		for i, val := range v {
			out[i] = s.Sanitise(val)
		}
		return out
	default:
		return value
	}
}

// IsSensitive reports whether text contains any sensitive pattern, without
// modifying it — useful for logging decisions.
func (s *Sanitiser) IsSensitive(text string) bool {
	if text == "" {
		return false
	}
	for _, p := range tokenPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	for _, p := range envPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	for _, p := range pathPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	if p := currentUsernamePattern(); p != nil && p.MatchString(text) {
		return true
	}
	return false
}
