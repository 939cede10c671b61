// Package validate checks decoded JSON bodies against rule lists written as
// "required|email|max:255".  Rule kinds are a closed set: an unknown kind is
// a programming error reported when the rules are compiled, not silently
// skipped at request time.
package validate

import (
	"fmt"
	"net/mail"
	"net/url"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Rule is one parsed rule with its comma-separated parameters.
type Rule struct {
	Kind   string
	Params []string
}

// check returns "" when v passes, else the message for field.
type check func(field string, v any, params []string, data map[string]any) string

var checks = map[string]check{
	"required":  required,
	"nullable":  func(string, any, []string, map[string]any) string { return "" },
	"string":    isString,
	"email":     email,
	"min":       minRule,
	"max":       maxRule,
	"max_bytes": maxBytes,
	"between":   between,
	"in":        in,
	"confirmed": confirmed,
	"boolean":   boolean,
	"url":       urlRule,
	"uuid":      uuidRule,
	"slug":      slug,
}

// Parse splits a rule string.  Params follow the first ':' and are
// separated by ','.
func Parse(s string) ([]Rule, error) {
	var out []Rule
	for _, part := range strings.Split(s, "|") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kind, raw, hasParams := strings.Cut(part, ":")
		if _, ok := checks[kind]; !ok {
			return nil, fmt.Errorf("validate: unknown rule %q", kind)
		}
		r := Rule{Kind: kind}
		if hasParams {
			r.Params = strings.Split(raw, ",")
		}
		if (kind == "min" || kind == "max" || kind == "max_bytes") && (len(r.Params) != 1 || !isInt(r.Params[0])) {
			return nil, fmt.Errorf("validate: %s needs one integer parameter", kind)
		}
		if kind == "between" && (len(r.Params) != 2 || !isInt(r.Params[0]) || !isInt(r.Params[1])) {
			return nil, fmt.Errorf("validate: between needs two integer parameters")
		}
		out = append(out, r)
	}
	return out, nil
}

func isInt(s string) bool {
	_, err := strconv.Atoi(s)
	return err == nil
}

// Rules maps field names to their compiled rules.
type Rules map[string][]Rule

// Compile parses a field→rule-string map.
func Compile(fields map[string]string) (Rules, error) {
	rs := make(Rules, len(fields))
	for field, s := range fields {
		parsed, err := Parse(s)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", field, err)
		}
		rs[field] = parsed
	}
	return rs, nil
}

// MustCompile is Compile for package-level rule sets.
func MustCompile(fields map[string]string) Rules {
	rs, err := Compile(fields)
	if err != nil {
		panic(err)
	}
	return rs
}

// Validate applies every rule and returns messages per failing field, or
// nil when data is valid.
func (rs Rules) Validate(data map[string]any) map[string][]string {
	var errs map[string][]string
	for field, rules := range rs {
		v := data[field]
		for _, r := range rules {
			if msg := checks[r.Kind](field, v, r.Params, data); msg != "" {
				if errs == nil {
					errs = map[string][]string{}
				}
				errs[field] = append(errs[field], msg)
			}
		}
	}
	return errs
}

func empty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}

func required(field string, v any, _ []string, _ map[string]any) string {
	if empty(v) {
		return fmt.Sprintf("The %s field is required.", field)
	}
	return ""
}

func isString(field string, v any, _ []string, _ map[string]any) string {
	if v == nil {
		return ""
	}
	if _, ok := v.(string); !ok {
		return fmt.Sprintf("The %s must be a string.", field)
	}
	return ""
}

func email(field string, v any, _ []string, _ map[string]any) string {
	if empty(v) {
		return ""
	}
	s, _ := v.(string)
	a, err := mail.ParseAddress(s)
	if err != nil || a.Address != s || !strings.Contains(s[strings.LastIndex(s, "@"):], ".") {
		return fmt.Sprintf("The %s must be a valid email address.", field)
	}
	return ""
}

// size is the rune count of a string, the value of a number or the length
// of a list.  ok is false for other types.
func size(v any) (n float64, unit string, ok bool) {
	switch t := v.(type) {
	case string:
		return float64(utf8.RuneCountInString(t)), " characters", true
	case float64:
		return t, "", true
	case int:
		return float64(t), "", true
	case []any:
		return float64(len(t)), " items", true
	}
	return 0, "", false
}

func minRule(field string, v any, p []string, _ map[string]any) string {
	if empty(v) {
		return ""
	}
	limit, _ := strconv.Atoi(p[0])
	if n, unit, ok := size(v); ok && n < float64(limit) {
		return fmt.Sprintf("The %s must be at least %d%s.", field, limit, unit)
	}
	return ""
}

func maxRule(field string, v any, p []string, _ map[string]any) string {
	if empty(v) {
		return ""
	}
	limit, _ := strconv.Atoi(p[0])
	if n, unit, ok := size(v); ok && n > float64(limit) {
		return fmt.Sprintf("The %s must not exceed %d%s.", field, limit, unit)
	}
	return ""
}

// maxBytes limits the encoded length of a string, for values such as
// bcrypt input whose bound is in bytes rather than characters.
func maxBytes(field string, v any, p []string, _ map[string]any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	limit, _ := strconv.Atoi(p[0])
	if len(s) > limit {
		return fmt.Sprintf("The %s must not exceed %d bytes.", field, limit)
	}
	return ""
}

func between(field string, v any, p []string, _ map[string]any) string {
	s, ok := v.(string)
	if !ok || s == "" {
		return ""
	}
	lo, _ := strconv.Atoi(p[0])
	hi, _ := strconv.Atoi(p[1])
	if n := utf8.RuneCountInString(s); n < lo || n > hi {
		return fmt.Sprintf("The %s must be between %d and %d characters.", field, lo, hi)
	}
	return ""
}

func in(field string, v any, p []string, _ map[string]any) string {
	if empty(v) {
		return ""
	}
	s := fmt.Sprint(v)
	for _, allowed := range p {
		if s == allowed {
			return ""
		}
	}
	return fmt.Sprintf("The selected %s is invalid.", field)
}

func confirmed(field string, v any, _ []string, data map[string]any) string {
	if !reflect.DeepEqual(v, data[field+"_confirmation"]) {
		return fmt.Sprintf("The %s confirmation does not match.", field)
	}
	return ""
}

func boolean(field string, v any, _ []string, _ map[string]any) string {
	switch t := v.(type) {
	case nil, bool:
		return ""
	case float64:
		if t == 0 || t == 1 {
			return ""
		}
	case string:
		switch t {
		case "0", "1", "true", "false":
			return ""
		}
	}
	return fmt.Sprintf("The %s must be true or false.", field)
}

func urlRule(field string, v any, _ []string, _ map[string]any) string {
	if empty(v) {
		return ""
	}
	s, _ := v.(string)
	u, err := url.ParseRequestURI(s)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Sprintf("The %s must be a valid URL.", field)
	}
	return ""
}

func uuidRule(field string, v any, _ []string, _ map[string]any) string {
	if empty(v) {
		return ""
	}
	s, _ := v.(string)
	if id, err := uuid.Parse(s); err != nil || len(s) != 36 || id.Version() != 4 {
		return fmt.Sprintf("The %s must be a valid UUID.", field)
	}
	return ""
}

var slugRe = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

func slug(field string, v any, _ []string, _ map[string]any) string {
	if empty(v) {
		return ""
	}
	s, _ := v.(string)
	if !slugRe.MatchString(s) {
		return fmt.Sprintf("The %s must be a valid slug (lowercase letters, numbers, and hyphens).", field)
	}
	return ""
}
