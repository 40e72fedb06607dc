// Package personalize resolves message content for a customer: rule-based
// variant selection, {{key}} variable substitution against the customer
// profile, and Liquid rendering for rich templates.
package personalize

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Profile holds the three customer attribute maps. Variable lookups resolve
// demographics first, then behavioral, then preferences.
type Profile struct {
	Demographics map[string]any `json:"demographics,omitempty"`
	Behavioral   map[string]any `json:"behavioral,omitempty"`
	Preferences  map[string]any `json:"preferences,omitempty"`
}

// Lookup returns the first non-nil value for key across the three maps.
func (p Profile) Lookup(key string) (any, bool) {
	for _, m := range []map[string]any{p.Demographics, p.Behavioral, p.Preferences} {
		if v, ok := m[key]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// Flat merges the three maps into one, demographics winning on key clashes.
// Used where a flat context is needed (capping exceptions, Liquid render).
func (p Profile) Flat() map[string]any {
	out := make(map[string]any)
	for _, m := range []map[string]any{p.Preferences, p.Behavioral, p.Demographics} {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

// Rule overrides the template when its condition holds. Among matching rules
// the highest priority wins.
type Rule struct {
	ID          string `json:"id,omitempty"`
	Condition   string `json:"condition"`
	Content     string `json:"content"`
	Priority    int    `json:"priority"`
	Description string `json:"description,omitempty"`
}

// Variant is one A/B content variant with a relative weight.
type Variant struct {
	ID      string  `json:"id"`
	Content string  `json:"content"`
	Weight  float64 `json:"weight"`
}

// Content is the template bundle attached to a journey step.
type Content struct {
	Template  string            `json:"template"`
	Variables map[string]string `json:"variables,omitempty"`
	Rules     []Rule            `json:"personalization_rules,omitempty"`
	Variants  []Variant         `json:"variants,omitempty"`
	Fallback  string            `json:"fallback,omitempty"`
}

// Engine is the content personalization engine.
type Engine struct {
	templates *TemplateService
}

// NewEngine creates a personalization engine.
func NewEngine() *Engine {
	return &Engine{templates: NewTemplateService()}
}

var varToken = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)

// Personalize resolves content for a customer in three stages:
//
//  1. Rule override: among rules whose condition evaluates true against the
//     profile, the highest-priority rule's content replaces the template.
//     Otherwise, when variants exist, one is picked deterministically for the
//     customer by weight.
//  2. Variable substitution: every bare {{key}} token is replaced by the
//     first value found in demographics, then behavioral, then preferences,
//     then the step's own variables, defaulting to empty string.
//  3. Liquid render: remaining Liquid constructs (filters, tags) are rendered
//     against the flattened profile. Render failures fall back to the
//     substituted string.
//
// Rule evaluation failures are treated as non-matches and never propagate.
func (e *Engine) Personalize(content Content, profile Profile, customerID string) string {
	template := content.Template

	if rule, ok := selectRule(content.Rules, profile); ok {
		template = rule.Content
	} else if len(content.Variants) > 0 {
		template = pickVariant(content.Variants, customerID)
	}
	if template == "" {
		template = content.Fallback
	}

	out := varToken.ReplaceAllStringFunc(template, func(token string) string {
		key := varToken.FindStringSubmatch(token)[1]
		if v, ok := profile.Lookup(key); ok {
			return fmt.Sprintf("%v", v)
		}
		if v, ok := content.Variables[key]; ok {
			return v
		}
		return ""
	})

	if strings.Contains(out, "{{") || strings.Contains(out, "{%") {
		rendered, err := e.templates.Render("", out, profile.Flat())
		if err == nil {
			return rendered
		}
	}
	return out
}

// selectRule returns the highest-priority rule whose condition matches.
func selectRule(rules []Rule, profile Profile) (Rule, bool) {
	matched := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if EvalCondition(r.Condition, profile) {
			matched = append(matched, r)
		}
	}
	if len(matched) == 0 {
		return Rule{}, false
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].Priority > matched[j].Priority })
	return matched[0], true
}

// pickVariant deterministically assigns a customer to a weighted variant, so
// repeated personalization of the same step yields the same content.
func pickVariant(variants []Variant, customerID string) string {
	total := 0.0
	for _, v := range variants {
		if v.Weight > 0 {
			total += v.Weight
		}
	}
	if total <= 0 {
		return variants[0].Content
	}
	h := fnv.New32a()
	h.Write([]byte(customerID))
	point := float64(h.Sum32()%10000) / 10000.0 * total
	acc := 0.0
	for _, v := range variants {
		if v.Weight <= 0 {
			continue
		}
		acc += v.Weight
		if point < acc {
			return v.Content
		}
	}
	return variants[len(variants)-1].Content
}

// EvalCondition evaluates a small boolean expression over {{field}}
// placeholders, e.g.
//
//	{{loyalty_tier}} == "gold" && {{total_purchases}} > 5
//
// Supported: ||, && (|| binds looser), ==, !=, >=, <=, >, <, contains.
// Malformed expressions and missing fields fail closed.
func EvalCondition(expr string, profile Profile) bool {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return false
	}
	for _, orTerm := range strings.Split(expr, "||") {
		all := true
		for _, andTerm := range strings.Split(orTerm, "&&") {
			if !evalComparison(strings.TrimSpace(andTerm), profile) {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}

var comparisonOps = []string{"==", "!=", ">=", "<=", ">", "<", " contains "}

func evalComparison(term string, profile Profile) bool {
	for _, op := range comparisonOps {
		idx := strings.Index(term, op)
		if idx < 0 {
			continue
		}
		left := strings.TrimSpace(term[:idx])
		right := strings.TrimSpace(term[idx+len(op):])

		m := varToken.FindStringSubmatch(left)
		if m == nil {
			return false
		}
		val, ok := profile.Lookup(m[1])
		if !ok {
			return false
		}
		return compare(val, strings.TrimSpace(op), unquote(right))
	}
	return false
}

func compare(got any, op, want string) bool {
	switch op {
	case "==":
		return fmt.Sprintf("%v", got) == want
	case "!=":
		return fmt.Sprintf("%v", got) != want
	case "contains":
		return strings.Contains(fmt.Sprintf("%v", got), want)
	case ">", "<", ">=", "<=":
		gotN, ok := toFloat(got)
		wantN, err := strconv.ParseFloat(want, 64)
		if !ok || err != nil {
			return false
		}
		switch op {
		case ">":
			return gotN > wantN
		case "<":
			return gotN < wantN
		case ">=":
			return gotN >= wantN
		default:
			return gotN <= wantN
		}
	}
	return false
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' && s[len(s)-1] == '"' || s[0] == '\'' && s[len(s)-1] == '\'') {
		return s[1 : len(s)-1]
	}
	return s
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
