package personalize

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/osteele/liquid"
)

// TemplateService renders Liquid templates with parsed-template caching.
// Render errors never propagate to message dispatch; callers fall back to the
// pre-render content.
type TemplateService struct {
	engine *liquid.Engine
	cache  sync.Map // map[string]*liquid.Template
}

// NewTemplateService creates a template service with marketing filters
// registered.
func NewTemplateService() *TemplateService {
	ts := &TemplateService{engine: liquid.NewEngine()}
	ts.registerFilters()
	return ts
}

func (ts *TemplateService) registerFilters() {
	// Fallback value: {{ first_name | default: "there" }}
	ts.engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
		if value == nil {
			return defaultVal
		}
		s := fmt.Sprintf("%v", value)
		if s == "" || s == "<nil>" {
			return defaultVal
		}
		return value
	})

	// Capitalize first letter: {{ name | capitalize }}
	ts.engine.RegisterFilter("capitalize", func(s string) string {
		if len(s) == 0 {
			return s
		}
		return strings.ToUpper(string(s[0])) + strings.ToLower(s[1:])
	})

	// Truncate with ellipsis: {{ bio | truncate: 40 }}
	ts.engine.RegisterFilter("truncate", func(s string, length int) string {
		if len(s) <= length {
			return s
		}
		if length <= 3 {
			return s[:length]
		}
		return s[:length-3] + "..."
	})

	// Currency formatting: {{ cart_value | currency }}
	ts.engine.RegisterFilter("currency", func(value interface{}) string {
		var f float64
		switch v := value.(type) {
		case float64:
			f = v
		case float32:
			f = float64(v)
		case int:
			f = float64(v)
		case int64:
			f = float64(v)
		case string:
			parsed, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return v
			}
			f = parsed
		default:
			return fmt.Sprintf("%v", value)
		}
		return fmt.Sprintf("$%.2f", f)
	})
}

// Render parses and renders a template against the given context, caching the
// parsed template under cacheKey when non-empty. On any error the original
// template string is returned along with the error.
func (ts *TemplateService) Render(cacheKey, templateStr string, ctx map[string]any) (string, error) {
	if cacheKey != "" {
		if cached, ok := ts.cache.Load(cacheKey); ok {
			out, err := cached.(*liquid.Template).RenderString(ctx)
			if err != nil {
				return templateStr, err
			}
			return out, nil
		}
	}

	tpl, err := ts.engine.ParseString(templateStr)
	if err != nil {
		return templateStr, err
	}
	if cacheKey != "" {
		ts.cache.Store(cacheKey, tpl)
	}

	out, err := tpl.RenderString(ctx)
	if err != nil {
		return templateStr, err
	}
	return out, nil
}

// ClearCache removes all cached templates.
func (ts *TemplateService) ClearCache() {
	ts.cache = sync.Map{}
}
