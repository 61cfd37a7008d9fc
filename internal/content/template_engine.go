package content

import (
	"fmt"
	"html"
	"net/url"
	"strings"
	"sync"

	"github.com/osteele/liquid"
)

// TemplateService renders rich Liquid templates for previews and the
// hosted web version. Plain {{tag}} merge substitution stays a literal
// string replacement in Transformer; Liquid is the opt-in layer on top.
type TemplateService struct {
	engine *liquid.Engine
	cache  sync.Map // map[string]*liquid.Template
}

// NewTemplateService creates a template service with the custom filters
// registered.
func NewTemplateService() *TemplateService {
	ts := &TemplateService{engine: liquid.NewEngine()}
	ts.registerFilters()
	return ts
}

func (ts *TemplateService) registerFilters() {
	// Fallback value: {{ first_name | default: "Friend" }}
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

	ts.engine.RegisterFilter("capitalize", func(s string) string {
		if len(s) == 0 {
			return s
		}
		return strings.ToUpper(string(s[0])) + strings.ToLower(s[1:])
	})

	ts.engine.RegisterFilter("urlencode", func(s string) string {
		return url.QueryEscape(s)
	})

	ts.engine.RegisterFilter("escape", func(s string) string {
		return html.EscapeString(s)
	})

	ts.engine.RegisterFilter("email_domain", func(email string) string {
		parts := strings.Split(email, "@")
		if len(parts) == 2 {
			return parts[1]
		}
		return ""
	})
}

// Parse compiles a template string and returns any syntax error. Used for
// pre-send template validation.
func (ts *TemplateService) Parse(templateStr string) error {
	_, err := ts.engine.ParseString(templateStr)
	return err
}

// Render processes a template with the given binding, caching the parsed
// template under cacheKey when one is provided. On parse or render errors
// the original template string is returned alongside the error so sends
// can degrade rather than fail.
func (ts *TemplateService) Render(cacheKey, templateStr string, binding map[string]interface{}) (string, error) {
	if cacheKey != "" {
		if cached, ok := ts.cache.Load(cacheKey); ok {
			out, err := cached.(*liquid.Template).RenderString(binding)
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

	out, err := tpl.RenderString(binding)
	if err != nil {
		return templateStr, err
	}
	return out, nil
}

// SubscriberBinding builds the Liquid binding for a subscriber.
func SubscriberBinding(sub Subscriber) map[string]interface{} {
	return map[string]interface{}{
		"first_name": sub.FirstName,
		"last_name":  sub.LastName,
		"email":      sub.Email,
	}
}
