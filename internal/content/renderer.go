// Package content personalizes message content per recipient with Liquid
// templates.
package content

import (
	"fmt"
	"strings"
	"sync"

	"github.com/osteele/liquid"

	"github.com/JAKOBGTAG/multi-email-sender/internal/domain"
)

// LiquidRenderer renders subject, HTML and text bodies. Parsed templates are
// cached by source text.
type LiquidRenderer struct {
	engine *liquid.Engine
	cache  sync.Map // map[string]*liquid.Template
}

// NewLiquidRenderer creates a renderer with the custom filters registered.
func NewLiquidRenderer() *LiquidRenderer {
	r := &LiquidRenderer{engine: liquid.NewEngine()}
	r.registerFilters()
	return r
}

func (r *LiquidRenderer) registerFilters() {
	// {{ first_name | default: "Friend" }}
	r.engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
		if value == nil {
			return defaultVal
		}
		s := fmt.Sprintf("%v", value)
		if s == "" || s == "<nil>" {
			return defaultVal
		}
		return value
	})

	r.engine.RegisterFilter("capitalize", func(s string) string {
		if s == "" {
			return s
		}
		return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
	})

	r.engine.RegisterFilter("email_domain", func(email string) string {
		if i := strings.LastIndex(email, "@"); i >= 0 {
			return email[i+1:]
		}
		return ""
	})

	r.engine.RegisterFilter("first_word", func(s string) string {
		if f := strings.Fields(s); len(f) > 0 {
			return f[0]
		}
		return ""
	})
}

// Bindings builds the template variables for a recipient: every Data key,
// plus email and name.
func Bindings(rc domain.Recipient) map[string]interface{} {
	b := make(map[string]interface{}, len(rc.Data)+2)
	for k, v := range rc.Data {
		b[k] = v
	}
	b["email"] = rc.Email
	if rc.Name != "" {
		b["name"] = rc.Name
	} else if _, ok := b["name"]; !ok {
		b["name"] = ""
	}
	return b
}

// Render personalizes c for rc. Fields without template markup are returned
// unchanged.
func (r *LiquidRenderer) Render(c domain.Content, rc domain.Recipient) (domain.Content, error) {
	b := Bindings(rc)
	out := c
	var err error
	if out.Subject, err = r.renderField("subject", c.Subject, b); err != nil {
		return c, err
	}
	if out.HTML, err = r.renderField("html", c.HTML, b); err != nil {
		return c, err
	}
	if out.Text, err = r.renderField("text", c.Text, b); err != nil {
		return c, err
	}
	return out, nil
}

func (r *LiquidRenderer) renderField(field, src string, b map[string]interface{}) (string, error) {
	if !strings.Contains(src, "{{") && !strings.Contains(src, "{%") {
		return src, nil
	}
	tpl, err := r.template(src)
	if err != nil {
		return "", fmt.Errorf("parse %s template: %w", field, err)
	}
	s, rerr := tpl.RenderString(b)
	if rerr != nil {
		return "", fmt.Errorf("render %s template: %w", field, rerr)
	}
	return s, nil
}

func (r *LiquidRenderer) template(src string) (*liquid.Template, error) {
	if cached, ok := r.cache.Load(src); ok {
		return cached.(*liquid.Template), nil
	}
	tpl, err := r.engine.ParseString(src)
	if err != nil {
		return nil, err
	}
	r.cache.Store(src, tpl)
	return tpl, nil
}

// Validate parses every templated field of c without rendering.
func (r *LiquidRenderer) Validate(c domain.Content) error {
	for field, src := range map[string]string{"subject": c.Subject, "html": c.HTML, "text": c.Text} {
		if !strings.Contains(src, "{{") && !strings.Contains(src, "{%") {
			continue
		}
		if _, err := r.template(src); err != nil {
			return fmt.Errorf("parse %s template: %w", field, err)
		}
	}
	return nil
}
