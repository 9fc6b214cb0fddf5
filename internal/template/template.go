// Package template renders stored message templates with the Liquid
// template language.
package template

import (
	"context"
	"fmt"
	"html"
	"net/url"
	"strings"
	"sync"

	"github.com/osteele/liquid"

	"github.com/ignite/mailrouter/internal/domain"
)

// Store is the slice of persistence the renderer needs.
type Store interface {
	GetTemplate(ctx context.Context, name string) (*domain.Template, error)
}

// Rendered is the output of rendering one stored template.
type Rendered struct {
	Subject  string
	HTML     string
	Text     string
	Category string
}

// Renderer resolves templates by name and renders them with caching.
// Parsed templates are cached per source string, so editing a template
// invalidates naturally when the stored source changes.
type Renderer struct {
	engine *liquid.Engine
	store  Store
	cache  sync.Map // map[string]*liquid.Template, keyed by source
}

// NewRenderer creates a renderer with the custom filters registered.
func NewRenderer(store Store) *Renderer {
	r := &Renderer{
		engine: liquid.NewEngine(),
		store:  store,
	}
	r.registerFilters()
	return r
}

func (r *Renderer) registerFilters() {
	// Default value filter: {{ first_name | default: "Friend" }}
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

	// URL encode: {{ email | urlencode }}
	r.engine.RegisterFilter("urlencode", func(s string) string {
		return url.QueryEscape(s)
	})

	// HTML escape: {{ user_input | escape }}
	r.engine.RegisterFilter("escape", func(s string) string {
		return html.EscapeString(s)
	})

	// Capitalize first letter: {{ name | capitalize }}
	r.engine.RegisterFilter("capitalize", func(s string) string {
		if len(s) == 0 {
			return s
		}
		return strings.ToUpper(string(s[0])) + strings.ToLower(s[1:])
	})
}

// Render loads the named template and renders subject, HTML, and text
// bodies against data.
func (r *Renderer) Render(ctx context.Context, name string, data map[string]any) (*Rendered, error) {
	tpl, err := r.store.GetTemplate(ctx, name)
	if err != nil {
		return nil, err
	}

	out := &Rendered{Category: tpl.Category}
	if out.Subject, err = r.renderString(tpl.Subject, data); err != nil {
		return nil, fmt.Errorf("render subject of %q: %w", name, err)
	}
	if out.HTML, err = r.renderString(tpl.HTML, data); err != nil {
		return nil, fmt.Errorf("render html of %q: %w", name, err)
	}
	if out.Text, err = r.renderString(tpl.Text, data); err != nil {
		return nil, fmt.Errorf("render text of %q: %w", name, err)
	}
	return out, nil
}

// RenderString renders an inline template source with no store lookup.
func (r *Renderer) RenderString(source string, data map[string]any) (string, error) {
	return r.renderString(source, data)
}

func (r *Renderer) renderString(source string, data map[string]any) (string, error) {
	if source == "" {
		return "", nil
	}
	if data == nil {
		data = map[string]any{}
	}

	if cached, ok := r.cache.Load(source); ok {
		return cached.(*liquid.Template).RenderString(data)
	}

	tpl, err := r.engine.ParseString(source)
	if err != nil {
		return "", err
	}
	r.cache.Store(source, tpl)
	return tpl.RenderString(data)
}
