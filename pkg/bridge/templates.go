// Copyright 2024-2026 Aiku AI

package bridge

import (
	"fmt"
	"sync"

	"github.com/cbroglie/mustache"
)

// Template is the compiled form consumed by the renderer. *mustache.Template
// satisfies it; tests substitute their own implementations.
type Template interface {
	Render(context ...interface{}) (string, error)
}

// TemplateCache compiles and memoizes one template per event kind for a
// single account. Compiled templates live as long as the owning bot;
// a bot restart rebuilds the cache.
type TemplateCache struct {
	templates TemplateConfig

	mu       sync.Mutex
	compiled map[EventKind]*mustache.Template
}

// NewTemplateCache creates an empty cache over the account's template
// strings. Call Validate before serving renders to surface malformed
// templates as a startup error instead of a render-time one.
func NewTemplateCache(templates TemplateConfig) *TemplateCache {
	return &TemplateCache{
		templates: templates,
		compiled:  make(map[EventKind]*mustache.Template),
	}
}

// Validate compiles every configured template. A syntax error here is a
// fatal configuration error for the account.
func (c *TemplateCache) Validate() error {
	for _, kind := range []EventKind{KindPost, KindReply, KindBoost, KindMention, KindFavourite, KindFollow} {
		if _, err := c.TemplateFor(kind); err != nil {
			return fmt.Errorf("template %s: %w", kind, err)
		}
	}
	return nil
}

// TemplateFor returns the compiled template for the given kind, compiling
// and caching it on first use. Repeated calls return the same instance.
// Interpolations are raw: the output is markup for the rich notice, so
// mustache's HTML escaping is disabled.
func (c *TemplateCache) TemplateFor(kind EventKind) (Template, error) {
	if kind == KindReblog {
		// Reblog notifications share the boost template instance.
		kind = KindBoost
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if tmpl, ok := c.compiled[kind]; ok {
		return tmpl, nil
	}

	source, err := c.templates.Template(kind)
	if err != nil {
		return nil, err
	}
	tmpl, err := mustache.ParseStringRaw(source, true)
	if err != nil {
		return nil, fmt.Errorf("compiling %s template: %w", kind, err)
	}
	c.compiled[kind] = tmpl
	return tmpl, nil
}
