package content

import (
	"bytes"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// Renderer converts store-authored markdown (terms of use, descriptions) into
// sanitised HTML safe to embed in the storefront.
type Renderer struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy

	mu    sync.RWMutex
	cache map[string]string
}

// NewRenderer builds a renderer with GFM tables and line breaks enabled.
func NewRenderer() *Renderer {
	return &Renderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		),
		policy: newTermsPolicy(),
		cache:  make(map[string]string),
	}
}

func newTermsPolicy() *bluemonday.Policy {
	policy := bluemonday.UGCPolicy()
	policy.AllowAttrs("class").OnElements("p", "span", "table")
	policy.RequireNoFollowOnLinks(true)
	policy.AddTargetBlankToFullyQualifiedLinks(true)
	return policy
}

// Render returns sanitised HTML for source. Store terms change rarely, so
// rendered output is memoised by source text.
func (r *Renderer) Render(source string) (string, error) {
	trimmed := strings.TrimSpace(source)
	if trimmed == "" {
		return "", nil
	}

	r.mu.RLock()
	cached, ok := r.cache[trimmed]
	r.mu.RUnlock()
	if ok {
		return cached, nil
	}

	var buf bytes.Buffer
	if err := r.md.Convert([]byte(trimmed), &buf); err != nil {
		return "", err
	}
	out := strings.TrimSpace(r.policy.Sanitize(buf.String()))

	r.mu.Lock()
	if len(r.cache) >= maxCacheEntries {
		r.cache = make(map[string]string)
	}
	r.cache[trimmed] = out
	r.mu.Unlock()
	return out, nil
}

const maxCacheEntries = 256
