package provider

import (
	"errors"
	"fmt"
	"sync"

	"github.com/aymerick/raymond"
)

// ErrRender is wrapped by every rendering failure.
var ErrRender = errors.New("courier: render failed")

// Renderer expands a content template against a payload.
type Renderer interface {
	Render(content string, payload map[string]any) (string, error)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(content string, payload map[string]any) (string, error)

// Render implements Renderer.
func (f RendererFunc) Render(content string, payload map[string]any) (string, error) {
	return f(content, payload)
}

// HandlebarsRenderer renders handlebars templates. Parsed templates are
// cached by source, so repeated steps of one template parse once.
type HandlebarsRenderer struct {
	cache sync.Map // string -> *raymond.Template
}

// NewHandlebarsRenderer returns a HandlebarsRenderer with an empty cache.
func NewHandlebarsRenderer() *HandlebarsRenderer {
	return &HandlebarsRenderer{}
}

// Render implements Renderer.
func (r *HandlebarsRenderer) Render(content string, payload map[string]any) (string, error) {
	if content == "" {
		return "", nil
	}
	tpl, err := r.parse(content)
	if err != nil {
		return "", fmt.Errorf("%w: parse: %w", ErrRender, err)
	}
	if payload == nil {
		payload = map[string]any{}
	}
	out, err := tpl.Exec(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRender, err)
	}
	return out, nil
}

func (r *HandlebarsRenderer) parse(content string) (*raymond.Template, error) {
	if v, ok := r.cache.Load(content); ok {
		return v.(*raymond.Template), nil
	}
	tpl, err := raymond.Parse(content)
	if err != nil {
		return nil, err
	}
	v, _ := r.cache.LoadOrStore(content, tpl)
	return v.(*raymond.Template), nil
}
