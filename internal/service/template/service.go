package template

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/jwalitptl/notify-engine/pkg/errors"
)

// Source resolves template bodies by code. Production wires a config-backed
// source; tests register bodies directly.
type Source interface {
	Get(ctx context.Context, code string) (string, error)
}

// Service renders message templates by substituting {{name}} placeholders
// from the message payload.
type Service interface {
	Render(ctx context.Context, templateCode string, payload map[string]interface{}) (string, error)
}

var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.]+)\s*\}\}`)

type service struct {
	source Source
	cache  *gocache.Cache
}

func NewService(source Source) Service {
	return &service{
		source: source,
		cache:  gocache.New(5*time.Minute, 10*time.Minute),
	}
}

func (s *service) Render(ctx context.Context, templateCode string, payload map[string]interface{}) (string, error) {
	body, err := s.lookup(ctx, templateCode)
	if err != nil {
		return "", err
	}

	rendered := placeholderPattern.ReplaceAllStringFunc(body, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		if value, ok := payload[name]; ok {
			return fmt.Sprintf("%v", value)
		}
		// Left in place so callers can detect the unresolved marker.
		return match
	})
	return rendered, nil
}

func (s *service) lookup(ctx context.Context, code string) (string, error) {
	if cached, ok := s.cache.Get(code); ok {
		return cached.(string), nil
	}
	body, err := s.source.Get(ctx, code)
	if err != nil {
		return "", errors.NotFound("template", err)
	}
	s.cache.Set(code, body, gocache.DefaultExpiration)
	return body, nil
}

// HasUnresolvedPlaceholders reports whether rendered text still contains
// placeholder markers, so callers can fall back on the raw payload.
func HasUnresolvedPlaceholders(text string) bool {
	return placeholderPattern.MatchString(text)
}

// StaticSource is an in-memory template source.
type StaticSource struct {
	templates map[string]string
}

func NewStaticSource(templates map[string]string) *StaticSource {
	if templates == nil {
		templates = make(map[string]string)
	}
	return &StaticSource{templates: templates}
}

func (s *StaticSource) Register(code, body string) {
	s.templates[code] = body
}

func (s *StaticSource) Get(_ context.Context, code string) (string, error) {
	body, ok := s.templates[code]
	if !ok {
		return "", fmt.Errorf("template %q is not registered", code)
	}
	return body, nil
}

// FallbackText extracts a best-effort plain text from the payload when
// rendering is unavailable.
func FallbackText(payload map[string]interface{}) string {
	if payload == nil {
		return ""
	}
	if text, ok := payload["text"].(string); ok {
		return text
	}
	keys := make([]string, 0, len(payload))
	for key := range payload {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s: %v", key, payload[key]))
	}
	return strings.Join(parts, "\n")
}
