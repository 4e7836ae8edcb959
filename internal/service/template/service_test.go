package template

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/notify-engine/pkg/errors"
)

func TestRender(t *testing.T) {
	source := NewStaticSource(map[string]string{
		"greeting": "Hello {{name}}, you have {{count}} new items",
	})
	svc := NewService(source)

	out, err := svc.Render(context.Background(), "greeting", map[string]interface{}{
		"name":  "Ada",
		"count": 3,
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello Ada, you have 3 new items", out)
}

func TestRenderWhitespaceInMarkers(t *testing.T) {
	source := NewStaticSource(map[string]string{
		"spaced": "Hi {{ name }}!",
	})
	svc := NewService(source)

	out, err := svc.Render(context.Background(), "spaced", map[string]interface{}{"name": "Bob"})
	require.NoError(t, err)
	assert.Equal(t, "Hi Bob!", out)
}

func TestRenderLeavesUnresolvedMarkers(t *testing.T) {
	source := NewStaticSource(map[string]string{
		"partial": "Hello {{name}}, your code is {{code}}",
	})
	svc := NewService(source)

	out, err := svc.Render(context.Background(), "partial", map[string]interface{}{"name": "Eve"})
	require.NoError(t, err)
	assert.Equal(t, "Hello Eve, your code is {{code}}", out)
	assert.True(t, HasUnresolvedPlaceholders(out))
	assert.False(t, HasUnresolvedPlaceholders("all resolved"))
}

func TestRenderMissingTemplate(t *testing.T) {
	svc := NewService(NewStaticSource(nil))

	_, err := svc.Render(context.Background(), "nope", nil)
	assert.True(t, errors.IsNotFound(err))
}

type countingSource struct {
	inner *StaticSource
	calls int
}

func (s *countingSource) Get(ctx context.Context, code string) (string, error) {
	s.calls++
	return s.inner.Get(ctx, code)
}

func TestRenderCachesTemplateBody(t *testing.T) {
	source := &countingSource{inner: NewStaticSource(map[string]string{"t": "x {{v}}"})}
	svc := NewService(source)

	for i := 0; i < 3; i++ {
		_, err := svc.Render(context.Background(), "t", map[string]interface{}{"v": i})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, source.calls)
}

func TestFallbackText(t *testing.T) {
	assert.Equal(t, "", FallbackText(nil))
	assert.Equal(t, "plain body", FallbackText(map[string]interface{}{"text": "plain body"}))

	out := FallbackText(map[string]interface{}{"b": 2, "a": "one"})
	assert.Equal(t, "a: one\nb: 2", out, "keys are sorted for a stable rendering")
}

func ExampleFallbackText() {
	fmt.Println(FallbackText(map[string]interface{}{"text": "deploy finished"}))
	// Output: deploy finished
}
