package catalog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestLoader(t *testing.T, dir string) *Loader {
	t.Helper()
	l, err := NewLoader(dir, discardLogger())
	require.NoError(t, err)
	return l
}

func TestLoaderLoadsValidDocumentsAndSkipsInvalid(t *testing.T) {
	c, err := newTestLoader(t, "testdata/templates").Load(context.Background())
	require.NoError(t, err)

	groups := c.TemplateGroups()
	require.Len(t, groups, 2)
	assert.Equal(t, "sensors", groups[0].ID)
	assert.Equal(t, "stock-exchange", groups[1].ID)

	// the first file wins for a duplicated group id
	stock, err := c.TemplateGroup("stock-exchange")
	require.NoError(t, err)
	assert.Equal(t, "Stock Exchange", stock.Name)
	assert.Len(t, stock.RuleTemplates, 3)

	for _, id := range []string{"empty", "broken", "bad-property"} {
		_, err := c.TemplateGroup(id)
		assert.ErrorIs(t, err, ErrTemplateNotFound, id)
	}
}

func TestLoaderParsesYAML(t *testing.T) {
	c, err := newTestLoader(t, "testdata/templates").Load(context.Background())
	require.NoError(t, err)

	rt, err := c.RuleTemplate("sensors", "temperature-threshold")
	require.NoError(t, err)
	assert.Contains(t, rt.Script, `let alertStream = room + "_hot"`)
	require.Len(t, rt.Templates, 1)
	assert.Equal(t, TypeSiddhiApp, rt.Templates[0].Type)
	assert.Equal(t, map[string]string{"limit": "30"}, rt.Defaults())
}

func TestLoaderMissingDirectory(t *testing.T) {
	_, err := newTestLoader(t, filepath.Join(t.TempDir(), "absent")).Load(context.Background())
	assert.Error(t, err)
}

func TestLoaderHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestLoader(t, "testdata/templates").Load(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseRejectsRoleTemplateWithoutSignature(t *testing.T) {
	doc := `{"templateGroup": {"id": "g", "name": "G", "ruleTemplates": [
		{"id": "in", "name": "In", "templates": [{"type": "input", "content": "define stream S (a int);"}]}
	]}}`

	_, err := newTestLoader(t, t.TempDir()).Parse([]byte(doc), ".json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exposed stream definition")
}

func TestParseRejectsUnknownTemplateType(t *testing.T) {
	doc := `{"templateGroup": {"id": "g", "name": "G", "ruleTemplates": [
		{"id": "rt", "name": "RT", "templates": [{"type": "gadget", "content": "x"}]}
	]}}`

	_, err := newTestLoader(t, t.TempDir()).Parse([]byte(doc), ".json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema validation failed")
}

func TestCatalogLookups(t *testing.T) {
	c := New(
		&TemplateGroup{ID: "b", Name: "B", RuleTemplates: []*RuleTemplate{{ID: "r1"}, {ID: "r2"}}},
		&TemplateGroup{ID: "a", Name: "A", RuleTemplates: []*RuleTemplate{{ID: "x"}}},
		&TemplateGroup{ID: "a", Name: "Shadowed"},
		nil,
	)

	assert.Equal(t, 2, c.Len())
	assert.Equal(t, "a", c.TemplateGroups()[0].ID)

	g, err := c.TemplateGroup("a")
	require.NoError(t, err)
	assert.Equal(t, "A", g.Name)

	rts, err := c.RuleTemplates("b")
	require.NoError(t, err)
	require.Len(t, rts, 2)
	assert.Equal(t, "r2", rts[1].ID)

	rt, err := c.RuleTemplate("b", "r1")
	require.NoError(t, err)
	assert.Equal(t, "r1", rt.ID)

	_, err = c.RuleTemplate("b", "missing")
	assert.True(t, errors.Is(err, ErrTemplateNotFound))
	_, err = c.RuleTemplate("missing", "r1")
	assert.True(t, errors.Is(err, ErrTemplateNotFound))
	_, err = c.RuleTemplates("missing")
	assert.True(t, errors.Is(err, ErrTemplateNotFound))
}

func TestTemplatesOfType(t *testing.T) {
	rt := &RuleTemplate{Templates: []Template{
		{Type: TypeSiddhiApp, Content: "a"},
		{Type: TypeInput, Content: "b"},
		{Type: TypeSiddhiApp, Content: "c"},
	}}

	apps := rt.TemplatesOfType(TypeSiddhiApp)
	require.Len(t, apps, 2)
	assert.Equal(t, "c", apps[1].Content)
	assert.Empty(t, rt.TemplatesOfType(TypeOutput))
}

func TestRegistryReloadSwapsCatalog(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	write("one.yaml", `
templateGroup:
  id: one
  name: One
  ruleTemplates:
    - id: rt
      name: RT
      templates:
        - type: siddhiApp
          content: "@App:name('A') define stream S (a int);"
`)

	reg, err := NewRegistry(context.Background(), newTestLoader(t, dir))
	require.NoError(t, err)
	before := reg.Current()
	assert.Equal(t, 1, before.Len())

	write("two.yaml", `
templateGroup:
  id: two
  name: Two
  ruleTemplates:
    - id: rt
      name: RT
      templates:
        - type: siddhiApp
          content: "@App:name('B') define stream S (a int);"
`)

	after, err := reg.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, after.Len())
	assert.Same(t, after, reg.Current())
	// snapshots taken before the reload are unaffected
	assert.Equal(t, 1, before.Len())
}

func TestRegistryReloadFailureKeepsCurrent(t *testing.T) {
	dir := t.TempDir()
	reg, err := NewRegistry(context.Background(), newTestLoader(t, dir))
	require.NoError(t, err)
	current := reg.Current()

	require.NoError(t, os.RemoveAll(dir))
	_, err = reg.Reload(context.Background())
	require.Error(t, err)
	assert.Same(t, current, reg.Current())
}

func TestStaticRegistry(t *testing.T) {
	c := New(&TemplateGroup{ID: "g"})
	reg := Static(c)
	assert.Same(t, c, reg.Current())

	_, err := reg.Reload(context.Background())
	assert.ErrorIs(t, err, ErrNotReloadable)
}
