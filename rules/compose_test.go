package rules

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

func TestComposeMatchesGolden(t *testing.T) {
	def := scratchDefinition("s1")
	halves, err := newTestDeriver().DeriveFromScratch(context.Background(), def)
	require.NoError(t, err)

	composite, err := NewComposer(nil).Compose(halves.Input, halves.Output,
		def.Properties.RuleComponents, def.Properties.OutputMappings, def.ID)
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "composite", []byte(composite.Content))
}

func TestComposeNamesApplicationOnce(t *testing.T) {
	def := scratchDefinition("s1")
	// A fragment containing the app-name token must survive untouched.
	def.Properties.RuleComponents[ComponentFilterRules] = []string{"appName == 'x'", "qty<5"}

	halves, err := newTestDeriver().DeriveFromScratch(context.Background(), def)
	require.NoError(t, err)
	composite, err := NewComposer(nil).Compose(halves.Input, halves.Output,
		def.Properties.RuleComponents, def.Properties.OutputMappings, def.ID)
	require.NoError(t, err)

	name, ok := AppName(composite.Content)
	require.True(t, ok)
	assert.Equal(t, "s1", name)
	assert.Equal(t, 1, strings.Count(composite.Content, "@App:name"))
	assert.Contains(t, composite.Content, "[appName == 'x' and qty<5]")
}

func TestComposeLogic(t *testing.T) {
	tests := []struct {
		name       string
		components map[string][]string
		want       string
		wantErr    bool
	}{
		{
			name: "numbered filters",
			components: map[string][]string{
				ComponentFilterRules: {"price>100", "qty<5"},
				ComponentRuleLogic:   {"${1} and ${2}"},
			},
			want: "price>100 and qty<5",
		},
		{
			name: "filters reused and reordered",
			components: map[string][]string{
				ComponentFilterRules: {"a>1", "b<2"},
				ComponentRuleLogic:   {"(${2} or ${1}) and not(${2})"},
			},
			want: "(b<2 or a>1) and not(b<2)",
		},
		{
			name: "only the first logic fragment is used",
			components: map[string][]string{
				ComponentFilterRules: {"a>1"},
				ComponentRuleLogic:   {"${1}", "ignored"},
			},
			want: "a>1",
		},
		{
			name: "logic without filters",
			components: map[string][]string{
				ComponentRuleLogic: {"price > 0"},
			},
			want: "price > 0",
		},
		{
			name: "undefined filter",
			components: map[string][]string{
				ComponentFilterRules: {"a>1"},
				ComponentRuleLogic:   {"${1} and ${3}"},
			},
			wantErr: true,
		},
		{
			name: "no logic",
			components: map[string][]string{
				ComponentFilterRules: {"a>1"},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ComposeLogic(tt.components)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrComposition))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRenderMapping(t *testing.T) {
	assert.Equal(t, "", RenderMapping(nil))
	assert.Equal(t, "", RenderMapping(orderedmap.New[string, string]()))

	m := orderedmap.New[string, string]()
	m.Set("total", "price * qty")
	m.Set("symbol", "symbol")
	m.Set("avg", "avg(price)")
	assert.Equal(t, "price * qty as total, symbol as symbol, avg(price) as avg", RenderMapping(m))
}

func TestStreamName(t *testing.T) {
	tests := []struct {
		definition string
		want       string
		wantErr    bool
	}{
		{definition: "define stream TradeInput (symbol string);", want: "TradeInput"},
		{definition: "define stream AlertOutput(symbol string, total double);", want: "AlertOutput"},
		{definition: "  define   stream\tSpaced   (a int);", want: "Spaced"},
		{definition: "define stream Bare", want: "Bare"},
		{definition: "define stream", wantErr: true},
		{definition: "define stream (a int);", wantErr: true},
		{definition: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.definition, func(t *testing.T) {
			got, err := StreamName(tt.definition)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrComposition))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestComposeRejectsUnparsableSignature(t *testing.T) {
	input := Artifact{Content: "define stream In (a int);", ExposedStreamDefinition: "stream"}
	output := Artifact{Content: "define stream Out (a int);", ExposedStreamDefinition: "define stream Out (a int);"}

	_, err := NewComposer(nil).Compose(input, output,
		map[string][]string{ComponentRuleLogic: {"a > 0"}}, nil, "s1")
	assert.True(t, errors.Is(err, ErrComposition))
}

func TestComposeSkeletonErrors(t *testing.T) {
	input := Artifact{ExposedStreamDefinition: "define stream In (a int);"}
	output := Artifact{ExposedStreamDefinition: "define stream Out (a int);"}
	components := map[string][]string{ComponentRuleLogic: {"a > 0"}}

	t.Run("missing file", func(t *testing.T) {
		c := NewComposer(FileSkeleton{Path: filepath.Join(t.TempDir(), "missing.siddhi")})
		_, err := c.Compose(input, output, components, nil, "s1")
		assert.True(t, errors.Is(err, ErrSkeletonLoad))
	})

	t.Run("missing markers", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "skeleton.siddhi")
		require.NoError(t, os.WriteFile(path, []byte("@App:name('appName')\nfrom ${inputStreamName} select * insert into ${outputStreamName};"), 0o644))

		_, err := NewComposer(FileSkeleton{Path: path}).Compose(input, output, components, nil, "s1")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrSkeletonLoad))
		assert.Contains(t, err.Error(), "inputTemplate")
	})

	t.Run("custom skeleton", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "skeleton.siddhi")
		skeleton := "@App:name('appName')\n${inputTemplate}\n${outputTemplate}\n" +
			"from ${inputStreamName}[${logic}] select ${mapping} insert into ${outputStreamName};\n"
		require.NoError(t, os.WriteFile(path, []byte(skeleton), 0o644))

		mappings := orderedmap.New[string, string]()
		mappings.Set("a", "a")

		composite, err := NewComposer(FileSkeleton{Path: path}).Compose(input, output, components, mappings, "s1")
		require.NoError(t, err)
		assert.Contains(t, composite.Content, "from In[a > 0] select a as a insert into Out;")
	})
}
