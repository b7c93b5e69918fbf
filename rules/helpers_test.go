package rules

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/liamcoop/businessrules/catalog"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testCatalog holds one group with a two-app rule template, a rule template
// whose second app cannot be derived, and an input and output rule template
// for from-scratch rules.
func testCatalog() *catalog.Registry {
	return catalog.Static(catalog.New(&catalog.TemplateGroup{
		ID:   "stock",
		Name: "Stock",
		RuleTemplates: []*catalog.RuleTemplate{
			{
				ID:     "suffix",
				Name:   "Suffix",
				Script: `var x = input1 + "_ok";`,
				Templates: []catalog.Template{
					{Type: catalog.TypeSiddhiApp, Content: "@App:name('X') select ${input1} as a insert into ${x}"},
					{Type: catalog.TypeSiddhiApp, Content: "@App:name('Y')\nfrom ${x} select a insert into ${target}"},
				},
				Properties: map[string]catalog.Property{
					"input1": {FieldName: "Input"},
					"target": {FieldName: "Target", DefaultValue: "Sink"},
				},
			},
			{
				ID: "partly-broken",
				Templates: []catalog.Template{
					{Type: catalog.TypeSiddhiApp, Content: "@App:name('A') from In select * insert into ${out}"},
					{Type: catalog.TypeSiddhiApp, Content: "from In select * insert into ${out}"},
					{Type: catalog.TypeSiddhiApp, Content: "@App:name('C') from In select * insert into ${out}2"},
				},
				Properties: map[string]catalog.Property{
					"out": {FieldName: "Out", DefaultValue: "Out"},
				},
			},
			{
				ID:     "trade-input",
				Script: `var source = topic + "_trades";`,
				Templates: []catalog.Template{{
					Type:                    catalog.TypeInput,
					Content:                 "@App:name('TradeInput')\n@source(type='kafka', topic='${source}')\ndefine stream TradeInput (symbol string, price double, qty int);",
					ExposedStreamDefinition: "define stream TradeInput (symbol string, price double, qty int);",
				}},
				Properties: map[string]catalog.Property{
					"topic": {FieldName: "Topic", DefaultValue: "stock"},
				},
			},
			{
				ID: "alert-output",
				Templates: []catalog.Template{{
					Type:                    catalog.TypeOutput,
					Content:                 "@App:name('AlertOutput')\n@sink(type='log', prefix='${prefix}')\ndefine stream AlertOutput (symbol string, total double);",
					ExposedStreamDefinition: "define stream AlertOutput(symbol string, total double);",
				}},
				Properties: map[string]catalog.Property{
					"prefix": {FieldName: "Prefix"},
				},
			},
			{
				ID: "two-inputs",
				Templates: []catalog.Template{
					{Type: catalog.TypeInput, Content: "define stream A (a int);", ExposedStreamDefinition: "define stream A (a int);"},
					{Type: catalog.TypeInput, Content: "define stream B (b int);", ExposedStreamDefinition: "define stream B (b int);"},
				},
			},
		},
	}))
}

func templateDefinition(id string) TemplateDefinition {
	return TemplateDefinition{
		ID:              id,
		Name:            "Suffix rule",
		TemplateGroupID: "stock",
		RuleTemplateID:  "suffix",
		Properties:      map[string]string{"input1": "foo"},
	}
}

func scratchDefinition(id string) ScratchDefinition {
	mappings := orderedmap.New[string, string]()
	mappings.Set("symbol", "symbol")
	mappings.Set("total", "price * qty")

	return ScratchDefinition{
		ID:                   id,
		Name:                 "Cheap bulk trades",
		TemplateGroupID:      "stock",
		InputRuleTemplateID:  "trade-input",
		OutputRuleTemplateID: "alert-output",
		Properties: ScratchProperties{
			InputData:  map[string]string{"topic": "nasdaq"},
			OutputData: map[string]string{"prefix": "ALERT"},
			RuleComponents: map[string][]string{
				ComponentFilterRules: {"price>100", "qty<5"},
				ComponentRuleLogic:   {"${1} and ${2}"},
			},
			OutputMappings: mappings,
		},
	}
}

// fakeEngine records the applications deployed to it. Calls for names listed
// in fail return an error; names listed in reject are refused with false.
// Like the real client, calls with a done context fail.
type fakeEngine struct {
	mu       sync.Mutex
	apps     map[string]string
	updates  []string
	deletes  []string
	fail     map[string]bool
	reject   map[string]bool
	deployed []string

	// afterDeploy runs after each successful deploy, outside the lock.
	afterDeploy func(name string)
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		apps:   make(map[string]string),
		fail:   make(map[string]bool),
		reject: make(map[string]bool),
	}
}

func (f *fakeEngine) Deploy(ctx context.Context, name, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	if f.fail[name] {
		f.mu.Unlock()
		return fmt.Errorf("engine unavailable for %s", name)
	}
	f.apps[name] = content
	f.deployed = append(f.deployed, name)
	hook := f.afterDeploy
	f.mu.Unlock()

	if hook != nil {
		hook(name)
	}
	return nil
}

func (f *fakeEngine) Update(ctx context.Context, name, content string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[name] {
		return false, fmt.Errorf("engine unavailable for %s", name)
	}
	if f.reject[name] {
		return false, nil
	}
	f.apps[name] = content
	f.updates = append(f.updates, name)
	return true, nil
}

func (f *fakeEngine) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[name] {
		return false, fmt.Errorf("engine unavailable for %s", name)
	}
	if f.reject[name] {
		return false, nil
	}
	delete(f.apps, name)
	f.deletes = append(f.deletes, name)
	return true, nil
}

func (f *fakeEngine) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.apps))
	for name := range f.apps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (f *fakeEngine) content(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.apps[name]
}

func (f *fakeEngine) setFail(name string, fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[name] = fail
}

func (f *fakeEngine) setReject(name string, reject bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reject[name] = reject
}
