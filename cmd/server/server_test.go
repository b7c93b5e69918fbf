package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/liamcoop/businessrules/catalog"
	"github.com/liamcoop/businessrules/rules"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner is an in-process stand-in for the remote execution engine.
type fakeRunner struct {
	mu     sync.Mutex
	apps   map[string]string
	reject map[string]bool
}

func (f *fakeRunner) Deploy(_ context.Context, name, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apps[name] = content
	return nil
}

func (f *fakeRunner) Update(_ context.Context, name, content string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apps[name] = content
	return true, nil
}

func (f *fakeRunner) Delete(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject[name] {
		return false, nil
	}
	delete(f.apps, name)
	return true, nil
}

func (f *fakeRunner) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for name := range f.apps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type testServer struct {
	*httptest.Server
	runner *fakeRunner
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	loader, err := catalog.NewLoader("../../catalog/testdata/templates", log)
	require.NoError(t, err)
	registry, err := catalog.NewRegistry(ctx, loader)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	metrics, err := rules.NewMetrics(reg)
	require.NoError(t, err)

	runner := &fakeRunner{apps: make(map[string]string), reject: make(map[string]bool)}
	store := rules.NewInMemoryStore()
	manager := rules.NewManager(registry, store, runner, rules.WithLogger(log), rules.WithMetrics(metrics))

	server := NewServerWithManager(manager, registry, store,
		WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	ts := httptest.NewServer(server)
	t.Cleanup(ts.Close)

	return &testServer{Server: ts, runner: runner}
}

func (ts *testServer) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

const priceAlertRule = `{
	"type": "template",
	"id": "wso2-alert",
	"name": "WSO2 price alert",
	"templateGroupId": "stock-exchange",
	"ruleTemplateId": "price-alert",
	"properties": {"symbol": "WSO2", "threshold": "250"}
}`

const tradeAlertRule = `{
	"type": "scratch",
	"id": "bulk-trades",
	"name": "Bulk trades",
	"templateGroupId": "stock-exchange",
	"inputRuleTemplateId": "trade-input",
	"outputRuleTemplateId": "alert-output",
	"properties": {
		"inputData": {"topic": "nasdaq"},
		"outputData": {"prefix": "BULK"},
		"ruleComponents": {
			"filterRules": ["volume > 1000", "price < 10"],
			"ruleLogic": ["${1} and ${2}"]
		},
		"outputMappings": {"symbol": "symbol", "total": "price * volume"}
	}
}`

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 2, health.TemplateGroups)
}

func TestTemplateCatalogEndpoints(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodGet, "/api/v1/template-groups", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var groups TemplateGroupsListResponse
	require.NoError(t, json.Unmarshal(body, &groups))
	require.Len(t, groups.TemplateGroups, 2)
	assert.Equal(t, "sensors", groups.TemplateGroups[0].ID)
	assert.Equal(t, "stock-exchange", groups.TemplateGroups[1].ID)

	resp, body = ts.do(t, http.MethodGet, "/api/v1/template-groups/stock-exchange/rule-templates", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rts RuleTemplatesListResponse
	require.NoError(t, json.Unmarshal(body, &rts))
	assert.Len(t, rts.RuleTemplates, 3)

	resp, body = ts.do(t, http.MethodGet, "/api/v1/template-groups/stock-exchange/rule-templates/price-alert", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rt catalog.RuleTemplate
	require.NoError(t, json.Unmarshal(body, &rt))
	assert.Equal(t, "100", rt.Properties["threshold"].DefaultValue)

	resp, _ = ts.do(t, http.MethodGet, "/api/v1/template-groups/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodGet, "/api/v1/template-groups/stock-exchange/rule-templates/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = ts.do(t, http.MethodPost, "/api/v1/template-groups/reload", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var reload ReloadResponse
	require.NoError(t, json.Unmarshal(body, &reload))
	assert.Equal(t, 2, reload.TemplateGroups)
}

func TestBusinessRuleLifecycle(t *testing.T) {
	ts := newTestServer(t)

	// Create
	resp, body := ts.do(t, http.MethodPost, "/api/v1/business-rules", priceAlertRule)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var created BusinessRuleResponse
	require.NoError(t, json.Unmarshal(body, &created))
	assert.True(t, created.Deployed)
	assert.Equal(t, "wso2-alert", created.Definition.ID())
	assert.Equal(t, []string{"wso2-alert_0", "wso2-alert_1"}, ts.runner.names())

	// Duplicate
	resp, _ = ts.do(t, http.MethodPost, "/api/v1/business-rules", priceAlertRule)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Get
	resp, body = ts.do(t, http.MethodGet, "/api/v1/business-rules/wso2-alert", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var found BusinessRuleResponse
	require.NoError(t, json.Unmarshal(body, &found))
	assert.Equal(t, "250", found.Definition.Template.Properties["threshold"])

	// Edit
	edited := strings.Replace(priceAlertRule, `"250"`, `"300"`, 1)
	resp, body = ts.do(t, http.MethodPut, "/api/v1/business-rules/wso2-alert", edited)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var updated BusinessRuleResponse
	require.NoError(t, json.Unmarshal(body, &updated))
	assert.True(t, updated.Deployed)
	assert.Equal(t, "300", updated.Definition.Template.Properties["threshold"])

	// Redeploy
	resp, _ = ts.do(t, http.MethodPost, "/api/v1/business-rules/wso2-alert/redeploy", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// List
	resp, body = ts.do(t, http.MethodGet, "/api/v1/business-rules", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list BusinessRulesListResponse
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list.BusinessRules, 1)

	// Delete
	resp, _ = ts.do(t, http.MethodDelete, "/api/v1/business-rules/wso2-alert", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, ts.runner.names())

	resp, _ = ts.do(t, http.MethodGet, "/api/v1/business-rules/wso2-alert", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateFromScratchRule(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodPost, "/api/v1/business-rules", tradeAlertRule)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	assert.Equal(t, []string{"bulk-trades"}, ts.runner.names())

	ts.runner.mu.Lock()
	content := ts.runner.apps["bulk-trades"]
	ts.runner.mu.Unlock()
	assert.Contains(t, content, "@App:name('bulk-trades')")
	assert.Contains(t, content, "from TradeInput[volume > 1000 and price < 10]")
	assert.Contains(t, content, "select symbol as symbol, price * volume as total")
	assert.Contains(t, content, "insert into AlertOutput;")

	// A scratch rule cannot become a template rule
	edited := strings.Replace(priceAlertRule, `"wso2-alert"`, `"bulk-trades"`, 1)
	resp, _ = ts.do(t, http.MethodPut, "/api/v1/business-rules/bulk-trades", edited)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeleteReportsFailedUndeploys(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.do(t, http.MethodPost, "/api/v1/business-rules", priceAlertRule)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	ts.runner.mu.Lock()
	ts.runner.reject["wso2-alert_1"] = true
	ts.runner.mu.Unlock()

	resp, body := ts.do(t, http.MethodDelete, "/api/v1/business-rules/wso2-alert", "")
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(body, &errResp))
	assert.Equal(t, []string{"wso2-alert_1"}, errResp.Failed)

	resp, _ = ts.do(t, http.MethodGet, "/api/v1/business-rules/wso2-alert", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestBadRequests(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"malformed json", http.MethodPost, "/api/v1/business-rules", `{`, http.StatusBadRequest},
		{"unknown type", http.MethodPost, "/api/v1/business-rules", `{"type":"other"}`, http.StatusBadRequest},
		{"missing rule template", http.MethodPost, "/api/v1/business-rules", `{"type":"template","templateGroupId":"g"}`, http.StatusBadRequest},
		{"edit unknown rule", http.MethodPut, "/api/v1/business-rules/missing", priceAlertRule, http.StatusNotFound},
		{"delete unknown rule", http.MethodDelete, "/api/v1/business-rules/missing", "", http.StatusNotFound},
		{"redeploy unknown rule", http.MethodPost, "/api/v1/business-rules/missing/redeploy", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := ts.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.do(t, http.MethodPost, "/api/v1/business-rules", priceAlertRule)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := ts.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `businessrules_lifecycle_operations_total{operation="create",outcome="success"} 1`)
	assert.Contains(t, string(body), `businessrules_remote_calls_total{call="deploy",outcome="success"} 2`)
}

func TestReloadWithoutSource(t *testing.T) {
	registry := catalog.Static(catalog.New())
	store := rules.NewInMemoryStore()
	manager := rules.NewManager(registry, store, &fakeRunner{apps: map[string]string{}},
		rules.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	ts := httptest.NewServer(NewServerWithManager(manager, registry, store))
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/v1/template-groups/reload", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(rules.ErrDefinitionNotFound))
	assert.Equal(t, http.StatusNotFound, statusFor(catalog.ErrTemplateNotFound))
	assert.Equal(t, http.StatusConflict, statusFor(&rules.UndeployError{RuleID: "r", Failed: []string{"r_0"}}))
	assert.Equal(t, http.StatusBadRequest, statusFor(rules.ErrVariantMismatch))
	assert.Equal(t, http.StatusInternalServerError, statusFor(rules.ErrPersistence))
}
