package alerts

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patientwatch/patientwatch/internal/config"
	"github.com/patientwatch/patientwatch/pkg/types"
)

func reportWith(highRisk int, failedPages []int, expected, actual int) *types.Report {
	ids := make([]string, highRisk)
	for i := range ids {
		ids[i] = "P"
	}
	return &types.Report{
		RunID: "run",
		Analysis: types.Analysis{
			AlertLists: types.AlertLists{
				HighRiskPatients:  ids,
				FeverPatients:     []string{"F1", "F2"},
				DataQualityIssues: []string{},
			},
			Summary: types.Summary{TotalPatients: actual, AverageRiskScore: 2.5},
		},
		Progress: types.Progress{
			ExpectedTotal:        expected,
			ActualTotal:          actual,
			FailedPages:          failedPages,
			CompletionPercentage: 100 * actual / expected,
		},
	}
}

func TestParseCondition(t *testing.T) {
	tests := []struct {
		cond    string
		wantErr bool
	}{
		{"high_risk_count > 10", false},
		{"average_risk_score >= 2.5", false},
		{"completion_pct < 100", false},
		{"missing_patients == 0", false},
		{"high_risk_count>10", true},
		{"unknown_field > 1", true},
		{"failed_pages != 0", true},
		{"fever_count > many", true},
	}
	for _, tc := range tests {
		_, err := parseCondition(tc.cond)
		if tc.wantErr {
			assert.Error(t, err, tc.cond)
		} else {
			assert.NoError(t, err, tc.cond)
		}
	}
}

func TestConditionFields(t *testing.T) {
	r := reportWith(3, []int{3}, 45, 40)
	tests := []struct {
		cond  string
		fires bool
		value float64
	}{
		{"high_risk_count >= 3", true, 3},
		{"fever_count > 2", false, 2},
		{"data_quality_count == 0", true, 0},
		{"total_patients < 45", true, 40},
		{"average_risk_score > 2", true, 2.5},
		{"missing_patients == 5", true, 5},
		{"failed_pages > 0", true, 1},
		{"completion_pct < 100", true, 88},
	}
	for _, tc := range tests {
		c, err := parseCondition(tc.cond)
		require.NoError(t, err)
		fires, v := c.eval(r)
		assert.Equal(t, tc.fires, fires, tc.cond)
		assert.Equal(t, tc.value, v, tc.cond)
	}
}

func TestNew_RejectsBadRule(t *testing.T) {
	_, err := New(config.AlertsConfig{Rules: []config.AlertRule{{Name: "x", Condition: "bogus > 1"}}}, nil)
	assert.Error(t, err)
}

func TestEvaluate_FireAndResolve(t *testing.T) {
	e, err := New(config.AlertsConfig{Rules: []config.AlertRule{
		{Name: "high-risk-surge", Condition: "high_risk_count > 5", Severity: "critical"},
	}}, nil)
	require.NoError(t, err)
	now := time.Date(2025, 7, 15, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }

	e.Evaluate(reportWith(6, nil, 10, 10))
	active := e.Active()
	require.Len(t, active, 1)
	assert.Equal(t, "firing", active[0].State)
	assert.Equal(t, "critical", active[0].Severity)
	assert.Equal(t, 6.0, active[0].Value)
	assert.Equal(t, 1, e.FiringCount())

	// still firing: no duplicate alert
	now = now.Add(time.Minute)
	e.Evaluate(reportWith(8, nil, 10, 10))
	active = e.Active()
	require.Len(t, active, 1)
	assert.Equal(t, 8.0, active[0].Value)

	now = now.Add(time.Minute)
	e.Evaluate(reportWith(1, nil, 10, 10))
	active = e.Active()
	require.Len(t, active, 1)
	assert.Equal(t, "resolved", active[0].State)
	require.NotNil(t, active[0].ResolvedAt)
	assert.Equal(t, 0, e.FiringCount())

	// resolved alerts drop out after an hour
	now = now.Add(2 * time.Hour)
	assert.Empty(t, e.Active())
}

func TestEvaluate_Cooldown(t *testing.T) {
	e, err := New(config.AlertsConfig{Rules: []config.AlertRule{
		{Name: "partial", Condition: "failed_pages > 0", Cooldown: 10 * time.Minute},
	}}, nil)
	require.NoError(t, err)
	now := time.Date(2025, 7, 15, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }

	e.Evaluate(reportWith(0, []int{2}, 45, 25))
	e.Evaluate(reportWith(0, nil, 45, 45)) // resolve
	now = now.Add(5 * time.Minute)
	e.Evaluate(reportWith(0, []int{3}, 45, 40))
	assert.Equal(t, 0, e.FiringCount(), "re-fire suppressed inside cooldown")

	now = now.Add(6 * time.Minute)
	e.Evaluate(reportWith(0, []int{3}, 45, 40))
	assert.Equal(t, 1, e.FiringCount())
}

func TestEvaluate_DefaultSeverity(t *testing.T) {
	e, err := New(config.AlertsConfig{Rules: []config.AlertRule{
		{Name: "fever", Condition: "fever_count >= 1"},
	}}, nil)
	require.NoError(t, err)
	e.Evaluate(reportWith(0, nil, 1, 1))
	require.Len(t, e.Active(), 1)
	assert.Equal(t, "warning", e.Active()[0].Severity)
}

func TestSetConfig_DropsRemovedRules(t *testing.T) {
	e, err := New(config.AlertsConfig{Rules: []config.AlertRule{
		{Name: "a", Condition: "fever_count > 0"},
	}}, nil)
	require.NoError(t, err)
	e.Evaluate(reportWith(0, nil, 1, 1))
	require.Equal(t, 1, e.FiringCount())

	require.NoError(t, e.SetConfig(config.AlertsConfig{}))
	assert.Equal(t, 0, e.FiringCount())
	assert.Error(t, e.SetConfig(config.AlertsConfig{Rules: []config.AlertRule{{Name: "b", Condition: "x"}}}))
}

func TestWebhookDelivery(t *testing.T) {
	var mu sync.Mutex
	bodies := map[string][]map[string]any{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		mu.Lock()
		bodies[r.URL.Path] = append(bodies[r.URL.Path], body)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	t.Setenv("SLACK_URL", srv.URL+"/slack")
	t.Setenv("TEAMS_URL", srv.URL+"/teams")
	t.Setenv("HOOK_URL", srv.URL+"/http")

	e, err := New(config.AlertsConfig{
		Rules: []config.AlertRule{{Name: "surge", Condition: "high_risk_count > 0", Severity: "critical"}},
		Webhooks: []config.WebhookConfig{
			{Type: "slack", URLEnv: "SLACK_URL"},
			{Type: "teams", URLEnv: "TEAMS_URL"},
			{Type: "http", URLEnv: "HOOK_URL"},
			{Type: "http", URLEnv: "UNSET_HOOK_URL"},
		},
	}, nil)
	require.NoError(t, err)

	e.Evaluate(reportWith(2, nil, 2, 2))
	e.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, bodies["/slack"], 1)
	assert.Contains(t, bodies["/slack"][0]["text"], "[CRITICAL]")
	require.Len(t, bodies["/teams"], 1)
	assert.Equal(t, "MessageCard", bodies["/teams"][0]["@type"])
	assert.Equal(t, "FF4F6A", bodies["/teams"][0]["themeColor"])
	require.Len(t, bodies["/http"], 1)
	alert, ok := bodies["/http"][0]["alert"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "surge", alert["rule_name"])
	assert.Equal(t, "firing", alert["state"])
}

func TestSeverityHelpers(t *testing.T) {
	assert.Equal(t, "[WARNING]", severityLabel("warning"))
	assert.Equal(t, "[INFO]", severityLabel("info"))
	assert.Equal(t, "FFAB40", severityColor("warning"))
	assert.Equal(t, "00D4FF", severityColor(""))
}
