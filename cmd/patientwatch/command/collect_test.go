package command

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/patientwatch/patientwatch/internal/collector"
	"github.com/patientwatch/patientwatch/internal/config"
	"github.com/patientwatch/patientwatch/internal/simulator"
)

func setup(t *testing.T, h http.Handler) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c := config.Defaults()
	c.API.BaseURL = srv.URL
	c.API.Auth.Mode = "none"
	c.Collector.StaggerInterval = time.Millisecond
	c.Scoring.Table = "assessment"

	prevCfg, prevLog := cfg, logger
	cfg, logger = c, zap.NewNop()
	collectSubmit, collectMetrics, collectOutput = false, false, "text"
	t.Cleanup(func() {
		cfg, logger = prevCfg, prevLog
		collectSubmit, collectMetrics, collectOutput = false, false, "text"
	})
}

func TestCollect_Text(t *testing.T) {
	sim := simulator.New(simulator.Options{Patients: 25, Seed: 2, Noise: 0.2}, nil)
	setup(t, sim.Handler())

	var out bytes.Buffer
	require.NoError(t, runCollect(context.Background(), &out))

	s := out.String()
	assert.Contains(t, s, "(complete)")
	assert.Contains(t, s, "patients: 25/25 (100%)")
	assert.Contains(t, s, "High risk (")
	assert.Contains(t, s, "Data quality issues (")
}

func TestCollect_JSONWithSubmitAndMetrics(t *testing.T) {
	sim := simulator.New(simulator.Options{Patients: 25, Seed: 2, Noise: 0.2}, nil)
	setup(t, sim.Handler())
	collectOutput, collectSubmit, collectMetrics = "json", true, true

	var out bytes.Buffer
	require.NoError(t, runCollect(context.Background(), &out))

	raw := out.String()
	dec := json.NewDecoder(&out)
	var doc map[string]any
	require.NoError(t, dec.Decode(&doc))
	assert.NotEmpty(t, doc["run_id"])
	assert.Equal(t, "assessment", doc["table"])
	assert.Contains(t, doc, "analysis")
	assert.Contains(t, doc, "progress")
	require.Contains(t, doc, "submission")

	sub := doc["submission"].(map[string]any)
	results := sub["results"].(map[string]any)
	assert.Equal(t, "PASS", results["status"])

	assert.Contains(t, raw, "patientwatch_pages_fetched_total")
}

func TestCollect_FirstPageFailure(t *testing.T) {
	setup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": "invalid api key"}`))
	}))

	var out bytes.Buffer
	err := runCollect(context.Background(), &out)
	require.Error(t, err)
	assert.True(t, errors.Is(err, collector.ErrFirstPage))
	assert.Empty(t, out.String())
}
