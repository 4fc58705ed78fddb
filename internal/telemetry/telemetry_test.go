package telemetry

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/simonmoedinger/aitab/config"
)

func TestRecordersAreNilSafe(t *testing.T) {
	t.Parallel()

	var tele *Telemetry
	tele.RecordRun("completed")
	tele.RecordPoll()
	tele.RecordStep("growth", false, time.Second)
	tele.RecordChatTurn()
	tele.RecordFileLookup("hit")
}

func TestMetricsEndpointExposesCollectors(t *testing.T) {
	tele := NewTelemetry(config.TelemetryConfig{})
	tele.RecordPoll()
	tele.RecordRun("completed")
	tele.RecordStep("growth", false, 250*time.Millisecond)

	srv := httptest.NewServer(metricsMux())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want %d", resp.StatusCode, http.StatusOK)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	for _, metric := range []string{
		"aitab_run_polls_total",
		"aitab_runs_total",
		"aitab_pipeline_steps_total",
		"aitab_pipeline_step_seconds",
	} {
		if !strings.Contains(string(body), metric) {
			t.Fatalf("metric %s missing from scrape output", metric)
		}
	}
}

func TestMetricsEndpointRejectsOtherPaths(t *testing.T) {
	srv := httptest.NewServer(metricsMux())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status: got %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}
