package indicators

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/econpulse/econpulse/internal/httpclient"
	"github.com/econpulse/econpulse/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastClient() *httpclient.Client {
	return httpclient.New(httpclient.Config{
		Source:         "test-ecos",
		RequestsPerSec: 1000,
		Burst:          1000,
		MaxConcurrent:  2,
		CallTimeout:    5 * time.Second,
		Retry: httpclient.RetryPolicy{
			MaxRetries:     1,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     time.Millisecond,
			BackoffFactor:  2.0,
		},
	}, testLogger())
}

func baseRate() models.Indicator {
	return models.Indicator{
		Code:      "base_rate",
		Name:      "한국은행 기준금리",
		StatCode:  "722Y001",
		Cycle:     models.CycleDaily,
		ItemCode1: "0101000",
		Unit:      "%",
	}
}

func statisticJSON(totalCount int, rows string) string {
	return fmt.Sprintf(`{"StatisticSearch": {"list_total_count": %d, "row": [%s]}}`, totalCount, rows)
}

func TestCollectNormalizesRows(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Path carries page bounds, stat code, cycle, period and item code.
		if !strings.Contains(r.URL.Path, "/StatisticSearch/test-key/json/kr/1/1000/722Y001/D/") {
			t.Errorf("unexpected request path: %s", r.URL.Path)
		}
		if !strings.HasSuffix(r.URL.Path, "/0101000") {
			t.Errorf("item code missing from path: %s", r.URL.Path)
		}
		io.WriteString(w, statisticJSON(4, `
			{"TIME": "20240102", "DATA_VALUE": "3.50", "UNIT_NAME": "퍼센트"},
			{"TIME": "20240103", "DATA_VALUE": "", "UNIT_NAME": "퍼센트"},
			{"TIME": "20240104", "DATA_VALUE": ".", "UNIT_NAME": "퍼센트"},
			{"TIME": "20240105", "DATA_VALUE": "3.55", "UNIT_NAME": "퍼센트"}`))
	}))
	defer server.Close()

	c := NewWithBaseURL(fastClient(), server.URL, "test-key", testLogger())

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	result := c.Collect(context.Background(), []models.Indicator{baseRate()}, from, to)

	if err := result.Err(); err != nil {
		t.Fatalf("unexpected failure: %v", err)
	}
	if len(result.Observations) != 2 {
		t.Fatalf("got %d observations, want 2 (placeholders omitted)", len(result.Observations))
	}

	first := result.Observations[0]
	if first.IndicatorCode != "base_rate" {
		t.Errorf("code %q", first.IndicatorCode)
	}
	if first.Value != 3.50 {
		t.Errorf("value %v, want 3.50", first.Value)
	}
	if !first.Date.Equal(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("date %v", first.Date)
	}
	if first.Unit != "%" {
		t.Errorf("catalog unit should win, got %q", first.Unit)
	}
}

func TestCollectMonthlyCycle(t *testing.T) {
	var requestedPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestedPath = r.URL.Path
		io.WriteString(w, statisticJSON(1, `{"TIME": "202401", "DATA_VALUE": "113.2", "UNIT_NAME": "2020=100"}`))
	}))
	defer server.Close()

	c := NewWithBaseURL(fastClient(), server.URL, "test-key", testLogger())

	cpi := models.Indicator{Code: "cpi", StatCode: "901Y009", Cycle: models.CycleMonthly}
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	result := c.Collect(context.Background(), []models.Indicator{cpi}, from, to)

	if err := result.Err(); err != nil {
		t.Fatalf("unexpected failure: %v", err)
	}
	if !strings.Contains(requestedPath, "/M/202401/202403") {
		t.Errorf("monthly period format wrong: %s", requestedPath)
	}
	if len(result.Observations) != 1 {
		t.Fatalf("got %d observations, want 1", len(result.Observations))
	}

	obs := result.Observations[0]
	if !obs.Date.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("monthly point should land on the first of the month, got %v", obs.Date)
	}
	if obs.Unit != "2020=100" {
		t.Errorf("row unit should fill an empty catalog unit, got %q", obs.Unit)
	}
}

func TestCollectInBandErrorIsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"RESULT": {"CODE": "INFO-100", "MESSAGE": "인증키가 유효하지 않습니다"}}`)
	}))
	defer server.Close()

	c := NewWithBaseURL(fastClient(), server.URL, "bad-key", testLogger())

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	result := c.Collect(context.Background(), []models.Indicator{baseRate()}, from, from.AddDate(0, 1, 0))

	err, ok := result.Failed["base_rate"]
	if !ok {
		t.Fatal("expected base_rate to fail")
	}
	if !httpclient.IsPermanent(err) {
		t.Errorf("in-band API error should be permanent, got %v", err)
	}
	if len(result.Observations) != 0 {
		t.Errorf("got %d observations from a failed indicator", len(result.Observations))
	}
}

func TestCollectIsolatesIndicatorFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "BROKEN") {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		io.WriteString(w, statisticJSON(1, `{"TIME": "20240102", "DATA_VALUE": "3.50", "UNIT_NAME": "%"}`))
	}))
	defer server.Close()

	c := NewWithBaseURL(fastClient(), server.URL, "test-key", testLogger())

	catalog := []models.Indicator{
		baseRate(),
		{Code: "broken", StatCode: "BROKEN", Cycle: models.CycleDaily},
	}
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	result := c.Collect(context.Background(), catalog, from, from.AddDate(0, 1, 0))

	if len(result.Observations) != 1 {
		t.Errorf("healthy indicator lost: got %d observations", len(result.Observations))
	}
	if _, ok := result.Failed["broken"]; !ok {
		t.Error("broken indicator not recorded as failed")
	}
	if _, ok := result.Failed["base_rate"]; ok {
		t.Error("healthy indicator recorded as failed")
	}
	if result.Err() == nil {
		t.Error("aggregated error missing")
	}
}

func TestCollectSourceDownFailsEveryIndicator(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := NewWithBaseURL(fastClient(), server.URL, "test-key", testLogger())

	catalog := []models.Indicator{
		baseRate(),
		{Code: "cpi", StatCode: "901Y009", Cycle: models.CycleMonthly},
	}
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	result := c.Collect(context.Background(), catalog, from, from.AddDate(0, 1, 0))

	if len(result.Observations) != 0 {
		t.Errorf("got %d observations from a dead source", len(result.Observations))
	}
	if len(result.Failed) != 2 {
		t.Errorf("got %d failures, want 2", len(result.Failed))
	}
}

func TestFormatPeriod(t *testing.T) {
	from := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 6, 20, 0, 0, 0, 0, time.UTC)

	if s, e := formatPeriod(models.CycleDaily, from, to); s != "20240315" || e != "20240620" {
		t.Errorf("daily: got %s..%s", s, e)
	}
	if s, e := formatPeriod(models.CycleMonthly, from, to); s != "202403" || e != "202406" {
		t.Errorf("monthly: got %s..%s", s, e)
	}
	if s, e := formatPeriod(models.CycleQuarterly, from, to); s != "202403" || e != "202406" {
		t.Errorf("quarterly: got %s..%s", s, e)
	}
}
