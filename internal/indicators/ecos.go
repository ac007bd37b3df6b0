// Package indicators collects macroeconomic time series from the Bank of
// Korea ECOS statistics API and normalizes them into observation records.
package indicators

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/econpulse/econpulse/internal/httpclient"
	"github.com/econpulse/econpulse/internal/models"
)

const (
	defaultBaseURL = "https://ecos.bok.or.kr/api"

	// ECOS serves at most 1000 rows per request.
	ecosPageSize = 1000
)

// Collector fetches indicator series from the ECOS StatisticSearch endpoint.
type Collector struct {
	client  *httpclient.Client
	baseURL string
	apiKey  string
	logger  *slog.Logger
}

// New creates an indicator collector. All HTTP traffic goes through the
// provided rate-limited client.
func New(client *httpclient.Client, apiKey string, logger *slog.Logger) *Collector {
	return &Collector{
		client:  client,
		baseURL: defaultBaseURL,
		apiKey:  apiKey,
		logger:  logger,
	}
}

// NewWithBaseURL creates a collector against a non-default endpoint.
func NewWithBaseURL(client *httpclient.Client, baseURL, apiKey string, logger *slog.Logger) *Collector {
	c := New(client, apiKey, logger)
	c.baseURL = baseURL
	return c
}

// Result carries one catalog's collection outcome: the observations that
// parsed cleanly plus the per-indicator failures. A failing indicator never
// blocks the rest of the catalog.
type Result struct {
	Observations []models.IndicatorObservation
	Failed       map[string]error // indicator code -> failure
}

// Err aggregates the per-indicator failures, nil when everything succeeded.
func (r Result) Err() error {
	errs := make([]error, 0, len(r.Failed))
	for code, err := range r.Failed {
		errs = append(errs, fmt.Errorf("indicator %s: %w", code, err))
	}
	return errors.Join(errs...)
}

// Collect fetches every indicator in the catalog for the given period.
func (c *Collector) Collect(ctx context.Context, catalog []models.Indicator, from, to time.Time) Result {
	result := Result{Failed: make(map[string]error)}

	for _, ind := range catalog {
		observations, err := c.collectOne(ctx, ind, from, to)
		if err != nil {
			c.logger.Error("indicator collection failed", "code", ind.Code, "error", err)
			result.Failed[ind.Code] = err
			continue
		}
		c.logger.Info("indicator collected", "code", ind.Code, "observations", len(observations))
		result.Observations = append(result.Observations, observations...)
	}

	return result
}

// statisticSearchResponse is the ECOS envelope. Errors arrive in-band under
// a RESULT object instead of an HTTP status.
type statisticSearchResponse struct {
	StatisticSearch *struct {
		TotalCount int       `json:"list_total_count"`
		Rows       []ecosRow `json:"row"`
	} `json:"StatisticSearch"`
	Result *struct {
		Code    string `json:"CODE"`
		Message string `json:"MESSAGE"`
	} `json:"RESULT"`
}

type ecosRow struct {
	Time     string `json:"TIME"`
	Value    string `json:"DATA_VALUE"`
	UnitName string `json:"UNIT_NAME"`
}

func (c *Collector) collectOne(ctx context.Context, ind models.Indicator, from, to time.Time) ([]models.IndicatorObservation, error) {
	start, end := formatPeriod(ind.Cycle, from, to)

	var observations []models.IndicatorObservation

	for page := 0; ; page++ {
		startRow := page*ecosPageSize + 1
		endRow := (page + 1) * ecosPageSize

		url := fmt.Sprintf("%s/StatisticSearch/%s/json/kr/%d/%d/%s/%s/%s/%s",
			c.baseURL, c.apiKey, startRow, endRow, ind.StatCode, ind.Cycle, start, end)
		if ind.ItemCode1 != "" {
			url += "/" + ind.ItemCode1
			if ind.ItemCode2 != "" {
				url += "/" + ind.ItemCode2
			}
		}

		var resp statisticSearchResponse
		if err := c.client.GetJSON(ctx, url, http.Header{}, &resp); err != nil {
			return nil, err
		}

		if resp.Result != nil {
			// In-band errors are configuration problems (bad code, bad
			// period), not transient outages.
			return nil, httpclient.NewPermanentError(
				fmt.Errorf("ecos error %s: %s", resp.Result.Code, resp.Result.Message))
		}
		if resp.StatisticSearch == nil {
			return observations, nil
		}

		for _, row := range resp.StatisticSearch.Rows {
			obs, ok := c.normalize(ind, row)
			if !ok {
				continue
			}
			observations = append(observations, obs)
		}

		if endRow >= resp.StatisticSearch.TotalCount {
			return observations, nil
		}
	}
}

// normalize parses one ECOS row. Placeholder values are omitted rather than
// stored as sentinels; rows with unparseable dates are skipped with a warning.
func (c *Collector) normalize(ind models.Indicator, row ecosRow) (models.IndicatorObservation, bool) {
	if row.Value == "" || row.Value == "." {
		return models.IndicatorObservation{}, false
	}

	value, err := strconv.ParseFloat(row.Value, 64)
	if err != nil {
		c.logger.Warn("unparseable observation value",
			"code", ind.Code,
			"time", row.Time,
			"value", row.Value,
		)
		return models.IndicatorObservation{}, false
	}

	date, err := parseObservationDate(ind.Cycle, row.Time)
	if err != nil {
		c.logger.Warn("unparseable observation date", "code", ind.Code, "time", row.Time)
		return models.IndicatorObservation{}, false
	}

	unit := ind.Unit
	if unit == "" {
		unit = row.UnitName
	}

	return models.IndicatorObservation{
		IndicatorCode: ind.Code,
		Date:          date,
		Value:         value,
		Unit:          unit,
	}, true
}

// formatPeriod renders the request period in the cycle's date format:
// YYYYMMDD for daily series, YYYYMM for monthly and quarterly.
func formatPeriod(cycle models.IndicatorCycle, from, to time.Time) (string, string) {
	if cycle == models.CycleDaily {
		return from.Format("20060102"), to.Format("20060102")
	}
	return from.Format("200601"), to.Format("200601")
}

// parseObservationDate normalizes ECOS TIME values. Monthly and quarterly
// points land on the first day of their month.
func parseObservationDate(cycle models.IndicatorCycle, raw string) (time.Time, error) {
	switch cycle {
	case models.CycleDaily:
		return time.ParseInLocation("20060102", raw, time.UTC)
	case models.CycleMonthly, models.CycleQuarterly:
		return time.ParseInLocation("200601", raw, time.UTC)
	default:
		return time.Time{}, fmt.Errorf("unknown cycle %q", cycle)
	}
}
