package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/econpulse/econpulse/internal/models"
)

// PipelineCollector exposes Prometheus metrics for pipeline runs.
type PipelineCollector struct {
	registry     *prometheus.Registry
	itemsTotal   *prometheus.CounterVec
	failedTotal  *prometheus.CounterVec
	observations prometheus.Counter
	runsTotal    *prometheus.CounterVec
	runStage     *prometheus.GaugeVec
}

// stageGaugeValues maps run stages onto a monotonic gauge scale so dashboards
// can plot run progress.
var stageGaugeValues = map[models.RunStage]float64{
	models.StageIdle:       0,
	models.StageCollecting: 1,
	models.StageCrawling:   2,
	models.StageEnriching:  3,
	models.StagePersisting: 4,
	models.StageCompleted:  5,
	models.StageFailed:     -1,
}

// NewPipelineCollector constructs a collector with its own registry.
func NewPipelineCollector() (*PipelineCollector, error) {
	registry := prometheus.NewRegistry()

	itemsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "econpulse",
		Subsystem: "pipeline",
		Name:      "items_total",
		Help:      "Items processed successfully, by stage.",
	}, []string{"stage"})

	failedTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "econpulse",
		Subsystem: "pipeline",
		Name:      "items_failed_total",
		Help:      "Items that failed, by stage.",
	}, []string{"stage"})

	observations := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "econpulse",
		Subsystem: "pipeline",
		Name:      "observations_total",
		Help:      "Indicator observations persisted.",
	})

	runsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "econpulse",
		Subsystem: "pipeline",
		Name:      "runs_total",
		Help:      "Completed pipeline runs, by kind and status.",
	}, []string{"kind", "status"})

	runStage := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "econpulse",
		Subsystem: "pipeline",
		Name:      "run_stage",
		Help:      "Current stage of the active run (-1 failed, 0 idle through 5 completed).",
	}, []string{"kind"})

	for _, c := range []prometheus.Collector{itemsTotal, failedTotal, observations, runsTotal, runStage} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}

	return &PipelineCollector{
		registry:     registry,
		itemsTotal:   itemsTotal,
		failedTotal:  failedTotal,
		observations: observations,
		runsTotal:    runsTotal,
		runStage:     runStage,
	}, nil
}

// Handler returns an HTTP handler exposing the metrics.
func (c *PipelineCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ItemSucceeded counts one successful item in a stage.
func (c *PipelineCollector) ItemSucceeded(stage models.RunStage) {
	c.itemsTotal.WithLabelValues(string(stage)).Inc()
}

// ItemFailed counts one failed item in a stage.
func (c *PipelineCollector) ItemFailed(stage models.RunStage) {
	c.failedTotal.WithLabelValues(string(stage)).Inc()
}

// ObservationStored counts one persisted indicator observation.
func (c *PipelineCollector) ObservationStored() {
	c.observations.Inc()
}

// RunFinished counts a completed run by outcome.
func (c *PipelineCollector) RunFinished(kind models.RunKind, status models.RunStatus) {
	c.runsTotal.WithLabelValues(string(kind), string(status)).Inc()
}

// SetStage publishes the active run's stage.
func (c *PipelineCollector) SetStage(kind models.RunKind, stage models.RunStage) {
	c.runStage.WithLabelValues(string(kind)).Set(stageGaugeValues[stage])
}
