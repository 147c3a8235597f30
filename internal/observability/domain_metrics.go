package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	feedIngestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transitql_feed_ingest_total",
			Help: "Total number of feed ingestion runs by outcome.",
		},
		[]string{"status"},
	)
	feedIngestDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "transitql_feed_ingest_duration_seconds",
			Help:    "Wall time of feed ingestion runs from upload to swap.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
	)
	feedRowsLoadedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transitql_feed_rows_loaded_total",
			Help: "Rows copied into GTFS tables by table.",
		},
		[]string{"table"},
	)
	feedArchivesPrunedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "transitql_feed_archives_pruned_total",
			Help: "Feed archives removed from object storage by retention.",
		},
	)
	queryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transitql_query_attempts_total",
			Help: "Generated SQL executions by outcome.",
		},
		[]string{"outcome"},
	)
	llmRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transitql_llm_requests_total",
			Help: "Language model calls by provider, purpose and outcome.",
		},
		[]string{"provider", "purpose", "outcome"},
	)
	llmRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "transitql_llm_request_duration_seconds",
			Help:    "Language model call latency by provider.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		},
		[]string{"provider"},
	)
	answerVerdictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transitql_answer_verdicts_total",
			Help: "Answer validation verdicts.",
		},
		[]string{"verdict"},
	)
)

func init() {
	prometheus.MustRegister(
		feedIngestTotal,
		feedIngestDurationSeconds,
		feedRowsLoadedTotal,
		feedArchivesPrunedTotal,
		queryAttemptsTotal,
		llmRequestsTotal,
		llmRequestDurationSeconds,
		answerVerdictsTotal,
	)
}

func ObserveFeedIngest(status string, elapsed time.Duration, tableRows map[string]int64) {
	feedIngestTotal.WithLabelValues(status).Inc()
	feedIngestDurationSeconds.Observe(elapsed.Seconds())
	for table, rows := range tableRows {
		if rows > 0 {
			feedRowsLoadedTotal.WithLabelValues(table).Add(float64(rows))
		}
	}
}

func ObserveArchivesPruned(count int) {
	if count > 0 {
		feedArchivesPrunedTotal.Add(float64(count))
	}
}

// ObserveQueryAttempt records one execution of generated SQL. outcome is
// "ok" or "error".
func ObserveQueryAttempt(outcome string) {
	queryAttemptsTotal.WithLabelValues(outcome).Inc()
}

func ObserveLLMCall(provider, purpose string, err error, elapsed time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	llmRequestsTotal.WithLabelValues(provider, purpose, outcome).Inc()
	llmRequestDurationSeconds.WithLabelValues(provider).Observe(elapsed.Seconds())
}

func ObserveVerdict(verdict string) {
	if verdict == "" {
		verdict = "none"
	}
	answerVerdictsTotal.WithLabelValues(verdict).Inc()
}
