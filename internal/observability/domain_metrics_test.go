package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveFeedIngestCountsRowsPerTable(t *testing.T) {
	before := testutil.ToFloat64(feedRowsLoadedTotal.WithLabelValues("stops"))
	ObserveFeedIngest("succeeded", 2*time.Second, map[string]int64{"stops": 12, "agency": 0})
	if got := testutil.ToFloat64(feedRowsLoadedTotal.WithLabelValues("stops")) - before; got != 12 {
		t.Fatalf("stops rows delta = %v, want 12", got)
	}
}

func TestObserveLLMCallLabelsOutcome(t *testing.T) {
	before := testutil.ToFloat64(llmRequestsTotal.WithLabelValues("groq", "generate", "error"))
	ObserveLLMCall("groq", "generate", errors.New("boom"), time.Second)
	if got := testutil.ToFloat64(llmRequestsTotal.WithLabelValues("groq", "generate", "error")) - before; got != 1 {
		t.Fatalf("error calls delta = %v, want 1", got)
	}
}

func TestObserveVerdictDefaultsEmptyToNone(t *testing.T) {
	before := testutil.ToFloat64(answerVerdictsTotal.WithLabelValues("none"))
	ObserveVerdict("")
	if got := testutil.ToFloat64(answerVerdictsTotal.WithLabelValues("none")) - before; got != 1 {
		t.Fatalf("none verdict delta = %v, want 1", got)
	}
}
