package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	Register(reg)

	SubmissionsSavedTotal.Inc()
	RecordsSkippedTotal.WithLabelValues("malformed").Inc()

	if got := testutil.ToFloat64(RecordsSkippedTotal.WithLabelValues("malformed")); got < 1 {
		t.Errorf("Expected skipped counter to be incremented, got %v", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "expenses_submissions_saved_total" {
			found = true
		}
	}
	if !found {
		t.Error("Expected saved counter to be gathered")
	}
}
