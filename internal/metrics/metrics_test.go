package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit(t *testing.T) {
	// Reset collectors for testing purposes.
	httpRequestsTotal = nil
	httpRequestDurationSeconds = nil
	embeddingRequestsTotal = nil
	sweepReclaimedTotal = nil

	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if httpRequestsTotal == nil || httpRequestDurationSeconds == nil ||
		embeddingRequestsTotal == nil || sweepReclaimedTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}

	ObserveHTTPRequest("GET", "/healthz", 200, 5*time.Millisecond)
	if val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200")); val != 1 {
		t.Errorf("Expected httpRequestsTotal{GET,200} to be 1, got %f", val)
	}
}

func TestObserveEmbedding(t *testing.T) {
	Init()

	before := testutil.ToFloat64(embeddingRequestsTotal.WithLabelValues("error"))
	ObserveEmbedding(errors.New("boom"), 10*time.Millisecond)
	after := testutil.ToFloat64(embeddingRequestsTotal.WithLabelValues("error"))
	if after != before+1 {
		t.Errorf("Expected embedding error counter to increment, got %f -> %f", before, after)
	}

	beforeOK := testutil.ToFloat64(embeddingRequestsTotal.WithLabelValues("ok"))
	ObserveEmbedding(nil, 10*time.Millisecond)
	afterOK := testutil.ToFloat64(embeddingRequestsTotal.WithLabelValues("ok"))
	if afterOK != beforeOK+1 {
		t.Errorf("Expected embedding ok counter to increment, got %f -> %f", beforeOK, afterOK)
	}
}

func TestObserveSweep(t *testing.T) {
	Init()

	before := testutil.ToFloat64(sweepReclaimedTotal)
	ObserveSweep(3)
	ObserveSweep(0)
	after := testutil.ToFloat64(sweepReclaimedTotal)
	if after != before+3 {
		t.Errorf("Expected sweep counter to grow by 3, got %f -> %f", before, after)
	}
}
