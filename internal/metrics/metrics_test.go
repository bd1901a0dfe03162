package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestIngested(t *testing.T) {
	stored := testutil.ToFloat64(IngestTotal.WithLabelValues(ResultStored))
	dup := testutil.ToFloat64(IngestTotal.WithLabelValues(ResultDuplicate))
	bytes := testutil.ToFloat64(IngestBytes)

	Ingested(ResultStored, 100)
	Ingested(ResultDuplicate, 100)

	if got := testutil.ToFloat64(IngestTotal.WithLabelValues(ResultStored)); got != stored+1 {
		t.Errorf("stored = %v, expected %v", got, stored+1)
	}
	if got := testutil.ToFloat64(IngestTotal.WithLabelValues(ResultDuplicate)); got != dup+1 {
		t.Errorf("duplicate = %v, expected %v", got, dup+1)
	}
	if got := testutil.ToFloat64(IngestBytes); got != bytes+100 {
		t.Errorf("bytes = %v; duplicates must not add bytes", got)
	}
}
