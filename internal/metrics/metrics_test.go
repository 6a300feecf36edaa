package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveSyscallIncrementsCounter(t *testing.T) {
	before := testutil.ToFloat64(SyscallTotal.WithLabelValues("FsRead", "true"))
	ObserveSyscall("FsRead", true)
	after := testutil.ToFloat64(SyscallTotal.WithLabelValues("FsRead", "true"))
	if after != before+1 {
		t.Fatalf("counter = %v, want %v", after, before+1)
	}
}
