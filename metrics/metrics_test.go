package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestDumpTextRendersRegisteredCollectors(t *testing.T) {
	reg := NewRegistry("kumofs_test")
	prom := prometheus.NewRegistry()
	reg.Register(prom)

	reg.SetLiveClusterNodes(3)
	reg.IncReconnectAttempts()
	reg.SetGarbageQueue(2, 128)

	text, err := DumpText(prom)
	if err != nil {
		t.Fatalf("DumpText: %v", err)
	}

	for _, want := range []string{
		"kumofs_test_live_cluster_nodes 3",
		"kumofs_test_reconnect_attempts_total 1",
		"kumofs_test_storage_garbage_bytes 128",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("DumpText output missing %q, got:\n%s", want, text)
		}
	}
}

func TestDumpTextOnUnregisteredGathererIsEmpty(t *testing.T) {
	prom := prometheus.NewRegistry()
	text, err := DumpText(prom)
	if err != nil {
		t.Fatalf("DumpText: %v", err)
	}
	if text != "" {
		t.Fatalf("DumpText on an empty registry = %q, want empty", text)
	}
}
