package observability

import (
	"strings"
	"testing"
)

func TestRenderPrometheus(t *testing.T) {
	r := NewRegistry()
	r.IncCounter("queue_claimed_total", map[string]string{"queue_backend": "memory", "consumer": "c1"}, 3)
	r.SetGauge("dead_letter_count", map[string]string{"queue_backend": "memory"}, 2)

	out := r.RenderPrometheus()
	if !strings.Contains(out, `queue_claimed_total{consumer="c1",queue_backend="memory"} 3`) {
		t.Fatalf("missing claimed metric in output: %s", out)
	}
	if !strings.Contains(out, `dead_letter_count{queue_backend="memory"} 2`) {
		t.Fatalf("missing dead-letter gauge in output: %s", out)
	}
}

func TestCounterAccumulatesAcrossLabelSets(t *testing.T) {
	r := NewRegistry()
	r.IncCounter("agent_invocations_total", map[string]string{"agent": "grammar"}, 1)
	r.IncCounter("agent_invocations_total", map[string]string{"agent": "grammar"}, 2)
	r.IncCounter("agent_invocations_total", map[string]string{"agent": "scoring"}, 1)

	snap := r.Snapshot()
	if len(snap.Counters) != 2 {
		t.Fatalf("expected 2 counter series, got %d", len(snap.Counters))
	}
	for _, c := range snap.Counters {
		if c.Labels["agent"] == "grammar" && c.Value != 3 {
			t.Fatalf("expected grammar counter 3, got %v", c.Value)
		}
	}
}
