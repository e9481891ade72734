package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

const namespace = "aero_call_signaling"

// Gauge is a point-in-time value sampled on every scrape.
type Gauge struct {
	Name  string
	Help  string
	Value func() int64
}

// PrometheusHandler exposes Metrics in Prometheus' text exposition format.
//
// All internal counters are exposed as a single metric with an `event` label.
// Gauges are exposed as individual metrics under the same namespace.
func PrometheusHandler(m *Metrics, gauges ...Gauge) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
			return
		}

		snap := m.Snapshot()
		keys := make([]string, 0, len(snap))
		for k := range snap {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = fmt.Fprintf(w, "# HELP %s_events_total Internal event counters.\n", namespace)
		_, _ = fmt.Fprintf(w, "# TYPE %s_events_total counter\n", namespace)
		escaper := strings.NewReplacer("\\", "\\\\", "\"", "\\\"", "\n", "\\n")
		for _, k := range keys {
			_, _ = fmt.Fprintf(w, "%s_events_total{event=\"%s\"} %d\n", namespace, escaper.Replace(k), snap[k])
		}

		for _, g := range gauges {
			if g.Value == nil {
				continue
			}
			name := namespace + "_" + g.Name
			if g.Help != "" {
				_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, g.Help)
			}
			_, _ = fmt.Fprintf(w, "# TYPE %s gauge\n", name)
			_, _ = fmt.Fprintf(w, "%s %d\n", name, g.Value())
		}
	})
}
