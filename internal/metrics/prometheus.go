package metrics

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"strings"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// PrometheusExporter renders collected counters in Prometheus text exposition format
type PrometheusExporter struct {
	reader sdkmetric.Reader
}

// NewPrometheusExporter reads from reader, typically a ManualReader
// registered on the MeterProvider behind the Recorder.
func NewPrometheusExporter(reader sdkmetric.Reader) *PrometheusExporter {
	return &PrometheusExporter{reader: reader}
}

// Handler returns an http.Handler that serves Prometheus metrics.
func (p *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := p.Render(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(body))
	})
}

// Render collects and writes the current counters
func (p *PrometheusExporter) Render(ctx context.Context) (string, error) {
	var rm metricdata.ResourceMetrics
	if err := p.reader.Collect(ctx, &rm); err != nil {
		return "", err
	}

	var b strings.Builder
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			writeCounter(&b, promName(m.Name), m.Description, sum.DataPoints)
		}
	}
	return b.String(), nil
}

func promName(name string) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(name) + "_total"
}

func writeCounter(b *strings.Builder, name, help string, points []metricdata.DataPoint[int64]) {
	b.WriteString("# HELP ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(escapeHelp(help))
	b.WriteByte('\n')
	b.WriteString("# TYPE ")
	b.WriteString(name)
	b.WriteString(" counter\n")

	lines := make([]string, 0, len(points))
	for _, dp := range points {
		var line strings.Builder
		line.WriteString(name)
		if dp.Attributes.Len() > 0 {
			line.WriteByte('{')
			iter := dp.Attributes.Iter()
			first := true
			for iter.Next() {
				kv := iter.Attribute()
				if !first {
					line.WriteByte(',')
				}
				first = false
				line.WriteString(string(kv.Key))
				line.WriteString(`="`)
				line.WriteString(escapeLabel(kv.Value.Emit()))
				line.WriteByte('"')
			}
			line.WriteByte('}')
		}
		line.WriteByte(' ')
		line.WriteString(strconv.FormatInt(dp.Value, 10))
		lines = append(lines, line.String())
	}
	sort.Strings(lines)
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
}

func escapeHelp(help string) string {
	help = strings.ReplaceAll(help, "\\", "\\\\")
	help = strings.ReplaceAll(help, "\n", "\\n")
	return help
}

func escapeLabel(v string) string {
	v = escapeHelp(v)
	return strings.ReplaceAll(v, `"`, `\"`)
}
