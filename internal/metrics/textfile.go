package metrics

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/prometheus/common/model"
)

// WriteTextfile adds this run's samples to the totals already in path and
// rewrites it atomically in the text exposition format. Counters and
// histograms accumulate across runs; families this build no longer exports are
// kept as they were. A file that does not parse is replaced. An empty path is
// a no-op.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	current, err := m.registry.Gather()
	if err != nil {
		return err
	}
	previous, _ := readTextfile(path)
	merged := mergeFamilies(previous, current)
	return prometheus.WriteToTextfile(path, prometheus.GathererFunc(func() ([]*dto.MetricFamily, error) {
		return merged, nil
	}))
}

func readTextfile(path string) (map[string]*dto.MetricFamily, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	parser := expfmt.NewTextParser(model.UTF8Validation)
	families, err := parser.TextToMetricFamilies(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return families, nil
}

// mergeFamilies returns current with previous added in, sorted by name.
func mergeFamilies(previous map[string]*dto.MetricFamily, current []*dto.MetricFamily) []*dto.MetricFamily {
	out := make([]*dto.MetricFamily, 0, len(current)+len(previous))
	seen := make(map[string]struct{}, len(current))
	for _, mf := range current {
		seen[mf.GetName()] = struct{}{}
		if prev, ok := previous[mf.GetName()]; ok && prev.GetType() == mf.GetType() {
			mergeMetrics(mf, prev)
		}
		out = append(out, mf)
	}
	for name, mf := range previous {
		if _, ok := seen[name]; !ok && strings.HasPrefix(name, namespace+"_") {
			out = append(out, mf)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GetName() < out[j].GetName() })
	return out
}

func mergeMetrics(into, prev *dto.MetricFamily) {
	byLabels := make(map[string]*dto.Metric, len(into.Metric))
	for _, m := range into.Metric {
		byLabels[labelKey(m)] = m
	}
	for _, p := range prev.Metric {
		m, ok := byLabels[labelKey(p)]
		if !ok {
			into.Metric = append(into.Metric, p)
			continue
		}
		switch into.GetType() {
		case dto.MetricType_COUNTER:
			v := m.GetCounter().GetValue() + p.GetCounter().GetValue()
			m.Counter.Value = &v
		case dto.MetricType_HISTOGRAM:
			addHistogram(m.GetHistogram(), p.GetHistogram())
		}
	}
	sort.Slice(into.Metric, func(i, j int) bool { return labelKey(into.Metric[i]) < labelKey(into.Metric[j]) })
}

// addHistogram adds prev into h bucket by bucket. Bounds h does not have are
// dropped; the +Inf bucket is rebuilt from the sample count on output.
func addHistogram(h, prev *dto.Histogram) {
	if h == nil || prev == nil {
		return
	}
	count := h.GetSampleCount() + prev.GetSampleCount()
	sum := h.GetSampleSum() + prev.GetSampleSum()
	h.SampleCount, h.SampleSum = &count, &sum

	prevBuckets := make(map[float64]uint64, len(prev.Bucket))
	for _, b := range prev.Bucket {
		prevBuckets[b.GetUpperBound()] = b.GetCumulativeCount()
	}
	for _, b := range h.Bucket {
		c := b.GetCumulativeCount() + prevBuckets[b.GetUpperBound()]
		b.CumulativeCount = &c
	}
}

func labelKey(m *dto.Metric) string {
	pairs := make([]string, 0, len(m.Label))
	for _, l := range m.Label {
		pairs = append(pairs, l.GetName()+"="+l.GetValue())
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ",")
}
