// Package monitor keeps a bounded in-memory history of an endpoint's state
// snapshots and summarises it for debugging. It consumes the endpoint's
// subscriber channel, so it never touches the receive loop directly.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// DefaultMaxSamples bounds the per-monitor history when no limit is given.
const DefaultMaxSamples = 4096

type sample struct {
	at     time.Time
	values []float64
}

// Monitor records the snapshot stream of one endpoint.
type Monitor struct {
	name       string
	labels     []string
	maxSamples int

	// now is a hook for tests.
	now func() time.Time

	mu      sync.Mutex
	samples []sample
}

// New creates a monitor for the named endpoint. labels optionally names the
// inbound channels for display; the inbound arity may exceed len(labels).
func New(name string, labels []string, maxSamples int) *Monitor {
	if maxSamples <= 0 {
		maxSamples = DefaultMaxSamples
	}
	return &Monitor{
		name:       name,
		labels:     append([]string(nil), labels...),
		maxSamples: maxSamples,
		now:        time.Now,
	}
}

// Name returns the endpoint name this monitor observes.
func (m *Monitor) Name() string { return m.name }

// Record appends one snapshot, evicting the oldest once the history is full.
func (m *Monitor) Record(values []float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, sample{at: m.now(), values: values})
	if len(m.samples) > m.maxSamples {
		m.samples = m.samples[len(m.samples)-m.maxSamples:]
	}
}

// Run consumes snapshots from ch until ctx is cancelled or ch closes.
// Intended to run in its own goroutine fed by Endpoint.Subscribe.
func (m *Monitor) Run(ctx context.Context, ch <-chan []float64) {
	for {
		select {
		case <-ctx.Done():
			return
		case values, ok := <-ch:
			if !ok {
				return
			}
			m.Record(values)
		}
	}
}

// Len returns the number of retained samples.
func (m *Monitor) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.samples)
}

// label returns the display name for channel i.
func (m *Monitor) label(i int) string {
	if i < len(m.labels) {
		return m.labels[i]
	}
	return fmt.Sprintf("channel_%d", i)
}

// ChannelSummary describes one inbound channel over the retained history.
type ChannelSummary struct {
	Channel int     `json:"channel"`
	Label   string  `json:"label"`
	Count   int     `json:"count"`
	Mean    float64 `json:"mean"`
	StdDev  float64 `json:"stddev"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Last    float64 `json:"last"`
}

// Summary computes per-channel statistics over the retained history. The
// channel count follows the widest snapshot seen; shorter snapshots simply
// contribute fewer points to the higher channels.
func (m *Monitor) Summary() []ChannelSummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	width := 0
	for _, s := range m.samples {
		if len(s.values) > width {
			width = len(s.values)
		}
	}

	out := make([]ChannelSummary, 0, width)
	for ch := 0; ch < width; ch++ {
		var series []float64
		for _, s := range m.samples {
			if ch < len(s.values) {
				series = append(series, s.values[ch])
			}
		}
		cs := ChannelSummary{Channel: ch, Label: m.label(ch), Count: len(series)}
		if len(series) > 0 {
			cs.Mean = stat.Mean(series, nil)
			if len(series) > 1 {
				cs.StdDev = stat.StdDev(series, nil)
			}
			cs.Min, cs.Max = series[0], series[0]
			for _, v := range series {
				if v < cs.Min {
					cs.Min = v
				}
				if v > cs.Max {
					cs.Max = v
				}
			}
			cs.Last = series[len(series)-1]
		}
		out = append(out, cs)
	}
	return out
}

// SeriesPoint is one timestamped value of a channel.
type SeriesPoint struct {
	At    time.Time `json:"at"`
	Value float64   `json:"value"`
}

// Series returns the retained history of one channel in arrival order.
func (m *Monitor) Series(channel int) ([]SeriesPoint, error) {
	if channel < 0 {
		return nil, fmt.Errorf("invalid channel %d", channel)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []SeriesPoint
	for _, s := range m.samples {
		if channel < len(s.values) {
			out = append(out, SeriesPoint{At: s.at, Value: s.values[channel]})
		}
	}
	if out == nil {
		return nil, fmt.Errorf("channel %d has no samples", channel)
	}
	return out, nil
}
