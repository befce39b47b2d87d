package monitor

import (
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"tailscale.com/tsweb"

	"github.com/laminar-data/fgbridge/internal/httputil"
)

// AttachDebugRoutes mounts the monitor's debugging endpoints under /debug/.
// The chart view is a quick visual check on inbound telemetry without any
// frontend tooling; the JSON endpoints back it and are usable directly.
func (m *Monitor) AttachDebugRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleSilentFunc("monitor/"+m.name+"/summary", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w)
			return
		}
		httputil.WriteJSONOK(w, m.Summary())
	})

	debug.HandleSilentFunc("monitor/"+m.name+"/series", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w)
			return
		}
		channel, err := strconv.Atoi(r.URL.Query().Get("channel"))
		if err != nil {
			httputil.BadRequest(w, "channel must be an integer")
			return
		}
		points, err := m.Series(channel)
		if err != nil {
			httputil.NotFound(w, err.Error())
			return
		}
		httputil.WriteJSONOK(w, points)
	})

	debug.HandleFunc("monitor/"+m.name+"/chart", "telemetry history chart", m.handleChart)
}

type chartSeries struct {
	label string
	data  []opts.LineData
}

// alignedChartData downsamples the retained history to at most maxPoints
// snapshots and builds one shared timestamp axis plus per-channel data
// aligned to it. A snapshot missing a channel contributes a nil value, which
// echarts renders as a gap; padding this way keeps short channels on the
// same time base as the rest instead of shifting them toward the origin.
func (m *Monitor) alignedChartData(selected map[int]bool, maxPoints int) ([]string, []chartSeries) {
	m.mu.Lock()
	samples := append([]sample(nil), m.samples...)
	m.mu.Unlock()

	width := 0
	for _, s := range samples {
		if len(s.values) > width {
			width = len(s.values)
		}
	}

	stride := 1
	if len(samples) > maxPoints {
		stride = (len(samples) + maxPoints - 1) / maxPoints
	}

	var xaxis []string
	var picked []sample
	for i := 0; i < len(samples); i += stride {
		xaxis = append(xaxis, samples[i].at.Format("15:04:05.000"))
		picked = append(picked, samples[i])
	}

	var series []chartSeries
	for ch := 0; ch < width; ch++ {
		if len(selected) > 0 && !selected[ch] {
			continue
		}
		data := make([]opts.LineData, 0, len(picked))
		for _, s := range picked {
			if ch < len(s.values) {
				data = append(data, opts.LineData{Value: s.values[ch]})
			} else {
				data = append(data, opts.LineData{Value: nil})
			}
		}
		series = append(series, chartSeries{label: m.label(ch), data: data})
	}
	return xaxis, series
}

// handleChart renders a line chart of the retained history. Query params:
//   - channels: repeated param selecting channel indices (default: all)
//   - max_points: downsample stride target (default 2000)
func (m *Monitor) handleChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	maxPoints := 2000
	if mp := r.URL.Query().Get("max_points"); mp != "" {
		if v, err := strconv.Atoi(mp); err == nil && v > 10 && v <= 50000 {
			maxPoints = v
		}
	}

	selected := map[int]bool{}
	for _, c := range r.URL.Query()["channels"] {
		if v, err := strconv.Atoi(c); err == nil {
			selected[v] = true
		}
	}

	xaxis, series := m.alignedChartData(selected, maxPoints)
	if len(series) == 0 {
		httputil.NotFound(w, "no samples recorded yet")
		return
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "telemetry: " + m.name,
			Subtitle: "most recent " + strconv.Itoa(m.Len()) + " snapshots",
		}),
		charts.WithTooltipOpts(opts.Tooltip{Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{}),
	)

	for _, s := range series {
		line.AddSeries(s.label, s.data)
	}
	line.SetXAxis(xaxis)

	if err := line.Render(w); err != nil {
		httputil.InternalServerError(w, "failed to render chart: "+err.Error())
	}
}
