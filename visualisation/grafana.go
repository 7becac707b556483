// Package visualisation generates a Grafana dashboard over the metrics the
// harness exports during a run.
package visualisation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"rustfs-bench/storage"
)

// GrafanaDashboard represents a Grafana dashboard import payload
type GrafanaDashboard struct {
	Dashboard DashboardConfig `json:"dashboard"`
	FolderID  int             `json:"folderId"`
	Overwrite bool            `json:"overwrite"`
}

// DashboardConfig represents the dashboard configuration
type DashboardConfig struct {
	ID            interface{} `json:"id"`
	Title         string      `json:"title"`
	Tags          []string    `json:"tags"`
	Style         string      `json:"style"`
	Timezone      string      `json:"timezone"`
	Panels        []Panel     `json:"panels"`
	Time          TimeRange   `json:"time"`
	Timepicker    Timepicker  `json:"timepicker"`
	Templating    Templating  `json:"templating"`
	Annotations   Annotations `json:"annotations"`
	Refresh       string      `json:"refresh"`
	SchemaVersion int         `json:"schemaVersion"`
	Version       int         `json:"version"`
}

// Panel represents a Grafana panel
type Panel struct {
	ID          int         `json:"id"`
	Title       string      `json:"title"`
	Type        string      `json:"type"`
	GridPos     GridPos     `json:"gridPos"`
	Targets     []Target    `json:"targets"`
	FieldConfig FieldConfig `json:"fieldConfig"`
	Options     interface{} `json:"options,omitempty"`
}

// GridPos represents panel grid position
type GridPos struct {
	H int `json:"h"`
	W int `json:"w"`
	X int `json:"x"`
	Y int `json:"y"`
}

// Target represents a query target
type Target struct {
	Expr         string `json:"expr"`
	LegendFormat string `json:"legendFormat,omitempty"`
	RefID        string `json:"refId"`
}

// FieldConfig represents field configuration
type FieldConfig struct {
	Defaults Defaults `json:"defaults"`
}

// Defaults represents default field settings
type Defaults struct {
	Color      Color         `json:"color"`
	Custom     *Custom       `json:"custom,omitempty"`
	Mappings   []interface{} `json:"mappings"`
	Thresholds Thresholds    `json:"thresholds"`
	Unit       string        `json:"unit"`
}

// Color represents color configuration
type Color struct {
	Mode string `json:"mode"`
}

// Custom holds the timeseries draw settings
type Custom struct {
	DrawStyle         string `json:"drawStyle"`
	FillOpacity       int    `json:"fillOpacity"`
	LineInterpolation string `json:"lineInterpolation"`
	LineWidth         int    `json:"lineWidth"`
	PointSize         int    `json:"pointSize"`
	ShowPoints        string `json:"showPoints"`
	SpanNulls         bool   `json:"spanNulls"`
}

// Thresholds represents thresholds configuration
type Thresholds struct {
	Mode  string          `json:"mode"`
	Steps []ThresholdStep `json:"steps"`
}

// ThresholdStep represents a threshold step
type ThresholdStep struct {
	Color string  `json:"color"`
	Value float64 `json:"value"`
}

// TimeRange represents time range
type TimeRange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Timepicker represents timepicker configuration
type Timepicker struct {
	RefreshIntervals []string `json:"refresh_intervals"`
}

// Templating represents templating configuration
type Templating struct {
	List []interface{} `json:"list"`
}

// Annotations represents annotations configuration
type Annotations struct {
	List []interface{} `json:"list"`
}

func steps(s ...ThresholdStep) Thresholds {
	return Thresholds{Mode: "absolute", Steps: s}
}

func step(color string, value float64) ThresholdStep {
	return ThresholdStep{Color: color, Value: value}
}

func timeseries(id int, title, unit string, pos GridPos, th Thresholds, targets ...Target) Panel {
	return Panel{
		ID:      id,
		Title:   title,
		Type:    "timeseries",
		GridPos: pos,
		Targets: targets,
		FieldConfig: FieldConfig{
			Defaults: Defaults{
				Color: Color{Mode: "palette-classic"},
				Custom: &Custom{
					DrawStyle:         "line",
					FillOpacity:       10,
					LineInterpolation: "linear",
					LineWidth:         1,
					PointSize:         5,
					ShowPoints:        "never",
				},
				Mappings:   []interface{}{},
				Thresholds: th,
				Unit:       unit,
			},
		},
	}
}

func stat(id int, title, unit string, pos GridPos, th Thresholds, targets ...Target) Panel {
	return Panel{
		ID:      id,
		Title:   title,
		Type:    "stat",
		GridPos: pos,
		Targets: targets,
		FieldConfig: FieldConfig{
			Defaults: Defaults{
				Color:      Color{Mode: "thresholds"},
				Mappings:   []interface{}{},
				Thresholds: th,
				Unit:       unit,
			},
		},
		Options: map[string]interface{}{
			"colorMode":   "value",
			"graphMode":   "none",
			"justifyMode": "auto",
			"orientation": "auto",
			"reduceOptions": map[string]interface{}{
				"calcs":  []string{"lastNotNull"},
				"fields": "",
				"values": false,
			},
			"textMode": "auto",
		},
	}
}

// CreateHarnessDashboard creates the dashboard for benchmark runs.
// Thresholds on the success rate panels mirror the Good/Excellent cut-offs.
func CreateHarnessDashboard(goodPct, excellentPct float64) *GrafanaDashboard {
	successSteps := steps(step("red", 0), step("yellow", goodPct), step("green", excellentPct))

	return &GrafanaDashboard{
		Dashboard: DashboardConfig{
			ID:            nil,
			Title:         "RustFS Benchmark Harness",
			Tags:          []string{"rustfs", "benchmark", "s3"},
			Style:         "dark",
			Timezone:      "browser",
			SchemaVersion: 30,
			Version:       1,
			Refresh:       "5s",
			Time: TimeRange{
				From: "now-30m",
				To:   "now",
			},
			Timepicker: Timepicker{
				RefreshIntervals: []string{"5s", "10s", "30s", "1m", "5m"},
			},
			Templating:  Templating{List: []interface{}{}},
			Annotations: Annotations{List: []interface{}{}},
			Panels: []Panel{
				timeseries(1, "Operations per Second", "ops", GridPos{H: 8, W: 12, X: 0, Y: 0},
					steps(step("green", 0)),
					Target{
						Expr:         fmt.Sprintf(`sum by (kind, status) (rate(%s[1m]))`, storage.MetricOperations),
						LegendFormat: "{{kind}} {{status}}",
						RefID:        "A",
					}),
				timeseries(2, "Latency (ms)", "ms", GridPos{H: 8, W: 12, X: 12, Y: 0},
					steps(step("green", 0), step("yellow", 100), step("red", 500)),
					Target{
						Expr:         fmt.Sprintf(`histogram_quantile(0.50, sum by (kind, le) (rate(%s_bucket[1m])))`, storage.MetricLatency),
						LegendFormat: "P50 {{kind}}",
						RefID:        "A",
					},
					Target{
						Expr:         fmt.Sprintf(`histogram_quantile(0.99, sum by (kind, le) (rate(%s_bucket[1m])))`, storage.MetricLatency),
						LegendFormat: "P99 {{kind}}",
						RefID:        "B",
					}),
				stat(3, "Success Rate by Kind", "percent", GridPos{H: 6, W: 12, X: 0, Y: 8},
					successSteps,
					Target{Expr: storage.MetricSuccessRate, LegendFormat: "{{kind}}", RefID: "A"}),
				stat(4, "Combined Success Rate", "percent", GridPos{H: 6, W: 6, X: 12, Y: 8},
					successSteps,
					Target{Expr: storage.MetricCombinedSuccessRate, RefID: "A"}),
				stat(5, "Batch Throughput", "MBs", GridPos{H: 6, W: 6, X: 18, Y: 8},
					steps(step("green", 0)),
					Target{Expr: storage.MetricBatchThroughput, RefID: "A"},
					Target{Expr: storage.MetricBatchConcurrency, LegendFormat: "concurrency", RefID: "B"}),
				timeseries(6, "Average Latency by Kind", "ms", GridPos{H: 8, W: 8, X: 0, Y: 14},
					steps(step("green", 0)),
					Target{Expr: storage.MetricAverageLatency, LegendFormat: "{{kind}}", RefID: "A"}),
				timeseries(7, "Host CPU and Memory", "percent", GridPos{H: 8, W: 8, X: 8, Y: 14},
					steps(step("green", 0), step("yellow", 70), step("red", 90)),
					Target{Expr: storage.MetricHostCPU, LegendFormat: "cpu", RefID: "A"},
					Target{Expr: storage.MetricHostMemory, LegendFormat: "memory", RefID: "B"}),
				timeseries(8, "Host Network", "Bps", GridPos{H: 8, W: 8, X: 16, Y: 14},
					steps(step("green", 0)),
					Target{
						Expr:         fmt.Sprintf(`rate(%s[1m])`, storage.MetricHostNetwork),
						LegendFormat: "{{direction}}",
						RefID:        "A",
					}),
			},
		},
		FolderID:  0,
		Overwrite: true,
	}
}

// SaveDashboard saves the dashboard configuration to a JSON file
func SaveDashboard(dashboard *GrafanaDashboard, outputPath string) error {
	dir := filepath.Dir(outputPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	data, err := json.MarshalIndent(dashboard, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal dashboard: %w", err)
	}

	if err := os.WriteFile(outputPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write dashboard file: %w", err)
	}

	return nil
}
