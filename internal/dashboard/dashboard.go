package dashboard

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"

	"github.com/torosent/gauntlet/internal/evaluate"
	"github.com/torosent/gauntlet/internal/metrics"
)

// RunConfig holds benchmark run parameters for display.
type RunConfig struct {
	RunID      string        // Run identifier
	ShardID    string        // Shard identifier (empty outside shard mode)
	Model      string        // Model under test
	Endpoint   string        // Endpoint name
	Workers    int           // Concurrent session workers
	Planned    int           // Total sessions to execute (0 = unknown)
	QPS        float64       // Model-call rate cap (0 = unlimited)
	MaxTurns   int           // Per-session turn limit
	WallClock  time.Duration // Per-session wall-clock limit
	ConfigFile string        // Path to config file if used
}

// Dashboard renders a live terminal UI for benchmark metrics.
type Dashboard struct {
	collector    *metrics.Collector
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownFunc func()
	wg           sync.WaitGroup
	mu           sync.Mutex

	// Widgets
	grid            *ui.Grid
	durationSparkle *widgets.SparklineGroup
	durationPara    *widgets.Paragraph
	completedGauge  *widgets.Gauge
	statusList      *widgets.List
	summaryPara     *widgets.Paragraph
	metricsPara     *widgets.Paragraph
	tokensPara      *widgets.Paragraph
	durationHistory []float64
	startTime       time.Time
	runDuration     time.Duration
	runConfig       RunConfig
}

// New creates a new Dashboard.
func New(collector *metrics.Collector, cfg RunConfig, shutdownFunc func()) (*Dashboard, error) {
	if err := ui.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize termui: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &Dashboard{
		collector:       collector,
		ctx:             ctx,
		cancel:          cancel,
		shutdownFunc:    shutdownFunc,
		durationHistory: make([]float64, 0, 100),
		startTime:       time.Now(),
		runConfig:       cfg,
	}

	d.initWidgets()
	d.setupGrid()

	return d, nil
}

// initWidgets initializes all dashboard widgets.
func (d *Dashboard) initWidgets() {
	// Duration Sparkline
	sparkline := widgets.NewSparkline()
	sparkline.Title = "Mean Duration (ms)"
	sparkline.LineColor = ui.ColorGreen
	sparkline.Data = []float64{0}

	d.durationSparkle = widgets.NewSparklineGroup(sparkline)
	d.durationSparkle.Title = "Session Duration"
	d.durationSparkle.BorderStyle.Fg = ui.ColorCyan

	// Duration Stats Paragraph
	d.durationPara = widgets.NewParagraph()
	d.durationPara.Title = "Duration Stats"
	d.durationPara.Text = "Min: 0ms\nMean: 0ms\nP50: 0ms\nP90: 0ms\nP99: 0ms"
	d.durationPara.BorderStyle.Fg = ui.ColorCyan

	// Completion Gauge
	d.completedGauge = widgets.NewGauge()
	d.completedGauge.Title = "Sessions Completed"
	d.completedGauge.Percent = 0
	d.completedGauge.BarColor = ui.ColorBlue
	d.completedGauge.BorderStyle.Fg = ui.ColorCyan
	d.completedGauge.LabelStyle = ui.NewStyle(ui.ColorWhite)

	// Terminal Status List
	d.statusList = widgets.NewList()
	d.statusList.Title = "Terminal Statuses"
	d.statusList.Rows = []string{"No failures"}
	d.statusList.TextStyle = ui.NewStyle(ui.ColorYellow)
	d.statusList.BorderStyle.Fg = ui.ColorCyan

	// Summary Paragraph
	d.summaryPara = widgets.NewParagraph()
	d.summaryPara.Title = "Benchmark Run"
	d.summaryPara.Text = "Initializing..."
	d.summaryPara.BorderStyle.Fg = ui.ColorCyan

	// Metrics Paragraph (plain text summary)
	d.metricsPara = widgets.NewParagraph()
	d.metricsPara.Title = "Sessions"
	d.metricsPara.Text = "Waiting for data..."
	d.metricsPara.BorderStyle.Fg = ui.ColorCyan

	// Token Usage Paragraph
	d.tokensPara = widgets.NewParagraph()
	d.tokensPara.Title = "Usage"
	d.tokensPara.Text = "No usage data"
	d.tokensPara.TextStyle = ui.NewStyle(ui.ColorGreen)
	d.tokensPara.BorderStyle.Fg = ui.ColorCyan
}

// setupGrid configures the layout grid.
func (d *Dashboard) setupGrid() {
	termWidth, termHeight := ui.TerminalDimensions()

	d.grid = ui.NewGrid()
	d.grid.SetRect(0, 0, termWidth, termHeight)

	d.grid.Set(
		ui.NewRow(0.14,
			ui.NewCol(1.0, d.summaryPara),
		),
		ui.NewRow(0.18,
			ui.NewCol(0.5, d.completedGauge),
			ui.NewCol(0.5, d.metricsPara),
		),
		ui.NewRow(0.26,
			ui.NewCol(0.65, d.durationSparkle),
			ui.NewCol(0.35, d.durationPara),
		),
		ui.NewRow(0.14,
			ui.NewCol(1.0, d.tokensPara),
		),
		ui.NewRow(0.28,
			ui.NewCol(1.0, d.statusList),
		),
	)
}

// Start begins the dashboard update loop.
func (d *Dashboard) Start() {
	d.wg.Add(1)
	go d.run()
}

// Stop stops the dashboard and cleans up.
func (d *Dashboard) Stop() {
	d.cancel()
	d.wg.Wait()
	d.runDuration = time.Since(d.startTime)
	ui.Close()
	// Give terminal time to restore
	time.Sleep(100 * time.Millisecond)
}

// GetFinalStats returns the final statistics after the dashboard has stopped.
func (d *Dashboard) GetFinalStats() metrics.Stats {
	return d.collector.Stats(d.runDuration)
}

// run is the main dashboard update loop.
func (d *Dashboard) run() {
	defer d.wg.Done()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	uiEvents := ui.PollEvents()

	d.render()

	for {
		select {
		case <-d.ctx.Done():
			// Drain any remaining events
			for len(uiEvents) > 0 {
				<-uiEvents
			}
			return
		case e := <-uiEvents:
			// Check if context is done to avoid blocking
			select {
			case <-d.ctx.Done():
				return
			default:
			}

			switch e.ID {
			case "q", "<C-c>":
				if d.shutdownFunc != nil {
					d.shutdownFunc()
				}
				// Do not return here; wait for Stop() to cancel context
			case "<Resize>":
				payload := e.Payload.(ui.Resize)
				d.grid.SetRect(0, 0, payload.Width, payload.Height)
				ui.Clear()
				d.render()
			}
		case <-ticker.C:
			d.update()
			d.render()
		}
	}
}

// update refreshes all widget data from the collector.
func (d *Dashboard) update() {
	d.mu.Lock()
	defer d.mu.Unlock()

	elapsed := time.Since(d.startTime)
	d.applyStats(d.collector.Stats(elapsed), elapsed)
}

// applyStats pushes one stats snapshot into the widgets.
func (d *Dashboard) applyStats(stats metrics.Stats, elapsed time.Duration) {
	// Update duration history for sparkline
	if stats.MeanDurationMs > 0 {
		d.durationHistory = append(d.durationHistory, stats.MeanDurationMs)
		if len(d.durationHistory) > 100 {
			d.durationHistory = d.durationHistory[1:]
		}
		d.durationSparkle.Sparklines[0].Data = d.durationHistory
		d.durationSparkle.Title = fmt.Sprintf(
			"Session Duration | Mean: %.0fms | Min: %.0fms | Max: %.0fms",
			stats.MeanDurationMs,
			stats.MinDurationMs,
			stats.MaxDurationMs,
		)
	}

	d.completedGauge.Percent = completionPercent(stats.Total, d.runConfig.Planned)
	if d.runConfig.Planned > 0 {
		d.completedGauge.Label = fmt.Sprintf("%d/%d sessions", stats.Total, d.runConfig.Planned)
	} else {
		d.completedGauge.Label = fmt.Sprintf("%d sessions", stats.Total)
	}

	successRate := 0.0
	if stats.Total > 0 {
		successRate = (float64(stats.FullSuccess+stats.PartialSuccess) / float64(stats.Total)) * 100
	}

	header := fmt.Sprintf("Run: %s | Model: %s | Endpoint: %s",
		d.runConfig.RunID, d.runConfig.Model, d.runConfig.Endpoint)
	if d.runConfig.ShardID != "" {
		header += " | Shard: " + d.runConfig.ShardID
	}

	d.summaryPara.Text = fmt.Sprintf(
		"%s\n%s\nElapsed: %s | Sessions: %d | Success Rate: %.1f%%",
		header,
		d.formatRunParams(),
		elapsed.Round(time.Second),
		stats.Total,
		successRate,
	)

	d.metricsPara.Text = fmt.Sprintf(
		"Sessions:          %d\nFull Success:      %d\nPartial Success:   %d\nFailed:            %d\nSessions/sec:      %.2f\nSuccess Rate:      %.1f%%",
		stats.Total,
		stats.FullSuccess,
		stats.PartialSuccess,
		stats.Failure,
		stats.SessionsPerSec,
		successRate,
	)

	d.durationPara.Text = fmt.Sprintf(
		"Min:  %.0fms\nMean: %.0fms\nP50:  %.0fms\nP90:  %.0fms\nP99:  %.0fms",
		stats.MinDurationMs,
		stats.MeanDurationMs,
		stats.P50DurationMs,
		stats.P90DurationMs,
		stats.P99DurationMs,
	)

	d.tokensPara.Text = fmt.Sprintf(
		"Input Tokens:      %d\nOutput Tokens:     %d\nLimiter Wait:      %.0fms (mean)",
		stats.InputTokens,
		stats.OutputTokens,
		stats.MeanLimiterWaitMs,
	)

	d.statusList.Rows = formatStatusRows(stats.Statuses)
}

// render draws all widgets to the screen.
func (d *Dashboard) render() {
	d.mu.Lock()
	defer d.mu.Unlock()

	ui.Render(d.grid)
}

func completionPercent(total int64, planned int) int {
	if planned <= 0 {
		return 0
	}
	percent := int(total * 100 / int64(planned))
	if percent > 100 {
		percent = 100
	}
	return percent
}

// formatStatusRows renders the non-completed terminal statuses, most
// frequent first, capped to fit the list widget.
func formatStatusRows(statuses map[string]int) []string {
	formatted := make([]string, 0, 10)
	for _, row := range metrics.FlattenStatuses(statuses) {
		if row.Status == evaluate.StatusCompleted {
			continue
		}
		formatted = append(formatted, fmt.Sprintf("[%s](fg:red) %d", row.Status, row.Count))
		if len(formatted) == 10 {
			break
		}
	}
	if len(formatted) == 0 {
		return []string{"[No failures](fg:green)"}
	}
	return formatted
}

// formatRunParams formats the run configuration parameters for display.
func (d *Dashboard) formatRunParams() string {
	var parts []string

	// Workers
	if d.runConfig.Workers > 0 {
		parts = append(parts, fmt.Sprintf("Workers: %d", d.runConfig.Workers))
	}

	// Rate
	if d.runConfig.QPS > 0 {
		parts = append(parts, fmt.Sprintf("Rate: %.1f/s", d.runConfig.QPS))
	} else {
		parts = append(parts, "Rate: unlimited")
	}

	// Planned sessions
	if d.runConfig.Planned > 0 {
		parts = append(parts, fmt.Sprintf("Planned: %d", d.runConfig.Planned))
	}

	// Turn limit
	if d.runConfig.MaxTurns > 0 {
		parts = append(parts, fmt.Sprintf("Max Turns: %d", d.runConfig.MaxTurns))
	}

	// Wall clock limit
	if d.runConfig.WallClock > 0 {
		parts = append(parts, fmt.Sprintf("Wall Clock: %s", d.runConfig.WallClock))
	}

	// Config file (only show if used)
	if d.runConfig.ConfigFile != "" {
		parts = append(parts, fmt.Sprintf("Config: %s", d.runConfig.ConfigFile))
	}

	return strings.Join(parts, " | ")
}
