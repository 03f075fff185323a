package debugger

import (
	"cmp"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-analyze/bulk"
	"github.com/go-analyze/charts"
)

const (
	bottomTableMaxRecords = 10
	reportStderrLines     = 20
)

// SessionReport summarizes a finished controller session.
type SessionReport struct {
	SessionID      string         `json:"session_id"`
	TargetPID      int            `json:"target_pid"`
	StartedAt      time.Time      `json:"started_at"`
	DurationMs     int64          `json:"duration_ms"`
	EventCount     int            `json:"event_count"`
	EventCounts    map[string]int `json:"event_counts"`
	PauseCount     int            `json:"pause_count"`
	BreakpointHits map[string]int `json:"breakpoint_hits"` // location to pauses
	TaskCount      int            `json:"task_count"`
	TaskStates     map[string]int `json:"task_states"`
	Variables      []string       `json:"variables"`
	ExitError      string         `json:"exit_error,omitempty"`
	StderrTail     string         `json:"stderr_tail,omitempty"`
}

// Report builds the session summary from the recorded history and mirrored state.
func (c *Controller) Report() (SessionReport, error) {
	records, err := c.history.Records()
	if err != nil {
		return SessionReport{}, err
	}
	kinds := make([]string, len(records))
	varNames := make([]string, 0)
	for i, rec := range records {
		kinds[i] = rec.Message.Kind.String()
		if rec.Message.Kind == MsgVariableChanged {
			varNames = append(varNames, rec.Message.Name)
		}
	}
	variables := bulk.MapKeysSlice(bulk.SliceToSet(varNames))
	slices.Sort(variables)

	tasks := c.tasks.Tasks()
	states := make([]string, len(tasks))
	for i, t := range tasks {
		states[i] = t.State.String()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	end := c.finished
	if end.IsZero() {
		end = time.Now()
	}
	report := SessionReport{
		SessionID:      c.sessionID,
		TargetPID:      c.pid,
		StartedAt:      c.started,
		DurationMs:     end.Sub(c.started).Milliseconds(),
		EventCount:     len(records),
		EventCounts:    bulk.SliceToCounts(kinds),
		PauseCount:     c.pauses,
		BreakpointHits: make(map[string]int, len(c.breakpointHits)),
		TaskCount:      len(tasks),
		TaskStates:     bulk.SliceToCounts(states),
		Variables:      variables,
	}
	for loc, hits := range c.breakpointHits {
		report.BreakpointHits[loc] = hits
	}
	if c.exitErr != nil {
		report.ExitError = c.exitErr.Error()
	}
	if c.stderr != nil && c.stderr.Len() > 0 {
		report.StderrTail = limitStringLines(strings.TrimRight(c.stderr.String(), "\n"), reportStderrLines, false)
	}
	return report, nil
}

// WriteToFile writes the report as indented JSON. An empty path writes nothing.
func (r SessionReport) WriteToFile(path string) error {
	if path == "" {
		return nil
	}
	encoded, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report failed: %w", err)
	}
	if err := os.WriteFile(path, encoded, 0644); err != nil {
		return fmt.Errorf("write report file failed: %w", err)
	}
	return nil
}

// ReadReportFile loads a report written by WriteToFile.
func ReadReportFile(path string) (SessionReport, error) {
	var r SessionReport
	data, err := os.ReadFile(path)
	if err != nil {
		return r, newError(KindIO, "read report", path, err)
	}
	if err := json.Unmarshal(data, &r); err != nil {
		return r, newError(KindSerialization, "read report", path, err)
	}
	return r, nil
}

// WriteReportChart renders the report to path, the format chosen by the file extension.
func WriteReportChart(path string, r SessionReport) error {
	var outputType string
	if strings.HasSuffix(path, ".png") {
		outputType = charts.ChartOutputPNG
	} else if strings.HasSuffix(path, ".jpg") || strings.HasSuffix(path, ".jpeg") {
		outputType = charts.ChartOutputJPG
	} else if strings.HasSuffix(path, ".svg") {
		outputType = charts.ChartOutputSVG
	} else {
		return fmt.Errorf("unhandled chart file type: %s", path)
	}

	buf, err := RenderReportChart(r, charts.PainterOptions{OutputFormat: outputType, Width: 1024, Height: 768})
	if err != nil {
		return fmt.Errorf("render charts failed: %w", err)
	} else if err = os.WriteFile(path, buf, 0644); err != nil {
		return fmt.Errorf("write chart file failed: %w", err)
	}
	return nil
}

// RenderReportChart draws the event mix, async task outcomes and most hit breakpoints.
func RenderReportChart(r SessionReport, painterOpt charts.PainterOptions) ([]byte, error) {
	p := charts.NewPainter(painterOpt)
	if err := renderReportToPainter(p, r); err != nil {
		return nil, err
	}
	return p.Bytes()
}

func renderReportToPainter(p *charts.Painter, r SessionReport) error {
	const chartPadding = 10
	p.FilledRect(0, 0, p.Width(), p.Height(), charts.ColorWhite, charts.ColorWhite, 0)
	p = p.Child(charts.PainterPaddingOption(charts.NewBox(0, chartPadding, chartPadding, chartPadding)))

	titleFont := charts.FontStyle{
		FontSize:  16,
		FontColor: charts.ColorBlack,
		Font:      charts.GetDefaultFont(),
	}
	title := "dbug session " + r.SessionID
	titleBox := p.MeasureText(title, 0, titleFont)

	painters, err := p.LayoutByRows().
		RowGap(strconv.Itoa(titleBox.Height())).
		Row().Height("128").Columns("events", "tasks").
		Row().Columns("bottom").
		Build()
	if err != nil {
		return fmt.Errorf("error building chart layout: %w", err)
	}

	gaugeTheme := charts.GetTheme(charts.ThemeLight).
		WithBackgroundColor(charts.ColorTransparent).
		WithSeriesColors([]charts.Color{
			charts.ColorRed,
			charts.ColorBlue,
			{ /* Golden yellow */ R: 220, G: 210, B: 100, A: 255},
			charts.ColorGreenAlt1,
		})

	// pauses, control flow, variables, async
	var control, variables, async int
	for kind, count := range r.EventCounts {
		switch kind {
		case MsgFunctionEntered.String(), MsgFunctionExited.String():
			control += count
		case MsgVariableChanged.String(), MsgExpressionResult.String():
			variables += count
		case MsgBreakpointHit.String(), MsgAsyncBreakPoint.String():
		default:
			async += count
		}
	}
	eventsOpt := charts.NewHorizontalBarChartOptionWithData([][]float64{
		{float64(r.PauseCount)}, {float64(control)}, {float64(variables)}, {float64(async)},
	})
	eventsOpt.StackSeries = charts.Ptr(true)
	eventsOpt.Theme = gaugeTheme
	eventsOpt.Title.Text = "Events (" + strconv.Itoa(r.EventCount) + ")"
	eventsOpt.XAxis.Unit = axisUnitForMax(r.EventCount)
	eventsOpt.YAxis.Show = charts.Ptr(false)
	eventsOpt.SeriesList[0].Label.Show = charts.Ptr(true)
	eventsOpt.SeriesList[0].Label.ValueFormatter = func(f float64) string {
		return charts.FormatValueHumanize(f, 0, false) + " pauses"
	}
	if err := painters["events"].HorizontalBarChart(eventsOpt); err != nil {
		return fmt.Errorf("error rendering chart: %w", err)
	}

	finished := r.TaskStates[TaskCompleted.String()]
	cancelled := r.TaskStates[TaskCancelled.String()]
	tasksOpt := charts.NewHorizontalBarChartOptionWithData([][]float64{
		{float64(finished)}, {float64(cancelled)}, {float64(r.TaskCount - finished - cancelled)},
	})
	tasksOpt.StackSeries = charts.Ptr(true)
	tasksOpt.Theme = charts.GetTheme(charts.ThemeLight).
		WithBackgroundColor(charts.ColorTransparent).
		WithSeriesColors([]charts.Color{
			charts.ColorGreenAlt1,
			charts.ColorRed,
			{R: 220, G: 210, B: 100, A: 255},
		})
	tasksOpt.Title.Text = "Async Tasks (" + strconv.Itoa(r.TaskCount) + ")"
	tasksOpt.XAxis.Unit = axisUnitForMax(r.TaskCount)
	tasksOpt.YAxis.Show = charts.Ptr(false)
	tasksOpt.SeriesList[0].Label.Show = charts.Ptr(true)
	tasksOpt.SeriesList[0].Label.ValueFormatter = func(f float64) string {
		if r.TaskCount == 0 {
			return "none"
		}
		return charts.FormatValueHumanize(100.0*f/float64(r.TaskCount), 1, false) + "% completed"
	}
	if err := painters["tasks"].HorizontalBarChart(tasksOpt); err != nil {
		return fmt.Errorf("error rendering chart: %w", err)
	}

	if hits := topBreakpoints(r.BreakpointHits, bottomTableMaxRecords); len(hits) > 0 {
		bottom := painters["bottom"]
		tableTitle := "Breakpoint Hits"
		tableTitleFont := charts.FontStyle{
			FontSize:  12,
			FontColor: gaugeTheme.GetTitleTextColor(),
			Font:      charts.GetDefaultFont(),
		}
		tableTitleBox := bottom.MeasureText(tableTitle, 0, tableTitleFont)
		bottom.Text(tableTitle, 10, tableTitleBox.Height(), 0, tableTitleFont)
		tableOpt := charts.TableChartOption{
			Header:                []string{"Location", "Pauses"},
			Data:                  hits,
			HeaderBackgroundColor: charts.Color{R: 210, G: 210, B: 210, A: 255},
			RowBackgroundColors: []charts.Color{
				{R: 240, G: 240, B: 240, A: 255},
				charts.ColorTransparent,
			},
			Padding:    charts.NewBoxEqual(10),
			Spans:      []int{40, 8},
			TextAligns: []string{charts.AlignLeft, charts.AlignCenter},
		}
		tablePainter := bottom.Child(charts.PainterPaddingOption(charts.NewBox(10, tableTitleBox.Height()+8, 0, 0)))
		if err := tablePainter.TableChart(tableOpt); err != nil {
			return fmt.Errorf("error rendering table: %w", err)
		}
	}

	// title rendered last so it is not clipped by the charts
	p.Text(title, (p.Width()/2)-(titleBox.Width()/2), titleBox.Height(), 0, titleFont)
	return nil
}

// topBreakpoints returns table rows for the most hit locations, most hits first.
func topBreakpoints(hits map[string]int, limit int) [][]string {
	locations := bulk.MapKeysSlice(hits)
	slices.SortFunc(locations, func(a, b string) int {
		if c := cmp.Compare(hits[b], hits[a]); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})
	if len(locations) > limit {
		locations = locations[:limit]
	}
	rows := make([][]string, len(locations))
	for i, loc := range locations {
		rows[i] = []string{loc, strconv.Itoa(hits[loc])}
	}
	return rows
}

func axisUnitForMax(val int) float64 {
	if val >= 8000 {
		return 2000
	} else if val > 2000 {
		return 1000
	} else if val >= 800 {
		return 200
	} else if val > 200 {
		return 100
	} else if val >= 80 {
		return 20
	} else if val > 20 {
		return 10
	} else if val >= 10 {
		return 2
	} else {
		return 1
	}
}
