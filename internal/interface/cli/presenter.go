// Package cli is the terminal interface of the attention monitor: an event
// presenter for the live run, renderers for results and history, and the
// consent prompt.
package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/learnwatch/attention-monitor/internal/application/monitor"
	"github.com/learnwatch/attention-monitor/internal/domain/monitoring"
	"github.com/learnwatch/attention-monitor/internal/domain/shared"
	"github.com/learnwatch/attention-monitor/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// LIVE PRESENTER
// ══════════════════════════════════════════════════════════════════════════════

// PresenterOptions configures a Presenter.
type PresenterOptions struct {
	// LiveReadout shows the per-frame attention next to the countdown.
	LiveReadout bool

	// Terminal rewrites the status line in place. Otherwise the countdown is
	// printed as plain lines every ten seconds and during the last three.
	Terminal bool

	// Width truncates the status line. Zero means 80.
	Width int
}

// Presenter renders domain events of a run. It is an event handler and must
// only be subscribed to a bus, never called from the viewer directly.
type Presenter struct {
	out  io.Writer
	opts PresenterOptions

	mu          sync.Mutex
	readout     string
	inline      bool
	lastPrinted int64
}

// NewPresenter creates a Presenter writing to out.
func NewPresenter(out io.Writer, opts PresenterOptions) *Presenter {
	if opts.Width <= 0 {
		opts.Width = 80
	}
	return &Presenter{out: out, opts: opts, lastPrinted: -1}
}

// Handle implements shared.EventHandler.
func (p *Presenter) Handle(event shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch e := event.(type) {
	case shared.SessionResolvedEvent:
		p.line("Session ready.")

	case shared.MonitoringStartedEvent:
		p.readout = ""
		p.lastPrinted = -1
		p.line(fmt.Sprintf("Monitoring started for %s.", timeutil.FormatCountdown(e.Duration)))

	case shared.PreviewReadyEvent:
		p.line(fmt.Sprintf("Camera ready (%dx%d).", e.Width, e.Height))

	case shared.FrameAnalyzedEvent:
		if p.opts.LiveReadout {
			p.readout = fmt.Sprintf("attention %d (%s)", e.Score.Rounded(), e.State)
		}

	case shared.CountdownTickEvent:
		p.tick(e.Remaining)

	case shared.MonitoringEndedEvent:
		p.line(endedLine(e))

	case shared.ScoreReconciledEvent:
		p.line(fmt.Sprintf("Attention %d  Academic %d  Combined %d",
			e.Attention.Rounded(), e.Academic.Rounded(), e.Combined))
	}
	return nil
}

func endedLine(e shared.MonitoringEndedEvent) string {
	elapsed := timeutil.FormatDuration(e.Elapsed)
	switch e.Outcome {
	case "cancelled":
		return fmt.Sprintf("Monitoring cancelled after %s.", elapsed)
	case "failed":
		return fmt.Sprintf("Monitoring ended after %s but could not be saved.", elapsed)
	default:
		return fmt.Sprintf("Monitoring finished: %d frames analyzed in %s.", e.FramesSent, elapsed)
	}
}

func (p *Presenter) tick(remaining time.Duration) {
	status := "Remaining " + timeutil.FormatCountdown(remaining)
	if p.readout != "" {
		status += "  " + p.readout
	}

	if p.opts.Terminal {
		if len(status) > p.opts.Width-1 {
			status = status[:p.opts.Width-1]
		}
		fmt.Fprintf(p.out, "\r%-*s", p.opts.Width-1, status)
		p.inline = true
		return
	}

	secs := int64((remaining + time.Second - 1) / time.Second)
	if secs == p.lastPrinted || (secs%10 != 0 && secs > 3) {
		return
	}
	p.lastPrinted = secs
	fmt.Fprintln(p.out, status)
}

// line prints a full line, ending a pending status line first.
func (p *Presenter) line(s string) {
	if p.inline {
		fmt.Fprintln(p.out)
		p.inline = false
	}
	fmt.Fprintln(p.out, s)
}

// ══════════════════════════════════════════════════════════════════════════════
// RESULT RENDERING
// ══════════════════════════════════════════════════════════════════════════════

// WriteResult prints the outcome of a finished run.
func WriteResult(w io.Writer, snap monitor.Snapshot) {
	fmt.Fprintln(w, snap.Message)

	if snap.Capture.Ticks > 0 {
		fmt.Fprintf(w, "Frames: %d analyzed, %d without face, %d failed, %d skipped\n",
			snap.Capture.Sent, snap.Capture.NoFace, snap.Capture.Failed, snap.Capture.Skipped+snap.Capture.Dropped)
	}

	switch {
	case snap.Score != nil:
		WriteScore(w, snap.Score.AttentionOrZero().Rounded(), snap.Score.AcademicOrZero().Rounded(), snap.Score.Combined)
	case snap.ScoreErr != nil:
		fmt.Fprintln(w, "Combined grade is not available right now.")
	}

	if rec := snap.Recommendation; rec != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, rec.Message)
		for _, a := range rec.Actions {
			fmt.Fprintf(w, "  - %s\n", a.Description)
		}
	}
}

// WriteScore prints the grade breakdown.
func WriteScore(w io.Writer, attention, academic, combined int) {
	fmt.Fprintf(w, "Combined grade: %d  (attention %d x %.1f + academic %d x %.1f)\n",
		combined, attention, monitoring.AttentionWeight, academic, monitoring.AcademicWeight)
}

// WriteHistory prints the journal as a table.
func WriteHistory(w io.Writer, h *monitor.HistoryDTO, now time.Time) error {
	if len(h.Runs) == 0 {
		_, err := fmt.Fprintln(w, "No monitoring runs recorded yet.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tRESOURCE\tSTATUS\tLENGTH\tFRAMES\tGRADE")
	for _, r := range h.Runs {
		grade := "-"
		if r.Combined != nil {
			grade = fmt.Sprint(*r.Combined)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%d\t%s\n",
			startedWhen(r.StartedAt, now),
			shorten(r.ResourceID, 12),
			r.Status,
			timeutil.FormatDuration(r.Elapsed),
			r.FramesSent, r.FramesSent+r.FramesLost,
			grade,
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	summary := fmt.Sprintf("%d finished, %d cancelled", h.Finished, h.Cancelled)
	if h.AverageCombined != nil {
		summary += fmt.Sprintf(", average grade %d", *h.AverageCombined)
	}
	_, err := fmt.Fprintln(w, summary)
	return err
}

func shorten(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

// startedWhen is relative for the past week and absolute before that.
func startedWhen(t, now time.Time) string {
	if now.Sub(t) < 7*24*time.Hour {
		return timeutil.FormatRelative(t, now)
	}
	return timeutil.FormatDateTimeStr(t)
}
