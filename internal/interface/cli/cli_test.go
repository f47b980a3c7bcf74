package cli

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnwatch/attention-monitor/internal/application/monitor"
	"github.com/learnwatch/attention-monitor/internal/domain/monitoring"
	"github.com/learnwatch/attention-monitor/internal/domain/shared"
	"github.com/learnwatch/attention-monitor/pkg/timeutil"
)

func TestPresenter_PlainCountdown(t *testing.T) {
	var out bytes.Buffer
	p := NewPresenter(&out, PresenterOptions{LiveReadout: true})

	require.NoError(t, p.Handle(shared.NewMonitoringStartedEvent("r", "s", 30*time.Second)))
	require.NoError(t, p.Handle(shared.NewFrameAnalyzedEvent("r", "s", 72.4, "attentive")))
	for _, secs := range []int{29, 28, 20, 20, 11, 3, 2, 1, 0} {
		require.NoError(t, p.Handle(shared.NewCountdownTickEvent("r", time.Duration(secs)*time.Second)))
	}
	require.NoError(t, p.Handle(shared.NewMonitoringEndedEvent("r", "s", "finished", 30*time.Second, 27)))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Equal(t, []string{
		"Monitoring started for 00:30.",
		"Remaining 00:20  attention 72 (attentive)",
		"Remaining 00:03  attention 72 (attentive)",
		"Remaining 00:02  attention 72 (attentive)",
		"Remaining 00:01  attention 72 (attentive)",
		"Remaining 00:00  attention 72 (attentive)",
		"Monitoring finished: 27 frames analyzed in 30s.",
	}, lines)
}

func TestPresenter_TerminalStatusLine(t *testing.T) {
	var out bytes.Buffer
	p := NewPresenter(&out, PresenterOptions{Terminal: true, Width: 30})

	require.NoError(t, p.Handle(shared.NewCountdownTickEvent("r", 5*time.Second)))
	require.NoError(t, p.Handle(shared.NewMonitoringEndedEvent("r", "s", "cancelled", 4*time.Second, 3)))

	s := out.String()
	assert.True(t, strings.HasPrefix(s, "\rRemaining 00:05"))
	assert.Contains(t, s, "\nMonitoring cancelled after 4s.\n")
}

func TestWriteResult(t *testing.T) {
	var out bytes.Buffer
	score := monitoring.Combine(shared.ScorePtr(80), nil)

	WriteResult(&out, monitor.Snapshot{
		Message: monitoring.CompletedMessage,
		Capture: monitor.CaptureStats{Ticks: 30, Sent: 25, NoFace: 2, Failed: 1, Skipped: 2},
		Score:   &score,
		Recommendation: &monitoring.Recommendation{
			Message: "Review the second half.",
			Actions: []monitoring.Action{{Kind: "video", Description: "Rewatch minutes 5-10"}},
		},
	})

	s := out.String()
	assert.Contains(t, s, monitoring.CompletedMessage)
	assert.Contains(t, s, "Frames: 25 analyzed, 2 without face, 1 failed, 2 skipped")
	assert.Contains(t, s, "Combined grade: 32  (attention 80 x 0.4 + academic 0 x 0.6)")
	assert.Contains(t, s, "  - Rewatch minutes 5-10")
}

func TestWriteHistory(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	grade := 74
	var out bytes.Buffer
	timeutil.SetLocation(time.UTC)
	t.Cleanup(func() { timeutil.SetLocation(nil) })

	require.NoError(t, WriteHistory(&out, &monitor.HistoryDTO{
		Runs: []monitor.RunDTO{{
			ResourceID: "0b9f6a4c-1c7e-4f57-9d43-2f6a0f1b8e21",
			Status:     "finished",
			Elapsed:    30 * time.Second,
			StartedAt:  now.Add(-2 * time.Hour),
			FramesSent: 28,
			FramesLost: 2,
			Combined:   &grade,
		}, {
			ResourceID: "res-old",
			Status:     "cancelled",
			Elapsed:    10 * time.Second,
			StartedAt:  time.Date(2026, 5, 2, 9, 30, 0, 0, time.UTC),
		}},
		Finished:        1,
		Cancelled:       1,
		AverageCombined: &grade,
	}, now))

	s := out.String()
	assert.Contains(t, s, "2 h ago")
	assert.Contains(t, s, "2026-05-02 09:30")
	assert.Contains(t, s, "0b9f6a4c-1c…")
	assert.Contains(t, s, "28/30")
	assert.Contains(t, s, "1 finished, 1 cancelled, average grade 74")

	out.Reset()
	require.NoError(t, WriteHistory(&out, &monitor.HistoryDTO{}, now))
	assert.Equal(t, "No monitoring runs recorded yet.\n", out.String())
}

func TestConsentPrompt_LineInput(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
		{"sure\n", false},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		p := NewConsentPrompt(strings.NewReader(tt.input), &out)
		assert.False(t, p.IsTerminal())

		got, err := p.Ask(context.Background(), "Camera notice.")
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "input %q", tt.input)
		assert.Contains(t, out.String(), "Camera notice.")
	}
}

func TestConsentPrompt_ContextEnds(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()

	p := NewConsentPrompt(r, io.Discard)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	ok, err := p.Ask(ctx, "notice")
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
