package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnwatch/attention-monitor/internal/domain/monitoring"
	"github.com/learnwatch/attention-monitor/internal/domain/shared"
)

func TestSessionCache_TTL(t *testing.T) {
	now := time.Unix(100, 0)
	c := NewSessionCache(time.Minute, 0)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.SetSession(ctx, "st", "res", "sess"))
	id, err := c.GetSession(ctx, "st", "res")
	require.NoError(t, err)
	assert.Equal(t, shared.SessionID("sess"), id)

	now = now.Add(time.Minute)
	_, err = c.GetSession(ctx, "st", "res")
	assert.True(t, shared.IsNotFound(err))
}

func TestSessionCache_ResourceCopy(t *testing.T) {
	c := NewSessionCache(0, 0)
	ctx := context.Background()

	res := &monitoring.Resource{ID: "r", Name: "Intro"}
	require.NoError(t, c.SetResource(ctx, res))
	res.Name = "changed"

	got, err := c.GetResource(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, "Intro", got.Name)

	require.NoError(t, c.DeleteSession(ctx, "st", "r"))
	assert.Error(t, c.SetResource(ctx, nil))
}

func TestJournal_ListByStudent(t *testing.T) {
	j := NewJournal()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		require.NoError(t, j.Save(ctx, &monitoring.JournalEntry{
			StudentID:  "st",
			ResourceID: "r",
			StartedAt:  base.Add(time.Duration(i) * time.Hour),
		}))
	}
	require.NoError(t, j.Save(ctx, &monitoring.JournalEntry{StudentID: "other", ResourceID: "r", StartedAt: base}))

	got, err := j.ListByStudent(ctx, "st", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, base.Add(2*time.Hour), got[0].StartedAt)
	assert.NotEmpty(t, got[0].ID)

	assert.Error(t, j.Save(ctx, &monitoring.JournalEntry{}))
}

func TestJournal_SaveReplacesByID(t *testing.T) {
	j := NewJournal()
	ctx := context.Background()

	e := &monitoring.JournalEntry{StudentID: "st", ResourceID: "r", Status: monitoring.StatusFinished}
	require.NoError(t, j.Save(ctx, e))
	score := 76
	e.Combined = &score
	require.NoError(t, j.Save(ctx, e))

	got, err := j.ListByStudent(ctx, "st", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 76, *got[0].Combined)
}
