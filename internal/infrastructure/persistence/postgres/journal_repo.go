package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/learnwatch/attention-monitor/internal/domain/monitoring"
	"github.com/learnwatch/attention-monitor/internal/domain/shared"
	"github.com/learnwatch/attention-monitor/pkg/retry"
)

// JournalRepository implements monitoring.JournalRepository.
type JournalRepository struct {
	conn    *Connection
	retrier *retry.Retrier
}

var _ monitoring.JournalRepository = (*JournalRepository)(nil)

// NewJournalRepository creates a journal backed by conn.
func NewJournalRepository(conn *Connection) *JournalRepository {
	return &JournalRepository{
		conn:    conn,
		retrier: retry.StorageRetrier(retry.WithRetryIf(IsTransient)),
	}
}

// do runs op under the storage retry policy. Only transient database
// failures are repeated.
func (r *JournalRepository) do(ctx context.Context, op func(ctx context.Context) error) error {
	if r.retrier == nil {
		return op(ctx)
	}
	return r.retrier.Do(ctx, op)
}

// journalRow mirrors the monitoring_journal columns.
type journalRow struct {
	ID              string     `db:"id"`
	StudentID       string     `db:"student_id"`
	ResourceID      string     `db:"resource_id"`
	SessionID       string     `db:"session_id"`
	Status          string     `db:"status"`
	DurationSeconds int        `db:"duration_seconds"`
	StartedAt       *time.Time `db:"started_at"`
	EndedAt         *time.Time `db:"ended_at"`
	FramesSent      int64      `db:"frames_sent"`
	FramesFailed    int64      `db:"frames_failed"`
	FramesSkipped   int64      `db:"frames_skipped"`
	CombinedScore   *int       `db:"combined_score"`
	Message         string     `db:"message"`
}

const journalColumns = `id, student_id, resource_id, session_id, status, duration_seconds,
	started_at, ended_at, frames_sent, frames_failed, frames_skipped, combined_score, message`

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	t = t.UTC()
	return &t
}

func rowFromEntry(e *monitoring.JournalEntry) journalRow {
	return journalRow{
		ID:              e.ID,
		StudentID:       e.StudentID.String(),
		ResourceID:      e.ResourceID.String(),
		SessionID:       e.SessionID.String(),
		Status:          string(e.Status),
		DurationSeconds: int(e.Duration / time.Second),
		StartedAt:       optionalTime(e.StartedAt),
		EndedAt:         optionalTime(e.EndedAt),
		FramesSent:      e.FramesSent,
		FramesFailed:    e.FramesFailed,
		FramesSkipped:   e.FramesSkipped,
		CombinedScore:   e.Combined,
		Message:         e.Message,
	}
}

func (r journalRow) toEntry() *monitoring.JournalEntry {
	e := &monitoring.JournalEntry{
		ID:            r.ID,
		StudentID:     shared.StudentID(r.StudentID),
		ResourceID:    shared.ResourceID(r.ResourceID),
		SessionID:     shared.SessionID(r.SessionID),
		Status:        monitoring.Status(r.Status),
		Duration:      time.Duration(r.DurationSeconds) * time.Second,
		FramesSent:    r.FramesSent,
		FramesFailed:  r.FramesFailed,
		FramesSkipped: r.FramesSkipped,
		Combined:      r.CombinedScore,
		Message:       r.Message,
	}
	if r.StartedAt != nil {
		e.StartedAt = *r.StartedAt
	}
	if r.EndedAt != nil {
		e.EndedAt = *r.EndedAt
	}
	return e
}

func validateEntry(e *monitoring.JournalEntry) error {
	switch {
	case e == nil:
		return shared.NewDomainError("journal", "Save", shared.ErrInvalidInput, "nil entry")
	case !e.StudentID.IsValid() || !e.ResourceID.IsValid():
		return shared.NewDomainError("journal", "Save", shared.ErrInvalidInput, "entry needs a student and a resource")
	case !e.Status.IsValid():
		return shared.NewDomainError("journal", "Save", shared.ErrInvalidInput, "unknown status "+string(e.Status))
	}
	return nil
}

// Save inserts an entry, or updates it when the id already exists.
func (r *JournalRepository) Save(ctx context.Context, entry *monitoring.JournalEntry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	row := rowFromEntry(entry)

	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	err := r.do(ctx, func(ctx context.Context) error {
		_, err := r.conn.Exec(ctx, `
		INSERT INTO monitoring_journal (`+journalColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			session_id = EXCLUDED.session_id,
			status = EXCLUDED.status,
			duration_seconds = EXCLUDED.duration_seconds,
			started_at = EXCLUDED.started_at,
			ended_at = EXCLUDED.ended_at,
			frames_sent = EXCLUDED.frames_sent,
			frames_failed = EXCLUDED.frames_failed,
			frames_skipped = EXCLUDED.frames_skipped,
			combined_score = EXCLUDED.combined_score,
			message = EXCLUDED.message
		`,
			row.ID, row.StudentID, row.ResourceID, row.SessionID, row.Status, row.DurationSeconds,
			row.StartedAt, row.EndedAt, row.FramesSent, row.FramesFailed, row.FramesSkipped,
			row.CombinedScore, row.Message,
		)
		return err
	})
	if err != nil {
		if IsCheckViolation(err) {
			return shared.WrapError("journal", "Save", shared.ErrInvalidInput, "entry rejected by database", err)
		}
		return fmt.Errorf("postgres: save journal entry: %w", err)
	}
	return nil
}

// ListByStudent returns the newest entries first. A non-positive limit returns all.
func (r *JournalRepository) ListByStudent(ctx context.Context, student shared.StudentID, limit int) ([]*monitoring.JournalEntry, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + journalColumns + ` FROM monitoring_journal
		WHERE student_id = $1
		ORDER BY started_at DESC NULLS LAST, created_at DESC`
	args := []any{student.String()}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	var collected []journalRow
	err := r.do(ctx, func(ctx context.Context) error {
		rows, err := r.conn.Query(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("postgres: list journal: %w", err)
		}
		collected, err = pgx.CollectRows(rows, pgx.RowToStructByName[journalRow])
		if err != nil {
			return fmt.Errorf("postgres: scan journal: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]*monitoring.JournalEntry, 0, len(collected))
	for _, row := range collected {
		out = append(out, row.toEntry())
	}
	return out, nil
}
