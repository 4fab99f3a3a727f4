package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/example/attendance-engine/internal/persistence"
)

// RecordRepository implements persistence.RecordRepository using SQLite
type RecordRepository struct {
	pool *ConnectionPool
}

// NewRecordRepository creates a new SQLite record repository
func NewRecordRepository(pool *ConnectionPool) *RecordRepository {
	return &RecordRepository{pool: pool}
}

// UpsertRecords applies writes to an OPEN session and returns the number of changed records.
//
// The first statement touches the session row under a status guard, which both
// takes the write lock and verifies the session is still OPEN inside the same
// transaction as the record writes. A concurrent close therefore either commits
// before (and the guard fails) or observes the bumped version and retries.
func (r *RecordRepository) UpsertRecords(ctx context.Context, sessionID string, writes []persistence.RecordWrite, markedAt time.Time) (int, error) {
	changed := 0

	err := r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		changed = 0

		result, err := tx.ExecContext(ctx,
			`UPDATE sessions SET updated_at = updated_at WHERE id = ? AND status = ?`,
			sessionID, persistence.SessionStatusOpen)
		if err != nil {
			return mapError(err)
		}
		guarded, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if guarded == 0 {
			var status string
			err := tx.QueryRowContext(ctx, `SELECT status FROM sessions WHERE id = ?`, sessionID).Scan(&status)
			if err != nil {
				return mapError(err)
			}
			return persistence.ErrSessionClosed
		}

		current, err := recordStatuses(ctx, tx, sessionID)
		if err != nil {
			return err
		}

		var unknown []string
		for _, write := range writes {
			if _, ok := current[write.StudentID]; !ok {
				unknown = append(unknown, write.StudentID)
			}
		}
		if len(unknown) > 0 {
			return &persistence.UnknownStudentsError{StudentIDs: unknown}
		}

		stmt, err := tx.PrepareContext(ctx, `
			UPDATE attendance_records
			SET status = ?, marked_at = ?, marked_by = ?
			WHERE session_id = ? AND student_id = ? AND status <> ?`)
		if err != nil {
			return mapError(err)
		}
		defer stmt.Close()

		for _, write := range writes {
			result, err := stmt.ExecContext(ctx,
				write.Status,
				formatTime(markedAt),
				write.MarkedBy,
				sessionID,
				write.StudentID,
				write.Status,
			)
			if err != nil {
				return mapError(err)
			}
			n, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to get rows affected: %w", err)
			}
			changed += int(n)
		}

		if changed == 0 {
			return nil
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE sessions SET version = version + 1, updated_at = ? WHERE id = ?`,
			formatTime(markedAt), sessionID)
		return mapError(err)
	})
	if err != nil {
		return 0, err
	}
	return changed, nil
}

// ListRecordsBySession returns the records of a session ordered by student ID
func (r *RecordRepository) ListRecordsBySession(ctx context.Context, sessionID string) ([]persistence.AttendanceRecord, error) {
	rows, err := r.pool.DB().QueryContext(ctx, `
		SELECT session_id, student_id, status, marked_at, marked_by
		FROM attendance_records
		WHERE session_id = ?
		ORDER BY student_id ASC`, sessionID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	records := make([]persistence.AttendanceRecord, 0)
	for rows.Next() {
		var (
			record   persistence.AttendanceRecord
			markedAt string
		)
		if err := rows.Scan(&record.SessionID, &record.StudentID, &record.Status, &markedAt, &record.MarkedBy); err != nil {
			return nil, mapError(err)
		}
		if record.MarkedAt, err = parseTime(markedAt); err != nil {
			return nil, fmt.Errorf("failed to parse marked_at: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}

	return records, nil
}

func recordStatuses(ctx context.Context, tx *sql.Tx, sessionID string) (map[string]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT student_id, status FROM attendance_records WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	statuses := make(map[string]string)
	for rows.Next() {
		var studentID, status string
		if err := rows.Scan(&studentID, &status); err != nil {
			return nil, mapError(err)
		}
		statuses[studentID] = status
	}
	return statuses, mapError(rows.Err())
}
