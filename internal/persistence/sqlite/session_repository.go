package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/example/attendance-engine/internal/persistence"
)

const sessionColumns = `
	id, course_id, teacher_id, department_id, course_name, subject, subject_code, department_name,
	lecture_date, lecture_number, status, version, total_students, present, absent, closed_at,
	created_at, updated_at`

// SessionRepository implements persistence.SessionRepository using SQLite
type SessionRepository struct {
	pool *ConnectionPool
}

// NewSessionRepository creates a new SQLite session repository
func NewSessionRepository(pool *ConnectionPool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// CreateSession inserts an OPEN session and its seeded records in one transaction
func (r *SessionRepository) CreateSession(ctx context.Context, session persistence.Session, records []persistence.AttendanceRecord) error {
	if session.ID == "" || session.CourseID == "" || session.TeacherID == "" {
		return persistence.ErrConstraintViolation
	}

	return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (
				id, course_id, teacher_id, department_id, course_name, subject, subject_code, department_name,
				lecture_date, lecture_number, status, version, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			session.ID,
			session.CourseID,
			session.TeacherID,
			session.DepartmentID,
			session.CourseName,
			session.Subject,
			session.SubjectCode,
			session.DepartmentName,
			session.LectureDate.Format(dateLayout),
			session.LectureNumber,
			persistence.SessionStatusOpen,
			session.Version,
			formatTime(session.CreatedAt),
			formatTime(session.UpdatedAt),
		)
		if err != nil {
			return mapError(err)
		}

		if len(records) == 0 {
			return nil
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO attendance_records (session_id, student_id, status, marked_at, marked_by)
			VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return mapError(err)
		}
		defer stmt.Close()

		for _, record := range records {
			if record.SessionID != session.ID {
				return persistence.ErrConstraintViolation
			}
			if _, err := stmt.ExecContext(ctx,
				record.SessionID,
				record.StudentID,
				record.Status,
				formatTime(record.MarkedAt),
				record.MarkedBy,
			); err != nil {
				return mapError(err)
			}
		}
		return nil
	})
}

// GetSession retrieves a session by ID
func (r *SessionRepository) GetSession(ctx context.Context, id string) (persistence.Session, error) {
	if id == "" {
		return persistence.Session{}, persistence.ErrNotFound
	}

	row := r.pool.DB().QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	session, err := scanSession(row)
	if err != nil {
		return persistence.Session{}, err
	}
	return session, nil
}

// CloseSession moves an OPEN session at expectedVersion to CLOSED with its aggregate
func (r *SessionRepository) CloseSession(ctx context.Context, id string, expectedVersion int64, aggregate persistence.Aggregate, closedAt time.Time) (persistence.Session, error) {
	var closed persistence.Session

	err := r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE sessions
			SET status = ?, version = version + 1, total_students = ?, present = ?, absent = ?,
				closed_at = ?, updated_at = ?
			WHERE id = ? AND status = ? AND version = ?`,
			persistence.SessionStatusClosed,
			aggregate.TotalStudents,
			aggregate.Present,
			aggregate.Absent,
			formatTime(closedAt),
			formatTime(closedAt),
			id,
			persistence.SessionStatusOpen,
			expectedVersion,
		)
		if err != nil {
			return mapError(err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}

		session, err := scanSession(tx.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
		if err != nil {
			return err
		}

		if rowsAffected == 0 {
			if session.Status != persistence.SessionStatusOpen {
				return persistence.ErrAlreadyClosed
			}
			return persistence.ErrVersionConflict
		}

		closed = session
		return nil
	})
	if err != nil {
		return persistence.Session{}, err
	}
	return closed, nil
}

// ListSessionsByTeacher returns sessions owned by teacherID, newest lecture first
func (r *SessionRepository) ListSessionsByTeacher(ctx context.Context, teacherID string) ([]persistence.Session, error) {
	return r.listSessions(ctx, `teacher_id = ?`, teacherID)
}

// ListSessionsByDepartment returns sessions of departmentID, newest lecture first
func (r *SessionRepository) ListSessionsByDepartment(ctx context.Context, departmentID string) ([]persistence.Session, error) {
	return r.listSessions(ctx, `department_id = ?`, departmentID)
}

func (r *SessionRepository) listSessions(ctx context.Context, where string, arg string) ([]persistence.Session, error) {
	rows, err := r.pool.DB().QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE `+where+`
		ORDER BY lecture_date DESC, lecture_number DESC, id ASC`, arg)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	sessions := make([]persistence.Session, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}

	return sessions, nil
}

func scanSession(row rowScanner) (persistence.Session, error) {
	var (
		session                         persistence.Session
		lectureDate, createdAt, updated string
		total, present, absent          sql.NullInt64
		closedAt                        sql.NullString
	)

	err := row.Scan(
		&session.ID,
		&session.CourseID,
		&session.TeacherID,
		&session.DepartmentID,
		&session.CourseName,
		&session.Subject,
		&session.SubjectCode,
		&session.DepartmentName,
		&lectureDate,
		&session.LectureNumber,
		&session.Status,
		&session.Version,
		&total,
		&present,
		&absent,
		&closedAt,
		&createdAt,
		&updated,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.Session{}, persistence.ErrNotFound
		}
		return persistence.Session{}, mapError(err)
	}

	if session.LectureDate, err = time.Parse(dateLayout, lectureDate); err != nil {
		return persistence.Session{}, fmt.Errorf("failed to parse lecture_date: %w", err)
	}
	if session.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.Session{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if session.UpdatedAt, err = parseTime(updated); err != nil {
		return persistence.Session{}, fmt.Errorf("failed to parse updated_at: %w", err)
	}

	if total.Valid {
		session.Aggregate = &persistence.Aggregate{
			TotalStudents: int(total.Int64),
			Present:       int(present.Int64),
			Absent:        int(absent.Int64),
		}
	}
	if closedAt.Valid {
		t, err := parseTime(closedAt.String)
		if err != nil {
			return persistence.Session{}, fmt.Errorf("failed to parse closed_at: %w", err)
		}
		session.ClosedAt = &t
	}

	return session, nil
}
