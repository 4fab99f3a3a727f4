package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/example/attendance-engine/internal/persistence"
)

// CatalogRepository reads the course catalog tables maintained by the roster screens.
type CatalogRepository struct {
	pool *ConnectionPool
}

// NewCatalogRepository creates a new SQLite catalog repository
func NewCatalogRepository(pool *ConnectionPool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// GetCourse retrieves a course by ID
func (r *CatalogRepository) GetCourse(ctx context.Context, id string) (persistence.Course, error) {
	var course persistence.Course
	err := r.pool.DB().QueryRowContext(ctx, `
		SELECT id, name, subject, subject_code, department_id, department_name
		FROM courses WHERE id = ?`, id).Scan(
		&course.ID,
		&course.Name,
		&course.Subject,
		&course.SubjectCode,
		&course.DepartmentID,
		&course.DepartmentName,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.Course{}, persistence.ErrNotFound
		}
		return persistence.Course{}, mapError(err)
	}
	return course, nil
}

// ListEnrollments returns the enrolled student IDs of a course in enrollment order
func (r *CatalogRepository) ListEnrollments(ctx context.Context, courseID string) ([]string, error) {
	if _, err := r.GetCourse(ctx, courseID); err != nil {
		return nil, err
	}

	rows, err := r.pool.DB().QueryContext(ctx, `
		SELECT student_id FROM course_enrollments
		WHERE course_id = ?
		ORDER BY position ASC, student_id ASC`, courseID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	students := make([]string, 0)
	for rows.Next() {
		var studentID string
		if err := rows.Scan(&studentID); err != nil {
			return nil, mapError(err)
		}
		students = append(students, studentID)
	}
	return students, mapError(rows.Err())
}

// PutCourse replaces a course and its enrollment list. It backs seeding from a
// catalog file; the engine itself never writes the catalog.
func (r *CatalogRepository) PutCourse(ctx context.Context, course persistence.Course, studentIDs []string) error {
	return r.PutCourses(ctx, []persistence.CourseEntry{{Course: course, Students: studentIDs}})
}

// PutCourses replaces every listed course in a single transaction.
func (r *CatalogRepository) PutCourses(ctx context.Context, entries []persistence.CourseEntry) error {
	for _, entry := range entries {
		if entry.Course.ID == "" {
			return persistence.ErrConstraintViolation
		}
	}

	return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		for _, entry := range entries {
			if err := putCourseTx(ctx, tx, entry.Course, entry.Students); err != nil {
				return err
			}
		}
		return nil
	})
}

func putCourseTx(ctx context.Context, tx *sql.Tx, course persistence.Course, studentIDs []string) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO courses (id, name, subject, subject_code, department_id, department_name)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			subject = excluded.subject,
			subject_code = excluded.subject_code,
			department_id = excluded.department_id,
			department_name = excluded.department_name`,
		course.ID, course.Name, course.Subject, course.SubjectCode, course.DepartmentID, course.DepartmentName,
	); err != nil {
		return mapError(err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM course_enrollments WHERE course_id = ?`, course.ID); err != nil {
		return mapError(err)
	}

	for i, studentID := range studentIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO course_enrollments (course_id, student_id, position) VALUES (?, ?, ?)`,
			course.ID, studentID, i,
		); err != nil {
			return mapError(err)
		}
	}
	return nil
}
