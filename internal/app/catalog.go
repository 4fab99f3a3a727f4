package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/example/attendance-engine/internal/persistence"
)

type catalogFile struct {
	Courses []catalogCourse `json:"courses"`
}

type catalogCourse struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Subject        string   `json:"subject"`
	SubjectCode    string   `json:"subject_code"`
	DepartmentID   string   `json:"department_id"`
	DepartmentName string   `json:"department_name"`
	Students       []string `json:"students"`
}

// LoadCatalogFile reads a JSON course catalog and writes every course into writer
// as one batch. Nothing is written when any course is invalid. It returns the
// number of courses loaded.
func LoadCatalogFile(ctx context.Context, path string, writer persistence.CatalogWriter) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("app: read catalog: %w", err)
	}

	var file catalogFile
	if err := json.Unmarshal(data, &file); err != nil {
		return 0, fmt.Errorf("app: parse catalog %s: %w", path, err)
	}

	entries := make([]persistence.CourseEntry, 0, len(file.Courses))
	for i, course := range file.Courses {
		id := strings.TrimSpace(course.ID)
		if id == "" {
			return 0, fmt.Errorf("app: catalog course #%d has no id", i+1)
		}
		entries = append(entries, persistence.CourseEntry{
			Course: persistence.Course{
				ID:             id,
				Name:           course.Name,
				Subject:        course.Subject,
				SubjectCode:    course.SubjectCode,
				DepartmentID:   course.DepartmentID,
				DepartmentName: course.DepartmentName,
			},
			Students: course.Students,
		})
	}

	if err := writer.PutCourses(ctx, entries); err != nil {
		return 0, fmt.Errorf("app: load catalog %s: %w", path, err)
	}
	return len(entries), nil
}
