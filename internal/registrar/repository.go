// Package registrar is a Postgres-backed implementation of the
// enrollment package's collaborator interfaces. The registrar system of
// record (course catalog, student records) is out of scope for this
// engine; this package only reads the two read-model tables a companion
// sync job keeps current in the same database the event store uses.
package registrar

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/campusforge/enrollment-engine/internal/enrollment"
)

// Repository implements enrollment.SectionCollaborator and
// enrollment.StudentProfileCollaborator by reading the sections and
// student_profiles tables.
type Repository struct {
	db *sql.DB
}

// NewRepository wraps db. db is never written to by this package.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// GetSection implements enrollment.SectionCollaborator.
func (r *Repository) GetSection(ctx context.Context, sectionID string) (enrollment.SectionView, error) {
	var view enrollment.SectionView
	var days, starts, ends pq.Int64Array
	var prereqs pq.StringArray

	err := r.db.QueryRowContext(ctx,
		`SELECT section_id, course_id, days, starts, ends, max_capacity, max_waitlist,
		        instructor_id, add_drop_deadline, semester, prerequisites, min_standing, credits
		 FROM sections WHERE section_id = $1`,
		sectionID,
	).Scan(&view.SectionID, &view.CourseID, &days, &starts, &ends, &view.MaxCapacity,
		&view.MaxWaitlist, &view.InstructorID, &view.AddDropDeadline, &view.Semester,
		&prereqs, &view.MinStanding, &view.Credits)

	if errors.Is(err, sql.ErrNoRows) {
		return enrollment.SectionView{}, enrollment.ErrNotFound
	}
	if err != nil {
		return enrollment.SectionView{}, fmt.Errorf("registrar: get section %s: %w", sectionID, err)
	}

	view.Prerequisites = []string(prereqs)
	view.Schedule = make([]enrollment.SectionTimeSlot, len(days))
	for i := range days {
		view.Schedule[i] = enrollment.SectionTimeSlot{Day: int(days[i]), Start: int(starts[i]), End: int(ends[i])}
	}
	return view, nil
}

// GetStudentProfile implements enrollment.StudentProfileCollaborator.
func (r *Repository) GetStudentProfile(ctx context.Context, studentID string) (enrollment.StudentProfileView, error) {
	var view enrollment.StudentProfileView
	var completed pq.StringArray

	err := r.db.QueryRowContext(ctx,
		`SELECT student_id, completed_courses, gpa, standing, priority_window_open_at, credit_cap
		 FROM student_profiles WHERE student_id = $1`,
		studentID,
	).Scan(&view.StudentID, &completed, &view.GPA, &view.Standing, &view.PriorityWindowOpenAt, &view.CreditCap)

	if errors.Is(err, sql.ErrNoRows) {
		return enrollment.StudentProfileView{}, enrollment.ErrNotFound
	}
	if err != nil {
		return enrollment.StudentProfileView{}, fmt.Errorf("registrar: get student profile %s: %w", studentID, err)
	}

	view.CompletedCourses = []string(completed)
	return view, nil
}

// ListSectionIDs implements enrollment.SectionLister for the reconciler.
func (r *Repository) ListSectionIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT section_id FROM sections`)
	if err != nil {
		return nil, fmt.Errorf("registrar: list sections: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListStudentIDs implements enrollment.StudentLister for the reconciler.
func (r *Repository) ListStudentIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT student_id FROM student_profiles`)
	if err != nil {
		return nil, fmt.Errorf("registrar: list students: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
