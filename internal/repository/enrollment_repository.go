package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/opensis/registrar/internal/models"
)

// EnrollmentRepository handles persistence of enrollments.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	const query = `SELECT id, student_id, section_id, status, created_at, updated_at FROM enrollments WHERE id = $1`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// CountRegistered returns the derived enrolled count for a section.
func (r *EnrollmentRepository) CountRegistered(ctx context.Context, q Queryer, sectionID string) (int, error) {
	const query = `SELECT COUNT(*) FROM enrollments WHERE section_id = $1 AND status = $2`
	var count int
	if err := sqlx.GetContext(ctx, q, &count, query, sectionID, models.EnrollmentStatusRegistered); err != nil {
		return 0, fmt.Errorf("count registered: %w", err)
	}
	return count, nil
}

// ExistsRegistered checks for an active registration of the pair.
func (r *EnrollmentRepository) ExistsRegistered(ctx context.Context, q Queryer, studentID, sectionID string) (bool, error) {
	const query = `SELECT COUNT(*) FROM enrollments WHERE student_id = $1 AND section_id = $2 AND status = $3`
	var count int
	if err := sqlx.GetContext(ctx, q, &count, query, studentID, sectionID, models.EnrollmentStatusRegistered); err != nil {
		return false, fmt.Errorf("check registration: %w", err)
	}
	return count > 0, nil
}

// ListRegisteredSchedules returns the day/time of every section the
// student is currently registered in, for conflict checking.
func (r *EnrollmentRepository) ListRegisteredSchedules(ctx context.Context, q Queryer, studentID string) ([]models.SectionSchedule, error) {
	const query = `SELECT s.id AS section_id, s.day_time
FROM enrollments e JOIN sections s ON s.id = e.section_id
WHERE e.student_id = $1 AND e.status = $2`
	var schedules []models.SectionSchedule
	if err := sqlx.SelectContext(ctx, q, &schedules, query, studentID, models.EnrollmentStatusRegistered); err != nil {
		return nil, fmt.Errorf("list registered schedules: %w", err)
	}
	return schedules, nil
}

// Create persists a new enrollment record.
func (r *EnrollmentRepository) Create(ctx context.Context, q Queryer, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if enrollment.CreatedAt.IsZero() {
		enrollment.CreatedAt = now
	}
	enrollment.UpdatedAt = now
	if enrollment.Status == "" {
		enrollment.Status = models.EnrollmentStatusRegistered
	}
	const query = `INSERT INTO enrollments (id, student_id, section_id, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := q.ExecContext(ctx, query, enrollment.ID, enrollment.StudentID, enrollment.SectionID,
		enrollment.Status, enrollment.CreatedAt, enrollment.UpdatedAt); err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// MarkDropped conditionally transitions Registered -> Dropped and reports
// how many rows matched. Zero rows means there was nothing to drop; the
// caller cannot tell "already dropped" from "never registered".
func (r *EnrollmentRepository) MarkDropped(ctx context.Context, studentID, sectionID string) (int64, error) {
	const query = `UPDATE enrollments SET status = $3, updated_at = $4
WHERE student_id = $1 AND section_id = $2 AND status = $5`
	res, err := r.db.ExecContext(ctx, query, studentID, sectionID,
		models.EnrollmentStatusDropped, time.Now().UTC(), models.EnrollmentStatusRegistered)
	if err != nil {
		return 0, fmt.Errorf("drop enrollment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("drop enrollment rows: %w", err)
	}
	return affected, nil
}

// MarkCompleted transitions an enrollment to Completed as part of the
// final-grade transaction.
func (r *EnrollmentRepository) MarkCompleted(ctx context.Context, q Queryer, id string) error {
	const query = `UPDATE enrollments SET status = $2, updated_at = $3 WHERE id = $1`
	if _, err := q.ExecContext(ctx, query, id, models.EnrollmentStatusCompleted, time.Now().UTC()); err != nil {
		return fmt.Errorf("complete enrollment: %w", err)
	}
	return nil
}

// ListBySection returns every enrollment of a section that carries grades,
// i.e. Registered or Completed ones, in roster order.
func (r *EnrollmentRepository) ListBySection(ctx context.Context, sectionID string) ([]models.Enrollment, error) {
	const query = `SELECT id, student_id, section_id, status, created_at, updated_at
FROM enrollments WHERE section_id = $1 AND status IN ($2, $3) ORDER BY created_at ASC`
	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, sectionID,
		models.EnrollmentStatusRegistered, models.EnrollmentStatusCompleted); err != nil {
		return nil, fmt.Errorf("list section enrollments: %w", err)
	}
	return enrollments, nil
}

// ListDetailsByStudent returns a student's enrollments joined with
// section info and the final letter where one exists.
func (r *EnrollmentRepository) ListDetailsByStudent(ctx context.Context, studentID string) ([]models.EnrollmentDetail, error) {
	const query = `SELECT e.id, e.student_id, e.section_id, e.status, e.created_at, e.updated_at,
s.course_code, s.semester, s.year, g.letter
FROM enrollments e
JOIN sections s ON s.id = e.section_id
LEFT JOIN grades g ON g.enrollment_id = e.id AND g.component = $2
WHERE e.student_id = $1 ORDER BY s.year ASC, s.semester ASC, s.course_code ASC`
	var details []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &details, query, studentID, models.ComponentFinal); err != nil {
		return nil, fmt.Errorf("list student enrollments: %w", err)
	}
	return details, nil
}

// InstructorOf resolves enrollment -> section -> instructor.
func (r *EnrollmentRepository) InstructorOf(ctx context.Context, enrollmentID string) (string, error) {
	const query = `SELECT s.instructor_id FROM enrollments e JOIN sections s ON s.id = e.section_id WHERE e.id = $1`
	var instructorID string
	if err := r.db.GetContext(ctx, &instructorID, query, enrollmentID); err != nil {
		return "", err
	}
	return instructorID, nil
}
