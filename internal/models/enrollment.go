package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusRegistered EnrollmentStatus = "Registered"
	EnrollmentStatusDropped    EnrollmentStatus = "Dropped"
	EnrollmentStatusCompleted  EnrollmentStatus = "Completed"
)

// Enrollment captures a student's registration to a section.
type Enrollment struct {
	ID        string           `db:"id" json:"id"`
	StudentID string           `db:"student_id" json:"student_id"`
	SectionID string           `db:"section_id" json:"section_id"`
	Status    EnrollmentStatus `db:"status" json:"status"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt time.Time        `db:"updated_at" json:"updated_at"`
}

// EnrollmentDetail enriches Enrollment with section info for display
// and transcript rendering.
type EnrollmentDetail struct {
	Enrollment
	CourseCode string  `db:"course_code" json:"course_code"`
	Semester   string  `db:"semester" json:"semester"`
	Year       int     `db:"year" json:"year"`
	Letter     *string `db:"letter" json:"letter,omitempty"`
}
