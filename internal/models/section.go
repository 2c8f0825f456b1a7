package models

// Section is one scheduled offering of a course. Capacity is immutable
// business data; the enrolled count is always derived from enrollments in
// status Registered, never stored redundantly.
type Section struct {
	ID           string `db:"id" json:"id"`
	CourseCode   string `db:"course_code" json:"course_code"`
	InstructorID string `db:"instructor_id" json:"instructor_id"`
	DayTime      string `db:"day_time" json:"day_time"`
	Room         string `db:"room" json:"room"`
	Capacity     int    `db:"capacity" json:"capacity"`
	Semester     string `db:"semester" json:"semester"`
	Year         int    `db:"year" json:"year"`
}

// SectionSchedule is the slice of a section needed for conflict checks.
type SectionSchedule struct {
	SectionID string `db:"section_id" json:"section_id"`
	DayTime   string `db:"day_time" json:"day_time"`
}
