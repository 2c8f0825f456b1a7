package models

import "time"

// GradeComponent names one of the four graded parts of a course.
type GradeComponent string

const (
	ComponentQuiz       GradeComponent = "Quiz"
	ComponentAssignment GradeComponent = "Assignment"
	ComponentMidterm    GradeComponent = "Midterm"
	ComponentEndterm    GradeComponent = "Endterm"

	// ComponentFinal marks the letter-grade row. It shares the grades
	// table with score rows: its score is null and its letter is set.
	ComponentFinal GradeComponent = "Final"
)

// Components lists the scored components in weight order.
var Components = []GradeComponent{ComponentQuiz, ComponentAssignment, ComponentMidterm, ComponentEndterm}

// ComponentWeights are the fixed final-grade weights.
var ComponentWeights = map[GradeComponent]float64{
	ComponentQuiz:       0.15,
	ComponentAssignment: 0.20,
	ComponentMidterm:    0.30,
	ComponentEndterm:    0.35,
}

// ValidComponent reports whether name is a scorable component.
func ValidComponent(name string) bool {
	switch GradeComponent(name) {
	case ComponentQuiz, ComponentAssignment, ComponentMidterm, ComponentEndterm:
		return true
	}
	return false
}

// GradeEntry is one row of the grades table: either a component score
// (Score set, Letter null) or the final letter (Score null, Letter set).
type GradeEntry struct {
	ID           string         `db:"id" json:"id"`
	EnrollmentID string         `db:"enrollment_id" json:"enrollment_id"`
	Component    GradeComponent `db:"component" json:"component"`
	Score        *float64       `db:"score" json:"score,omitempty"`
	Letter       *string        `db:"letter" json:"letter,omitempty"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updated_at"`
}

// LetterFor maps a weighted final score onto a letter band. Bands are
// closed at the lower bound; the highest matching band wins.
func LetterFor(final float64) string {
	switch {
	case final >= 90:
		return "A"
	case final >= 80:
		return "B"
	case final >= 70:
		return "C"
	case final >= 60:
		return "D"
	default:
		return "F"
	}
}
