package service

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensis/registrar/internal/models"
	"github.com/opensis/registrar/internal/repository"
	apperrors "github.com/opensis/registrar/pkg/errors"
	"github.com/opensis/registrar/pkg/jobs"
)

type mockGradeStore struct {
	scores  map[string]map[models.GradeComponent]float64
	letters map[string]string
}

func newMockGradeStore() *mockGradeStore {
	return &mockGradeStore{
		scores:  make(map[string]map[models.GradeComponent]float64),
		letters: make(map[string]string),
	}
}

func (m *mockGradeStore) UpsertScore(ctx context.Context, q repository.Queryer, enrollmentID string, component models.GradeComponent, score float64) error {
	if m.scores[enrollmentID] == nil {
		m.scores[enrollmentID] = make(map[models.GradeComponent]float64)
	}
	m.scores[enrollmentID][component] = score
	return nil
}

func (m *mockGradeStore) UpsertLetter(ctx context.Context, q repository.Queryer, enrollmentID, letter string) error {
	m.letters[enrollmentID] = letter
	return nil
}

func (m *mockGradeStore) ListByEnrollment(ctx context.Context, enrollmentID string) ([]models.GradeEntry, error) {
	var entries []models.GradeEntry
	for component, score := range m.scores[enrollmentID] {
		s := score
		entries = append(entries, models.GradeEntry{EnrollmentID: enrollmentID, Component: component, Score: &s})
	}
	if letter, ok := m.letters[enrollmentID]; ok {
		l := letter
		entries = append(entries, models.GradeEntry{EnrollmentID: enrollmentID, Component: models.ComponentFinal, Letter: &l})
	}
	return entries, nil
}

func (m *mockGradeStore) ScoresByEnrollments(ctx context.Context, enrollmentIDs []string) (map[string]map[models.GradeComponent]*float64, error) {
	out := make(map[string]map[models.GradeComponent]*float64)
	for _, id := range enrollmentIDs {
		for component, score := range m.scores[id] {
			if out[id] == nil {
				out[id] = make(map[models.GradeComponent]*float64)
			}
			s := score
			out[id][component] = &s
		}
	}
	return out, nil
}

type mockGradeEnrollmentStore struct {
	enrollments map[string]models.Enrollment
	roster      map[string][]models.Enrollment
	details     map[string][]models.EnrollmentDetail
	completed   []string
}

func newMockGradeEnrollmentStore() *mockGradeEnrollmentStore {
	return &mockGradeEnrollmentStore{
		enrollments: make(map[string]models.Enrollment),
		roster:      make(map[string][]models.Enrollment),
		details:     make(map[string][]models.EnrollmentDetail),
	}
}

func (m *mockGradeEnrollmentStore) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	if e, ok := m.enrollments[id]; ok {
		return &e, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockGradeEnrollmentStore) ListBySection(ctx context.Context, sectionID string) ([]models.Enrollment, error) {
	return m.roster[sectionID], nil
}

func (m *mockGradeEnrollmentStore) MarkCompleted(ctx context.Context, q repository.Queryer, id string) error {
	m.completed = append(m.completed, id)
	return nil
}

func (m *mockGradeEnrollmentStore) ListDetailsByStudent(ctx context.Context, studentID string) ([]models.EnrollmentDetail, error) {
	return m.details[studentID], nil
}

type mockAuditQueue struct {
	jobs []jobs.Job
	err  error
}

func (m *mockAuditQueue) Enqueue(job jobs.Job) error {
	if m.err != nil {
		return m.err
	}
	m.jobs = append(m.jobs, job)
	return nil
}

func gradingFixture(t *testing.T) (*GradingService, *mockGradeStore, *mockGradeEnrollmentStore, *mockAuditQueue, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newTxDB(t)
	grades := newMockGradeStore()
	enrollments := newMockGradeEnrollmentStore()
	enrollments.enrollments["e-1"] = models.Enrollment{ID: "e-1", StudentID: "stu-1", SectionID: "sec-1", Status: models.EnrollmentStatusRegistered}
	audits := &mockAuditQueue{}
	svc := NewGradingService(db, grades, enrollments, nil, audits, nil)
	return svc, grades, enrollments, audits, mock
}

func TestRecordScore(t *testing.T) {
	svc, grades, _, _, _ := gradingFixture(t)

	require.NoError(t, svc.RecordScore(context.Background(), "e-1", "Quiz", 87.5))
	assert.Equal(t, 87.5, grades.scores["e-1"][models.ComponentQuiz])
}

func TestRecordScoreUnknownComponent(t *testing.T) {
	svc, _, _, _, _ := gradingFixture(t)

	err := svc.RecordScore(context.Background(), "e-1", "Final", 50)
	assert.True(t, apperrors.Is(err, apperrors.CodeMalformedRequest), "the letter row is not directly writable")

	err = svc.RecordScore(context.Background(), "e-1", "Participation", 50)
	assert.True(t, apperrors.Is(err, apperrors.CodeMalformedRequest))
}

func TestRecordScoreOutOfRange(t *testing.T) {
	svc, _, _, _, _ := gradingFixture(t)

	for _, score := range []float64{-0.5, 100.5} {
		err := svc.RecordScore(context.Background(), "e-1", "Quiz", score)
		assert.True(t, apperrors.Is(err, apperrors.CodeInvalidScore))
	}
	assert.NoError(t, svc.RecordScore(context.Background(), "e-1", "Quiz", 0))
	assert.NoError(t, svc.RecordScore(context.Background(), "e-1", "Quiz", 100))
}

func TestRecordScoreUnknownEnrollment(t *testing.T) {
	svc, _, _, _, _ := gradingFixture(t)

	err := svc.RecordScore(context.Background(), "missing", "Quiz", 50)
	assert.True(t, apperrors.Is(err, apperrors.CodeNotFound))
}

func TestComputeFinalGradeWeights(t *testing.T) {
	svc, grades, enrollments, _, mock := gradingFixture(t)
	grades.scores["e-1"] = map[models.GradeComponent]float64{
		models.ComponentQuiz:       80,
		models.ComponentAssignment: 90,
		models.ComponentMidterm:    70,
		models.ComponentEndterm:    60,
	}
	mock.ExpectBegin()
	mock.ExpectCommit()

	// 80*.15 + 90*.20 + 70*.30 + 60*.35 = 72.0
	letter, err := svc.ComputeFinalGrade(context.Background(), "e-1")
	require.NoError(t, err)
	assert.Equal(t, "C", letter)
	assert.Equal(t, "C", grades.letters["e-1"])
	assert.Equal(t, []string{"e-1"}, enrollments.completed)
}

func TestComputeFinalGradeMissingComponentsCountAsZero(t *testing.T) {
	svc, grades, _, _, mock := gradingFixture(t)
	grades.scores["e-1"] = map[models.GradeComponent]float64{
		models.ComponentMidterm: 100,
	}
	mock.ExpectBegin()
	mock.ExpectCommit()

	letter, err := svc.ComputeFinalGrade(context.Background(), "e-1")
	require.NoError(t, err)
	assert.Equal(t, "F", letter)
}

func TestComputeFinalGradeRecompute(t *testing.T) {
	svc, grades, enrollments, _, mock := gradingFixture(t)
	grades.scores["e-1"] = map[models.GradeComponent]float64{
		models.ComponentQuiz:       100,
		models.ComponentAssignment: 100,
		models.ComponentMidterm:    100,
		models.ComponentEndterm:    100,
	}
	mock.ExpectBegin()
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectCommit()

	letter, err := svc.ComputeFinalGrade(context.Background(), "e-1")
	require.NoError(t, err)
	assert.Equal(t, "A", letter)

	// Finalising again recomputes and overwrites without complaint.
	grades.scores["e-1"][models.ComponentEndterm] = 0
	letter, err = svc.ComputeFinalGrade(context.Background(), "e-1")
	require.NoError(t, err)
	assert.Equal(t, "D", letter)
	assert.Equal(t, []string{"e-1", "e-1"}, enrollments.completed)
}

func TestViewGrades(t *testing.T) {
	svc, grades, _, _, _ := gradingFixture(t)
	grades.scores["e-1"] = map[models.GradeComponent]float64{models.ComponentQuiz: 88}
	grades.letters["e-1"] = "B"

	view, err := svc.ViewGrades(context.Background(), "e-1")
	require.NoError(t, err)
	assert.Equal(t, "e-1", view.EnrollmentID)
	assert.Equal(t, 88.0, view.Scores["Quiz"])
	require.NotNil(t, view.Letter)
	assert.Equal(t, "B", *view.Letter)
}

func TestExportCSV(t *testing.T) {
	svc, grades, enrollments, _, _ := gradingFixture(t)
	enrollments.roster["sec-1"] = []models.Enrollment{
		{ID: "e-1", SectionID: "sec-1"},
		{ID: "e-2", SectionID: "sec-1"},
	}
	grades.scores["e-1"] = map[models.GradeComponent]float64{
		models.ComponentQuiz:    90.5,
		models.ComponentMidterm: 70,
	}

	filename, data, err := svc.ExportCSV(context.Background(), "sec-1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(filename, "grades_sec-1_"))
	assert.True(t, strings.HasSuffix(filename, ".csv"))

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "enrollment_id,quiz,assignment,midterm,endterm", lines[0])
	assert.Equal(t, "e-1,90.5,,70,", lines[1])
	assert.Equal(t, "e-2,,,,", lines[2])
}

func TestImportCSVCommits(t *testing.T) {
	svc, grades, enrollments, audits, mock := gradingFixture(t)
	enrollments.roster["sec-1"] = []models.Enrollment{{ID: "e-1"}, {ID: "e-2"}}
	mock.ExpectBegin()
	mock.ExpectCommit()

	sheet := strings.Join([]string{
		"enrollment_id,quiz,assignment,midterm,endterm",
		"e-1,90,85,,70",
		"",
		"e-2,100,,,",
	}, "\n")

	summary, err := svc.ImportCSV(context.Background(), "ins-1", "sec-1", []byte(sheet))
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Rows)
	assert.Equal(t, 4, summary.Scores)
	assert.NotEmpty(t, summary.Hash)
	assert.Equal(t, "imported 2 rows (4 scores)", summary.String())

	assert.Equal(t, 90.0, grades.scores["e-1"][models.ComponentQuiz])
	assert.Equal(t, 100.0, grades.scores["e-2"][models.ComponentQuiz])
	_, midtermSet := grades.scores["e-1"][models.ComponentMidterm]
	assert.False(t, midtermSet, "blank cells leave the component untouched")

	require.Len(t, audits.jobs, 1)
	assert.Equal(t, models.AuditActionGradesImport, audits.jobs[0].Type)
}

func TestImportCSVRejectsWholeSheet(t *testing.T) {
	svc, grades, enrollments, _, _ := gradingFixture(t)
	enrollments.roster["sec-1"] = []models.Enrollment{{ID: "e-1"}}

	sheet := strings.Join([]string{
		"enrollment_id,quiz,assignment,midterm,endterm",
		"e-1,90,,,",
		"e-9,80,,,",
		"e-1,abc,,,",
		"e-1,105,,,",
	}, "\n")

	_, err := svc.ImportCSV(context.Background(), "ins-1", "sec-1", []byte(sheet))
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CodeMalformedRequest))

	// Every row error is reported, not just the first.
	msg := err.Error()
	assert.Contains(t, msg, "not in section")
	assert.Contains(t, msg, `bad quiz score "abc"`)
	assert.Contains(t, msg, "out of range")

	// And no score was written, valid rows included.
	assert.Empty(t, grades.scores)
}

func TestExportImportRoundTripIsNoOp(t *testing.T) {
	svc, grades, enrollments, _, mock := gradingFixture(t)
	enrollments.roster["sec-1"] = []models.Enrollment{{ID: "e-1"}, {ID: "e-2"}}
	grades.scores["e-1"] = map[models.GradeComponent]float64{
		models.ComponentQuiz:    90.5,
		models.ComponentEndterm: 72,
	}
	grades.scores["e-2"] = map[models.GradeComponent]float64{
		models.ComponentMidterm: 64.25,
	}
	mock.ExpectBegin()
	mock.ExpectCommit()

	_, data, err := svc.ExportCSV(context.Background(), "sec-1")
	require.NoError(t, err)

	before := map[string]map[models.GradeComponent]float64{
		"e-1": {models.ComponentQuiz: 90.5, models.ComponentEndterm: 72},
		"e-2": {models.ComponentMidterm: 64.25},
	}

	_, err = svc.ImportCSV(context.Background(), "ins-1", "sec-1", data)
	require.NoError(t, err)
	assert.Equal(t, before, grades.scores)
}

func TestImportCSVAuditFailureDoesNotFailImport(t *testing.T) {
	svc, _, enrollments, audits, mock := gradingFixture(t)
	enrollments.roster["sec-1"] = []models.Enrollment{{ID: "e-1"}}
	audits.err = assert.AnError
	mock.ExpectBegin()
	mock.ExpectCommit()

	_, err := svc.ImportCSV(context.Background(), "ins-1", "sec-1", []byte("enrollment_id,quiz\ne-1,90\n"))
	assert.NoError(t, err)
}

func TestTranscript(t *testing.T) {
	svc, _, enrollments, _, _ := gradingFixture(t)
	letter := "B"
	enrollments.details["stu-1"] = []models.EnrollmentDetail{
		{
			Enrollment: models.Enrollment{ID: "e-1", StudentID: "stu-1", Status: models.EnrollmentStatusCompleted},
			CourseCode: "CS101",
			Semester:   "Fall",
			Year:       2026,
			Letter:     &letter,
		},
	}

	filename, data, err := svc.Transcript(context.Background(), "stu-1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(filename, "transcript_stu-1_"))
	assert.True(t, strings.HasSuffix(filename, ".pdf"))
	assert.True(t, strings.HasPrefix(string(data), "%PDF"))
}
