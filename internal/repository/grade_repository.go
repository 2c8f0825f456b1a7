package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/opensis/registrar/internal/models"
)

// GradeRepository handles persistence of grade entries: component scores
// and the final letter row of each enrollment.
type GradeRepository struct {
	db *sqlx.DB
}

// NewGradeRepository constructs the repository.
func NewGradeRepository(db *sqlx.DB) *GradeRepository {
	return &GradeRepository{db: db}
}

// UpsertScore records a component score, overwriting on conflict so a
// second recording never duplicates the (enrollment, component) pair.
func (r *GradeRepository) UpsertScore(ctx context.Context, q Queryer, enrollmentID string, component models.GradeComponent, score float64) error {
	const query = `INSERT INTO grades (id, enrollment_id, component, score, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (enrollment_id, component)
DO UPDATE SET score = EXCLUDED.score, updated_at = EXCLUDED.updated_at`
	if _, err := q.ExecContext(ctx, query, uuid.NewString(), enrollmentID, component, score, time.Now().UTC()); err != nil {
		return fmt.Errorf("upsert score: %w", err)
	}
	return nil
}

// UpsertLetter records the final letter row (score null, letter set).
func (r *GradeRepository) UpsertLetter(ctx context.Context, q Queryer, enrollmentID, letter string) error {
	const query = `INSERT INTO grades (id, enrollment_id, component, letter, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (enrollment_id, component)
DO UPDATE SET letter = EXCLUDED.letter, updated_at = EXCLUDED.updated_at`
	if _, err := q.ExecContext(ctx, query, uuid.NewString(), enrollmentID, models.ComponentFinal, letter, time.Now().UTC()); err != nil {
		return fmt.Errorf("upsert letter: %w", err)
	}
	return nil
}

// ListByEnrollment returns every grade row of an enrollment.
func (r *GradeRepository) ListByEnrollment(ctx context.Context, enrollmentID string) ([]models.GradeEntry, error) {
	const query = `SELECT id, enrollment_id, component, score, letter, updated_at
FROM grades WHERE enrollment_id = $1 ORDER BY component ASC`
	var entries []models.GradeEntry
	if err := r.db.SelectContext(ctx, &entries, query, enrollmentID); err != nil {
		return nil, fmt.Errorf("list grades: %w", err)
	}
	return entries, nil
}

// ScoresByEnrollments returns component scores keyed by enrollment for a
// set of roster entries.
func (r *GradeRepository) ScoresByEnrollments(ctx context.Context, enrollmentIDs []string) (map[string]map[models.GradeComponent]*float64, error) {
	result := make(map[string]map[models.GradeComponent]*float64, len(enrollmentIDs))
	if len(enrollmentIDs) == 0 {
		return result, nil
	}
	query, args, err := sqlx.In(`SELECT id, enrollment_id, component, score, letter, updated_at
FROM grades WHERE enrollment_id IN (?) AND score IS NOT NULL`, enrollmentIDs)
	if err != nil {
		return nil, fmt.Errorf("build scores query: %w", err)
	}
	query = r.db.Rebind(query)
	var entries []models.GradeEntry
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("fetch scores: %w", err)
	}
	for _, entry := range entries {
		scores, ok := result[entry.EnrollmentID]
		if !ok {
			scores = make(map[models.GradeComponent]*float64, len(models.Components))
			result[entry.EnrollmentID] = scores
		}
		scores[entry.Component] = entry.Score
	}
	return result, nil
}
