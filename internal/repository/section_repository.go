package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/opensis/registrar/internal/models"
)

// SectionRepository handles persistence of course sections.
type SectionRepository struct {
	db *sqlx.DB
}

// NewSectionRepository constructs the repository.
func NewSectionRepository(db *sqlx.DB) *SectionRepository {
	return &SectionRepository{db: db}
}

// FindByID returns a section by its ID.
func (r *SectionRepository) FindByID(ctx context.Context, id string) (*models.Section, error) {
	const query = `SELECT id, course_code, instructor_id, day_time, room, capacity, semester, year
FROM sections WHERE id = $1`
	var section models.Section
	if err := r.db.GetContext(ctx, &section, query, id); err != nil {
		return nil, err
	}
	return &section, nil
}

// FindByIDForUpdate loads a section under a row lock. Registration holds
// this lock across the capacity check and insert so two concurrent
// registrations for the last seat serialise at the store.
func (r *SectionRepository) FindByIDForUpdate(ctx context.Context, q Queryer, id string) (*models.Section, error) {
	const query = `SELECT id, course_code, instructor_id, day_time, room, capacity, semester, year
FROM sections WHERE id = $1 FOR UPDATE`
	var section models.Section
	if err := sqlx.GetContext(ctx, q, &section, query, id); err != nil {
		return nil, err
	}
	return &section, nil
}

// List returns the section catalog for a semester and year.
func (r *SectionRepository) List(ctx context.Context, semester string, year int) ([]models.Section, error) {
	const query = `SELECT id, course_code, instructor_id, day_time, room, capacity, semester, year
FROM sections WHERE semester = $1 AND year = $2 ORDER BY course_code ASC`
	var sections []models.Section
	if err := r.db.SelectContext(ctx, &sections, query, semester, year); err != nil {
		return nil, fmt.Errorf("list sections: %w", err)
	}
	return sections, nil
}
