package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/opensis/registrar/internal/models"
	"github.com/opensis/registrar/internal/repository"
	"github.com/opensis/registrar/pkg/database"
	apperrors "github.com/opensis/registrar/pkg/errors"
)

type sectionStore interface {
	FindByIDForUpdate(ctx context.Context, q repository.Queryer, id string) (*models.Section, error)
	List(ctx context.Context, semester string, year int) ([]models.Section, error)
}

type enrollmentStore interface {
	CountRegistered(ctx context.Context, q repository.Queryer, sectionID string) (int, error)
	ExistsRegistered(ctx context.Context, q repository.Queryer, studentID, sectionID string) (bool, error)
	ListRegisteredSchedules(ctx context.Context, q repository.Queryer, studentID string) ([]models.SectionSchedule, error)
	Create(ctx context.Context, q repository.Queryer, enrollment *models.Enrollment) error
	MarkDropped(ctx context.Context, studentID, sectionID string) (int64, error)
}

// EnrollmentService owns the enrollment lifecycle: registration with
// capacity, duplicate and conflict rules, and deadline-bounded drops.
type EnrollmentService struct {
	db           *sqlx.DB
	sections     sectionStore
	enrollments  enrollmentStore
	conflicts    ConflictChecker
	dropDeadline time.Time
	logger       *zap.Logger
	now          func() time.Time
}

// NewEnrollmentService constructs EnrollmentService. A zero dropDeadline
// disables the deadline rule.
func NewEnrollmentService(db *sqlx.DB, sections sectionStore, enrollments enrollmentStore, conflicts ConflictChecker, dropDeadline time.Time, logger *zap.Logger) *EnrollmentService {
	if conflicts == nil {
		conflicts = ExactConflictChecker
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{
		db:           db,
		sections:     sections,
		enrollments:  enrollments,
		conflicts:    conflicts,
		dropDeadline: dropDeadline,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Register creates a Registered enrollment for the pair. The capacity
// check, duplicate check, conflict check and insert all run inside one
// transaction holding the section row lock, so concurrent registrations
// for the last seat serialise at the store and count(Registered) can
// never exceed capacity.
func (s *EnrollmentService) Register(ctx context.Context, studentID, sectionID string) (*models.Enrollment, error) {
	if studentID == "" || sectionID == "" {
		return nil, apperrors.Clone(apperrors.ErrMalformedRequest, "student and section required")
	}

	enrollment := &models.Enrollment{StudentID: studentID, SectionID: sectionID}
	err := database.WithinTx(ctx, s.db, func(tx *sqlx.Tx) error {
		section, err := s.sections.FindByIDForUpdate(ctx, tx, sectionID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperrors.Clone(apperrors.ErrNotFound, "section not found")
			}
			return apperrors.Wrap(err, apperrors.CodeStore, "failed to lock section")
		}

		registered, err := s.enrollments.CountRegistered(ctx, tx, sectionID)
		if err != nil {
			return apperrors.Wrap(err, apperrors.CodeStore, "failed to count registrations")
		}
		if registered >= section.Capacity {
			return apperrors.Clone(apperrors.ErrCapacityExceeded,
				fmt.Sprintf("section %s is full (%d/%d)", section.CourseCode, registered, section.Capacity))
		}

		exists, err := s.enrollments.ExistsRegistered(ctx, tx, studentID, sectionID)
		if err != nil {
			return apperrors.Wrap(err, apperrors.CodeStore, "failed to check existing registration")
		}
		if exists {
			return apperrors.Clone(apperrors.ErrAlreadyRegistered, "")
		}

		schedules, err := s.enrollments.ListRegisteredSchedules(ctx, tx, studentID)
		if err != nil {
			return apperrors.Wrap(err, apperrors.CodeStore, "failed to load registered schedules")
		}
		if clash := s.conflicts(section.DayTime, schedules); clash != nil {
			return apperrors.Clone(apperrors.ErrTimeConflict,
				fmt.Sprintf("schedule %q conflicts with section %s", section.DayTime, clash.SectionID))
		}

		if err := s.enrollments.Create(ctx, tx, enrollment); err != nil {
			return apperrors.Wrap(err, apperrors.CodeStore, "failed to create enrollment")
		}
		return nil
	})
	if err != nil {
		var appErr *apperrors.Error
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, apperrors.Wrap(err, apperrors.CodeStore, "registration failed")
	}

	s.logger.Info("student registered",
		zap.String("student_id", studentID), zap.String("section_id", sectionID))
	return enrollment, nil
}

// Drop transitions Registered -> Dropped. Dropping an enrollment in any
// other state fails with NOT_REGISTERED; already-dropped, never-registered
// and unknown ids are indistinguishable by design.
func (s *EnrollmentService) Drop(ctx context.Context, studentID, sectionID string) error {
	if studentID == "" || sectionID == "" {
		return apperrors.Clone(apperrors.ErrMalformedRequest, "student and section required")
	}

	if !s.dropDeadline.IsZero() && s.now().After(s.dropDeadline) {
		return apperrors.Clone(apperrors.ErrDeadlinePassed,
			fmt.Sprintf("drop deadline %s has passed", s.dropDeadline.Format("2006-01-02")))
	}

	affected, err := s.enrollments.MarkDropped(ctx, studentID, sectionID)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeStore, "failed to drop enrollment")
	}
	if affected == 0 {
		return apperrors.Clone(apperrors.ErrNotRegistered, "")
	}

	s.logger.Info("student dropped section",
		zap.String("student_id", studentID), zap.String("section_id", sectionID))
	return nil
}

// ListSections returns the catalog for a semester and year.
func (s *EnrollmentService) ListSections(ctx context.Context, semester string, year int) ([]models.Section, error) {
	sections, err := s.sections.List(ctx, semester, year)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStore, "failed to list sections")
	}
	return sections, nil
}
