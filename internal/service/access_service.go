package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/opensis/registrar/internal/models"
	apperrors "github.com/opensis/registrar/pkg/errors"
)

type accessUserReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type accessSectionReader interface {
	FindByID(ctx context.Context, id string) (*models.Section, error)
}

type accessEnrollmentReader interface {
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	InstructorOf(ctx context.Context, enrollmentID string) (string, error)
}

// AccessService answers authorization predicates. A store failure always
// surfaces as a DB_ERROR outcome, never as a silent denial, so an outage
// is distinguishable from a real authorization miss.
type AccessService struct {
	users       accessUserReader
	sections    accessSectionReader
	enrollments accessEnrollmentReader
	logger      *zap.Logger
}

// NewAccessService constructs AccessService.
func NewAccessService(users accessUserReader, sections accessSectionReader, enrollments accessEnrollmentReader, logger *zap.Logger) *AccessService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccessService{users: users, sections: sections, enrollments: enrollments, logger: logger}
}

// IsAdmin reports whether the user holds the admin role.
func (s *AccessService) IsAdmin(ctx context.Context, userID string) (bool, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, apperrors.Wrap(err, apperrors.CodeStore, "failed to load user")
	}
	return user.Active && user.Role == models.RoleAdmin, nil
}

// IsInstructorOfSection reports whether the instructor teaches the section.
func (s *AccessService) IsInstructorOfSection(ctx context.Context, instructorID, sectionID string) (bool, error) {
	section, err := s.sections.FindByID(ctx, sectionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, apperrors.Wrap(err, apperrors.CodeStore, "failed to load section")
	}
	return section.InstructorID == instructorID, nil
}

// IsInstructorOfEnrollment resolves enrollment -> section -> instructor.
func (s *AccessService) IsInstructorOfEnrollment(ctx context.Context, instructorID, enrollmentID string) (bool, error) {
	owner, err := s.enrollments.InstructorOf(ctx, enrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, apperrors.Wrap(err, apperrors.CodeStore, "failed to resolve enrollment instructor")
	}
	return owner == instructorID, nil
}

// IsStudentOfEnrollment reports whether the enrollment belongs to the student.
func (s *AccessService) IsStudentOfEnrollment(ctx context.Context, studentID, enrollmentID string) (bool, error) {
	enrollment, err := s.enrollments.FindByID(ctx, enrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, apperrors.Wrap(err, apperrors.CodeStore, "failed to load enrollment")
	}
	return enrollment.StudentID == studentID, nil
}
