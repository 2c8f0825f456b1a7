package server

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/opensis/registrar/internal/models"
	"github.com/opensis/registrar/internal/protocol"
	"github.com/opensis/registrar/internal/service"
	apperrors "github.com/opensis/registrar/pkg/errors"
)

type authService interface {
	Login(ctx context.Context, req service.LoginRequest) (*models.User, error)
	CreateUser(ctx context.Context, createdBy string, req service.CreateUserRequest) (*models.User, error)
}

type accessService interface {
	IsAdmin(ctx context.Context, userID string) (bool, error)
	IsInstructorOfSection(ctx context.Context, instructorID, sectionID string) (bool, error)
	IsInstructorOfEnrollment(ctx context.Context, instructorID, enrollmentID string) (bool, error)
	IsStudentOfEnrollment(ctx context.Context, studentID, enrollmentID string) (bool, error)
}

type enrollmentService interface {
	Register(ctx context.Context, studentID, sectionID string) (*models.Enrollment, error)
	Drop(ctx context.Context, studentID, sectionID string) error
	ListSections(ctx context.Context, semester string, year int) ([]models.Section, error)
}

type gradingService interface {
	RecordScore(ctx context.Context, enrollmentID, component string, score float64) error
	ComputeFinalGrade(ctx context.Context, enrollmentID string) (string, error)
	ViewGrades(ctx context.Context, enrollmentID string) (*service.GradeView, error)
	ExportCSV(ctx context.Context, sectionID string) (string, []byte, error)
	ImportCSV(ctx context.Context, instructorID, sectionID string, data []byte) (*service.ImportSummary, error)
	Transcript(ctx context.Context, studentID string) (string, []byte, error)
}

type maintenanceService interface {
	Blocked(command string) bool
	Enabled(ctx context.Context) (bool, error)
	Toggle(ctx context.Context, enabled bool, updatedBy string) error
}

type userReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type metricsRecorder interface {
	ObserveCommand(command, outcome string, duration time.Duration)
}

// ConnState is the per-connection state the router mutates: the identity
// of the socket and the session bound to it, if any.
type ConnState struct {
	ID      string
	Session *models.Session
}

// Router dispatches parsed commands to the engines and serialises every
// outcome back into one response line.
type Router struct {
	auth        authService
	access      accessService
	enrollments enrollmentService
	grading     gradingService
	maintenance maintenanceService
	users       userReader
	metrics     metricsRecorder
	logger      *zap.Logger
}

// NewRouter constructs the router. metrics may be nil.
func NewRouter(auth authService, access accessService, enrollments enrollmentService, grading gradingService, maintenance maintenanceService, users userReader, metrics metricsRecorder, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		auth:        auth,
		access:      access,
		enrollments: enrollments,
		grading:     grading,
		maintenance: maintenance,
		users:       users,
		metrics:     metrics,
		logger:      logger,
	}
}

// Dispatch handles one request line and returns the response line. The
// maintenance gate runs before access control or any engine is touched.
func (rt *Router) Dispatch(ctx context.Context, st *ConnState, line string) string {
	cmd, err := protocol.Parse(line)
	if err != nil {
		return protocol.FormatError(err)
	}

	start := time.Now()
	resp := rt.route(ctx, st, cmd)
	rt.observe(cmd.Name, resp, time.Since(start))
	return resp
}

func (rt *Router) route(ctx context.Context, st *ConnState, cmd protocol.Command) string {
	if rt.maintenance.Blocked(cmd.Name) {
		enabled, err := rt.maintenance.Enabled(ctx)
		if err != nil {
			return protocol.FormatError(err)
		}
		if enabled {
			return protocol.FormatError(apperrors.Clone(apperrors.ErrMaintenance,
				"server is under maintenance, mutating operations are disabled"))
		}
	}

	switch cmd.Name {
	case "PING":
		return protocol.FormatSuccess("PONG")
	case "LOGIN":
		return rt.handleLogin(ctx, st, cmd)
	case "LOGOUT":
		st.Session = nil
		return protocol.FormatSuccess("logged out")
	case "REGISTER":
		return rt.handleRegister(ctx, st, cmd)
	case "DROP_SECTION":
		return rt.handleDrop(ctx, st, cmd)
	case "LIST_SECTIONS":
		return rt.handleListSections(ctx, cmd)
	case "VIEW_GRADES":
		return rt.handleViewGrades(ctx, st, cmd)
	case "RECORD_SCORE":
		return rt.handleRecordScore(ctx, st, cmd)
	case "COMPUTE_FINAL_GRADE":
		return rt.handleComputeFinal(ctx, st, cmd)
	case "EXPORT_GRADES":
		return rt.handleExportGrades(ctx, st, cmd)
	case "IMPORT_GRADES":
		return rt.handleImportGrades(ctx, st, cmd)
	case "EXPORT_TRANSCRIPT":
		return rt.handleTranscript(ctx, st, cmd)
	case "CREATE_USER":
		return rt.handleCreateUser(ctx, st, cmd)
	case "CHECK_MAINTENANCE":
		return rt.handleCheckMaintenance(ctx)
	case "TOGGLE_MAINTENANCE":
		return rt.handleToggleMaintenance(ctx, st, cmd)
	default:
		return protocol.FormatError(apperrors.Clone(apperrors.ErrMalformedRequest, "unknown command "+cmd.Name))
	}
}

func (rt *Router) handleLogin(ctx context.Context, st *ConnState, cmd protocol.Command) string {
	if err := requireArgs(cmd, 2); err != nil {
		return protocol.FormatError(err)
	}
	user, err := rt.auth.Login(ctx, service.LoginRequest{Username: cmd.Arg(0), Password: cmd.Arg(1)})
	if err != nil {
		return protocol.FormatError(err)
	}
	st.Session = &models.Session{
		ConnectionID:  st.ID,
		UserID:        user.ID,
		Role:          user.Role,
		EstablishedAt: time.Now().UTC(),
	}
	payload, err := json.Marshal(models.UserInfo{ID: user.ID, Username: user.Username, FullName: user.FullName, Role: user.Role})
	if err != nil {
		return protocol.FormatError(apperrors.Wrap(err, apperrors.CodeStore, "failed to encode user"))
	}
	return protocol.FormatSuccess(string(payload))
}

func (rt *Router) handleRegister(ctx context.Context, st *ConnState, cmd protocol.Command) string {
	if err := requireArgs(cmd, 2); err != nil {
		return protocol.FormatError(err)
	}
	student, err := rt.resolveUser(ctx, st, cmd.Arg(0))
	if err != nil {
		return protocol.FormatError(err)
	}
	if _, err := rt.enrollments.Register(ctx, student.ID, cmd.Arg(1)); err != nil {
		return protocol.FormatError(err)
	}
	return protocol.FormatSuccess("registration successful")
}

func (rt *Router) handleDrop(ctx context.Context, st *ConnState, cmd protocol.Command) string {
	if err := requireArgs(cmd, 2); err != nil {
		return protocol.FormatError(err)
	}
	student, err := rt.resolveUser(ctx, st, cmd.Arg(0))
	if err != nil {
		return protocol.FormatError(err)
	}
	if err := rt.enrollments.Drop(ctx, student.ID, cmd.Arg(1)); err != nil {
		return protocol.FormatError(err)
	}
	return protocol.FormatSuccess("section dropped")
}

func (rt *Router) handleListSections(ctx context.Context, cmd protocol.Command) string {
	if err := requireArgs(cmd, 2); err != nil {
		return protocol.FormatError(err)
	}
	year, err := strconv.Atoi(cmd.Arg(1))
	if err != nil {
		return protocol.FormatError(apperrors.Clone(apperrors.ErrMalformedRequest, "bad year "+cmd.Arg(1)))
	}
	sections, err := rt.enrollments.ListSections(ctx, cmd.Arg(0), year)
	if err != nil {
		return protocol.FormatError(err)
	}
	payload, err := json.Marshal(sections)
	if err != nil {
		return protocol.FormatError(apperrors.Wrap(err, apperrors.CodeStore, "failed to encode sections"))
	}
	return protocol.FormatSuccess(string(payload))
}

func (rt *Router) handleViewGrades(ctx context.Context, st *ConnState, cmd protocol.Command) string {
	if err := requireArgs(cmd, 2); err != nil {
		return protocol.FormatError(err)
	}
	requester, err := rt.resolveUser(ctx, st, cmd.Arg(0))
	if err != nil {
		return protocol.FormatError(err)
	}
	enrollmentID := cmd.Arg(1)

	allowed := requester.Role == models.RoleAdmin
	if !allowed {
		owner, err := rt.access.IsStudentOfEnrollment(ctx, requester.ID, enrollmentID)
		if err != nil {
			return protocol.FormatError(err)
		}
		allowed = owner
	}
	if !allowed {
		instructor, err := rt.access.IsInstructorOfEnrollment(ctx, requester.ID, enrollmentID)
		if err != nil {
			return protocol.FormatError(err)
		}
		allowed = instructor
	}
	if !allowed {
		return protocol.FormatError(apperrors.Clone(apperrors.ErrNotAuthorized, "no access to this enrollment"))
	}

	view, err := rt.grading.ViewGrades(ctx, enrollmentID)
	if err != nil {
		return protocol.FormatError(err)
	}
	payload, err := json.Marshal(view)
	if err != nil {
		return protocol.FormatError(apperrors.Wrap(err, apperrors.CodeStore, "failed to encode grades"))
	}
	return protocol.FormatSuccess(string(payload))
}

func (rt *Router) handleRecordScore(ctx context.Context, st *ConnState, cmd protocol.Command) string {
	if err := requireArgs(cmd, 4); err != nil {
		return protocol.FormatError(err)
	}
	instructor, err := rt.resolveUser(ctx, st, cmd.Arg(0))
	if err != nil {
		return protocol.FormatError(err)
	}
	if err := rt.requireEnrollmentAuthority(ctx, instructor, cmd.Arg(1)); err != nil {
		return protocol.FormatError(err)
	}
	score, err := strconv.ParseFloat(cmd.Arg(3), 64)
	if err != nil {
		return protocol.FormatError(apperrors.Clone(apperrors.ErrMalformedRequest, "bad score "+cmd.Arg(3)))
	}
	if err := rt.grading.RecordScore(ctx, cmd.Arg(1), cmd.Arg(2), score); err != nil {
		return protocol.FormatError(err)
	}
	return protocol.FormatSuccess("score recorded")
}

func (rt *Router) handleComputeFinal(ctx context.Context, st *ConnState, cmd protocol.Command) string {
	if err := requireArgs(cmd, 2); err != nil {
		return protocol.FormatError(err)
	}
	instructor, err := rt.resolveUser(ctx, st, cmd.Arg(0))
	if err != nil {
		return protocol.FormatError(err)
	}
	if err := rt.requireEnrollmentAuthority(ctx, instructor, cmd.Arg(1)); err != nil {
		return protocol.FormatError(err)
	}
	letter, err := rt.grading.ComputeFinalGrade(ctx, cmd.Arg(1))
	if err != nil {
		return protocol.FormatError(err)
	}
	return protocol.FormatSuccess(letter)
}

func (rt *Router) handleExportGrades(ctx context.Context, st *ConnState, cmd protocol.Command) string {
	if err := requireArgs(cmd, 2); err != nil {
		return protocol.FormatError(err)
	}
	instructor, err := rt.resolveUser(ctx, st, cmd.Arg(0))
	if err != nil {
		return protocol.FormatError(err)
	}
	if err := rt.requireSectionAuthority(ctx, instructor, cmd.Arg(1)); err != nil {
		return protocol.FormatError(err)
	}
	filename, data, err := rt.grading.ExportCSV(ctx, cmd.Arg(1))
	if err != nil {
		return protocol.FormatError(err)
	}
	return protocol.FormatFile("text/csv", filename, data)
}

func (rt *Router) handleImportGrades(ctx context.Context, st *ConnState, cmd protocol.Command) string {
	if err := requireArgs(cmd, 4); err != nil {
		return protocol.FormatError(err)
	}
	instructor, err := rt.resolveUser(ctx, st, cmd.Arg(0))
	if err != nil {
		return protocol.FormatError(err)
	}
	if err := rt.requireSectionAuthority(ctx, instructor, cmd.Arg(1)); err != nil {
		return protocol.FormatError(err)
	}
	if cmd.Arg(2) != protocol.EncodingBase64 {
		return protocol.FormatError(apperrors.Clone(apperrors.ErrMalformedRequest, "unsupported payload encoding "+cmd.Arg(2)))
	}
	data, err := base64.StdEncoding.DecodeString(cmd.Arg(3))
	if err != nil {
		return protocol.FormatError(apperrors.Clone(apperrors.ErrMalformedRequest, "bad base64 payload"))
	}
	summary, err := rt.grading.ImportCSV(ctx, instructor.ID, cmd.Arg(1), data)
	if err != nil {
		return protocol.FormatError(err)
	}
	return protocol.FormatSuccess(summary.String())
}

func (rt *Router) handleTranscript(ctx context.Context, st *ConnState, cmd protocol.Command) string {
	if err := requireArgs(cmd, 2); err != nil {
		return protocol.FormatError(err)
	}
	requester, err := rt.resolveUser(ctx, st, cmd.Arg(0))
	if err != nil {
		return protocol.FormatError(err)
	}
	studentID := cmd.Arg(1)
	if requester.ID != studentID && requester.Role != models.RoleAdmin {
		return protocol.FormatError(apperrors.Clone(apperrors.ErrNotAuthorized, "transcripts are restricted to their owner"))
	}
	filename, data, err := rt.grading.Transcript(ctx, studentID)
	if err != nil {
		return protocol.FormatError(err)
	}
	return protocol.FormatFile("application/pdf", filename, data)
}

func (rt *Router) handleCreateUser(ctx context.Context, st *ConnState, cmd protocol.Command) string {
	if err := requireArgs(cmd, 5); err != nil {
		return protocol.FormatError(err)
	}
	admin, err := rt.resolveUser(ctx, st, cmd.Arg(0))
	if err != nil {
		return protocol.FormatError(err)
	}
	isAdmin, err := rt.access.IsAdmin(ctx, admin.ID)
	if err != nil {
		return protocol.FormatError(err)
	}
	if !isAdmin {
		return protocol.FormatError(apperrors.Clone(apperrors.ErrNotAuthorized, "admin role required"))
	}
	user, err := rt.auth.CreateUser(ctx, admin.ID, service.CreateUserRequest{
		Username: cmd.Arg(1),
		Password: cmd.Arg(2),
		FullName: cmd.Arg(3),
		Role:     cmd.Arg(4),
	})
	if err != nil {
		return protocol.FormatError(err)
	}
	return protocol.FormatSuccess("user " + user.Username + " created")
}

func (rt *Router) handleCheckMaintenance(ctx context.Context) string {
	enabled, err := rt.maintenance.Enabled(ctx)
	if err != nil {
		return protocol.FormatError(err)
	}
	if enabled {
		return protocol.FormatSuccess("ON")
	}
	return protocol.FormatSuccess("OFF")
}

func (rt *Router) handleToggleMaintenance(ctx context.Context, st *ConnState, cmd protocol.Command) string {
	if err := requireArgs(cmd, 1); err != nil {
		return protocol.FormatError(err)
	}
	var enabled bool
	switch cmd.Arg(0) {
	case "ON":
		enabled = true
	case "OFF":
		enabled = false
	default:
		return protocol.FormatError(apperrors.Clone(apperrors.ErrMalformedRequest, "expected ON or OFF"))
	}
	if st.Session == nil {
		return protocol.FormatError(apperrors.Clone(apperrors.ErrNotAuthenticated, ""))
	}
	isAdmin, err := rt.access.IsAdmin(ctx, st.Session.UserID)
	if err != nil {
		return protocol.FormatError(err)
	}
	if !isAdmin {
		return protocol.FormatError(apperrors.Clone(apperrors.ErrNotAuthorized, "admin role required"))
	}
	if err := rt.maintenance.Toggle(ctx, enabled, st.Session.UserID); err != nil {
		return protocol.FormatError(err)
	}
	return protocol.FormatSuccess("maintenance " + cmd.Arg(0))
}

// resolveUser re-authorizes the inline identity each call. One-shot
// connections carry no session and rely on this lookup alone; on a
// persistent connection the inline id must match the session user unless
// the session belongs to an admin.
func (rt *Router) resolveUser(ctx context.Context, st *ConnState, userID string) (*models.User, error) {
	if userID == "" {
		return nil, apperrors.Clone(apperrors.ErrMalformedRequest, "missing user id")
	}
	if st.Session != nil && st.Session.UserID != userID && !st.Session.IsAdmin() {
		return nil, apperrors.Clone(apperrors.ErrNotAuthorized, "session does not match requested user")
	}
	user, err := rt.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.Clone(apperrors.ErrNotFound, "user "+userID+" not found")
		}
		return nil, apperrors.Wrap(err, apperrors.CodeStore, "failed to load user")
	}
	if !user.Active {
		return nil, apperrors.Clone(apperrors.ErrNotAuthorized, "account is inactive")
	}
	return user, nil
}

func (rt *Router) requireEnrollmentAuthority(ctx context.Context, user *models.User, enrollmentID string) error {
	if user.Role == models.RoleAdmin {
		return nil
	}
	ok, err := rt.access.IsInstructorOfEnrollment(ctx, user.ID, enrollmentID)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.Clone(apperrors.ErrNotAuthorized, "not the instructor of this enrollment")
	}
	return nil
}

func (rt *Router) requireSectionAuthority(ctx context.Context, user *models.User, sectionID string) error {
	if user.Role == models.RoleAdmin {
		return nil
	}
	ok, err := rt.access.IsInstructorOfSection(ctx, user.ID, sectionID)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.Clone(apperrors.ErrNotAuthorized, "not the instructor of this section")
	}
	return nil
}

func (rt *Router) observe(command, resp string, duration time.Duration) {
	if rt.metrics == nil {
		return
	}
	outcome := "success"
	if len(resp) >= 6 && resp[:6] == "ERROR:" {
		outcome = "error"
	}
	rt.metrics.ObserveCommand(command, outcome, duration)
}

func requireArgs(cmd protocol.Command, n int) error {
	if len(cmd.Args) < n {
		return apperrors.Clone(apperrors.ErrMalformedRequest,
			fmt.Sprintf("%s expects %d arguments", cmd.Name, n))
	}
	return nil
}
