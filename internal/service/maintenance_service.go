package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/opensis/registrar/internal/models"
	apperrors "github.com/opensis/registrar/pkg/errors"
)

const maintenanceCacheKey = "registrar:maintenance_mode"

type settingStore interface {
	Get(ctx context.Context, key string) (*models.Setting, error)
	Upsert(ctx context.Context, setting *models.Setting) error
}

// blockedCommands is the deny list checked before routing. The toggle
// command itself is exempt so maintenance can be turned back off.
var blockedCommands = map[string]bool{
	"REGISTER":            true,
	"DROP_SECTION":        true,
	"RECORD_SCORE":        true,
	"COMPUTE_FINAL_GRADE": true,
	"IMPORT_GRADES":       true,
	"CREATE_USER":         true,
}

// MaintenanceService gates mutating commands behind a durable flag. The
// settings table is the source of truth; redis only shortens the read
// path between dispatches and is invalidated on toggle.
type MaintenanceService struct {
	settings settingStore
	audits   auditWriter
	cache    *redis.Client
	cacheTTL time.Duration
	logger   *zap.Logger
}

// NewMaintenanceService constructs MaintenanceService. cache may be nil.
func NewMaintenanceService(settings settingStore, audits auditWriter, cache *redis.Client, cacheTTL time.Duration, logger *zap.Logger) *MaintenanceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 2 * time.Second
	}
	return &MaintenanceService{settings: settings, audits: audits, cache: cache, cacheTTL: cacheTTL, logger: logger}
}

// Blocked reports whether the command is denied while maintenance is on.
func (s *MaintenanceService) Blocked(command string) bool {
	return blockedCommands[command]
}

// Enabled reads the maintenance flag, serving from cache when fresh.
func (s *MaintenanceService) Enabled(ctx context.Context) (bool, error) {
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, maintenanceCacheKey).Result()
		if err == nil {
			return cached == "ON", nil
		}
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("maintenance cache read failed", zap.Error(err))
		}
	}

	setting, err := s.settings.Get(ctx, models.SettingMaintenanceMode)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, apperrors.Wrap(err, apperrors.CodeStore, "failed to read maintenance flag")
	}

	enabled := setting.Value == "ON"
	s.fillCache(ctx, enabled)
	return enabled, nil
}

// Toggle durably flips the flag and invalidates the cache.
func (s *MaintenanceService) Toggle(ctx context.Context, enabled bool, updatedBy string) error {
	value := "OFF"
	if enabled {
		value = "ON"
	}
	setting := &models.Setting{Key: models.SettingMaintenanceMode, Value: value, UpdatedBy: &updatedBy}
	if err := s.settings.Upsert(ctx, setting); err != nil {
		return apperrors.Wrap(err, apperrors.CodeStore, "failed to persist maintenance flag")
	}

	if s.cache != nil {
		if err := s.cache.Del(ctx, maintenanceCacheKey).Err(); err != nil {
			s.logger.Warn("maintenance cache invalidation failed", zap.Error(err))
		}
	}

	if s.audits != nil {
		if err := s.audits.Create(ctx, &models.AuditLog{
			UserID:   &updatedBy,
			Action:   models.AuditActionMaintenance,
			Resource: "setting",
			Detail:   []byte(`{"value":"` + value + `"}`),
		}); err != nil {
			s.logger.Warn("failed to record maintenance audit log", zap.Error(err))
		}
	}

	return nil
}

func (s *MaintenanceService) fillCache(ctx context.Context, enabled bool) {
	if s.cache == nil {
		return
	}
	value := "OFF"
	if enabled {
		value = "ON"
	}
	if err := s.cache.Set(ctx, maintenanceCacheKey, value, s.cacheTTL).Err(); err != nil {
		s.logger.Warn("maintenance cache write failed", zap.Error(err))
	}
}
