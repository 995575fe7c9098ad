package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"periodpal/internal/catalog"
	"periodpal/internal/domain"
	"periodpal/internal/translation"
)

type SettingsStore interface {
	LoadSettings(ctx context.Context, deviceID string) (domain.Settings, error)
	SaveSettings(ctx context.Context, deviceID string, s domain.Settings) error
}

// SettingsUpdate changes the region, the language, or both. A region change
// without a language resets the language to the new region's default.
type SettingsUpdate struct {
	Region   string
	Language string
}

type SettingsService struct {
	store   SettingsStore
	catalog *catalog.Catalog
	logger  *slog.Logger
}

func NewSettingsService(store SettingsStore, c *catalog.Catalog, logger *slog.Logger) (*SettingsService, error) {
	if store == nil {
		return nil, errors.New("usecase: settings store must not be nil")
	}
	if c == nil {
		return nil, errors.New("usecase: catalog must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SettingsService{store: store, catalog: c, logger: logger}, nil
}

func (s *SettingsService) defaults() domain.Settings {
	region := s.catalog.DefaultRegion
	return domain.Settings{Region: region, Language: s.catalog.DefaultLanguage(region)}
}

// Get returns the device settings. Missing, unreadable or inconsistent
// records resolve to defaults.
func (s *SettingsService) Get(ctx context.Context, deviceID string) domain.Settings {
	stored, err := s.store.LoadSettings(ctx, deviceID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "settings unavailable, using defaults",
				slog.String("reason", "settings_load_failed"),
				slog.Any("err", err),
			)
		}
		return s.defaults()
	}
	return s.sanitize(stored)
}

func (s *SettingsService) sanitize(in domain.Settings) domain.Settings {
	if _, ok := s.catalog.Region(in.Region); !ok {
		return s.defaults()
	}
	lang, err := translation.Normalize(in.Language)
	if err != nil || !s.catalog.SupportsLanguage(in.Region, lang) {
		lang = s.catalog.DefaultLanguage(in.Region)
	}
	return domain.Settings{Region: in.Region, Language: lang}
}

// Update applies u to the current settings and persists the result. A failed
// write is logged and the new settings are still returned.
func (s *SettingsService) Update(ctx context.Context, deviceID string, u SettingsUpdate) (domain.Settings, error) {
	next := s.Get(ctx, deviceID)

	if region := strings.TrimSpace(u.Region); region != "" {
		if _, ok := s.catalog.Region(region); !ok {
			return domain.Settings{}, newError(ErrorInvalidInput, "unknown_region", nil)
		}
		if region != next.Region {
			next.Region = region
			next.Language = s.catalog.DefaultLanguage(region)
		}
	}
	if strings.TrimSpace(u.Language) != "" {
		lang, err := translation.Normalize(u.Language)
		if err != nil {
			return domain.Settings{}, newError(ErrorInvalidInput, "invalid_language", err)
		}
		if !s.catalog.SupportsLanguage(next.Region, lang) {
			return domain.Settings{}, newError(ErrorInvalidInput, "unsupported_language", nil)
		}
		next.Language = lang
	}

	if err := s.store.SaveSettings(ctx, deviceID, next); err != nil {
		s.logger.WarnContext(ctx, "settings not persisted",
			slog.String("reason", "settings_save_failed"),
			slog.Any("err", err),
		)
	}
	return next, nil
}
