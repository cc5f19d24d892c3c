package service

import (
	"context"
	"fmt"
	"strings"

	"warungpos/backend/internal/codec"
	"warungpos/backend/internal/domain"
	"warungpos/backend/internal/schema"
)

// GetSettings returns the shop settings, read through the settings cache.
// A failing cache is logged and bypassed.
func (s *Service) GetSettings(ctx context.Context) (domain.Settings, error) {
	cached, ok, err := s.settings.Get(ctx)
	if err != nil {
		s.logger.Warnw("settings cache read failed", "error", err)
	} else if ok {
		return cached, nil
	}

	rec, err := s.store.Get(ctx, schema.Settings, domain.SettingsKey)
	if err != nil {
		return domain.Settings{}, err
	}
	settings := codec.SettingsFromRecord(rec)
	if err := s.settings.Set(ctx, settings, s.settingsTTL); err != nil {
		s.logger.Warnw("settings cache write failed", "error", err)
	}
	return settings, nil
}

func (s *Service) UpdateSettings(ctx context.Context, sess domain.Session, req domain.SettingsUpdateRequest) (domain.Settings, error) {
	if err := requireAdmin(sess); err != nil {
		return domain.Settings{}, err
	}
	if err := s.validateRequest(req); err != nil {
		return domain.Settings{}, err
	}

	patch := schema.Record{}
	if req.BusinessName != nil {
		patch["businessName"] = strings.TrimSpace(*req.BusinessName)
	}
	if req.Address != nil {
		patch["address"] = strings.TrimSpace(*req.Address)
	}
	if req.LogoURL != nil {
		patch["logoUrl"] = *req.LogoURL
	}
	if req.Theme != nil {
		patch["theme"] = *req.Theme
	}
	if req.Currency != nil {
		patch["currency"] = strings.ToUpper(*req.Currency)
	}

	rec, err := s.store.Update(ctx, schema.Settings, domain.SettingsKey, patch)
	if err != nil {
		return domain.Settings{}, fmt.Errorf("update settings: %w", err)
	}
	if err := s.settings.Invalidate(ctx); err != nil {
		s.logger.Warnw("settings cache invalidate failed", "error", err)
	}
	s.logger.Infow("settings updated", "by", sess.Username)
	return codec.SettingsFromRecord(rec), nil
}
