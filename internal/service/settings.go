package service

import (
	"context"
	"net"
	"strings"

	"go.uber.org/zap"

	"github.com/drfirst/rxledger/internal/domain"
	"github.com/drfirst/rxledger/internal/store"
)

// Settings returns the platform settings, served from a short-lived cache.
func (s *Service) Settings(ctx context.Context) (domain.PlatformSettings, error) {
	s.settingsMu.RLock()
	cached, loaded := s.settings, s.settingsLoaded
	s.settingsMu.RUnlock()
	if cached != nil && s.now().Sub(loaded) < s.cfg.SettingsTTL {
		return cached.Clone(), nil
	}

	var fresh domain.PlatformSettings
	err := s.store.View(ctx, func(tx store.Tx) error {
		var err error
		fresh, err = tx.GetSettings(ctx)
		return err
	})
	if err != nil {
		return domain.PlatformSettings{}, err
	}
	s.cacheSettings(fresh)
	return fresh.Clone(), nil
}

func (s *Service) cacheSettings(v domain.PlatformSettings) {
	c := v.Clone()
	s.settingsMu.Lock()
	s.settings = &c
	s.settingsLoaded = s.now()
	s.settingsMu.Unlock()
}

// IPBlocked reports whether requests from ip are refused. Lookup errors
// fail open.
func (s *Service) IPBlocked(ctx context.Context, ip string) bool {
	st, err := s.Settings(ctx)
	if err != nil {
		s.logger.Warn("settings unavailable for ip check", zap.Error(err))
		return false
	}
	return st.IsBlocked(ip)
}

// Maintenance reports whether maintenance mode is on and its message.
func (s *Service) Maintenance(ctx context.Context) (bool, string) {
	st, err := s.Settings(ctx)
	if err != nil {
		return false, ""
	}
	return st.MaintenanceMode, st.MaintenanceMessage
}

// UpdateBranding replaces the dashboard branding.
func (s *Service) UpdateBranding(ctx context.Context, p domain.Principal, b domain.Branding) (domain.PlatformSettings, error) {
	const op = "settings.UpdateBranding"
	if strings.TrimSpace(b.PlatformName) == "" {
		return domain.PlatformSettings{}, domain.Invalid(op, "platformName is required")
	}
	return s.mutateSettings(ctx, op, p, func(st *domain.PlatformSettings) error {
		st.Branding = b
		return nil
	})
}

// SetMaintenance toggles maintenance mode.
func (s *Service) SetMaintenance(ctx context.Context, p domain.Principal, on bool, message string) (domain.PlatformSettings, error) {
	return s.mutateSettings(ctx, "settings.SetMaintenance", p, func(st *domain.PlatformSettings) error {
		st.MaintenanceMode = on
		st.MaintenanceMessage = strings.TrimSpace(message)
		return nil
	})
}

// BlockIP adds an address or CIDR range to the blocklist.
func (s *Service) BlockIP(ctx context.Context, p domain.Principal, entry string) (domain.PlatformSettings, error) {
	const op = "settings.BlockIP"
	entry = strings.TrimSpace(entry)
	if net.ParseIP(entry) == nil {
		if _, _, err := net.ParseCIDR(entry); err != nil {
			return domain.PlatformSettings{}, domain.Invalid(op, "%q is not an IP address or CIDR range", entry)
		}
	}
	return s.mutateSettings(ctx, op, p, func(st *domain.PlatformSettings) error {
		for _, e := range st.BlockedIPs {
			if e == entry {
				return nil
			}
		}
		st.BlockedIPs = append(st.BlockedIPs, entry)
		return nil
	})
}

// UnblockIP removes an entry from the blocklist.
func (s *Service) UnblockIP(ctx context.Context, p domain.Principal, entry string) (domain.PlatformSettings, error) {
	const op = "settings.UnblockIP"
	return s.mutateSettings(ctx, op, p, func(st *domain.PlatformSettings) error {
		kept := st.BlockedIPs[:0]
		found := false
		for _, e := range st.BlockedIPs {
			if e == entry {
				found = true
				continue
			}
			kept = append(kept, e)
		}
		if !found {
			return domain.NotFound(op, "blocked ip", entry)
		}
		st.BlockedIPs = kept
		return nil
	})
}

func (s *Service) mutateSettings(ctx context.Context, op string, p domain.Principal, change func(*domain.PlatformSettings) error) (domain.PlatformSettings, error) {
	var out domain.PlatformSettings
	err := s.update(ctx, op, p, store.PlatformScope, func(ctx context.Context, u *unit) error {
		if err := u.authorize(ctx, domain.PermManageSettings, ""); err != nil {
			return err
		}
		st, err := u.GetSettings(ctx)
		if err != nil {
			return err
		}
		if err := change(&st); err != nil {
			return err
		}
		st.UpdatedAt = s.now()
		if err := u.SaveSettings(ctx, st); err != nil {
			return err
		}
		out = st
		return nil
	})
	if err != nil {
		return domain.PlatformSettings{}, err
	}
	s.cacheSettings(out)
	return out.Clone(), nil
}
