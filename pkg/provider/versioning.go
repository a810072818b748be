package provider

import (
	"fmt"
	"time"

	"github.com/entgraph/discovery/pkg/logger"
)

// ConfigVersionInfo describes one config schema version of a provider type,
// including its deprecation window.
type ConfigVersionInfo struct {
	Version            int
	Deprecated         bool
	DeprecatedAt       time.Time
	RemovalAt          time.Time
	DeprecationMessage string
}

// IsSupported reports whether the version's removal date has not passed.
func (v ConfigVersionInfo) IsSupported() bool {
	if v.RemovalAt.IsZero() {
		return true
	}
	return time.Now().Before(v.RemovalAt)
}

// DaysUntilRemoval returns the days left before removal, or -1 when no
// removal date is set.
func (v ConfigVersionInfo) DaysUntilRemoval() int {
	if v.RemovalAt.IsZero() {
		return -1
	}
	days := int(time.Until(v.RemovalAt).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// Migration upgrades a config map by exactly one version.
type Migration func(config map[string]any) (map[string]any, error)

// VersionSupport declares which config versions a provider type accepts and
// how to upgrade between them.
type VersionSupport struct {
	current    int
	supported  map[int]ConfigVersionInfo
	migrations map[int]Migration
}

// NewVersionSupport builds version support. The current version must be among
// the supported ones.
func NewVersionSupport(current int, supported []ConfigVersionInfo, migrations map[int]Migration) (*VersionSupport, error) {
	byVersion := make(map[int]ConfigVersionInfo, len(supported))
	for _, v := range supported {
		byVersion[v.Version] = v
	}
	if _, ok := byVersion[current]; !ok {
		return nil, fmt.Errorf("current version %d not in supported versions", current)
	}
	return &VersionSupport{
		current:    current,
		supported:  byVersion,
		migrations: migrations,
	}, nil
}

// Current returns the current schema version.
func (s *VersionSupport) Current() int { return s.current }

// IsSupported reports whether configs at the given version are still accepted.
func (s *VersionSupport) IsSupported(version int) bool {
	info, ok := s.supported[version]
	if !ok {
		return false
	}
	return info.IsSupported()
}

// DeprecationWarning renders the operator-facing warning for a deprecated
// version, or "" when the version is not deprecated.
func (s *VersionSupport) DeprecationWarning(version int) string {
	info, ok := s.supported[version]
	if !ok || !info.Deprecated {
		return ""
	}

	warning := fmt.Sprintf("config version %d is deprecated.", version)
	if info.DeprecationMessage != "" {
		warning += " " + info.DeprecationMessage
	}

	switch days := info.DaysUntilRemoval(); {
	case days == 0:
		warning += " Will be removed today!"
	case days > 0 && days <= 30:
		warning += fmt.Sprintf(" Will be removed in %d days!", days)
	case days > 30:
		warning += fmt.Sprintf(" Will be removed on %s.", info.RemovalAt.Format("2006-01-02"))
	}

	warning += fmt.Sprintf(" Please migrate to version %d.", s.current)
	return warning
}

// MigrateConfig upgrades a config from its declared version to the current
// one, applying migrations one step at a time. Unsupported or too-new
// versions and missing migration links are hard errors; the caller must not
// schedule the provider.
func (s *VersionSupport) MigrateConfig(config map[string]any, fromVersion int) (map[string]any, error) {
	if warning := s.DeprecationWarning(fromVersion); warning != "" {
		logger.Warn(warning)
	}

	if fromVersion == s.current {
		return cloneConfig(config), nil
	}
	if fromVersion > s.current {
		return nil, fmt.Errorf("config version %d is newer than current version %d, upgrade the provider", fromVersion, s.current)
	}
	if !s.IsSupported(fromVersion) {
		return nil, fmt.Errorf("config version %d is no longer supported, current version is %d", fromVersion, s.current)
	}

	migrated := cloneConfig(config)
	for v := fromVersion; v < s.current; v++ {
		migrate, ok := s.migrations[v]
		if !ok {
			return nil, fmt.Errorf("no migration path from config version %d to %d", v, v+1)
		}
		next, err := migrate(migrated)
		if err != nil {
			return nil, fmt.Errorf("migrate config from version %d: %w", v, err)
		}
		migrated = next
	}

	logger.Debug("migrated provider config",
		"from_version", fromVersion,
		"to_version", s.current,
	)
	return migrated, nil
}

func cloneConfig(config map[string]any) map[string]any {
	out := make(map[string]any, len(config))
	for k, v := range config {
		out[k] = v
	}
	return out
}
