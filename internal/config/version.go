package config

import "fmt"

// CurrentVersion is the latest supported configuration file version.
const CurrentVersion = 1

// VersionError describes a configuration version mismatch.
type VersionError struct {
	Version int
	Current int
}

func (e *VersionError) Error() string {
	if e.Version > e.Current {
		return fmt.Sprintf("config version %d is newer than this build (current: %d); upgrade clawcore to continue", e.Version, e.Current)
	}
	return fmt.Sprintf("config version %d is invalid (current: %d)", e.Version, e.Current)
}

// ValidateVersion accepts the current version. An omitted version (0) is
// read as the current one.
func ValidateVersion(version int) error {
	if version == 0 || version == CurrentVersion {
		return nil
	}
	return &VersionError{Version: version, Current: CurrentVersion}
}
