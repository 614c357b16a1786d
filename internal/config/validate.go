package config

import (
	"errors"
	"fmt"

	"github.com/ldapsyncd/ldapsyncd/internal/retry"
)

// maxServerID is the inclusive upper bound for both rid and serverID,
// matching the CSN replica-ID field's range of [0, 4095].
const maxServerID = 4095

var validTypes = map[string]bool{
	"refreshOnly": true,
	"refreshAndPersist": true,
	"dirSync": true,
}

var validSyncData = map[string]bool{
	"plain": true,
	"access-log": true,
	"change-log": true,
}

var validScopes = map[string]bool{
	"base": true,
	"one": true,
	"sub": true,
}

// Validate checks a fully-defaulted Config for fatal configuration errors,
// refusing them here so a bad config never reaches Source construction.
func Validate(cfg *Config) error {
	var errs []error

	databases := make(map[string]bool, len(cfg.Databases))

	for i := range cfg.Databases {
		if err := validateDatabase(&cfg.Databases[i]); err != nil {
			errs = append(errs, err)

			continue
		}

		databases[cfg.Databases[i].Name] = true
	}

	seenRID := make(map[int]bool)

	for i := range cfg.Sources {
		if err := validateSource(&cfg.Sources[i]); err != nil {
			errs = append(errs, err)

			continue
		}

		rid := cfg.Sources[i].RID
		if seenRID[rid] {
			errs = append(errs, fmt.Errorf("source[%d]: duplicate rid %d", i, rid))
		}

		seenRID[rid] = true

		if !databases[cfg.Sources[i].Database] {
			errs = append(errs, fmt.Errorf("source rid=%d: database %q has no matching [[database]] section",
				cfg.Sources[i].RID, cfg.Sources[i].Database))
		}
	}

	return errors.Join(errs...)
}

func validateDatabase(d *DatabaseSection) error {
	if d.Name == "" {
		return fmt.Errorf("database section: name is required")
	}

	if d.URI == "" {
		return fmt.Errorf("database %q: uri is required", d.Name)
	}

	if d.ContextDN == "" {
		return fmt.Errorf("database %q: contextdn is required", d.Name)
	}

	return nil
}

func validateSource(s *SourceSection) error {
	if s.RID < 0 || s.RID > maxServerID {
		return fmt.Errorf("source rid=%d: rid must be in [0, %d]", s.RID, maxServerID)
	}

	if s.ServerID != 0 && (s.ServerID < 0 || s.ServerID > maxServerID) {
		return fmt.Errorf("source rid=%d: serverID must be in [0, %d]", s.RID, maxServerID)
	}

	if s.Provider == "" {
		return fmt.Errorf("source rid=%d: provider is required", s.RID)
	}

	if s.SearchBase == "" {
		return fmt.Errorf("source rid=%d: searchbase is required", s.RID)
	}

	if !validScopes[s.Scope] {
		return fmt.Errorf("source rid=%d: invalid scope %q", s.RID, s.Scope)
	}

	if !validTypes[s.Type] {
		return fmt.Errorf("source rid=%d: invalid type %q", s.RID, s.Type)
	}

	if !validSyncData[s.SyncData] {
		return fmt.Errorf("source rid=%d: invalid syncdata %q", s.RID, s.SyncData)
	}

	if s.SyncData == "change-log" && s.LogBase == "" {
		return fmt.Errorf("source rid=%d: logbase is required for change-log syncdata", s.RID)
	}

	if _, err := retry.Parse(s.Retry); err != nil {
		return fmt.Errorf("source rid=%d: invalid retry schedule: %w", s.RID, err)
	}

	return nil
}
