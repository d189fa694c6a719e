// Package migration imports the legacy flat-file JSON cache into the
// sqlite store. The import is one-shot and idempotent: the legacy file is
// removed only after every surviving entry is verifiably readable back.
package migration

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/terabyte/jiraview/internal/store"
)

// legacyFileName is the flat-file cache the pre-sqlite versions wrote.
const legacyFileName = "cache.json"

// legacyEntry is one cached value in the old format: an epoch timestamp,
// a TTL in seconds, and an opaque data blob.
type legacyEntry struct {
	Timestamp float64         `json:"timestamp"`
	TTL       float64         `json:"ttl"`
	Data      json.RawMessage `json:"data"`
}

func (e legacyEntry) valid() bool {
	return e.Timestamp > 0 && e.Data != nil
}

func (e legacyEntry) expired(now time.Time) bool {
	cachedAt := time.Unix(int64(e.Timestamp), 0)
	return now.Sub(cachedAt) > time.Duration(e.TTL*float64(time.Second))
}

// Report summarizes what an import did.
type Report struct {
	// Imported counts entries written to the store.
	Imported int
	// Skipped counts entries that were already expired or unreadable.
	Skipped int
	// Removed reports whether the legacy file was deleted.
	Removed bool
}

// DetectLegacy returns the legacy cache path inside dir and whether it
// exists as a regular file.
func DetectLegacy(dir string) (string, bool) {
	path := filepath.Join(dir, legacyFileName)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return path, false
	}
	return path, true
}

// ImportLegacy reads the legacy cache file in dir, writes its live entries
// into the store's metadata table, and deletes the file once the imported
// entries read back successfully. A missing file is not an error. A failed
// import leaves the file in place so the next start retries.
func ImportLegacy(ctx context.Context, st *store.Store, dir string, logger zerolog.Logger) (Report, error) {
	path, ok := DetectLegacy(dir)
	if !ok {
		return Report{}, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Report{}, fmt.Errorf("migration: read %s: %w", path, err)
	}

	// Top level maps the tracker URL to its categories. The sqlite store
	// is already scoped to one tracker, so all URLs merge into it.
	var byURL map[string]map[string]json.RawMessage
	if err := json.Unmarshal(raw, &byURL); err != nil {
		return Report{}, fmt.Errorf("migration: parse %s: %w", path, err)
	}

	var (
		report   Report
		now      = time.Now()
		imported = make(map[[2]string]struct{})
	)

	for url, categories := range byURL {
		for category, blob := range categories {
			entries := splitCategory(blob)
			if entries == nil {
				logger.Warn().Str("url", url).Str("category", category).Msg("unreadable legacy category skipped")
				report.Skipped++
				continue
			}
			for key, entry := range entries {
				if !entry.valid() || entry.expired(now) {
					report.Skipped++
					continue
				}
				ttl := time.Duration(entry.TTL * float64(time.Second))
				cachedAt := time.Unix(int64(entry.Timestamp), 0)
				if err := st.SetMetaAt(ctx, category, key, entry.Data, ttl, cachedAt); err != nil {
					return report, fmt.Errorf("migration: import %s/%s: %w", category, key, err)
				}
				imported[[2]string{category, key}] = struct{}{}
				report.Imported++
			}
		}
	}

	// Verify before destroying the only copy.
	for ck := range imported {
		if _, err := st.Meta(ctx, ck[0], ck[1]); err != nil {
			return report, fmt.Errorf("migration: verify %s/%s: %w", ck[0], ck[1], err)
		}
	}

	if err := os.Remove(path); err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("legacy cache imported but not removed")
		return report, nil
	}
	report.Removed = true

	logger.Info().
		Int("imported", report.Imported).
		Int("skipped", report.Skipped).
		Str("path", path).
		Msg("legacy cache migrated")
	return report, nil
}

// splitCategory interprets a category blob as either a single entry or a
// map of keyed entries, which is how the old format stored both shapes.
func splitCategory(blob json.RawMessage) map[string]legacyEntry {
	var single legacyEntry
	if err := json.Unmarshal(blob, &single); err == nil && single.valid() {
		return map[string]legacyEntry{"": single}
	}

	var keyed map[string]legacyEntry
	if err := json.Unmarshal(blob, &keyed); err == nil {
		return keyed
	}
	return nil
}
