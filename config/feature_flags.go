package config

import (
	"hash/fnv"
	"os"
	"strconv"
	"strings"
	"sync"
)

// FeatureFlags toggles optional engine paths. A flag can be rolled out to a
// percentage of students; the bucket of a student is stable per flag.
type FeatureFlags struct {
	mu       sync.RWMutex
	features map[string]*Feature

	// studentOverrides: studentID -> feature -> enabled
	studentOverrides map[string]map[string]bool
}

// Feature represents a single feature flag.
type Feature struct {
	Name           string
	Description    string
	Enabled        bool
	RolloutPercent int
}

// Predefined feature flag names.
const (
	// Evaluate a student as soon as an investment.recorded event arrives.
	FeatureEventEvaluation = "engine.event_evaluation"

	// Fan events out to other instances through Redis pub/sub.
	FeatureRedisFanout = "engine.redis_fanout"

	FeatureDailyStreakJob   = "scheduler.daily_streak"
	FeatureWeeklySummaryJob = "scheduler.weekly_summary"

	// Expose manual award and revoke endpoints.
	FeatureManualAwards = "api.manual_awards"
)

// LoadFeatureFlags loads defaults and FEATURE_* overrides.
func LoadFeatureFlags() *FeatureFlags {
	ff := NewFeatureFlags()
	ff.loadFromEnvironment()
	return ff
}

// NewFeatureFlags returns the defaults without reading the environment.
func NewFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features:         make(map[string]*Feature),
		studentOverrides: make(map[string]map[string]bool),
	}
	ff.add(FeatureEventEvaluation, "Evaluate on investment.recorded", true)
	ff.add(FeatureRedisFanout, "Cross-instance events over Redis", true)
	ff.add(FeatureDailyStreakJob, "Daily streak evaluation pass", true)
	ff.add(FeatureWeeklySummaryJob, "Weekly unlock report", true)
	ff.add(FeatureManualAwards, "Admin award and revoke endpoints", true)
	return ff
}

func (ff *FeatureFlags) add(name, description string, enabled bool) {
	percent := 0
	if enabled {
		percent = 100
	}
	ff.features[name] = &Feature{Name: name, Description: description, Enabled: enabled, RolloutPercent: percent}
}

// loadFromEnvironment applies FEATURE_<NAME>=true|false|<percent>.
// Example: FEATURE_ENGINE_EVENT_EVALUATION=25
func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		val := os.Getenv(featureNameToEnvKey(name))
		if val == "" {
			continue
		}
		if b, err := strconv.ParseBool(val); err == nil {
			feature.Enabled = b
			feature.RolloutPercent = 0
			if b {
				feature.RolloutPercent = 100
			}
			continue
		}
		if p, err := strconv.Atoi(val); err == nil && p >= 0 && p <= 100 {
			feature.Enabled = p > 0
			feature.RolloutPercent = p
		}
	}
}

// "engine.event_evaluation" -> "FEATURE_ENGINE_EVENT_EVALUATION"
func featureNameToEnvKey(name string) string {
	return "FEATURE_" + strings.ReplaceAll(strings.ToUpper(name), ".", "_")
}

// IsEnabled reports whether a feature is on globally. Partial rollouts count
// as on; use IsEnabledFor for per-student decisions.
func (ff *FeatureFlags) IsEnabled(featureName string) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()
	f, ok := ff.features[featureName]
	return ok && f.Enabled && f.RolloutPercent > 0
}

// IsEnabledFor reports whether a feature is on for one student.
func (ff *FeatureFlags) IsEnabledFor(featureName, studentID string) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	if overrides, ok := ff.studentOverrides[studentID]; ok {
		if enabled, ok := overrides[featureName]; ok {
			return enabled
		}
	}

	f, ok := ff.features[featureName]
	if !ok || !f.Enabled {
		return false
	}
	if f.RolloutPercent >= 100 {
		return true
	}
	return inRollout(featureName, studentID, f.RolloutPercent)
}

func inRollout(featureName, studentID string, percent int) bool {
	h := fnv.New32a()
	h.Write([]byte(featureName))
	h.Write([]byte(studentID))
	return int(h.Sum32()%100) < percent
}

// SetStudentOverride forces a feature for one student.
func (ff *FeatureFlags) SetStudentOverride(studentID, featureName string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if _, ok := ff.studentOverrides[studentID]; !ok {
		ff.studentOverrides[studentID] = make(map[string]bool)
	}
	ff.studentOverrides[studentID][featureName] = enabled
}

// SetRolloutPercent updates the rollout percentage for a feature.
func (ff *FeatureFlags) SetRolloutPercent(featureName string, percent int) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	f, ok := ff.features[featureName]
	if !ok {
		return ErrFeatureNotFound
	}
	if percent < 0 || percent > 100 {
		return ErrInvalidRolloutPercent
	}
	f.RolloutPercent = percent
	f.Enabled = percent > 0
	return nil
}

// EnableFeature enables a feature at 100% rollout.
func (ff *FeatureFlags) EnableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 100)
}

// DisableFeature disables a feature completely.
func (ff *FeatureFlags) DisableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 0)
}

// GetAllFeatures returns a copy of all feature configurations.
func (ff *FeatureFlags) GetAllFeatures() map[string]Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()
	out := make(map[string]Feature, len(ff.features))
	for k, v := range ff.features {
		out[k] = *v
	}
	return out
}

// --- Errors ---

var (
	ErrFeatureNotFound       = &FeatureFlagError{Message: "feature not found"}
	ErrInvalidRolloutPercent = &FeatureFlagError{Message: "rollout percent must be 0-100"}
)

// FeatureFlagError represents a feature flag error.
type FeatureFlagError struct {
	Message string
}

func (e *FeatureFlagError) Error() string {
	return e.Message
}
