package config

import (
	"hash/fnv"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// FeatureFlags manages toggles for optional parts of the monitoring flow.
// A feature can be rolled out to a percentage of students; assignment is
// stable per student.
type FeatureFlags struct {
	mu       sync.RWMutex
	features map[string]*Feature
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// Rollout percentage (0-100), bucketed by student id.
	RolloutPercent int
}

// Predefined feature flag names.
const (
	FeatureRecommendations = "result.recommendations" // ask the generator after a finished lesson
	FeatureLiveReadout     = "monitor.live_readout"   // print per-frame attention while monitoring
	FeatureJournal         = "history.journal"        // keep a local record of monitoring runs
	FeatureSessionCache    = "session.cache"          // reuse resolved session ids across runs
)

// LoadFeatureFlags loads feature flags with defaults and env overrides.
func LoadFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{features: make(map[string]*Feature)}
	ff.register(FeatureRecommendations, "Request recommendations after monitoring", true)
	ff.register(FeatureLiveReadout, "Show live attention readout", true)
	ff.register(FeatureJournal, "Record monitoring runs in the journal", true)
	ff.register(FeatureSessionCache, "Cache resolved session ids", true)
	ff.loadFromEnvironment()
	return ff
}

func (ff *FeatureFlags) register(name, description string, enabled bool) {
	pct := 0
	if enabled {
		pct = 100
	}
	ff.features[name] = &Feature{Name: name, Description: description, Enabled: enabled, RolloutPercent: pct}
}

// loadFromEnvironment applies FEATURE_<NAME>=true|false|<percent>.
// Example: FEATURE_RESULT_RECOMMENDATIONS=false
func (ff *FeatureFlags) loadFromEnvironment() {
	for name, f := range ff.features {
		val := os.Getenv(featureNameToEnvKey(name))
		if val == "" {
			continue
		}
		if b, err := strconv.ParseBool(val); err == nil {
			f.Enabled = b
			f.RolloutPercent = 0
			if b {
				f.RolloutPercent = 100
			}
			continue
		}
		if p, err := strconv.Atoi(val); err == nil && p >= 0 && p <= 100 {
			f.Enabled = p > 0
			f.RolloutPercent = p
		}
	}
}

// featureNameToEnvKey converts "result.recommendations" to "FEATURE_RESULT_RECOMMENDATIONS".
func featureNameToEnvKey(name string) string {
	return "FEATURE_" + strings.ReplaceAll(strings.ToUpper(name), ".", "_")
}

// IsEnabled reports whether a feature is on for everyone. Nil flags enable nothing.
func (ff *FeatureFlags) IsEnabled(name string) bool {
	return ff.IsEnabledFor(name, "")
}

// IsEnabledFor reports whether a feature is on for a student. Partial
// rollouts need a student id; without one they count as off.
func (ff *FeatureFlags) IsEnabledFor(name string, studentID string) bool {
	if ff == nil {
		return false
	}
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	f, ok := ff.features[name]
	if !ok || !f.Enabled {
		return false
	}
	if f.RolloutPercent >= 100 {
		return true
	}
	if studentID == "" {
		return false
	}
	return inRollout(studentID, name, f.RolloutPercent)
}

// inRollout uses consistent hashing so students stay in their bucket.
func inRollout(studentID, name string, percent int) bool {
	h := fnv.New32a()
	h.Write([]byte(name))
	h.Write([]byte(studentID))
	return int(h.Sum32()%100) < percent
}

// Set turns a feature fully on or off.
func (ff *FeatureFlags) Set(name string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if f, ok := ff.features[name]; ok {
		f.Enabled = enabled
		f.RolloutPercent = 0
		if enabled {
			f.RolloutPercent = 100
		}
	}
}

// Names returns registered feature names in sorted order.
func (ff *FeatureFlags) Names() []string {
	ff.mu.RLock()
	defer ff.mu.RUnlock()
	names := make([]string, 0, len(ff.features))
	for n := range ff.features {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
