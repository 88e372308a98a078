package score

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
)

// CalibrationConfig represents the JSON structure of the calibration file.
type CalibrationConfig struct {
	Version string  `json:"version"` // Config version for future compatibility
	Weights Weights `json:"weights"` // Weight overrides
}

// LoadCalibration loads scoring weights from a JSON calibration file.
// Partial configurations are merged with defaults: only non-zero values
// override. On any error the defaults are returned alongside the error so
// callers can degrade gracefully.
func LoadCalibration(filePath string) (*Weights, error) {
	if filePath == "" {
		return DefaultWeights(), nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		slog.Warn("failed to read score calibration file, using defaults",
			"path", filePath,
			"error", err)
		return DefaultWeights(), fmt.Errorf("failed to read calibration file: %w", err)
	}

	var config CalibrationConfig
	if err := json.Unmarshal(data, &config); err != nil {
		slog.Warn("failed to parse score calibration file, using defaults",
			"path", filePath,
			"error", err)
		return DefaultWeights(), fmt.Errorf("failed to parse calibration file: %w", err)
	}

	merged := MergeCalibration(DefaultWeights(), &config.Weights)
	logCalibrationOverrides(DefaultWeights(), merged)
	return merged, nil
}

// MergeCalibration merges override weights into base weights. Only
// non-zero override values are applied, which allows partial calibration
// files. Returns a new Weights struct.
func MergeCalibration(base *Weights, override *Weights) *Weights {
	if base == nil {
		base = DefaultWeights()
	}
	result := *base
	if override == nil {
		return &result
	}

	if override.Views != 0 {
		result.Views = override.Views
	}
	if override.Likes != 0 {
		result.Likes = override.Likes
	}
	if override.Comments != 0 {
		result.Comments = override.Comments
	}
	if override.Saves != 0 {
		result.Saves = override.Saves
	}
	if override.Shares != 0 {
		result.Shares = override.Shares
	}
	if override.FollowerNorm != 0 {
		result.FollowerNorm = override.FollowerNorm
	}
	if override.HalfLifeHours != 0 {
		result.HalfLifeHours = override.HalfLifeHours
	}
	if override.FeaturedBoost != 0 {
		result.FeaturedBoost = override.FeaturedBoost
	}

	return &result
}

// logCalibrationOverrides logs which weights differ from the defaults.
func logCalibrationOverrides(defaults *Weights, loaded *Weights) {
	var overrides []string

	check := func(name string, def, got float64) {
		if def != got {
			overrides = append(overrides, fmt.Sprintf("%s: %.2f -> %.2f", name, def, got))
		}
	}
	check("views", defaults.Views, loaded.Views)
	check("likes", defaults.Likes, loaded.Likes)
	check("comments", defaults.Comments, loaded.Comments)
	check("saves", defaults.Saves, loaded.Saves)
	check("shares", defaults.Shares, loaded.Shares)
	check("follower_norm", defaults.FollowerNorm, loaded.FollowerNorm)
	check("half_life_hours", defaults.HalfLifeHours, loaded.HalfLifeHours)
	check("featured_boost", defaults.FeaturedBoost, loaded.FeaturedBoost)

	if len(overrides) > 0 {
		slog.Info("loaded score calibration with overrides", "overrides", overrides)
	} else {
		slog.Info("loaded score calibration (using all defaults)")
	}
}
