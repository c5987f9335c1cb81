// Package config holds the reward policy knobs. They were revised several
// times historically without touching ledger mechanics, so they are named
// configuration, never embedded literals.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config is the reward policy.
type Config struct {
	// PenaltyMultiplier prices an invalid issue above a valid one's earnings
	// to discourage low-effort submissions.
	PenaltyMultiplier float64
	// StarBonus is the net-point value of one starred target repo.
	StarBonus float64
	// WeightPerPoint converts net points to raw weight: 50 net points at the
	// default is one full unit of weight.
	WeightPerPoint float64
	// DefaultBonusDuration applies when an override grant omits a duration.
	DefaultBonusDuration time.Duration
	// PublishInterval is the weights cache recompute cadence.
	PublishInterval time.Duration
	// LeaderboardLimit caps leaderboard responses.
	LeaderboardLimit int
	// ValidLabel / InvalidLabel are the label names the ledger reacts to.
	ValidLabel   string
	InvalidLabel string
}

// Default returns the policy defaults.
func Default() Config {
	return Config{
		PenaltyMultiplier:    2.0,
		StarBonus:            0.25,
		WeightPerPoint:       0.02,
		DefaultBonusDuration: 24 * time.Hour,
		PublishInterval:      30 * time.Second,
		LeaderboardLimit:     100,
		ValidLabel:           "valid",
		InvalidLabel:         "invalid",
	}
}

// FromEnv overlays environment overrides on the defaults.
func FromEnv() Config {
	cfg := Default()
	if v := getFloat("REWARDS_PENALTY_MULTIPLIER"); v > 0 {
		cfg.PenaltyMultiplier = v
	}
	if v := getFloat("REWARDS_STAR_BONUS"); v > 0 {
		cfg.StarBonus = v
	}
	if v := getFloat("REWARDS_WEIGHT_PER_POINT"); v > 0 {
		cfg.WeightPerPoint = v
	}
	if v := getDuration("REWARDS_DEFAULT_BONUS_DURATION"); v > 0 {
		cfg.DefaultBonusDuration = v
	}
	if v := getDuration("REWARDS_PUBLISH_INTERVAL"); v > 0 {
		cfg.PublishInterval = v
	}
	if v := getInt("REWARDS_LEADERBOARD_LIMIT"); v > 0 {
		cfg.LeaderboardLimit = v
	}
	if v := os.Getenv("REWARDS_VALID_LABEL"); v != "" {
		cfg.ValidLabel = v
	}
	if v := os.Getenv("REWARDS_INVALID_LABEL"); v != "" {
		cfg.InvalidLabel = v
	}
	return cfg
}

func getFloat(key string) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return 0
}

func getInt(key string) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}

func getDuration(key string) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return 0
}
