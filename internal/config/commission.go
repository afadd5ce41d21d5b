package config

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
)

// CommissionConfig holds the per-level referral rates and the rank thresholds.
type CommissionConfig struct {
	// LevelRates[0] is the direct (level 1) rate.
	LevelRates []decimal.Decimal
	Ranks      []RankThreshold
}

type RankThreshold struct {
	Rank      string
	Threshold decimal.Decimal
}

type commissionFile struct {
	Levels []string `yaml:"levels"`
	Ranks  []struct {
		Name      string `yaml:"name"`
		Threshold string `yaml:"threshold"`
	} `yaml:"ranks"`
}

// DefaultCommission: 10% / 3% / 1%, ranks by cumulative indirect earnings (naira).
func DefaultCommission() CommissionConfig {
	return CommissionConfig{
		LevelRates: []decimal.Decimal{
			decimal.RequireFromString("0.10"),
			decimal.RequireFromString("0.03"),
			decimal.RequireFromString("0.01"),
		},
		Ranks: []RankThreshold{
			{Rank: "bronze", Threshold: decimal.Zero},
			{Rank: "silver", Threshold: decimal.NewFromInt(50_000)},
			{Rank: "gold", Threshold: decimal.NewFromInt(200_000)},
			{Rank: "platinum", Threshold: decimal.NewFromInt(500_000)},
			{Rank: "diamond", Threshold: decimal.NewFromInt(1_000_000)},
			{Rank: "master", Threshold: decimal.NewFromInt(5_000_000)},
		},
	}
}

// LoadCommission reads an optional YAML override, e.g.
//
//	levels: ["0.10", "0.03", "0.01"]
//	ranks:
//	  - {name: bronze, threshold: "0"}
//	  - {name: silver, threshold: "50000"}
func LoadCommission(path string) (CommissionConfig, error) {
	cfg := DefaultCommission()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read commission file %s: %w", path, err)
	}
	return ParseCommission(data)
}

func ParseCommission(data []byte) (CommissionConfig, error) {
	cfg := DefaultCommission()

	var f commissionFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return cfg, fmt.Errorf("failed to parse commission file: %w", err)
	}

	if len(f.Levels) > 0 {
		rates := make([]decimal.Decimal, 0, len(f.Levels))
		for i, l := range f.Levels {
			r, err := decimal.NewFromString(l)
			if err != nil {
				return cfg, fmt.Errorf("level %d: invalid rate %q: %w", i+1, l, err)
			}
			if r.IsNegative() || r.GreaterThan(decimal.NewFromInt(1)) {
				return cfg, fmt.Errorf("level %d: rate %s out of range", i+1, l)
			}
			rates = append(rates, r)
		}
		cfg.LevelRates = rates
	}

	if len(f.Ranks) > 0 {
		ranks := make([]RankThreshold, 0, len(f.Ranks))
		prev := decimal.NewFromInt(-1)
		for _, r := range f.Ranks {
			t, err := decimal.NewFromString(r.Threshold)
			if err != nil {
				return cfg, fmt.Errorf("rank %s: invalid threshold %q: %w", r.Name, r.Threshold, err)
			}
			if !t.GreaterThan(prev) {
				return cfg, fmt.Errorf("rank %s: thresholds must be strictly increasing", r.Name)
			}
			prev = t
			ranks = append(ranks, RankThreshold{Rank: r.Name, Threshold: t})
		}
		cfg.Ranks = ranks
	}

	return cfg, nil
}
