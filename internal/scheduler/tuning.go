package scheduler

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RarityTier is one row of the weighted rarity table.
type RarityTier struct {
	Tier   string `yaml:"tier"`
	Name   string `yaml:"name"`
	Score  int    `yaml:"score"`
	Weight int    `yaml:"weight"`
}

// DropTuning shapes the drop duty. Loaded from drops.yaml; intervals
// live in the service config, not here.
type DropTuning struct {
	LifetimeSec     int     `yaml:"lifetime_sec"`
	JitterMeters    float64 `yaml:"jitter_meters"`
	DropChance      float64 `yaml:"drop_chance"`
	MinParticipants int     `yaml:"min_participants"`

	Rarities []RarityTier `yaml:"rarities"`
}

func DefaultTuning() DropTuning {
	return DropTuning{
		LifetimeSec:     30,
		JitterMeters:    75,
		DropChance:      0.5,
		MinParticipants: 3,
		Rarities: []RarityTier{
			{Tier: "common", Name: "Citizen", Score: 10, Weight: 50},
			{Tier: "rare", Name: "City Explorer", Score: 30, Weight: 30},
			{Tier: "epic", Name: "Urban Legend", Score: 60, Weight: 15},
			{Tier: "legendary", Name: "Pulse Icon", Score: 100, Weight: 5},
		},
	}
}

func LoadTuning(path string) (DropTuning, error) {
	var t DropTuning
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("drops.yaml: %w", err)
	}
	if err := t.validate(); err != nil {
		return t, fmt.Errorf("drops.yaml: %w", err)
	}
	return t, nil
}

func (t DropTuning) validate() error {
	if t.LifetimeSec <= 0 {
		return fmt.Errorf("lifetime_sec must be positive")
	}
	if t.DropChance < 0 || t.DropChance > 1 {
		return fmt.Errorf("drop_chance must be in [0,1]")
	}
	if len(t.Rarities) == 0 {
		return fmt.Errorf("at least one rarity tier required")
	}
	total := 0
	for _, r := range t.Rarities {
		if r.Weight < 0 {
			return fmt.Errorf("rarity %q: negative weight", r.Tier)
		}
		total += r.Weight
	}
	if total == 0 {
		return fmt.Errorf("rarity weights sum to zero")
	}
	return nil
}

// pick selects a tier by weight given a roll in [0, totalWeight).
func (t DropTuning) pick(roll int) RarityTier {
	for _, r := range t.Rarities {
		if roll < r.Weight {
			return r
		}
		roll -= r.Weight
	}
	return t.Rarities[len(t.Rarities)-1]
}

func (t DropTuning) totalWeight() int {
	total := 0
	for _, r := range t.Rarities {
		total += r.Weight
	}
	return total
}
