package scheduler

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTuning(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "drops.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoadTuning(t *testing.T) {
	path := writeTuning(t, `
lifetime_sec: 45
jitter_meters: 50
drop_chance: 0.25
min_participants: 2
rarities:
  - tier: common
    name: Citizen
    score: 10
    weight: 90
  - tier: legendary
    name: Pulse Icon
    score: 100
    weight: 10
`)
	tune, err := LoadTuning(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tune.LifetimeSec != 45 || tune.DropChance != 0.25 || len(tune.Rarities) != 2 {
		t.Fatalf("loaded %+v", tune)
	}
	if tune.totalWeight() != 100 {
		t.Fatalf("total weight = %d", tune.totalWeight())
	}
}

func TestLoadTuningRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"zero lifetime": `
lifetime_sec: 0
drop_chance: 0.5
rarities: [{tier: common, weight: 1}]
`,
		"chance above one": `
lifetime_sec: 30
drop_chance: 1.5
rarities: [{tier: common, weight: 1}]
`,
		"no tiers": `
lifetime_sec: 30
drop_chance: 0.5
rarities: []
`,
		"zero weights": `
lifetime_sec: 30
drop_chance: 0.5
rarities: [{tier: common, weight: 0}]
`,
	}
	for name, body := range cases {
		if _, err := LoadTuning(writeTuning(t, body)); err == nil {
			t.Errorf("%s: no error", name)
		}
	}
}

func TestPickCoversWeightRange(t *testing.T) {
	tune := DefaultTuning()
	total := tune.totalWeight()

	counts := map[string]int{}
	for roll := 0; roll < total; roll++ {
		counts[tune.pick(roll).Tier]++
	}
	for _, tier := range tune.Rarities {
		if counts[tier.Tier] != tier.Weight {
			t.Fatalf("tier %s picked %d times, want %d", tier.Tier, counts[tier.Tier], tier.Weight)
		}
	}
}

func TestDefaultTuningValid(t *testing.T) {
	if err := DefaultTuning().validate(); err != nil {
		t.Fatalf("default tuning invalid: %v", err)
	}
}
