// Package blueprint defines vulnerability blueprints and their runtime
// registry. Blueprints are immutable YAML templates describing one
// vulnerability class; machines are instantiated from them.
package blueprint

import (
	"fmt"
	"math/rand"

	hferrors "github.com/dimasma0305/hackforge/internal/hackforge/errors"
)

// Variant is one concrete flavor of a blueprint's vulnerability class
type Variant struct {
	Name       string `yaml:"name"`
	Difficulty int    `yaml:"difficulty"`
}

// Infra describes the container infrastructure a blueprint needs
type Infra struct {
	Image         string `yaml:"image"`
	InternalPort  int    `yaml:"internal_port"`
	NeedsDatabase bool   `yaml:"needs_database"`
}

// Blueprint is an immutable template for one vulnerability class
type Blueprint struct {
	ID              string              `yaml:"blueprint_id"`
	Name            string              `yaml:"name"`
	Category        string              `yaml:"category"`
	Description     string              `yaml:"description"`
	DifficultyRange []int               `yaml:"difficulty_range"`
	Variants        []Variant           `yaml:"variants"`
	EntryPoints     []string            `yaml:"entry_points"`
	MutationAxes    map[string][]string `yaml:"mutation_axes"`
	Technologies    []string            `yaml:"technologies"`
	Infra           Infra               `yaml:"infra"`
}

// Validate checks a loaded blueprint for structural problems
func (b *Blueprint) Validate() error {
	if b.ID == "" {
		return fmt.Errorf("blueprint missing blueprint_id")
	}
	if len(b.DifficultyRange) != 2 {
		return fmt.Errorf("blueprint %s: difficulty_range must be [min, max]", b.ID)
	}
	if b.DifficultyRange[0] > b.DifficultyRange[1] {
		return fmt.Errorf("blueprint %s: inverted difficulty_range %v", b.ID, b.DifficultyRange)
	}
	if len(b.Variants) == 0 {
		return fmt.Errorf("blueprint %s: no variants defined", b.ID)
	}
	if b.Infra.Image == "" {
		return fmt.Errorf("blueprint %s: infra.image is required", b.ID)
	}
	if b.Infra.InternalPort <= 0 || b.Infra.InternalPort > 65535 {
		return fmt.Errorf("blueprint %s: invalid infra.internal_port %d", b.ID, b.Infra.InternalPort)
	}

	for _, v := range b.Variants {
		if v.Name == "" {
			return fmt.Errorf("blueprint %s: variant with empty name", b.ID)
		}
		if v.Difficulty < b.DifficultyRange[0] || v.Difficulty > b.DifficultyRange[1] {
			return fmt.Errorf("blueprint %s: variant %s difficulty %d outside range %v",
				b.ID, v.Name, v.Difficulty, b.DifficultyRange)
		}
	}

	return nil
}

// ClampDifficulty clamps the requested difficulty into the blueprint's range
func (b *Blueprint) ClampDifficulty(requested int) int {
	if requested < b.DifficultyRange[0] {
		return b.DifficultyRange[0]
	}
	if requested > b.DifficultyRange[1] {
		return b.DifficultyRange[1]
	}
	return requested
}

// PickVariant selects a variant for the requested difficulty. The difficulty
// is clamped into the blueprint's range first; variants at exactly the
// clamped difficulty are preferred, otherwise the hardest easier variant is
// used. Returns ErrInvalidDifficulty when no variant is at or below the
// clamped difficulty.
func (b *Blueprint) PickVariant(requested int, rng *rand.Rand) (Variant, int, error) {
	clamped := b.ClampDifficulty(requested)

	var exact []Variant
	var below []Variant
	bestBelow := 0
	for _, v := range b.Variants {
		switch {
		case v.Difficulty == clamped:
			exact = append(exact, v)
		case v.Difficulty < clamped:
			if v.Difficulty > bestBelow {
				bestBelow = v.Difficulty
				below = below[:0]
			}
			if v.Difficulty == bestBelow {
				below = append(below, v)
			}
		}
	}

	candidates := exact
	if len(candidates) == 0 {
		candidates = below
	}
	if len(candidates) == 0 {
		return Variant{}, 0, hferrors.Wrapf(hferrors.ErrInvalidDifficulty,
			"blueprint %s has no variant at or below difficulty %d", b.ID, clamped)
	}

	picked := candidates[rng.Intn(len(candidates))]
	return picked, picked.Difficulty, nil
}
