package purge

import (
	"errors"
	"fmt"

	"github.com/ritzau/scene-maint/pkg/scene"
)

// ErrInvalidSteps is returned by NewPipeline for unusable step lists
var ErrInvalidSteps = errors.New("purge: invalid steps")

// Step is one cleanup stage. Action runs inside the step's transaction and
// returns how many items it removed.
type Step struct {
	Label  string
	Weight int
	Action func(s *scene.Scene) (int, error)
}

// DefaultSteps returns the standard purge: definitions, materials, layers,
// stray images
func DefaultSteps() []Step {
	return []Step{
		{
			Label:  "Purge unused definitions",
			Weight: 40,
			Action: func(s *scene.Scene) (int, error) { return s.PurgeUnusedDefinitions() },
		},
		{
			Label:  "Purge unused materials",
			Weight: 30,
			Action: func(s *scene.Scene) (int, error) { return s.PurgeUnusedMaterials(), nil },
		},
		{
			Label:  "Purge unused layers",
			Weight: 20,
			Action: func(s *scene.Scene) (int, error) { return s.PurgeUnusedLayers(), nil },
		},
		{
			Label:  "Purge stray images",
			Weight: 10,
			Action: func(s *scene.Scene) (int, error) { return s.PurgeStrayImages() },
		},
	}
}

// validateSteps requires a non-empty list of labelled steps whose positive
// weights add up to 100
func validateSteps(steps []Step) error {
	if len(steps) == 0 {
		return fmt.Errorf("no steps: %w", ErrInvalidSteps)
	}
	total := 0
	for i, st := range steps {
		if st.Label == "" {
			return fmt.Errorf("step %d has no label: %w", i, ErrInvalidSteps)
		}
		if st.Action == nil {
			return fmt.Errorf("step %q has no action: %w", st.Label, ErrInvalidSteps)
		}
		if st.Weight <= 0 {
			return fmt.Errorf("step %q has weight %d: %w", st.Label, st.Weight, ErrInvalidSteps)
		}
		total += st.Weight
	}
	if total != 100 {
		return fmt.Errorf("weights sum to %d, want 100: %w", total, ErrInvalidSteps)
	}
	return nil
}
