package maint

import (
	"fmt"
	"math/rand/v2"
	"strconv"

	"github.com/juju/clock"
	"github.com/ritzau/scene-maint/pkg/logging"
	"github.com/ritzau/scene-maint/pkg/scene"
)

// ColorLabel labels the random color transaction
const ColorLabel = "Apply Random Color"

// ColorOptions configures ApplyRandomColor
type ColorOptions struct {
	Options
	Rand  *rand.Rand  // Color source; a randomly seeded one when nil
	Clock clock.Clock // Stamps the material name; clock.WallClock when nil
}

// ColorResult reports the material created and what it was applied to
type ColorResult struct {
	Material string `json:"material"`
	Color    string `json:"color"`
	Faces    int    `json:"faces"`
}

// ApplyRandomColor creates a material with a random color and paints every
// selected face with it. Other selected entities are left alone. Material
// creation and painting share one atomic transaction, so nothing is left
// behind when there is no face to paint.
func ApplyRandomColor(s *scene.Scene, opts ColorOptions) (ColorResult, error) {
	var faces []scene.EntityID
	for _, id := range opts.targets(s) {
		if e, ok := s.Entity(id); ok && e.Kind == scene.KindFace {
			faces = append(faces, id)
		}
	}
	if len(faces) == 0 {
		return ColorResult{}, ErrEmptySelection
	}

	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.WallClock
	}

	res := ColorResult{
		Material: materialName(s, clk),
		Color:    fmt.Sprintf("#%02x%02x%02x", rng.IntN(256), rng.IntN(256), rng.IntN(256)),
	}
	log := logging.New("maint.color")

	err := inTransaction(s, ColorLabel, func() error {
		if err := s.AddMaterial(res.Material, res.Color); err != nil {
			return err
		}
		for _, id := range faces {
			if err := s.SetMaterial(id, res.Material); err != nil {
				return err
			}
			res.Faces++
		}
		return nil
	})
	if err != nil {
		log.Warn("Random color aborted", "error", err)
		return ColorResult{}, err
	}
	log.Debug("Random color applied", "material", res.Material, "color", res.Color, "faces", res.Faces)
	return res, nil
}

// materialName stamps the name with the time and adds a counter when a
// material of that name already exists
func materialName(s *scene.Scene, clk clock.Clock) string {
	base := "RandomColor_" + strconv.FormatInt(clk.Now().Unix(), 10)
	name := base
	for n := 2; ; n++ {
		if _, exists := s.Material(name); !exists {
			return name
		}
		name = base + "_" + strconv.Itoa(n)
	}
}
