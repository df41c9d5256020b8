package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/ritzau/scene-maint/pkg/maint"
	"github.com/ritzau/scene-maint/pkg/model"
	"github.com/ritzau/scene-maint/pkg/purge"
	"github.com/ritzau/scene-maint/pkg/scene"
)

// Color definitions
var (
	bold   = color.New(color.Bold)
	red    = color.New(color.FgRed)
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	cyan   = color.New(color.FgCyan)
)

// PrintSceneSummary prints the header of a scene
func PrintSceneSummary(w io.Writer, path string, sum model.Summary) {
	bold.Fprintln(w, "Scene Maintenance")
	bold.Fprintln(w, "=================")
	if path != "" {
		fmt.Fprintf(w, "Document: %s\n", path)
	}
	fmt.Fprintf(w, "Revision: %d\n", sum.Revision)
	fmt.Fprintf(w, "Entities: %d, definitions: %d\n", sum.Stats.Entities, sum.Stats.Definitions)
	fmt.Fprintf(w, "Materials: %d, layers: %d, images: %d\n", sum.Stats.Materials, sum.Stats.Layers, sum.Stats.Images)
	if len(sum.Selection) > 0 {
		cyan.Fprintf(w, "Selected: %d\n", len(sum.Selection))
	}
	fmt.Fprintln(w)
}

// PrintDefinitions lists the definition registry, unused definitions flagged
func PrintDefinitions(w io.Writer, defs []model.DefinitionSummary) {
	bold.Fprintln(w, "DEFINITIONS:")
	if len(defs) == 0 {
		fmt.Fprintln(w, "  (none)")
		return
	}
	for _, d := range defs {
		kind := "component"
		if d.Group {
			kind = "group"
		}
		line := fmt.Sprintf("  %-24s %-9s %3d instances", d.Name, kind, d.Instances)
		switch {
		case d.Unused:
			yellow.Fprintf(w, "%s (unused)\n", line)
		case !d.Live:
			yellow.Fprintf(w, "%s (not placed)\n", line)
		default:
			fmt.Fprintln(w, line)
		}
	}
}

// PrintSceneTree prints the model root and the definitions instances
// expand to, one level of indentation per nesting level
func PrintSceneTree(w io.Writer, s *scene.Scene) {
	bold.Fprintln(w, "MODEL:")
	printContent(w, s, scene.RootID, 1, map[scene.DefinitionID]bool{})
}

func printContent(w io.Writer, s *scene.Scene, parent scene.DefinitionID, depth int, path map[scene.DefinitionID]bool) {
	indent := strings.Repeat("  ", depth)
	geometry := 0
	for _, id := range s.Content(parent) {
		e, ok := s.Entity(id)
		if !ok {
			continue
		}
		if !e.Kind.IsInstance() {
			geometry++
			continue
		}
		info, _ := s.Definition(e.Definition)
		name := e.Name
		if name == "" {
			name = fmt.Sprintf("#%d", id)
		}
		fmt.Fprintf(w, "%s%s ", indent, name)
		cyan.Fprintf(w, "<%s %s>", e.Kind, info.Name)
		if info.InstanceCount > 1 {
			yellow.Fprintf(w, " shared x%d", info.InstanceCount)
		}
		fmt.Fprintln(w)

		if path[e.Definition] {
			red.Fprintf(w, "%s  (recursive)\n", indent)
			continue
		}
		path[e.Definition] = true
		printContent(w, s, e.Definition, depth+1, path)
		delete(path, e.Definition)
	}
	if geometry > 0 {
		fmt.Fprintf(w, "%s%d geometry entities\n", indent, geometry)
	}
}

// PrintDeleteReport prints the outcome of a deep delete
func PrintDeleteReport(w io.Writer, res maint.DeleteResult) {
	green.Fprintf(w, "✓ Deep Delete: removed %d entities, reclaimed %d definitions\n", res.Removed, res.Reclaimed)
	if res.Skipped > 0 {
		yellow.Fprintf(w, "  Skipped %d handles already gone\n", res.Skipped)
	}
}

// PrintUniqueReport prints the outcome of a deep unique
func PrintUniqueReport(w io.Writer, res maint.UniqueResult) {
	green.Fprintf(w, "✓ Deep Unique: %d instances made unique\n", res.Instances)
	fmt.Fprintf(w, "  Cloned %d definitions, rebound %d nested instances\n", res.Cloned, res.Rebound)
}

// PrintColorReport prints the material a random color run created
func PrintColorReport(w io.Writer, res maint.ColorResult) {
	green.Fprintf(w, "✓ Apply Random Color: painted %d faces\n", res.Faces)
	fmt.Fprintf(w, "  Material %s (%s)\n", res.Material, res.Color)
}

// PrintPurgeState prints a pipeline state with a color based on its phase
func PrintPurgeState(w io.Writer, st purge.State) {
	switch st.Phase {
	case purge.PhaseCompleted:
		green.Fprintf(w, "✓ Purge completed (%d%%)\n", st.Progress)
	case purge.PhaseFailed:
		red.Fprintf(w, "✗ Purge failed at %s (%d%%): %s\n", st.Step, st.Progress, st.Error)
	case purge.PhaseRunning:
		cyan.Fprintf(w, "Purge running: %d steps done (%d%%)\n", st.StepIndex, st.Progress)
	default:
		fmt.Fprintln(w, "Purge idle")
	}
}

// PrintError prints a failed operation without aborting the program
func PrintError(w io.Writer, op string, err error) {
	red.Fprintf(w, "✗ %s: %v\n", op, err)
}
