package render

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/emicklei/dot"
)

const (
	processMapFile = "process_map.dot"
	fishboneFile   = "fishbone.dot"
)

var (
	// ErrNoSteps is returned when a process map has nothing to draw.
	ErrNoSteps = errors.New("No steps found in process map definition.")
	// ErrNoCategories is returned when a fishbone has no bones.
	ErrNoCategories = errors.New("Fishbone definition missing categories.")
)

// Text accepts a JSON string or any other scalar/value, which is kept as its
// compact JSON text. Model output is loose about ids and metrics.
type Text string

func (t *Text) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Text(s)
		return nil
	}
	raw := strings.TrimSpace(string(b))
	if raw == "null" {
		raw = ""
	}
	*t = Text(raw)
	return nil
}

// ProcessMap is the swimlane definition produced by the process map coach.
type ProcessMap struct {
	Roles []struct {
		ID   Text `json:"id"`
		Name Text `json:"name"`
	} `json:"roles"`
	Steps []struct {
		ID          Text `json:"id"`
		Name        Text `json:"name"`
		RoleID      Text `json:"role_id"`
		Description Text `json:"description"`
		Metric      Text `json:"metric"`
	} `json:"steps"`
	Edges []struct {
		From Text `json:"from"`
		To   Text `json:"to"`
		Note Text `json:"note"`
	} `json:"edges"`
}

// Fishbone is the cause-and-effect definition produced by the fishbone coach.
type Fishbone struct {
	Effect     Text `json:"effect"`
	Categories []struct {
		Name   Text `json:"name"`
		Causes []struct {
			Statement Text `json:"statement"`
			Evidence  Text `json:"evidence"`
		} `json:"causes"`
	} `json:"categories"`
}

// DiagramRenderer writes Graphviz DOT sources into the artifacts directory.
type DiagramRenderer struct {
	dir string
}

// NewDiagramRenderer creates a renderer writing under dir.
func NewDiagramRenderer(dir string) *DiagramRenderer {
	return &DiagramRenderer{dir: dir}
}

// RenderProcessMap draws one cluster per role with steps left to right.
func (r *DiagramRenderer) RenderProcessMap(def map[string]any) (string, error) {
	var pm ProcessMap
	if err := decodeInto(def, &pm); err != nil {
		return "", fmt.Errorf("decode process map: %w", err)
	}
	if len(pm.Steps) == 0 {
		return "", ErrNoSteps
	}
	return r.write(processMapFile, buildProcessMap(pm))
}

// RenderFishbone draws the effect head with category bones and causes.
func (r *DiagramRenderer) RenderFishbone(def map[string]any) (string, error) {
	var fb Fishbone
	if err := decodeInto(def, &fb); err != nil {
		return "", fmt.Errorf("decode fishbone: %w", err)
	}
	if len(fb.Categories) == 0 {
		return "", ErrNoCategories
	}
	return r.write(fishboneFile, buildFishbone(fb))
}

func buildProcessMap(pm ProcessMap) *dot.Graph {
	g := dot.NewGraph(dot.Directed)
	g.Attr("rankdir", "LR")
	g.Attr("fontname", "Helvetica")

	lanes := make(map[Text]*dot.Graph, len(pm.Roles))
	for _, role := range pm.Roles {
		lane := g.Subgraph(string(role.Name), dot.ClusterOption{})
		lane.Attr("style", "rounded")
		lane.Attr("color", "#555555")
		lanes[role.ID] = lane
	}

	nodes := make(map[Text]dot.Node, len(pm.Steps))
	for i, step := range pm.Steps {
		parent := g
		if lane, ok := lanes[step.RoleID]; ok {
			parent = lane
		}
		label := string(step.Name)
		if label == "" {
			label = "Step"
		}
		if step.Metric != "" {
			label += "\n(" + string(step.Metric) + ")"
		}
		id := string(step.ID)
		if id == "" {
			id = "step_" + strconv.Itoa(i+1)
		}
		n := parent.Node(id).
			Attr("label", label).
			Attr("shape", "box").
			Attr("style", "rounded,filled").
			Attr("fillcolor", "#e8f1fb").
			Attr("color", "#1f77b4")
		if step.Description != "" {
			n.Attr("tooltip", string(step.Description))
		}
		nodes[step.ID] = n
	}

	for _, e := range pm.Edges {
		from, okFrom := nodes[e.From]
		to, okTo := nodes[e.To]
		if !okFrom || !okTo {
			continue
		}
		edge := g.Edge(from, to).Attr("color", "#1f77b4")
		if e.Note != "" {
			edge.Attr("label", string(e.Note))
		}
	}
	return g
}

func buildFishbone(fb Fishbone) *dot.Graph {
	g := dot.NewGraph(dot.Directed)
	g.Attr("rankdir", "RL")
	g.Attr("fontname", "Helvetica")

	effect := string(fb.Effect)
	if effect == "" {
		effect = "Problem"
	}
	head := g.Node("effect").
		Attr("label", effect).
		Attr("shape", "box").
		Attr("style", "filled").
		Attr("fillcolor", "#fde2e1")

	for i, cat := range fb.Categories {
		name := string(cat.Name)
		if name == "" {
			name = "Category"
		}
		bone := g.Node("category_" + strconv.Itoa(i+1)).
			Attr("label", name).
			Attr("shape", "box").
			Attr("color", "#1f77b4")
		g.Edge(bone, head).Attr("color", "#1f77b4").Attr("penwidth", "2")

		for j, cause := range cat.Causes {
			label := string(cause.Statement)
			if label == "" {
				label = "Cause"
			}
			if cause.Evidence != "" {
				label += "\nEvidence: " + string(cause.Evidence)
			}
			c := g.Node(fmt.Sprintf("cause_%d_%d", i+1, j+1)).
				Attr("label", label).
				Attr("shape", "note").
				Attr("color", "#4c78a8")
			g.Edge(c, bone).Attr("color", "#4c78a8")
		}
	}
	return g
}

func (r *DiagramRenderer) write(name string, g *dot.Graph) (string, error) {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", fmt.Errorf("create artifacts dir: %w", err)
	}
	path := filepath.Join(r.dir, name)
	if err := os.WriteFile(path, []byte(g.String()), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	return path, nil
}

func decodeInto(src map[string]any, dst any) error {
	raw, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}
