package taskgraph

import (
	"fmt"
	"strings"

	"git.home.luguber.info/inful/frontbuild/internal/stage"
)

// VisualizationFormat represents the output format for graph visualization.
type VisualizationFormat string

const (
	FormatText    VisualizationFormat = "text"
	FormatMermaid VisualizationFormat = "mermaid"
	FormatDOT     VisualizationFormat = "dot"
)

// Visualize renders the graph in the given format.
func (g *Graph) Visualize(format VisualizationFormat) (string, error) {
	switch format {
	case FormatText, "":
		return g.visualizeText(), nil
	case FormatMermaid:
		return g.visualizeMermaid(), nil
	case FormatDOT:
		return g.visualizeDOT(), nil
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}

func (g *Graph) visualizeText() string {
	var sb strings.Builder
	sb.WriteString("Task Graph\n")
	sb.WriteString("==========\n\n")
	for i, name := range g.order {
		s := g.stage(name)
		prefix := "├──"
		if i == len(g.order)-1 {
			prefix = "└──"
		}
		fmt.Fprintf(&sb, "%s [%s] -> %s\n", prefix, name, s.OutDir)
		if len(s.DependsOn) > 0 {
			connector := "│  "
			if i == len(g.order)-1 {
				connector = "   "
			}
			fmt.Fprintf(&sb, "%s   ⤷ depends on: %s\n", connector, strings.Join(namesOf(s.DependsOn), ", "))
		}
	}
	fmt.Fprintf(&sb, "\nTotal: %d stages, %d workers\n", len(g.order), g.workers)
	return sb.String()
}

func (g *Graph) visualizeMermaid() string {
	var sb strings.Builder
	sb.WriteString("```mermaid\n")
	sb.WriteString("graph TD\n")
	for _, name := range g.order {
		fmt.Fprintf(&sb, "    %s[\"%s\"]\n", nodeID(name), name)
	}
	for _, name := range g.order {
		for _, dep := range g.stage(name).DependsOn {
			fmt.Fprintf(&sb, "    %s --> %s\n", nodeID(dep), nodeID(name))
		}
	}
	sb.WriteString("```\n")
	return sb.String()
}

func (g *Graph) visualizeDOT() string {
	var sb strings.Builder
	sb.WriteString("digraph taskgraph {\n")
	sb.WriteString("    rankdir=LR;\n")
	sb.WriteString("    node [shape=box];\n")
	for _, name := range g.order {
		fmt.Fprintf(&sb, "    %q;\n", string(name))
	}
	for _, name := range g.order {
		for _, dep := range g.stage(name).DependsOn {
			fmt.Fprintf(&sb, "    %q -> %q;\n", string(dep), string(name))
		}
	}
	sb.WriteString("}\n")
	return sb.String()
}

// nodeID sanitizes a stage name for Mermaid.
func nodeID(name stage.Name) string {
	return strings.NewReplacer("-", "", "_", "", ".", "", " ", "").Replace(string(name))
}
