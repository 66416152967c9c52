package graph

import (
	"fmt"
	"sort"
	"strings"
)

// MermaidOptions configures Exporter.Mermaid.
type MermaidOptions struct {
	// Direction is a Mermaid flowchart direction ("TD", "LR", ...).
	// Defaults to "TD".
	Direction string
	// PrintConditional labels conditional edges with the routing label
	// they carry in the router's mapping.
	PrintConditional bool
}

// Exporter renders a StateGraph's shape as text, for documentation or
// debugging — it does not require the graph to be compiled.
type Exporter struct {
	Title string
	graph *StateGraph
}

// NewExporter wraps g for rendering under the given title.
func NewExporter(title string, g *StateGraph) *Exporter {
	return &Exporter{Title: title, graph: g}
}

// Mermaid renders g as a Mermaid flowchart definition.
func (ex *Exporter) Mermaid(opts MermaidOptions) string {
	direction := opts.Direction
	if direction == "" {
		direction = "TD"
	}

	var b strings.Builder
	if ex.Title != "" {
		fmt.Fprintf(&b, "---\ntitle: %s\n---\n", ex.Title)
	}
	fmt.Fprintf(&b, "flowchart %s\n", direction)

	for _, id := range ex.sortedNodeIDs() {
		fmt.Fprintf(&b, "    %s[%s]\n", mermaidID(id), id)
	}
	b.WriteString("    " + mermaidID(START) + "((start))\n")
	b.WriteString("    " + mermaidID(END) + "((end))\n")

	for _, source := range ex.graph.order {
		e := ex.graph.edges[source]
		if e.Condition != nil {
			labels := sortedKeys(e.Condition.Mapping)
			for _, label := range labels {
				target := e.Condition.Mapping[label]
				if opts.PrintConditional {
					fmt.Fprintf(&b, "    %s -- %s --> %s\n", mermaidID(source), label, mermaidID(target))
				} else {
					fmt.Fprintf(&b, "    %s -.-> %s\n", mermaidID(source), mermaidID(target))
				}
			}
			continue
		}
		for _, t := range e.Targets {
			fmt.Fprintf(&b, "    %s --> %s\n", mermaidID(source), mermaidID(t))
		}
	}
	return b.String()
}

// PlantUML renders g as a PlantUML activity/state diagram.
func (ex *Exporter) PlantUML() string {
	var b strings.Builder
	b.WriteString("@startuml\n")
	if ex.Title != "" {
		fmt.Fprintf(&b, "title %s\n", ex.Title)
	}
	b.WriteString("[*] --> " + plantUMLID(START) + "\n")

	for _, id := range ex.sortedNodeIDs() {
		fmt.Fprintf(&b, "state %s\n", plantUMLID(id))
	}

	for _, source := range ex.graph.order {
		e := ex.graph.edges[source]
		if e.Condition != nil {
			for _, label := range sortedKeys(e.Condition.Mapping) {
				target := e.Condition.Mapping[label]
				fmt.Fprintf(&b, "%s --> %s : %s\n", plantUMLID(source), plantUMLID(target), label)
			}
			continue
		}
		for _, t := range e.Targets {
			fmt.Fprintf(&b, "%s --> %s\n", plantUMLID(source), plantUMLID(t))
		}
	}
	b.WriteString("@enduml\n")
	return b.String()
}

func (ex *Exporter) sortedNodeIDs() []string {
	ids := make([]string, 0, len(ex.graph.nodes))
	for id := range ex.graph.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func mermaidID(id string) string {
	switch id {
	case START:
		return "START"
	case END:
		return "END"
	default:
		return strings.NewReplacer("/", "_", "-", "_", ".", "_").Replace(id)
	}
}

func plantUMLID(id string) string {
	return mermaidID(id)
}
