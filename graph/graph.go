// Package graph renders a machine definition as a Graphviz DOT document,
// one node per state and one edge per transition, via
// github.com/awalterschulze/gographviz.
package graph

import (
	"fmt"

	"github.com/awalterschulze/gographviz"

	"github.com/julesgosnell/claij/fsm"
)

// Render builds the DOT source for m: states become nodes (the start and
// end states rendered as double-circles), transitions become directed
// edges labelled with the transition's label, if any.
func Render(m *fsm.Machine) (string, error) {
	g := gographviz.NewGraph()
	if err := g.SetName(quoteID(m.ID)); err != nil {
		return "", fmt.Errorf("graph: set name: %w", err)
	}
	if err := g.SetDir(true); err != nil {
		return "", fmt.Errorf("graph: set directed: %w", err)
	}

	for _, s := range m.States {
		attrs := map[string]string{"label": fmt.Sprintf("%q", nodeLabel(s))}
		if s.ID == fsm.StartStateID || s.ID == fsm.EndStateID {
			attrs["shape"] = "doublecircle"
		} else {
			attrs["shape"] = "box"
		}
		if err := g.AddNode(quoteID(m.ID), quoteID(s.ID), attrs); err != nil {
			return "", fmt.Errorf("graph: add node %q: %w", s.ID, err)
		}
	}

	for _, t := range m.Transitions {
		attrs := map[string]string{}
		if t.Label != "" {
			attrs["label"] = fmt.Sprintf("%q", t.Label)
		}
		if t.Omit {
			attrs["style"] = "dashed"
		}
		if err := g.AddEdge(quoteID(t.ID.From), quoteID(t.ID.To), true, attrs); err != nil {
			return "", fmt.Errorf("graph: add edge %s: %w", t.ID, err)
		}
	}

	return g.String(), nil
}

func nodeLabel(s *fsm.State) string {
	if s.Action == "" {
		return s.ID
	}
	return fmt.Sprintf("%s\\n[%s]", s.ID, s.Action)
}

func quoteID(id string) string {
	return fmt.Sprintf("%q", id)
}
