package graph

import (
	"fmt"
)

// Validate checks the structural and numeric invariants of a raw strategy
// graph and returns its normalized form. It has no side effects; any error
// it returns describes a schema violation in the submitted graph.
//
// Invariants enforced:
//   - exactly one entry_condition node;
//   - at most one take_profit and one stop_loss node;
//   - connections form a single simple path (no branching, no cycles)
//     covering every node;
//   - take-profit and stop-loss percentages are positive magnitudes in
//     (0, 100], capital is positive, risk class is High/Medium/Low.
func Validate(g Graph) (*NormalizedGraph, error) {
	if len(g.Nodes) == 0 {
		return nil, fmt.Errorf("graph has no nodes")
	}

	byID := make(map[string]Node, len(g.Nodes))
	typeCount := make(map[string]int)
	for _, n := range g.Nodes {
		if n.ID == "" {
			return nil, fmt.Errorf("node with empty id")
		}
		if _, dup := byID[n.ID]; dup {
			return nil, fmt.Errorf("duplicate node id %q", n.ID)
		}
		byID[n.ID] = n
		typeCount[canonicalType(n.Type)]++
	}

	if typeCount[NodeEntryCondition] == 0 {
		return nil, fmt.Errorf("missing required entry_condition node")
	}
	if typeCount[NodeEntryCondition] > 1 {
		return nil, fmt.Errorf("graph must contain exactly one entry_condition node, found %d", typeCount[NodeEntryCondition])
	}
	if typeCount[NodeTakeProfit] > 1 {
		return nil, fmt.Errorf("graph must contain at most one take_profit node, found %d", typeCount[NodeTakeProfit])
	}
	if typeCount[NodeStopLoss] > 1 {
		return nil, fmt.Errorf("graph must contain at most one stop_loss node, found %d", typeCount[NodeStopLoss])
	}

	if err := validatePath(g, byID); err != nil {
		return nil, err
	}

	norm := &NormalizedGraph{
		EntryMode: ModeManual,
		RiskClass: RiskMedium,
	}

	for _, n := range g.Nodes {
		meta := n.Meta
		if meta == nil {
			meta = map[string]any{}
		}

		switch canonicalType(n.Type) {
		case NodeCategory:
			if c, ok := metaString(meta, "category", "symbol"); ok {
				norm.Category = c
			}

		case NodeEntryCondition:
			norm.EntryRules = metaRules(meta)
			if mode, ok := metaString(meta, "mode"); ok {
				if mode != ModeManual && mode != ModeAIOptimized {
					return nil, fmt.Errorf("node %q: unknown entry mode %q", n.ID, mode)
				}
				norm.EntryMode = mode
			}

		case NodeTakeProfit:
			pct, ok, err := metaFloat(meta, "target_pct", "percent")
			if err != nil {
				return nil, fmt.Errorf("node %q: %w", n.ID, err)
			}
			if !ok {
				return nil, fmt.Errorf("node %q: take_profit node missing target_pct", n.ID)
			}
			if pct <= 0 || pct > 100 {
				return nil, fmt.Errorf("node %q: take-profit percent must be a positive magnitude in (0, 100], got %.2f", n.ID, pct)
			}
			norm.TakeProfitPct = pct

		case NodeStopLoss:
			pct, ok, err := metaFloat(meta, "stop_pct", "percent")
			if err != nil {
				return nil, fmt.Errorf("node %q: %w", n.ID, err)
			}
			if !ok {
				return nil, fmt.Errorf("node %q: stop_loss node missing stop_pct", n.ID)
			}
			if pct <= 0 || pct > 100 {
				return nil, fmt.Errorf("node %q: stop-loss percent must be a positive magnitude in (0, 100], got %.2f", n.ID, pct)
			}
			norm.StopLossPct = pct

		case NodeCapital:
			amount, ok, err := metaFloat(meta, "amount", "capital")
			if err != nil {
				return nil, fmt.Errorf("node %q: %w", n.ID, err)
			}
			if ok {
				if amount <= 0 {
					return nil, fmt.Errorf("node %q: capital must be positive, got %.2f", n.ID, amount)
				}
				norm.Capital = amount
			}

		case NodeRiskClass:
			if level, ok := metaString(meta, "level", "risk"); ok {
				if level != RiskHigh && level != RiskMedium && level != RiskLow {
					return nil, fmt.Errorf("node %q: unknown risk class %q", n.ID, level)
				}
				norm.RiskClass = level
			}

		case NodeStart, NodeEnd:
			// structural markers, no payload

		default:
			return nil, fmt.Errorf("node %q: unknown node type %q", n.ID, n.Type)
		}
	}

	return norm, nil
}

// validatePath checks that the connections form one simple path visiting
// every node: each node has at most one inbound and one outbound edge,
// exactly one node starts the path, and walking it reaches all nodes.
func validatePath(g Graph, byID map[string]Node) error {
	if len(g.Nodes) == 1 {
		if len(g.Connections) > 0 {
			return fmt.Errorf("single-node graph must have no connections")
		}
		return nil
	}
	if len(g.Connections) != len(g.Nodes)-1 {
		return fmt.Errorf("graph must be a simple path: %d nodes need %d connections, found %d",
			len(g.Nodes), len(g.Nodes)-1, len(g.Connections))
	}

	next := make(map[string]string, len(g.Connections))
	indegree := make(map[string]int)
	for _, c := range g.Connections {
		if _, ok := byID[c.Source]; !ok {
			return fmt.Errorf("connection references unknown source node %q", c.Source)
		}
		if _, ok := byID[c.Target]; !ok {
			return fmt.Errorf("connection references unknown target node %q", c.Target)
		}
		if _, dup := next[c.Source]; dup {
			return fmt.Errorf("node %q has multiple outbound connections (branching is not allowed)", c.Source)
		}
		next[c.Source] = c.Target
		indegree[c.Target]++
		if indegree[c.Target] > 1 {
			return fmt.Errorf("node %q has multiple inbound connections (merging is not allowed)", c.Target)
		}
	}

	start := ""
	for _, n := range g.Nodes {
		if indegree[n.ID] == 0 {
			if start != "" {
				return fmt.Errorf("graph is disconnected: both %q and %q start a path", start, n.ID)
			}
			start = n.ID
		}
	}
	if start == "" {
		return fmt.Errorf("graph contains a cycle")
	}

	visited := 0
	for cur := start; cur != ""; cur = next[cur] {
		visited++
		if visited > len(g.Nodes) {
			return fmt.Errorf("graph contains a cycle")
		}
	}
	if visited != len(g.Nodes) {
		return fmt.Errorf("graph is not a single connected path: walked %d of %d nodes", visited, len(g.Nodes))
	}

	return nil
}
