// Package graph defines the declarative strategy graph callers submit and
// its validation into the normalized form the signal compiler consumes.
package graph

import (
	"fmt"
	"strconv"
)

// Canonical node types. Incoming graphs may use aliases (see typeAliases).
const (
	NodeStart          = "start"
	NodeEnd            = "end"
	NodeCategory       = "category"
	NodeEntryCondition = "entry_condition"
	NodeTakeProfit     = "take_profit"
	NodeStopLoss       = "stop_loss"
	NodeCapital        = "capital"
	NodeRiskClass      = "risk_class"
)

// Entry condition modes
const (
	ModeManual      = "manual"
	ModeAIOptimized = "ai_optimized"
)

// Risk classes
const (
	RiskHigh   = "High"
	RiskMedium = "Medium"
	RiskLow    = "Low"
)

// typeAliases maps the node type spellings seen in the wild to canonical ones.
var typeAliases = map[string]string{
	"crypto_category": NodeCategory,
	"entry":           NodeEntryCondition,
	"exit_target":     NodeTakeProfit,
	"risk":            NodeRiskClass,
}

// Node is one typed node of a strategy graph. Meta carries the node's
// type-specific payload (rules, percentages, amounts) as decoded JSON.
type Node struct {
	ID   string         `json:"id"`
	Type string         `json:"type"`
	Meta map[string]any `json:"meta,omitempty"`
}

// Connection is one directed edge between two nodes.
type Connection struct {
	ID     string `json:"id,omitempty"`
	Source string `json:"source"`
	Target string `json:"target"`
}

// Graph is the raw strategy graph as submitted by a caller.
type Graph struct {
	Nodes       []Node       `json:"nodes"`
	Connections []Connection `json:"connections"`
}

// NormalizedGraph is the validated, alias-resolved view of a strategy graph.
// Percentages are positive magnitudes relative to entry price; zero means
// the node was absent.
type NormalizedGraph struct {
	Category      string
	EntryMode     string
	EntryRules    []string
	TakeProfitPct float64
	StopLossPct   float64
	Capital       float64
	RiskClass     string
}

// canonicalType resolves a node type through the alias table.
func canonicalType(t string) string {
	if c, ok := typeAliases[t]; ok {
		return c
	}
	return t
}

// metaString reads the first present string value among keys from a node meta.
func metaString(meta map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := meta[k]; ok {
			if s, ok := v.(string); ok {
				return s, true
			}
		}
	}
	return "", false
}

// metaFloat reads the first present numeric value among keys from a node
// meta. JSON decoding yields float64, but string-typed numbers are accepted
// too since flowchart editors serialize them inconsistently.
func metaFloat(meta map[string]any, keys ...string) (float64, bool, error) {
	for _, k := range keys {
		v, ok := meta[k]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			return n, true, nil
		case int:
			return float64(n), true, nil
		case string:
			f, err := strconv.ParseFloat(n, 64)
			if err != nil {
				return 0, true, fmt.Errorf("field %q is not numeric: %q", k, n)
			}
			return f, true, nil
		default:
			return 0, true, fmt.Errorf("field %q has unsupported type %T", k, v)
		}
	}
	return 0, false, nil
}

// metaRules reads the entry rule list, accepting either a string slice or a
// single rule string.
func metaRules(meta map[string]any) []string {
	v, ok := meta["rules"]
	if !ok {
		if s, ok := metaString(meta, "rule", "condition"); ok && s != "" {
			return []string{s}
		}
		return nil
	}
	switch rules := v.(type) {
	case []any:
		out := make([]string, 0, len(rules))
		for _, r := range rules {
			if s, ok := r.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return rules
	case string:
		if rules == "" {
			return nil
		}
		return []string{rules}
	default:
		return nil
	}
}
