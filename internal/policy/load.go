package policy

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"epicore/internal/simerr"
)

// Date is a calendar date in configuration.
type Date struct {
	time.Time
}

var dateLayouts = []string{time.DateOnly, time.DateTime, time.RFC3339}

// UnmarshalYAML accepts YYYY-MM-DD, "YYYY-MM-DD HH:MM:SS" and RFC 3339.
func (d *Date) UnmarshalYAML(node *yaml.Node) error {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, node.Value); err == nil {
			d.Time = t
			return nil
		}
	}
	return fmt.Errorf("line %d: %q is not a date", node.Line, node.Value)
}

type window struct {
	StartTime *Date `yaml:"start_time"`
	EndTime   *Date `yaml:"end_time"`
}

// Load reads a policy YAML file.
func Load(path string) (*Policies, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy config: %w", err)
	}
	ps, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ps, nil
}

// Parse decodes a policy document. Each top-level key names a policy kind
// (optionally under a "policies" root). Its value is either one entry or a
// mapping of integer ordinals to entries; every entry carries start_time and
// end_time plus kind-specific parameters. Kinds are processed in name order
// and ordinals in numeric order.
func Parse(data []byte) (*Policies, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, simerr.Configf("policy", err, "valid YAML document")
	}
	if len(root.Content) == 0 {
		return New(), nil
	}
	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return nil, simerr.Config("policy", "a mapping of policy kinds", nodeKind(doc))
	}
	if len(doc.Content) == 2 && doc.Content[0].Value == "policies" {
		doc = doc.Content[1]
		if doc.Kind != yaml.MappingNode {
			return nil, simerr.Config("policies", "a mapping of policy kinds", nodeKind(doc))
		}
	}

	type section struct {
		kind string
		node *yaml.Node
	}
	var sections []section
	for i := 0; i+1 < len(doc.Content); i += 2 {
		sections = append(sections, section{kind: doc.Content[i].Value, node: doc.Content[i+1]})
	}
	sort.SliceStable(sections, func(i, j int) bool { return sections[i].kind < sections[j].kind })

	var out []Policy
	for _, s := range sections {
		key := "policy." + s.kind
		if _, ok := kinds[s.kind]; !ok {
			return nil, simerr.Config(key, "a known policy kind", fmt.Sprintf("%q", s.kind))
		}
		entries, err := splitOrdinals(key, s.node)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			p, err := decodeEntry(s.kind, e.key, e.node)
			if err != nil {
				return nil, err
			}
			out = append(out, p)
		}
	}
	return New(out...), nil
}

type entry struct {
	key  string
	node *yaml.Node
}

// splitOrdinals returns the entries of a kind section. A mapping whose keys
// are all integers holds several entries; anything else is a single entry.
func splitOrdinals(key string, node *yaml.Node) ([]entry, error) {
	if node.Kind == yaml.ScalarNode && (node.Tag == "!!null" || node.Value == "") {
		return []entry{{key: key, node: nil}}, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, simerr.Config(key, "a mapping", nodeKind(node))
	}
	type numbered struct {
		n    int
		node *yaml.Node
	}
	var list []numbered
	for i := 0; i+1 < len(node.Content); i += 2 {
		n, err := strconv.Atoi(node.Content[i].Value)
		if err != nil {
			return []entry{{key: key, node: node}}, nil
		}
		list = append(list, numbered{n: n, node: node.Content[i+1]})
	}
	if len(list) == 0 {
		return []entry{{key: key, node: node}}, nil
	}
	sort.Slice(list, func(i, j int) bool { return list[i].n < list[j].n })
	out := make([]entry, len(list))
	for i, l := range list {
		out[i] = entry{key: fmt.Sprintf("%s.%d", key, l.n), node: l.node}
	}
	return out, nil
}

func decodeEntry(kind, key string, node *yaml.Node) (Policy, error) {
	var w window
	if node != nil {
		if node.Kind != yaml.MappingNode {
			return Policy{}, simerr.Config(key, "a mapping with start_time and end_time", nodeKind(node))
		}
		if err := node.Decode(&w); err != nil {
			return Policy{}, simerr.Configf(key, err, "start_time and end_time as dates")
		}
	}
	if !kinds[kind].windowOptional {
		switch {
		case w.StartTime == nil && w.EndTime == nil:
			return Policy{}, simerr.Config(key, "start_time and end_time", "neither")
		case w.StartTime == nil:
			return Policy{}, simerr.Config(key, "start_time and end_time", "start_time missing")
		case w.EndTime == nil:
			return Policy{}, simerr.Config(key, "start_time and end_time", "end_time missing")
		}
	}
	params, err := decodeParams(kind, key, node)
	if err != nil {
		return Policy{}, err
	}
	var start, end time.Time
	if w.StartTime != nil {
		start = w.StartTime.Time
	}
	if w.EndTime != nil {
		end = w.EndTime.Time
	}
	p, err := NewPolicy(kind, start, end, params)
	if err != nil {
		return Policy{}, fmt.Errorf("%s: %w", key, err)
	}
	return p, nil
}

func nodeKind(n *yaml.Node) string {
	switch n.Kind {
	case yaml.MappingNode:
		return "mapping"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.ScalarNode:
		return fmt.Sprintf("scalar %q", n.Value)
	}
	return "unknown node"
}
