// Package refs holds the session-scoped reference lookups: id/name pairs
// for projects, epics and labels, plus the flattened workflow state index.
package refs

import (
	"encoding/json"
	"fmt"
)

// Pair reduces a reference resource to (identifier, display name).
type Pair struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func (p Pair) String() string {
	return fmt.Sprintf("%d: %s", p.ID, p.Name)
}

// Pairs preserves the order returned by the reference source.
type Pairs []Pair

// ByID returns the first pair with the given id.
func (ps Pairs) ByID(id int) (Pair, bool) {
	for _, p := range ps {
		if p.ID == id {
			return p, true
		}
	}
	return Pair{}, false
}

// ByName returns the first pair whose name matches exactly.
func (ps Pairs) ByName(name string) (Pair, bool) {
	for _, p := range ps {
		if p.Name == name {
			return p, true
		}
	}
	return Pair{}, false
}

// Names returns the display names in order.
func (ps Pairs) Names() []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.Name)
	}
	return out
}

// FieldOpts configures which raw fields hold the identifier and display
// name. Zero values fall back to "id" and "name".
type FieldOpts struct {
	IDField   string
	NameField string
}

func (o FieldOpts) id() string {
	if o.IDField == "" {
		return "id"
	}
	return o.IDField
}

func (o FieldOpts) name() string {
	if o.NameField == "" {
		return "name"
	}
	return o.NameField
}

// Extract builds pairs from loosely-typed resources, skipping archived
// items. The archived flag is truthy for native boolean true and for the
// service's "true" string sentinel.
func Extract(items []map[string]any, opts FieldOpts) (Pairs, error) {
	pairs := make(Pairs, 0, len(items))
	for i, item := range items {
		if archived(item["archived"]) {
			continue
		}
		id, err := intField(item[opts.id()])
		if err != nil {
			return nil, fmt.Errorf("item %d field %s: %w", i, opts.id(), err)
		}
		name, ok := item[opts.name()].(string)
		if !ok {
			return nil, fmt.Errorf("item %d field %s: not a string", i, opts.name())
		}
		pairs = append(pairs, Pair{ID: id, Name: name})
	}
	return pairs, nil
}

func archived(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t == "true"
	default:
		return false
	}
}

func intField(v any) (int, error) {
	switch t := v.(type) {
	case float64:
		return int(t), nil
	case json.Number:
		n, err := t.Int64()
		return int(n), err
	case int:
		return t, nil
	default:
		return 0, fmt.Errorf("not an integer (%T)", v)
	}
}
