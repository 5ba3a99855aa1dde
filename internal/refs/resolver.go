package refs

import (
	"context"
	"fmt"

	"storyline/internal/domain"
)

// ResolutionError reports a reference that no cached collection contains.
// Save paths must abort on it; decode paths may degrade to an empty field.
type ResolutionError struct {
	Kind string
	Ref  string
}

func (e ResolutionError) Error() string {
	return fmt.Sprintf("no %s matches %q", e.Kind, e.Ref)
}

// StateResolver flattens the cached workflow structure into by-id and
// by-name lookups. State ids and names are globally unique across
// workflows; the first match wins.
type StateResolver struct {
	Cache *Cache
}

// StateByID returns the state with the given id, ok=false if absent.
func (r StateResolver) StateByID(ctx context.Context, id int) (domain.WorkflowState, bool, error) {
	wfs, err := r.Cache.Workflows(ctx)
	if err != nil {
		return domain.WorkflowState{}, false, err
	}
	for _, wf := range wfs {
		for _, st := range wf.States {
			if st.ID == id {
				return st, true, nil
			}
		}
	}
	return domain.WorkflowState{}, false, nil
}

// StateByName returns the state with the given name, ok=false if absent.
// A miss never resolves to a default state.
func (r StateResolver) StateByName(ctx context.Context, name string) (domain.WorkflowState, bool, error) {
	wfs, err := r.Cache.Workflows(ctx)
	if err != nil {
		return domain.WorkflowState{}, false, err
	}
	for _, wf := range wfs {
		for _, st := range wf.States {
			if st.Name == name {
				return st, true, nil
			}
		}
	}
	return domain.WorkflowState{}, false, nil
}

// StateNames lists every state name across all workflows, in order.
func (r StateResolver) StateNames(ctx context.Context) ([]string, error) {
	wfs, err := r.Cache.Workflows(ctx)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, wf := range wfs {
		for _, st := range wf.States {
			names = append(names, st.Name)
		}
	}
	return names, nil
}
