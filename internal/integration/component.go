// Package integration implements the integration-test lifecycle extension:
// a component dependency graph set up before the body, checkpoint and
// restore of component and resource state, and ordered teardown with
// guaranteed progress through every component.
package integration

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
)

// ComponentState is the lifecycle state of an integration component.
type ComponentState string

const (
	// StateInitialized is the state before setup runs
	StateInitialized ComponentState = "INITIALIZED"
	// StateReady means setup completed and dependents may start
	StateReady ComponentState = "READY"
	// StateActive means the component is serving the test body
	StateActive ComponentState = "ACTIVE"
	// StateStopped means teardown completed
	StateStopped ComponentState = "STOPPED"
	// StateError means setup or teardown failed
	StateError ComponentState = "ERROR"
)

// Component is an integration-test-declared dependency with its own setup
// and teardown actions and lifecycle state. Components are created when the
// test declares them and destroyed at test teardown.
type Component struct {
	// Name identifies the component within one test
	Name string
	// Setup brings the component up and returns its instance handle
	Setup func(ctx context.Context, c *Component) (interface{}, error)
	// Teardown stops the component
	Teardown func(ctx context.Context, c *Component) error
	// DependsOn lists component names that must be READY first
	DependsOn []string
	// RequiredState, when declared, is verified after setup
	RequiredState ComponentState
	// State is the current lifecycle state
	State ComponentState
	// Instance is the opaque handle produced by Setup
	Instance interface{}
	// Config holds the component's configuration map
	Config map[string]interface{}
}

// componentSnapshot is the checkpointed view of one component.
type componentSnapshot struct {
	State  ComponentState
	Config map[string]interface{}
}

// Checkpoint is a point-in-time snapshot of component and resource state,
// captured after successful setup and used only for restore-on-failure.
// Restoring leaves component and resource state value-equal to the recorded
// snapshot.
type Checkpoint struct {
	// ID is the unique checkpoint identifier
	ID string
	// Timestamp when the checkpoint was captured
	Timestamp time.Time

	components map[string]componentSnapshot
	resources  map[string]interface{}
	// Metadata carries environment details such as the working directory
	Metadata map[string]string
}

// capture records the current component states/configs and the resource map
// by value.
func capture(components map[string]*Component, resources map[string]interface{}) *Checkpoint {
	cp := &Checkpoint{
		ID:         uuid.New().String(),
		Timestamp:  time.Now(),
		components: make(map[string]componentSnapshot, len(components)),
		resources:  cloneMap(resources),
		Metadata:   make(map[string]string),
	}
	for name, c := range components {
		cp.components[name] = componentSnapshot{
			State:  c.State,
			Config: cloneMap(c.Config),
		}
	}
	if wd, err := os.Getwd(); err == nil {
		cp.Metadata["workdir"] = wd
	}
	return cp
}

// restore reassigns component states/configs and the resource map back to
// the captured snapshot. The maps are rebuilt from deep copies so the
// restored state is value-equal, not reference-shared.
func (cp *Checkpoint) restore(components map[string]*Component, resources map[string]interface{}) {
	for name, snap := range cp.components {
		c, ok := components[name]
		if !ok {
			continue
		}
		c.State = snap.State
		c.Config = cloneMap(snap.Config)
	}
	for key := range resources {
		delete(resources, key)
	}
	for key, value := range cloneMap(cp.resources) {
		resources[key] = value
	}
}

// cloneMap deep-copies map and slice values so that snapshots are immune to
// later mutation. Scalars and opaque handles are copied by assignment.
func cloneMap(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return cloneMap(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
