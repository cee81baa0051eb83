// Package system implements the system-test lifecycle extension: host
// resource allocation before the body, background metrics monitoring while
// the body runs, and threshold validation plus guaranteed resource release
// afterwards.
package system

import (
	"context"
	"fmt"
	"net"
	"runtime"
)

// ResourceType classifies a system resource requirement.
type ResourceType string

const (
	ResourceCPU     ResourceType = "CPU"
	ResourceMemory  ResourceType = "MEMORY"
	ResourceDisk    ResourceType = "DISK"
	ResourceNetwork ResourceType = "NETWORK"
	ResourceProcess ResourceType = "PROCESS"
	ResourcePort    ResourceType = "PORT"
)

// Resource is a declared system requirement. The provider fills Allocated
// and Handle during environment setup and clears Allocated on release.
type Resource struct {
	// Type of the requirement
	Type ResourceType
	// ID identifies the resource within one test
	ID string
	// Requirements are type-specific, e.g. "cores", "bytes", "port"
	Requirements map[string]interface{}
	// Allocated is set once the provider has granted the resource
	Allocated bool
	// Handle is the provider's opaque allocation handle
	Handle interface{}
}

// intRequirement reads a numeric requirement tolerant of the int widths
// produced by literals and by YAML decoding.
func (r *Resource) intRequirement(key string) (int64, bool) {
	switch v := r.Requirements[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case uint64:
		return int64(v), true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}

// AllocationError reports a resource that could not be granted. Any single
// allocation failure aborts the whole environment setup.
type AllocationError struct {
	Resource *Resource
	Reason   string
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("cannot allocate %s resource %q: %s", e.Resource.Type, e.Resource.ID, e.Reason)
}

// Provider grants and releases system resources.
type Provider interface {
	// Allocate grants the resource or returns an *AllocationError. On
	// success it sets Allocated and may set Handle.
	Allocate(ctx context.Context, r *Resource) error
	// Release frees a previously granted resource.
	Release(ctx context.Context, r *Resource) error
}

// HostProvider checks requirements against the local host: core counts
// against runtime.NumCPU, memory against a configured capacity, and ports
// with a bind-and-close probe.
type HostProvider struct {
	// MemoryCapacity in bytes available to MEMORY requirements. Zero
	// means unbounded.
	MemoryCapacity int64
}

func (p *HostProvider) Allocate(ctx context.Context, r *Resource) error {
	switch r.Type {
	case ResourceCPU:
		cores, ok := r.intRequirement("cores")
		if !ok {
			return &AllocationError{Resource: r, Reason: "missing cores requirement"}
		}
		if cores > int64(runtime.NumCPU()) {
			return &AllocationError{Resource: r,
				Reason: fmt.Sprintf("requested %d cores, host has %d", cores, runtime.NumCPU())}
		}
		r.Handle = cores
	case ResourceMemory:
		bytes, ok := r.intRequirement("bytes")
		if !ok {
			return &AllocationError{Resource: r, Reason: "missing bytes requirement"}
		}
		if p.MemoryCapacity > 0 && bytes > p.MemoryCapacity {
			return &AllocationError{Resource: r,
				Reason: fmt.Sprintf("requested %d bytes, capacity is %d", bytes, p.MemoryCapacity)}
		}
		r.Handle = bytes
	case ResourcePort:
		port, ok := r.intRequirement("port")
		if !ok {
			return &AllocationError{Resource: r, Reason: "missing port requirement"}
		}
		if err := probePort(int(port)); err != nil {
			return &AllocationError{Resource: r, Reason: err.Error()}
		}
		r.Handle = int(port)
	case ResourceDisk, ResourceNetwork, ResourceProcess:
		// tracked for release accounting, nothing to reserve on the host
	default:
		return &AllocationError{Resource: r, Reason: fmt.Sprintf("unknown resource type %q", r.Type)}
	}
	r.Allocated = true
	return nil
}

// Release frees the resource. Port resources are re-bound and closed to
// confirm nothing is still holding them.
func (p *HostProvider) Release(ctx context.Context, r *Resource) error {
	if r.Type == ResourcePort {
		port, _ := r.Handle.(int)
		if err := probePort(port); err != nil {
			return fmt.Errorf("port %d still bound after release: %w", port, err)
		}
	}
	r.Handle = nil
	return nil
}

// probePort binds the TCP port and immediately closes the listener.
func probePort(port int) error {
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return err
	}
	return l.Close()
}
