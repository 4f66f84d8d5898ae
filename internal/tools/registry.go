package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

var ErrNotConnected = errors.New("tool registry handshake has not completed")

// Descriptor describes one remote tool as advertised by the host. A fresh
// snapshot is fetched per query; descriptors are never mutated.
type Descriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// Result is the outcome of one tool invocation, coerced to text.
type Result struct {
	Text string
}

// Registry is the client view of a remote tool-execution host.
type Registry interface {
	ListTools(ctx context.Context) ([]Descriptor, error)
	CallTool(ctx context.Context, name string, args map[string]any) (Result, error)
}

// TransportError reports that the host could not be reached or the protocol
// session is unusable.
type TransportError struct {
	Op  string
	Err error
}

func (err *TransportError) Error() string {
	return fmt.Sprintf("tool registry %s: %v", err.Op, err.Err)
}

func (err *TransportError) Unwrap() error {
	return err.Err
}

// ToolExecutionError reports that the host ran (or refused) the tool and
// returned an error outcome.
type ToolExecutionError struct {
	Tool    string
	Message string
}

func (err *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %s", err.Tool, err.Message)
}

// Snapshot indexes a ListTools result by name. Duplicate names keep the first
// descriptor.
type Snapshot struct {
	descriptors []Descriptor
	byName      map[string]Descriptor
}

func NewSnapshot(descriptors []Descriptor) Snapshot {
	byName := make(map[string]Descriptor, len(descriptors))
	kept := make([]Descriptor, 0, len(descriptors))
	for _, descriptor := range descriptors {
		if _, exists := byName[descriptor.Name]; exists {
			continue
		}
		byName[descriptor.Name] = descriptor
		kept = append(kept, descriptor)
	}
	return Snapshot{descriptors: kept, byName: byName}
}

func (snapshot Snapshot) Descriptors() []Descriptor {
	return append([]Descriptor(nil), snapshot.descriptors...)
}

func (snapshot Snapshot) Lookup(name string) (Descriptor, bool) {
	descriptor, ok := snapshot.byName[name]
	return descriptor, ok
}

func (snapshot Snapshot) Names() []string {
	names := make([]string, 0, len(snapshot.byName))
	for name := range snapshot.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
