// Package core provides the module system convoq is assembled from:
// adapters (assistant services, tools, stores) register themselves at init
// time and are instantiated from the YAML configuration at startup.
package core

import "strings"

// ModuleID is a dotted identifier such as "assistant.openai" or "tool.arangodb".
// The first segment is the namespace, the rest is the module name.
type ModuleID string

// Namespace returns the part of the ID before the first dot.
func (id ModuleID) Namespace() string {
	ns, _, _ := strings.Cut(string(id), ".")
	return ns
}

// Name returns the part of the ID after the first dot, or the whole ID
// when it has no namespace.
func (id ModuleID) Name() string {
	_, name, ok := strings.Cut(string(id), ".")
	if !ok {
		return string(id)
	}
	return name
}

// ModuleInfo describes a registrable module.
type ModuleInfo struct {
	ID ModuleID

	// New returns a fresh, unconfigured instance of the module.
	New func() Module
}

// Module is implemented by every pluggable component.
type Module interface {
	ModuleInfo() ModuleInfo
}
