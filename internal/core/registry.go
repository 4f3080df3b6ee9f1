package core

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Registration errors. RegisterModule panics with them, wrapped with the
// offending ID.
var (
	ErrInvalidModuleID = errors.New("core: invalid module ID")
	ErrNoConstructor   = errors.New("core: module has no constructor")
	ErrDuplicateModule = errors.New("core: module already registered")
)

// catalogue holds the modules compiled into the binary, indexed by ID and
// by namespace. Namespace lists are kept sorted.
type catalogue struct {
	mu          sync.RWMutex
	byID        map[ModuleID]ModuleInfo
	byNamespace map[string][]ModuleID
}

func newCatalogue() *catalogue {
	return &catalogue{
		byID:        make(map[ModuleID]ModuleInfo),
		byNamespace: make(map[string][]ModuleID),
	}
}

var modules = newCatalogue()

func (c *catalogue) add(info ModuleInfo) error {
	if err := checkID(info.ID); err != nil {
		return err
	}
	if info.New == nil {
		return fmt.Errorf("%w: %s", ErrNoConstructor, info.ID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.byID[info.ID]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateModule, info.ID)
	}
	c.byID[info.ID] = info

	ns := info.ID.Namespace()
	ids := c.byNamespace[ns]
	i, _ := slices.BinarySearch(ids, info.ID)
	c.byNamespace[ns] = slices.Insert(ids, i, info.ID)
	return nil
}

func (c *catalogue) get(id ModuleID) (ModuleInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.byID[id]
	return info, ok
}

func (c *catalogue) namespace(ns string) []ModuleInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ModuleInfo, 0, len(c.byNamespace[ns]))
	for _, id := range c.byNamespace[ns] {
		out = append(out, c.byID[id])
	}
	return out
}

func (c *catalogue) namespaces() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.byNamespace))
	for ns := range c.byNamespace {
		out = append(out, ns)
	}
	slices.Sort(out)
	return out
}

// checkID accepts dot-separated segments of lowercase letters, digits and
// underscores, as used in the modules section of the config file.
func checkID(id ModuleID) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidModuleID)
	}
	for seg := range strings.SplitSeq(string(id), ".") {
		if seg == "" || strings.ContainsFunc(seg, func(r rune) bool {
			return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_')
		}) {
			return fmt.Errorf("%w: %q", ErrInvalidModuleID, id)
		}
	}
	return nil
}

// RegisterModule adds a module to the catalogue. Call it from init(); it
// panics when the ID is malformed or taken, or the constructor is missing.
func RegisterModule(instance Module) {
	if err := modules.add(instance.ModuleInfo()); err != nil {
		panic(err)
	}
}

// GetModule looks up a compiled module by ID.
func GetModule(id string) (ModuleInfo, bool) {
	return modules.get(ModuleID(id))
}

// GetModules returns every compiled module, grouped by namespace.
func GetModules() []ModuleInfo {
	var out []ModuleInfo
	for _, ns := range modules.namespaces() {
		out = append(out, modules.namespace(ns)...)
	}
	return out
}

// GetModulesByNamespace returns the modules of one namespace, sorted by ID.
// A module without a dot in its ID is its own namespace.
func GetModulesByNamespace(namespace string) []ModuleInfo {
	return modules.namespace(namespace)
}

// Namespaces lists the namespaces that have at least one module.
func Namespaces() []string {
	return modules.namespaces()
}

// resetRegistry empties the catalogue. Tests only.
func resetRegistry() {
	modules = newCatalogue()
}
