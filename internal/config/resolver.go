package config

import (
	"cmp"
	"slices"

	"github.com/flemzord/convoq/internal/core"
)

// namespaceOrder ranks module namespaces by load order. Providers of
// services (assistant backends, stores, tools) load before the surfaces
// that consume them. Unlisted namespaces load last.
var namespaceOrder = map[string]int{
	"assistant": 0,
	"store":     1,
	"tool":      2,
	"gateway":   3,
}

// Resolve returns the configured module IDs in load order: by namespace
// rank, then alphabetically.
func Resolve(cfg *Config) []string {
	ids := make([]string, 0, len(cfg.Modules))
	for id := range cfg.Modules {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b string) int {
		return cmp.Or(cmp.Compare(rank(a), rank(b)), cmp.Compare(a, b))
	})
	return ids
}

func rank(id string) int {
	if r, ok := namespaceOrder[core.ModuleID(id).Namespace()]; ok {
		return r
	}
	return len(namespaceOrder)
}
