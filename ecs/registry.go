package ecs

import "fmt"

// systemRegistry holds every system registered on a World, in registration
// order. Registration order is also run order: per spec, systems always
// execute in a single consistent serial order, which trivially satisfies
// "behaviour equivalent to some serial order consistent with registration
// order" without needing to compute an explicit conflict graph.
type systemRegistry struct {
	systems []*systemRuntime
}

// register validates accesses rules and appends rt to the registry.
func (r *systemRegistry) register(rt *systemRuntime) {
	validateDeclaration(rt.name, rt.decl)
	r.systems = append(r.systems, rt)
}

// validateDeclaration enforces the one access rule that is actually
// checkable without a cross-system conflict graph: a system may not
// declare the same component class twice (once as read, once as write, or
// twice the same way). Violating this is a fatal, build-time-equivalent
// error — always a programmer mistake.
func validateDeclaration(systemName string, decl Declaration) {
	seen := make(map[ComponentClass]bool, len(decl.Components))
	for _, ca := range decl.Components {
		if seen[ca.Class] {
			panic(fmt.Sprintf("neutronium: system %q declares component class %q more than once", systemName, ca.Class.Name()))
		}
		seen[ca.Class] = true
	}
}

func (r *systemRegistry) initAll(resources *Resources) {
	for _, s := range r.systems {
		s.init(resources)
	}
}

func (r *systemRegistry) addShard(shard *Shard) {
	for _, s := range r.systems {
		s.addShard(shard)
	}
}

func (r *systemRegistry) removeShard(key ShardKey) {
	for _, s := range r.systems {
		s.removeShard(key)
	}
}
