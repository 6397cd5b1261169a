// Package taskgraph executes build stages in dependency order on a fixed
// worker pool.
//
// A Graph is built once from registered stages and never changes afterwards;
// it is executed repeatedly, either in full or restricted to a chain (a set of
// target stages plus their transitive dependencies). Ready stages run in
// parallel; when several are ready at once they are started in registration
// order. The first failure stops further scheduling while stages already
// running are allowed to finish.
package taskgraph

import (
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"strings"
	"sync/atomic"

	ferrors "git.home.luguber.info/inful/frontbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/frontbuild/internal/stage"
)

// Graph is a validated, immutable DAG of stages. It is safe to Execute
// different chains concurrently.
type Graph struct {
	stages     []*stage.Stage
	index      map[stage.Name]int
	dependents map[stage.Name][]stage.Name
	order      []stage.Name

	workers  int
	sem      chan struct{}
	observer Observer
	logger   *slog.Logger
	seq      atomic.Uint64
}

// Option configures a Graph.
type Option func(*Graph)

// WithWorkers sets the size of the worker pool shared by all runs. Values
// below one are ignored.
func WithWorkers(n int) Option {
	return func(g *Graph) {
		if n > 0 {
			g.workers = n
		}
	}
}

// WithObserver registers an observer for run and stage events.
func WithObserver(o Observer) Option {
	return func(g *Graph) {
		if o != nil {
			g.observer = o
		}
	}
}

// WithLogger sets the logger used for run and stage logs.
func WithLogger(l *slog.Logger) Option {
	return func(g *Graph) {
		if l != nil {
			g.logger = l
		}
	}
}

// New validates stages and builds the graph. Stage names must be unique,
// every dependency must be registered and the dependency edges must not form
// a cycle.
func New(stages []*stage.Stage, opts ...Option) (*Graph, error) {
	g := &Graph{
		stages:     slices.Clone(stages),
		index:      make(map[stage.Name]int, len(stages)),
		dependents: make(map[stage.Name][]stage.Name, len(stages)),
		workers:    min(runtime.NumCPU(), 4),
		observer:   NoopObserver{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}

	for i, s := range g.stages {
		if s == nil {
			return nil, ferrors.ValidationError(fmt.Sprintf("stage %d is nil", i)).Build()
		}
		if _, dup := g.index[s.Name]; dup {
			return nil, ferrors.ValidationError(fmt.Sprintf("duplicate stage name %q", s.Name)).
				WithContext("stage", string(s.Name)).Build()
		}
		g.index[s.Name] = i
	}
	for _, s := range g.stages {
		for _, dep := range s.DependsOn {
			if _, ok := g.index[dep]; !ok {
				return nil, ferrors.ValidationError(fmt.Sprintf("stage %q depends on unknown stage %q", s.Name, dep)).
					WithContext("stage", string(s.Name)).Build()
			}
			if dep == s.Name {
				return nil, ferrors.ValidationError(fmt.Sprintf("stage %q depends on itself", s.Name)).
					WithContext("stage", string(s.Name)).Build()
			}
			g.dependents[dep] = append(g.dependents[dep], s.Name)
		}
	}

	order, err := g.topoSort(g.names())
	if err != nil {
		return nil, err
	}
	g.order = order
	g.sem = make(chan struct{}, g.workers)
	return g, nil
}

// MustNew is New for statically known graphs.
func MustNew(stages []*stage.Stage, opts ...Option) *Graph {
	g, err := New(stages, opts...)
	if err != nil {
		panic(err)
	}
	return g
}

func (g *Graph) names() []stage.Name {
	out := make([]stage.Name, len(g.stages))
	for i, s := range g.stages {
		out[i] = s.Name
	}
	return out
}

// topoSort orders subset with Kahn's algorithm. Among stages that become
// ready together, the one registered first comes first.
func (g *Graph) topoSort(subset []stage.Name) ([]stage.Name, error) {
	in := make(map[stage.Name]bool, len(subset))
	for _, n := range subset {
		in[n] = true
	}
	indeg := make(map[stage.Name]int, len(subset))
	for _, n := range subset {
		for _, dep := range g.stage(n).DependsOn {
			if in[dep] {
				indeg[n]++
			}
		}
	}

	var ready []stage.Name
	for _, n := range subset {
		if indeg[n] == 0 {
			ready = append(ready, n)
		}
	}
	g.sortByRegistration(ready)

	order := make([]stage.Name, 0, len(subset))
	for len(ready) > 0 {
		cur := ready[0]
		ready = ready[1:]
		order = append(order, cur)
		for _, next := range g.dependents[cur] {
			if !in[next] {
				continue
			}
			indeg[next]--
			if indeg[next] == 0 {
				ready = append(ready, next)
				g.sortByRegistration(ready)
			}
		}
	}

	if len(order) != len(subset) {
		var cyclic []string
		for _, n := range subset {
			if !slices.Contains(order, n) {
				cyclic = append(cyclic, string(n))
			}
		}
		slices.Sort(cyclic)
		return nil, ferrors.ValidationError("circular dependency detected involving stages: "+strings.Join(cyclic, ", ")).
			WithContext("stages", cyclic).Build()
	}
	return order, nil
}

func (g *Graph) sortByRegistration(names []stage.Name) {
	slices.SortFunc(names, func(a, b stage.Name) int { return g.index[a] - g.index[b] })
}

func (g *Graph) stage(name stage.Name) *stage.Stage { return g.stages[g.index[name]] }

// Stage returns the registered stage with the given name.
func (g *Graph) Stage(name stage.Name) (*stage.Stage, bool) {
	i, ok := g.index[name]
	if !ok {
		return nil, false
	}
	return g.stages[i], true
}

// Stages returns the stages in registration order.
func (g *Graph) Stages() []*stage.Stage { return slices.Clone(g.stages) }

// Order returns every stage name in execution order.
func (g *Graph) Order() []stage.Name { return slices.Clone(g.order) }

// Workers returns the size of the worker pool.
func (g *Graph) Workers() int { return g.workers }

// Chain returns targets plus their transitive dependencies in execution
// order. No targets means the whole graph.
func (g *Graph) Chain(targets ...stage.Name) ([]stage.Name, error) {
	if len(targets) == 0 {
		return g.Order(), nil
	}
	seen := make(map[stage.Name]bool)
	var visit func(stage.Name)
	visit = func(n stage.Name) {
		if seen[n] {
			return
		}
		seen[n] = true
		for _, dep := range g.stage(n).DependsOn {
			visit(dep)
		}
	}
	for _, t := range targets {
		if _, ok := g.index[t]; !ok {
			return nil, ferrors.ValidationError(fmt.Sprintf("unknown stage %q", t)).
				WithContext("stage", string(t)).Build()
		}
		visit(t)
	}

	chain := make([]stage.Name, 0, len(seen))
	for _, n := range g.order {
		if seen[n] {
			chain = append(chain, n)
		}
	}
	return chain, nil
}
