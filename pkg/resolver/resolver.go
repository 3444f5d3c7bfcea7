// Package resolver implements the capability matcher and graph resolver
// (spec.md §4.E): given an unmatched output PID and the session's filter
// registry, decide whether a candidate filter connects directly, or find
// the shortest chain of intermediate filters that does.
package resolver

import (
	"fmt"
	"strings"
	"time"

	cache "github.com/patrickmn/go-cache"
	logging "github.com/sirupsen/logrus"

	"github.com/gpac-go/fgraph/pkg/caps"
	"github.com/gpac-go/fgraph/pkg/ferr"
	"github.com/gpac-go/fgraph/pkg/filter"
)

// maxChainDepth bounds the shortest-path search over registry records; the
// original has no explicit bound, but an unbounded BFS over a registry that
// can contain cyclic bundle matches would never terminate.
const maxChainDepth = 8

// Resolver resolves connections for one filter session, caching chain
// decisions the way the teacher's watcher package caches service-profile
// lookups with go-cache instead of recomputing them on every PID
// reconfiguration.
type Resolver struct {
	reg   *filter.Registry
	cache *cache.Cache
	log   *logging.Entry
}

// New returns a resolver over reg. Cached chain results expire after 5
// minutes and are swept every 10; a session's registry rarely changes after
// startup, so these just bound memory rather than reacting to churn.
func New(reg *filter.Registry, log *logging.Entry) *Resolver {
	return &Resolver{
		reg:   reg,
		cache: cache.New(5*time.Minute, 10*time.Minute),
		log:   log.WithField("component", "resolver"),
	}
}

// ResolveConsumer picks the best registered filter to auto-connect an
// unmatched output PID to when no specific consumer was requested
// (spec.md §4.E step 1, scored over the whole registry rather than one
// pinned target). explicit gates whether ExplicitOnly registrations are
// eligible, per spec.md §4.E: "explicit-only filters only when the current
// link was explicitly requested".
func (r *Resolver) ResolveConsumer(outBundles []caps.Bundle, explicit bool) (*filter.Registration, error) {
	var best *filter.Registration
	bestScore := -1
	for _, reg := range r.reg.All() {
		if reg.ExplicitOnly && !explicit {
			continue
		}
		if len(reg.InputBundles) == 0 {
			continue
		}
		ok, score := caps.MatchAny(reg.InputBundles, outBundles)
		if !ok {
			continue
		}
		if best == nil || score > bestScore || (score == bestScore && reg.Priority > best.Priority) {
			best, bestScore = reg, score
		}
	}
	if best == nil {
		return nil, ferr.New(ferr.FilterNotFound, "no registered filter accepts the offered capabilities")
	}
	return best, nil
}

// ResolveToTarget decides how to connect outBundles to an already-chosen
// target filter. A direct capability match returns an empty chain;
// otherwise it runs chain insertion and returns the ordered intermediates
// to instantiate between the producer and target (spec.md §4.E steps 1-2,
// §8 scenarios 1-3).
func (r *Resolver) ResolveToTarget(outBundles []caps.Bundle, target *filter.Registration, explicit bool) ([]*filter.Registration, error) {
	if ok, _ := caps.MatchAny(target.InputBundles, outBundles); ok {
		return nil, nil
	}

	key := chainCacheKey(outBundles, target.Name)
	if cached, found := r.cache.Get(key); found {
		r.log.WithField("target", target.Name).Debug("chain resolution cache hit")
		return cached.([]*filter.Registration), nil
	}

	chain, err := r.resolveChain(outBundles, target)
	if err != nil {
		return nil, err
	}
	r.cache.SetDefault(key, chain)
	r.log.WithFields(logging.Fields{"target": target.Name, "hops": len(chain)}).Debug("chain resolution computed")
	return chain, nil
}

type chainNode struct {
	reg   *filter.Registration
	chain []*filter.Registration
	score int
}

// resolveChain runs a breadth-first, layer-by-layer search over the
// registry: each layer is one more intermediate filter away from the
// producer. The first layer in which some candidate's output bundles match
// target's input bundles wins; ties within a layer break on cumulative
// match priority (spec.md §4.E step 2: "pick the shortest chain, tie-break
// by cumulative priority"). ExplicitOnly registrations never participate
// as intermediates.
func (r *Resolver) resolveChain(outBundles []caps.Bundle, target *filter.Registration) ([]*filter.Registration, error) {
	candidates := r.reg.All()

	var frontier []chainNode
	for _, c := range candidates {
		if c.ExplicitOnly || c.Name == target.Name {
			continue
		}
		if ok, score := caps.MatchAny(c.InputBundles, outBundles); ok {
			frontier = append(frontier, chainNode{reg: c, chain: []*filter.Registration{c}, score: score})
		}
	}

	visited := make(map[string]bool)
	for depth := 0; depth < maxChainDepth && len(frontier) > 0; depth++ {
		var best *chainNode
		for i := range frontier {
			n := frontier[i]
			if ok, tScore := caps.MatchAny(target.InputBundles, n.reg.OutputBundles); ok {
				total := n.score + tScore
				if best == nil || total > best.score {
					best = &chainNode{chain: n.chain, score: total}
				}
			}
		}
		if best != nil {
			return best.chain, nil
		}

		var next []chainNode
		for _, n := range frontier {
			if visited[n.reg.Name] {
				continue
			}
			visited[n.reg.Name] = true
			for _, c := range candidates {
				if c.ExplicitOnly || c.Name == target.Name || visited[c.Name] {
					continue
				}
				if ok, score := caps.MatchAny(c.InputBundles, n.reg.OutputBundles); ok {
					chain := append(append([]*filter.Registration{}, n.chain...), c)
					next = append(next, chainNode{reg: c, chain: chain, score: n.score + score})
				}
			}
		}
		frontier = next
	}

	return nil, ferr.New(ferr.FilterNotFound, "no chain connects the offered capabilities to %q", target.Name)
}

// chainCacheKey fingerprints an output bundle set plus a target name into a
// stable cache key. Bundle order is caller-deterministic (a PID's output
// bundles are declared once at registration), so this only needs to cover
// the values the matcher actually reads.
func chainCacheKey(bundles []caps.Bundle, target string) string {
	var b strings.Builder
	b.WriteString(target)
	for _, bundle := range bundles {
		b.WriteByte('|')
		for _, d := range bundle {
			fmt.Fprintf(&b, "%s=%s,%v;", d.Code, d.Value.String(), d.Exclude)
		}
	}
	return b.String()
}
