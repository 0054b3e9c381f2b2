// Package ribindex is a longest-prefix-match index over the prefixes
// currently reachable in the IGP: it answers "which advertised network
// covers this destination, and which routers originate it" without a
// linear scan of every prefix node on each lookup.
package ribindex

import (
	"net"

	"github.com/pkg/errors"
)

// ErrNotFound is returned by Lookup when no inserted network contains
// the queried address.
var ErrNotFound = errors.New("ribindex: no covering network")

// Trie is a radix trie over net.IPNet keys. Unlike a generic string
// radix tree, containment here is defined by net.IPNet.Contains, so a
// lookup walks from the widest matching edge down to the most
// specific one instead of comparing byte prefixes directly.
type Trie struct {
	root *node
}

// New creates an empty trie.
func New() *Trie {
	return &Trie{root: new(node)}
}

type edge struct {
	target  *node
	network net.IPNet
	owners  []string
}

type node struct {
	edges []*edge
}

// Insert records network as reachable via owner (typically an
// originating router ID). Inserting the same network twice merges the
// owner lists instead of creating a duplicate edge.
func (t *Trie) Insert(network net.IPNet, owner string) {
	best := t.lookupEdge(t.root, network)
	var parent *node
	if best == nil {
		parent = t.root
	} else if best.network.String() == network.String() {
		best.owners = appendUnique(best.owners, owner)
		return
	} else {
		parent = best.target
	}

	fresh := &edge{target: new(node), network: network, owners: []string{owner}}
	parent.edges = append(parent.edges, fresh)

	kept := parent.edges[:0]
	for _, e := range parent.edges {
		if e != fresh && contains(network, e.network) {
			fresh.target.edges = append(fresh.target.edges, e)
			continue
		}
		kept = append(kept, e)
	}
	parent.edges = kept
}

func appendUnique(owners []string, owner string) []string {
	for _, o := range owners {
		if o == owner {
			return owners
		}
	}
	return append(owners, owner)
}

func contains(a, b net.IPNet) bool {
	return a.String() != b.String() && a.Contains(b.IP)
}

// lookupEdge returns the most specific edge reachable from n whose
// network contains target.
func (t *Trie) lookupEdge(n *node, target net.IPNet) *edge {
	var best *edge
	for _, e := range n.edges {
		if e.network.Contains(target.IP) {
			best = e
			if deeper := t.lookupEdge(e.target, target); deeper != nil {
				best = deeper
			}
			return best
		}
	}
	return best
}

// Lookup returns the most specific inserted network covering dest and
// the owners registered against it.
func (t *Trie) Lookup(dest net.IP) (net.IPNet, []string, error) {
	probe := net.IPNet{IP: dest, Mask: net.CIDRMask(32, 32)}
	if dest.To4() == nil {
		probe.Mask = net.CIDRMask(128, 128)
	}
	e := t.lookupEdge(t.root, probe)
	if e == nil {
		return net.IPNet{}, nil, ErrNotFound
	}
	return e.network, e.owners, nil
}
