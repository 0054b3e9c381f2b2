// Package lsa models the tagged Link State Advertisement variants the
// LSDB ingests (RouterLSA, NetworkLSA, ASExternalLSA), their textual
// wire parsing, and their effect on the IGP graph.
//
// The wire format is Quagga's ospf_dump.c debug-log line shape:
// space-separated property groups, each a semicolon-separated list of
// key:value pairs, with the first group being the LSA header.
package lsa

import (
	"net"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/fibbingctl/fibbingd/internal/graph"
)

// Field names used by the Quagga wire format.
const (
	fieldFwdAddr    = "fwd_addr"
	fieldLinkData   = "link_data"
	fieldLinkID     = "link_id"
	fieldLinkType   = "link_type"
	fieldAge        = "age"
	fieldSeqNum     = "seq_num"
	fieldLSAType    = "lsa_type"
	fieldMask       = "link_mask"
	fieldMetric     = "link_metric"
	fieldRID        = "rid"

	sepGroup      = " "
	sepIntraField = ":"
	sepInterField = ";"
)

// MaxAge is the OSPF LS age, in seconds, past which an LSA is
// considered expired and excluded from graph rebuilds even though it
// remains in the store (RFC 2328 §14.1's MaxAge, named here rather
// than left as a bare literal).
const MaxAge = 3600

// LinkType identifies the kind of link carried inside a RouterLSA.
type LinkType string

const (
	LinkP2P     LinkType = "1"
	LinkTransit LinkType = "2"
	LinkStub    LinkType = "3"
	LinkVirtual LinkType = "4"
)

// Type identifies the kind of LSA.
type Type string

const (
	TypeRouter   Type = "1"
	TypeNetwork  Type = "2"
	TypeASExtern Type = "5"
)

// Link is a single link entry inside a RouterLSA.
type Link struct {
	Kind          LinkType
	Address       string // link_data (p2p) or link_id (stub)
	Metric        int
	OtherRouterID string // p2p: linkid
	DRIP          string // transit: linkid (the network's designated router)
	Mask          string // stub: link_data
}

// Prefix renders a stub link's address/mask as a CIDR string.
func (l Link) Prefix() string {
	return l.Address + "/" + maskLenFromDotted(l.Mask)
}

// Endpoints returns the graph node IDs this link connects to, given a
// way to resolve NetworkLSAs by DR IP (transit links need the
// NetworkLSA's attached-router list; stub and virtual links never
// contribute a graph edge).
func (l Link) Endpoints(resolveNetwork func(drIP string) (*NetworkLSA, bool)) []string {
	switch l.Kind {
	case LinkP2P:
		return []string{l.OtherRouterID}
	case LinkTransit:
		net, ok := resolveNetwork(l.DRIP)
		if !ok {
			return nil
		}
		return net.AttachedRouters
	default:
		return nil
	}
}

func (l Link) String() string {
	return l.Address + ":" + strconv.Itoa(l.Metric)
}

func parseLink(props map[string]string) (Link, error) {
	kind := LinkType(props[fieldLinkType])
	metric, _ := strconv.Atoi(props[fieldMetric])
	l := Link{Kind: kind, Metric: metric}
	switch kind {
	case LinkP2P:
		l.OtherRouterID = props[fieldLinkID]
		l.Address = props[fieldLinkData]
	case LinkTransit:
		l.DRIP = props[fieldLinkID]
		l.Address = props[fieldLinkData]
	case LinkStub:
		l.Address = props[fieldLinkID]
		l.Mask = props[fieldLinkData]
	case LinkVirtual:
		// Virtual links are intentionally not resolved further.
	default:
		return Link{}, errors.Errorf("lsa: unknown link type %q", props[fieldLinkType])
	}
	return l, nil
}

// Header is the common prefix of every LSA's wire representation.
type Header struct {
	RouterID string
	LinkID   string
	Type     Type
	Mask     string
	Age      int
	SeqNum   int32
}

func parseHeader(props map[string]string) (Header, error) {
	age, err := strconv.Atoi(props[fieldAge])
	if err != nil {
		return Header{}, errors.Wrap(err, "lsa: parsing age")
	}
	seq, err := strconv.ParseInt(props[fieldSeqNum], 10, 32)
	if err != nil {
		return Header{}, errors.Wrap(err, "lsa: parsing seq_num")
	}
	return Header{
		RouterID: props[fieldRID],
		LinkID:   props[fieldLinkID],
		Type:     Type(props[fieldLSAType]),
		Mask:     props[fieldMask],
		Age:      age,
		SeqNum:   int32(seq),
	}, nil
}

// LookupNetwork resolves a NetworkLSA by its designated-router IP, the
// way a RouterLSA's transit links need to at apply time.
type LookupNetwork func(drIP string) (*NetworkLSA, bool)

// ForwardResolver resolves an AS-external route's forwarding address
// into the fake/local/real route it should become, based on whether
// the advertising router is a fibbing controller instance.
type ForwardResolver interface {
	// IsControllerInstance reports whether routerID falls inside the
	// configured fibbing controller base network.
	IsControllerInstance(routerID net.IP) bool
	// TargetsFor resolves a private IP to the broadcast-domain peers
	// it fronts, and whether the address is a known private binding.
	TargetsFor(privateIP net.IP) ([]net.IP, bool)
}

// LSA is the common interface every variant implements. Key returns a
// string uniquely identifying this LSA among others of the same Type,
// matching the original's per-subclass key() (router ID for
// RouterLSA, DR IP for NetworkLSA, router-ID+prefix for ASExtLSA).
type LSA interface {
	Key() string
	Type() Type
	SeqNum() int32
	Age() int
	// Apply contributes this LSA's effect to the graph being rebuilt.
	Apply(g *graph.Graph, lookupNetwork LookupNetwork, resolver ForwardResolver)
}

// IsNewerSeqnum reports whether a is a newer OSPF sequence number than
// b. Sequence numbers are signed 32-bit values per RFC 2328 §12.1.6,
// so plain integer comparison is the whole rule.
func IsNewerSeqnum(a, b int32) bool {
	return a > b
}

// IsExpired reports whether an LSA's age has reached MaxAge and should
// be excluded from graph rebuilds, though it remains in the LSDB.
func IsExpired(age int) bool {
	return age >= MaxAge
}

// IsFlush reports whether next is a re-announcement of prev carrying
// an unchanged sequence number — Quagga's way of flushing an LSA
// without bumping its seqnum, which the LSDB must still treat as a
// change worth rebuilding for.
func IsFlush(prev, next LSA) bool {
	return prev != nil && next != nil && prev.Key() == next.Key() && prev.SeqNum() == next.SeqNum()
}

// RouterLSA describes a router's local links.
type RouterLSA struct {
	Header
	Links []Link
}

func (r *RouterLSA) Key() string   { return r.RouterID }
func (r *RouterLSA) Type() Type    { return TypeRouter }
func (r *RouterLSA) SeqNum() int32 { return r.Header.SeqNum }
func (r *RouterLSA) Age() int      { return r.Header.Age }

func (r *RouterLSA) Apply(g *graph.Graph, lookupNetwork LookupNetwork, _ ForwardResolver) {
	g.AddRouter(net.ParseIP(r.RouterID))
	for _, link := range r.Links {
		for _, endpoint := range link.Endpoints(lookupNetwork) {
			g.AddRouter(net.ParseIP(endpoint))
			g.AddRouterLinkEdge(r.RouterID, endpoint, link.Metric, net.ParseIP(link.Address))
		}
	}
}

// ContractIDs returns the set of addresses (link addresses plus any
// supplied private addresses) that identify the same physical router
// as this RouterLSA's router ID, for the LSDB's controller-instance
// contraction pass.
func (r *RouterLSA) ContractIDs(privateIPs []string) []string {
	ids := make([]string, 0, len(r.Links)+len(privateIPs))
	for _, link := range r.Links {
		if link.Address != "" && link.Address != r.RouterID {
			ids = append(ids, link.Address)
		}
	}
	ids = append(ids, privateIPs...)
	return ids
}

// NetworkLSA describes a transit network's designated router and its
// attached routers.
type NetworkLSA struct {
	Header
	DRIP            string
	AttachedRouters []string
}

func (n *NetworkLSA) Key() string   { return n.DRIP }
func (n *NetworkLSA) Type() Type    { return TypeNetwork }
func (n *NetworkLSA) SeqNum() int32 { return n.Header.SeqNum }
func (n *NetworkLSA) Age() int      { return n.Header.Age }

// Apply is a no-op: RouterLSA transit links already resolve through
// this NetworkLSA via LookupNetwork.
func (n *NetworkLSA) Apply(*graph.Graph, LookupNetwork, ForwardResolver) {}

// ASExternalRoute is one forwarding entry inside an ASExternalLSA.
type ASExternalRoute struct {
	Metric  int
	FwdAddr string
}

// ASExternalLSA describes external prefix reachability, potentially
// via a forwarding address inside a fibbing controller's base
// network — the path by which a controller's local lies enter the
// graph.
type ASExternalLSA struct {
	Header
	Address string
	Mask    string
	Routes  []ASExternalRoute
}

func (a *ASExternalLSA) Key() string   { return a.RouterID + "|" + a.Prefix() }
func (a *ASExternalLSA) Type() Type    { return TypeASExtern }
func (a *ASExternalLSA) SeqNum() int32 { return a.Header.SeqNum }
func (a *ASExternalLSA) Age() int      { return a.Header.Age }

// Prefix renders the advertised destination as a CIDR string.
func (a *ASExternalLSA) Prefix() string {
	return a.Address + "/" + maskLenFromDotted(a.Mask)
}

func (a *ASExternalLSA) resolveFwdAddr(fwd string) string {
	if fwd == "0.0.0.0" {
		return a.RouterID
	}
	return fwd
}

// Apply classifies each route by whether the advertising router is a
// fibbing controller instance: controller-sourced routes through a
// known private address become local lies (graph.FakeRouteLocal),
// controller-sourced routes through an unknown address become global
// lies (graph.FakeRouteGlobal), and every other route is a real route
// (graph.RealRoute). The resolver's targets only decide the kind; the
// edge does not record them.
func (a *ASExternalLSA) Apply(g *graph.Graph, _ LookupNetwork, resolver ForwardResolver) {
	prefix := a.Prefix()
	g.AddPrefix(mustParseCIDR(prefix))
	routerIP := net.ParseIP(a.RouterID)
	for _, route := range a.Routes {
		fwd := a.resolveFwdAddr(route.FwdAddr)
		kind := graph.RealRoute
		if resolver != nil && resolver.IsControllerInstance(routerIP) {
			if _, known := resolver.TargetsFor(net.ParseIP(fwd)); known {
				kind = graph.FakeRouteLocal
			} else {
				kind = graph.FakeRouteGlobal
			}
		}
		g.AddRouter(net.ParseIP(fwd))
		g.AddEdge(fwd, prefix, kind, route.Metric)
	}
}

func mustParseCIDR(s string) *net.IPNet {
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		// Parse does not validate Address or Mask, so a malformed
		// prefix can reach here; it yields an empty IPNet.
		return &net.IPNet{}
	}
	return n
}

// maskLenFromDotted converts a dotted-decimal subnet mask
// ("255.255.255.0") into its CIDR prefix length string ("24").
func maskLenFromDotted(dotted string) string {
	ip := net.ParseIP(dotted)
	if ip == nil {
		return "32"
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return "32"
	}
	ones, _ := net.IPMask(ip4).Size()
	return strconv.Itoa(ones)
}

// Parse builds an LSA from one ingested log line. The line is a
// space-separated list of property groups; the first group is the
// header, the rest describe per-type detail (links for a RouterLSA,
// attached routers for a NetworkLSA, routes for an ASExternalLSA).
func Parse(line string) (LSA, error) {
	groups := splitNonEmpty(line, sepGroup)
	if len(groups) == 0 {
		return nil, errors.New("lsa: empty line")
	}
	parts := make([]map[string]string, len(groups))
	for i, g := range groups {
		parts[i] = extractProps(g)
	}
	hdr, err := parseHeader(parts[0])
	if err != nil {
		return nil, err
	}
	rest := parts[1:]

	switch hdr.Type {
	case TypeRouter:
		links := make([]Link, 0, len(rest))
		for _, p := range rest {
			l, err := parseLink(p)
			if err != nil {
				return nil, err
			}
			links = append(links, l)
		}
		return &RouterLSA{Header: hdr, Links: links}, nil
	case TypeNetwork:
		routers := make([]string, 0, len(rest))
		for _, p := range rest {
			routers = append(routers, p[fieldRID])
		}
		return &NetworkLSA{Header: hdr, DRIP: hdr.LinkID, AttachedRouters: routers}, nil
	case TypeASExtern:
		routes := make([]ASExternalRoute, 0, len(rest))
		for _, p := range rest {
			metric, _ := strconv.Atoi(p[fieldMetric])
			routes = append(routes, ASExternalRoute{Metric: metric, FwdAddr: p[fieldFwdAddr]})
		}
		return &ASExternalLSA{Header: hdr, Address: hdr.LinkID, Mask: hdr.Mask, Routes: routes}, nil
	default:
		return nil, errors.Errorf("lsa: unknown LSA type %q", hdr.Type)
	}
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, p := range strings.Split(s, sep) {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func extractProps(group string) map[string]string {
	props := make(map[string]string)
	for _, kv := range splitNonEmpty(group, sepInterField) {
		idx := strings.Index(kv, sepIntraField)
		if idx < 0 {
			continue
		}
		props[kv[:idx]] = kv[idx+1:]
	}
	return props
}
