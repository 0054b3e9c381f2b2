// Package lsdb implements the link-state database: it ingests the
// textual LSA protocol described by the controller's ingest pipe,
// buffers updates inside BEGIN/COMMIT transactions with a 5-second
// idle auto-commit, rebuilds the IGP graph on every committed change,
// and fans out the diff to registered listeners.
package lsdb

import (
	"bytes"
	"context"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fibbingctl/fibbingd/internal/graph"
	"github.com/fibbingctl/fibbingd/internal/lsa"
	"github.com/fibbingctl/fibbingd/internal/praddr"
)

const (
	lineBegin  = "BEGIN|"
	lineCommit = "COMMIT|"
	prefixAdd  = "ADD|"
	prefixRem  = "REM|"

	// idleAutoCommit is how long the LSDB waits for an explicit
	// COMMIT before auto-committing whatever has been buffered.
	idleAutoCommit = 5 * time.Second
)

// Listener receives graph change notifications, matching the
// northbound method surface of spec.md §4.4: a fresh attachment gets
// BootstrapGraph once, every later rebuild gets AddEdge/RemoveEdge
// calls followed by Commit.
type Listener interface {
	BootstrapGraph(edges []*graph.Edge)
	AddEdge(e *graph.Edge)
	RemoveEdge(e *graph.Edge)
	Commit()
}

// LSDB is the keyed LSA store plus the ingest/rebuild/fan-out
// pipeline built around it. Exported methods are safe to call from
// any goroutine; the rebuild/fan-out work itself runs serialized on
// the single goroutine started by Run.
type LSDB struct {
	log *logrus.Entry

	queue *lineQueue

	baseNet             *net.IPNet
	controllerPrefixLen int
	priv                *praddr.Store

	// byKey holds the latest stored LSA per (type, key), including
	// expired ones — they stay in the store but are excluded from
	// rebuild, matching spec.md §4.3.
	byKey map[lsa.Type]map[string]lsa.LSA

	lastLine string

	inTx      bool
	txApplied int

	current *graph.Graph

	listeners []Listener
}

// Config names everything the LSDB needs beyond the LSA stream
// itself: the fibbing controller's reserved base network and the
// prefix length used to group router IDs inside it into instances of
// the same logical controller.
type Config struct {
	BaseNet             *net.IPNet
	ControllerPrefixLen int
	PrivateAddresses    *praddr.Store
}

// New creates an LSDB ready to accept ingest lines via HandleLine or
// Run.
func New(cfg Config, log *logrus.Entry) *LSDB {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &LSDB{
		log:                 log,
		queue:               newLineQueue(),
		baseNet:             cfg.BaseNet,
		controllerPrefixLen: cfg.ControllerPrefixLen,
		priv:                cfg.PrivateAddresses,
		byKey:               make(map[lsa.Type]map[string]lsa.LSA),
		current:             graph.New(),
	}
}

// AddListener registers a listener and immediately delivers it a
// bootstrap snapshot of the current graph, matching spec.md §4.3's
// "on first attachment, send bootstrap_graph instead of a diff."
func (d *LSDB) AddListener(l Listener) {
	d.listeners = append(d.listeners, l)
	l.BootstrapGraph(d.current.ExportEdges())
}

// Enqueue pushes one ingest line for asynchronous processing by Run.
func (d *LSDB) Enqueue(line string) {
	d.queue.Push(line)
}

// Run drives the single-goroutine ingest loop until ctx is canceled:
// it pulls lines from the queue, applies BEGIN/ADD/REM/COMMIT
// semantics, and auto-commits after idleAutoCommit of silence,
// matching the original's process_lsa worker loop.
func (d *LSDB) Run(ctx context.Context) {
	timer := time.NewTimer(idleAutoCommit)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-d.queue.Chan():
			if !ok {
				return
			}
			if !timer.Stop() {
				<-timer.C
			}
			d.handleLine(line)
			timer.Reset(idleAutoCommit)
		case <-timer.C:
			if d.inTx {
				d.log.Debug("lsdb: idle timeout, auto-committing open transaction")
				d.commit()
			}
			timer.Reset(idleAutoCommit)
		}
	}
}

// handleLine dispatches a single ingest line, dropping it if it is
// empty or an exact repeat of the previous line.
func (d *LSDB) handleLine(line string) {
	if line == "" {
		return
	}
	if line == d.lastLine {
		d.log.Debug("lsdb: dropping duplicate line")
		return
	}
	d.lastLine = line

	switch {
	case line == lineBegin:
		d.inTx = true
		d.txApplied = 0
	case line == lineCommit:
		d.commit()
	case strings.HasPrefix(line, prefixAdd):
		d.handleAdd(line[len(prefixAdd):])
	case strings.HasPrefix(line, prefixRem):
		d.handleRem(line[len(prefixRem):])
	default:
		d.log.WithField("line", line).Warn("lsdb: unrecognized ingest line")
	}
}

func (d *LSDB) handleAdd(payload string) {
	l, err := lsa.Parse(payload)
	if err != nil {
		d.log.WithError(err).WithField("payload", payload).Warn("lsdb: LSA parse error, skipping line")
		return
	}
	bucket := d.byKey[l.Type()]
	if bucket == nil {
		bucket = make(map[string]lsa.LSA)
		d.byKey[l.Type()] = bucket
	}
	prev, existed := bucket[l.Key()]
	if existed && !lsa.IsNewerSeqnum(l.SeqNum(), prev.SeqNum()) && l.SeqNum() != prev.SeqNum() {
		d.log.WithField("key", l.Key()).Debug("lsdb: dropping ADD with stale seqnum")
		return
	}
	bucket[l.Key()] = l
	d.txApplied++
	if !d.inTx {
		d.commit()
	}
}

func (d *LSDB) handleRem(payload string) {
	l, err := lsa.Parse(payload)
	if err != nil {
		d.log.WithError(err).WithField("payload", payload).Warn("lsdb: LSA parse error, skipping line")
		return
	}
	bucket := d.byKey[l.Type()]
	if bucket != nil {
		if _, ok := bucket[l.Key()]; ok {
			delete(bucket, l.Key())
			d.txApplied++
		}
	}
	if !d.inTx {
		d.commit()
	}
}

// commit closes the open transaction (if any) and, if at least one
// ADD or REM was applied since the last commit, rebuilds the graph
// and fans out the diff to listeners.
func (d *LSDB) commit() {
	d.inTx = false
	applied := d.txApplied
	d.txApplied = 0
	if applied == 0 {
		return
	}
	rebuilt := d.buildGraph()
	d.updateGraph(rebuilt)
}

// buildGraph is a pure function of the current (non-expired) LSA set:
// it allocates a fresh graph, applies every stored LSA's contribution,
// contracts each router's interface/private addresses into its router
// ID, groups and contracts controller instances, and drops self-loops.
func (d *LSDB) buildGraph() *graph.Graph {
	g := graph.New()

	networkLSAs := d.byKey[lsa.TypeNetwork]
	lookupNetwork := func(drIP string) (*lsa.NetworkLSA, bool) {
		if networkLSAs == nil {
			return nil, false
		}
		n, ok := networkLSAs[drIP]
		if !ok {
			return nil, false
		}
		return n.(*lsa.NetworkLSA), true
	}
	resolver := &forwardResolver{baseNet: d.baseNet, priv: d.priv}

	for _, bucket := range d.byKey {
		for _, l := range bucket {
			if lsa.IsExpired(l.Age()) {
				continue
			}
			l.Apply(g, lookupNetwork, resolver)
		}
	}

	// Contract each router's link/private addresses into its router ID.
	for _, l := range d.byKey[lsa.TypeRouter] {
		if lsa.IsExpired(l.Age()) {
			continue
		}
		r := l.(*lsa.RouterLSA)
		var privateIDs []string
		if d.priv != nil {
			for _, ip := range d.priv.AddressesOf(r.RouterID) {
				privateIDs = append(privateIDs, ip.String())
			}
		}
		ids := r.ContractIDs(privateIDs)
		if len(ids) > 0 {
			g.Contract(r.RouterID, append(ids, r.RouterID))
		}
	}

	d.contractControllerInstances(g)
	removeSelfLoops(g)
	annotateDstAddresses(g, d.priv)
	return g
}

// annotateDstAddresses fills in DstAddress on every router-link edge
// from the private-address store, so forwarding_address_of(src, dst)
// can report the downstream hop's own address rather than the
// advertising router's. Picks the smallest of dst's known addresses
// for a stable result when a router owns more than one.
func annotateDstAddresses(g *graph.Graph, priv *praddr.Store) {
	if priv == nil {
		return
	}
	for _, e := range g.ExportEdges() {
		if e.Kind != graph.RouterLink {
			continue
		}
		addrs := priv.AddressesOf(e.Dst)
		var best net.IP
		for _, a := range addrs {
			if best == nil || bytes.Compare(a, best) < 0 {
				best = a
			}
		}
		e.DstAddress = best
	}
}

// contractControllerInstances groups router nodes whose ID falls
// inside the configured base network by the high-order
// controllerPrefixLen bits, and contracts each group into a single
// "C_<instance>" node — the mechanism that lets several fibbing
// processes announcing under the same base network appear as one
// logical controller to the solver.
func (d *LSDB) contractControllerInstances(g *graph.Graph) {
	if d.baseNet == nil {
		return
	}
	groups := make(map[string][]string)
	for _, n := range g.Nodes() {
		if n.Kind != graph.Router || n.RouterID == nil {
			continue
		}
		if !d.baseNet.Contains(n.RouterID) {
			continue
		}
		instance := maskTo(n.RouterID, d.controllerPrefixLen)
		groups[instance] = append(groups[instance], n.ID)
	}
	for instance, members := range groups {
		sort.Strings(members)
		target := "C_" + instance
		// Contract the other members into the first, then re-key that
		// node as target: Contract creates target from a copy of the
		// first member's node record and removes the member.
		g.Contract(members[0], members)
		if members[0] != target {
			g.Contract(target, []string{members[0]})
		}
	}
}

// maskTo renders the network portion of ip under prefixLen as a
// dotted string, used as the instance-group key.
func maskTo(ip net.IP, prefixLen int) string {
	ip4 := ip.To4()
	if ip4 == nil {
		return ip.String()
	}
	mask := net.CIDRMask(prefixLen, 32)
	return ip4.Mask(mask).String()
}

func removeSelfLoops(g *graph.Graph) {
	for _, n := range g.Nodes() {
		g.RemoveEdgesBetween(n.ID, n.ID)
	}
}

// updateGraph diffs rebuilt against the previously published graph,
// delivers add_edge/remove_edge to every listener followed by commit,
// and adopts rebuilt as the new current graph.
func (d *LSDB) updateGraph(rebuilt *graph.Graph) {
	added := graph.Difference(rebuilt, d.current)
	removed := graph.Difference(d.current, rebuilt)
	d.current = rebuilt

	for _, l := range d.listeners {
		for _, e := range removed {
			l.RemoveEdge(e)
		}
		for _, e := range added {
			l.AddEdge(e)
		}
		l.Commit()
	}
}

// Graph returns the most recently rebuilt graph. Callers must treat
// it as read-only; the next commit may replace it wholesale.
func (d *LSDB) Graph() *graph.Graph {
	return d.current
}

// ForwardingAddressOf resolves the public forwarding address used to
// reach dst: if src is non-empty, it is the dst_address annotation on
// the src->dst edge — the downstream hop's own address, not the
// advertising router's; otherwise it is the smallest src_address among
// dst's outgoing router-link edges, so that unrelated callers observe
// a stable address rather than an arbitrary one. Returns nil if no
// such data is available — this never raises.
func (d *LSDB) ForwardingAddressOf(src, dst string) net.IP {
	if src != "" {
		for _, e := range d.current.EdgesBetween(src, dst) {
			if e.Kind == graph.RouterLink {
				return e.DstAddress
			}
		}
		return nil
	}
	var best net.IP
	for _, succ := range d.current.Successors(dst) {
		for _, e := range d.current.EdgesBetween(dst, succ) {
			addr := e.SrcAddress
			if addr == nil {
				continue
			}
			if best == nil || bytes.Compare(addr, best) < 0 {
				best = addr
			}
		}
	}
	return best
}


// forwardResolver adapts praddr.Store plus the configured base
// network into the lsa.ForwardResolver interface.
type forwardResolver struct {
	baseNet *net.IPNet
	priv    *praddr.Store
}

func (r *forwardResolver) IsControllerInstance(routerID net.IP) bool {
	return r.baseNet != nil && r.baseNet.Contains(routerID)
}

func (r *forwardResolver) TargetsFor(privateIP net.IP) ([]net.IP, bool) {
	if r.priv == nil {
		return nil, false
	}
	return r.priv.TargetsFor(privateIP)
}
