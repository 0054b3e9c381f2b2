// Command fibbingd runs the OSPF-fibbing controller: it ingests LSAs
// from a named pipe, rebuilds its view of the IGP on every committed
// change, solves the configured forwarding requirements against that
// view, and pushes the resulting fake LSAs to a southbound advertiser
// over SJMP.
package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/fibbingctl/fibbingd/internal/config"
	"github.com/fibbingctl/fibbingd/internal/igpview"
	"github.com/fibbingctl/fibbingd/internal/ingest"
	"github.com/fibbingctl/fibbingd/internal/lsdb"
	"github.com/fibbingctl/fibbingd/internal/merger"
	"github.com/fibbingctl/fibbingd/internal/metrics"
	"github.com/fibbingctl/fibbingd/internal/northbound"
	"github.com/fibbingctl/fibbingd/internal/obslog"
	"github.com/fibbingctl/fibbingd/internal/praddr"
	"github.com/fibbingctl/fibbingd/internal/sjmp"
	"github.com/fibbingctl/fibbingd/internal/southbound"
)

func main() {
	log := obslog.New(envOr("FIBBINGD_LOG_LEVEL", "info"))

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.WithError(err).Fatal("fibbingd: loading configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	priv := praddr.New(cfg.PrivateAddressFile, obslog.Component(log, "praddr"))
	if err := priv.Watch(); err != nil {
		log.WithError(err).Warn("fibbingd: could not watch private address file for changes")
	}
	defer priv.Close()

	m := metrics.New()
	m.MustRegister(prometheus.DefaultRegisterer)

	db := lsdb.New(lsdb.Config{
		BaseNet:             cfg.BaseNet,
		ControllerPrefixLen: cfg.ControllerPrefixLen,
		PrivateAddresses:    priv,
	}, obslog.Component(log, "lsdb"))

	requirements := newStaticRequirements()

	var southboundClient *southbound.Client
	if cfg.SouthboundEndpoint != "" {
		southboundClient, err = southbound.Dial(ctx, cfg.SouthboundEndpoint, obslog.Component(log, "southbound"))
		if err != nil {
			log.WithError(err).Fatal("fibbingd: dialing southbound advertiser")
		}
		defer southboundClient.Close()
	}

	controller := northbound.New(
		viewSourceFunc(func() *igpview.View { return igpview.Build(db) }),
		requirements,
		southboundClient,
		merger.PolicyPartialECMP,
		m,
		obslog.Component(log, "northbound"),
	)

	listener, err := sjmp.Listen(cfg.RPCListen, northboundTarget(controller, func() *igpview.View { return igpview.Build(db) }), obslog.Component(log, "sjmp"))
	if err != nil {
		log.WithError(err).Fatal("fibbingd: opening SJMP listener")
	}

	fifo, err := ingest.OpenFIFO(cfg.LSAPipePath)
	if err != nil {
		log.WithError(err).Fatal("fibbingd: opening LSA ingest pipe")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		db.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return ingest.Run(gctx, fifo, enqueueFunc(db.Enqueue), obslog.Component(log, "ingest"))
	})
	g.Go(func() error {
		return listener.Serve(gctx)
	})

	<-gctx.Done()
	log.Info("fibbingd: shutting down")

	_ = listener.Close()
	_ = fifo.Close()
	_ = ingest.Unlink(cfg.LSAPipePath)

	if network, address, err := sjmp.ParseAddress(cfg.RPCListen); err == nil && network == "unix" {
		_ = ingest.Unlink(address)
	}

	if err := g.Wait(); err != nil {
		log.WithError(err).Warn("fibbingd: a worker goroutine exited with an error")
	}
}

type viewSourceFunc func() *igpview.View

func (f viewSourceFunc) View() *igpview.View { return f() }

type enqueueFunc func(line string)

func (f enqueueFunc) Enqueue(line string) { f(line) }

func envOr(name, def string) string {
	if v, ok := os.LookupEnv(name); ok {
		return v
	}
	return def
}

// staticRequirements is a placeholder RequirementSource until an
// operator-facing requirement API exists; it reports no forwarding
// requirements, so the solver emits nothing and the daemon only ever
// mirrors the network's own default SPT.
type staticRequirements struct{}

func newStaticRequirements() *staticRequirements { return &staticRequirements{} }

func (*staticRequirements) Requirements() []merger.Requirement { return nil }

// northboundTarget exposes two methods on the northbound SJMP channel:
// commit, which runs a solve against the current graph, and
// lookup_route, a read-only operator query. It registers no graph
// mutation methods; graph changes reach the LSDB only through the
// ingest pipe. viewFn supplies a fresh (graph, SPT, prefix-index)
// snapshot for lookup_route.
func northboundTarget(c *northbound.Controller, viewFn func() *igpview.View) sjmp.Target {
	return sjmp.Target{
		"commit": {
			Doc: "Recompute solver output against the current graph.",
			Func: func(args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
				return nil, c.Trigger(context.Background())
			},
		},
		"lookup_route": {
			Doc: "Return the most specific advertised prefix covering a destination address and its originating routers.",
			Func: func(args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
				if len(args) == 0 {
					return nil, errors.New("lookup_route: missing destination argument")
				}
				addr, ok := args[0].(string)
				if !ok {
					return nil, errors.New("lookup_route: destination argument must be a string")
				}
				dest := net.ParseIP(addr)
				if dest == nil {
					return nil, errors.Errorf("lookup_route: %q is not an IP address", addr)
				}
				network, origins, err := viewFn().LookupPrefix(dest)
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{
					"prefix":  network.String(),
					"origins": strings.Join(origins, ","),
				}, nil
			},
		},
	}
}
