// Package config reads the small set of process settings fibbingd
// needs to start: listen endpoints, file paths, and the controller's
// reserved base network. There is no general-purpose config file
// format here — only environment variables and a handful of explicit
// flags, matching spec.md's stance that CLI/config-file parsing beyond
// this is out of scope.
package config

import (
	"flag"
	"net"
	"os"
	"strconv"

	"github.com/pkg/errors"
)

// Config is everything cmd/fibbingd needs to wire up the daemon.
type Config struct {
	// RPCListen is the SJMP endpoint the northbound controller
	// listens on (tcp://host:port or unix:///path).
	RPCListen string
	// SouthboundEndpoint is the SJMP endpoint of the southbound
	// advertiser this daemon should connect to.
	SouthboundEndpoint string
	// LSAPipePath is the named pipe the LSA source writes into.
	LSAPipePath string
	// PrivateAddressFile is the JSON binding file path.
	PrivateAddressFile string
	// BaseNet is the fibbing controller's reserved base network.
	BaseNet *net.IPNet
	// ControllerPrefixLen is the prefix length used to group router
	// IDs inside BaseNet into controller instances.
	ControllerPrefixLen int
}

const (
	envPrefix = "FIBBINGD_"

	defaultRPCListen  = "tcp://127.0.0.1:6000"
	defaultPipePath   = "/var/run/fibbingd/lsa.pipe"
	defaultPrivFile   = "/etc/fibbingd/private-addresses.json"
	defaultBaseNet    = "192.168.0.0/16"
	defaultControlLen = 24
)

// Load parses flags (falling back to environment variables, falling
// back to defaults) into a Config. args is normally os.Args[1:].
func Load(args []string) (Config, error) {
	fs := flag.NewFlagSet("fibbingd", flag.ContinueOnError)
	rpcListen := fs.String("rpc-listen", envOr("RPC_LISTEN", defaultRPCListen), "SJMP northbound listen endpoint")
	southbound := fs.String("southbound", envOr("SOUTHBOUND", ""), "SJMP southbound advertiser endpoint")
	pipePath := fs.String("lsa-pipe", envOr("LSA_PIPE", defaultPipePath), "LSA ingest named pipe path")
	privFile := fs.String("private-addresses", envOr("PRIVATE_ADDRESSES", defaultPrivFile), "private address binding file")
	baseNet := fs.String("base-net", envOr("BASE_NET", defaultBaseNet), "fibbing controller reserved base network")
	controllerPrefixLen := fs.Int("controller-prefix-len", envIntOr("CONTROLLER_PREFIX_LEN", defaultControlLen), "controller instance grouping prefix length")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	_, parsedNet, err := net.ParseCIDR(*baseNet)
	if err != nil {
		return Config{}, errors.Wrapf(err, "config: parsing base-net %q", *baseNet)
	}

	return Config{
		RPCListen:           *rpcListen,
		SouthboundEndpoint:  *southbound,
		LSAPipePath:         *pipePath,
		PrivateAddressFile:  *privFile,
		BaseNet:             parsedNet,
		ControllerPrefixLen: *controllerPrefixLen,
	}, nil
}

func envOr(name, def string) string {
	if v, ok := os.LookupEnv(envPrefix + name); ok {
		return v
	}
	return def
}

func envIntOr(name string, def int) int {
	v, ok := os.LookupEnv(envPrefix + name)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
