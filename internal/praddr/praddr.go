// Package praddr implements the private-address store: the JSON
// binding file mapping each router's secondary/private interface
// addresses to the broadcast-domain peers reachable through them,
// which the LSDB consults to tell a controller-sourced local lie from
// a global one.
package praddr

import (
	"encoding/json"
	"net"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// binding is one entry of the JSON file: a router ID and the private
// IPs it owns, each fronting a broadcast domain of peer IPs.
type binding struct {
	RouterID string              `json:"router_id"`
	Private  map[string][]string `json:"private"`
}

// Store is a bidirectional, reloadable index: router ID to its
// private IPs, and private IP to the broadcast-domain peers it
// fronts. A missing or malformed file yields an empty store rather
// than an error, matching the original's "never let a bad binding
// file take the LSDB down" behavior.
type Store struct {
	mu sync.RWMutex

	path string
	log  *logrus.Entry

	addressesOf map[string][]net.IP // routerID -> private IPs
	targetsFor  map[string][]net.IP // private IP -> broadcast-domain peers

	watcher *fsnotify.Watcher
	stop    chan struct{}
}

// New creates a store bound to path and performs an initial load. The
// returned store does not watch path for changes until Watch is
// called.
func New(path string, log *logrus.Entry) *Store {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Store{path: path, log: log}
	s.Reload()
	return s
}

// Reload re-reads the binding file, replacing the store's contents in
// place. Errors are logged and leave the store empty, never panicking
// or returning an error the ingest/LSDB path would need to handle.
func (s *Store) Reload() {
	addressesOf := make(map[string][]net.IP)
	targetsFor := make(map[string][]net.IP)

	data, err := os.ReadFile(s.path)
	if err != nil {
		s.log.WithError(err).Warn("praddr: cannot read private address file, using empty store")
		s.set(addressesOf, targetsFor)
		return
	}
	var bindings []binding
	if err := json.Unmarshal(data, &bindings); err != nil {
		s.log.WithError(errors.Wrap(err, "praddr")).Warn("praddr: malformed private address file, using empty store")
		s.set(addressesOf, targetsFor)
		return
	}
	for _, b := range bindings {
		for privateIP, peers := range b.Private {
			ip := net.ParseIP(privateIP)
			if ip == nil {
				continue
			}
			addressesOf[b.RouterID] = append(addressesOf[b.RouterID], ip)
			peerIPs := make([]net.IP, 0, len(peers))
			for _, p := range peers {
				if pip := net.ParseIP(p); pip != nil {
					peerIPs = append(peerIPs, pip)
				}
			}
			targetsFor[ip.String()] = peerIPs
		}
	}
	s.set(addressesOf, targetsFor)
}

func (s *Store) set(addressesOf, targetsFor map[string][]net.IP) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addressesOf = addressesOf
	s.targetsFor = targetsFor
}

// AddressesOf returns the private IPs known to belong to routerID.
func (s *Store) AddressesOf(routerID string) []net.IP {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addressesOf[routerID]
}

// TargetsFor resolves a private IP to the broadcast-domain peers it
// fronts, and whether the address is a known private binding at all —
// the latter is what lets lsa.ASExternalLSA.Apply distinguish a local
// lie (known) from a global one (unknown).
func (s *Store) TargetsFor(privateIP net.IP) ([]net.IP, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.targetsFor[privateIP.String()]
	return t, ok
}

// Watch starts watching the binding file for changes, reloading on
// every write event, until Close is called. This is an enrichment
// over the original (which only reads the file once at LSDB
// construction): operators correcting a malformed binding file should
// not need to restart the daemon.
func (s *Store) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "praddr: creating watcher")
	}
	if err := w.Add(s.path); err != nil {
		w.Close()
		return errors.Wrapf(err, "praddr: watching %s", s.path)
	}
	s.watcher = w
	s.stop = make(chan struct{})
	go s.watchLoop()
	return nil
}

func (s *Store) watchLoop() {
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				s.log.Debug("praddr: binding file changed, reloading")
				s.Reload()
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.WithError(err).Warn("praddr: watcher error")
		case <-s.stop:
			return
		}
	}
}

// Close stops the watcher started by Watch, if any.
func (s *Store) Close() error {
	if s.watcher == nil {
		return nil
	}
	close(s.stop)
	return s.watcher.Close()
}
