// Package ingest owns the LSA transport framing only: it opens the
// named pipe the controller's LSA source writes into (Unix sockets
// are not supported), splits it into lines, and pushes each completed line to a
// sink. It performs no LSA parsing of its own — that stays in
// internal/lsdb.
package ingest

import (
	"bufio"
	"context"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Sink receives one completed ingest line at a time.
type Sink interface {
	Enqueue(line string)
}

// OpenFIFO creates (if absent) and opens path as a named pipe, owned
// by the current process's UID with rw permissions, matching spec.md
// §6's "Files are created rw for the daemon's UID."
func OpenFIFO(path string) (*os.File, error) {
	if err := unix.Mkfifo(path, 0o600); err != nil && !os.IsExist(err) {
		return nil, errors.Wrapf(err, "ingest: creating fifo %s", path)
	}
	// A FIFO opened O_RDONLY blocks until a writer attaches; daemons
	// reading their own ingest pipe also open O_RDWR so the read side
	// never blocks waiting for the first writer.
	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		return nil, errors.Wrapf(err, "ingest: opening fifo %s", path)
	}
	return f, nil
}

// Run reads newline-delimited lines from r until ctx is canceled or
// the pipe is closed, pushing each one onto sink.
func Run(ctx context.Context, r *os.File, sink Sink, log *logrus.Entry) error {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	lines := make(chan string)
	errs := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		if err := scanner.Err(); err != nil {
			errs <- errors.Wrap(err, "ingest: reading fifo")
			return
		}
		errs <- nil
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line := <-lines:
			sink.Enqueue(line)
		case err := <-errs:
			if err != nil {
				log.WithError(err).Warn("ingest: fifo read loop ended with an error")
			}
			return err
		}
	}
}

// Unlink removes the FIFO/socket file at path, ignoring a
// not-exist error, matching spec.md's "unlinked on exit."
func Unlink(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "ingest: unlinking %s", path)
	}
	return nil
}
