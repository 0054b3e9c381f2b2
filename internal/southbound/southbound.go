// Package southbound is the client half of the southbound advertiser
// method surface: add/remove/exit calls issued over an SJMP
// connection to the process that actually injects LSAs into the real
// OSPF network.
package southbound

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/fibbingctl/fibbingd/internal/sjmp"
)

// Point is one southbound advertisement: Metric negative selects a
// local lie, with |Metric| the private-address index to use; Metric
// positive is a global lie at that cost.
type Point struct {
	Source     string
	Forwarding string
	Metric     int
	Prefix     string
}

// RemovePoint is one withdrawal: source/forwarding/prefix with no
// metric, since withdrawing doesn't need to disambiguate cost.
type RemovePoint struct {
	Source     string
	Forwarding string
	Prefix     string
}

// Client issues add/remove/exit calls to a southbound advertiser over
// an already-dialed SJMP connection.
type Client struct {
	conn *sjmp.Conn
	log  *logrus.Entry
}

// Dial connects to the southbound advertiser listening at endpoint and
// starts its keep-alive/command loop in the background until ctx is
// canceled.
func Dial(ctx context.Context, endpoint string, log *logrus.Entry) (*Client, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	conn, err := sjmp.Dial(ctx, endpoint, nil, log)
	if err != nil {
		return nil, err
	}
	go func() {
		if err := conn.Communicate(ctx); err != nil {
			log.WithError(err).Debug("southbound: connection closed")
		}
	}()
	return &Client{conn: conn, log: log}, nil
}

func pointTuple(p Point) []interface{} {
	return []interface{}{p.Source, p.Forwarding, p.Metric, p.Prefix}
}

func removeTuple(p RemovePoint) []interface{} {
	return []interface{}{p.Source, p.Forwarding, p.Prefix}
}

// Add advertises a batch of fake routes.
func (c *Client) Add(points []Point) error {
	tuples := make([]interface{}, len(points))
	for i, p := range points {
		tuples[i] = pointTuple(p)
	}
	return c.conn.Execute("add", []interface{}{tuples}, nil)
}

// Remove withdraws a batch of previously advertised fake routes.
func (c *Client) Remove(points []RemovePoint) error {
	tuples := make([]interface{}, len(points))
	for i, p := range points {
		tuples[i] = removeTuple(p)
	}
	return c.conn.Execute("remove", []interface{}{tuples}, nil)
}

// Exit asks the southbound advertiser to shut itself down.
func (c *Client) Exit() error {
	return c.conn.Execute("exit", nil, nil)
}

// Close closes the underlying SJMP connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
