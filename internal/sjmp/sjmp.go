// Package sjmp implements the Simple JSON Message Protocol transport:
// newline-delimited JSON command frames exchanged over a TCP or Unix
// domain socket connection (selected by a `unix://` URL scheme), with
// a 5-second idle keep-alive and a small EXEC/RESULT/EXCEPTION/
// INFO/DISPLAY/PING/PONG command set.
package sjmp

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Command names, matching the wire contract verbatim.
const (
	CmdExec      = "EXEC"
	CmdResult    = "RESULT"
	CmdException = "EXCEPTION"
	CmdInfo      = "INFO"
	CmdDisplay   = "DISPLAY"
	CmdPing      = "PING"
	CmdPong      = "PONG"
)

// idleKeepAlive is how long Communicate waits for an incoming frame
// before sending an unsolicited PING.
const idleKeepAlive = 5 * time.Second

// Frame is one wire message: a command name plus its opaque argument
// object.
type Frame struct {
	Cmd    string          `json:"cmd"`
	CmdArg json.RawMessage `json:"cmd_arg"`
}

// ExecArg is the cmd_arg shape of an EXEC frame.
type ExecArg struct {
	Method  string        `json:"method"`
	ArgList []interface{} `json:"arg_list"`
	ArgDict map[string]interface{} `json:"arg_dict"`
}

// ExceptionArg is the cmd_arg shape of an EXCEPTION frame.
type ExceptionArg struct {
	CmdArg    interface{} `json:"cmd_arg"`
	Exception string      `json:"exception"`
}

// Method describes one entry of a target's method catalog, served on
// an INFO request and carried in a DISPLAY frame.
type Method struct {
	Func func(args []interface{}, kwargs map[string]interface{}) (interface{}, error)
	Doc  string
	Args []string
}

// Target is the static method registry a Conn dispatches EXEC frames
// against. Built with a plain map rather than reflection, since Go has
// no runtime method-catalog introspection equivalent to Python's
// inspect module.
type Target map[string]Method

// Conn is one SJMP session: a connected socket plus the frame
// codec and dispatch loop around it.
type Conn struct {
	name string
	nc   net.Conn
	r    *bufio.Scanner
	w    *bufio.Writer
	log  *logrus.Entry

	target Target
}

// NewConn wraps an already-connected net.Conn. target may be nil if
// this side of the session never receives EXEC requests (a pure
// client that only calls Execute).
func NewConn(nc net.Conn, target Target, log *logrus.Entry) *Conn {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	scanner := bufio.NewScanner(nc)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	return &Conn{
		name:   uuid.NewString(),
		nc:     nc,
		r:      scanner,
		w:      bufio.NewWriter(nc),
		log:    log.WithField("session", uuid.NewString()),
		target: target,
	}
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.nc.Close()
}

// Execute sends an EXEC frame invoking method on the remote target.
func (c *Conn) Execute(method string, args []interface{}, kwargs map[string]interface{}) error {
	if args == nil {
		args = []interface{}{}
	}
	if kwargs == nil {
		kwargs = map[string]interface{}{}
	}
	return c.send(CmdExec, ExecArg{Method: method, ArgList: args, ArgDict: kwargs})
}

// AskInfo requests the remote side's method catalog.
func (c *Conn) AskInfo() error {
	return c.send(CmdInfo, struct{}{})
}

func (c *Conn) send(cmd string, arg interface{}) error {
	payload, err := json.Marshal(arg)
	if err != nil {
		return errors.Wrap(err, "sjmp: marshaling cmd_arg")
	}
	frame := Frame{Cmd: cmd, CmdArg: payload}
	line, err := json.Marshal(frame)
	if err != nil {
		return errors.Wrap(err, "sjmp: marshaling frame")
	}
	if _, err := c.w.Write(line); err != nil {
		return errors.Wrap(err, "sjmp: writing frame")
	}
	if err := c.w.WriteByte('\n'); err != nil {
		return errors.Wrap(err, "sjmp: writing frame terminator")
	}
	return c.w.Flush()
}

// Communicate reads frames until ctx is canceled or the connection is
// no longer readable, dispatching each one to the matching hook. It
// sends a PING whenever idleKeepAlive elapses with nothing received,
// matching the original's select-based keep-alive loop.
func (c *Conn) Communicate(ctx context.Context) error {
	lines := make(chan string)
	errs := make(chan error, 1)
	go func() {
		for c.r.Scan() {
			select {
			case lines <- c.r.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := c.r.Err(); err != nil {
			errs <- err
		} else {
			errs <- errors.New("sjmp: connection closed")
		}
	}()

	timer := time.NewTimer(idleKeepAlive)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errs:
			return err
		case line := <-lines:
			if !timer.Stop() {
				<-timer.C
			}
			c.handleLine(line)
			timer.Reset(idleKeepAlive)
		case <-timer.C:
			_ = c.send(CmdPing, struct{}{})
			timer.Reset(idleKeepAlive)
		}
	}
}

func (c *Conn) handleLine(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	var frame Frame
	if err := json.Unmarshal([]byte(line), &frame); err != nil {
		c.log.WithField("line", line).Debug("sjmp: malformed JSON frame, ignoring")
		return
	}
	switch frame.Cmd {
	case CmdExec:
		c.handleExec(frame.CmdArg)
	case CmdResult:
		c.log.WithField("result", string(frame.CmdArg)).Info("sjmp: remote result")
	case CmdException:
		var arg ExceptionArg
		_ = json.Unmarshal(frame.CmdArg, &arg)
		c.log.WithFields(logrus.Fields{"cmd_arg": arg.CmdArg, "exception": arg.Exception}).
			Error("sjmp: remote exception")
	case CmdInfo:
		c.handleInfo()
	case CmdDisplay:
		c.log.WithField("catalog", string(frame.CmdArg)).Info("sjmp: remote method catalog")
	case CmdPing:
		_ = c.send(CmdPong, struct{}{})
	case CmdPong:
		// no-op, presence of the frame is enough to keep the idle timer alive
	default:
		c.log.WithField("cmd", frame.Cmd).Debug("sjmp: unrecognized command")
	}
}

func (c *Conn) handleExec(raw json.RawMessage) {
	var arg ExecArg
	if err := json.Unmarshal(raw, &arg); err != nil {
		c.sendException(raw, err)
		return
	}
	if c.target == nil {
		c.sendException(raw, errors.Errorf("no target registered"))
		return
	}
	method, ok := c.target[arg.Method]
	if !ok {
		c.sendException(raw, errors.Errorf("unknown method %q", arg.Method))
		return
	}
	result, err := method.Func(arg.ArgList, arg.ArgDict)
	if err != nil {
		c.sendException(raw, err)
		return
	}
	if result != nil {
		_ = c.send(CmdResult, result)
	}
}

func (c *Conn) sendException(cmdArg json.RawMessage, err error) {
	c.log.WithError(err).Debug("sjmp: EXEC failed")
	_ = c.send(CmdException, ExceptionArg{CmdArg: json.RawMessage(cmdArg), Exception: err.Error()})
}

func (c *Conn) handleInfo() {
	catalog := make(map[string]struct {
		Doc  string   `json:"doc"`
		Args []string `json:"args"`
	}, len(c.target))
	for name, m := range c.target {
		catalog[name] = struct {
			Doc  string   `json:"doc"`
			Args []string `json:"args"`
		}{Doc: m.Doc, Args: m.Args}
	}
	_ = c.send(CmdDisplay, catalog)
}

// ParseAddress splits an SJMP endpoint URL into a dial/listen network
// ("tcp" or "unix") and address, matching the original's unix://
// scheme detection.
func ParseAddress(endpoint string) (network, address string, err error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", "", errors.Wrap(err, "sjmp: parsing endpoint")
	}
	if u.Scheme == "unix" {
		return "unix", u.Path, nil
	}
	return "tcp", u.Host, nil
}

// Listener accepts SJMP connections and hands each one to handle on
// its own goroutine, matching the original's one-thread-per-client
// server loop.
type Listener struct {
	nl     net.Listener
	target Target
	log    *logrus.Entry
}

// Listen opens a listener on endpoint (a tcp://host:port or a
// unix:///path URL). A pre-existing Unix socket file at the target path is
// unlinked first.
func Listen(endpoint string, target Target, log *logrus.Entry) (*Listener, error) {
	network, address, err := ParseAddress(endpoint)
	if err != nil {
		return nil, err
	}
	if network == "unix" {
		_ = os.Remove(address)
	}
	nl, err := net.Listen(network, address)
	if err != nil {
		return nil, errors.Wrapf(err, "sjmp: listening on %s", endpoint)
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Listener{nl: nl, target: target, log: log}, nil
}

// Serve accepts connections until ctx is canceled, running each one's
// Communicate loop on its own goroutine.
func (l *Listener) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = l.nl.Close()
	}()
	for {
		nc, err := l.nl.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return errors.Wrap(err, "sjmp: accept")
			}
		}
		conn := NewConn(nc, l.target, l.log)
		go func() {
			defer nc.Close()
			if err := conn.Communicate(ctx); err != nil {
				l.log.WithError(err).Debug("sjmp: client session ended")
			}
		}()
	}
}

// Addr returns the listener's local address.
func (l *Listener) Addr() net.Addr { return l.nl.Addr() }

// Close closes the listener.
func (l *Listener) Close() error { return l.nl.Close() }

// Dial connects to an SJMP endpoint and returns a ready Conn.
func Dial(ctx context.Context, endpoint string, target Target, log *logrus.Entry) (*Conn, error) {
	network, address, err := ParseAddress(endpoint)
	if err != nil {
		return nil, err
	}
	var d net.Dialer
	nc, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, errors.Wrapf(err, "sjmp: dialing %s", endpoint)
	}
	return NewConn(nc, target, log), nil
}
