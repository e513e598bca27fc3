package rtmp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/ssungk/rtmpc/pkg/amf"
	"github.com/ssungk/rtmpc/pkg/rtmp/transport"
)

var (
	// ErrDisconnected is returned for calls on a closed connection and for
	// calls that were pending when it closed
	ErrDisconnected = errors.New("rtmp: disconnected")

	// ErrRemoteInvocationFailed matches every *RemoteError
	ErrRemoteInvocationFailed = errors.New("rtmp: remote invocation failed")
)

// RemoteError is returned when the server answers an invoke with _error
type RemoteError struct {
	Method string
	Info   StatusInfo

	// Value is the raw error argument, an *ErrorMessage for Flex calls
	Value any
}

func (e *RemoteError) Error() string {
	if msg, ok := e.Value.(*ErrorMessage); ok {
		return fmt.Sprintf("rtmp: %q failed: %s: %s", e.Method, msg.FaultCode, msg.FaultString)
	}
	return fmt.Sprintf("rtmp: %q failed: %s: %s", e.Method, e.Info.Code, e.Info.Description)
}

// Is makes errors.Is(err, ErrRemoteInvocationFailed) true
func (e *RemoteError) Is(target error) bool {
	return target == ErrRemoteInvocationFailed
}

// State is the connection lifecycle state
type State int32

const (
	StateConnecting State = iota
	StateHandshaking
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Call is an invoke in flight. Done receives the call once Result or Error
// is set.
type Call struct {
	Method string
	Args   []any
	Result any
	Error  error
	Done   chan *Call

	id uint32
}

func (call *Call) done() {
	select {
	case call.Done <- call:
	default:
		// Done 채널 용량이 부족하면 버림
	}
}

// outgoing is a message waiting for the writer loop
type outgoing struct {
	msg  *transport.Message
	errc chan error
}

// Conn is a client RTMP connection. A reader goroutine dispatches incoming
// messages and a writer goroutine drains the write queue; both stop when
// the connection closes.
type Conn struct {
	opts      Options
	log       *logrus.Entry
	netConn   net.Conn
	transport *transport.Transport
	registry  amf.TypeRegistry
	useAMF3   atomic.Bool

	ctx    context.Context
	cancel context.CancelCauseFunc
	queue  chan outgoing

	state    atomic.Int32
	nextTxID atomic.Uint32

	// 리더와 호출자 사이의 공유 상태
	mu       sync.Mutex
	closed   bool
	pending  map[uint32]*Call
	streams  map[uint32]*Stream
	clientID string

	closing atomic.Bool
	loops   sync.WaitGroup
}

// Dial connects to an rtmp:// or rtmps:// URL, performs the handshake and
// the connect command. rawURL overrides opts.URL when not empty. ctx bounds
// connection establishment only.
func Dial(ctx context.Context, rawURL string, opts Options) (*Conn, error) {
	if rawURL != "" {
		opts.URL = rawURL
	}
	if opts.URL == "" {
		return nil, errors.New("rtmp: no url")
	}
	opts.setDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	u, addr, err := parseURL(opts.URL)
	if err != nil {
		return nil, err
	}

	log := opts.Logger.WithField("url", opts.URL)
	netConn, err := dial(ctx, u, addr, &opts)
	if err != nil {
		return nil, fmt.Errorf("rtmp: dial %s: %w", addr, err)
	}
	log = log.WithField("remote", netConn.RemoteAddr().String())

	c := newConn(netConn, opts, log)
	if err := c.handshake(ctx); err != nil {
		netConn.Close()
		c.state.Store(int32(StateClosed))
		c.cancel(ErrDisconnected)
		return nil, fmt.Errorf("rtmp: handshake: %w", err)
	}

	c.start()
	c.enqueue(transport.NewSetChunkSizeMessage(opts.ChunkSize))
	c.enqueue(transport.NewWindowAckSizeMessage(opts.WindowAckSize))

	if err := c.connect(ctx, u); err != nil {
		c.shutdown("connect failed", err)
		return nil, err
	}
	if !c.state.CompareAndSwap(int32(StateHandshaking), int32(StateConnected)) {
		return nil, c.disconnectedErr()
	}
	log.WithField("objectEncoding", c.ObjectEncoding()).Info("connected")
	return c, nil
}

func dial(ctx context.Context, u *url.URL, addr string, opts *Options) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: opts.DialTimeout}
	if u.Scheme != "rtmps" {
		return dialer.DialContext(ctx, "tcp", addr)
	}

	config := &tls.Config{
		ServerName:         u.Hostname(),
		InsecureSkipVerify: opts.InsecureSkipVerify,
	}
	// 검증 콜백이 기본 체인 검증을 대체
	if opts.VerifyCertificate != nil {
		config.InsecureSkipVerify = true
		config.VerifyPeerCertificate = opts.VerifyCertificate
	}
	tlsDialer := &tls.Dialer{NetDialer: dialer, Config: config}
	return tlsDialer.DialContext(ctx, "tcp", addr)
}

func newConn(netConn net.Conn, opts Options, log *logrus.Entry) *Conn {
	c := &Conn{
		opts:      opts,
		log:       log,
		netConn:   netConn,
		transport: transport.NewTransport(netConn),
		registry:  opts.Registry,
		queue:     make(chan outgoing, opts.WriteQueueSize),
		pending:   make(map[uint32]*Call),
		streams:   make(map[uint32]*Stream),
	}
	c.ctx, c.cancel = context.WithCancelCause(context.Background())
	c.transport.SetMaxReadAllocation(opts.MaxReadAllocation)
	c.transport.SetSender(c.enqueue)
	c.transport.SetUserControlHandler(c.handleUserControl)
	c.state.Store(int32(StateConnecting))
	return c
}

// handshake runs the client handshake, aborting it when ctx is done
func (c *Conn) handshake(ctx context.Context) error {
	c.state.Store(int32(StateHandshaking))
	stop := context.AfterFunc(ctx, func() {
		c.netConn.Close()
	})
	err := c.transport.ClientHandshake()
	if !stop() {
		return context.Cause(ctx)
	}
	return err
}

// connect sends the connect command with transaction id 1 and applies the
// object encoding the server answers with
func (c *Conn) connect(ctx context.Context, u *url.URL) error {
	app := c.opts.App
	if app == "" {
		app = appFromURL(u)
	}
	tcURL := *u
	tcURL.RawQuery = ""
	tcURL.Fragment = ""

	obj := amf.NewObject().
		Set("app", app).
		Set("flashVer", c.opts.FlashVer).
		Set("swfUrl", nullIfEmpty(c.opts.SwfURL)).
		Set("tcUrl", tcURL.String()).
		Set("fpad", false).
		Set("capabilities", 239.0).
		Set("audioCodecs", 3575.0).
		Set("videoCodecs", 252.0).
		Set("videoFunction", 1.0).
		Set("pageUrl", nullIfEmpty(c.opts.PageURL)).
		Set("objectEncoding", c.opts.objectEncodingValue())

	cmd := &Command{Name: CommandConnect, Object: obj}
	call := c.send(cmd, 0, false, make(chan *Call, 1))
	select {
	case <-call.Done:
	case <-ctx.Done():
		c.forget(call)
		return context.Cause(ctx)
	}
	if call.Error != nil {
		return call.Error
	}

	// 서버가 응답한 인코딩을 따름
	encoding := objectEncodingOf(call.Result)
	c.useAMF3.Store(encoding == 3)
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// objectEncodingOf reads objectEncoding from the connect result info
func objectEncodingOf(info any) float64 {
	switch o := info.(type) {
	case *amf.Object:
		v, _ := o.Get("objectEncoding")
		f, _ := v.(float64)
		return f
	case amf.ECMAArray:
		f, _ := o["objectEncoding"].(float64)
		return f
	}
	return 0
}

// start launches the reader and writer goroutines
func (c *Conn) start() {
	c.loops.Add(2)
	go c.readLoop()
	go c.writeLoop()
}

// Go starts an invoke and returns its Call. done must be buffered; a nil
// done allocates one.
func (c *Conn) Go(method string, args []any, done chan *Call) *Call {
	if done == nil {
		done = make(chan *Call, 1)
	} else if cap(done) == 0 {
		c.log.Panic("rtmp: done channel is unbuffered")
	}
	return c.send(&Command{Name: method, Arguments: args}, 0, c.useAMF3.Load(), done)
}

// Invoke calls method on the server and waits for its result
func (c *Conn) Invoke(ctx context.Context, method string, args ...any) (any, error) {
	call := c.Go(method, args, make(chan *Call, 1))
	select {
	case <-call.Done:
		return call.Result, call.Error
	case <-ctx.Done():
		c.forget(call)
		return nil, context.Cause(ctx)
	}
}

// send registers a pending call, assigns its transaction id and queues cmd
func (c *Conn) send(cmd *Command, streamID uint32, useAMF3 bool, done chan *Call) *Call {
	call := &Call{Method: cmd.Name, Args: cmd.Arguments, Done: done}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		call.Error = c.disconnectedErr()
		call.done()
		return call
	}
	call.id = c.nextTxID.Add(1)
	c.pending[call.id] = call
	c.mu.Unlock()

	cmd.TransactionID = float64(call.id)
	msg, err := cmd.Message(streamID, c.registry, useAMF3)
	if err == nil {
		err = c.enqueue(msg)
	}
	if err != nil {
		c.complete(call.id, nil, err)
	}
	return call
}

// notify queues a command that expects no response
func (c *Conn) notify(cmd *Command, streamID uint32) error {
	msg, err := cmd.Message(streamID, c.registry, c.useAMF3.Load())
	if err != nil {
		return err
	}
	return c.enqueue(msg)
}

// complete removes a pending call and delivers its outcome
func (c *Conn) complete(id uint32, result any, err error) bool {
	c.mu.Lock()
	call, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if !ok {
		return false
	}
	call.Result = result
	call.Error = err
	call.done()
	return true
}

// forget drops a pending call whose caller stopped waiting
func (c *Conn) forget(call *Call) {
	c.mu.Lock()
	delete(c.pending, call.id)
	c.mu.Unlock()
}

// enqueue hands msg to the writer loop
func (c *Conn) enqueue(msg *transport.Message) error {
	select {
	case c.queue <- outgoing{msg: msg}:
		return nil
	case <-c.ctx.Done():
		msg.Release()
		return c.disconnectedErr()
	}
}

// enqueueWait hands msg to the writer loop and waits until it is written
func (c *Conn) enqueueWait(ctx context.Context, msg *transport.Message) error {
	errc := make(chan error, 1)
	select {
	case c.queue <- outgoing{msg: msg, errc: errc}:
	case <-c.ctx.Done():
		msg.Release()
		return c.disconnectedErr()
	case <-ctx.Done():
		msg.Release()
		return context.Cause(ctx)
	}

	select {
	case err := <-errc:
		return err
	case <-c.ctx.Done():
		return c.disconnectedErr()
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

func (c *Conn) writeLoop() {
	defer c.loops.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case out := <-c.queue:
			c.log.WithFields(logrus.Fields{
				"type":     out.msg.Type(),
				"streamID": out.msg.StreamID(),
				"length":   len(out.msg.Data()),
			}).Debug("write message")

			err := c.transport.WriteMessage(out.msg)
			out.msg.Release()
			if out.errc != nil {
				out.errc <- err
			}
			if err != nil {
				c.shutdown("write failed", err)
				return
			}
		}
	}
}

func (c *Conn) readLoop() {
	defer c.loops.Done()
	for {
		msg, err := c.transport.ReadMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.shutdown("end of stream", err)
			} else {
				c.shutdown("read failed", err)
			}
			return
		}

		err = c.dispatch(msg)
		msg.Release()
		if err != nil {
			c.shutdown("protocol violation", err)
			return
		}
	}
}

// dispatch routes one incoming message by its content type
func (c *Conn) dispatch(msg *transport.Message) error {
	log := c.log.WithFields(logrus.Fields{
		"type":     msg.Type(),
		"streamID": msg.StreamID(),
		"length":   len(msg.Data()),
	})
	log.Debug("read message")

	switch msg.Type() {
	case transport.MsgTypeAudio, transport.MsgTypeVideo:
		if c.opts.OnMedia == nil {
			return nil
		}
		ev := MediaEvent{
			StreamID:  msg.StreamID(),
			Type:      msg.Type(),
			Timestamp: msg.Timestamp(),
			Data:      msg.Data(),
		}
		c.callback("OnMedia", func() { c.opts.OnMedia(ev) })

	case transport.MsgTypeAMF0Command, transport.MsgTypeAMF3Command:
		cmd, err := DecodeCommand(msg, c.registry)
		if err != nil {
			return err
		}
		return c.handleCommand(msg.StreamID(), cmd)

	case transport.MsgTypeAMF0Data, transport.MsgTypeAMF3Data,
		transport.MsgTypeAMF0SharedObject, transport.MsgTypeAMF3SharedObject,
		transport.MsgTypeAggregate:
		log.Warn("ignoring unsupported message type")

	default:
		return fmt.Errorf("unknown message type %d: %w", msg.Type(), transport.ErrMalformedProtocolData)
	}
	return nil
}

// handleCommand completes pending calls and raises events for commands
// sent by the server
func (c *Conn) handleCommand(streamID uint32, cmd *Command) error {
	switch cmd.Name {
	case CommandResult:
		c.completeResponse(cmd, cmd.firstArgument(), nil)

	case CommandError:
		arg := cmd.firstArgument()
		rerr := &RemoteError{Info: parseStatusInfo(arg), Value: arg}
		c.completeResponse(cmd, nil, rerr)

	case CommandOnStatus:
		info := parseStatusInfo(cmd.firstArgument())
		c.log.WithFields(logrus.Fields{"streamID": streamID, "code": info.Code}).Debug("status")
		if c.opts.OnStatus != nil {
			ev := StatusEvent{StreamID: streamID, Info: info}
			c.callback("OnStatus", func() { c.opts.OnStatus(ev) })
		}

	case CommandReceive:
		ev, err := messageEvent(cmd.firstArgument())
		if err != nil {
			c.log.WithError(err).Warn("ignoring receive")
			return nil
		}
		if c.opts.OnMessage != nil {
			c.callback("OnMessage", func() { c.opts.OnMessage(ev) })
		}

	case CommandClose:
		c.shutdown("closed by server", nil)

	case CommandOnBWDone:
		// 대역폭 측정은 지원하지 않음

	default:
		c.log.WithField("command", cmd.Name).Warn("unhandled command")
	}
	return nil
}

// completeResponse delivers a _result or _error to its pending call
func (c *Conn) completeResponse(cmd *Command, result any, err error) {
	id := uint32(cmd.TransactionID)

	var rerr *RemoteError
	if errors.As(err, &rerr) {
		c.mu.Lock()
		if call, ok := c.pending[id]; ok {
			rerr.Method = call.Method
		}
		c.mu.Unlock()
	}
	if !c.complete(id, result, err) {
		c.log.WithFields(logrus.Fields{"command": cmd.Name, "txID": id}).Warn("response without pending call")
	}
}

func (c *Conn) handleUserControl(ev transport.UserControlEvent) {
	c.log.WithField("event", ev.Type).Debug("user control")
}

// callback runs a user callback on the reader goroutine
func (c *Conn) callback(name string, fn func()) {
	safeCall(c.log, c.opts.OnCallbackError, name, fn)
}

// shutdown moves the connection to Closed. Only the first call has effect,
// so callbacks may call Close.
func (c *Conn) shutdown(reason string, err error) {
	if !c.closing.CompareAndSwap(false, true) {
		return
	}
	cause := fmt.Errorf("%w: %s", ErrDisconnected, reason)
	if err != nil {
		cause = fmt.Errorf("%w: %s: %w", ErrDisconnected, reason, err)
	}
	c.state.Store(int32(StateClosed))
	c.cancel(cause)
	c.netConn.Close()

	c.mu.Lock()
	c.closed = true
	pending := c.pending
	c.pending = make(map[uint32]*Call)
	c.mu.Unlock()

	for _, call := range pending {
		call.Error = cause
		call.done()
	}

	log := c.log.WithField("reason", reason)
	if err != nil {
		log = log.WithError(err)
	}
	log.Info("disconnected")

	if c.opts.OnDisconnect != nil {
		ev := DisconnectEvent{Reason: reason, Err: err}
		c.callback("OnDisconnect", func() { c.opts.OnDisconnect(ev) })
	}
}

// disconnectedErr returns the error pending and new calls fail with
func (c *Conn) disconnectedErr() error {
	if cause := context.Cause(c.ctx); cause != nil {
		return cause
	}
	return ErrDisconnected
}

// Close closes the connection. It is safe to call more than once.
func (c *Conn) Close() error {
	c.shutdown("closed by client", nil)
	return nil
}

// Wait blocks until both loops have exited
func (c *Conn) Wait() {
	c.loops.Wait()
}

// Done is closed when the connection closes
func (c *Conn) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Err returns the reason the connection closed, or nil while it is open
func (c *Conn) Err() error {
	return context.Cause(c.ctx)
}

// State returns the lifecycle state
func (c *Conn) State() State {
	return State(c.state.Load())
}

// ObjectEncoding returns the negotiated object encoding
func (c *Conn) ObjectEncoding() string {
	if c.useAMF3.Load() {
		return EncodingAMF3
	}
	return EncodingAMF0
}

// Transport exposes the chunk transport for counters and chunk sizes
func (c *Conn) Transport() *transport.Transport {
	return c.transport
}
