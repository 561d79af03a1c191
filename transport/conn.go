package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"runtime"
	"strconv"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/scylladb/scylla-go-driver/frame"
	. "github.com/scylladb/scylla-go-driver/frame/request"
	. "github.com/scylladb/scylla-go-driver/frame/response"
)

// TODO on send and recv i/o error we shall reset the connection
// TODO request coelasting if there is more items in requestCh than we can send them together, we can check channel length, we need a write buffer

// Response is what a request's stream eventually resolves to: a parsed
// response plus whatever I/O or protocol error stopped it from arriving.
type Response struct {
	frame.Header
	frame.Response
	Err error
}

// ResponseHandler is where a request's Response is delivered; AsyncQuery and
// AsyncExecute use it directly, Query/Execute wrap one internally.
type ResponseHandler chan Response

// MakeResponseHandler returns a handler ready to receive one Response.
func MakeResponseHandler() ResponseHandler { return make(ResponseHandler, 1) }

// MakeResponseHandlerWithError returns a handler pre-loaded with err, so
// callers that fail before submitting a request can still funnel the
// failure through the same Fetch path as a real response.
func MakeResponseHandlerWithError(err error) ResponseHandler {
	h := make(ResponseHandler, 1)
	h <- Response{Err: err}
	return h
}

type request struct {
	frame.Request
	StreamID        frame.StreamID
	Compress        bool
	Tracing         bool
	ResponseHandler ResponseHandler
}

type connWriter struct {
	conn      io.Writer
	buf       frame.Buffer
	requestCh chan request
	comp      atomic.Value // bodyCompressor, set once compression is negotiated
}

func (c *connWriter) submit(r request) {
	c.requestCh <- r
}

func (c *connWriter) setCompressor(comp bodyCompressor) {
	if comp != nil {
		c.comp.Store(comp)
	}
}

func (c *connWriter) compressor() bodyCompressor {
	v := c.comp.Load()
	if v == nil {
		return nil
	}
	return v.(bodyCompressor)
}

func (c *connWriter) loop() {
	runtime.LockOSThread()

	for {
		r, ok := <-c.requestCh
		if !ok {
			return
		}

		if err := c.send(r); err != nil {
			r.ResponseHandler <- Response{Err: fmt.Errorf("send: %w", err)}
		}
	}
}

func (c *connWriter) send(r request) error {
	c.buf.Reset()
	r.WriteTo(&c.buf)
	body := append([]byte(nil), c.buf.Bytes()...)

	var flags frame.HeaderFlags
	if r.Tracing {
		flags |= frame.FlagTracing
	}
	if comp := c.compressor(); r.Compress && comp != nil {
		compressed, err := comp.Compress(body)
		if err != nil {
			return fmt.Errorf("compress body: %w", err)
		}
		body = compressed
		flags |= frame.FlagCompression
	}

	c.buf.Reset()
	h := frame.Header{
		Version:  frame.CQLv4,
		Flags:    flags,
		StreamID: r.StreamID,
		OpCode:   r.OpCode(),
	}
	h.WriteTo(&c.buf)
	c.buf.Write(body)

	// Update length in header
	b := c.buf.Bytes()
	l := uint32(len(b) - frame.HeaderSize)
	binary.BigEndian.PutUint32(b[5:9], l)

	// Send
	if _, err := frame.CopyBuffer(&c.buf, c.conn); err != nil {
		return err
	}

	return nil
}

type connReader struct {
	conn *bufio.Reader
	buf  frame.Buffer
	bufw io.Writer

	h        map[frame.StreamID]ResponseHandler
	s        streamIDAllocator
	eventsCh chan Response // non-nil only on the control connection, see Conn.registerEvents
	// mu guards h and s.
	mu sync.Mutex

	inFlight atomic.Int32
	comp     atomic.Value // bodyCompressor, set once compression is negotiated

	onFatal func(error)
	closing atomic.Bool
}

func (c *connReader) setCompressor(comp bodyCompressor) {
	if comp != nil {
		c.comp.Store(comp)
	}
}

func (c *connReader) compressor() bodyCompressor {
	v := c.comp.Load()
	if v == nil {
		return nil
	}
	return v.(bodyCompressor)
}

func (c *connReader) setHandler(h ResponseHandler) (frame.StreamID, error) {
	c.mu.Lock()
	streamID, err := c.s.Alloc()
	if err != nil {
		c.mu.Unlock()
		return 0, fmt.Errorf("stream ID alloc: %w", err)
	}

	c.h[streamID] = h
	c.mu.Unlock()
	c.inFlight.Inc()
	Metrics.inFlightRequests.Inc()
	return streamID, err
}

func (c *connReader) freeHandler(streamID frame.StreamID) {
	c.mu.Lock()
	_, existed := c.h[streamID]
	c.s.Free(streamID)
	delete(c.h, streamID)
	c.mu.Unlock()
	if existed {
		c.inFlight.Dec()
		Metrics.inFlightRequests.Dec()
	}
}

func (c *connReader) handler(streamID frame.StreamID) ResponseHandler {
	c.mu.Lock()
	h := c.h[streamID]
	c.mu.Unlock()
	return h
}

func (c *connReader) loop() {
	runtime.LockOSThread()

	c.bufw = frame.BufferWriter(&c.buf)
	for {
		resp := c.recv()
		if resp.Err != nil {
			c.failAll(resp.Err)
			if c.onFatal != nil && !c.closing.Load() {
				c.onFatal(resp.Err)
			}
			return
		}

		if resp.StreamID == frame.EventStreamID {
			if c.eventsCh != nil {
				c.eventsCh <- resp
			}
			continue
		}

		if h := c.handler(resp.StreamID); h != nil {
			h <- resp
		}
		// No handler: the request was cancelled and its stream ID already
		// freed; the response is discarded.
	}
}

// failAll delivers ErrConnectionBroken to every still-registered waiter, so a
// dead socket never leaves a caller blocked forever.
func (c *connReader) failAll(cause error) {
	c.mu.Lock()
	handlers := c.h
	c.h = make(map[frame.StreamID]ResponseHandler)
	c.mu.Unlock()
	c.inFlight.Store(0)
	Metrics.inFlightRequests.Sub(float64(len(handlers)))

	err := fmt.Errorf("%w: %v", ErrConnectionBroken, cause)
	for _, h := range handlers {
		h <- Response{Err: err}
	}
}

func (c *connReader) recv() Response {
	c.buf.Reset()

	var r Response

	// Read header
	if _, err := io.CopyN(c.bufw, c.conn, frame.HeaderSize); err != nil {
		r.Err = fmt.Errorf("read header: %w", err)
		return r
	}
	r.Header = frame.ParseHeader(&c.buf)
	if err := c.buf.Error(); err != nil {
		r.Err = fmt.Errorf("parse header: %w", err)
		return r
	}

	// Read body
	if _, err := io.CopyN(c.bufw, c.conn, int64(r.Header.Length)); err != nil {
		r.Err = fmt.Errorf("read body: %w", err)
		return r
	}

	raw := c.buf.Bytes()[frame.HeaderSize:]
	var body frame.Buffer
	if r.Header.Flags&frame.FlagCompression != 0 {
		comp := c.compressor()
		if comp == nil {
			r.Err = fmt.Errorf("parse body: received a compressed frame before compression was negotiated")
			return r
		}
		decompressed, err := comp.Decompress(raw)
		if err != nil {
			r.Err = fmt.Errorf("parse body: %w", err)
			return r
		}
		body.Write(decompressed)
	} else {
		body.Write(raw)
	}

	resp, err := c.parse(r.Header.OpCode, &body)
	if err != nil {
		r.Err = fmt.Errorf("parse body: %w", err)
		return r
	}
	r.Response = resp
	if err := body.Error(); err != nil {
		r.Err = fmt.Errorf("parse body: %w", err)
		return r
	}

	return r
}

func (c *connReader) parse(op frame.OpCode, b *frame.Buffer) (frame.Response, error) {
	switch op {
	case frame.OpError:
		return ParseError(b), nil
	case frame.OpReady:
		return ParseReady(b), nil
	case frame.OpSupported:
		return ParseSupported(b), nil
	case frame.OpAuthenticate:
		return ParseAuthenticate(b), nil
	case frame.OpAuthChallenge:
		return ParseAuthChallenge(b), nil
	case frame.OpAuthSuccess:
		return ParseAuthSuccess(b), nil
	case frame.OpResult:
		return ParseResult(b), nil
	case frame.OpEvent:
		return ParseEvent(b), nil
	default:
		return nil, fmt.Errorf("transport: unsupported opcode %s", op)
	}
}

type Conn struct {
	conn net.Conn
	w    connWriter
	r    connReader

	addr            string
	shard           uint16
	layout          ShardLayout
	partitionerName string

	// prepared is the per-connection cache of previously-PREPAREd statements:
	// a statement's ID maps to the result-metadata ID the server returned for
	// it. Execute consults only whether an ID is present; the stored
	// result-metadata ID is not compared against anything.
	prepared   map[string][]byte
	preparedMu sync.Mutex
}

// isPrepared reports whether this connection believes it has already
// PREPAREd id; Execute uses it to decide whether to PREPARE before the first
// EXECUTE it sends for a statement against this connection.
func (c *Conn) isPrepared(id []byte) bool {
	c.preparedMu.Lock()
	_, ok := c.prepared[string(id)]
	c.preparedMu.Unlock()
	return ok
}

// rememberPrepared records that id has been PREPAREd on this connection,
// with resultMetadataID the ID the server returned for its result metadata.
func (c *Conn) rememberPrepared(id, resultMetadataID []byte) {
	c.preparedMu.Lock()
	c.prepared[string(id)] = resultMetadataID
	c.preparedMu.Unlock()
}

// forgetPrepared drops id from the cache after the server reports it
// UNPREPARED, so a subsequent Execute for the same ID re-PREPAREs instead of
// trusting stale local bookkeeping.
func (c *Conn) forgetPrepared(id []byte) {
	c.preparedMu.Lock()
	delete(c.prepared, string(id))
	c.preparedMu.Unlock()
}

// CompressionKind selects the STARTUP-negotiated body compression algorithm.
type CompressionKind int

const (
	CompressionNone CompressionKind = iota
	CompressionLZ4
	CompressionSnappy
)

func (k CompressionKind) String() string {
	switch k {
	case CompressionLZ4:
		return "lz4"
	case CompressionSnappy:
		return "snappy"
	default:
		return ""
	}
}

// PasswordAuthenticator answers a server AUTHENTICATE with SASL PLAIN
// username/password credentials.
type PasswordAuthenticator struct {
	Username, Password string
}

type ConnConfig struct {
	Keyspace   string
	TCPNoDelay bool
	// Timeout bounds the TCP dial.
	Timeout time.Duration
	// HandshakeTimeout bounds OPTIONS/STARTUP/AUTHENTICATE.
	HandshakeTimeout time.Duration

	DefaultConsistency       frame.Consistency
	DefaultSerialConsistency frame.Consistency
	DefaultPageSize          int32

	Compression CompressionKind
	// Authenticator answers AUTHENTICATE; nil if the cluster requires none.
	Authenticator *PasswordAuthenticator
	// TLSConfig dials over TLS when set; nil dials plaintext TCP.
	TLSConfig *tls.Config
}

// DefaultConnConfig returns sane defaults for connecting to keyspace ("" for
// none) with no authentication and no TLS.
func DefaultConnConfig(keyspace string) ConnConfig {
	return ConnConfig{
		Keyspace:           keyspace,
		TCPNoDelay:         true,
		Timeout:            5 * time.Second,
		HandshakeTimeout:   5 * time.Second,
		DefaultConsistency: frame.QUORUM,
		DefaultPageSize:    5000,
	}
}

const (
	requestChanSize = 1024
	ioBufferSize    = 8192
)

// OpenShardConn opens connection mapped to a specific shard on scylla node.
func OpenShardConn(addr string, si ShardInfo, cfg ConnConfig) (*Conn, error) { // nolint:unused // This will be used.
	it := ShardPortIterator(si)
	maxTries := (maxPort-minPort+1)/int(si.NrShards) + 1
	for i := 0; i < maxTries; i++ {
		if conn, err := OpenLocalPortConn(addr, it(), cfg); err == nil {
			return conn, nil
		}
	}

	return nil, fmt.Errorf("failed to open connection on shard port: all local ports are busy")
}

// OpenLocalPortConn opens connection on a given local port.
func OpenLocalPortConn(addr string, localPort uint16, cfg ConnConfig) (*Conn, error) {
	// Not sure about local IP address. Empty IP and 172.19.0.1 works fine during tests but localhost does not.
	// The problem is that when using localhost as IP connections are not mapped for appropriate shards
	// even when using shard aware policy.
	localAddr, err := net.ResolveTCPAddr("tcp", ":"+strconv.Itoa(int(localPort)))
	if err != nil {
		return nil, fmt.Errorf("resolving local TCP address: %w", err)
	}

	return OpenConn(addr, localAddr, cfg)
}

// OpenConn opens connection with specific local address.
// In case lAddr is nil, random local address is chosen.
func OpenConn(addr string, localAddr *net.TCPAddr, cfg ConnConfig) (*Conn, error) {
	d := net.Dialer{
		Timeout:   cfg.Timeout,
		LocalAddr: localAddr,
	}

	var conn net.Conn
	var err error
	if cfg.TLSConfig != nil {
		conn, err = tls.DialWithDialer(&d, "tcp", addr, cfg.TLSConfig)
	} else {
		conn, err = d.Dial("tcp", addr)
	}
	if err != nil {
		return nil, &ConnectionError{Addr: addr, Op: "dial", Err: err}
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err = tcpConn.SetNoDelay(cfg.TCPNoDelay); err != nil {
			return nil, &ConnectionError{Addr: addr, Op: "dial", Err: err}
		}
	}

	return WrapConn(addr, conn), nil
}

func WrapConn(addr string, conn net.Conn) *Conn {
	c := &Conn{
		conn: conn,
		addr: addr,
		w: connWriter{
			conn:      conn,
			requestCh: make(chan request, requestChanSize),
		},
		r: connReader{
			conn: bufio.NewReaderSize(conn, ioBufferSize),
			h:    make(map[frame.StreamID]ResponseHandler),
		},
		prepared: make(map[string][]byte),
	}
	go c.w.loop()
	go c.r.loop()

	return c
}

// OnFatal registers a callback invoked exactly once, from the reader
// goroutine, the moment this connection's socket is found broken. The pool
// uses it to schedule reconnection with backoff.
func (c *Conn) OnFatal(f func(error)) { c.r.onFatal = f }

// registerEvents switches this connection into control-connection mode: EVENT
// frames (StreamID -1) are delivered on the returned channel instead of being
// dropped. Called once per control connection, right before REGISTER is sent.
func (c *Conn) registerEvents() chan Response {
	ch := make(chan Response, 32)
	c.r.eventsCh = ch
	return ch
}

// Close tears down both the writer and reader goroutines and the socket.
// It does not invoke the OnFatal callback: the caller already knows.
func (c *Conn) Close() error {
	c.r.closing.Store(true)
	close(c.w.requestCh)
	err := c.conn.Close()
	c.r.failAll(fmt.Errorf("connection closed"))
	return err
}

func (c *Conn) Startup(options frame.StartupOptions) (frame.Response, error) {
	return c.sendRequest(&Startup{Options: options}, false, false)
}

func (c *Conn) Options() (*Supported, error) {
	res, err := c.sendRequest(&Options{}, false, false)
	if err != nil {
		return nil, err
	}
	sup, ok := res.(*Supported)
	if !ok {
		return nil, responseAsError(res)
	}
	return sup, nil
}

// Register subscribes this connection to the named server-push events; only
// ever issued on the control connection, and only once the caller has armed
// registerEvents.
func (c *Conn) Register(events frame.StringList) error {
	res, err := c.sendRequest(&Register{EventTypes: events}, false, false)
	if err != nil {
		return err
	}
	if _, ok := res.(*Ready); !ok {
		return responseAsError(res)
	}
	return nil
}

// Handshake drives OPTIONS -> STARTUP -> (AUTHENTICATE exchange) -> optional
// USE <keyspace>, populating c.shard/c.layout/c.partitionerName from the
// SUPPORTED response.
func (c *Conn) Handshake(ctx context.Context, cfg ConnConfig) error {
	deadline := cfg.HandshakeTimeout
	if deadline <= 0 {
		deadline = 5 * time.Second
	}
	hctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	sup, err := c.Options()
	if err != nil {
		return &ConnectionError{Addr: c.addr, Op: "handshake", Err: err}
	}
	c.layout = ShardLayout{
		NrShards:      sup.ShardCount(),
		IgnoreMSBBits: sup.IgnoreMSB(),
	}
	if shard, ok := sup.Shard(); ok {
		c.shard = shard
	}
	if p, ok := sup.Partitioner(); ok {
		c.partitionerName = p
	} else {
		c.partitionerName = "org.apache.cassandra.dht.Murmur3Partitioner"
	}
	if port, ok := sup.ShardAwarePort(cfg.TLSConfig != nil); ok {
		if cfg.TLSConfig != nil {
			c.layout.ShardAwarePortSSL = port
		} else {
			c.layout.ShardAwarePort = port
		}
	}

	opts := frame.StartupOptions{"CQL_VERSION": "3.0.0"}
	if name := cfg.Compression.String(); name != "" {
		opts["COMPRESSION"] = name
	}

	res, err := c.sendRequestCtx(hctx, &Startup{Options: opts}, false, false)
	if err != nil {
		return &ConnectionError{Addr: c.addr, Op: "handshake", Err: err}
	}

	switch res.(type) {
	case *Ready:
		// Nothing further to do.
	case *Authenticate:
		if err := c.authenticate(hctx, cfg.Authenticator); err != nil {
			return &ConnectionError{Addr: c.addr, Op: "handshake", Err: err}
		}
	default:
		return &ConnectionError{Addr: c.addr, Op: "handshake", Err: responseAsError(res)}
	}

	// Compression applies to every frame from here on; it is never used for
	// OPTIONS/STARTUP/AUTHENTICATE itself.
	if comp := newBodyCompressor(cfg.Compression); comp != nil {
		c.w.setCompressor(comp)
		c.r.setCompressor(comp)
	}

	if cfg.Keyspace != "" {
		stmt := Statement{Content: "USE " + cfg.Keyspace, Consistency: frame.ONE}
		if _, err := c.Query(hctx, stmt, nil); err != nil {
			return &ConnectionError{Addr: c.addr, Op: "handshake", Err: err}
		}
	}
	return nil
}

func (c *Conn) authenticate(ctx context.Context, auth *PasswordAuthenticator) error {
	if auth == nil {
		return fmt.Errorf("server requires authentication but no credentials were configured")
	}
	tok := PasswordAuthToken(auth.Username, auth.Password)
	res, err := c.sendRequestCtx(ctx, &AuthResponse{Token: tok}, false, false)
	if err != nil {
		return err
	}
	switch res.(type) {
	case *AuthSuccess:
		return nil
	default:
		return responseAsError(res)
	}
}

// Shard is the shard this connection landed on, as reported by the server's
// SUPPORTED response (or 0 for a non-shard-aware node).
func (c *Conn) Shard() uint16 { return c.shard }

// ShardLayout is the node's advertised sharding layout, valid once Handshake
// has completed.
func (c *Conn) ShardLayout() ShardLayout { return c.layout }

// Addr is the remote address this connection is dialed to.
func (c *Conn) Addr() string { return c.addr }

// InFlight is the number of requests awaiting a response on this
// connection, used by the pool's least-busy selection.
func (c *Conn) InFlight() int32 { return c.r.inFlight.Load() }

func (c *Conn) sendRequest(req frame.Request, compress, tracing bool) (frame.Response, error) {
	return c.sendRequestCtx(context.Background(), req, compress, tracing)
}
