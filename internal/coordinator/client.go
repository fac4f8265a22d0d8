package coordinator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Default timeouts and intervals for coordinator communication.
const (
	// defaultConnectTimeout is the maximum time to wait for initial connection.
	defaultConnectTimeout = 10 * time.Second

	// defaultReadTimeout is the timeout for individual read operations.
	defaultReadTimeout = 30 * time.Second

	// defaultWriteTimeout is the timeout for write operations.
	defaultWriteTimeout = 5 * time.Second

	// defaultReconnectInitial is the initial delay between reconnection attempts.
	defaultReconnectInitial = 1 * time.Second

	// defaultReconnectMax is the maximum delay between reconnection attempts.
	defaultReconnectMax = 60 * time.Second

	// readBufferSize is the bufio buffer for the framed byte stream.
	readBufferSize = 512

	// eventQueueSize is the buffer size for the event callback queue.
	eventQueueSize = 256
)

// Config holds coordinator link configuration.
type Config struct {
	// Address is the coordinator connection URL.
	// Supported formats:
	//   - "tcp://10.160.0.231:6638" (network serial adapter)
	//   - "unix:///run/coordinator" (local socket)
	Address string

	// Variant selects the framing codec ("zstack" or "deconz").
	// Never auto-detected.
	Variant string

	// Firmware is the expected firmware version. Informational: logged
	// alongside the version reported in the connect handshake.
	Firmware string

	// ConnectTimeout is the maximum time to wait for connection.
	// Default: 10 seconds.
	ConnectTimeout time.Duration

	// ReadTimeout is the timeout for read operations.
	// Default: 30 seconds.
	ReadTimeout time.Duration

	// ReconnectInitial is the first retry delay. Subsequent attempts
	// double it. Default: 1 second.
	ReconnectInitial time.Duration

	// ReconnectMax caps the retry delay. Default: 60 seconds.
	ReconnectMax time.Duration
}

// Stats holds operational statistics for the coordinator link.
type Stats struct {
	FramesTx        uint64
	FramesRx        uint64
	EventsDropped   uint64 // Events dropped due to full callback queue
	ErrorsTotal     uint64
	ReconnectsTotal uint64 // Successful reconnections
	LastActivity    time.Time
	Connected       bool
	Reconnecting    bool // True if currently attempting to reconnect
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Link is the coordinator interface consumed by the reconciler and
// relay. It exists for testability: tests substitute a mock.
type Link interface {
	SendCommand(ctx context.Context, cmd Command) error
	SetPermitJoin(ctx context.Context, duration time.Duration) error
	SetOnEvent(callback func(Event))
	SetOnConnectivityLost(callback func(err error))
	SetOnConnectivityRestored(callback func())
	IsConnected() bool
	Stats() Stats
	Close() error
}

// Ensure Client implements Link.
var _ Link = (*Client)(nil)

// Client maintains the persistent connection to the coordinator.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Event callbacks are invoked from a bounded worker pool.
//
// Auto-Reconnection:
//   - On connection loss the client reconnects automatically with
//     exponential backoff: ReconnectInitial doubling up to ReconnectMax.
//   - Exactly one connectivity-lost notification fires per outage, and
//     one connectivity-restored notification when the link recovers.
//   - Reconnection stops only when Close() is called.
type Client struct {
	cfg   Config
	codec Codec

	// Connection state
	connMu    sync.RWMutex
	conn      net.Conn
	reader    *bufio.Reader
	connected bool

	// Reconnection state
	reconnecting   atomic.Bool  // True while reconnection is in progress
	reconnectCount atomic.Int32 // Number of consecutive reconnection attempts

	// Event handler callbacks
	onEvent    func(Event)
	onLost     func(err error)
	onRestored func()
	callbackMu sync.RWMutex

	// Event worker pool (bounded goroutine spawning)
	eventQueue chan Event

	// Shutdown coordination (closeOnce prevents double-close panics)
	done *closeOnce
	wg   sync.WaitGroup

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex

	// Statistics (atomic for performance)
	framesTx        atomic.Uint64
	framesRx        atomic.Uint64
	eventsDropped   atomic.Uint64
	errorsTotal     atomic.Uint64
	reconnectsTotal atomic.Uint64
	lastActivity    atomic.Int64 // Unix timestamp
}

// Connect establishes the connection to the coordinator.
//
// The connection URL determines the transport:
//   - "tcp://10.160.0.231:6638" → TCP socket
//   - "unix:///run/coordinator" → Unix socket
//
// After dialing it performs the version handshake, which doubles as
// the framing-variant check: a coordinator speaking the other variant
// fails the handshake immediately instead of corrupting state later.
//
// Parameters:
//   - ctx: Context for cancellation (used for initial connection)
//   - cfg: Connection configuration
//
// Returns:
//   - *Client: Connected client ready for use
//   - error: If connection or handshake fails
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	// Apply defaults
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.ReconnectInitial == 0 {
		cfg.ReconnectInitial = defaultReconnectInitial
	}
	if cfg.ReconnectMax == 0 {
		cfg.ReconnectMax = defaultReconnectMax
	}

	codec, err := NewCodec(cfg.Variant)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// Parse connection URL
	network, address, err := parseConnectionURL(cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// Create connection with timeout
	connectCtx := ctx
	if connectCtx == nil {
		connectCtx = context.Background()
	}
	connectCtx, cancel := context.WithTimeout(connectCtx, cfg.ConnectTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(connectCtx, network, address)
	if err != nil {
		return nil, fmt.Errorf("%w: dial failed: %w", ErrConnectionFailed, err)
	}

	client := &Client{
		cfg:        cfg,
		codec:      codec,
		conn:       conn,
		reader:     bufio.NewReaderSize(conn, readBufferSize),
		done:       newCloseOnce(),
		eventQueue: make(chan Event, eventQueueSize),
	}
	client.lastActivity.Store(time.Now().Unix())

	// Version handshake (respects context deadline)
	if err := client.handshake(connectCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: handshake failed (check protocol variant %q): %w",
			ErrConnectionFailed, cfg.Variant, err)
	}

	// Mark as connected
	client.connMu.Lock()
	client.connected = true
	client.connMu.Unlock()

	// Start the event dispatcher. A single goroutine keeps events in
	// receipt order; consumers enqueue without blocking, so one worker
	// costs no throughput.
	client.wg.Add(1)
	go client.eventWorker()

	// Start receive loop
	client.wg.Add(1)
	go client.receiveLoop()

	return client, nil
}

// parseConnectionURL parses a coordinator connection URL into network and address.
func parseConnectionURL(connURL string) (network, address string, err error) {
	u, err := url.Parse(connURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "unix":
		return "unix", u.Path, nil
	case "tcp":
		if u.Host == "" {
			return "", "", fmt.Errorf("tcp address requires host:port")
		}
		return "tcp", u.Host, nil
	default:
		return "", "", fmt.Errorf("unsupported scheme %q (use tcp or unix)", u.Scheme)
	}
}

// handshake exchanges version frames with the coordinator.
//
// Sends an empty FrameVersion and expects a FrameVersion response
// carrying the firmware version string. A coordinator running the
// other framing variant produces garbage here, so the handshake fails
// loudly at startup rather than desyncing mid-operation.
func (c *Client) handshake(ctx context.Context) error {
	frame, err := c.codec.EncodeFrame(Frame{Type: FrameVersion})
	if err != nil {
		return fmt.Errorf("encode version request: %w", err)
	}

	// Calculate deadline: use context deadline if set and sooner than default
	writeDeadline := time.Now().Add(defaultWriteTimeout)
	if deadline, ok := ctx.Deadline(); ok && deadline.Before(writeDeadline) {
		writeDeadline = deadline
	}

	if err := c.conn.SetWriteDeadline(writeDeadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	if _, err := c.conn.Write(frame); err != nil {
		return fmt.Errorf("write version request: %w", err)
	}

	// Read response - respect context deadline
	readDeadline := time.Now().Add(c.cfg.ReadTimeout)
	if deadline, ok := ctx.Deadline(); ok && deadline.Before(readDeadline) {
		readDeadline = deadline
	}

	if err := c.conn.SetReadDeadline(readDeadline); err != nil {
		return fmt.Errorf("set read deadline: %w", err)
	}

	resp, err := c.codec.ReadFrame(c.reader)
	if err != nil {
		return fmt.Errorf("read version response: %w", err)
	}
	if resp.Type != FrameVersion {
		return fmt.Errorf("unexpected response type: 0x%02X", uint8(resp.Type))
	}

	reported := string(resp.Payload)
	c.logInfo("coordinator handshake complete",
		"variant", c.cfg.Variant,
		"firmware", reported,
		"expected_firmware", c.cfg.Firmware,
	)
	if c.cfg.Firmware != "" && reported != c.cfg.Firmware {
		c.logWarn("coordinator firmware differs from configured version",
			"reported", reported, "configured", c.cfg.Firmware)
	}

	return nil
}

// receiveLoop continuously reads frames from the coordinator.
// On connection loss, it automatically attempts reconnection with exponential backoff.
func (c *Client) receiveLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done.Done():
			return
		default:
		}

		frame, err := c.readFrame()
		if err != nil {
			if c.handleReadError(err) {
				// Fatal error - attempt reconnection
				if c.isClosed() {
					return // Shutdown requested, exit cleanly
				}

				if !c.reconnect() {
					return // Shutdown during reconnection, exit cleanly
				}

				// Reconnection successful, continue receive loop
				continue
			}
			continue // Recoverable error, retry
		}

		c.handleFrame(frame)
	}
}

// readFrame reads a single frame from the connection.
// Codec-level parse failures are recoverable (logged and skipped);
// ErrProtocolDesync and I/O errors are fatal.
func (c *Client) readFrame() (Frame, error) {
	c.connMu.RLock()
	conn := c.conn
	reader := c.reader
	c.connMu.RUnlock()

	if conn == nil || reader == nil {
		return Frame{}, ErrNotConnected
	}

	if err := conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
		c.logError("set read deadline failed", err)
		return Frame{}, fmt.Errorf("set deadline: %w", err)
	}

	frame, err := c.codec.ReadFrame(reader)
	if err != nil {
		return Frame{}, err
	}
	return frame, nil
}

// handleReadError processes a read error and returns true if the loop
// should reconnect.
func (c *Client) handleReadError(err error) bool {
	if err == nil {
		return false
	}

	if c.isClosed() {
		return true // Clean shutdown
	}

	// Protocol desync is always fatal - the stream cannot be framed.
	// Close the socket immediately to stop corrupted data flow.
	if errors.Is(err, ErrProtocolDesync) {
		c.logError("protocol desync detected, closing socket", err)
		c.connMu.RLock()
		conn := c.conn
		c.connMu.RUnlock()
		if conn != nil {
			conn.Close()
		}
		c.handleDisconnect(err)
		return true
	}

	// Corrupt frames are recoverable: both framings resynchronise at
	// the next frame boundary.
	if errors.Is(err, ErrChecksumMismatch) || errors.Is(err, ErrInvalidFrame) {
		c.logWarn("dropping corrupt frame", "error", err)
		c.errorsTotal.Add(1)
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return false // Timeout is normal on a quiet network, continue
	}

	c.logError("read failed", err)
	c.errorsTotal.Add(1)
	c.handleDisconnect(err)
	return true
}

// handleFrame decodes a received frame into an event and queues it.
func (c *Client) handleFrame(frame Frame) {
	c.framesRx.Add(1)
	c.lastActivity.Store(time.Now().Unix())

	// Version frames outside the handshake are unsolicited firmware
	// announcements; log and move on.
	if frame.Type == FrameVersion {
		c.logDebug("coordinator version announcement", "firmware", string(frame.Payload))
		return
	}

	event, err := ParseEvent(frame)
	if err != nil {
		c.logWarn("dropping unparseable event frame", "error", err)
		c.errorsTotal.Add(1)
		return
	}

	c.callbackMu.RLock()
	hasCallback := c.onEvent != nil
	c.callbackMu.RUnlock()

	if hasCallback {
		// Queue event for bounded worker pool (non-blocking with drop on overflow)
		select {
		case c.eventQueue <- event:
			// Queued successfully
		default:
			// Queue full, drop event to prevent memory exhaustion
			c.logError("event queue full, dropping event", nil)
			c.eventsDropped.Add(1)
			c.errorsTotal.Add(1)
		}
	}
}

// eventWorker delivers queued events to the callback. It runs as a
// single goroutine: two reports from the same device must reach the
// consumer in the order the frames arrived, or the later merge would
// discard the displaced earlier one as stale.
func (c *Client) eventWorker() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done.Done():
			// Drain any remaining items (best-effort, non-blocking)
			c.drainEventQueue()
			return
		case event := <-c.eventQueue:
			c.callbackMu.RLock()
			callback := c.onEvent
			c.callbackMu.RUnlock()

			if callback != nil {
				func() {
					defer func() {
						if r := recover(); r != nil {
							c.logError("event callback panic", fmt.Errorf("%v", r))
						}
					}()
					callback(event)
				}()
			}
		}
	}
}

// handleDisconnect handles connection loss. The wasConnected guard
// ensures exactly one connectivity-lost notification per outage.
func (c *Client) handleDisconnect(cause error) {
	c.connMu.Lock()
	wasConnected := c.connected
	c.connected = false
	c.connMu.Unlock()

	if !wasConnected {
		return
	}

	c.logInfo("coordinator connection lost, will attempt reconnection", "cause", cause)

	c.callbackMu.RLock()
	callback := c.onLost
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(cause)
	}
}

// reconnect attempts to re-establish the coordinator connection with
// exponential backoff (initial delay doubling up to the cap).
// Returns true if reconnection succeeded, false if shutdown was signalled.
func (c *Client) reconnect() bool {
	// Prevent multiple concurrent reconnection attempts
	if !c.reconnecting.CompareAndSwap(false, true) {
		return c.waitForReconnection()
	}
	defer c.reconnecting.Store(false)

	// Parse connection URL once
	network, address, err := parseConnectionURL(c.cfg.Address)
	if err != nil {
		c.logError("reconnect: invalid connection URL", err)
		return false
	}

	backoff := c.cfg.ReconnectInitial
	if backoff == 0 {
		backoff = defaultReconnectInitial
	}

	for {
		if c.isClosed() {
			return false
		}

		attempt := c.reconnectCount.Add(1)
		c.logInfo("attempting reconnection", "attempt", attempt, "backoff", backoff.String())

		c.closeOldConnection()

		conn, err := c.dialWithTimeout(network, address)
		if err != nil {
			backoff = c.handleReconnectFailure("dial failed", err, backoff)
			if backoff == 0 {
				return false // Shutdown signalled
			}
			continue
		}

		if err := c.establishConnection(conn); err != nil {
			backoff = c.handleReconnectFailure("handshake failed", err, backoff)
			if backoff == 0 {
				return false // Shutdown signalled
			}
			continue
		}

		c.finalizeReconnection()
		return true
	}
}

// waitForReconnection waits for another goroutine to complete reconnection.
func (c *Client) waitForReconnection() bool {
	for c.reconnecting.Load() && !c.isClosed() {
		time.Sleep(100 * time.Millisecond)
	}
	return !c.isClosed() && c.IsConnected()
}

// closeOldConnection closes the existing connection if any.
func (c *Client) closeOldConnection() {
	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
		c.reader = nil
	}
	c.connMu.Unlock()
}

// dialWithTimeout attempts to dial the network address with timeout.
func (c *Client) dialWithTimeout(network, address string) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("dial %s://%s: %w", network, address, err)
	}
	return conn, nil
}

// establishConnection installs the new connection and performs the handshake.
func (c *Client) establishConnection(conn net.Conn) error {
	reader := bufio.NewReaderSize(conn, readBufferSize)

	c.connMu.Lock()
	c.conn = conn
	c.reader = reader
	c.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
	defer cancel()

	if err := c.handshake(ctx); err != nil {
		conn.Close()
		c.connMu.Lock()
		c.conn = nil
		c.reader = nil
		c.connMu.Unlock()
		return err
	}
	return nil
}

// handleReconnectFailure handles a failed reconnection attempt.
// Returns the new backoff duration, or 0 if shutdown was signalled.
func (c *Client) handleReconnectFailure(reason string, err error, backoff time.Duration) time.Duration {
	c.logError("reconnect: "+reason, err)
	c.errorsTotal.Add(1)

	select {
	case <-c.done.Done():
		return 0 // Signal shutdown
	case <-time.After(backoff):
	}

	// Exponential backoff with cap
	newBackoff := backoff * 2
	if newBackoff > c.cfg.ReconnectMax {
		newBackoff = c.cfg.ReconnectMax
	}
	return newBackoff
}

// finalizeReconnection marks the connection as established, updates
// stats, and fires the single connectivity-restored notification.
func (c *Client) finalizeReconnection() {
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	c.reconnectCount.Store(0)
	c.reconnectsTotal.Add(1)
	c.lastActivity.Store(time.Now().Unix())

	c.logInfo("reconnection successful", "total_reconnects", c.reconnectsTotal.Load())

	c.callbackMu.RLock()
	callback := c.onRestored
	c.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}
}

// drainEventQueue removes and discards any remaining items from the event queue.
// Called during shutdown to prevent goroutines from blocking on send.
func (c *Client) drainEventQueue() {
	for {
		select {
		case <-c.eventQueue:
			// Discard item
		default:
			return // Queue is empty
		}
	}
}

// isClosed returns true if the client has been closed.
func (c *Client) isClosed() bool {
	select {
	case <-c.done.Done():
		return true
	default:
		return false
	}
}

// Close gracefully closes the connection.
//
// It signals the receive loop to stop and closes the underlying
// network connection. Safe to call multiple times (uses sync.Once).
//
// Returns:
//   - error: nil (closing is best-effort)
func (c *Client) Close() error {
	// Signal shutdown (safe to call multiple times via sync.Once)
	c.done.Close()

	// Mark disconnected
	c.connMu.Lock()
	c.connected = false
	conn := c.conn
	c.connMu.Unlock()

	// Close connection (this will unblock any pending reads)
	if conn != nil {
		conn.Close()
	}

	// Wait for all goroutines to finish
	c.wg.Wait()

	c.logInfo("coordinator connection closed")
	return nil
}

// SendCommand encodes and sends a device attribute write.
//
// Parameters:
//   - ctx: Context for cancellation
//   - cmd: Target address, attribute name, and desired value
//
// Returns:
//   - error: If encoding fails, the client is disconnected, or the
//     write fails
func (c *Client) SendCommand(ctx context.Context, cmd Command) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	frame, err := encodeCommandFrame(cmd)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCommandFailed, err)
	}
	return c.sendFrame(ctx, frame)
}

// SetPermitJoin opens the radio network for joining for the given
// duration, or closes it when duration is zero.
//
// Parameters:
//   - ctx: Context for cancellation
//   - duration: How long to accept joins (0 closes the network)
//
// Returns:
//   - error: If sending fails or client is not connected
func (c *Client) SetPermitJoin(ctx context.Context, duration time.Duration) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	return c.sendFrame(ctx, encodePermitJoinFrame(duration))
}

// sendFrame encodes and writes a frame to the coordinator.
func (c *Client) sendFrame(ctx context.Context, f Frame) error {
	// Check context
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrCommandFailed, ctx.Err())
	default:
	}

	wire, err := c.codec.EncodeFrame(f)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCommandFailed, err)
	}

	// Send with deadline
	deadline := time.Now().Add(defaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()

	if conn == nil {
		return ErrNotConnected
	}

	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: set deadline: %w", ErrCommandFailed, err)
	}

	// Check context again before write (might have been cancelled during encoding)
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrCommandFailed, ctx.Err())
	default:
	}

	if _, err := conn.Write(wire); err != nil {
		c.errorsTotal.Add(1)
		return fmt.Errorf("%w: write: %w", ErrCommandFailed, err)
	}

	c.framesTx.Add(1)
	c.lastActivity.Store(time.Now().Unix())

	return nil
}

// SetOnEvent sets the callback for decoded coordinator events.
//
// The callback is invoked from a bounded worker pool. Panics in the
// callback are recovered and logged.
func (c *Client) SetOnEvent(callback func(Event)) {
	c.callbackMu.Lock()
	c.onEvent = callback
	c.callbackMu.Unlock()
}

// SetOnConnectivityLost sets the callback fired once per outage when
// the link drops.
func (c *Client) SetOnConnectivityLost(callback func(err error)) {
	c.callbackMu.Lock()
	c.onLost = callback
	c.callbackMu.Unlock()
}

// SetOnConnectivityRestored sets the callback fired once when the link
// recovers after an outage.
func (c *Client) SetOnConnectivityRestored(callback func()) {
	c.callbackMu.Lock()
	c.onRestored = callback
	c.callbackMu.Unlock()
}

// SetLogger sets the logger for this client.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// IsConnected returns true if the coordinator link is up.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

// Stats returns current operational statistics.
func (c *Client) Stats() Stats {
	return Stats{
		FramesTx:        c.framesTx.Load(),
		FramesRx:        c.framesRx.Load(),
		EventsDropped:   c.eventsDropped.Load(),
		ErrorsTotal:     c.errorsTotal.Load(),
		ReconnectsTotal: c.reconnectsTotal.Load(),
		LastActivity:    time.Unix(c.lastActivity.Load(), 0),
		Connected:       c.IsConnected(),
		Reconnecting:    c.reconnecting.Load(),
	}
}

// HealthCheck verifies the coordinator link is alive.
//
// Note: This only checks connection state; liveness is observed
// through the receive loop's read deadlines.
func (c *Client) HealthCheck(_ context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// logDebug logs a debug message if logger is set.
func (c *Client) logDebug(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// logInfo logs an info message if logger is set.
func (c *Client) logInfo(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logWarn logs a warning message if logger is set.
func (c *Client) logWarn(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (c *Client) logError(msg string, err error) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
