// Package yeelight drives Yeelight bulbs over their LAN control protocol.
package yeelight

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ewilliams-labs/pulselight/internal/core/domain"
	"github.com/ewilliams-labs/pulselight/internal/core/ports"
)

const (
	// DefaultPort is the bulb's control port.
	DefaultPort = 55443

	minTransition  = 30 * time.Millisecond
	minFlowStep    = 50 * time.Millisecond
	defaultDialTTL = 2 * time.Second
)

var _ ports.Device = (*Bulb)(nil)

// ErrBulb is wrapped by every error the bulb itself reports.
var ErrBulb = errors.New("yeelight: bulb error")

// past is used to unblock pending reads and writes when a context ends.
var past = time.Unix(1, 0)

type request struct {
	ID     int    `json:"id"`
	Method string `json:"method"`
	Params []any  `json:"params"`
}

type response struct {
	ID     int               `json:"id"`
	Result []json.RawMessage `json:"result,omitempty"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Option configures a Bulb.
type Option func(*Bulb)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(b *Bulb) {
		if log != nil {
			b.log = log
		}
	}
}

// WithDialTimeout bounds connection setup when the caller's context has no deadline.
func WithDialTimeout(d time.Duration) Option {
	return func(b *Bulb) {
		if d > 0 {
			b.dialTimeout = d
		}
	}
}

// Bulb is one Yeelight bulb. Calls are serialized over a single TCP
// connection which is opened lazily and re-dialed after any I/O error.
type Bulb struct {
	id          string
	addr        string
	dialTimeout time.Duration
	log         *zap.Logger

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	nextID int
	music  bool
}

// NewBulb returns a driver for the bulb at host:port.
func NewBulb(id, host string, port int, opts ...Option) *Bulb {
	if port == 0 {
		port = DefaultPort
	}
	b := &Bulb{
		id:          id,
		addr:        net.JoinHostPort(host, strconv.Itoa(port)),
		dialTimeout: defaultDialTTL,
		log:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.log = b.log.Named("yeelight").With(zap.String("device_id", id))
	return b
}

// ID implements ports.Device.
func (b *Bulb) ID() string { return b.id }

// Addr is the bulb's control address.
func (b *Bulb) Addr() string { return b.addr }

// ApplyBrightness implements ports.Device.
func (b *Bulb) ApplyBrightness(ctx context.Context, percent int, transition time.Duration) error {
	effect, ms := effectFor(transition, minTransition)
	return b.call(ctx, "set_bright", clampBrightness(percent), effect, ms)
}

// ApplyColor implements ports.Device. Hue, saturation and brightness are set
// in one step with a single-shot color flow that stays on its final state.
func (b *Bulb) ApplyColor(ctx context.Context, hue, saturation, brightness int, transition time.Duration) error {
	rgb := domain.Color{Hue: hue, Saturation: saturation}.RGB(100)
	value := int(rgb.R)<<16 | int(rgb.G)<<8 | int(rgb.B)

	ms := transition.Milliseconds()
	if transition < minFlowStep {
		ms = minFlowStep.Milliseconds()
	}
	flow := fmt.Sprintf("%d,1,%d,%d", ms, value, clampBrightness(brightness))
	return b.call(ctx, "start_cf", 1, 1, flow)
}

// SetPower turns the bulb on or off.
func (b *Bulb) SetPower(ctx context.Context, on bool, transition time.Duration) error {
	state := "off"
	if on {
		state = "on"
	}
	effect, ms := effectFor(transition, minTransition)
	return b.call(ctx, "set_power", state, effect, ms)
}

// EnableMusic switches the bulb into music mode: the bulb connects back to a
// listener on this host and accepts commands on that socket without replying
// or rate limiting. Later commands use the new connection.
func (b *Bulb) EnableMusic(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.music {
		return nil
	}
	conn, err := b.connLocked(ctx)
	if err != nil {
		return err
	}
	local, ok := conn.LocalAddr().(*net.TCPAddr)
	if !ok {
		return fmt.Errorf("yeelight: music mode: unexpected local address %s", conn.LocalAddr())
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort(local.IP.String(), "0"))
	if err != nil {
		return fmt.Errorf("yeelight: music mode listen: %w", err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	if err := b.roundTripLocked(ctx, "set_music", 1, local.IP.String(), port); err != nil {
		return err
	}

	tl, ok := ln.(*net.TCPListener)
	if !ok {
		return fmt.Errorf("yeelight: music mode: unexpected listener %T", ln)
	}
	deadline := time.Now().Add(b.dialTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = tl.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { _ = tl.SetDeadline(past) })
	defer stop()

	// A connect-back after the deadline hits the closed listener.
	c, err := tl.Accept()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return fmt.Errorf("yeelight: music mode: bulb did not connect back within %s", b.dialTimeout)
		}
		return fmt.Errorf("yeelight: music mode accept: %w", err)
	}

	b.resetLocked()
	b.conn = c
	b.reader = nil
	b.music = true
	b.log.Info("music mode enabled", zap.Int("port", port))
	return nil
}

// Close drops the connection.
func (b *Bulb) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetLocked()
	return nil
}

func (b *Bulb) call(ctx context.Context, method string, params ...any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.connLocked(ctx); err != nil {
		return err
	}
	return b.roundTripLocked(ctx, method, params...)
}

// roundTripLocked sends one request and, outside music mode, waits for the
// reply carrying the same id. Unsolicited notifications are skipped.
func (b *Bulb) roundTripLocked(ctx context.Context, method string, params ...any) error {
	conn := b.conn
	b.nextID++
	id := b.nextID

	payload, err := json.Marshal(request{ID: id, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("yeelight: encode %s: %w", method, err)
	}
	payload = append(payload, '\r', '\n')

	deadline, _ := ctx.Deadline()
	_ = conn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(past) })
	defer stop()

	b.log.Debug("sending command", zap.String("method", method), zap.Int("id", id))
	if _, err := conn.Write(payload); err != nil {
		b.resetLocked()
		return b.ioError(ctx, method, err)
	}
	if b.music {
		return nil
	}

	for {
		line, err := b.reader.ReadBytes('\n')
		if err != nil {
			b.resetLocked()
			return b.ioError(ctx, method, err)
		}
		var resp response
		if err := json.Unmarshal(line, &resp); err != nil {
			b.log.Debug("ignoring unparseable line", zap.ByteString("line", line))
			continue
		}
		if resp.ID != id {
			continue
		}
		if resp.Error != nil {
			return fmt.Errorf("%w: %s: %d %s", ErrBulb, method, resp.Error.Code, resp.Error.Message)
		}
		return nil
	}
}

func (b *Bulb) connLocked(ctx context.Context) (net.Conn, error) {
	if b.conn != nil {
		return b.conn, nil
	}
	dialCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, b.dialTimeout)
		defer cancel()
	}
	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", b.addr)
	if err != nil {
		return nil, b.ioError(ctx, "dial", err)
	}
	b.conn = conn
	b.reader = bufio.NewReader(conn)
	b.music = false
	b.log.Debug("connected", zap.String("addr", b.addr))
	return conn, nil
}

func (b *Bulb) resetLocked() {
	if b.conn != nil {
		_ = b.conn.Close()
	}
	b.conn = nil
	b.reader = nil
	b.music = false
}

// ioError prefers the context's error so callers can tell cancellation and
// timeouts apart from transport failures.
func (b *Bulb) ioError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("yeelight: %s %s: %w", op, b.addr, ctxErr)
	}
	return fmt.Errorf("yeelight: %s %s: %w", op, b.addr, err)
}

func effectFor(transition, min time.Duration) (string, int64) {
	if transition <= 0 {
		return "sudden", 0
	}
	if transition < min {
		transition = min
	}
	return "smooth", transition.Milliseconds()
}

// clampBrightness maps 0..100 onto the bulb's 1..100 range.
func clampBrightness(v int) int {
	switch {
	case v < 1:
		return 1
	case v > 100:
		return 100
	}
	return v
}
