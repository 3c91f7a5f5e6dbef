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
	"testing"
	"time"
)

func TestBulb_Commands(t *testing.T) {
	tests := []struct {
		name       string
		apply      func(ctx context.Context, b *Bulb) error
		wantMethod string
		wantParams []any
	}{
		{
			name: "brightness smooth",
			apply: func(ctx context.Context, b *Bulb) error {
				return b.ApplyBrightness(ctx, 40, 200*time.Millisecond)
			},
			wantMethod: "set_bright",
			wantParams: []any{float64(40), "smooth", float64(200)},
		},
		{
			name: "brightness zero transition is sudden",
			apply: func(ctx context.Context, b *Bulb) error {
				return b.ApplyBrightness(ctx, 0, 0)
			},
			wantMethod: "set_bright",
			wantParams: []any{float64(1), "sudden", float64(0)},
		},
		{
			name: "short transition raised to bulb minimum",
			apply: func(ctx context.Context, b *Bulb) error {
				return b.ApplyBrightness(ctx, 120, 10*time.Millisecond)
			},
			wantMethod: "set_bright",
			wantParams: []any{float64(100), "smooth", float64(30)},
		},
		{
			name: "color uses single step flow",
			apply: func(ctx context.Context, b *Bulb) error {
				return b.ApplyColor(ctx, 0, 100, 35, time.Second)
			},
			wantMethod: "start_cf",
			wantParams: []any{float64(1), float64(1), fmt.Sprintf("1000,1,%d,35", 0xFF0000)},
		},
		{
			name: "power on",
			apply: func(ctx context.Context, b *Bulb) error {
				return b.SetPower(ctx, true, 0)
			},
			wantMethod: "set_power",
			wantParams: []any{"on", "sudden", float64(0)},
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			srv := newFakeBulb(t)
			b := srv.bulb()
			defer b.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := tc.apply(ctx, b); err != nil {
				t.Fatalf("apply: %v", err)
			}

			reqs := srv.requests()
			if len(reqs) != 1 {
				t.Fatalf("requests: got %d, want 1", len(reqs))
			}
			got := reqs[0]
			if got.Method != tc.wantMethod {
				t.Errorf("method: got %s, want %s", got.Method, tc.wantMethod)
			}
			if fmt.Sprint(got.Params) != fmt.Sprint(tc.wantParams) {
				t.Errorf("params: got %v, want %v", got.Params, tc.wantParams)
			}
		})
	}
}

func TestBulb_ReusesConnectionAndSkipsNotifications(t *testing.T) {
	srv := newFakeBulb(t)
	srv.notify = true
	b := srv.bulb()
	defer b.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := b.ApplyBrightness(ctx, 10*i+1, 0); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if got := srv.accepted(); got != 1 {
		t.Fatalf("connections: got %d, want 1", got)
	}
	if got := len(srv.requests()); got != 3 {
		t.Fatalf("requests: got %d, want 3", got)
	}
}

func TestBulb_ErrorReply(t *testing.T) {
	srv := newFakeBulb(t)
	srv.fail = true
	b := srv.bulb()
	defer b.Close()

	err := b.ApplyBrightness(context.Background(), 50, 0)
	if !errors.Is(err, ErrBulb) {
		t.Fatalf("got %v, want ErrBulb", err)
	}
}

func TestBulb_ContextDeadline(t *testing.T) {
	srv := newFakeBulb(t)
	srv.silent = true
	b := srv.bulb()
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := b.ApplyBrightness(ctx, 50, 0)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want DeadlineExceeded", err)
	}

	// The broken connection is dropped and the next call re-dials.
	srv.setSilent(false)
	if err := b.ApplyBrightness(context.Background(), 50, 0); err != nil {
		t.Fatalf("after reconnect: %v", err)
	}
	if got := srv.accepted(); got != 2 {
		t.Fatalf("connections: got %d, want 2", got)
	}
}

func TestBulb_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	b := NewBulb("gone", "127.0.0.1", port, WithDialTimeout(200*time.Millisecond))
	if err := b.ApplyBrightness(context.Background(), 10, 0); err == nil {
		t.Fatal("expected dial error")
	}
}

func TestBulb_EnableMusic(t *testing.T) {
	srv := newFakeBulb(t)
	b := srv.bulb()
	defer b.Close()
	ctx := context.Background()

	if err := b.EnableMusic(ctx); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if err := b.ApplyBrightness(ctx, 30, 0); err != nil {
		t.Fatalf("brightness: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		reqs := srv.requests()
		if n := len(reqs); n == 2 && reqs[0].Method == "set_music" && reqs[1].Method == "set_bright" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("requests: got %+v", srv.requests())
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := srv.accepted(); got != 1 {
		t.Fatalf("control connections: got %d, want 1", got)
	}
}

func TestBulb_EnableMusicTimeout(t *testing.T) {
	srv := newFakeBulb(t)
	srv.mu.Lock()
	srv.musicDelay = 150 * time.Millisecond
	srv.mu.Unlock()
	host, port, _ := net.SplitHostPort(srv.ln.Addr().String())
	p, _ := strconv.Atoi(port)
	b := NewBulb("test", host, p, WithDialTimeout(50*time.Millisecond))
	defer b.Close()

	if err := b.EnableMusic(context.Background()); err == nil {
		t.Fatal("expected a connect-back timeout")
	}

	// The late connect-back finds nobody listening.
	select {
	case err := <-srv.musicDials:
		if err == nil {
			t.Fatal("late music connection was accepted")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("bulb never connected back")
	}

	// Normal mode keeps working.
	if err := b.ApplyBrightness(context.Background(), 20, 0); err != nil {
		t.Fatalf("after failed music mode: %v", err)
	}
}

// --- Mocks ---

type fakeBulb struct {
	t  *testing.T
	ln net.Listener

	mu     sync.Mutex
	reqs   []request
	conns  int
	notify bool
	fail   bool
	silent bool

	// musicDelay postpones the set_music connect-back; musicDials reports its dial result.
	musicDelay time.Duration
	musicDials chan error
}

func newFakeBulb(t *testing.T) *fakeBulb {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	f := &fakeBulb{t: t, ln: ln, musicDials: make(chan error, 4)}
	t.Cleanup(func() { ln.Close() })
	go f.serve()
	return f
}

func (f *fakeBulb) bulb() *Bulb {
	host, port, _ := net.SplitHostPort(f.ln.Addr().String())
	p, _ := strconv.Atoi(port)
	return NewBulb("test", host, p)
}

func (f *fakeBulb) serve() {
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conns++
		f.mu.Unlock()
		go f.handle(conn)
	}
}

func (f *fakeBulb) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadBytes('\n')
		if err != nil {
			return
		}
		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			return
		}
		f.mu.Lock()
		f.reqs = append(f.reqs, req)
		notify, fail, silent := f.notify, f.fail, f.silent
		f.mu.Unlock()

		if silent {
			continue
		}
		if notify {
			fmt.Fprint(conn, `{"method":"props","params":{"bright":"10"}}`+"\r\n")
		}
		if fail {
			fmt.Fprintf(conn, `{"id":%d,"error":{"code":-1,"message":"unsupported"}}`+"\r\n", req.ID)
			continue
		}
		fmt.Fprintf(conn, `{"id":%d,"result":["ok"]}`+"\r\n", req.ID)
		if req.Method == "set_music" && len(req.Params) == 3 {
			go f.connectBack(req.Params[1], req.Params[2])
		}
	}
}

// connectBack dials the music-mode listener and serves it like the control socket.
func (f *fakeBulb) connectBack(host, port any) {
	f.mu.Lock()
	delay := f.musicDelay
	f.mu.Unlock()
	time.Sleep(delay)

	addr := net.JoinHostPort(fmt.Sprint(host), fmt.Sprint(port))
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	f.musicDials <- err
	if err != nil {
		return
	}
	f.handle(conn)
}

func (f *fakeBulb) requests() []request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]request(nil), f.reqs...)
}

func (f *fakeBulb) accepted() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns
}

func (f *fakeBulb) setSilent(v bool) {
	f.mu.Lock()
	f.silent = v
	f.mu.Unlock()
}
