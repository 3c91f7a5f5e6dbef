package yeelight

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

const sampleReply = "HTTP/1.1 200 OK\r\n" +
	"Cache-Control: max-age=3600\r\n" +
	"Location: yeelight://192.168.1.239:55443\r\n" +
	"Server: POSIX UPnP/1.0 YGLC/1\r\n" +
	"id: 0x000000000015243f\r\n" +
	"model: color\r\n" +
	"power: on\r\n" +
	"name: desk\r\n\r\n"

func TestParseSearchResponse(t *testing.T) {
	tests := []struct {
		name     string
		reply    string
		wantErr  bool
		wantHost string
		wantPort int
	}{
		{name: "full reply", reply: sampleReply, wantHost: "192.168.1.239", wantPort: 55443},
		{
			name:     "port defaults",
			reply:    "HTTP/1.1 200 OK\r\nLocation: yeelight://10.0.0.7\r\n\r\n",
			wantHost: "10.0.0.7",
			wantPort: DefaultPort,
		},
		{name: "wrong scheme", reply: "HTTP/1.1 200 OK\r\nLocation: http://10.0.0.7/\r\n\r\n", wantErr: true},
		{name: "not http", reply: "garbage", wantErr: true},
		{name: "search echo", reply: searchRequest, wantErr: true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			f, err := ParseSearchResponse([]byte(tc.reply))
			if (err != nil) != tc.wantErr {
				t.Fatalf("err: got %v, wantErr %v", err, tc.wantErr)
			}
			if err != nil {
				return
			}
			if f.Host != tc.wantHost || f.Port != tc.wantPort {
				t.Errorf("got %s:%d, want %s:%d", f.Host, f.Port, tc.wantHost, tc.wantPort)
			}
		})
	}

	f, _ := ParseSearchResponse([]byte(sampleReply))
	if f.ID != "0x000000000015243f" || f.Model != "color" || f.Name != "desk" || f.Power != "on" {
		t.Errorf("headers: got %+v", f)
	}
}

func TestDiscoverer_CollectsUniqueReplies(t *testing.T) {
	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer pc.Close()

	go func() {
		buf := make([]byte, 1024)
		n, from, err := pc.ReadFrom(buf)
		if err != nil || !strings.HasPrefix(string(buf[:n]), "M-SEARCH") {
			return
		}
		// Bulbs commonly answer twice.
		pc.WriteTo([]byte(sampleReply), from)
		pc.WriteTo([]byte(sampleReply), from)
		pc.WriteTo([]byte("HTTP/1.1 200 OK\r\nLocation: yeelight://192.168.1.240:55443\r\nid: 0x2\r\n\r\n"), from)
	}()

	d := NewDiscoverer(pc.LocalAddr().String(), zap.NewNop())
	found, err := d.Discover(context.Background(), 300*time.Millisecond)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("found: got %d, want 2 (%+v)", len(found), found)
	}
	if found[0].Host != "192.168.1.239" || found[1].Host != "192.168.1.240" {
		t.Errorf("hosts: got %s, %s", found[0].Host, found[1].Host)
	}
}

func TestDiscoverer_ContextCancelled(t *testing.T) {
	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer pc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	d := NewDiscoverer(pc.LocalAddr().String(), nil)
	start := time.Now()
	if _, err := d.Discover(ctx, 5*time.Second); err == nil {
		t.Fatal("expected context error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("discover ignored cancellation: %s", elapsed)
	}
}
