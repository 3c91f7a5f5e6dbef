package yeelight

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// MulticastAddr is where bulbs listen for search requests.
const MulticastAddr = "239.255.255.250:1982"

const searchRequest = "M-SEARCH * HTTP/1.1\r\n" +
	"HOST: 239.255.255.250:1982\r\n" +
	"MAN: \"ssdp:discover\"\r\n" +
	"ST: wifi_bulb\r\n\r\n"

// Found is a bulb that answered a search.
type Found struct {
	ID    string
	Model string
	Name  string
	Host  string
	Port  int
	Power string
}

// Discoverer searches the LAN for bulbs.
type Discoverer struct {
	target string
	log    *zap.Logger
}

// NewDiscoverer returns a Discoverer sending to target, or to MulticastAddr
// when target is empty.
func NewDiscoverer(target string, log *zap.Logger) *Discoverer {
	if target == "" {
		target = MulticastAddr
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Discoverer{target: target, log: log.Named("yeelight_discovery")}
}

// Discover sends a search and collects replies until timeout or ctx ends.
// Bulbs answering more than once are reported once.
func (d *Discoverer) Discover(ctx context.Context, timeout time.Duration) ([]Found, error) {
	dst, err := net.ResolveUDPAddr("udp4", d.target)
	if err != nil {
		return nil, fmt.Errorf("yeelight: resolve %s: %w", d.target, err)
	}
	var lc net.ListenConfig
	pc, err := lc.ListenPacket(ctx, "udp4", ":0")
	if err != nil {
		return nil, fmt.Errorf("yeelight: discovery socket: %w", err)
	}
	defer pc.Close()

	deadline := time.Now().Add(timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = pc.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { _ = pc.SetDeadline(past) })
	defer stop()

	if _, err := pc.WriteTo([]byte(searchRequest), dst); err != nil {
		return nil, fmt.Errorf("yeelight: send search: %w", err)
	}

	var found []Found
	seen := make(map[string]bool)
	buf := make([]byte, 2048)
	for {
		n, from, err := pc.ReadFrom(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				break
			}
			return found, fmt.Errorf("yeelight: read search reply: %w", err)
		}
		f, err := ParseSearchResponse(buf[:n])
		if err != nil {
			d.log.Debug("ignoring reply", zap.Stringer("from", from), zap.Error(err))
			continue
		}
		key := f.ID
		if key == "" {
			key = net.JoinHostPort(f.Host, strconv.Itoa(f.Port))
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		d.log.Info("found bulb", zap.String("id", f.ID), zap.String("host", f.Host), zap.String("model", f.Model))
		found = append(found, f)
	}
	if err := ctx.Err(); err != nil {
		return found, err
	}
	return found, nil
}

// ParseSearchResponse decodes one search reply. Replies are HTTP-shaped with
// a Location header of the form yeelight://host:port.
func ParseSearchResponse(data []byte) (Found, error) {
	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(data)), nil)
	if err != nil {
		return Found{}, fmt.Errorf("yeelight: parse reply: %w", err)
	}
	defer resp.Body.Close()

	loc := resp.Header.Get("Location")
	u, err := url.Parse(loc)
	if err != nil || u.Scheme != "yeelight" || u.Hostname() == "" {
		return Found{}, fmt.Errorf("yeelight: bad location %q", loc)
	}
	port := DefaultPort
	if p := u.Port(); p != "" {
		if port, err = strconv.Atoi(p); err != nil {
			return Found{}, fmt.Errorf("yeelight: bad port in %q", loc)
		}
	}
	return Found{
		ID:    strings.TrimSpace(resp.Header.Get("Id")),
		Model: strings.TrimSpace(resp.Header.Get("Model")),
		Name:  strings.TrimSpace(resp.Header.Get("Name")),
		Host:  u.Hostname(),
		Port:  port,
		Power: strings.TrimSpace(resp.Header.Get("Power")),
	}, nil
}
