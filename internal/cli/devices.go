package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"

	"go.uber.org/zap"

	"github.com/ewilliams-labs/pulselight/internal/adapters/ledstrip"
	"github.com/ewilliams-labs/pulselight/internal/adapters/yeelight"
	"github.com/ewilliams-labs/pulselight/internal/core/ports"
	"github.com/ewilliams-labs/pulselight/internal/platform/config"
)

const musicModeTimeout = 3 * time.Second

// loadInventory reads the devices file, falling back to discovery when it
// does not exist.
func loadInventory(ctx context.Context, c *config.Config, log *zap.Logger) (*config.Inventory, error) {
	inv, err := config.LoadDevices(c.DevicesFile)
	if err == nil {
		log.Info("loaded device inventory", zap.String("path", c.DevicesFile), zap.Int("devices", len(inv.Devices)))
		return inv, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	log.Info("no device inventory, discovering bulbs", zap.String("path", c.DevicesFile))
	found, err := yeelight.NewDiscoverer("", log).Discover(ctx, c.DiscoverTimeout)
	if err != nil {
		return nil, fmt.Errorf("cli: discover: %w", err)
	}
	return inventoryFromDiscovery(found, true), nil
}

// inventoryFromDiscovery turns search replies into inventory entries.
func inventoryFromDiscovery(found []yeelight.Found, music bool) *config.Inventory {
	inv := &config.Inventory{Devices: make([]config.DeviceSpec, 0, len(found))}
	for _, f := range found {
		id := f.ID
		if id == "" {
			id = fmt.Sprintf("%s-%s", config.KindYeelight, f.Host)
		}
		inv.Devices = append(inv.Devices, config.DeviceSpec{
			ID:      id,
			Kind:    config.KindYeelight,
			Address: f.Host,
			Port:    f.Port,
			Music:   music,
		})
	}
	return inv
}

// buildDevices constructs a driver per inventory entry. The returned closers
// release driver sockets.
func buildDevices(inv *config.Inventory, log *zap.Logger) ([]ports.Device, []io.Closer, error) {
	devices := make([]ports.Device, 0, len(inv.Devices))
	closers := make([]io.Closer, 0, len(inv.Devices))
	for _, spec := range inv.Devices {
		switch spec.Kind {
		case config.KindYeelight, "":
			b := yeelight.NewBulb(spec.ID, spec.Address, spec.Port, yeelight.WithLogger(log))
			devices = append(devices, b)
			closers = append(closers, b)
		case config.KindLEDStrip:
			s := ledstrip.NewStrip(spec.ID, spec.Address, spec.Port,
				ledstrip.WithPixels(spec.Pixels),
				ledstrip.WithLogger(log),
			)
			devices = append(devices, s)
			closers = append(closers, s)
		default:
			return nil, nil, fmt.Errorf("cli: device %s: unknown kind %q", spec.ID, spec.Kind)
		}
	}
	return devices, closers, nil
}

// enableMusicMode switches every bulb flagged for music mode. A bulb that
// refuses keeps working in normal mode.
func enableMusicMode(ctx context.Context, inv *config.Inventory, devices []ports.Device, log *zap.Logger) {
	music := make(map[string]bool, len(inv.Devices))
	for _, spec := range inv.Devices {
		music[spec.ID] = spec.Music
	}
	for _, d := range devices {
		b, ok := d.(*yeelight.Bulb)
		if !ok || !music[d.ID()] {
			continue
		}
		mctx, cancel := context.WithTimeout(ctx, musicModeTimeout)
		err := b.EnableMusic(mctx)
		cancel()
		if err != nil {
			log.Warn("music mode unavailable", zap.String("device_id", d.ID()), zap.Error(err))
		}
	}
}

func closeAll(closers []io.Closer) {
	for _, c := range closers {
		_ = c.Close()
	}
}
