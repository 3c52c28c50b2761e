// Package usbdap is the CMSIS-DAP v2 bulk endpoint link to a USB adapter.
package usbdap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/gousb"
	"github.com/rs/zerolog/log"
)

var (
	ErrDeviceNotFound    = errors.New("usbdap: device not found")
	ErrInterfaceNotFound = errors.New("usbdap: CMSIS-DAP interface not found")
	ErrEndpointNotFound  = errors.New("usbdap: bulk endpoint not found")
)

type Config struct {
	VID uint16
	PID uint16
	// Interface is matched against the interface string descriptor. Empty
	// accepts any vendor-class interface whose name contains "CMSIS-DAP".
	Interface string
	// Serial selects one adapter when several share VID and PID.
	Serial string
}

// Device is an open adapter. It implements probe.Link.
type Device struct {
	ctx   *gousb.Context
	dev   *gousb.Device
	cfg   *gousb.Config
	intf  *gousb.Interface
	out   *gousb.OutEndpoint
	in    *gousb.InEndpoint
	mu    sync.Mutex
	spare []byte

	PacketSize int
}

func Open(c Config) (*Device, error) {
	ctx := gousb.NewContext()
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == gousb.ID(c.VID) && desc.Product == gousb.ID(c.PID)
	})
	var chosen *gousb.Device
	for _, d := range devs {
		if chosen == nil && serialMatches(d, c.Serial) {
			chosen = d
			continue
		}
		d.Close()
	}
	if chosen == nil {
		ctx.Close()
		if err != nil {
			return nil, fmt.Errorf("usbdap: enumerate %04x:%04x: %w", c.VID, c.PID, err)
		}
		return nil, fmt.Errorf("%w: %04x:%04x", ErrDeviceNotFound, c.VID, c.PID)
	}
	if err := chosen.SetAutoDetach(true); err != nil {
		log.Debug().Err(err).Msg("usbdap.Open auto detach")
	}

	d := &Device{ctx: ctx, dev: chosen}
	if err := d.claim(c.Interface); err != nil {
		d.Close()
		return nil, err
	}
	log.Info().Msgf("usbdap.Open vid=%04x pid=%04x packet=%d", c.VID, c.PID, d.PacketSize)
	return d, nil
}

func serialMatches(d *gousb.Device, serial string) bool {
	if serial == "" {
		return true
	}
	s, err := d.SerialNumber()
	return err == nil && s == serial
}

func (d *Device) claim(want string) error {
	cfgNum, err := d.dev.ActiveConfigNum()
	if err != nil {
		return fmt.Errorf("usbdap: active config: %w", err)
	}
	cfg, err := d.dev.Config(cfgNum)
	if err != nil {
		return fmt.Errorf("usbdap: config %d: %w", cfgNum, err)
	}
	d.cfg = cfg

	for _, idesc := range cfg.Desc.Interfaces {
		for _, alt := range idesc.AltSettings {
			if alt.Class != gousb.ClassVendorSpec {
				continue
			}
			name, err := d.dev.InterfaceDescription(cfgNum, alt.Number, alt.Alternate)
			if err != nil || !interfaceMatches(name, want) {
				continue
			}
			out, in, err := bulkEndpoints(alt)
			if err != nil {
				return err
			}
			intf, err := cfg.Interface(alt.Number, alt.Alternate)
			if err != nil {
				return fmt.Errorf("usbdap: claim interface %d: %w", alt.Number, err)
			}
			d.intf = intf
			if d.out, err = intf.OutEndpoint(out.Number); err != nil {
				return fmt.Errorf("usbdap: out endpoint: %w", err)
			}
			if d.in, err = intf.InEndpoint(in.Number); err != nil {
				return fmt.Errorf("usbdap: in endpoint: %w", err)
			}
			d.PacketSize = in.MaxPacketSize
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrInterfaceNotFound, want)
}

func interfaceMatches(name, want string) bool {
	if want == "" {
		return strings.Contains(name, "CMSIS-DAP")
	}
	return name == want
}

// bulkEndpoints returns the lowest-numbered bulk OUT and IN endpoints.
func bulkEndpoints(s gousb.InterfaceSetting) (out, in gousb.EndpointDesc, err error) {
	for _, ep := range s.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk {
			continue
		}
		switch ep.Direction {
		case gousb.EndpointDirectionOut:
			if out.Number == 0 || ep.Number < out.Number {
				out = ep
			}
		case gousb.EndpointDirectionIn:
			if in.Number == 0 || ep.Number < in.Number {
				in = ep
			}
		}
	}
	if out.Number == 0 || in.Number == 0 {
		return out, in, ErrEndpointNotFound
	}
	return out, in, nil
}

// Write sends one request packet.
func (d *Device) Write(p []byte) error {
	if _, err := d.out.Write(p); err != nil {
		return fmt.Errorf("usbdap: write: %w", err)
	}
	return nil
}

// Read returns one response packet. A timeout is reported as
// os.ErrDeadlineExceeded.
func (d *Device) Read(max int, timeout time.Duration) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cap(d.spare) < max {
		d.spare = make([]byte, max)
	}
	buf := d.spare[:max]

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	n, err := d.in.ReadContext(ctx, buf)
	if err != nil {
		return nil, readErr(ctx, err)
	}
	return append([]byte(nil), buf[:n]...), nil
}

func readErr(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, gousb.TransferTimedOut) || errors.Is(err, gousb.TransferCancelled) {
		return os.ErrDeadlineExceeded
	}
	return fmt.Errorf("usbdap: read: %w", err)
}

func (d *Device) Close() error {
	if d.intf != nil {
		d.intf.Close()
		d.intf = nil
	}
	if d.cfg != nil {
		if err := d.cfg.Close(); err != nil {
			log.Debug().Err(err).Msg("usbdap.Device close config")
		}
		d.cfg = nil
	}
	if d.dev != nil {
		if err := d.dev.Close(); err != nil {
			log.Debug().Err(err).Msg("usbdap.Device close device")
		}
		d.dev = nil
	}
	if d.ctx != nil {
		if err := d.ctx.Close(); err != nil {
			log.Debug().Err(err).Msg("usbdap.Device close context")
		}
		d.ctx = nil
	}
	return nil
}

// DeviceInfo describes an attached adapter.
type DeviceInfo struct {
	VID          uint16
	PID          uint16
	Bus          int
	Address      int
	Manufacturer string
	Product      string
	SerialNumber string
}

// List enumerates adapters matching vid and pid.
func List(vid, pid uint16) ([]DeviceInfo, error) {
	ctx := gousb.NewContext()
	defer ctx.Close()

	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == gousb.ID(vid) && desc.Product == gousb.ID(pid)
	})
	infos := make([]DeviceInfo, 0, len(devs))
	for _, dev := range devs {
		info := DeviceInfo{
			VID:     uint16(dev.Desc.Vendor),
			PID:     uint16(dev.Desc.Product),
			Bus:     dev.Desc.Bus,
			Address: dev.Desc.Address,
		}
		info.Manufacturer, _ = dev.Manufacturer()
		info.Product, _ = dev.Product()
		info.SerialNumber, _ = dev.SerialNumber()
		infos = append(infos, info)
		dev.Close()
	}
	if err != nil && len(infos) == 0 {
		return nil, fmt.Errorf("usbdap: enumerate: %w", err)
	}
	return infos, nil
}
