package blebridge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	dbus "github.com/godbus/dbus/v5"
)

const (
	bluezService    = "org.bluez"
	adapterIface    = "org.bluez.Adapter1"
	deviceIface     = "org.bluez.Device1"
	objManagerIface = "org.freedesktop.DBus.ObjectManager"
)

// BlueZ is the BondStore backed by bluetoothd over the system bus.
type BlueZ struct {
	mu  sync.Mutex
	bus *dbus.Conn
}

func NewBlueZ() *BlueZ {
	return &BlueZ{}
}

// busLocked connects to the system bus if not yet connected.
func (b *BlueZ) busLocked() (*dbus.Conn, error) {
	if b.bus != nil {
		return b.bus, nil
	}
	c, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("bluez: connect system bus: %w: %v", ErrAdapterUnavailable, err)
	}
	b.bus = c
	return c, nil
}

func (b *BlueZ) conn() (*dbus.Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.busLocked()
}

// Bonded lists the devices bluetoothd reports as paired or bonded.
func (b *BlueZ) Bonded(ctx context.Context) ([]BondedDevice, error) {
	bus, err := b.conn()
	if err != nil {
		return nil, err
	}

	var objs map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	call := bus.Object(bluezService, dbus.ObjectPath("/")).CallWithContext(ctx, objManagerIface+".GetManagedObjects", 0)
	if call.Err != nil {
		return nil, fmt.Errorf("bluez: GetManagedObjects: %w", busError(call.Err))
	}
	if err := call.Store(&objs); err != nil {
		return nil, fmt.Errorf("bluez: decode GetManagedObjects: %w", err)
	}
	return bondedFromObjects(objs), nil
}

// RemoveBond asks the owning adapter to forget the device, which drops its
// bond and any open link.
func (b *BlueZ) RemoveBond(ctx context.Context, dev BondedDevice) error {
	bus, err := b.conn()
	if err != nil {
		return err
	}

	adapter := bus.Object(bluezService, dbus.ObjectPath(dev.Adapter))
	if call := adapter.CallWithContext(ctx, adapterIface+".RemoveDevice", 0, dbus.ObjectPath(dev.Path)); call.Err != nil {
		return fmt.Errorf("bluez: RemoveDevice %s: %w", dev.Address, busError(call.Err))
	}
	return nil
}

// Close releases the system bus connection.
func (b *BlueZ) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.bus == nil {
		return nil
	}
	err := b.bus.Close()
	b.bus = nil
	return err
}

func bondedFromObjects(objs map[dbus.ObjectPath]map[string]map[string]dbus.Variant) []BondedDevice {
	var out []BondedDevice
	for path, ifaces := range objs {
		props, ok := ifaces[deviceIface]
		if !ok {
			continue
		}
		if !boolProp(props, "Paired") && !boolProp(props, "Bonded") {
			continue
		}

		dev := BondedDevice{
			Address: NormalizeAddress(stringProp(props, "Address")),
			Name:    stringProp(props, "Name"),
			Path:    string(path),
		}
		if v, ok := props["Adapter"]; ok {
			if p, ok := v.Value().(dbus.ObjectPath); ok {
				dev.Adapter = string(p)
			}
		}
		if dev.Adapter == "" {
			// Expect /org/bluez/hciN/dev_XX_XX_XX_XX_XX_XX
			if idx := strings.LastIndex(dev.Path, "/dev_"); idx > 0 {
				dev.Adapter = dev.Path[:idx]
			}
		}
		if dev.Address == "" {
			dev.Address = addressFromPath(path)
		}
		out = append(out, dev)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func boolProp(props map[string]dbus.Variant, name string) bool {
	v, ok := props[name]
	if !ok {
		return false
	}
	b, _ := v.Value().(bool)
	return b
}

func stringProp(props map[string]dbus.Variant, name string) string {
	v, ok := props[name]
	if !ok {
		return ""
	}
	s, _ := v.Value().(string)
	return s
}

func addressFromPath(p dbus.ObjectPath) string {
	s := string(p)
	idx := strings.LastIndex(s, "/dev_")
	if idx < 0 {
		return ""
	}
	return NormalizeAddress(strings.ReplaceAll(s[idx+5:], "_", ":"))
}

// busError tags well-known bus failures with their taxonomy kind.
func busError(err error) error {
	name := ""
	var e dbus.Error
	var pe *dbus.Error
	switch {
	case errors.As(err, &pe) && pe != nil:
		name = pe.Name
	case errors.As(err, &e):
		name = e.Name
	}

	switch name {
	case "org.freedesktop.DBus.Error.ServiceUnknown", "org.bluez.Error.NotReady":
		return fmt.Errorf("%w: %v", ErrAdapterUnavailable, err)
	case "org.freedesktop.DBus.Error.AccessDenied", "org.bluez.Error.NotAuthorized":
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case "org.bluez.Error.DoesNotExist":
		return fmt.Errorf("%w: %v", ErrDeviceNotFound, err)
	}
	return err
}
