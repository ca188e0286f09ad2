// Package bluez wraps the system D-Bus connection to BlueZ: adapter
// discovery and setup, device trust, property signal watching, and the
// Just Works pairing agent.
package bluez

import (
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/godbus/dbus/v5"
)

// Well-known BlueZ names shared across this module.
const (
	Service = "org.bluez"

	AdapterIface = "org.bluez.Adapter1"
	DeviceIface  = "org.bluez.Device1"

	PropsIface  = "org.freedesktop.DBus.Properties"
	OMIface     = "org.freedesktop.DBus.ObjectManager"
	PropsSignal = "org.freedesktop.DBus.Properties.PropertiesChanged"
)

// Bus wraps a system D-Bus connection for BlueZ operations.
type Bus struct {
	conn     *dbus.Conn
	addMatch func(rule string) error
}

func newBus(conn *dbus.Conn) *Bus {
	return &Bus{
		conn: conn,
		addMatch: func(rule string) error {
			return conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, rule).Err
		},
	}
}

// System connects to the system bus and verifies BlueZ is present.
func System() (*Bus, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("bluez: connect to system bus: %w", err)
	}
	var names []string
	if err := conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		conn.Close()
		return nil, fmt.Errorf("bluez: list bus names: %w", err)
	}
	for _, n := range names {
		if n == Service {
			return newBus(conn), nil
		}
	}
	conn.Close()
	return nil, fmt.Errorf("bluez: org.bluez not found on system bus; is bluetooth.service running?")
}

// Conn exposes the raw connection for object export and signal emission.
func (b *Bus) Conn() *dbus.Conn {
	return b.conn
}

// Close tears down the bus connection.
func (b *Bus) Close() {
	b.conn.Close()
}

// --- property helpers ---

func (b *Bus) getProp(path dbus.ObjectPath, iface, prop string) (dbus.Variant, error) {
	obj := b.conn.Object(Service, path)
	var v dbus.Variant
	err := obj.Call(PropsIface+".Get", 0, iface, prop).Store(&v)
	return v, err
}

func (b *Bus) setProp(path dbus.ObjectPath, iface, prop string, val interface{}) error {
	obj := b.conn.Object(Service, path)
	return obj.Call(PropsIface+".Set", 0, iface, prop, dbus.MakeVariant(val)).Err
}

// TrustDevice marks the device at path as trusted so a bonded peer can
// reconnect without re-pairing.
func (b *Bus) TrustDevice(path dbus.ObjectPath) error {
	if err := b.setProp(path, DeviceIface, "Trusted", true); err != nil {
		return fmt.Errorf("bluez: set Trusted on %s: %w", path, err)
	}
	return nil
}

// DeviceConnected reads the Connected property of the device at path.
func (b *Bus) DeviceConnected(path dbus.ObjectPath) (bool, error) {
	v, err := b.getProp(path, DeviceIface, "Connected")
	if err != nil {
		return false, err
	}
	val, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("bluez: Connected is not bool")
	}
	return val, nil
}

// WatchProperties subscribes to PropertiesChanged signals under the
// BlueZ object tree. Connect/disconnect tracking hangs off this; a
// failed match registration leaves the channel permanently silent.
func (b *Bus) WatchProperties() (chan *dbus.Signal, error) {
	rule := "type='signal',interface='" + PropsIface + "',member='PropertiesChanged',path_namespace='/org/bluez'"
	if err := b.addMatch(rule); err != nil {
		return nil, fmt.Errorf("bluez: add signal match: %w", err)
	}
	ch := make(chan *dbus.Signal, 16)
	b.conn.Signal(ch)
	return ch, nil
}

// --- adapter ---

// Adapter is the local radio, addressed by its BlueZ object path. One
// per process; only the GATT layer issues advertising commands on it.
type Adapter struct {
	bus  *Bus
	Path dbus.ObjectPath
}

// FindAdapter locates a Bluetooth adapter, preferring the named hci
// device and falling back to any adapter BlueZ manages.
func (b *Bus) FindAdapter(prefer string) (*Adapter, error) {
	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	obj := b.conn.Object(Service, "/")
	if err := obj.Call(OMIface+".GetManagedObjects", 0).Store(&objects); err != nil {
		return nil, fmt.Errorf("bluez: get managed objects: %w", err)
	}

	var fallback dbus.ObjectPath
	for path, ifaces := range objects {
		if _, ok := ifaces[AdapterIface]; !ok {
			continue
		}
		if strings.HasSuffix(string(path), "/"+prefer) {
			return &Adapter{bus: b, Path: path}, nil
		}
		if fallback == "" {
			fallback = path
		}
	}
	if fallback != "" {
		return &Adapter{bus: b, Path: fallback}, nil
	}
	return nil, fmt.Errorf("bluez: no Bluetooth adapter found")
}

// Setup powers the adapter and makes it permanently pairable and
// discoverable under the given alias. The class and timeout tweaks are
// best effort; some stacks refuse them and the keyboard still works.
func (a *Adapter) Setup(alias string) error {
	if err := a.bus.setProp(a.Path, AdapterIface, "Powered", true); err != nil {
		return fmt.Errorf("bluez: power on %s: %w", a.Path, err)
	}
	if err := a.bus.setProp(a.Path, AdapterIface, "Pairable", true); err != nil {
		return fmt.Errorf("bluez: set Pairable: %w", err)
	}
	if err := a.bus.setProp(a.Path, AdapterIface, "Discoverable", true); err != nil {
		return fmt.Errorf("bluez: set Discoverable: %w", err)
	}

	if err := a.bus.setProp(a.Path, AdapterIface, "PairableTimeout", uint32(0)); err != nil {
		slog.Warn("[bluez] could not clear pairable timeout", "err", err)
	}
	if err := a.bus.setProp(a.Path, AdapterIface, "DiscoverableTimeout", uint32(0)); err != nil {
		slog.Warn("[bluez] could not clear discoverable timeout", "err", err)
	}
	if err := a.bus.setProp(a.Path, AdapterIface, "Class", uint32(0x002540)); err != nil {
		slog.Warn("[bluez] could not set keyboard device class", "err", err)
	}
	if alias != "" {
		if err := a.bus.setProp(a.Path, AdapterIface, "Alias", alias); err != nil {
			slog.Warn("[bluez] could not set alias", "alias", alias, "err", err)
		}
	}
	return nil
}

// SetLEOnly disables the BR/EDR radio so the host sees a single LE
// identity instead of two cohabiting devices. Best effort: btmgmt may
// be missing or the controller may not support the switch.
func (a *Adapter) SetLEOnly() {
	idx := a.Index()
	for _, args := range [][]string{
		{"--index", idx, "le", "on"},
		{"--index", idx, "bredr", "off"},
	} {
		if out, err := exec.Command("btmgmt", args...).CombinedOutput(); err != nil {
			slog.Warn("[bluez] btmgmt failed", "args", strings.Join(args, " "),
				"output", strings.TrimSpace(string(out)), "err", err)
			return
		}
	}
	slog.Info("[bluez] controller switched to LE-only", "adapter", idx)
}

// Index returns the controller index ("0" for hci0).
func (a *Adapter) Index() string {
	s := string(a.Path)
	if i := strings.LastIndex(s, "/hci"); i >= 0 {
		return s[i+len("/hci"):]
	}
	return "0"
}

// DevicePath converts a MAC address like "AA:BB:CC:DD:EE:FF" to the
// device object path under this adapter.
func (a *Adapter) DevicePath(addr string) dbus.ObjectPath {
	escaped := strings.ReplaceAll(addr, ":", "_")
	return dbus.ObjectPath(string(a.Path) + "/dev_" + escaped)
}

// MACFromPath extracts a MAC address from a BlueZ device object path,
// or "" if the path is not a device path.
func MACFromPath(path dbus.ObjectPath) string {
	s := string(path)
	i := strings.LastIndex(s, "/dev_")
	if i < 0 {
		return ""
	}
	return strings.ReplaceAll(s[i+len("/dev_"):], "_", ":")
}
