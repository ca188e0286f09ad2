// Package gatt exports a HID-over-GATT application to BlueZ: the D-Bus
// object tree (services, characteristics, descriptors), the keyboard
// service set, advertising, and registration against the adapter's
// GATT and advertising managers.
package gatt

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/iprlabs/blekbd/internal/bluez"
)

const (
	gattManagerIface = "org.bluez.GattManager1"
	serviceIface     = "org.bluez.GattService1"
	chrcIface        = "org.bluez.GattCharacteristic1"
	descIface        = "org.bluez.GattDescriptor1"

	appPath = dbus.ObjectPath("/org/bluez/ipr/app")
)

var (
	errNotPermitted = dbus.NewError("org.bluez.Error.NotPermitted", nil)
	errInvalidArgs  = dbus.NewError("org.freedesktop.DBus.Error.InvalidArgs", nil)
)

func hasFlag(flags []string, wanted ...string) bool {
	for _, f := range flags {
		for _, w := range wanted {
			if f == w {
				return true
			}
		}
	}
	return false
}

// Application is the root of the exported GATT object tree. BlueZ
// walks it once through GetManagedObjects during registration.
type Application struct {
	conn     *dbus.Conn
	services []*LocalService
}

// NewApplication returns an empty application on conn.
func NewApplication(conn *dbus.Conn) *Application {
	return &Application{conn: conn}
}

// Path returns the application object path.
func (a *Application) Path() dbus.ObjectPath {
	return appPath
}

// AddService appends a service; paths are assigned from the insertion
// order.
func (a *Application) AddService(uuid string) *LocalService {
	svc := &LocalService{
		conn:    a.conn,
		path:    dbus.ObjectPath(fmt.Sprintf("%s/service%d", appPath, len(a.services))),
		uuid:    uuid,
		primary: true,
	}
	a.services = append(a.services, svc)
	return svc
}

// GetManagedObjects implements org.freedesktop.DBus.ObjectManager for
// the whole tree.
func (a *Application) GetManagedObjects() (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, *dbus.Error) {
	objects := make(map[dbus.ObjectPath]map[string]map[string]dbus.Variant)
	for _, svc := range a.services {
		objects[svc.path] = svc.properties()
		for _, chrc := range svc.chrcs {
			objects[chrc.path] = chrc.properties()
			for _, desc := range chrc.descs {
				objects[desc.path] = desc.properties()
			}
		}
	}
	return objects, nil
}

// Export publishes the application and every object beneath it on the
// bus so BlueZ can call into them.
func (a *Application) Export() error {
	if err := a.conn.Export(a, appPath, bluez.OMIface); err != nil {
		return fmt.Errorf("gatt: export application: %w", err)
	}
	for _, svc := range a.services {
		if err := svc.export(); err != nil {
			return err
		}
	}
	return nil
}

// LocalService is one exported GATT service.
type LocalService struct {
	conn    *dbus.Conn
	path    dbus.ObjectPath
	uuid    string
	primary bool
	chrcs   []*LocalCharacteristic
}

func (s *LocalService) properties() map[string]map[string]dbus.Variant {
	return map[string]map[string]dbus.Variant{
		serviceIface: {
			"UUID":    dbus.MakeVariant(s.uuid),
			"Primary": dbus.MakeVariant(s.primary),
		},
	}
}

// GetAll implements org.freedesktop.DBus.Properties for the service.
func (s *LocalService) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	if iface != serviceIface {
		return nil, errInvalidArgs
	}
	return s.properties()[serviceIface], nil
}

func (s *LocalService) export() error {
	if err := s.conn.Export(s, s.path, bluez.PropsIface); err != nil {
		return fmt.Errorf("gatt: export service %s: %w", s.path, err)
	}
	for _, chrc := range s.chrcs {
		if err := chrc.export(); err != nil {
			return err
		}
	}
	return nil
}

// CharacteristicConfig assembles a characteristic from its optional
// capabilities: a static or computed value for reads, a write hook, and
// notify-subscription callbacks. Unused hooks stay nil instead of a
// monolithic type carrying dead methods.
type CharacteristicConfig struct {
	UUID     string
	Flags    []string
	Value    []byte                         // initial / static value
	OnWrite  func(value []byte) *dbus.Error // nil for read-only
	OnNotify func(enabled bool)             // subscription edge, nil when not notifiable
}

// AddCharacteristic appends a characteristic to the service.
func (s *LocalService) AddCharacteristic(cfg CharacteristicConfig) *LocalCharacteristic {
	chrc := &LocalCharacteristic{
		conn:     s.conn,
		path:     dbus.ObjectPath(fmt.Sprintf("%s/char%d", s.path, len(s.chrcs))),
		service:  s.path,
		uuid:     cfg.UUID,
		flags:    cfg.Flags,
		value:    append([]byte(nil), cfg.Value...),
		onWrite:  cfg.OnWrite,
		onNotify: cfg.OnNotify,
	}
	s.chrcs = append(s.chrcs, chrc)
	return chrc
}

// LocalCharacteristic is one exported GATT characteristic.
type LocalCharacteristic struct {
	conn    *dbus.Conn
	path    dbus.ObjectPath
	service dbus.ObjectPath
	uuid    string
	flags   []string
	descs   []*LocalDescriptor

	onWrite  func(value []byte) *dbus.Error
	onNotify func(enabled bool)

	mu        sync.Mutex
	value     []byte
	notifying bool
}

// AddDescriptor appends a read-only descriptor with a static value.
func (c *LocalCharacteristic) AddDescriptor(uuid string, value []byte) *LocalDescriptor {
	desc := &LocalDescriptor{
		conn:  c.conn,
		path:  dbus.ObjectPath(fmt.Sprintf("%s/desc%d", c.path, len(c.descs))),
		chrc:  c.path,
		uuid:  uuid,
		value: append([]byte(nil), value...),
	}
	c.descs = append(c.descs, desc)
	return desc
}

func (c *LocalCharacteristic) properties() map[string]map[string]dbus.Variant {
	c.mu.Lock()
	value := append([]byte(nil), c.value...)
	c.mu.Unlock()
	return map[string]map[string]dbus.Variant{
		chrcIface: {
			"Service": dbus.MakeVariant(c.service),
			"UUID":    dbus.MakeVariant(c.uuid),
			"Flags":   dbus.MakeVariant(c.flags),
			"Value":   dbus.MakeVariant(value),
		},
	}
}

// GetAll implements org.freedesktop.DBus.Properties.
func (c *LocalCharacteristic) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	if iface != chrcIface {
		return nil, errInvalidArgs
	}
	return c.properties()[chrcIface], nil
}

// ReadValue implements org.bluez.GattCharacteristic1.ReadValue.
func (c *LocalCharacteristic) ReadValue(options map[string]dbus.Variant) ([]byte, *dbus.Error) {
	if !hasFlag(c.flags, "read", "encrypt-read", "encrypt-authenticated-read", "secure-read") {
		return nil, errNotPermitted
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.value...), nil
}

// WriteValue implements org.bluez.GattCharacteristic1.WriteValue.
func (c *LocalCharacteristic) WriteValue(value []byte, options map[string]dbus.Variant) *dbus.Error {
	if !hasFlag(c.flags, "write", "write-without-response",
		"encrypt-write", "encrypt-authenticated-write", "secure-write") {
		return errNotPermitted
	}
	if c.onWrite != nil {
		if derr := c.onWrite(value); derr != nil {
			return derr
		}
	}
	c.mu.Lock()
	c.value = append([]byte(nil), value...)
	c.mu.Unlock()
	return nil
}

// StartNotify implements org.bluez.GattCharacteristic1.StartNotify.
// The reply must go out immediately; subscription edges are forwarded
// through the OnNotify hook, never handled inline.
func (c *LocalCharacteristic) StartNotify() *dbus.Error {
	if !hasFlag(c.flags, "notify", "indicate", "encrypt-notify", "encrypt-indicate") {
		return errNotPermitted
	}
	c.mu.Lock()
	already := c.notifying
	c.notifying = true
	c.mu.Unlock()
	if !already && c.onNotify != nil {
		c.onNotify(true)
	}
	return nil
}

// StopNotify implements org.bluez.GattCharacteristic1.StopNotify.
func (c *LocalCharacteristic) StopNotify() *dbus.Error {
	c.mu.Lock()
	was := c.notifying
	c.notifying = false
	c.mu.Unlock()
	if was && c.onNotify != nil {
		c.onNotify(false)
	}
	return nil
}

// Notifying reports whether a host is currently subscribed.
func (c *LocalCharacteristic) Notifying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notifying
}

// ResetNotify force-clears the subscription state, used when the link
// drops without BlueZ delivering a StopNotify.
func (c *LocalCharacteristic) ResetNotify() {
	c.mu.Lock()
	was := c.notifying
	c.notifying = false
	c.mu.Unlock()
	if was && c.onNotify != nil {
		c.onNotify(false)
	}
}

// Notify pushes a new value to the subscribed host by emitting
// PropertiesChanged. Returns false when nobody is subscribed; the value
// is then not consumed.
func (c *LocalCharacteristic) Notify(value []byte) bool {
	c.mu.Lock()
	if !c.notifying {
		c.mu.Unlock()
		return false
	}
	c.value = append([]byte(nil), value...)
	c.mu.Unlock()

	err := c.conn.Emit(c.path, bluez.PropsSignal, chrcIface,
		map[string]dbus.Variant{"Value": dbus.MakeVariant(value)}, []string{})
	if err != nil {
		slog.Error("[gatt] notify emit failed", "path", c.path, "err", err)
		return false
	}
	return true
}

func (c *LocalCharacteristic) export() error {
	if err := c.conn.Export(c, c.path, bluez.PropsIface); err != nil {
		return fmt.Errorf("gatt: export characteristic %s: %w", c.path, err)
	}
	if err := c.conn.Export(c, c.path, chrcIface); err != nil {
		return fmt.Errorf("gatt: export characteristic %s: %w", c.path, err)
	}
	for _, desc := range c.descs {
		if err := desc.export(); err != nil {
			return err
		}
	}
	return nil
}

// LocalDescriptor is a read-only exported GATT descriptor.
type LocalDescriptor struct {
	conn  *dbus.Conn
	path  dbus.ObjectPath
	chrc  dbus.ObjectPath
	uuid  string
	value []byte
}

func (d *LocalDescriptor) properties() map[string]map[string]dbus.Variant {
	return map[string]map[string]dbus.Variant{
		descIface: {
			"Characteristic": dbus.MakeVariant(d.chrc),
			"UUID":           dbus.MakeVariant(d.uuid),
			"Flags":          dbus.MakeVariant([]string{"read"}),
			"Value":          dbus.MakeVariant(d.value),
		},
	}
}

// GetAll implements org.freedesktop.DBus.Properties.
func (d *LocalDescriptor) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	if iface != descIface {
		return nil, errInvalidArgs
	}
	return d.properties()[descIface], nil
}

// ReadValue implements org.bluez.GattDescriptor1.ReadValue.
func (d *LocalDescriptor) ReadValue(options map[string]dbus.Variant) ([]byte, *dbus.Error) {
	return append([]byte(nil), d.value...), nil
}

func (d *LocalDescriptor) export() error {
	if err := d.conn.Export(d, d.path, bluez.PropsIface); err != nil {
		return fmt.Errorf("gatt: export descriptor %s: %w", d.path, err)
	}
	if err := d.conn.Export(d, d.path, descIface); err != nil {
		return fmt.Errorf("gatt: export descriptor %s: %w", d.path, err)
	}
	return nil
}
