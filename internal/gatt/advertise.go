package gatt

import (
	"fmt"
	"log/slog"

	"github.com/godbus/dbus/v5"

	"github.com/iprlabs/blekbd/internal/bluez"
)

const (
	advIface = "org.bluez.LEAdvertisement1"
	advPath  = dbus.ObjectPath("/org/bluez/ipr/advertisement0")

	// GAP appearance value for a keyboard.
	appearanceKeyboard uint16 = 0x03C1
)

// Advertisement is the exported LE advertisement: peripheral role, HID
// service UUID, keyboard appearance, and the configured local name.
type Advertisement struct {
	conn      *dbus.Conn
	localName string
}

// NewAdvertisement returns an unexported advertisement with the given
// local name.
func NewAdvertisement(conn *dbus.Conn, localName string) *Advertisement {
	return &Advertisement{conn: conn, localName: localName}
}

// Path returns the advertisement object path.
func (a *Advertisement) Path() dbus.ObjectPath {
	return advPath
}

func (a *Advertisement) properties() map[string]dbus.Variant {
	return map[string]dbus.Variant{
		"Type":         dbus.MakeVariant("peripheral"),
		"ServiceUUIDs": dbus.MakeVariant([]string{UUIDHIDService}),
		"LocalName":    dbus.MakeVariant(a.localName),
		"Appearance":   dbus.MakeVariant(appearanceKeyboard),
	}
}

// GetAll implements org.freedesktop.DBus.Properties.
func (a *Advertisement) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	if iface != advIface {
		return nil, errInvalidArgs
	}
	return a.properties(), nil
}

// Release is BlueZ telling us the advertisement was dropped.
func (a *Advertisement) Release() *dbus.Error {
	slog.Info("[gatt] advertisement released")
	return nil
}

// Export publishes the advertisement object on the bus.
func (a *Advertisement) Export() error {
	if err := a.conn.Export(a, advPath, bluez.PropsIface); err != nil {
		return fmt.Errorf("gatt: export advertisement: %w", err)
	}
	if err := a.conn.Export(a, advPath, advIface); err != nil {
		return fmt.Errorf("gatt: export advertisement: %w", err)
	}
	return nil
}
