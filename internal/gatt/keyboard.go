package gatt

import (
	"log/slog"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/iprlabs/blekbd/internal/hid"
)

// 16-bit assigned UUIDs for the exposed services and characteristics.
const (
	UUIDHIDService = "1812"

	uuidHIDInformation  = "2a4a"
	uuidReportMap       = "2a4b"
	uuidHIDControlPoint = "2a4c"
	uuidReport          = "2a4d"
	uuidProtocolMode    = "2a4e"
	uuidBootKbdInput    = "2a22"
	uuidBootKbdOutput   = "2a32"
	uuidReportReference = "2908"

	uuidDeviceInfoService = "180a"
	uuidPnPID             = "2a50"
	uuidManufacturer      = "2a29"
	uuidModelNumber       = "2a24"

	uuidBatteryService = "180f"
	uuidBatteryLevel   = "2a19"
)

const (
	protocolModeBoot   = 0x00
	protocolModeReport = 0x01

	inputReportID  = 1
	outputReportID = 1
)

// DeviceInfo feeds the Device Information service.
type DeviceInfo struct {
	Manufacturer string
	Model        string
	VendorID     uint16
	ProductID    uint16
	Version      uint16
}

// Keyboard is the exported HID-over-GATT application: the HID service
// with report and boot characteristics, plus Device Information and
// Battery services that keep picky hosts happy.
type Keyboard struct {
	app       *Application
	input     *LocalCharacteristic
	bootInput *LocalCharacteristic

	mu          sync.Mutex
	onSubscribe func(delta int)
	protoMode   byte
	suspended   bool
}

// NewKeyboard assembles the GATT object tree. Subscription edges are
// delivered through the hook installed with SetSubscriptionHook.
func NewKeyboard(conn *dbus.Conn, info DeviceInfo) *Keyboard {
	kbd := &Keyboard{
		app:       NewApplication(conn),
		protoMode: protocolModeReport,
	}

	edge := func(enabled bool) {
		kbd.mu.Lock()
		fn := kbd.onSubscribe
		kbd.mu.Unlock()
		if fn == nil {
			return
		}
		if enabled {
			fn(+1)
		} else {
			fn(-1)
		}
	}

	hidSvc := kbd.app.AddService(UUIDHIDService)

	hidSvc.AddCharacteristic(CharacteristicConfig{
		UUID:  uuidHIDInformation,
		Flags: []string{"read"},
		Value: hid.HIDInformation,
	})

	hidSvc.AddCharacteristic(CharacteristicConfig{
		UUID:  uuidReportMap,
		Flags: []string{"read", "encrypt-read"},
		Value: hid.ReportMap,
	})

	hidSvc.AddCharacteristic(CharacteristicConfig{
		UUID:    uuidHIDControlPoint,
		Flags:   []string{"write-without-response"},
		OnWrite: kbd.writeControlPoint,
	})

	hidSvc.AddCharacteristic(CharacteristicConfig{
		UUID:    uuidProtocolMode,
		Flags:   []string{"read", "write-without-response"},
		Value:   []byte{protocolModeReport},
		OnWrite: kbd.writeProtocolMode,
	})

	release := hid.ReleaseReport
	kbd.input = hidSvc.AddCharacteristic(CharacteristicConfig{
		UUID:     uuidReport,
		Flags:    []string{"read", "notify", "encrypt-read", "encrypt-notify"},
		Value:    release[:],
		OnNotify: edge,
	})
	kbd.input.AddDescriptor(uuidReportReference, []byte{inputReportID, 0x01})

	output := hidSvc.AddCharacteristic(CharacteristicConfig{
		UUID: uuidReport,
		Flags: []string{"read", "write", "write-without-response",
			"encrypt-read", "encrypt-write"},
		Value:   []byte{0x00},
		OnWrite: writeLEDReport,
	})
	output.AddDescriptor(uuidReportReference, []byte{outputReportID, 0x02})

	kbd.bootInput = hidSvc.AddCharacteristic(CharacteristicConfig{
		UUID:     uuidBootKbdInput,
		Flags:    []string{"read", "notify", "encrypt-read", "encrypt-notify"},
		Value:    release[:],
		OnNotify: edge,
	})

	hidSvc.AddCharacteristic(CharacteristicConfig{
		UUID: uuidBootKbdOutput,
		Flags: []string{"read", "write", "write-without-response",
			"encrypt-read", "encrypt-write"},
		Value:   []byte{0x00},
		OnWrite: writeLEDReport,
	})

	dis := kbd.app.AddService(uuidDeviceInfoService)
	dis.AddCharacteristic(CharacteristicConfig{
		UUID:  uuidPnPID,
		Flags: []string{"read"},
		Value: pnpID(info),
	})
	dis.AddCharacteristic(CharacteristicConfig{
		UUID:  uuidManufacturer,
		Flags: []string{"read"},
		Value: []byte(info.Manufacturer),
	})
	dis.AddCharacteristic(CharacteristicConfig{
		UUID:  uuidModelNumber,
		Flags: []string{"read"},
		Value: []byte(info.Model),
	})

	battery := kbd.app.AddService(uuidBatteryService)
	battery.AddCharacteristic(CharacteristicConfig{
		UUID:  uuidBatteryLevel,
		Flags: []string{"read", "notify", "encrypt-read", "encrypt-notify"},
		Value: []byte{100},
	})

	return kbd
}

// App returns the application for export and registration.
func (k *Keyboard) App() *Application {
	return k.app
}

// SetSubscriptionHook installs the callback invoked with +1/-1 on every
// input-report subscription edge (report or boot), from a D-Bus handler
// goroutine; it must not block. Edges firing before a hook is installed
// are dropped; install it before registering the application.
func (k *Keyboard) SetSubscriptionHook(fn func(delta int)) {
	k.mu.Lock()
	k.onSubscribe = fn
	k.mu.Unlock()
}

// SendReport delivers one input report to the subscribed host. The
// protocol mode selects which input characteristic is tried first; the
// other serves as fallback, matching hosts that subscribe to only one.
// Returns false when no input characteristic has a subscriber.
func (k *Keyboard) SendReport(rep hid.Report) bool {
	k.mu.Lock()
	boot := k.protoMode == protocolModeBoot
	k.mu.Unlock()

	if boot {
		return k.bootInput.Notify(rep[:]) || k.input.Notify(rep[:])
	}
	return k.input.Notify(rep[:]) || k.bootInput.Notify(rep[:])
}

// Subscribed reports whether any input characteristic has a subscriber.
func (k *Keyboard) Subscribed() bool {
	return k.input.Notifying() || k.bootInput.Notifying()
}

// ResetSubscriptions force-clears notify state on both input
// characteristics. Called on disconnect, where BlueZ does not always
// deliver StopNotify for a vanished peer.
func (k *Keyboard) ResetSubscriptions() {
	k.input.ResetNotify()
	k.bootInput.ResetNotify()
}

func (k *Keyboard) writeProtocolMode(value []byte) *dbus.Error {
	if len(value) != 1 {
		return errInvalidArgs
	}
	mode := value[0]
	if mode != protocolModeBoot && mode != protocolModeReport {
		return errInvalidArgs
	}
	k.mu.Lock()
	k.protoMode = mode
	k.mu.Unlock()
	slog.Info("[gatt] protocol mode set", "mode", mode)
	return nil
}

func (k *Keyboard) writeControlPoint(value []byte) *dbus.Error {
	if len(value) != 1 {
		return errInvalidArgs
	}
	// 0x00 = suspend, 0x01 = exit suspend.
	suspended := value[0] == 0x00
	k.mu.Lock()
	k.suspended = suspended
	k.mu.Unlock()
	if suspended {
		slog.Info("[gatt] host requested suspend")
	} else {
		slog.Info("[gatt] host requested resume")
	}
	return nil
}

func writeLEDReport(value []byte) *dbus.Error {
	if len(value) < 1 {
		return errInvalidArgs
	}
	slog.Debug("[gatt] LED output report", "mask", value[0]&0x1F)
	return nil
}

// pnpID encodes the PnP ID characteristic: USB vendor-ID source plus
// little-endian VID/PID/version.
func pnpID(info DeviceInfo) []byte {
	return []byte{
		0x02,
		byte(info.VendorID), byte(info.VendorID >> 8),
		byte(info.ProductID), byte(info.ProductID >> 8),
		byte(info.Version), byte(info.Version >> 8),
	}
}
