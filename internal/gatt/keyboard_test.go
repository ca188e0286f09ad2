package gatt

import (
	"testing"

	"github.com/godbus/dbus/v5"

	"github.com/iprlabs/blekbd/internal/hid"
)

func testInfo() DeviceInfo {
	return DeviceInfo{
		Manufacturer: "IPR",
		Model:        "IPR Keyboard",
		VendorID:     0x1209,
		ProductID:    0x0001,
		Version:      0x0100,
	}
}

func TestManagedObjectsTree(t *testing.T) {
	kbd := NewKeyboard(nil, testInfo())

	objects, derr := kbd.App().GetManagedObjects()
	if derr != nil {
		t.Fatalf("GetManagedObjects() error = %v", derr)
	}

	services := 0
	chrcs := 0
	descs := 0
	for _, ifaces := range objects {
		if _, ok := ifaces[serviceIface]; ok {
			services++
		}
		if _, ok := ifaces[chrcIface]; ok {
			chrcs++
		}
		if _, ok := ifaces[descIface]; ok {
			descs++
		}
	}
	if services != 3 {
		t.Errorf("services = %d, want 3 (HID, device info, battery)", services)
	}
	// HID: info, report map, control point, protocol mode, input report,
	// output report, boot input, boot output. DIS: 3. Battery: 1.
	if chrcs != 12 {
		t.Errorf("characteristics = %d, want 12", chrcs)
	}
	// Report reference descriptors on input and output reports.
	if descs != 2 {
		t.Errorf("descriptors = %d, want 2", descs)
	}
}

func TestInputReportReference(t *testing.T) {
	kbd := NewKeyboard(nil, testInfo())

	if len(kbd.input.descs) != 1 {
		t.Fatalf("input report has %d descriptors, want 1", len(kbd.input.descs))
	}
	desc := kbd.input.descs[0]
	if desc.uuid != uuidReportReference {
		t.Errorf("descriptor uuid = %q, want %q", desc.uuid, uuidReportReference)
	}
	value, derr := desc.ReadValue(nil)
	if derr != nil {
		t.Fatalf("ReadValue() error = %v", derr)
	}
	if len(value) != 2 || value[0] != inputReportID || value[1] != 0x01 {
		t.Errorf("report reference = %v, want [%d 1]", value, inputReportID)
	}
}

func TestSendReportWithoutSubscriber(t *testing.T) {
	kbd := NewKeyboard(nil, testInfo())

	if kbd.SendReport(hid.NewReport(0, 0x04)) {
		t.Error("SendReport() = true with no subscriber")
	}
	if kbd.Subscribed() {
		t.Error("Subscribed() = true with no subscriber")
	}
}

func TestSubscriptionEdges(t *testing.T) {
	var deltas []int
	kbd := NewKeyboard(nil, testInfo())
	kbd.SetSubscriptionHook(func(d int) { deltas = append(deltas, d) })

	if derr := kbd.input.StartNotify(); derr != nil {
		t.Fatalf("StartNotify() error = %v", derr)
	}
	if !kbd.Subscribed() {
		t.Error("Subscribed() = false after StartNotify")
	}
	// A duplicate StartNotify must not produce a second edge.
	if derr := kbd.input.StartNotify(); derr != nil {
		t.Fatalf("second StartNotify() error = %v", derr)
	}
	if derr := kbd.input.StopNotify(); derr != nil {
		t.Fatalf("StopNotify() error = %v", derr)
	}
	if kbd.Subscribed() {
		t.Error("Subscribed() = true after StopNotify")
	}

	want := []int{1, -1}
	if len(deltas) != len(want) {
		t.Fatalf("deltas = %v, want %v", deltas, want)
	}
	for i := range want {
		if deltas[i] != want[i] {
			t.Errorf("deltas[%d] = %d, want %d", i, deltas[i], want[i])
		}
	}
}

func TestSubscriptionEdgesBeforeHookInstalled(t *testing.T) {
	kbd := NewKeyboard(nil, testInfo())

	// No hook yet: edges must be dropped, not crash.
	if derr := kbd.input.StartNotify(); derr != nil {
		t.Fatalf("StartNotify() error = %v", derr)
	}
	if !kbd.Subscribed() {
		t.Error("Subscribed() = false after StartNotify")
	}

	var deltas []int
	kbd.SetSubscriptionHook(func(d int) { deltas = append(deltas, d) })
	if derr := kbd.input.StopNotify(); derr != nil {
		t.Fatalf("StopNotify() error = %v", derr)
	}
	if len(deltas) != 1 || deltas[0] != -1 {
		t.Errorf("deltas after hook install = %v, want [-1]", deltas)
	}
}

func TestResetSubscriptionsFiresEdge(t *testing.T) {
	var deltas []int
	kbd := NewKeyboard(nil, testInfo())
	kbd.SetSubscriptionHook(func(d int) { deltas = append(deltas, d) })

	kbd.input.StartNotify()
	kbd.bootInput.StartNotify()
	kbd.ResetSubscriptions()

	if kbd.Subscribed() {
		t.Error("Subscribed() = true after ResetSubscriptions")
	}
	sum := 0
	for _, d := range deltas {
		sum += d
	}
	if sum != 0 {
		t.Errorf("subscription edges do not balance: %v", deltas)
	}
	// Resetting an already-clear state must not fire extra edges.
	n := len(deltas)
	kbd.ResetSubscriptions()
	if len(deltas) != n {
		t.Errorf("ResetSubscriptions on idle state fired %d extra edges", len(deltas)-n)
	}
}

func TestProtocolModeValidation(t *testing.T) {
	kbd := NewKeyboard(nil, testInfo())

	if derr := kbd.writeProtocolMode([]byte{0x02}); derr == nil {
		t.Error("writeProtocolMode(0x02) accepted, want invalid-args")
	}
	if derr := kbd.writeProtocolMode([]byte{0x00, 0x01}); derr == nil {
		t.Error("writeProtocolMode with 2 bytes accepted, want invalid-args")
	}
	if derr := kbd.writeProtocolMode([]byte{protocolModeBoot}); derr != nil {
		t.Errorf("writeProtocolMode(boot) error = %v", derr)
	}
	kbd.mu.Lock()
	mode := kbd.protoMode
	kbd.mu.Unlock()
	if mode != protocolModeBoot {
		t.Errorf("protocol mode = %d, want boot", mode)
	}
}

func TestControlPointSuspend(t *testing.T) {
	kbd := NewKeyboard(nil, testInfo())

	if derr := kbd.writeControlPoint([]byte{0x00}); derr != nil {
		t.Fatalf("writeControlPoint(suspend) error = %v", derr)
	}
	kbd.mu.Lock()
	suspended := kbd.suspended
	kbd.mu.Unlock()
	if !suspended {
		t.Error("suspend write did not set suspended state")
	}
	if derr := kbd.writeControlPoint([]byte{}); derr == nil {
		t.Error("empty control point write accepted, want invalid-args")
	}
}

func TestReadValueRespectsFlags(t *testing.T) {
	kbd := NewKeyboard(nil, testInfo())

	// Characteristic 2 of the HID service is the write-only control point.
	cp := kbd.app.services[0].chrcs[2]
	if _, derr := cp.ReadValue(nil); derr == nil {
		t.Error("ReadValue on write-only characteristic accepted, want not-permitted")
	}

	// The report map is readable and must return the descriptor bytes.
	rm := kbd.app.services[0].chrcs[1]
	value, derr := rm.ReadValue(nil)
	if derr != nil {
		t.Fatalf("ReadValue(report map) error = %v", derr)
	}
	if len(value) != len(hid.ReportMap) {
		t.Errorf("report map length = %d, want %d", len(value), len(hid.ReportMap))
	}
}

func TestWriteValueRespectsFlags(t *testing.T) {
	kbd := NewKeyboard(nil, testInfo())

	rm := kbd.app.services[0].chrcs[1] // report map, read-only
	if derr := rm.WriteValue([]byte{0x00}, nil); derr == nil {
		t.Error("WriteValue on read-only characteristic accepted, want not-permitted")
	}
}

func TestPnPID(t *testing.T) {
	got := pnpID(testInfo())
	want := []byte{0x02, 0x09, 0x12, 0x01, 0x00, 0x00, 0x01}
	if len(got) != len(want) {
		t.Fatalf("pnpID length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("pnpID[%d] = 0x%02x, want 0x%02x", i, got[i], want[i])
		}
	}
}

func TestAdvertisementProperties(t *testing.T) {
	adv := NewAdvertisement(nil, "IPR Keyboard")

	props, derr := adv.GetAll(advIface)
	if derr != nil {
		t.Fatalf("GetAll() error = %v", derr)
	}
	if got := props["Type"].Value(); got != "peripheral" {
		t.Errorf("Type = %v, want peripheral", got)
	}
	if got := props["LocalName"].Value(); got != "IPR Keyboard" {
		t.Errorf("LocalName = %v, want IPR Keyboard", got)
	}
	if got := props["Appearance"].Value(); got != appearanceKeyboard {
		t.Errorf("Appearance = %v, want 0x%04x", got, appearanceKeyboard)
	}
	uuids, ok := props["ServiceUUIDs"].Value().([]string)
	if !ok || len(uuids) != 1 || uuids[0] != UUIDHIDService {
		t.Errorf("ServiceUUIDs = %v, want [%s]", props["ServiceUUIDs"].Value(), UUIDHIDService)
	}

	if _, derr := adv.GetAll("org.bluez.Wrong"); derr == nil {
		t.Error("GetAll with wrong interface accepted, want invalid-args")
	}
}

func TestRetryableErrors(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{dbus.Error{Name: "org.bluez.Error.NotReady"}, true},
		{dbus.Error{Name: "org.bluez.Error.InProgress"}, true},
		{dbus.Error{Name: "org.bluez.Error.Failed"}, true},
		{dbus.Error{Name: "org.freedesktop.DBus.Error.NoReply"}, true},
		{dbus.Error{Name: "org.freedesktop.DBus.Error.TimedOut"}, true},
		{dbus.Error{Name: "org.bluez.Error.NotSupported"}, false},
		{dbus.Error{Name: "org.bluez.Error.AlreadyExists"}, false},
	}
	for _, tc := range cases {
		if got := retryable(tc.err); got != tc.want {
			t.Errorf("retryable(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
