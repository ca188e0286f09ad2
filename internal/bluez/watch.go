package bluez

import "github.com/godbus/dbus/v5"

// ConnectedChange extracts a Device1 Connected transition from a
// PropertiesChanged signal. ok is false for any other signal.
//
// Body layout: [interface_name string, changed map[string]Variant,
// invalidated []string].
func ConnectedChange(sig *dbus.Signal) (mac string, connected bool, ok bool) {
	if sig == nil || sig.Name != PropsSignal || len(sig.Body) < 2 {
		return "", false, false
	}
	iface, isStr := sig.Body[0].(string)
	if !isStr || iface != DeviceIface {
		return "", false, false
	}
	changed, isMap := sig.Body[1].(map[string]dbus.Variant)
	if !isMap {
		return "", false, false
	}
	connVar, present := changed["Connected"]
	if !present {
		return "", false, false
	}
	connected, isBool := connVar.Value().(bool)
	if !isBool {
		return "", false, false
	}
	mac = MACFromPath(sig.Path)
	if mac == "" {
		return "", false, false
	}
	return mac, connected, true
}
