package bluez

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/godbus/dbus/v5"
)

const (
	agentPath     = dbus.ObjectPath("/ipr/agent")
	agentIface    = "org.bluez.Agent1"
	agentMgrIface = "org.bluez.AgentManager1"

	// No display, no input: this is what makes BlueZ route every pairing
	// through automatic confirmation instead of a passkey exchange.
	agentCapability = "NoInputNoOutput"
)

// errRejected is returned for the passkey/PIN branches a NoInputNoOutput
// peripheral must never be asked for.
var errRejected = dbus.NewError("org.bluez.Error.Rejected", nil)

// Agent implements org.bluez.Agent1 with a Just Works policy: every
// confirmation and authorization request is accepted and the peer is
// marked trusted, all synchronously so BlueZ never times the reply out.
type Agent struct {
	bus   *Bus
	trust func(device dbus.ObjectPath) error

	mu      sync.Mutex
	pending map[dbus.ObjectPath]string // peer -> request kind, for diagnostics
}

// NewAgent returns an unregistered agent bound to bus.
func NewAgent(bus *Bus) *Agent {
	return &Agent{
		bus:     bus,
		trust:   bus.TrustDevice,
		pending: make(map[dbus.ObjectPath]string),
	}
}

// Register exports the agent and installs it as the default system
// pairing agent. A stale registration from a previous run is cleared
// first.
func (a *Agent) Register() error {
	if err := a.bus.conn.Export(a, agentPath, agentIface); err != nil {
		return fmt.Errorf("bluez: export agent: %w", err)
	}

	mgr := a.bus.conn.Object(Service, "/org/bluez")
	// Best effort; fails when no previous agent exists.
	mgr.Call(agentMgrIface+".UnregisterAgent", 0, agentPath)

	if err := mgr.Call(agentMgrIface+".RegisterAgent", 0, agentPath, agentCapability).Err; err != nil {
		return fmt.Errorf("bluez: register agent: %w", err)
	}
	if err := mgr.Call(agentMgrIface+".RequestDefaultAgent", 0, agentPath).Err; err != nil {
		return fmt.Errorf("bluez: request default agent: %w", err)
	}
	slog.Info("[agent] registered", "capability", agentCapability)
	return nil
}

// Unregister removes the agent from BlueZ.
func (a *Agent) Unregister() {
	mgr := a.bus.conn.Object(Service, "/org/bluez")
	mgr.Call(agentMgrIface+".UnregisterAgent", 0, agentPath)
}

// ForgetPeer drops any pending-request bookkeeping for a peer, called
// when its link goes away.
func (a *Agent) ForgetPeer(device dbus.ObjectPath) {
	a.mu.Lock()
	delete(a.pending, device)
	a.mu.Unlock()
}

func (a *Agent) track(device dbus.ObjectPath, kind string) {
	a.mu.Lock()
	a.pending[device] = kind
	a.mu.Unlock()
}

func (a *Agent) resolve(device dbus.ObjectPath) {
	a.mu.Lock()
	delete(a.pending, device)
	a.mu.Unlock()
}

// accept trusts the peer; called from every accepting callback so a
// bonded host reconnects without being asked to re-pair.
func (a *Agent) accept(device dbus.ObjectPath, kind string) {
	a.track(device, kind)
	defer a.resolve(device)
	if err := a.trust(device); err != nil {
		// Pairing still proceeds; the host will just re-pair next time.
		slog.Warn("[agent] trust failed", "device", device, "err", err)
	}
}

// --- org.bluez.Agent1 ---

// RequestConfirmation is the Just Works numeric-comparison branch.
// There is nothing to compare against, so accept and trust.
func (a *Agent) RequestConfirmation(device dbus.ObjectPath, passkey uint32) *dbus.Error {
	slog.Info("[agent] confirmation request", "device", device, "passkey", fmt.Sprintf("%06d", passkey))
	a.accept(device, "confirmation")
	return nil
}

// RequestAuthorization authorizes an unauthenticated pairing attempt.
func (a *Agent) RequestAuthorization(device dbus.ObjectPath) *dbus.Error {
	slog.Info("[agent] authorization request", "device", device)
	a.accept(device, "authorization")
	return nil
}

// AuthorizeService authorizes the host's use of a service (the HID
// profile in practice). Refusing here makes hosts report a successful
// pair with no usable connection, so accept.
func (a *Agent) AuthorizeService(device dbus.ObjectPath, uuid string) *dbus.Error {
	slog.Info("[agent] service authorization", "device", device, "uuid", uuid)
	a.accept(device, "authorize-service")
	return nil
}

// RequestPinCode and RequestPasskey belong to pairing modes a
// NoInputNoOutput device never negotiates; reject them outright.
func (a *Agent) RequestPinCode(device dbus.ObjectPath) (string, *dbus.Error) {
	slog.Warn("[agent] unexpected pin code request", "device", device)
	return "", errRejected
}

func (a *Agent) RequestPasskey(device dbus.ObjectPath) (uint32, *dbus.Error) {
	slog.Warn("[agent] unexpected passkey request", "device", device)
	return 0, errRejected
}

func (a *Agent) DisplayPinCode(device dbus.ObjectPath, pincode string) *dbus.Error {
	return nil
}

func (a *Agent) DisplayPasskey(device dbus.ObjectPath, passkey uint32, entered uint16) *dbus.Error {
	return nil
}

// Cancel is the host abandoning an in-flight request; clear the
// bookkeeping and return to advertising (BlueZ handles the rest).
func (a *Agent) Cancel() *dbus.Error {
	slog.Info("[agent] request cancelled by host")
	a.mu.Lock()
	clear(a.pending)
	a.mu.Unlock()
	return nil
}

// Release is BlueZ telling us the agent was unregistered.
func (a *Agent) Release() *dbus.Error {
	slog.Info("[agent] released")
	return nil
}
