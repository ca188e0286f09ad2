package gatt

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/iprlabs/blekbd/internal/bluez"
)

const (
	leAdvManagerIface = "org.bluez.LEAdvertisingManager1"

	// Adapter-side retry budget for transient stack errors. Exceeding it
	// means the stack is genuinely broken and startup must fail loudly.
	maxRegisterAttempts = 60
)

// Registrar owns registration of the application and advertisement
// against one adapter. It is the only component that issues advertising
// commands, so re-arm and startup cannot race each other.
type Registrar struct {
	conn    *dbus.Conn
	adapter dbus.ObjectPath
	retry   time.Duration
}

// NewRegistrar returns a registrar for the adapter at path.
func NewRegistrar(conn *dbus.Conn, adapter dbus.ObjectPath, retry time.Duration) *Registrar {
	return &Registrar{conn: conn, adapter: adapter, retry: retry}
}

// retryable reports whether a registration error is a transient stack
// condition worth re-issuing the call for.
func retryable(err error) bool {
	var derr dbus.Error
	name := ""
	if errors.As(err, &derr) {
		name = derr.Name
	}
	msg := err.Error()
	for _, token := range []string{"NotReady", "InProgress", "Failed", "NoReply", "TimedOut"} {
		if strings.Contains(name, token) || strings.Contains(msg, token) {
			return true
		}
	}
	return false
}

// callWithRetry issues a manager call until it succeeds, the error is
// non-retryable, or the attempt budget runs out.
func (r *Registrar) callWithRetry(what, method string, args ...interface{}) error {
	obj := r.conn.Object(bluez.Service, r.adapter)
	for attempt := 1; ; attempt++ {
		err := obj.Call(method, 0, args...).Err
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return fmt.Errorf("gatt: %s: %w", what, err)
		}
		if attempt >= maxRegisterAttempts {
			return fmt.Errorf("gatt: %s exceeded retry budget (%d): %w", what, maxRegisterAttempts, err)
		}
		slog.Info("[gatt] retrying after transient error",
			"call", what, "attempt", attempt, "err", err)
		time.Sleep(r.retry)
	}
}

// Register exports and registers the GATT application, then the
// advertisement. Transient errors (adapter not powered yet, radio busy)
// are retried with backoff; anything else is fatal, the peripheral
// must not run half-registered.
func (r *Registrar) Register(app *Application, adv *Advertisement) error {
	if err := app.Export(); err != nil {
		return err
	}
	if err := adv.Export(); err != nil {
		return err
	}

	err := r.callWithRetry("RegisterApplication",
		gattManagerIface+".RegisterApplication", app.Path(), map[string]dbus.Variant{})
	if err != nil {
		return err
	}
	slog.Info("[gatt] application registered", "adapter", r.adapter)

	if err := r.registerAdvertisement(adv); err != nil {
		return err
	}
	slog.Info("[gatt] advertising", "adapter", r.adapter)
	return nil
}

func (r *Registrar) registerAdvertisement(adv *Advertisement) error {
	err := r.callWithRetry("RegisterAdvertisement",
		leAdvManagerIface+".RegisterAdvertisement", adv.Path(), map[string]dbus.Variant{})
	if err != nil && strings.Contains(err.Error(), "AlreadyExists") {
		return nil
	}
	return err
}

// Rearm restarts advertising after a disconnect. A connected peripheral
// does not advertise, and BlueZ does not always resume it on its own;
// losing the link without re-arming would leave the device permanently
// invisible.
func (r *Registrar) Rearm(adv *Advertisement) {
	obj := r.conn.Object(bluez.Service, r.adapter)
	obj.Call(leAdvManagerIface+".UnregisterAdvertisement", 0, adv.Path())
	if err := r.registerAdvertisement(adv); err != nil {
		slog.Error("[gatt] advertising re-arm failed", "err", err)
		return
	}
	slog.Info("[gatt] advertising re-armed")
}

// Unregister tears down the advertisement and application on shutdown.
func (r *Registrar) Unregister(app *Application, adv *Advertisement) {
	obj := r.conn.Object(bluez.Service, r.adapter)
	obj.Call(leAdvManagerIface+".UnregisterAdvertisement", 0, adv.Path())
	obj.Call(gattManagerIface+".UnregisterApplication", 0, app.Path())
}
