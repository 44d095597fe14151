//go:build linux

package ble

import (
	"errors"
	"fmt"

	dbus "github.com/godbus/dbus/v5"

	"github.com/cjeanneret/RotaGo/internal/sdk"
)

const (
	bluezService    = "org.bluez"
	adapterIface    = "org.bluez.Adapter1"
	objManagerIface = "org.freedesktop.DBus.ObjectManager"
	accessDenied    = "org.freedesktop.DBus.Error.AccessDenied"
	notPermitted    = "org.bluez.Error.NotPermitted"
)

type managedObjects = map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// probeAdapter asks BlueZ whether a usable adapter exists before a scan.
func probeAdapter() error {
	bus, err := dbus.SystemBus()
	if err != nil {
		return fmt.Errorf("connect system bus: %w", sdk.ErrRotatorNotConnected)
	}
	obj := bus.Object(bluezService, dbus.ObjectPath("/"))
	var objs managedObjects
	if call := obj.Call(objManagerIface+".GetManagedObjects", 0); call.Err != nil {
		return classifyBusError(call.Err)
	} else if err := call.Store(&objs); err != nil {
		return fmt.Errorf("decode GetManagedObjects: %w", err)
	}
	return adapterState(objs)
}

// adapterState maps BlueZ objects onto SDK errors: no adapter means no
// hardware, an unpowered one means the radio is off.
func adapterState(objs managedObjects) error {
	found := false
	for _, ifaces := range objs {
		props, ok := ifaces[adapterIface]
		if !ok {
			continue
		}
		found = true
		if v, ok := props["Powered"]; ok {
			if powered, _ := v.Value().(bool); powered {
				return nil
			}
		}
	}
	if !found {
		return sdk.ErrRotatorNotConnected
	}
	return sdk.ErrBluetoothOff
}

func classifyBusError(err error) error {
	var name string
	var de dbus.Error
	var dep *dbus.Error
	switch {
	case errors.As(err, &de):
		name = de.Name
	case errors.As(err, &dep):
		name = dep.Name
	}
	switch name {
	case accessDenied, notPermitted:
		return fmt.Errorf("%w: %v", sdk.ErrBluetoothPermissionNotAllowed, err)
	case "":
		return fmt.Errorf("GetManagedObjects: %w", err)
	default:
		return fmt.Errorf("%w: %v", sdk.ErrRotatorNotConnected, err)
	}
}
