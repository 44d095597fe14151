// Package sdk is the boundary to the vendor rotator SDK. The radio, pairing and
// GATT details live behind the SDK interface; this package only fixes the call
// and event surface the rest of the program relies on.
package sdk

import "errors"

// CurrentSpeed passed as a speed keeps whatever speed the rotator is set to,
// e.g. after SetMaxSpeed.
const CurrentSpeed = 0

// SDK is the outbound surface of the vendor SDK. Calls are fire-and-forget:
// outcomes arrive later through the registered delegates. Implementations must
// be safe for use from multiple goroutines.
type SDK interface {
	// Delegates returns the registry events are fanned out through.
	Delegates() *Registry

	BeginScan() error
	StopScan()
	Connect(id string)
	Disconnect()
	RequestBatteryLevel()
	FirmwareVersion() (string, error)

	TurnLeft(angle, speed int)
	TurnRight(angle, speed int)
	TurnLeftContinuous(speed int)
	TurnRightContinuous(speed int)
	Stop()
	SetMaxSpeed()
}

// Delegate receives SDK notifications. They arrive on an unspecified goroutine.
type Delegate interface {
	DeviceDiscovered(id, name string)
	Connected(id string)
	Disconnected(id string)
	ConnectFailed(id string)
	ConnectionEstablished(id string)
	BatteryLevel(level int)
	BluetoothPermissionDenied()
	RemoteEvent(ev Event)
}

// NopDelegate implements Delegate with no-ops; embed it to handle a subset of events.
type NopDelegate struct{}

func (NopDelegate) DeviceDiscovered(string, string) {}
func (NopDelegate) Connected(string)                {}
func (NopDelegate) Disconnected(string)             {}
func (NopDelegate) ConnectFailed(string)            {}
func (NopDelegate) ConnectionEstablished(string)    {}
func (NopDelegate) BatteryLevel(int)                {}
func (NopDelegate) BluetoothPermissionDenied()      {}
func (NopDelegate) RemoteEvent(Event)               {}

// Errors returned by BeginScan.
var (
	ErrLicenseNotProvided            = errors.New("license not provided")
	ErrInvalidLicenseKey             = errors.New("invalid license key")
	ErrExpiredLicenseKey             = errors.New("license key expired")
	ErrCannotReadLicenseKeyFile      = errors.New("cannot read license key file")
	ErrBluetoothOff                  = errors.New("bluetooth is off")
	ErrBluetoothPermissionNotAllowed = errors.New("bluetooth permission not allowed")
	ErrTrackingModeNotSupported      = errors.New("tracking mode not supported")
	ErrFeedbackNotSupported          = errors.New("feedback not supported")
	ErrRotatorNotConnected           = errors.New("rotator not connected")
)
