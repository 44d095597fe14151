package rotator

import (
	"errors"
	"fmt"

	"github.com/cjeanneret/RotaGo/internal/sdk"
)

// ScanErrorKind classifies why a scan session ended without a result set.
type ScanErrorKind int

const (
	ScanUnknown ScanErrorKind = iota
	ScanPermissionDenied
	ScanLicenseMissing
	ScanLicenseInvalid
	ScanLicenseExpired
	ScanRadioOff
	ScanCannotReadLicense
	ScanBluetoothNotAllowed
	ScanTrackingUnsupported
	ScanFeedbackUnsupported
	ScanDeviceNotConnected
	ScanCancelled
)

var scanKindNames = map[ScanErrorKind]string{
	ScanUnknown:             "unknown",
	ScanPermissionDenied:    "permission_denied",
	ScanLicenseMissing:      "license_missing",
	ScanLicenseInvalid:      "license_invalid",
	ScanLicenseExpired:      "license_expired",
	ScanRadioOff:            "radio_off",
	ScanCannotReadLicense:   "cannot_read_license",
	ScanBluetoothNotAllowed: "bluetooth_not_allowed",
	ScanTrackingUnsupported: "tracking_unsupported",
	ScanFeedbackUnsupported: "feedback_unsupported",
	ScanDeviceNotConnected:  "device_not_connected",
	ScanCancelled:           "cancelled",
}

func (k ScanErrorKind) String() string {
	if s, ok := scanKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("scan_error(%d)", int(k))
}

// ScanError ends a scan session. Err holds the SDK error it was classified
// from, if any.
type ScanError struct {
	Kind ScanErrorKind
	Err  error
}

func (e *ScanError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("scan failed (%s): %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("scan failed (%s)", e.Kind)
}

func (e *ScanError) Unwrap() error { return e.Err }

// Is matches another *ScanError of the same kind.
func (e *ScanError) Is(target error) bool {
	t, ok := target.(*ScanError)
	return ok && t.Kind == e.Kind
}

var (
	ErrScanCancelled        = &ScanError{Kind: ScanCancelled}
	ErrScanPermissionDenied = &ScanError{Kind: ScanPermissionDenied}
)

var scanErrorKinds = []struct {
	err  error
	kind ScanErrorKind
}{
	{sdk.ErrLicenseNotProvided, ScanLicenseMissing},
	{sdk.ErrInvalidLicenseKey, ScanLicenseInvalid},
	{sdk.ErrExpiredLicenseKey, ScanLicenseExpired},
	{sdk.ErrBluetoothOff, ScanRadioOff},
	{sdk.ErrCannotReadLicenseKeyFile, ScanCannotReadLicense},
	{sdk.ErrBluetoothPermissionNotAllowed, ScanBluetoothNotAllowed},
	{sdk.ErrTrackingModeNotSupported, ScanTrackingUnsupported},
	{sdk.ErrFeedbackNotSupported, ScanFeedbackUnsupported},
	{sdk.ErrRotatorNotConnected, ScanDeviceNotConnected},
}

// classifyScanError maps an error from sdk.BeginScan onto a ScanError.
// Unrecognized errors become ScanUnknown wrapping the cause.
func classifyScanError(err error) *ScanError {
	var se *ScanError
	if errors.As(err, &se) {
		return se
	}
	for _, m := range scanErrorKinds {
		if errors.Is(err, m.err) {
			return &ScanError{Kind: m.kind, Err: err}
		}
	}
	return &ScanError{Kind: ScanUnknown, Err: err}
}

// ConnectErrorKind classifies why a connection attempt did not establish.
type ConnectErrorKind int

const (
	ConnectFailed ConnectErrorKind = iota + 1
	ConnectDisconnected
	ConnectCancelled
)

func (k ConnectErrorKind) String() string {
	switch k {
	case ConnectFailed:
		return "failed"
	case ConnectDisconnected:
		return "disconnected_before_established"
	case ConnectCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("connect_error(%d)", int(k))
	}
}

// ConnectError is the failure outcome of a DeviceLink.
type ConnectError struct {
	Kind ConnectErrorKind
	ID   string
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %s", e.ID, e.Kind)
}

// Is matches another *ConnectError of the same kind, whatever the device.
func (e *ConnectError) Is(target error) bool {
	t, ok := target.(*ConnectError)
	return ok && t.Kind == e.Kind
}

var (
	ErrConnectFailed       = &ConnectError{Kind: ConnectFailed}
	ErrConnectDisconnected = &ConnectError{Kind: ConnectDisconnected}
	ErrConnectCancelled    = &ConnectError{Kind: ConnectCancelled}
)

var (
	ErrNoActiveDevice = errors.New("no active rotator")
	ErrUnknownRotator = errors.New("rotator not in the last discovery")
	ErrClosed         = errors.New("coordinator closed")
)
