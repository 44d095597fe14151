package rotator

import "fmt"

// StatusKind tags a status line so surfaces can style it without parsing text.
type StatusKind string

const (
	StatusIdle             StatusKind = "idle"
	StatusScanning         StatusKind = "scanning"
	StatusNoRotators       StatusKind = "no_rotators"
	StatusFound            StatusKind = "found"
	StatusMultipleRotators StatusKind = "multiple_rotators"
	StatusConnecting       StatusKind = "connecting"
	StatusConnected        StatusKind = "connected"
	StatusConnectError     StatusKind = "connect_error"
	StatusDisconnected     StatusKind = "disconnected"
	StatusScanFailed       StatusKind = "scan_failed"
	StatusPermissionDenied StatusKind = "permission_denied"
)

// Status is the human-readable state of the coordinator.
type Status struct {
	Kind StatusKind `json:"kind"`
	Text string     `json:"text"`
}

func (s Status) String() string { return s.Text }

// AlertTitle is the title of every scan failure alert.
const AlertTitle = "Failed"

type scanMessage struct {
	kind   StatusKind
	status string
	alert  string // empty: no alert
}

// scanMessages has one entry per ScanErrorKind.
var scanMessages = map[ScanErrorKind]scanMessage{
	ScanPermissionDenied:    {StatusPermissionDenied, "Bluetooth permission denied!", "Bluetooth permission was refused"},
	ScanLicenseMissing:      {StatusScanFailed, "License not provided", "License not provided"},
	ScanLicenseInvalid:      {StatusScanFailed, "Invalid license key", "Invalid license key"},
	ScanLicenseExpired:      {StatusScanFailed, "License is expired", "License is expired"},
	ScanRadioOff:            {StatusScanFailed, "Bluetooth is off", "Bluetooth is off, please turn it on"},
	ScanCannotReadLicense:   {StatusScanFailed, "Can't read license key", "Can't read license key"},
	ScanBluetoothNotAllowed: {StatusScanFailed, "Bluetooth not allowed", "Bluetooth permission is not allowed"},
	ScanTrackingUnsupported: {StatusScanFailed, "Tracking mode not supported", "Tracking mode is not supported"},
	ScanFeedbackUnsupported: {StatusScanFailed, "Feedback not supported", "Feedback not supported"},
	ScanDeviceNotConnected:  {StatusScanFailed, "Rotator not connected", "Rotator not connected"},
	ScanCancelled:           {StatusIdle, "Scan cancelled", ""},
	ScanUnknown:             {StatusScanFailed, "Scan failed", "Scan failed"},
}

// connectMessages has one entry per ConnectErrorKind.
var connectMessages = map[ConnectErrorKind]string{
	ConnectFailed:       "Error connecting to %s",
	ConnectDisconnected: "%s disconnected while connecting",
	ConnectCancelled:    "Connection to %s cancelled",
}

// ScanFailureStatus returns the status line and alert message for a scan
// error. alert is empty when the failure should not raise an alert.
func ScanFailureStatus(err *ScanError) (st Status, alert string) {
	m, ok := scanMessages[err.Kind]
	if !ok {
		m = scanMessages[ScanUnknown]
	}
	alert = m.alert
	if err.Kind == ScanUnknown && err.Err != nil {
		alert = fmt.Sprintf("%s: %v", m.alert, err.Err)
	}
	return Status{Kind: m.kind, Text: m.status}, alert
}

// ConnectFailureStatus returns the status line for a failed connection to name.
func ConnectFailureStatus(err *ConnectError, name string) Status {
	format, ok := connectMessages[err.Kind]
	if !ok {
		format = connectMessages[ConnectFailed]
	}
	return Status{Kind: StatusConnectError, Text: fmt.Sprintf(format, name)}
}

func statusScanning() Status {
	return Status{Kind: StatusScanning, Text: "Scanning..."}
}

func statusNoRotators() Status {
	return Status{Kind: StatusNoRotators, Text: "No rotators found"}
}

func statusFound(rec RotatorRecord) Status {
	return Status{Kind: StatusFound, Text: fmt.Sprintf("Found %s, ready to connect", rec.Name)}
}

func statusMultiple(n int) Status {
	return Status{Kind: StatusMultipleRotators, Text: fmt.Sprintf("Multiple rotators detected (%d)", n)}
}

func statusConnecting(rec RotatorRecord) Status {
	return Status{Kind: StatusConnecting, Text: fmt.Sprintf("Connecting to %s...", rec.Name)}
}

func statusConnected(rec RotatorRecord) Status {
	return Status{Kind: StatusConnected, Text: fmt.Sprintf("Connected to %s", rec.Name)}
}

func statusDisconnected(rec RotatorRecord) Status {
	return Status{Kind: StatusDisconnected, Text: fmt.Sprintf("%s disconnected", rec.Name)}
}
