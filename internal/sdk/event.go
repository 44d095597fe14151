package sdk

import "fmt"

// EventKind identifies a notification the rotator sends on its own, mostly
// presses on its remote and rotation reports.
type EventKind int

const (
	EventMode EventKind = iota + 1
	EventCamera
	EventStop
	EventOff
	EventConnectionCompleted
	EventNameChanged
	EventVersion
	EventBatteryChanged
	EventLeftPressed
	EventLeftReleased
	EventRightPressed
	EventRightReleased
	EventLeftContinuousPressed
	EventRightContinuousPressed
	EventSpeedUpPressed
	EventSpeedUpReleased
	EventSpeedDownPressed
	EventSpeedDownReleased
	EventSpeed
	EventRotated
	EventRotatedOneDegreeLeft
	EventRotatedOneDegreeRight
	EventBypassRemoteOn
	EventBypassRemoteOff
)

var eventNames = map[EventKind]string{
	EventMode:                   "MODE",
	EventCamera:                 "CAMERA",
	EventStop:                   "STOP",
	EventOff:                    "OFF",
	EventConnectionCompleted:    "CONNECTION_COMPLETED",
	EventNameChanged:            "NAME_CHANGED",
	EventVersion:                "VERSION",
	EventBatteryChanged:         "BATTERY_CHANGED",
	EventLeftPressed:            "LEFT_PRESSED",
	EventLeftReleased:           "LEFT_RELEASED",
	EventRightPressed:           "RIGHT_PRESSED",
	EventRightReleased:          "RIGHT_RELEASED",
	EventLeftContinuousPressed:  "LEFT_CONTINUOUS_PRESSED",
	EventRightContinuousPressed: "RIGHT_CONTINUOUS_PRESSED",
	EventSpeedUpPressed:         "SPEEDUP_PRESSED",
	EventSpeedUpReleased:        "SPEEDUP_RELEASED",
	EventSpeedDownPressed:       "SPEEDDOWN_PRESSED",
	EventSpeedDownReleased:      "SPEEDDOWN_RELEASED",
	EventSpeed:                  "SPEED",
	EventRotated:                "ROTATED",
	EventRotatedOneDegreeLeft:   "ROTATED_1DEGREE_LEFT",
	EventRotatedOneDegreeRight:  "ROTATED_1DEGREE_RIGHT",
	EventBypassRemoteOn:         "BYPASS_RC_ON",
	EventBypassRemoteOff:        "BYPASS_RC_OFF",
}

func (k EventKind) String() string {
	if s, ok := eventNames[k]; ok {
		return s
	}
	return fmt.Sprintf("EVENT(%d)", int(k))
}

// Event is one rotator notification. Only some kinds carry data:
// BatteryChanged sets Value to the level, the speed kinds set Value to seconds
// per round, Rotated sets Direction and Angle.
type Event struct {
	Kind      EventKind
	Value     int
	Direction string
	Angle     int
}

func (e Event) String() string {
	switch e.Kind {
	case EventBatteryChanged:
		return fmt.Sprintf("%s batteryLevel: %d", e.Kind, e.Value)
	case EventSpeedUpPressed, EventSpeedUpReleased, EventSpeedDownPressed, EventSpeedDownReleased, EventSpeed:
		return fmt.Sprintf("%s secondsPerRound: %d", e.Kind, e.Value)
	case EventRotated:
		return fmt.Sprintf("%s direction: %s, angle: %d", e.Kind, e.Direction, e.Angle)
	default:
		return e.Kind.String()
	}
}
