package ble

import (
	"encoding/binary"
	"fmt"

	"github.com/cjeanneret/RotaGo/internal/sdk"
)

// Command frames written to the motion characteristic:
//
//	[opcode, direction, angle hi, angle lo, speed]
//
// direction is 0 for left and 1 for right; speed 0 keeps the current speed.
const (
	opTurn       byte = 0x01
	opContinuous byte = 0x02
	opStop       byte = 0x03
	opMaxSpeed   byte = 0x04
	opBattery    byte = 0x05

	dirLeft  byte = 0x00
	dirRight byte = 0x01

	frameLen = 5
)

func frame(op, dir byte, angle, speed int) []byte {
	b := make([]byte, frameLen)
	b[0] = op
	b[1] = dir
	binary.BigEndian.PutUint16(b[2:4], uint16(angle))
	b[4] = byte(speed)
	return b
}

func turnFrame(dir byte, angle, speed int) []byte { return frame(opTurn, dir, angle, speed) }
func continuousFrame(dir byte, speed int) []byte { return frame(opContinuous, dir, 0, speed) }
func stopFrame() []byte                           { return frame(opStop, 0, 0, 0) }
func maxSpeedFrame() []byte                       { return frame(opMaxSpeed, 0, 0, 0) }
func batteryFrame() []byte                        { return frame(opBattery, 0, 0, 0) }

// Notifications on the motion characteristic carry remote events:
//
//	[0x80 | kind, value hi, value lo, direction]
//
// For ROTATED the value is the angle.
const eventFlag byte = 0x80

func decodeEvent(b []byte) (sdk.Event, error) {
	if len(b) < 4 || b[0]&eventFlag == 0 {
		return sdk.Event{}, fmt.Errorf("not an event frame: % x", b)
	}
	kind := sdk.EventKind(b[0] &^ eventFlag)
	if kind < sdk.EventMode || kind > sdk.EventBypassRemoteOff {
		return sdk.Event{}, fmt.Errorf("unknown event kind %d", kind)
	}
	ev := sdk.Event{Kind: kind}
	value := int(binary.BigEndian.Uint16(b[1:3]))
	switch kind {
	case sdk.EventRotated:
		ev.Angle = value
		ev.Direction = "left"
		if b[3] == dirRight {
			ev.Direction = "right"
		}
	default:
		ev.Value = value
	}
	return ev, nil
}
