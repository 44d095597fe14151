package motion

import (
	"errors"
	"fmt"
	"strings"
)

// Direction is the rotation sense seen from behind the rotator.
type Direction int

const (
	Left Direction = iota + 1
	Right
)

func (d Direction) String() string {
	switch d {
	case Left:
		return "left"
	case Right:
		return "right"
	default:
		return "unknown"
	}
}

// ParseDirection accepts "left" or "right" in any case.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "left":
		return Left, nil
	case "right":
		return Right, nil
	default:
		return 0, fmt.Errorf("direction must be left or right, got %q", s)
	}
}

// Limits accepted for commands coming from outside the process.
const (
	MaxAngle = 360
	MaxSpeed = 200
)

// Rotator is anything that accepts motion commands. It sits between the
// presentation layer (HTTP, websocket, hardware panel) and the connected
// device link.
type Rotator interface {
	Turn(dir Direction, angle, speed int)
	Snap(dir Direction, angle int)
	TurnContinuous(dir Direction, speed int)
	Stop()
}

// Kind names a motion command.
type Kind string

const (
	KindTurn       Kind = "turn"
	KindSnap       Kind = "snap"
	KindContinuous Kind = "continuous"
	KindStop       Kind = "stop"
)

// Command is one motion request as it arrives over the wire.
type Command struct {
	Kind      Kind   `json:"kind"`
	Direction string `json:"direction,omitempty"`
	Angle     int    `json:"angle,omitempty"`
	Speed     int    `json:"speed,omitempty"` // 0 = controller default
}

var ErrUnknownKind = errors.New("unknown command kind")

// Validate checks ranges for the fields the command kind uses.
func (c Command) Validate() error {
	switch c.Kind {
	case KindStop:
		return nil
	case KindTurn, KindSnap, KindContinuous:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, c.Kind)
	}

	if _, err := ParseDirection(c.Direction); err != nil {
		return err
	}
	if c.Kind != KindContinuous {
		if c.Angle <= 0 || c.Angle > MaxAngle {
			return fmt.Errorf("angle must be between 1 and %d, got %d", MaxAngle, c.Angle)
		}
	}
	if c.Kind != KindSnap {
		if c.Speed < 0 || c.Speed > MaxSpeed {
			return fmt.Errorf("speed must be between 0 and %d, got %d", MaxSpeed, c.Speed)
		}
	}
	return nil
}

// Controller applies validated commands to a Rotator, filling in the default speed.
type Controller struct {
	defaultSpeed int
}

func NewController(defaultSpeed int) *Controller {
	return &Controller{defaultSpeed: defaultSpeed}
}

// DefaultSpeed returns the speed used when a command leaves it at 0.
func (c *Controller) DefaultSpeed() int {
	return c.defaultSpeed
}

// Apply validates cmd and forwards it to r.
func (c *Controller) Apply(r Rotator, cmd Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	speed := cmd.Speed
	if speed == 0 {
		speed = c.defaultSpeed
	}

	if cmd.Kind == KindStop {
		r.Stop()
		return nil
	}
	dir, _ := ParseDirection(cmd.Direction)
	switch cmd.Kind {
	case KindTurn:
		r.Turn(dir, cmd.Angle, speed)
	case KindSnap:
		r.Snap(dir, cmd.Angle)
	case KindContinuous:
		r.TurnContinuous(dir, speed)
	}
	return nil
}
