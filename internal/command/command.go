package command

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformed is returned for text that does not follow the wire grammar.
var ErrMalformed = errors.New("command: malformed")

const (
	startToken = "Start"
	endToken   = "end"
	separator  = ";"
)

// Command is one parsed hardware instruction. The concrete types below are
// the only implementations.
type Command interface {
	// Wire renders the command in the Start;...;end grammar.
	Wire() string
	isCommand()
}

// Relay switches one relay, or all of them when ID is 0.
type Relay struct {
	ID int
	On bool
}

// Dispense starts a volumetric dispense.
type Dispense struct {
	PumpID int
	ML     float64
}

// StopPump halts a dispensing pump.
type StopPump struct {
	PumpID int
}

// CalibratePump reports the volume a pump really dispensed.
type CalibratePump struct {
	PumpID int
	ML     float64
}

// StartFlow monitors a meter until Gallons pass. Gallons == 0 stops it.
// PulsesPerGallon == 0 keeps the meter's calibration. Owner is not part of
// the wire form; jobs set it to their id.
type StartFlow struct {
	MeterID         int
	Gallons         int
	PulsesPerGallon int
	Owner           string
}

// EcPh starts or stops background pH/EC polling.
type EcPh struct {
	On bool
}

func (Relay) isCommand()         {}
func (Dispense) isCommand()      {}
func (StopPump) isCommand()      {}
func (CalibratePump) isCommand() {}
func (StartFlow) isCommand()     {}
func (EcPh) isCommand()          {}

func (c Relay) Wire() string {
	return join("Relay", strconv.Itoa(c.ID), onOff(c.On))
}

func (c Dispense) Wire() string {
	return join("Dispense", strconv.Itoa(c.PumpID), formatML(c.ML))
}

func (c StopPump) Wire() string {
	return join("Pump", strconv.Itoa(c.PumpID), "X")
}

func (c CalibratePump) Wire() string {
	return join("Cal", strconv.Itoa(c.PumpID), formatML(c.ML))
}

func (c StartFlow) Wire() string {
	if c.PulsesPerGallon > 0 {
		return join("StartFlow", strconv.Itoa(c.MeterID), strconv.Itoa(c.Gallons), strconv.Itoa(c.PulsesPerGallon))
	}
	return join("StartFlow", strconv.Itoa(c.MeterID), strconv.Itoa(c.Gallons))
}

func (c EcPh) Wire() string {
	return join("EcPh", onOff(c.On))
}

// Parse reads one wire command such as "Start;Relay;3;ON;end".
func Parse(line string) (Command, error) {
	line = strings.TrimSpace(line)
	fields := strings.Split(line, separator)
	if len(fields) < 3 || fields[0] != startToken || fields[len(fields)-1] != endToken {
		return nil, fmt.Errorf("%w: missing Start/end in %q", ErrMalformed, line)
	}
	kind := fields[1]
	args := fields[2 : len(fields)-1]

	switch kind {
	case "Relay":
		if err := arity(kind, args, 2); err != nil {
			return nil, err
		}
		id, err := parseID(args[0], true)
		if err != nil {
			return nil, err
		}
		on, err := parseOnOff(args[1])
		if err != nil {
			return nil, err
		}
		return Relay{ID: id, On: on}, nil

	case "Dispense", "Cal":
		if err := arity(kind, args, 2); err != nil {
			return nil, err
		}
		id, err := parseID(args[0], false)
		if err != nil {
			return nil, err
		}
		ml, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: amount %q", ErrMalformed, args[1])
		}
		if kind == "Cal" {
			return CalibratePump{PumpID: id, ML: ml}, nil
		}
		return Dispense{PumpID: id, ML: ml}, nil

	case "Pump":
		if err := arity(kind, args, 2); err != nil {
			return nil, err
		}
		id, err := parseID(args[0], false)
		if err != nil {
			return nil, err
		}
		if args[1] != "X" {
			return nil, fmt.Errorf("%w: pump action %q", ErrMalformed, args[1])
		}
		return StopPump{PumpID: id}, nil

	case "StartFlow":
		if len(args) != 2 && len(args) != 3 {
			return nil, fmt.Errorf("%w: StartFlow takes 2 or 3 fields, got %d", ErrMalformed, len(args))
		}
		id, err := parseID(args[0], false)
		if err != nil {
			return nil, err
		}
		gallons, err := strconv.Atoi(args[1])
		if err != nil || gallons < 0 {
			return nil, fmt.Errorf("%w: gallons %q", ErrMalformed, args[1])
		}
		cmd := StartFlow{MeterID: id, Gallons: gallons}
		if len(args) == 3 && args[2] != "" {
			ppg, err := strconv.Atoi(args[2])
			if err != nil || ppg <= 0 {
				return nil, fmt.Errorf("%w: pulses per gallon %q", ErrMalformed, args[2])
			}
			cmd.PulsesPerGallon = ppg
		}
		return cmd, nil

	case "EcPh":
		if err := arity(kind, args, 1); err != nil {
			return nil, err
		}
		on, err := parseOnOff(args[0])
		if err != nil {
			return nil, err
		}
		return EcPh{On: on}, nil
	}
	return nil, fmt.Errorf("%w: unknown command %q", ErrMalformed, kind)
}

func arity(kind string, args []string, want int) error {
	if len(args) != want {
		return fmt.Errorf("%w: %s takes %d fields, got %d", ErrMalformed, kind, want, len(args))
	}
	return nil
}

func parseID(s string, allowZero bool) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil || id < 0 || (id == 0 && !allowZero) {
		return 0, fmt.Errorf("%w: id %q", ErrMalformed, s)
	}
	return id, nil
}

func parseOnOff(s string) (bool, error) {
	switch s {
	case "ON":
		return true, nil
	case "OFF":
		return false, nil
	}
	return false, fmt.Errorf("%w: expected ON or OFF, got %q", ErrMalformed, s)
}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}

func formatML(ml float64) string {
	return strconv.FormatFloat(ml, 'f', -1, 64)
}

func join(kind string, args ...string) string {
	parts := append([]string{startToken, kind}, args...)
	return strings.Join(append(parts, endToken), separator)
}
