// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/hwlink/lib/canframe"
	"github.com/bureau-foundation/hwlink/lib/clock"
)

// Simulated motor protocol identifiers. Motor n listens on
// CommandBaseID+n and reports on StateBaseID+n.
const (
	CommandBaseID = 0x100
	StateBaseID   = 0x200
)

// Command modes carried in the first byte of a command frame.
const (
	ModeDisable  = 0
	ModeEnable   = 1
	ModePosition = 2
)

const (
	// DefaultStateInterval is the simulator's state broadcast period.
	DefaultStateInterval = 20 * time.Millisecond

	// maxMotors keeps command and state identifier ranges disjoint.
	maxMotors = StateBaseID - CommandBaseID

	// maxStep is the largest position change per tick.
	maxStep = 50
)

// SimulatorConfig configures a CANSimulator.
type SimulatorConfig struct {
	// Motors is the number of simulated motors. Defaults to 1.
	Motors int

	// StateInterval is the period between state broadcasts.
	// Defaults to DefaultStateInterval.
	StateInterval time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// MotorState is the simulated state of one motor.
type MotorState struct {
	Enabled  bool
	Position int16
	Velocity int16
	Target   int16
}

// CANSimulator is a Backend simulating an array of position-controlled
// motors on a CAN bus. Each tick it advances every motor toward its
// target and publishes one state frame per motor.
type CANSimulator struct {
	queues   *Queues
	interval time.Duration
	clock    clock.Clock
	logger   *slog.Logger
	motors   []MotorState
}

// NewCANSimulator creates a simulator publishing through queues.
func NewCANSimulator(queues *Queues, config SimulatorConfig) (*CANSimulator, error) {
	if config.Motors == 0 {
		config.Motors = 1
	}
	if config.Motors < 0 || config.Motors > maxMotors {
		return nil, fmt.Errorf("motor count %d out of range 1..%d", config.Motors, maxMotors)
	}
	if config.StateInterval <= 0 {
		config.StateInterval = DefaultStateInterval
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &CANSimulator{
		queues:   queues,
		interval: config.StateInterval,
		clock:    config.Clock,
		logger:   config.Logger,
		motors:   make([]MotorState, config.Motors),
	}, nil
}

// Channels returns the simulator's queues.
func (s *CANSimulator) Channels() Channels {
	return s.queues.Channels()
}

// Run simulates until ctx is cancelled. All simulator state is owned
// by this goroutine.
func (s *CANSimulator) Run(ctx context.Context) error {
	defer s.queues.Close()

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("CAN simulator running",
		"motors", len(s.motors),
		"state_interval", s.interval,
	)

	var assembler recordAssembler
	for {
		select {
		case <-ctx.Done():
			return nil

		case item := <-s.queues.Commands():
			frames, err := assembler.Feed(item)
			for _, frame := range frames {
				s.handleFrame(ctx, frame)
			}
			if err != nil {
				s.logger.Warn("discarding malformed command data", "error", err)
			}

		case <-ticker.C:
			s.step()
			for index := range s.motors {
				if s.publishState(ctx, index) != nil {
					return nil
				}
			}
		}
	}
}

// Motor returns a snapshot of one motor. Only safe to call when Run is
// not executing; tests use it after Run returns.
func (s *CANSimulator) Motor(index int) MotorState {
	return s.motors[index]
}

func (s *CANSimulator) handleFrame(ctx context.Context, frame canframe.Frame) {
	id := int(frame.Identifier())
	if frame.IsExtended() {
		s.logger.Debug("ignoring extended frame", "id", id)
		return
	}

	// A remote request for a state identifier is answered immediately.
	if standard, ok := frame.(canframe.StandardFrame); ok && standard.Remote {
		index := id - StateBaseID
		if index >= 0 && index < len(s.motors) {
			// A cancelled publish is noticed by Run's next select.
			_ = s.publishState(ctx, index)
		}
		return
	}

	index := id - CommandBaseID
	if index < 0 || index >= len(s.motors) {
		s.logger.Debug("ignoring frame for unknown motor", "id", id)
		return
	}
	data := frame.Payload()
	if len(data) < 1 {
		s.logger.Warn("empty motor command", "motor", index)
		return
	}

	motor := &s.motors[index]
	switch data[0] {
	case ModeDisable:
		motor.Enabled = false
		motor.Velocity = 0
	case ModeEnable:
		motor.Enabled = true
	case ModePosition:
		if len(data) < 3 {
			s.logger.Warn("short position command", "motor", index, "length", len(data))
			return
		}
		motor.Target = int16(binary.LittleEndian.Uint16(data[1:3]))
	default:
		s.logger.Warn("unknown motor command mode", "motor", index, "mode", data[0])
		return
	}
	s.logger.Debug("motor command applied",
		"motor", index,
		"mode", data[0],
		"enabled", motor.Enabled,
		"target", motor.Target,
	)
}

// step advances every enabled motor toward its target.
func (s *CANSimulator) step() {
	for index := range s.motors {
		motor := &s.motors[index]
		if !motor.Enabled {
			motor.Velocity = 0
			continue
		}
		delta := int32(motor.Target) - int32(motor.Position)
		delta = max(-maxStep, min(maxStep, delta))
		motor.Velocity = int16(delta)
		motor.Position += int16(delta)
	}
}

func (s *CANSimulator) publishState(ctx context.Context, index int) error {
	motor := s.motors[index]
	data := make([]byte, 5)
	if motor.Enabled {
		data[0] = 1
	}
	binary.LittleEndian.PutUint16(data[1:3], uint16(motor.Position))
	binary.LittleEndian.PutUint16(data[3:5], uint16(motor.Velocity))

	record, err := canframe.Encode(canframe.StandardFrame{
		ID:   uint32(StateBaseID + index),
		Data: data,
	})
	if err != nil {
		// Unreachable: identifiers and lengths are in range.
		s.logger.Error("encoding motor state", "motor", index, "error", err)
		return nil
	}
	return s.queues.Publish(ctx, record[:])
}

// MotorCommand builds the command frame for motor index.
func MotorCommand(index int, mode byte, target int16) canframe.StandardFrame {
	data := []byte{mode}
	if mode == ModePosition {
		data = binary.LittleEndian.AppendUint16(data, uint16(target))
	}
	return canframe.StandardFrame{ID: uint32(CommandBaseID + index), Data: data}
}

// ParseMotorState decodes a state frame produced by the simulator.
func ParseMotorState(frame canframe.Frame) (index int, state MotorState, ok bool) {
	index = int(frame.Identifier()) - StateBaseID
	data := frame.Payload()
	if frame.IsExtended() || index < 0 || index >= maxMotors || len(data) != 5 {
		return 0, MotorState{}, false
	}
	return index, MotorState{
		Enabled:  data[0] == 1,
		Position: int16(binary.LittleEndian.Uint16(data[1:3])),
		Velocity: int16(binary.LittleEndian.Uint16(data[3:5])),
	}, true
}
