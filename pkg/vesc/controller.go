// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package vesc

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Handler is called after the built-in decoding of a frame with the frame's
// opcode and the payload that follows it. The buffer belongs to the handler.
type Handler func(op Opcode, body *Buffer)

// Transmitter sends one encoded frame to the controller. expectResponse
// marks requests that the controller will answer.
type Transmitter func(frame []byte, expectResponse bool) error

// Config identifies the two controllers of the vehicle on the CAN bus.
type Config struct {
	// PrimaryID is the id of the controller the link is attached to. Zero
	// routes every record that is not from SecondaryID to the primary slot.
	PrimaryID uint8
	// SecondaryID is the controller reached through CAN forwarding.
	SecondaryID uint8
}

// DefaultConfig returns the ids of the stock vehicle.
func DefaultConfig() Config {
	return Config{
		PrimaryID:   DefaultPrimaryID,
		SecondaryID: DefaultSecondaryID,
	}
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(c *Controller) {
		c.log = log
	}
}

// Controller is the session with a pair of motor controllers. It reassembles
// frames from received bytes, keeps the latest firmware info and one
// telemetry slot per controller, dispatches opcode handlers and encodes
// commands for the injected Transmitter.
//
// All methods are safe for concurrent use. Handlers run without the
// controller's lock held and may call back into it.
type Controller struct {
	cfg Config
	log *zap.Logger

	mu        sync.Mutex
	rx        *Buffer
	fw        FirmwareInfo
	primary   Values
	secondary Values
	handlers  [numOpcodes]Handler
	tx        Transmitter
	stats     *Statistics
}

// NewController creates a session with no transmitter attached
func NewController(cfg Config, opts ...Option) *Controller {
	c := &Controller{
		cfg:   cfg,
		log:   zap.NewNop(),
		rx:    NewBuffer(PacketMaxLen),
		stats: NewStatistics(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns the controller ids.
func (c *Controller) Config() Config {
	return c.cfg
}

//////////////////////////////////////////////////////////////
// Session state
//////////////////////////////////////////////////////////////

// SetCallback registers h for op, replacing any previous handler.
func (c *Controller) SetCallback(op Opcode, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[op] = h
}

// ClearCallback removes the handler for op.
func (c *Controller) ClearCallback(op Opcode) {
	c.SetCallback(op, nil)
}

// SetTransmitter attaches the outbound sink. Nil detaches it.
func (c *Controller) SetTransmitter(tx Transmitter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tx = tx
}

// ClearTransmitter detaches the outbound sink; commands fail until a new
// one is set.
func (c *Controller) ClearTransmitter() {
	c.SetTransmitter(nil)
}

// Connected reports whether a transmitter is attached.
func (c *Controller) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tx != nil
}

// ResetReceive discards any partially received frame.
func (c *Controller) ResetReceive() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rx.Reset()
}

// Firmware returns the last decoded FW_VERSION response.
func (c *Controller) Firmware() FirmwareInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fw
}

// Values returns the primary controller's telemetry.
func (c *Controller) Values() Values {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.primary
}

// SecondaryValues returns the secondary controller's telemetry.
func (c *Controller) SecondaryValues() Values {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.secondary
}

// Stats returns a copy of the receive statistics.
func (c *Controller) Stats() Statistics {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := *c.stats
	s.CalculateRates()
	return s
}

//////////////////////////////////////////////////////////////
// Receive
//////////////////////////////////////////////////////////////

type pendingCall struct {
	h    Handler
	op   Opcode
	body *Buffer
}

// Receive appends bytes from the transport and processes every complete
// frame they finish. Misaligned data resets the receive buffer.
func (c *Controller) Receive(data []byte) {
	var calls []pendingCall

	c.mu.Lock()
	for len(data) > 0 {
		n := min(len(data), c.rx.Available())
		if n == 0 {
			// A full buffer without a frame in it is garbage.
			c.log.Warn("receive buffer overflow", zap.Int("discarded", c.rx.Len()))
			c.stats.Overflows++
			c.rx.Reset()
			continue
		}
		c.rx.Append(data[:n])
		data = data[n:]
		calls = c.drainLocked(calls)
	}
	c.mu.Unlock()

	for _, call := range calls {
		call.h(call.op, call.body)
	}
}

func (c *Controller) drainLocked(calls []pendingCall) []pendingCall {
	for {
		payload, res := NextFrame(c.rx)
		c.stats.Update(res)
		switch {
		case res == Valid:
			if call, ok := c.dispatchLocked(payload); ok {
				calls = append(calls, call)
			}
		case res.Fatal():
			c.log.Debug("frame rejected", zap.Stringer("result", res))
			return calls
		default:
			return calls
		}
	}
}

// ParseCommand validates one frame at buf's read position and dispatches it.
// The caller owns buf and resets it on a fatal result.
func (c *Controller) ParseCommand(buf *Buffer) ValidateResult {
	res := Validate(buf)

	c.mu.Lock()
	c.stats.Update(res)
	var call pendingCall
	var ok bool
	if res == Valid {
		call, ok = c.dispatchLocked(buf.Bytes())
	}
	c.mu.Unlock()

	if ok {
		call.h(call.op, call.body)
	}
	return res
}

func (c *Controller) dispatchLocked(payload []byte) (pendingCall, bool) {
	body := NewBufferFrom(payload)
	if body.Len() == 0 {
		c.log.Debug("empty payload")
		return pendingCall{}, false
	}
	op := Opcode(body.Uint8())

	switch op {
	case CommFWVersion:
		fw := DecodeFirmware(body.View())
		fw.Received = time.Now()
		c.fw = fw
		c.log.Info("firmware",
			zap.String("version", fw.Version()),
			zap.String("hardware", fw.Hardware),
			zap.Binary("uuid", fw.UUID),
			zap.Bool("paired", fw.Paired))

	case CommGetValues:
		c.routeLocked(DecodeValues(body.View(), ValueAll))

	case CommGetValuesSelective:
		v := body.View()
		if v.Len() < 4 {
			c.log.Debug("selective values without mask", zap.Int("len", v.Len()))
			break
		}
		mask := ValueMask(v.Uint32())
		c.routeLocked(DecodeValues(v, mask))

	default:
		if c.handlers[op] == nil {
			c.stats.Unhandled++
			c.log.Debug("unhandled opcode", zap.Stringer("opcode", op))
		}
	}

	h := c.handlers[op]
	if h == nil {
		return pendingCall{}, false
	}
	return pendingCall{h: h, op: op, body: body}, true
}

// routeLocked stores a record in the slot named by its own vesc id. The id
// is the only signal: a response is not matched to the request that caused
// it, so with requests to both controllers in flight a record from a
// controller with an unexpected id can still be misattributed.
func (c *Controller) routeLocked(v Values) {
	v.Updated = time.Now()
	hasID := v.Present.Has(ValueVescID)

	switch {
	case hasID && v.VescID == c.cfg.SecondaryID:
		c.secondary.Merge(v)
	case !hasID || c.cfg.PrimaryID == 0 || v.VescID == c.cfg.PrimaryID:
		c.primary.Merge(v)
	default:
		c.stats.DroppedRecords++
		c.log.Warn("telemetry from unknown controller", zap.Uint8("vesc_id", v.VescID))
	}
}

//////////////////////////////////////////////////////////////
// Commands
//////////////////////////////////////////////////////////////

// send frames payload and hands it to the transmitter. It reports false only
// when no transmitter is attached; transmit errors are logged.
func (c *Controller) send(payload []byte, expectResponse bool) bool {
	c.mu.Lock()
	tx := c.tx
	c.mu.Unlock()
	if tx == nil {
		return false
	}

	frame, err := EncodeFrame(payload)
	if err != nil {
		c.log.Error("encode failed", zap.Error(err))
		return true
	}
	if err := tx(frame, expectResponse); err != nil {
		c.log.Warn("transmit failed", zap.Error(err))
	}
	return true
}

// RequestFirmware asks the connected controller for FW_VERSION.
func (c *Controller) RequestFirmware() bool {
	return c.send(NewFirmwareRequest(0), true)
}

// GetValues requests telemetry from target (0 for the connected controller).
func (c *Controller) GetValues(mask ValueMask, target uint8) bool {
	return c.send(NewGetValuesCommand(mask, target), true)
}

// GetSecondaryValues requests telemetry from the secondary controller.
func (c *Controller) GetSecondaryValues(mask ValueMask) bool {
	return c.GetValues(mask, c.cfg.SecondaryID)
}

// SetCurrent sets the motor current of target in amps.
func (c *Controller) SetCurrent(amps float64, target uint8) bool {
	return c.send(NewSetCurrentCommand(amps, target), false)
}

// SetCurrents sets the primary and secondary motor currents.
func (c *Controller) SetCurrents(primary, secondary float64) bool {
	return c.SetCurrent(primary, 0) && c.SetCurrent(secondary, c.cfg.SecondaryID)
}

// SetRPM sets the electrical speed of target.
func (c *Controller) SetRPM(rpm float64, target uint8) bool {
	return c.send(NewSetRPMCommand(rpm, target), false)
}

// SetRPMs sets the primary and secondary motor speeds.
func (c *Controller) SetRPMs(primary, secondary float64) bool {
	return c.SetRPM(primary, 0) && c.SetRPM(secondary, c.cfg.SecondaryID)
}

// SetDuty sets the duty cycle of target, -1 to 1.
func (c *Controller) SetDuty(duty float64, target uint8) bool {
	return c.send(NewSetDutyCommand(duty, target), false)
}

// SetDuties sets the primary and secondary duty cycles.
func (c *Controller) SetDuties(primary, secondary float64) bool {
	return c.SetDuty(primary, 0) && c.SetDuty(secondary, c.cfg.SecondaryID)
}
