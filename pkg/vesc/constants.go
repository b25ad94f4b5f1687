// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

// Package vesc implements the VESC motor controller wire protocol as spoken by
// a two-controller vehicle remote.
//
// A frame is [marker][length][payload][crc16][end]. The marker selects a one
// byte (0x02) or two byte (0x03) big-endian length, the CRC is CRC-16/XMODEM
// over the payload only, and the end byte is always 0x03. The first payload
// byte is the command opcode.
package vesc

// Protocol framing bytes
const (
	StartShort = 0x02 // one byte length follows
	StartLong  = 0x03 // two byte length follows
	EndByte    = 0x03
)

// Frame size limits
const (
	PacketMaxPayloadLen = 512
	PacketExtraBytes    = 8 // worst case framing overhead
	PacketMaxLen        = PacketMaxPayloadLen + PacketExtraBytes

	// shortLengthMax is the largest payload still framed with StartShort.
	shortLengthMax = 256

	// trailerLen covers the CRC and the end byte.
	trailerLen = 3
)

// Opcode identifies a command or response. Values are fixed by the
// controller firmware.
type Opcode uint8

// Opcodes used by the remote
const (
	CommFWVersion          Opcode = 0
	CommGetValues          Opcode = 4
	CommSetDuty            Opcode = 5
	CommSetCurrent         Opcode = 6
	CommSetRPM             Opcode = 8
	CommForwardCAN         Opcode = 34
	CommGetValuesSelective Opcode = 50
)

const (
	numOpcodes        = 256
	commandPayloadCap = 7 // forward(2) + opcode(1) + argument(4)
	firmwareUUIDLen   = 12
	unknownString     = "(Unknown)"
)

// Command argument scales
const (
	scaleCurrent = 1000.0
	scaleRPM     = 1.0
	scaleDuty    = 100000.0
)

// ValueMask selects the telemetry fields of a GET_VALUES_SELECTIVE
// request and response. Bits are decoded in ascending order.
type ValueMask uint32

// Telemetry field bits
const (
	ValueTempMOS ValueMask = 1 << iota
	ValueTempMotor
	ValueCurrentMotor
	ValueCurrentIn
	ValueID
	ValueIQ
	ValueDutyNow
	ValueRPM
	ValueVIn
	ValueAmpHours
	ValueAmpHoursCharged
	ValueWattHours
	ValueWattHoursCharged
	ValueTachometer
	ValueTachometerAbs
	ValueFaultCode
	ValuePosition
	ValueVescID
	ValueTempMOSX
	ValueVD
	ValueVQ

	// ValueAll requests every field. It is sent as a plain GET_VALUES.
	ValueAll ValueMask = 0xFFFFFFFF
)

// Has reports whether every bit of f is set in m.
func (m ValueMask) Has(f ValueMask) bool {
	return m&f == f
}

// Sentinels written when a response is too short for a requested field.
const (
	PositionUnknown = -1.0
	VescIDUnknown   = 255
)

// Default controller ids on the CAN bus of the two-motor vehicle.
const (
	DefaultPrimaryID   = 28
	DefaultSecondaryID = 73
)

// FaultCode is the controller's mc_fault_code.
type FaultCode uint8

// Fault codes
const (
	FaultNone FaultCode = iota
	FaultOverVoltage
	FaultUnderVoltage
	FaultDRV
	FaultAbsOverCurrent
	FaultOverTempFET
	FaultOverTempMotor
	FaultGateDriverOverVoltage
	FaultGateDriverUnderVoltage
	FaultMCUUnderVoltage
	FaultBootingFromWatchdogReset
	FaultEncoderSPI
	FaultEncoderSinCosBelowMinAmplitude
	FaultEncoderSinCosAboveMaxAmplitude
	FaultFlashCorruption
	FaultHighOffsetCurrentSensor1
	FaultHighOffsetCurrentSensor2
	FaultHighOffsetCurrentSensor3
	FaultUnbalancedCurrents
	FaultBRK
	FaultResolverLOT
	FaultResolverDOT
	FaultResolverLOS
	FaultFlashCorruptionAppCfg
	FaultFlashCorruptionMCCfg
	FaultEncoderNoMagnet
)

var faultNames = [...]string{
	"NONE",
	"OVER_VOLTAGE",
	"UNDER_VOLTAGE",
	"DRV",
	"ABS_OVER_CURRENT",
	"OVER_TEMP_FET",
	"OVER_TEMP_MOTOR",
	"GATE_DRIVER_OVER_VOLTAGE",
	"GATE_DRIVER_UNDER_VOLTAGE",
	"MCU_UNDER_VOLTAGE",
	"BOOTING_FROM_WATCHDOG_RESET",
	"ENCODER_SPI",
	"ENCODER_SINCOS_BELOW_MIN_AMPLITUDE",
	"ENCODER_SINCOS_ABOVE_MAX_AMPLITUDE",
	"FLASH_CORRUPTION",
	"HIGH_OFFSET_CURRENT_SENSOR_1",
	"HIGH_OFFSET_CURRENT_SENSOR_2",
	"HIGH_OFFSET_CURRENT_SENSOR_3",
	"UNBALANCED_CURRENTS",
	"BRK",
	"RESOLVER_LOT",
	"RESOLVER_DOT",
	"RESOLVER_LOS",
	"FLASH_CORRUPTION_APP_CFG",
	"FLASH_CORRUPTION_MC_CFG",
	"ENCODER_NO_MAGNET",
}

func (f FaultCode) String() string {
	if int(f) < len(faultNames) {
		return faultNames[f]
	}
	return "UNKNOWN"
}

// ValidateResult is the outcome of checking a byte run for one frame.
type ValidateResult int

const (
	Valid ValidateResult = iota
	Incomplete
	BadStart
	InvalidCRC
	BadEnd
)

func (r ValidateResult) String() string {
	switch r {
	case Valid:
		return "VALID"
	case Incomplete:
		return "INCOMPLETE"
	case BadStart:
		return "BAD_START"
	case InvalidCRC:
		return "INVALID_CRC"
	case BadEnd:
		return "BAD_END"
	default:
		return "UNKNOWN"
	}
}

// Fatal reports whether the byte run must be discarded.
func (r ValidateResult) Fatal() bool {
	return r == BadStart || r == InvalidCRC || r == BadEnd
}
