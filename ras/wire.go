// Package ras implements the Ranging Service (RAS) over Bluetooth LE
// Channel Sounding: a ranging-data buffer pool, the RRSP control-point and
// segmented streamer, and the RREQ reassembly receiver. See SPEC_FULL.md.
package ras

import (
	"fmt"

	"github.com/nordic-ras/ras/uuid"
)

// Bluetooth-assigned 16-bit UUIDs for the Ranging Service and its
// characteristics (spec §6).
const (
	UUIDRangingService  = 0x185B
	UUIDFeatures        = 0x2C14
	UUIDRealtimeRD      = 0x2C15
	UUIDOndemandRD      = 0x2C16
	UUIDRASCP           = 0x2C17
	UUIDRDReady         = 0x2C18
	UUIDRDOverwritten   = 0x2C19
)

// CharUUID{Name} are the uuid.UUID forms of the constants above, for use
// against the GattPeer boundary interface (which, like a real attribute
// table, identifies characteristics by UUID rather than by the raw 16-bit
// assigned number).
var (
	CharUUIDFeatures      = uuid.UUID16(UUIDFeatures)
	CharUUIDRealtimeRD    = uuid.UUID16(UUIDRealtimeRD)
	CharUUIDOndemandRD    = uuid.UUID16(UUIDOndemandRD)
	CharUUIDRASCP         = uuid.UUID16(UUIDRASCP)
	CharUUIDRDReady       = uuid.UUID16(UUIDRDReady)
	CharUUIDRDOverwritten = uuid.UUID16(UUIDRDOverwritten)
	SvcUUIDRangingService = uuid.UUID16(UUIDRangingService)
)

// Feature bits carried in the 32-bit little-endian Features value.
const (
	FeatureRealtimeRD      uint32 = 1 << 0
	FeatureRetrieveLostSeg uint32 = 1 << 1
	FeatureAbortOp         uint32 = 1 << 2
	FeatureFilterRD        uint32 = 1 << 3
)

// SupportedFeatures is the Features value this implementation advertises:
// none of the optional bits, since real-time RD is out of scope (spec
// Non-goals) and lost-segment retrieval/abort/filter are recognised by
// RAS-CP only to reject them.
const SupportedFeatures uint32 = 0

// EncodeFeatures builds the 32-bit little-endian Features characteristic
// value (spec §6).
func EncodeFeatures(bits uint32) []byte {
	return []byte{byte(bits), byte(bits >> 8), byte(bits >> 16), byte(bits >> 24)}
}

// RangingHeaderLen is the on-wire size of a RangingHeader.
const RangingHeaderLen = 4

// SubeventHeaderLen is the on-wire size of a SubeventHeader.
const SubeventHeaderLen = 8

// StepModeLen is the size of the per-step mode byte preceding step data.
const StepModeLen = 1

// MaxStepDataLen is the maximum payload length of a single step record.
const MaxStepDataLen = 35

// RangingHeader is the fixed header prefixed to every procedure's flat
// on-wire image (spec §4.1).
type RangingHeader struct {
	RangingCounter   uint16 // 12 bits significant
	ConfigID         uint8  // 4 bits significant
	SelectedTxPower  int8
	AntennaPathsMask uint8
}

// Marshal encodes h into a freshly allocated RangingHeaderLen-byte slice.
func (h RangingHeader) Marshal() []byte {
	b := make([]byte, RangingHeaderLen)
	h.AppendTo(b[:0])
	return b
}

// AppendTo appends h's wire encoding to dst and returns the result.
func (h RangingHeader) AppendTo(dst []byte) []byte {
	counterLo := byte(h.RangingCounter)
	counterHiConfig := byte(h.RangingCounter>>8&0x0F) | (h.ConfigID&0x0F)<<4
	return append(dst, counterLo, counterHiConfig, byte(h.SelectedTxPower), h.AntennaPathsMask)
}

// DecodeRangingHeader decodes a RangingHeader from the front of b.
func DecodeRangingHeader(b []byte) (RangingHeader, int, error) {
	if len(b) < RangingHeaderLen {
		return RangingHeader{}, 0, fmt.Errorf("ras: short ranging header: %d bytes", len(b))
	}
	counter := uint16(b[0]) | uint16(b[1]&0x0F)<<8
	configID := b[1] >> 4
	return RangingHeader{
		RangingCounter:   counter,
		ConfigID:         configID,
		SelectedTxPower:  int8(b[2]),
		AntennaPathsMask: b[3],
	}, RangingHeaderLen, nil
}

// Procedure-done / subevent-done status values (subset relevant to RAS;
// mirrors the controller's bt_conn_le_cs_procedure_done_status /
// bt_conn_le_cs_subevent_done_status enums).
const (
	DoneStatusOngoing  uint8 = 0x0
	DoneStatusComplete uint8 = 0x1
	DoneStatusAborted  uint8 = 0xF
)

// SubeventHeader precedes each subevent's step-mode/step-data columns
// within a procedure's flat image (spec §4.1).
type SubeventHeader struct {
	StartACLConnEvent  uint16
	FreqCompensation   int16
	RangingDoneStatus  uint8 // 4 bits
	SubeventDoneStatus uint8 // 4 bits
	RangingAbortReason uint8 // 4 bits
	SubeventAbortReason uint8 // 4 bits
	RefPowerLevel      int8
	NumStepsReported   uint8
}

// Marshal encodes h into a freshly allocated SubeventHeaderLen-byte slice.
func (h SubeventHeader) Marshal() []byte {
	b := make([]byte, 0, SubeventHeaderLen)
	return h.AppendTo(b)
}

// AppendTo appends h's wire encoding to dst and returns the result.
func (h SubeventHeader) AppendTo(dst []byte) []byte {
	dst = append(dst, byte(h.StartACLConnEvent), byte(h.StartACLConnEvent>>8))
	dst = append(dst, byte(uint16(h.FreqCompensation)), byte(uint16(h.FreqCompensation)>>8))
	dst = append(dst, (h.RangingDoneStatus&0x0F)|(h.SubeventDoneStatus&0x0F)<<4)
	dst = append(dst, (h.RangingAbortReason&0x0F)|(h.SubeventAbortReason&0x0F)<<4)
	dst = append(dst, byte(h.RefPowerLevel), h.NumStepsReported)
	return dst
}

// DecodeSubeventHeader decodes a SubeventHeader from the front of b.
func DecodeSubeventHeader(b []byte) (SubeventHeader, int, error) {
	if len(b) < SubeventHeaderLen {
		return SubeventHeader{}, 0, fmt.Errorf("ras: short subevent header: %d bytes", len(b))
	}
	return SubeventHeader{
		StartACLConnEvent:   uint16(b[0]) | uint16(b[1])<<8,
		FreqCompensation:    int16(uint16(b[2]) | uint16(b[3])<<8),
		RangingDoneStatus:   b[4] & 0x0F,
		SubeventDoneStatus:  b[4] >> 4,
		RangingAbortReason:  b[5] & 0x0F,
		SubeventAbortReason: b[5] >> 4,
		RefPowerLevel:       int8(b[6]),
		NumStepsReported:    b[7],
	}, SubeventHeaderLen, nil
}

// SegmentHeader is the single-byte header prefixed to every On-demand RD
// notification/indication payload (spec §4.1).
type SegmentHeader struct {
	FirstSeg  bool
	LastSeg   bool
	SegCounter uint8 // 6 bits significant
}

// Marshal encodes h as a single byte.
func (h SegmentHeader) Marshal() byte {
	var b byte
	if h.FirstSeg {
		b |= 1 << 0
	}
	if h.LastSeg {
		b |= 1 << 1
	}
	b |= (h.SegCounter & 0x3F) << 2
	return b
}

// DecodeSegmentHeader decodes a SegmentHeader from a single byte.
func DecodeSegmentHeader(b byte) SegmentHeader {
	return SegmentHeader{
		FirstSeg:   b&(1<<0) != 0,
		LastSeg:    b&(1<<1) != 0,
		SegCounter: b >> 2,
	}
}

// RAS-CP opcodes (spec §4.1).
const (
	OpcodeGetRD          uint8 = 0x00
	OpcodeAckRD          uint8 = 0x01
	OpcodeRetrieveLostRD uint8 = 0x02
	OpcodeAbort          uint8 = 0x03
	OpcodeSetFilter       uint8 = 0x04
)

// RAS-CP response opcodes.
const (
	RespOpcodeCompleteRD       uint8 = 0x00
	RespOpcodeCompleteLostSeg  uint8 = 0x01
	RespOpcodeRspCode          uint8 = 0x02
)

// RAS-CP response codes.
const (
	RespCodeSuccess                uint8 = 0x01
	RespCodeOpcodeNotSupported     uint8 = 0x02
	RespCodeInvalidParameter       uint8 = 0x03
	RespCodeProcedureNotCompleted  uint8 = 0x06
	RespCodeServerBusy             uint8 = 0x07
	RespCodeNoRecordsFound         uint8 = 0x08
)

// RASCPWriteMaxLen is the maximum length of a RAS-CP command write (spec §6).
const RASCPWriteMaxLen = 5

// EncodeGetRD builds a GET_RD command payload.
func EncodeGetRD(counter uint16) []byte {
	return []byte{OpcodeGetRD, byte(counter), byte(counter >> 8)}
}

// EncodeAckRD builds an ACK_RD command payload.
func EncodeAckRD(counter uint16) []byte {
	return []byte{OpcodeAckRD, byte(counter), byte(counter >> 8)}
}

// EncodeCompleteRD builds a COMPLETE_RD response payload.
func EncodeCompleteRD(counter uint16) []byte {
	return []byte{RespOpcodeCompleteRD, byte(counter), byte(counter >> 8)}
}

// EncodeRspCode builds an RSP_CODE response payload.
func EncodeRspCode(code uint8) []byte {
	return []byte{RespOpcodeRspCode, code}
}

// RASCPCommand is a parsed RAS-CP command write.
type RASCPCommand struct {
	Opcode          uint8
	RangingCounter  uint16 // valid for GetRD/AckRD
	HasCounter      bool
}

// DecodeRASCPCommand parses a RAS-CP write payload.
func DecodeRASCPCommand(b []byte) (RASCPCommand, error) {
	if len(b) == 0 {
		return RASCPCommand{}, fmt.Errorf("ras: empty RAS-CP command")
	}
	if len(b) > RASCPWriteMaxLen {
		return RASCPCommand{}, fmt.Errorf("ras: RAS-CP command too long: %d bytes", len(b))
	}
	cmd := RASCPCommand{Opcode: b[0]}
	switch b[0] {
	case OpcodeGetRD, OpcodeAckRD:
		if len(b) != 3 {
			return cmd, fmt.Errorf("%w: opcode 0x%02x wants 2-byte counter, got %d bytes",
				ErrInvalidParameter, b[0], len(b)-1)
		}
		cmd.RangingCounter = uint16(b[1]) | uint16(b[2])<<8
		cmd.HasCounter = true
	}
	return cmd, nil
}
