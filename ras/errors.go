package ras

import "errors"

// Sentinel errors surfaced by the wire codec and the RRSP/RREQ state
// machines. Matches the teacher's style of package-level sentinel errors
// (server.go's ErrEIRPacketTooLong) rather than bespoke error types for
// every failure.
var (
	// ErrInvalidParameter corresponds to RASCP_RESPONSE_INVALID_PARAMETER:
	// a RAS-CP command's parameters were malformed for its opcode.
	ErrInvalidParameter = errors.New("ras: invalid RAS-CP parameter")

	// ErrOpcodeNotSupported corresponds to RASCP_RESPONSE_OPCODE_NOT_SUPPORTED.
	ErrOpcodeNotSupported = errors.New("ras: RAS-CP opcode not supported")

	// ErrServerBusy corresponds to RASCP_RESPONSE_SERVER_BUSY.
	ErrServerBusy = errors.New("ras: server busy")

	// ErrNoRecordsFound corresponds to RASCP_RESPONSE_NO_RECORDS_FOUND.
	ErrNoRecordsFound = errors.New("ras: no records found")

	// ErrProcedureNotCompleted corresponds to RASCP_RESPONSE_PROCEDURE_NOT_COMPLETED.
	ErrProcedureNotCompleted = errors.New("ras: procedure not completed")

	// ErrPoolExhausted is returned by RdBufferPool.OpenForWrite when no
	// buffer slot and no evictable victim are available.
	ErrPoolExhausted = errors.New("ras: buffer pool exhausted")

	// ErrNotReady is returned by RdBufferPool.Claim when no ready buffer
	// matches the requested key.
	ErrNotReady = errors.New("ras: ranging data not ready")

	// ErrGetInProgress is returned by RreqCore.GetRangingData when a GET is
	// already outstanding.
	ErrGetInProgress = errors.New("ras: ranging data get already in progress")

	// ErrNotSubscribed corresponds to the RAS_ATT_ERROR_CCC_CONFIG
	// application ATT error (0xFD): a RAS-CP write arrived without the
	// client having subscribed to RAS-CP indications first.
	ErrNotSubscribed = errors.New("ras: RAS-CP write without indicate subscription")

	// ErrCommandPending corresponds to RAS_ATT_ERROR_WRITE_REQ_REJECTED
	// (0xFC): a RAS-CP write arrived while a previous command is still
	// being processed by the work queue.
	ErrCommandPending = errors.New("ras: RAS-CP command already pending")
)
