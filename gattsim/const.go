package gattsim

// This file includes constants from the BLE spec needed to model the
// Ranging Service's attribute table: attribute types and the client
// characteristic configuration bits. Adapted from the teacher's const.go,
// trimmed to the handful of 16-bit assigned numbers this package actually
// dispatches on (GAP/GATT declaration UUIDs the teacher carried for
// advertising are not needed here; gattsim has no radio).

import "github.com/nordic-ras/ras/uuid"

var (
	attrPrimaryServiceUUID = uuid.UUID16(0x2800)
	attrCharacteristicUUID = uuid.UUID16(0x2803)
	attrCCCUUID            = uuid.UUID16(0x2902)
)

// CCC value bits, as written by a central to a characteristic's Client
// Characteristic Configuration descriptor.
const (
	cccNotifyBit   = 0x0001
	cccIndicateBit = 0x0002
)
