package gattsim

import "github.com/nordic-ras/ras/uuid"

// Characteristic property flags. Do not reorder; adapted from the
// teacher's characteristic.go bit layout.
const (
	CharRead = 1 << iota
	CharWriteNoResp
	CharWrite
	CharNotify
	CharIndicate
)

// WriteHandler handles a write (or write-without-response) to a
// characteristic from a connected central. It returns an ATT status byte;
// 0 means success.
type WriteHandler func(link *Link, data []byte) uint8

// ReadHandler handles a read of a characteristic's value.
type ReadHandler func(link *Link) []byte

// Characteristic is a simulated GATT characteristic: a UUID, its
// properties, and the handlers that back reads/writes. Notify/Indicate are
// not handler-driven the way the teacher's HandleNotify callback is —
// RAS decides when to push data from its own work queue, so sends happen
// via Peripheral.Notify/Indicate instead of a per-characteristic goroutine.
type Characteristic struct {
	UUID       uuid.UUID
	Props      uint
	ReadFn     ReadHandler
	WriteFn    WriteHandler
	valueHandn uint16 // assigned by Peripheral.Start
}

// HandleRead registers h as the characteristic's read handler.
func (c *Characteristic) HandleRead(h ReadHandler) *Characteristic {
	c.Props |= CharRead
	c.ReadFn = h
	return c
}

// HandleWrite registers h as the characteristic's write handler.
func (c *Characteristic) HandleWrite(h WriteHandler) *Characteristic {
	c.Props |= CharWrite | CharWriteNoResp
	c.WriteFn = h
	return c
}
