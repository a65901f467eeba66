package gattsim

import "github.com/nordic-ras/ras/uuid"

type attrType int

const (
	typService attrType = iota
	typCharacteristic
	typCCC
)

// handle is one row of the simulated attribute table. It exists purely for
// introspection (Peripheral.Attributes, used by the demo CLI to print the
// service layout) — dispatch in this package is by UUID + Link, not by
// attribute handle number, since gattsim has no ATT PDU framing. Adapted
// from the teacher's handle.go, trimmed of the real handle-number
// resolution it needed for byte-level ATT requests.
type handle struct {
	n    uint16
	typ  attrType
	uuid uuid.UUID
}

func generateHandles(svcs []*Service) []handle {
	var handles []handle
	n := uint16(1)
	for _, svc := range svcs {
		handles = append(handles, handle{n: n, typ: typService, uuid: svc.UUID})
		n++
		for _, c := range svc.chars {
			handles = append(handles, handle{n: n, typ: typCharacteristic, uuid: c.UUID})
			c.valueHandn = n
			n++
			if c.Props&(CharNotify|CharIndicate) != 0 {
				handles = append(handles, handle{n: n, typ: typCCC, uuid: attrCCCUUID})
				n++
			}
		}
	}
	return handles
}

func (h handle) String() string {
	switch h.typ {
	case typService:
		return "service " + h.uuid.String()
	case typCharacteristic:
		return "  char    " + h.uuid.String()
	default:
		return "  cccd"
	}
}
