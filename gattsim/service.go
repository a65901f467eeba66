package gattsim

import "github.com/nordic-ras/ras/uuid"

// Service is a simulated primary GATT service: a UUID and its
// characteristics. Adapted from the teacher's service.go; AddCharacteristic
// keeps the same panic-on-duplicate-UUID behavior.
type Service struct {
	UUID  uuid.UUID
	chars []*Characteristic
}

// NewService constructs an empty service with the given UUID.
func NewService(u uuid.UUID) *Service {
	return &Service{UUID: u}
}

// AddCharacteristic adds a characteristic to the service. It panics if the
// service already contains another characteristic with the same UUID.
func (s *Service) AddCharacteristic(u uuid.UUID) *Characteristic {
	for _, c := range s.chars {
		if c.UUID.Equal(u) {
			panic("gattsim: service already contains a characteristic with uuid " + u.String())
		}
	}
	c := &Characteristic{UUID: u}
	s.chars = append(s.chars, c)
	return c
}

// Characteristics returns the service's characteristics in registration order.
func (s *Service) Characteristics() []*Characteristic {
	return s.chars
}
