package lights

import (
	"github.com/modsync/vehicle/internal/module"
)

// Part is a light source declared on a vehicle. Composing it attaches the
// lights module if the vehicle has none yet.
type Part struct {
	ID string
}

func (p Part) Compose(b *module.Builder) {
	if !b.Has(Capability) {
		b.Add(Capability, Factory())
	}
	if m, ok := module.Get[*Module](b.Object(), Capability); ok {
		m.addSource(p.ID)
	}
}
