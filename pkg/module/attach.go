package module

import (
	"log/slog"

	"klbot/pkg/faults"
	"klbot/pkg/state"
)

// Registry is the ordered module list a module attaches to.
//
// Insert appends m and calls bind with the instance ID it allocated, while
// still holding whatever lock protects the list. Remove takes m out of the list
// and calls unbind the same way; it may refuse. Both run while the module's
// own lock is held, so neither may call ID or Attached on any module.
type Registry interface {
	Insert(m Module, bind func(id string)) error
	Remove(m Module, unbind func()) error
	ModuleCacheDir(id string) string
	Logger() *slog.Logger
}

// AttachTo validates the field declaration of m and appends it to r.
func AttachTo(m Module, r Registry) error {
	b := m.base()
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.host != nil {
		return faults.New(faults.KindModuleAttachment, b.id, "module is already attached")
	}
	if err := state.Validate(m.Fields()); err != nil {
		return faults.Wrap(faults.KindModuleSetup, m.Name(), "invalid field declaration", err)
	}

	return r.Insert(m, func(id string) {
		b.id = id
		b.host = r
	})
}

// Detach removes m from its registry and clears its identity.
func Detach(m Module) error {
	b := m.base()
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.host == nil {
		return faults.New(faults.KindModuleAttachment, m.Name(), "module is not attached")
	}

	return b.host.Remove(m, func() {
		b.id = ""
		b.host = nil
	})
}

func (b *Base) registry() (Registry, string) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.host, b.id
}
