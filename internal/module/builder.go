package module

// Factory creates a module for an object under construction.
type Factory func(o *Object) Module

// Composer contributes modules to an object under construction. Content
// parts implement it to pull in the modules they depend on.
type Composer interface {
	Compose(b *Builder)
}

// Entry is a plain (capability, factory) pair.
type Entry struct {
	Capability Capability
	Factory    Factory
}

// Compose adds the entry's module.
func (e Entry) Compose(b *Builder) {
	b.Add(e.Capability, e.Factory)
}

// Builder attaches modules to an object during construction.
type Builder struct {
	obj *Object
}

// Add attaches a module unless one of the same capability already exists.
// It reports whether the module was inserted.
func (b *Builder) Add(c Capability, f Factory) bool {
	return b.obj.AddModule(c, f)
}

// Has reports whether a module of capability c is attached.
func (b *Builder) Has(c Capability) bool {
	_, ok := b.obj.GetModule(c)
	return ok
}

// Object returns the object under construction.
func (b *Builder) Object() *Object {
	return b.obj
}
