// Package registry tracks loaded factory modules and dispatches component
// instantiation to the correct factory.
//
// A module is a named unit supplying provider and client factories for one
// or more component types, together with each type's declared dependency
// schema. Go offers no safe equivalent of dlopen, so "loading" a module
// resolves its path against a process-global table of registered module
// constructors; module implementations register themselves at init time.
// Once loaded, a module stays loaded for the daemon's lifetime.
package registry
