// Package sync owns the currently opened Drive file and its save pipeline:
// load, hash-based conflict preflight, a coalescing save queue with autosave
// debounce, and the forced-override path. The embedded document runtime is a
// narrow interface here; the engine never reaches into it beyond the save
// registration contract.
package sync

import "context"

// SaveMethod distinguishes explicit saves from autosaves. Autosaves are
// debounced and coalesced; explicit saves are processed immediately.
type SaveMethod string

const (
	SaveManual SaveMethod = "save"
	SaveAuto   SaveMethod = "autosave"
)

// SaverDescriptor names the save extension registered with the runtime and
// the methods it handles.
type SaverDescriptor struct {
	Extension    string
	Capabilities []SaveMethod
}

// SaveHandler is the callback the runtime invokes with the current document
// content. It returns true when the content was written to storage, false
// when the save was handled without an upload (conflict surfaced to the
// user, or offline fallback) and the runtime should keep its own counsel; a
// non-nil error marks a failed save the runtime should surface.
type SaveHandler func(ctx context.Context, content string, method SaveMethod) (bool, error)

// DocumentRuntime is the contract with the embedded document editor. The
// real runtime is a third-party component; tests use a mock.
type DocumentRuntime interface {
	// Load renders a document into the editor.
	Load(name, content string)

	// RegisterSaver plugs a save handler into the runtime's extension point.
	RegisterSaver(desc SaverDescriptor, handler SaveHandler)

	// TriggerSave asks the runtime to run a save through its own entry
	// point, as if the user had pressed save.
	TriggerSave()

	// ResetDirty clears the runtime's dirty counter after a successful save.
	ResetDirty()
}

// Notifier surfaces engine outcomes to the surrounding UI. Visual treatment
// (toast, modal) is the embedder's business. Every notification is delivered
// on its own goroutine, so an implementation may start another save directly
// from the callback.
type Notifier interface {
	// Conflict reports that the remote copy changed since it was loaded.
	// saveAnyway overrides the check and re-triggers the save; it is safe to
	// call synchronously from inside the callback.
	Conflict(saveAnyway func())

	// SaveFailed reports an unrecoverable save failure.
	SaveFailed(message string)
}
