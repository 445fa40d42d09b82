package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/typedown-app/typedown/sdk/drive"
)

// Storage is the slice of the Drive client the engine needs.
type Storage interface {
	Metadata(ctx context.Context, fileID string) (*drive.FileMeta, error)
	Download(ctx context.Context, fileID string) ([]byte, error)
	Upload(ctx context.Context, fileID string, content []byte) error
}

// ErrMultiFileOpen rejects open-state parameters selecting more than one
// file; batch handling is explicitly out of scope.
var ErrMultiFileOpen = errors.New("sync: multi-file selections are not supported")

// defaultDebounce is the coalescing window for autosave bursts.
const defaultDebounce = 2 * time.Second

// fileSession tracks the currently opened file. The engine owns it
// exclusively; the runtime only ever sees content and the save callback.
type fileSession struct {
	id           string
	name         string
	contentHash  uint64
	headRevision string
	forceNext    bool
}

type saveOutcome struct {
	saved bool
	err   error
}

// pendingSave is the single queued save. A newer request overwrites the
// payload (last-write-wins) but keeps every waiter; all of them learn the
// one eventual outcome.
type pendingSave struct {
	content string
	method  SaveMethod
	waiters []chan saveOutcome
}

// Engine is the client synchronization engine for one opened file.
type Engine struct {
	storage  Storage
	runtime  DocumentRuntime
	notifier Notifier
	online   func() bool
	debounce time.Duration

	mu         sync.Mutex
	file       *fileSession
	pending    *pendingSave
	processing bool
}

// Options tunes engine behavior; zero values select defaults.
type Options struct {
	// Debounce is the autosave coalescing window.
	Debounce time.Duration

	// Online reports network availability. When it returns false a save
	// request immediately resolves false so the runtime's built-in local
	// fallback saver takes over. Defaults to always-online.
	Online func() bool
}

// NewEngine wires the engine to its collaborators.
func NewEngine(storage Storage, runtime DocumentRuntime, notifier Notifier, opts *Options) *Engine {
	e := &Engine{
		storage:  storage,
		runtime:  runtime,
		notifier: notifier,
		online:   func() bool { return true },
		debounce: defaultDebounce,
	}
	if opts != nil {
		if opts.Debounce > 0 {
			e.debounce = opts.Debounce
		}
		if opts.Online != nil {
			e.online = opts.Online
		}
	}
	return e
}

// Open loads the file named by the page's open-state parameter (the Drive
// "open with" JSON carrying ids and action), renders it into the runtime,
// and registers the save callback. Exactly one file id is accepted.
func (e *Engine) Open(ctx context.Context, openState string) error {
	ids := gjson.Get(openState, "ids").Array()
	if len(ids) != 1 {
		return ErrMultiFileOpen
	}
	fileID := ids[0].String()

	meta, err := e.storage.Metadata(ctx, fileID)
	if err != nil {
		return fmt.Errorf("sync: load metadata: %w", err)
	}
	content, err := e.storage.Download(ctx, fileID)
	if err != nil {
		return fmt.Errorf("sync: load content: %w", err)
	}

	e.mu.Lock()
	e.file = &fileSession{
		id:           fileID,
		name:         meta.Name,
		contentHash:  ContentHash(content),
		headRevision: meta.HeadRevisionID,
	}
	e.mu.Unlock()

	e.runtime.Load(meta.Name, string(content))
	e.runtime.RegisterSaver(SaverDescriptor{
		Extension:    "typedown-drive",
		Capabilities: []SaveMethod{SaveManual, SaveAuto},
	}, e.handleSave)

	log.Debugf("opened file %s (%s)", fileID, meta.Name)
	return nil
}

// Rename pushes a changed document title to the remote file. Storage
// backends without rename support, unchanged names and empty names are
// no-ops.
func (e *Engine) Rename(ctx context.Context, name string) error {
	e.mu.Lock()
	file := e.file
	e.mu.Unlock()
	if file == nil {
		return errors.New("sync: no file open")
	}
	if name == "" || name == file.name {
		return nil
	}
	renamer, ok := e.storage.(interface {
		Rename(ctx context.Context, fileID, name string) error
	})
	if !ok {
		return nil
	}
	if err := renamer.Rename(ctx, file.id, name); err != nil {
		return fmt.Errorf("sync: rename: %w", err)
	}
	e.mu.Lock()
	if e.file != nil && e.file.id == file.id {
		e.file.name = name
	}
	e.mu.Unlock()
	log.Debugf("renamed file %s to %q", file.id, name)
	return nil
}

// FileName returns the display name of the opened file, or "".
func (e *Engine) FileName() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.file == nil {
		return ""
	}
	return e.file.name
}

// ForceNextSave arms the one-shot override: the next upload attempt skips
// the conflict preflight. The flag is consumed by that attempt whether or
// not the upload succeeds.
func (e *Engine) ForceNextSave() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.file != nil {
		e.file.forceNext = true
	}
}

// handleSave is the runtime's save callback. It enqueues the request into
// the single pending slot and blocks until the queue resolves it.
func (e *Engine) handleSave(ctx context.Context, content string, method SaveMethod) (bool, error) {
	if !e.online() {
		// Let the runtime's own fallback saver (local download) take over.
		return false, nil
	}

	waiter := make(chan saveOutcome, 1)

	e.mu.Lock()
	if e.file == nil {
		e.mu.Unlock()
		return false, errors.New("sync: no file open")
	}
	if e.pending == nil {
		e.pending = &pendingSave{content: content, method: method}
	} else {
		// Last write wins; earlier waiters ride along.
		e.pending.content = content
		e.pending.method = method
	}
	e.pending.waiters = append(e.pending.waiters, waiter)
	kick := !e.processing
	if kick {
		e.processing = true
	}
	e.mu.Unlock()

	if kick {
		go e.processSaveQueue()
	}

	select {
	case outcome := <-waiter:
		return outcome.saved, outcome.err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// processSaveQueue drains the pending slot. At most one instance runs at a
// time, which is what keeps uploads serialized.
func (e *Engine) processSaveQueue() {
	for {
		e.mu.Lock()
		if e.pending == nil {
			e.processing = false
			e.mu.Unlock()
			return
		}
		method := e.pending.method
		e.mu.Unlock()

		// The debounce runs before the payload is taken, so an autosave
		// burst collapses into one upload carrying the newest content.
		if method == SaveAuto {
			time.Sleep(e.debounce)
		}

		e.mu.Lock()
		job := e.pending
		e.pending = nil
		e.mu.Unlock()
		if job == nil {
			continue
		}

		saved, err := e.uploadOnce(context.Background(), job.content)
		for _, waiter := range job.waiters {
			waiter <- saveOutcome{saved: saved, err: err}
		}
		if err != nil && e.notifier != nil {
			go e.notifier.SaveFailed(err.Error())
		}
	}
}

// uploadOnce runs the conflict preflight (unless overridden) and a single
// upload. A detected conflict resolves false without error: it is a user
// decision point, not a failure.
func (e *Engine) uploadOnce(ctx context.Context, content string) (bool, error) {
	e.mu.Lock()
	file := e.file
	force := file != nil && file.forceNext
	if file != nil {
		file.forceNext = false
	}
	e.mu.Unlock()
	if file == nil {
		return false, errors.New("sync: no file open")
	}

	if !force {
		changed, err := e.remoteChanged(ctx, file)
		if err != nil {
			return false, err
		}
		if changed {
			log.Debugf("remote content changed under file %s, surfacing conflict", file.id)
			if e.notifier != nil {
				// Delivered on its own goroutine: the notifier may invoke
				// saveAnyway synchronously, which re-enters the save path
				// this queue goroutine services.
				go e.notifier.Conflict(func() {
					e.ForceNextSave()
					e.runtime.TriggerSave()
				})
			}
			return false, nil
		}
	}

	if err := e.storage.Upload(ctx, file.id, []byte(content)); err != nil {
		return false, fmt.Errorf("sync: upload: %w", err)
	}

	// Refresh the tracked revision so the next preflight compares against
	// the state this upload produced.
	newRevision := ""
	if meta, err := e.storage.Metadata(ctx, file.id); err == nil {
		newRevision = meta.HeadRevisionID
	}

	e.mu.Lock()
	if e.file != nil && e.file.id == file.id {
		e.file.contentHash = ContentHash([]byte(content))
		if newRevision != "" {
			e.file.headRevision = newRevision
		}
	}
	e.mu.Unlock()

	e.runtime.ResetDirty()
	return true, nil
}

// remoteChanged compares the remote state against what was loaded. The head
// revision id is a cheap version marker when both sides know it; otherwise
// the content itself is re-fetched and hashed. The check is not atomic with
// the upload that follows; that narrow race is accepted.
func (e *Engine) remoteChanged(ctx context.Context, file *fileSession) (bool, error) {
	meta, err := e.storage.Metadata(ctx, file.id)
	if err != nil {
		return false, fmt.Errorf("sync: conflict preflight: %w", err)
	}
	if meta.HeadRevisionID != "" && file.headRevision != "" {
		return meta.HeadRevisionID != file.headRevision, nil
	}

	content, err := e.storage.Download(ctx, file.id)
	if err != nil {
		return false, fmt.Errorf("sync: conflict preflight: %w", err)
	}
	return ContentHash(content) != file.contentHash, nil
}
