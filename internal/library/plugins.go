package library

import (
	"log"
	"sort"
	"sync"
)

// Plugin event names, sent in pipeline order.
const (
	EventImportBegin            = "import_begin"
	EventImportTaskCreated      = "import_task_created"
	EventImportTaskStart        = "import_task_start"
	EventImportTaskBeforeChoice = "import_task_before_choice"
	EventImportTaskChoice       = "import_task_choice"
	EventImportTaskApply        = "import_task_apply"
	EventItemRemoved            = "item_removed"
	EventAlbumRemoved           = "album_removed"
	EventCliExit                = "cli_exit"
)

// Handler receives a plugin event. Arguments are opaque to the hub;
// the sender and the registered plugin agree on their shapes. Return
// values are collected and handed back to the sender; only
// import_task_before_choice results are interpreted (as additional
// candidate offers).
type Handler func(event string, args ...interface{}) interface{}

// PluginHub dispatches library events to registered plugins by name,
// in registration-name order so dispatch is deterministic.
type PluginHub struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewPluginHub() *PluginHub {
	return &PluginHub{handlers: make(map[string]Handler)}
}

// Register installs a named plugin. Re-registering a name replaces the
// previous handler.
func (h *PluginHub) Register(name string, fn Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[name] = fn
}

// Send delivers event to every plugin and returns the non-nil results.
// A panicking plugin is logged and skipped; plugin faults must not
// abort an import.
func (h *PluginHub) Send(event string, args ...interface{}) []interface{} {
	h.mu.RLock()
	names := make([]string, 0, len(h.handlers))
	for name := range h.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	handlers := make([]Handler, len(names))
	for i, name := range names {
		handlers[i] = h.handlers[name]
	}
	h.mu.RUnlock()

	var results []interface{}
	for i, fn := range handlers {
		res := func() (res interface{}) {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("Plugins: %s handler for %s panicked: %v", names[i], event, r)
					res = nil
				}
			}()
			return fn(event, args...)
		}()
		if res != nil {
			results = append(results, res)
		}
	}
	return results
}
