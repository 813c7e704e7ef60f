package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"easel/cmd/internal/auth/session"
	"easel/cmd/internal/catalog"
)

// MetadataStore is the narrow slice of the catalog the hub needs: canvas
// metadata reads on lazy load and moderation flag writes.
type MetadataStore interface {
	Canvas(ctx context.Context, id string) (catalog.Canvas, error)
	SetModerated(ctx context.Context, canvasID string, moderated bool) error
}

// Hub owns in-memory canvas states and the fanout to their subscribers.
//
// Lifecycle per canvas: unloaded until the first successful registration,
// loaded while it has subscribers, evicted when the last one leaves. The
// durable event log is never touched by eviction.
//
// Lock ordering: hub map lock, then a state's load lock, then its state
// lock. The write lock guarding the log file is independent and never held
// together with the state lock.
type Hub struct {
	log     *slog.Logger
	meta    MetadataStore
	reg     *Registry
	metrics *Metrics

	mu       sync.Mutex
	canvases map[string]*canvasState
}

type canvasState struct {
	id string

	// loadMu serializes lazy loading so concurrent registrations for the
	// same canvas perform exactly one metadata lookup.
	loadMu sync.Mutex
	loaded bool
	gone   bool
	events *EventLog

	mu          sync.RWMutex
	moderated   bool
	subscribers map[string]*subscriber // conn id -> subscriber

	// fileMu is the canvas write lock. It guards only the log file; it
	// totally orders appends for one canvas and is never held across a
	// broadcast.
	fileMu sync.Mutex
}

type subscriber struct {
	userID string
	conn   *Conn
}

// NewHub constructs a hub over the given metadata store and claims registry.
func NewHub(log *slog.Logger, meta MetadataStore, reg *Registry, metrics *Metrics) *Hub {
	return &Hub{
		log:      log,
		meta:     meta,
		reg:      reg,
		metrics:  metrics,
		canvases: make(map[string]*canvasState),
	}
}

// Register subscribes a connection to a canvas. Failures (no permission,
// unknown canvas, storage trouble) produce an advisory to the caller, never
// a hard error: a bad registration must not tear the connection down.
//
// On success the caller receives, in order: the current moderation flag,
// the full event history, then their own permission string. The subscriber
// is inserted before the history snapshot is taken, so no event can fall in
// the gap between replay and live delivery.
func (h *Hub) Register(ctx context.Context, canvasID, userID string, conn *Conn) {
	lvl := h.reg.PermissionLevel(userID, canvasID)
	if lvl == session.LevelNone {
		h.log.Info("hub.register.denied", "canvas_id", canvasID, "user_id", userID)
		conn.TrySend(encodeAdvisory("no access to canvas " + canvasID))
		return
	}

	// The subscriber insert re-checks gone under the state lock: between
	// stateFor returning and the insert, a concurrent last-subscriber
	// unregister may have evicted the state. Inserting into an evicted
	// state would strand the connection outside every live fanout, so a
	// lost race retries against the fresh map entry.
	var (
		st        *canvasState
		moderated bool
	)
	for {
		s, err := h.stateFor(ctx, canvasID)
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				h.log.Info("hub.register.unknown", "canvas_id", canvasID, "user_id", userID)
				conn.TrySend(encodeAdvisory("unknown canvas " + canvasID))
			} else {
				h.log.Error("hub.register.load_fail", "canvas_id", canvasID, "err", err)
				conn.TrySend(encodeAdvisory("canvas temporarily unavailable"))
			}
			return
		}

		s.mu.Lock()
		if s.gone {
			s.mu.Unlock()
			continue
		}
		s.subscribers[conn.ID] = &subscriber{userID: userID, conn: conn}
		moderated = s.moderated
		s.mu.Unlock()

		st = s
		break
	}

	// History snapshot under the write lock: a concurrent append lands
	// either in the snapshot or in a later live broadcast, never in neither.
	st.fileMu.Lock()
	history, skipped, readErr := st.events.ReadAll()
	st.fileMu.Unlock()

	if readErr != nil {
		h.log.Error("hub.history.read_fail", "canvas_id", canvasID, "err", readErr)
		conn.TrySend(encodeAdvisory("history unavailable for canvas " + canvasID))
	}
	if skipped > 0 {
		h.log.Warn("hub.history.skipped_lines", "canvas_id", canvasID, "skipped", skipped)
	}

	conn.TrySend(encodeModerated(canvasID, moderated))
	if readErr == nil {
		conn.TrySend(encodeHistory(canvasID, history))
	}
	conn.TrySend(encodePermission(canvasID, string(lvl)))

	h.log.Info("hub.register", "canvas_id", canvasID, "user_id", userID, "conn_id", conn.ID, "history", len(history))
}

// stateFor returns the loaded state for a canvas, loading it lazily. The
// map lock is never held across the metadata lookup; the per-state load
// lock makes concurrent first registrations single-flight.
func (h *Hub) stateFor(ctx context.Context, canvasID string) (*canvasState, error) {
	for {
		h.mu.Lock()
		st, ok := h.canvases[canvasID]
		if !ok {
			st = &canvasState{id: canvasID, subscribers: make(map[string]*subscriber)}
			h.canvases[canvasID] = st
		}
		h.mu.Unlock()

		st.loadMu.Lock()
		if st.gone {
			// Lost a race with eviction; the map entry is already fresh.
			st.loadMu.Unlock()
			continue
		}
		if st.loaded {
			st.loadMu.Unlock()
			return st, nil
		}

		info, err := h.meta.Canvas(ctx, canvasID)
		if err != nil {
			st.gone = true
			h.mu.Lock()
			if h.canvases[canvasID] == st {
				delete(h.canvases, canvasID)
			}
			h.mu.Unlock()
			st.loadMu.Unlock()
			return nil, err
		}

		st.events = NewEventLog(info.LogPath)
		st.mu.Lock()
		st.moderated = info.Moderated
		st.mu.Unlock()
		st.loaded = true
		st.loadMu.Unlock()

		if h.metrics != nil {
			h.metrics.CanvasesLoaded.Inc()
		}
		h.log.Info("hub.canvas.load", "canvas_id", canvasID, "moderated", info.Moderated)
		return st, nil
	}
}

func (h *Hub) loadedState(canvasID string) *canvasState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.canvases[canvasID]
}

// Unregister removes one connection from one canvas, evicting the canvas
// state when its subscriber set empties.
func (h *Hub) Unregister(canvasID string, conn *Conn) {
	st := h.loadedState(canvasID)
	if st == nil || conn == nil {
		return
	}

	st.mu.Lock()
	delete(st.subscribers, conn.ID)
	st.mu.Unlock()

	h.log.Info("hub.unregister", "canvas_id", canvasID, "conn_id", conn.ID)
	h.evictIfEmpty(st)
}

// UnregisterUser removes every connection a user holds on one canvas.
func (h *Hub) UnregisterUser(canvasID, userID string) {
	st := h.loadedState(canvasID)
	if st == nil {
		return
	}

	st.mu.Lock()
	for id, sub := range st.subscribers {
		if sub.userID == userID {
			delete(st.subscribers, id)
		}
	}
	st.mu.Unlock()

	h.log.Info("hub.unregister_user", "canvas_id", canvasID, "user_id", userID)
	h.evictIfEmpty(st)
}

// DropConn removes a connection from every canvas it subscribed to. It is
// the disconnect cleanup path and runs exactly once per connection.
func (h *Hub) DropConn(conn *Conn) {
	if conn == nil {
		return
	}

	h.mu.Lock()
	states := make([]*canvasState, 0, len(h.canvases))
	for _, st := range h.canvases {
		states = append(states, st)
	}
	h.mu.Unlock()

	for _, st := range states {
		st.mu.Lock()
		_, was := st.subscribers[conn.ID]
		delete(st.subscribers, conn.ID)
		st.mu.Unlock()
		if was {
			h.evictIfEmpty(st)
		}
	}
}

// evictIfEmpty drops a loaded state whose subscriber set has emptied. The
// load lock is held across the map delete so a racing registration observes
// either the live state or its absence, never a half-evicted one.
func (h *Hub) evictIfEmpty(st *canvasState) {
	st.loadMu.Lock()
	st.mu.Lock()
	empty := st.loaded && !st.gone && len(st.subscribers) == 0
	if empty {
		st.gone = true
		h.mu.Lock()
		if h.canvases[st.id] == st {
			delete(h.canvases, st.id)
		}
		h.mu.Unlock()
	}
	st.mu.Unlock()
	st.loadMu.Unlock()

	if empty {
		if h.metrics != nil {
			h.metrics.CanvasesLoaded.Dec()
		}
		h.log.Info("hub.canvas.evict", "canvas_id", st.id)
	}
}

// HandleEvent runs the drawing pipeline: permission gate, ordered append to
// the durable log, verbatim rebroadcast of the sender's raw message.
//
// A denied event is dropped silently (log only); other subscribers never
// learn of it. A failed append aborts before any broadcast, so no subscriber
// renders an event the log does not hold.
func (h *Hub) HandleEvent(ctx context.Context, canvasID, senderID string, events []json.RawMessage, raw []byte) {
	st := h.loadedState(canvasID)
	if st == nil {
		h.log.Info("hub.event.unloaded", "canvas_id", canvasID, "user_id", senderID)
		return
	}

	st.mu.RLock()
	moderated := st.moderated
	st.mu.RUnlock()

	lvl := h.reg.PermissionLevel(senderID, canvasID)
	if !lvl.CanDraw(moderated) {
		if h.metrics != nil {
			h.metrics.EventsDenied.Inc()
		}
		h.log.Info("hub.event.denied", "canvas_id", canvasID, "user_id", senderID, "level", string(lvl), "moderated", moderated)
		return
	}

	st.fileMu.Lock()
	err := st.events.Append(events)
	st.fileMu.Unlock()
	if err != nil {
		h.log.Error("hub.event.append_fail", "canvas_id", canvasID, "err", err)
		return
	}
	if h.metrics != nil {
		h.metrics.EventsAppended.Add(float64(len(events)))
	}

	h.broadcast(st, raw)
}

// Broadcast sends msg to every current subscriber of a canvas. Unloaded
// canvases have no subscribers, so this is a no-op for them.
func (h *Hub) Broadcast(canvasID string, msg []byte) {
	st := h.loadedState(canvasID)
	if st == nil {
		return
	}
	h.broadcast(st, msg)
}

// broadcast is best-effort: a full queue or dead connection is logged and
// skipped, it never blocks delivery to the rest and never unregisters the
// subscriber (cleanup belongs to the disconnect path).
func (h *Hub) broadcast(st *canvasState, msg []byte) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	for _, sub := range st.subscribers {
		if sub.conn.TrySend(msg) {
			if h.metrics != nil {
				h.metrics.BroadcastsSent.Inc()
			}
			continue
		}
		if h.metrics != nil {
			h.metrics.BroadcastsDropped.Inc()
		}
		h.log.Info("hub.broadcast.drop", "canvas_id", st.id, "conn_id", sub.conn.ID)
	}
}

// ToggleModeration flips the moderation flag: in memory first, then the
// metadata store, then a notice to all subscribers. When persistence fails
// the in-memory flip stands and the notice is withheld; the flag reconciles
// from the store on the next canvas load.
func (h *Hub) ToggleModeration(ctx context.Context, canvasID, userID string) {
	lvl := h.reg.PermissionLevel(userID, canvasID)
	if !lvl.CanModerate() {
		h.log.Info("hub.moderation.denied", "canvas_id", canvasID, "user_id", userID, "level", string(lvl))
		return
	}

	st := h.loadedState(canvasID)
	if st == nil {
		h.log.Info("hub.moderation.unloaded", "canvas_id", canvasID, "user_id", userID)
		return
	}

	st.mu.Lock()
	st.moderated = !st.moderated
	moderated := st.moderated
	st.mu.Unlock()

	if err := h.meta.SetModerated(ctx, canvasID, moderated); err != nil {
		h.log.Error("hub.moderation.persist_fail", "canvas_id", canvasID, "moderated", moderated, "err", err)
		return
	}

	h.log.Info("hub.moderation.toggle", "canvas_id", canvasID, "user_id", userID, "moderated", moderated)
	h.broadcast(st, encodeModerated(canvasID, moderated))
}

// Moderated reports the current in-memory moderation flag of a loaded
// canvas.
func (h *Hub) Moderated(canvasID string) (bool, bool) {
	st := h.loadedState(canvasID)
	if st == nil {
		return false, false
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.moderated, true
}

// SubscriberCount reports how many connections are subscribed to a canvas.
func (h *Hub) SubscriberCount(canvasID string) int {
	st := h.loadedState(canvasID)
	if st == nil {
		return 0
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.subscribers)
}
