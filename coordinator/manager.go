package coordinator

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/Polqt/dacollab/content"
	"github.com/Polqt/dacollab/registry"
	"github.com/Polqt/dacollab/session"
	"github.com/Polqt/dacollab/storage"
	"github.com/Polqt/dacollab/transport"
)

// serverClientID is the CRDT client id the server itself writes under. It
// only has to be unique within one SharedDocument's engine (each document
// gets its own engine instance with an independent op log namespace), so a
// fixed constant is sufficient — editors get their own ids via the
// awareness protocol, never this one.
const serverClientID = 1

// Manager owns the document registry and the shared dependencies every
// SharedDocument needs (content-store client, durable storage, timing
// config). It is the C6/C4 seam main.go wires up.
type Manager struct {
	registry registry.Store[*SharedDocument]
	content  *content.Client
	db       *storage.BoltStore
	cfg      Config
	log      zerolog.Logger
}

// NewManager builds a Manager backed by a fresh in-process registry.
func NewManager(cc *content.Client, db *storage.BoltStore, cfg Config, log zerolog.Logger) *Manager {
	return &Manager{
		registry: registry.New[*SharedDocument](),
		content:  cc,
		db:       db,
		cfg:      cfg,
		log:      log,
	}
}

// Open returns the live SharedDocument for name, creating and binding one
// if this is the first session to open it, then attaches sess to it.
func (m *Manager) Open(name string, sess *session.Session) *SharedDocument {
	doc, _ := m.registry.GetOrCreate(name, func() *SharedDocument {
		return New(name, serverClientID, m.content, m.db.Bucket(name), m.registry, m.cfg, m.log, sess.Auth)
	})
	doc.Attach(sess)
	return doc
}

// SyncAdmin implements syncAdmin(name) (spec.md §4.7): forcibly closes
// every session for name if it is currently live. Reports whether it was.
func (m *Manager) SyncAdmin(name string) bool {
	doc, ok := m.registry.Get(name)
	if !ok {
		return false
	}
	doc.CloseAllSessions()
	return true
}

// DeleteAdmin implements deleteAdmin(name): identical effect to SyncAdmin,
// per spec.md §4.7's "the correct response for both signals" — they are
// distinguished only by HTTP verb and status code, not by behavior.
func (m *Manager) DeleteAdmin(name string) bool {
	return m.SyncAdmin(name)
}

// SyncAdminHandler serves POST /admin/sync/{name} -> 200/404.
func (m *Manager) SyncAdminHandler(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" || !m.SyncAdmin(name) {
		http.NotFound(w, r)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// DeleteAdminHandler serves DELETE /admin/doc/{name} -> 204/404.
func (m *Manager) DeleteAdminHandler(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" || !m.DeleteAdmin(name) {
		http.NotFound(w, r)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ServeWS upgrades the request and runs the session's read loop until the
// connection closes, wiring it into the named document.
func (m *Manager) ServeWS(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" {
		http.Error(w, "missing document name", http.StatusBadRequest)
		return
	}

	ws, err := transport.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn := transport.NewConn(ws)

	auth := r.Header.Get("Authorization")
	var actions []string
	// No identity/authorization system is in scope (SPEC_FULL.md
	// Non-goals); any forwarded credential is treated as write-capable,
	// an unauthenticated connection is read-only.
	if auth != "" {
		actions = []string{"write"}
	}
	sess := session.New(conn, auth, actions)
	m.log.Info().Str("doc", name).Str("session", sess.ID).Msg("session attached")

	doc := m.Open(name, sess)
	defer func() {
		doc.Detach(sess)
		m.log.Info().Str("doc", name).Str("session", sess.ID).Msg("session detached")
	}()

	stopPing := make(chan struct{})
	defer close(stopPing)
	go func() {
		ticker := time.NewTicker(transport.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.Ping(); err != nil {
					return
				}
			case <-stopPing:
				return
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		doc.HandleFrame(sess, msg)
	}
}
