// Package wsrelay delivers authorization-completion signals to waiting
// clients over websockets. A client starting an interactive flow subscribes
// with its flow id; when the callback handler finishes, every subscriber on
// that flow receives one completion message and the connection closes.
// Clients that cannot hold a websocket fall back to polling the token
// endpoint, so delivery here is best effort.
package wsrelay

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// CompleteMessageType tags the completion message so clients can ignore
// anything else that may appear on the socket.
const CompleteMessageType = "typedown:auth-complete"

// writeTimeout bounds the post-completion write so a stalled subscriber
// cannot pin the callback handler's notify path.
const writeTimeout = 5 * time.Second

// CompleteMessage is the single payload the relay ever sends.
type CompleteMessage struct {
	Type string `json:"type"`
	Flow string `json:"flow"`
}

// Manager tracks flow subscriptions and fans completion signals out to them.
type Manager struct {
	upgrader websocket.Upgrader

	mu    sync.Mutex
	flows map[string][]chan struct{}
}

// NewManager builds a relay manager. Cross-origin upgrades are refused; the
// relay lives on the same origin as the callback page.
func NewManager() *Manager {
	return &Manager{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  512,
			WriteBufferSize: 512,
		},
		flows: make(map[string][]chan struct{}),
	}
}

// Notify wakes every subscriber waiting on the given flow id. Unknown flow
// ids are a no-op; the subscriber may simply not have connected yet and will
// fall back to polling.
func (m *Manager) Notify(flowID string) {
	flowID = strings.TrimSpace(flowID)
	if flowID == "" {
		return
	}

	m.mu.Lock()
	waiters := m.flows[flowID]
	delete(m.flows, flowID)
	m.mu.Unlock()

	for _, ch := range waiters {
		close(ch)
	}
	if len(waiters) > 0 {
		log.Debugf("auth flow %s completed, notified %d subscriber(s)", flowID, len(waiters))
	}
}

// ServeWatch upgrades the request to a websocket subscribed to the flow id in
// the td_flow query parameter, and holds it until the flow completes or the
// client goes away.
func (m *Manager) ServeWatch(w http.ResponseWriter, r *http.Request) {
	flowID := strings.TrimSpace(r.URL.Query().Get("td_flow"))
	if flowID == "" {
		http.Error(w, "td_flow is required", http.StatusBadRequest)
		return
	}

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debugf("websocket upgrade failed: %v", err)
		return
	}

	done := m.subscribe(flowID)
	defer m.unsubscribe(flowID, done)

	// Reader goroutine: its only job is to notice the peer closing.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, errRead := conn.ReadMessage(); errRead != nil {
				return
			}
		}
	}()

	select {
	case <-done:
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if errWrite := conn.WriteJSON(CompleteMessage{Type: CompleteMessageType, Flow: flowID}); errWrite != nil {
			log.Debugf("completion write for flow %s failed: %v", flowID, errWrite)
		}
	case <-closed:
	}
	_ = conn.Close()
}

func (m *Manager) subscribe(flowID string) chan struct{} {
	ch := make(chan struct{})
	m.mu.Lock()
	m.flows[flowID] = append(m.flows[flowID], ch)
	m.mu.Unlock()
	return ch
}

func (m *Manager) unsubscribe(flowID string, ch chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	waiters := m.flows[flowID]
	for i, candidate := range waiters {
		if candidate == ch {
			m.flows[flowID] = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
	if len(m.flows[flowID]) == 0 {
		delete(m.flows, flowID)
	}
}
