package devserver

import (
	"encoding/json"
	"net/http"
	goSync "sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// SyncFinishedSignal is sent to browsers once a sync cycle completes.
const SyncFinishedSignal = "sync-finished"

// Notification is the message broadcast to connected browsers.
type Notification struct {
	Signal     string `json:"signal"`
	HadChanges bool   `json:"hadChanges"`
}

// ReloadHub tracks the browsers connected to the live reload socket.
type ReloadHub struct {
	clients  map[*websocket.Conn]struct{}
	lock     goSync.RWMutex
	upgrader websocket.Upgrader

	// writeLock serializes broadcasts, since a connection only supports one
	// concurrent writer.
	writeLock goSync.Mutex

	log *logrus.Logger
}

// NewReloadHub creates an empty ReloadHub.
func NewReloadHub(logger *logrus.Logger) *ReloadHub {
	return &ReloadHub{
		clients: map[*websocket.Conn]struct{}{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The theme is previewed from the store's domain, not from the
			// dev server.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: logger,
	}
}

// HandleWebSocket upgrades the request and holds the connection open until
// the browser disconnects.
func (h *ReloadHub) HandleWebSocket(w http.ResponseWriter, req *http.Request) {
	conn, err := h.upgrader.Upgrade(w, req, nil)
	if err != nil {
		h.log.WithError(err).Debug("Failed to upgrade reload connection")
		return
	}

	h.lock.Lock()
	h.clients[conn] = struct{}{}
	h.lock.Unlock()
	h.log.WithField("remote", req.RemoteAddr).Debug("Browser connected for live reload")

	// Browsers don't send anything, but reading is required to notice when
	// the connection closes.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.remove(conn)
}

// Publish sends `n` to every connected browser. Browsers that can't be
// written to are disconnected.
func (h *ReloadHub) Publish(n Notification) {
	data, err := json.Marshal(n)
	if err != nil {
		h.log.WithError(err).Warn("Failed to marshal reload notification")
		return
	}

	h.lock.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.lock.RUnlock()

	h.writeLock.Lock()
	defer h.writeLock.Unlock()
	for _, client := range clients {
		if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
			h.remove(client)
		}
	}
}

// ClientCount returns the number of connected browsers.
func (h *ReloadHub) ClientCount() int {
	h.lock.RLock()
	defer h.lock.RUnlock()
	return len(h.clients)
}

// Close disconnects all browsers.
func (h *ReloadHub) Close() {
	h.lock.Lock()
	defer h.lock.Unlock()

	for client := range h.clients {
		client.Close()
		delete(h.clients, client)
	}
}

func (h *ReloadHub) remove(conn *websocket.Conn) {
	h.lock.Lock()
	delete(h.clients, conn)
	h.lock.Unlock()
	conn.Close()
}

// reloadScript connects to the reload socket from the theme's pages, and
// refreshes the page once changed files have been uploaded.
const reloadScript = `(function() {
  var host = document.currentScript.src.split('/')[2];
  var retryDelay = 1000;
  function connect() {
    var ws = new WebSocket('ws://' + host + '/__slate/reload');
    ws.onopen = function() { retryDelay = 1000; };
    ws.onmessage = function(e) {
      var msg = JSON.parse(e.data);
      if (msg.signal === 'sync-finished' && msg.hadChanges) {
        location.reload();
      }
    };
    ws.onclose = function() {
      setTimeout(connect, retryDelay);
      retryDelay = Math.min(retryDelay * 2, 30000);
    };
  }
  connect();
})();
`
