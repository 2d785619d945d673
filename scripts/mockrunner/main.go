// Command mockrunner is a stand-in for the code execution service. It speaks
// just enough Socket.IO to accept "run" events and answer with output and
// exit events after a configurable delay, and serves GET /health.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/coderunner/loadtest/internal/socketio"
)

const pingInterval = 5 * time.Second

type runner struct {
	delay     time.Duration
	jitter    time.Duration
	failEvery int64
	runs      atomic.Int64
	upgrader  websocket.Upgrader
}

func main() {
	port := flag.Int("port", 3000, "Listening port")
	delay := flag.Duration("delay", 200*time.Millisecond, "Simulated execution time")
	jitter := flag.Duration("jitter", 100*time.Millisecond, "Random extra execution time")
	failEvery := flag.Int64("fail-every", 0, "Answer every Nth run with a non-zero exit (0 disables)")
	flag.Parse()

	r := &runner{
		delay:     *delay,
		jitter:    *jitter,
		failEvery: *failEvery,
		upgrader:  websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/socket.io/", r.handleSocket)

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("mock runner listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, mux))
}

// conn serialises writes; gorilla connections allow one concurrent writer.
type conn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *conn) write(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

func (c *conn) emit(event string, payload interface{}) error {
	frame, err := socketio.EncodeEvent(event, payload)
	if err != nil {
		return err
	}
	return c.write(frame)
}

func (r *runner) handleSocket(w http.ResponseWriter, req *http.Request) {
	if req.URL.Query().Get("transport") != "websocket" {
		http.Error(w, "only the websocket transport is supported", http.StatusBadRequest)
		return
	}
	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}
	defer ws.Close()
	c := &conn{ws: ws}

	open := fmt.Sprintf(`0{"sid":"mock-%d","upgrades":[],"pingInterval":%d,"pingTimeout":%d,"maxPayload":1000000}`,
		time.Now().UnixNano(), pingInterval.Milliseconds(), pingInterval.Milliseconds())
	if err := c.write([]byte(open)); err != nil {
		return
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		t := time.NewTicker(pingInterval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				if err := c.write([]byte("2")); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		p, err := socketio.DecodePacket(data)
		if err != nil {
			log.Printf("bad packet %q: %v", data, err)
			continue
		}
		switch {
		case p.Engine == '4' && p.Socket == '0':
			if err := c.write([]byte(fmt.Sprintf(`40{"sid":"sock-%d"}`, time.Now().UnixNano()))); err != nil {
				return
			}
		case p.IsEvent():
			name, payload, err := p.Event()
			if err != nil || name != "run" {
				continue
			}
			go r.execute(c, payload)
		}
	}
}

func (r *runner) execute(c *conn, payload []byte) {
	n := r.runs.Add(1)
	language := gjson.GetBytes(payload, "language").String()
	files := gjson.GetBytes(payload, "files.#").Int()

	took := r.delay
	if r.jitter > 0 {
		took += time.Duration(rand.Int63n(int64(r.jitter)))
	}
	time.Sleep(took)

	code := 0
	if r.failEvery > 0 && n%r.failEvery == 0 {
		code = 1
	}
	_ = c.emit("output", map[string]string{
		"data": fmt.Sprintf("mock %s run %d (%d files)\n", language, n, files),
	})
	_ = c.emit("exit", map[string]interface{}{
		"code":          code,
		"executionTime": took.Milliseconds(),
	})
}
