package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	livenessBody    = "Signaling Server Running"
	writeTimeout    = 10 * time.Second
	shutdownTimeout = 5 * time.Second
)

type Config struct {
	Addr      string
	Logger    logrus.FieldLogger
	ReadLimit int64
}

// Server accepts relay clients over WebSocket and serves the liveness check.
type Server struct {
	config   Config
	logger   logrus.FieldLogger
	registry *Registry
	relay    *SignalRelay
	listener net.Listener
	http     *http.Server
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[*wsConn]struct{}
	nextID atomic.Uint64
	once   sync.Once
}

func NewServer(cfg Config) (*Server, error) {
	ls, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	registry := NewRegistry()
	s := &Server{
		config:   cfg,
		logger:   logger,
		registry: registry,
		relay:    NewSignalRelay(registry, logger),
		listener: ls,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		conns: make(map[*wsConn]struct{}),
	}
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

func (s *Server) Registry() *Registry {
	return s.registry
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			s.serveWS(w, r)
			return
		}
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		s.serveLiveness(w, r)
	})
	mux.HandleFunc("/ws", s.serveWS)
	mux.HandleFunc("/healthz", s.serveLiveness)
	mux.HandleFunc("/peers", s.servePeers)
	return mux
}

func (s *Server) Start(ctx context.Context) error {
	s.logger.WithField("addr", s.Addr()).Info("Signaling server running")

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		_ = s.Shutdown()
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) Shutdown() error {
	var err error
	s.once.Do(func() {
		s.logger.Info("Shutting down signaling server")

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err = s.http.Shutdown(ctx)

		s.mu.Lock()
		conns := make([]*wsConn, 0, len(s.conns))
		for c := range s.conns {
			conns = append(conns, c)
		}
		s.mu.Unlock()

		for _, c := range conns {
			_ = c.Close()
		}
	})
	return err
}

func (s *Server) serveLiveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(livenessBody))
}

func (s *Server) servePeers(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int{"peers": s.registry.Len()})
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}
	if s.config.ReadLimit > 0 {
		ws.SetReadLimit(s.config.ReadLimit)
	}

	conn := &wsConn{
		id: strconv.FormatUint(s.nextID.Add(1), 10),
		ws: ws,
	}
	s.handlePeer(conn, r.RemoteAddr)
}

func (s *Server) handlePeer(conn *wsConn, remoteAddr string) {
	log := s.logger.WithFields(logrus.Fields{"conn": conn.id, "remote": remoteAddr})
	log.Info("Peer connected")

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.relay.Deregister(conn)
		_ = conn.Close()

		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()

		log.Info("Peer disconnected")
	}()

	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.WithError(err).Debug("Read failed")
			}
			return
		}

		msg, err := DecodeMessage(data)
		if err != nil {
			log.WithError(err).Warn("Dropping message")
			continue
		}

		if err := s.relay.Handle(conn, msg); err != nil {
			log.WithError(err).WithField("event", msg.Event).Warn("Dropping message")
		}
	}
}

type wsConn struct {
	id string
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *wsConn) ID() string {
	return c.id
}

func (c *wsConn) Send(msg *Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteJSON(msg)
}

func (c *wsConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.Close()
}
