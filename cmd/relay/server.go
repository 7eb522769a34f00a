package main

import (
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/ssungk/vbuf/internal/sizedpool"
	"github.com/ssungk/vbuf/pkg/vbuf"
)

// Server relays frames published on a channel to every subscriber of that
// same channel, using a shared sizedpool.Registry as the source of pooled
// buffers and a per-subscriber vbuf.Queue to absorb rate differences.
type Server struct {
	cfg      Config
	pool     *sizedpool.Registry
	channels map[string]*Channel
	mu       sync.RWMutex
}

// Channel is one named publish/subscribe group.
type Channel struct {
	name        string
	publisher   *Session
	subscribers map[*Session]bool
	mu          sync.RWMutex
}

// NewServer creates a relay server with a fresh buffer pool.
func NewServer(cfg Config) (*Server, error) {
	pool, err := sizedpool.New(cfg.PoolTierCount, 0)
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:      cfg,
		pool:     pool,
		channels: make(map[string]*Channel),
	}, nil
}

// Run listens on cfg.Addr and accepts connections forever. It exits the
// process if it cannot listen; a failed Accept is logged and the loop goes
// on.
func (s *Server) Run() {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		slog.Error("failed to start relay server", "error", err, "addr", s.cfg.Addr)
		os.Exit(1)
	}
	defer listener.Close()

	slog.Info("relay server started", "addr", s.cfg.Addr)

	for {
		netConn, err := listener.Accept()
		if err != nil {
			slog.Error("accept failed", "error", err)
			continue
		}

		session := newSession(netConn, s)
		go session.run()
	}
}

// GetOrCreateChannel returns the named channel, creating it if absent.
func (s *Server) GetOrCreateChannel(name string) *Channel {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.channels[name]
	if !ok {
		ch = &Channel{name: name, subscribers: make(map[*Session]bool)}
		s.channels[name] = ch
	}
	return ch
}

// RemoveChannel deletes the named channel if it has no publisher and no
// subscribers left.
func (s *Server) RemoveChannel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.channels[name]
	if !ok {
		return
	}

	ch.mu.RLock()
	empty := ch.publisher == nil && len(ch.subscribers) == 0
	ch.mu.RUnlock()

	if empty {
		delete(s.channels, name)
		slog.Info("channel removed", "channel", name)
	}
}

func (ch *Channel) setPublisher(s *Session) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.publisher = s
}

func (ch *Channel) removePublisher(s *Session) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.publisher == s {
		ch.publisher = nil
	}
}

func (ch *Channel) addSubscriber(s *Session) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.subscribers[s] = true
	slog.Info("subscriber added", "channel", ch.name, "total", len(ch.subscribers))
}

func (ch *Channel) removeSubscriber(s *Session) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	delete(ch.subscribers, s)
	slog.Info("subscriber removed", "channel", ch.name, "total", len(ch.subscribers))
}

func (ch *Channel) subscriberList() []*Session {
	ch.mu.RLock()
	defer ch.mu.RUnlock()

	list := make([]*Session, 0, len(ch.subscribers))
	for sub := range ch.subscribers {
		list = append(list, sub)
	}
	return list
}

// publish hands buf to every current subscriber's queue; buf itself is
// Unref'd by the caller once this returns, since Queue.Push takes its own
// reference per subscriber.
func (ch *Channel) publish(buf *vbuf.Buffer) {
	for _, sub := range ch.subscriberList() {
		if err := sub.outQueue.Push(buf); err != nil {
			slog.Warn("dropping frame for slow subscriber", "channel", ch.name, "error", err)
		}
	}
}
