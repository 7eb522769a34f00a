package main

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"

	"github.com/ssungk/vbuf/pkg/vbuf"
)

// Session is one client connection, acting as either a publisher or a
// subscriber depending on the first line it sends.
type Session struct {
	server   *Server
	netConn  net.Conn
	conn     *frameConn
	channel  *Channel
	role     string // "publish" or "subscribe"
	outQueue *vbuf.Queue
}

func newSession(netConn net.Conn, server *Server) *Session {
	return &Session{
		server:  server,
		netConn: netConn,
		conn:    newFrameConn(netConn),
	}
}

// run drives the session's handshake and main loop; it always closes the
// underlying connection and, if this session ended up subscribed, leaves its
// channel cleanly.
func (s *Session) run() {
	defer s.close()

	role, channelName, err := s.readHandshake()
	if err != nil {
		slog.Error("handshake failed", "error", err, "address", s.netConn.RemoteAddr())
		return
	}

	s.role = role
	s.channel = s.server.GetOrCreateChannel(channelName)
	slog.Info("client connected", "address", s.netConn.RemoteAddr(), "role", role, "channel", channelName)

	switch role {
	case "publish":
		s.channel.setPublisher(s)
		defer s.channel.removePublisher(s)
		s.runPublisher()
	case "subscribe":
		s.outQueue = vbuf.NewQueue(s.server.cfg.SubscriberQueueSize, true, nil)
		s.channel.addSubscriber(s)
		defer s.channel.removeSubscriber(s)
		s.runSubscriber()
	}

	s.server.RemoveChannel(channelName)
	slog.Info("client disconnected", "address", s.netConn.RemoteAddr())
}

// readHandshake reads a single newline-terminated line of the form
// "publish <channel>" or "subscribe <channel>".
func (s *Session) readHandshake() (role, channel string, err error) {
	line, err := s.conn.ReadString('\n')
	if err != nil {
		return "", "", err
	}
	fields := strings.Fields(line)
	if len(fields) != 2 || (fields[0] != "publish" && fields[0] != "subscribe") {
		return "", "", errors.New("malformed handshake, want \"publish <channel>\" or \"subscribe <channel>\"")
	}
	return fields[0], fields[1], nil
}

// runPublisher reads frames off the wire, copies each into a pooled buffer,
// and hands it to the channel's current subscribers.
func (s *Session) runPublisher() {
	for {
		n, err := s.conn.readFrameLen()
		if err != nil {
			if err != io.EOF {
				slog.Error("frame read error", "error", err)
			}
			return
		}

		buf, err := s.server.pool.Get(int(n), s.server.cfg.PublishTimeout)
		if err != nil {
			slog.Error("no buffer available for frame", "size", n, "error", err)
			return
		}

		data, err := buf.Data()
		if err != nil {
			slog.Error("buffer unexpectedly write-locked", "error", err)
			buf.Unref()
			return
		}
		if err := s.conn.readFramePayload(data, n); err != nil {
			slog.Error("frame payload read error", "error", err)
			buf.Unref()
			return
		}
		if err := buf.SetSize(int(n)); err != nil {
			slog.Error("SetSize failed", "error", err)
			buf.Unref()
			return
		}

		s.channel.publish(buf)
		buf.Unref()
	}
}

// runSubscriber pops frames pushed to this session's queue and writes them
// out, until the connection breaks or the queue is aborted on close.
func (s *Session) runSubscriber() {
	for {
		buf, err := s.outQueue.Pop(vbuf.Forever)
		if err != nil {
			return
		}

		data := buf.CData()
		werr := s.conn.writeFrame(data[:buf.Size()])
		buf.Unref()
		if werr != nil {
			slog.Error("frame write error", "error", werr)
			return
		}
	}
}

func (s *Session) close() {
	if s.outQueue != nil {
		s.outQueue.Abort()
		if flushed := s.outQueue.Destroy(); flushed > 0 {
			slog.Warn("subscriber queue destroyed with frames still queued", "flushed", flushed)
		}
	}
	s.netConn.Close()
}
