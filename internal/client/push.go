package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"sentinal-call/internal/domain/call"
	"sentinal-call/internal/events"
	wsproto "sentinal-call/internal/websocket"
	sentinal_errors "sentinal-call/pkg/errors"
	"sentinal-call/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	handshakeTimeout = 10 * time.Second
	ackTimeout       = 5 * time.Second
	writeWait        = 10 * time.Second
)

func (c *Client) SubscribeIncoming(ctx context.Context, deliver func(call.Call)) error {
	if c.userID == uuid.Nil {
		return fmt.Errorf("%w: client has no user id", sentinal_errors.ErrInvalidInput)
	}
	return subscribeDecoded(ctx, c.push, events.IncomingChannel(c.userID), deliver)
}

func (c *Client) SubscribeStatus(ctx context.Context, callID uuid.UUID, deliver func(call.Call)) error {
	return subscribeDecoded(ctx, c.push, events.StatusChannel(callID), deliver)
}

func (c *Client) SubscribeSignals(ctx context.Context, callID uuid.UUID, deliver func(call.RelayedSignal)) error {
	return subscribeDecoded(ctx, c.push, events.SignalChannel(callID), deliver)
}

// subscribeDecoded unwraps each event envelope on channel into T. It blocks
// until ctx ends or the socket drops.
func subscribeDecoded[T any](ctx context.Context, p *pushConn, channel string, deliver func(T)) error {
	return p.subscribe(ctx, channel, func(data json.RawMessage) {
		var env events.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			p.log.Warn("dropping undecodable event", zap.String("channel", channel), zap.Error(err))
			return
		}
		var item T
		if err := json.Unmarshal(env.Payload, &item); err != nil {
			p.log.Warn("dropping undecodable payload",
				zap.String("channel", channel),
				zap.String("event_type", env.EventType),
				zap.Error(err),
			)
			return
		}
		deliver(item)
	})
}

// pushConn shares one socket between all subscriptions. A broken socket
// fails every subscription on it; the next subscribe dials again.
type pushConn struct {
	url    string
	token  string
	log    *logger.Logger
	dialer *websocket.Dialer

	mu     sync.Mutex
	sess   *pushSession
	closed bool
}

func newPushConn(wsURL, token string, log *logger.Logger) *pushConn {
	return &pushConn{
		url:    wsURL,
		token:  token,
		log:    log.Named("push"),
		dialer: &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
	}
}

func (p *pushConn) subscribe(ctx context.Context, channel string, deliver func(json.RawMessage)) error {
	sess, err := p.session(ctx)
	if err != nil {
		return err
	}
	ack, id, err := sess.add(channel, deliver)
	if err != nil {
		return err
	}
	defer sess.remove(channel, id)

	select {
	case err := <-ack:
		if err != nil {
			return err
		}
	case <-time.After(ackTimeout):
		return fmt.Errorf("subscribe %s: no acknowledgement", channel)
	case <-ctx.Done():
		return ctx.Err()
	case <-sess.done:
		return sess.err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-sess.done:
		return sess.err
	}
}

func (p *pushConn) session(ctx context.Context) (*pushSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, net.ErrClosed
	}
	if p.sess != nil && !p.sess.isDone() {
		return p.sess, nil
	}

	target := p.url + "?token=" + url.QueryEscape(p.token)
	conn, resp, err := p.dialer.DialContext(ctx, target, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: dial push socket: %v", sentinal_errors.ErrTransportUnavailable, err)
	}
	p.sess = &pushSession{
		conn: conn,
		log:  p.log,
		subs: make(map[string]map[uint64]func(json.RawMessage)),
		acks: make(map[string][]chan error),
		done: make(chan struct{}),
	}
	go p.sess.readLoop()
	p.log.Debug("push socket connected")
	return p.sess, nil
}

func (p *pushConn) close() error {
	p.mu.Lock()
	p.closed = true
	sess := p.sess
	p.mu.Unlock()
	if sess != nil {
		sess.fail(net.ErrClosed)
	}
	return nil
}

type pushSession struct {
	conn *websocket.Conn
	log  *logger.Logger

	// mu also serializes writes so subscribe and unsubscribe frames for a
	// channel reach the server in the order the map changed.
	mu     sync.Mutex
	subs   map[string]map[uint64]func(json.RawMessage)
	acks   map[string][]chan error
	nextID uint64

	failOnce sync.Once
	done     chan struct{}
	err      error
}

func (s *pushSession) add(channel string, deliver func(json.RawMessage)) (<-chan error, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isDone() {
		return nil, 0, s.err
	}
	s.nextID++
	id := s.nextID
	if s.subs[channel] == nil {
		s.subs[channel] = make(map[uint64]func(json.RawMessage))
	}
	s.subs[channel][id] = deliver

	ack := make(chan error, 1)
	s.acks[channel] = append(s.acks[channel], ack)
	if err := s.writeLocked(wsproto.Frame{Type: wsproto.FrameSubscribe, Channel: channel}); err != nil {
		delete(s.subs[channel], id)
		go s.fail(err)
		return nil, 0, err
	}
	return ack, id, nil
}

func (s *pushSession) remove(channel string, id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs[channel], id)
	if len(s.subs[channel]) > 0 {
		return
	}
	delete(s.subs, channel)
	if !s.isDone() {
		_ = s.writeLocked(wsproto.Frame{Type: wsproto.FrameUnsubscribe, Channel: channel})
	}
}

func (s *pushSession) writeLocked(f wsproto.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *pushSession) readLoop() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.fail(fmt.Errorf("%w: %v", sentinal_errors.ErrTransportUnavailable, err))
			return
		}
		var f wsproto.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			s.log.Warn("malformed push frame", zap.Error(err))
			continue
		}
		switch f.Type {
		case wsproto.FrameEvent:
			s.dispatch(f.Channel, f.Data)
		case wsproto.FrameSubscribed:
			s.resolve(f.Channel, nil)
		case wsproto.FrameError:
			if f.Channel == "" {
				s.log.Warn("push socket error", zap.String("error", f.Error))
				continue
			}
			s.resolve(f.Channel, frameError(f))
		}
	}
}

func (s *pushSession) dispatch(channel string, data json.RawMessage) {
	s.mu.Lock()
	handlers := make([]func(json.RawMessage), 0, len(s.subs[channel]))
	for _, h := range s.subs[channel] {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()
	for _, h := range handlers {
		h(data)
	}
}

func (s *pushSession) resolve(channel string, err error) {
	s.mu.Lock()
	waiters := s.acks[channel]
	delete(s.acks, channel)
	s.mu.Unlock()
	for _, w := range waiters {
		w <- err
	}
}

func (s *pushSession) fail(err error) {
	s.failOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		close(s.done)
		waiters := s.acks
		s.acks = make(map[string][]chan error)
		s.mu.Unlock()
		_ = s.conn.Close()
		for _, list := range waiters {
			for _, w := range list {
				w <- err
			}
		}
		if !errors.Is(err, net.ErrClosed) {
			s.log.Debug("push socket closed", zap.Error(err))
		}
	})
}

func (s *pushSession) isDone() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func frameError(f wsproto.Frame) error {
	if f.Error == "forbidden" {
		return fmt.Errorf("%w: subscribe %s", sentinal_errors.ErrForbidden, f.Channel)
	}
	return fmt.Errorf("subscribe %s: %s", f.Channel, f.Error)
}
