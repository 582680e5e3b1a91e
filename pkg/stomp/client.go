package stomp

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	gostomp "github.com/go-stomp/stomp/v3"
	"github.com/go-stomp/stomp/v3/frame"

	"wamq/pkg/config"
)

const contentTypeText = "text/plain"

// frameMessage is one MESSAGE frame received on a subscription.
type frameMessage struct {
	Destination string
	Headers     map[string]string
	Body        []byte
	Err         error
}

// subscription streams frames for one destination until it is cancelled or the connection drops.
type subscription interface {
	C() <-chan frameMessage
	Unsubscribe() error
}

// client is the subset of a STOMP connection the service needs.
type client interface {
	Subscribe(destination string) (subscription, error)
	Send(destination string, body []byte, headers map[string]string) error
	Disconnect() error
}

type dialFunc func(context.Context, config.StompConfig) (client, error)

// dialBroker opens a TCP connection and performs the STOMP CONNECT handshake.
func dialBroker(ctx context.Context, cfg config.StompConfig) (client, error) {
	dialer := net.Dialer{Timeout: 10 * time.Second}
	netConn, err := dialer.DialContext(ctx, "tcp", cfg.Address())
	if err != nil {
		return nil, fmt.Errorf("dial broker %s: %w", cfg.Address(), err)
	}

	conn, err := gostomp.Connect(netConn,
		gostomp.ConnOpt.Login(cfg.Login, cfg.Password),
		gostomp.ConnOpt.Host(cfg.Host),
		gostomp.ConnOpt.HeartBeat(cfg.Heartbeat, cfg.Heartbeat),
	)
	if err != nil {
		_ = netConn.Close()
		return nil, fmt.Errorf("stomp connect %s: %w", cfg.Address(), err)
	}

	return &stompClient{conn: conn}, nil
}

type stompClient struct {
	conn *gostomp.Conn
}

func (c *stompClient) Subscribe(destination string) (subscription, error) {
	sub, err := c.conn.Subscribe(destination, gostomp.AckAuto)
	if err != nil {
		return nil, err
	}

	return newStompSubscription(sub.C, sub.Active, func() error { return sub.Unsubscribe() }), nil
}

func (c *stompClient) Send(destination string, body []byte, headers map[string]string) error {
	opts := make([]func(*frame.Frame) error, 0, len(headers))
	for key, value := range headers {
		opts = append(opts, gostomp.SendOpt.Header(key, value))
	}

	return c.conn.Send(destination, contentTypeText, body, opts...)
}

func (c *stompClient) Disconnect() error {
	return c.conn.Disconnect()
}

// stompSubscription forwards converted frames until Unsubscribe. The library
// channel is drained until it closes so the connection reader never blocks on
// it while an UNSUBSCRIBE receipt is pending.
type stompSubscription struct {
	frames      <-chan *gostomp.Message
	active      func() bool
	unsubscribe func() error

	out      chan frameMessage
	done     chan struct{}
	doneOnce sync.Once
}

func newStompSubscription(frames <-chan *gostomp.Message, active func() bool, unsubscribe func() error) *stompSubscription {
	s := &stompSubscription{
		frames:      frames,
		active:      active,
		unsubscribe: unsubscribe,
		out:         make(chan frameMessage),
		done:        make(chan struct{}),
	}
	go s.forward()

	return s
}

func (s *stompSubscription) forward() {
	defer func() {
		for range s.frames {
		}
	}()
	defer close(s.out)

	for msg := range s.frames {
		select {
		case s.out <- convertMessage(msg):
		case <-s.done:
			return
		}
	}
}

func (s *stompSubscription) C() <-chan frameMessage {
	return s.out
}

func (s *stompSubscription) Unsubscribe() error {
	s.doneOnce.Do(func() { close(s.done) })
	if !s.active() {
		return nil
	}

	return s.unsubscribe()
}

func convertMessage(msg *gostomp.Message) frameMessage {
	if msg == nil {
		return frameMessage{Err: fmt.Errorf("empty frame")}
	}
	if msg.Err != nil {
		return frameMessage{Destination: msg.Destination, Err: msg.Err}
	}

	headers := make(map[string]string)
	if msg.Header != nil {
		for i := 0; i < msg.Header.Len(); i++ {
			key, value := msg.Header.GetAt(i)
			if _, seen := headers[key]; !seen {
				headers[key] = value
			}
		}
	}

	return frameMessage{Destination: msg.Destination, Headers: headers, Body: msg.Body}
}
