package client

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"clara-ai/internal/domain"
)

const (
	sendQueueSize    = 64
	writeTimeout     = 5 * time.Second
	defaultSendRate  = rate.Limit(20) // frames per second
	defaultSendBurst = 40

	breakerMaxFailures uint32 = 5
	breakerTimeout            = 15 * time.Second
)

// Channel implements domain.ClientChannel over one WebSocket connection.
// Sends are rate limited and run through a circuit breaker so a dead or
// drowning client fails fast instead of backing the pipeline up.
type Channel struct {
	ws      *websocket.Conn
	sendCh  chan Frame
	done    chan struct{}
	once    sync.Once
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[struct{}]
	logger  *slog.Logger
}

var _ domain.ClientChannel = (*Channel)(nil)

// NewChannel wraps an accepted WebSocket connection. The write loop runs
// until Close.
func NewChannel(ws *websocket.Conn, logger *slog.Logger) *Channel {
	c := &Channel{
		ws:      ws,
		sendCh:  make(chan Frame, sendQueueSize),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(defaultSendRate, defaultSendBurst),
		logger:  logger.With("component", "client_channel"),
	}
	c.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "client_channel",
		MaxRequests: 1,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerMaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("channel breaker state change", "from", from.String(), "to", to.String())
		},
	})
	go c.writeLoop()
	return c
}

// SendToolRequest queues a tool request frame for the client.
func (c *Channel) SendToolRequest(ctx context.Context, req domain.ToolRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return domain.NewDomainError("client.SendToolRequest", err, req.Tool)
	}
	return c.send(ctx, Frame{Type: FrameToolRequest, Payload: payload})
}

// SendEvent queues a one-way event frame. Best-effort: queue overflow is
// an error the caller may ignore.
func (c *Channel) SendEvent(ctx context.Context, kind string, data any) error {
	payload, err := json.Marshal(EventPayload{Kind: kind, Data: data})
	if err != nil {
		return domain.NewDomainError("client.SendEvent", err, kind)
	}
	return c.send(ctx, Frame{Type: FrameEvent, Payload: payload})
}

func (c *Channel) send(ctx context.Context, frame Frame) error {
	const op = "client.send"

	if _, err := c.breaker.Execute(func() (struct{}, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return struct{}{}, err
		}
		select {
		case <-c.done:
			return struct{}{}, domain.ErrChannelUnavailable
		case c.sendCh <- frame:
			return struct{}{}, nil
		case <-ctx.Done():
			return struct{}{}, ctx.Err()
		}
	}); err != nil {
		return domain.NewDomainError(op, domain.ErrChannelUnavailable, err.Error())
	}
	return nil
}

func (c *Channel) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.sendCh:
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err := wsjson.Write(ctx, c.ws, frame)
			cancel()
			if err != nil {
				c.logger.Warn("channel write failed", "error", err)
				c.Close()
				return
			}
		}
	}
}

// ReadFrame blocks until the next inbound frame arrives.
func (c *Channel) ReadFrame(ctx context.Context) (Frame, error) {
	var frame Frame
	if err := wsjson.Read(ctx, c.ws, &frame); err != nil {
		return Frame{}, domain.NewDomainError("client.ReadFrame", domain.ErrChannelUnavailable, err.Error())
	}
	return frame, nil
}

// Close tears the channel down. Idempotent.
func (c *Channel) Close() {
	c.once.Do(func() {
		close(c.done)
		c.ws.Close(websocket.StatusNormalClosure, "")
	})
}
