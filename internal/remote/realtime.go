package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/sadopc/blockr/internal/backoff"
	"github.com/sadopc/blockr/internal/model"
)

const (
	TopicBlocks = "time_blocks"
	TopicStats  = "pomodoro_stats"

	EventInsert = "INSERT"
	EventUpdate = "UPDATE"
	EventDelete = "DELETE"
)

var ErrNoRealtime = errors.New("realtime url not configured")

// Handlers receive pushed changes. Any of them may be nil.
type Handlers struct {
	OnInsert      func(model.TimeBlock)
	OnUpdate      func(model.TimeBlock)
	OnDelete      func(model.TimeBlock)
	OnStatsChange func()
	// OnStatus reports each connect and disconnect.
	OnStatus func(connected bool)
}

type subscribeFrame struct {
	Type   string `json:"type"`
	Topic  string `json:"topic"`
	Filter string `json:"filter"`
}

// changeFrame is one pushed row change.
type changeFrame struct {
	Topic string          `json:"topic"`
	Event string          `json:"event"`
	New   json.RawMessage `json:"new,omitempty"`
	Old   json.RawMessage `json:"old,omitempty"`
}

type SubscriberOptions struct {
	URL         string
	APIKey      string
	AccessToken string
	Backoff     backoff.Config
	Logger      zerolog.Logger
}

// Subscriber opens realtime channels to the record service.
type Subscriber struct {
	opts   SubscriberOptions
	dialer *websocket.Dialer
	log    zerolog.Logger
}

func NewSubscriber(opts SubscriberOptions) *Subscriber {
	if opts.Backoff.MaxDelay == 0 {
		opts.Backoff = backoff.DefaultConfig()
	}
	return &Subscriber{
		opts: opts,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		log: opts.Logger.With().Str("component", "realtime").Logger(),
	}
}

// Subscription is a live channel. Close stops it and waits for the reader.
type Subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
}

// Subscribe follows block and stat changes for ownerID until ctx ends or the
// subscription is closed, redialling with backoff after every disconnect.
func (s *Subscriber) Subscribe(ctx context.Context, ownerID string, h Handlers) (*Subscription, error) {
	if s.opts.URL == "" {
		return nil, ErrNoRealtime
	}
	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{cancel: cancel, done: make(chan struct{})}
	go s.run(ctx, ownerID, h, sub.done)
	return sub, nil
}

func (s *Subscriber) run(ctx context.Context, ownerID string, h Handlers, done chan struct{}) {
	defer close(done)

	policy := backoff.NewPolicy(s.opts.Backoff, nil)
	for {
		connected, err := s.session(ctx, ownerID, h)
		if ctx.Err() != nil {
			return
		}
		if connected {
			policy.Reset()
			if h.OnStatus != nil {
				h.OnStatus(false)
			}
		}

		wait := policy.NextBackOff()
		s.log.Warn().Err(err).Dur("retry_in", wait).Msg("realtime disconnected")

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// session runs one connection until it drops. connected reports whether the
// handshake and subscriptions succeeded.
func (s *Subscriber) session(ctx context.Context, ownerID string, h Handlers) (connected bool, err error) {
	header := http.Header{}
	if s.opts.APIKey != "" {
		header.Set("apikey", s.opts.APIKey)
	}
	if s.opts.AccessToken != "" {
		header.Set("Authorization", "Bearer "+s.opts.AccessToken)
	}

	conn, resp, err := s.dialer.DialContext(ctx, s.opts.URL, header)
	if err != nil {
		return false, fmt.Errorf("dial realtime: %w", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
		case <-stop:
			conn.Close()
		}
	}()

	for _, topic := range []string{TopicBlocks, TopicStats} {
		frame := subscribeFrame{Type: "subscribe", Topic: topic, Filter: "user_id=eq." + ownerID}
		if err := conn.WriteJSON(frame); err != nil {
			return false, fmt.Errorf("subscribe %s: %w", topic, err)
		}
	}

	s.log.Debug().Str("owner", ownerID).Msg("realtime connected")
	if h.OnStatus != nil {
		h.OnStatus(true)
	}

	for {
		var f changeFrame
		if err := conn.ReadJSON(&f); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				s.log.Warn().Err(err).Msg("skipping malformed realtime frame")
				continue
			}
			return true, fmt.Errorf("read realtime: %w", err)
		}
		s.dispatch(f, h)
	}
}

func (s *Subscriber) dispatch(f changeFrame, h Handlers) {
	switch f.Topic {
	case TopicStats:
		if h.OnStatsChange != nil {
			h.OnStatsChange()
		}
		return
	case TopicBlocks:
	default:
		s.log.Debug().Str("topic", f.Topic).Msg("ignoring realtime topic")
		return
	}

	raw := f.New
	if f.Event == EventDelete {
		raw = f.Old
	}
	var b model.TimeBlock
	if err := json.Unmarshal(raw, &b); err != nil || b.ID == "" {
		s.log.Warn().Err(err).Str("event", f.Event).Msg("realtime frame without a block")
		return
	}

	var fn func(model.TimeBlock)
	switch f.Event {
	case EventInsert:
		fn = h.OnInsert
	case EventUpdate:
		fn = h.OnUpdate
	case EventDelete:
		fn = h.OnDelete
	}
	if fn != nil {
		fn(b)
	}
}
