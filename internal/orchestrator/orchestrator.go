package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/limbodancer/limbodancer-mcp/internal/config"
	"github.com/limbodancer/limbodancer-mcp/internal/fault"
	"github.com/limbodancer/limbodancer-mcp/internal/logging"
	"github.com/limbodancer/limbodancer-mcp/internal/store"
	"github.com/limbodancer/limbodancer-mcp/internal/tenancy"
)

// Orchestrator owns chat sessions keyed by (tenant, session). Sessions live
// for the process lifetime; durable history goes through the history store.
type Orchestrator struct {
	cfg      config.OrchestratorConfig
	history  store.HistoryStore
	producer Producer
	logger   *logging.Logger

	mu       sync.Mutex
	sessions map[sessionKey]*session
}

type sessionKey struct {
	tenant  string
	session string
}

// New creates the orchestrator.
func New(cfg config.OrchestratorConfig, history store.HistoryStore, producer Producer, logger *logging.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.NewNop()
	}
	if producer == nil {
		producer = EchoProducer{}
	}
	return &Orchestrator{
		cfg:      cfg,
		history:  history,
		producer: producer,
		logger:   logger,
		sessions: make(map[sessionKey]*session),
	}
}

// CreateSession registers a new session for the caller's scope and returns
// its id.
func (o *Orchestrator) CreateSession(ctx context.Context) (string, error) {
	scope, ok := tenancy.FromContext(ctx)
	if !ok {
		return "", fault.New(fault.TenantUnresolved, "no tenant scope resolved")
	}
	id := uuid.New().String()
	if err := o.history.CreateSession(ctx, scope, id); err != nil {
		return "", err
	}
	o.session(scope, id)
	return id, nil
}

// Enqueue appends the user message to history, starts a producer task, and
// returns the correlation id. The task outlives the caller's request.
func (o *Orchestrator) Enqueue(ctx context.Context, sessionID, content string) (string, error) {
	scope, ok := tenancy.FromContext(ctx)
	if !ok {
		return "", fault.New(fault.TenantUnresolved, "no tenant scope resolved")
	}

	// The user message lands in history before processing starts. An
	// unknown or foreign session surfaces as not-found here.
	if err := o.history.AppendMessage(ctx, scope, &store.Message{
		SessionID: sessionID,
		Sender:    "user",
		Text:      content,
	}); err != nil {
		return "", err
	}

	correlationID := uuid.New().String()
	sess := o.session(scope, sessionID)

	prodCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sess.registerCancel(correlationID, cancel)

	go o.process(prodCtx, sess, correlationID, content)
	return correlationID, nil
}

// Cancel aborts an in-flight correlation. The producer still writes its
// terminal event (an error with kind canceled).
func (o *Orchestrator) Cancel(ctx context.Context, sessionID, correlationID string) error {
	scope, ok := tenancy.FromContext(ctx)
	if !ok {
		return fault.New(fault.TenantUnresolved, "no tenant scope resolved")
	}
	o.mu.Lock()
	sess := o.sessions[sessionKey{tenant: scope.TenantID, session: sessionID}]
	o.mu.Unlock()
	if sess == nil || !sess.cancel(correlationID) {
		return fault.New(fault.NotFound, "no in-flight message %s", correlationID)
	}
	return nil
}

// Subscribe attaches a subscriber to the session stream. The returned
// channel closes when ctx is canceled. An unknown session yields a stream
// that carries only pings until something is enqueued.
func (o *Orchestrator) Subscribe(ctx context.Context, sessionID string) (<-chan Event, error) {
	scope, ok := tenancy.FromContext(ctx)
	if !ok {
		return nil, fault.New(fault.TenantUnresolved, "no tenant scope resolved")
	}

	sess := o.session(scope, sessionID)
	sub := newSubscriber(o.cfg.ChannelCapacity)
	sess.attach(sub)

	out := make(chan Event)
	go o.pump(ctx, sess, sub, sessionID, out)
	return out, nil
}

// pump moves events from the subscriber buffer to the caller's channel and
// injects heartbeats. Disconnect detaches the subscriber only; producing
// tasks keep running.
func (o *Orchestrator) pump(ctx context.Context, sess *session, sub *subscriber, sessionID string, out chan<- Event) {
	defer close(out)
	defer sess.detach(sub)

	ticker := time.NewTicker(o.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		for {
			ev, ok := sub.pop()
			if !ok {
				break
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-sub.notify:
		case <-ticker.C:
			ping := Event{Type: EventPing, SessionID: sessionID, Timestamp: time.Now().UTC()}
			select {
			case out <- ping:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (o *Orchestrator) process(ctx context.Context, sess *session, correlationID, content string) {
	defer sess.unregisterCancel(correlationID)
	ctx = logging.WithCorrelationID(ctx, correlationID)
	now := func() time.Time { return time.Now().UTC() }

	final, err := o.producer.Produce(ctx, content, func(token string) error {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		sess.publish(Event{
			Type:          EventToken,
			SessionID:     sess.key.session,
			CorrelationID: correlationID,
			Content:       token,
			Timestamp:     now(),
		})
		return nil
	})
	if err != nil {
		fe := fault.As(err)
		if errors.Is(err, context.Canceled) {
			fe = fault.Wrap(fault.Canceled, err, "message processing canceled")
		}
		o.logger.Warn(ctx, "producer failed",
			zap.String("session.id", sess.key.session), zap.Error(err))
		sess.publish(Event{
			Type:          EventError,
			SessionID:     sess.key.session,
			CorrelationID: correlationID,
			Error:         fe,
			Timestamp:     now(),
		})
		return
	}

	// Assistant message lands in history after the last token and before
	// the terminal event.
	if aerr := o.history.AppendMessage(ctx, sess.scope, &store.Message{
		SessionID: sess.key.session,
		Sender:    "assistant",
		Text:      final,
	}); aerr != nil {
		o.logger.Error(ctx, "assistant history append failed",
			zap.String("session.id", sess.key.session), zap.Error(aerr))
		sess.publish(Event{
			Type:          EventError,
			SessionID:     sess.key.session,
			CorrelationID: correlationID,
			Error:         fault.As(aerr),
			Timestamp:     now(),
		})
		return
	}

	sess.publish(Event{
		Type:          EventCompleted,
		SessionID:     sess.key.session,
		CorrelationID: correlationID,
		Content:       final,
		Timestamp:     now(),
	})
}

// session returns the state for (tenant, session), creating it on first use.
func (o *Orchestrator) session(scope tenancy.Scope, sessionID string) *session {
	key := sessionKey{tenant: scope.TenantID, session: sessionID}
	o.mu.Lock()
	defer o.mu.Unlock()
	s := o.sessions[key]
	if s == nil {
		s = &session{
			key:     key,
			scope:   scope,
			subs:    make(map[*subscriber]struct{}),
			cancels: make(map[string]context.CancelFunc),
		}
		o.sessions[key] = s
	}
	return s
}

type session struct {
	key   sessionKey
	scope tenancy.Scope

	mu      sync.Mutex
	subs    map[*subscriber]struct{}
	cancels map[string]context.CancelFunc
}

func (s *session) attach(sub *subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sub] = struct{}{}
}

func (s *session) detach(sub *subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, sub)
}

func (s *session) publish(ev Event) {
	s.mu.Lock()
	subs := make([]*subscriber, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()
	for _, sub := range subs {
		sub.push(ev)
	}
}

func (s *session) registerCancel(correlationID string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels[correlationID] = cancel
}

func (s *session) unregisterCancel(correlationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cancels, correlationID)
}

func (s *session) cancel(correlationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cancels[correlationID]
	if ok {
		c()
	}
	return ok
}

// subscriber is one bounded stream buffer. Overflow drops the oldest
// non-terminal event; terminal events are never dropped even if the buffer
// transiently exceeds capacity.
type subscriber struct {
	capacity int

	mu     sync.Mutex
	queue  []Event
	notify chan struct{}
}

func newSubscriber(capacity int) *subscriber {
	if capacity <= 0 {
		capacity = 256
	}
	return &subscriber{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

func (s *subscriber) push(ev Event) {
	s.mu.Lock()
	if len(s.queue) >= s.capacity {
		if ev.Terminal() {
			// Keep terminal events unconditionally.
			s.queue = append(s.queue, ev)
			s.mu.Unlock()
			s.wake()
			return
		}
		if !s.dropOldest() {
			// Everything buffered is terminal; the newcomer loses.
			s.mu.Unlock()
			return
		}
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	s.wake()
}

// dropOldest removes the first non-terminal event. Reports false when every
// buffered event is terminal.
func (s *subscriber) dropOldest() bool {
	for i, ev := range s.queue {
		if !ev.Terminal() {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return true
		}
	}
	return false
}

func (s *subscriber) pop() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return Event{}, false
	}
	ev := s.queue[0]
	s.queue = s.queue[1:]
	return ev, true
}

func (s *subscriber) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}
