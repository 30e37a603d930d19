// Package bus implements the Typed Message Bus: publish/subscribe for
// inter-plugin communication with per-subscriber filtering, broadcast and
// direct delivery modes, and optional bounded logging.
//
// Grounded primarily on original_source/lib/src/communication/message_bus.cpp
// (subscribe_impl/publish_impl/deliver_message/find_recipients/statistics),
// since the teacher's own Go plugins/events.go is a plugin-lifecycle event
// bus, not this inter-plugin typed message bus — a distinct concern spec.md
// separates in §4.6 vs §4.1. std::type_index runtime type tags become a
// plain string MessageType tag in Go.
package bus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/lynxforge/pluginrt/plugins"
)

// DeliveryMode selects how publish picks recipients, per spec.md §4.6.
type DeliveryMode int

const (
	Broadcast DeliveryMode = iota
	Direct
)

// Message is one published envelope. The bus never deserializes or
// interprets Payload, per spec.md §3.
type Message struct {
	Type      string
	SenderID  string
	Timestamp time.Time
	Payload   any
}

// Handler receives a delivered message's payload and sender.
type Handler func(sender string, payload any)

// Filter is a predicate evaluated before delivery; a false result skips
// that subscriber without error, per spec.md §4.6.
type Filter func(m *Message) bool

// Subscription matches spec.md §3's Subscription record.
type Subscription struct {
	SubscriberID  string
	MessageType   string
	Handler       Handler
	Filter        Filter
	Active        bool
	DeliveredCount int64
}

const maxLogEntries = 1000

// logEntry is one bounded-ring-log record, per spec.md §4.6.
type logEntry struct {
	SenderID       string
	Type           string
	RecipientCount int
	PayloadSummary string
	Timestamp      time.Time
}

// Bus is the concrete message bus. One reader/writer lock protects the
// subscription tables; delivery copies the subscriber snapshot under the
// shared lock and invokes handlers after releasing it, per spec.md §5.
type Bus struct {
	mu            sync.RWMutex
	byType        map[string][]*Subscription // message type -> subscriptions, insertion order
	subscriberIdx map[string]map[string]bool // subscriber id -> set of message types subscribed to

	logMu         sync.Mutex
	loggingEnabled bool
	log           []logEntry

	published  int64
	delivered  int64
	failures   int64
}

// New constructs an empty message bus.
func New() *Bus {
	return &Bus{
		byType:        make(map[string][]*Subscription),
		subscriberIdx: make(map[string]map[string]bool),
	}
}

// Subscribe registers handler for messageType. Duplicate subscriptions for
// the same (subscriberID, messageType) are allowed and each receives
// deliveries, per spec.md §4.6.
func (b *Bus) Subscribe(subscriberID, messageType string, handler Handler, filter Filter) error {
	if subscriberID == "" || messageType == "" {
		return plugins.New(plugins.InvalidArgument, "subscriber id and message type are required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{SubscriberID: subscriberID, MessageType: messageType, Handler: handler, Filter: filter, Active: true}
	b.byType[messageType] = append(b.byType[messageType], sub)
	if b.subscriberIdx[subscriberID] == nil {
		b.subscriberIdx[subscriberID] = make(map[string]bool)
	}
	b.subscriberIdx[subscriberID][messageType] = true
	return nil
}

// Unsubscribe removes subscriberID's subscriptions for messageType, or all
// of its subscriptions if messageType is empty, per spec.md §4.6.
func (b *Bus) Unsubscribe(subscriberID string, messageType string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if messageType != "" {
		b.removeFromType(messageType, subscriberID)
		if set := b.subscriberIdx[subscriberID]; set != nil {
			delete(set, messageType)
			if len(set) == 0 {
				delete(b.subscriberIdx, subscriberID)
			}
		}
		return nil
	}

	for t := range b.byType {
		b.removeFromType(t, subscriberID)
	}
	delete(b.subscriberIdx, subscriberID)
	return nil
}

func (b *Bus) removeFromType(messageType, subscriberID string) {
	subs := b.byType[messageType]
	kept := subs[:0]
	for _, s := range subs {
		if s.SubscriberID != subscriberID {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(b.byType, messageType)
	} else {
		b.byType[messageType] = kept
	}
}

// HasSubscriber reports whether subscriberID has any active subscription.
func (b *Bus) HasSubscriber(subscriberID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.subscriberIdx[subscriberID]
	return ok
}

// Subscribers returns the active subscriber ids for messageType.
func (b *Bus) Subscribers(messageType string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var result []string
	for _, s := range b.byType[messageType] {
		if s.Active {
			result = append(result, s.SubscriberID)
		}
	}
	return result
}

// Publish delivers message synchronously. Delivery order between
// subscribers within one call is unspecified, but a given subscriber sees
// messages from a given publisher in publish order (guaranteed here because
// a single Publish call fully completes delivery before returning).
func (b *Bus) Publish(msg *Message, mode DeliveryMode, recipients []string) error {
	if msg == nil {
		return plugins.New(plugins.InvalidParameters, "message is nil")
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	atomic.AddInt64(&b.published, 1)

	b.mu.RLock()
	subs := append([]*Subscription(nil), b.byType[msg.Type]...)
	b.mu.RUnlock()

	var targets []string
	if mode == Broadcast {
		for _, s := range subs {
			if s.Active {
				targets = append(targets, s.SubscriberID)
			}
		}
	} else {
		targets = recipients
	}

	delivered, failed := b.deliver(subs, msg, mode, targets)
	atomic.AddInt64(&b.delivered, int64(delivered))
	if failed > 0 {
		atomic.AddInt64(&b.failures, int64(failed))
	}

	if b.isLoggingEnabled() {
		b.appendLog(msg, len(targets))
	}

	return nil
}

// PublishAsync runs Publish in a goroutine and returns a channel receiving
// the result once delivery completes, mirroring the C++ original's
// std::future based publish_async.
func (b *Bus) PublishAsync(msg *Message, mode DeliveryMode, recipients []string) <-chan error {
	result := make(chan error, 1)
	go func() {
		result <- b.Publish(msg, mode, recipients)
	}()
	return result
}

func (b *Bus) deliver(subs []*Subscription, msg *Message, mode DeliveryMode, targets []string) (delivered, failed int) {
	targetSet := make(map[string]bool, len(targets))
	for _, t := range targets {
		targetSet[t] = true
	}
	for _, s := range subs {
		if !s.Active {
			continue
		}
		// Direct restricts delivery to exactly the given recipient id set,
		// even when that set is empty (deliver to nobody) — unlike
		// Broadcast, an empty target list is never "no restriction."
		if mode == Direct && !targetSet[s.SubscriberID] {
			continue
		}
		if s.Filter != nil && !s.Filter(msg) {
			continue
		}
		if s.Handler == nil {
			failed++
			continue
		}
		s.Handler(msg.SenderID, msg.Payload)
		atomic.AddInt64(&s.DeliveredCount, 1)
		delivered++
	}
	return delivered, failed
}

// SetLoggingEnabled toggles the bounded ring log.
func (b *Bus) SetLoggingEnabled(enabled bool) {
	b.logMu.Lock()
	defer b.logMu.Unlock()
	b.loggingEnabled = enabled
}

func (b *Bus) isLoggingEnabled() bool {
	b.logMu.Lock()
	defer b.logMu.Unlock()
	return b.loggingEnabled
}

func (b *Bus) appendLog(msg *Message, recipientCount int) {
	b.logMu.Lock()
	defer b.logMu.Unlock()
	b.log = append(b.log, logEntry{
		SenderID:       msg.SenderID,
		Type:           msg.Type,
		RecipientCount: recipientCount,
		PayloadSummary: summarize(msg.Payload),
		Timestamp:      msg.Timestamp,
	})
	if len(b.log) > maxLogEntries {
		b.log = b.log[len(b.log)-maxLogEntries:]
	}
}

func summarize(payload any) string {
	if payload == nil {
		return ""
	}
	return "payload present"
}

// MessageLog returns up to limit of the most recent log entries (0 means
// all), as a shallow copy safe for callers to retain.
func (b *Bus) MessageLog(limit int) []logEntry {
	b.logMu.Lock()
	defer b.logMu.Unlock()
	if limit <= 0 || limit >= len(b.log) {
		out := make([]logEntry, len(b.log))
		copy(out, b.log)
		return out
	}
	start := len(b.log) - limit
	out := make([]logEntry, limit)
	copy(out, b.log[start:])
	return out
}

// Stats is the running counter set of spec.md §4.6/§9 (message_bus.cpp's
// statistics()).
type Stats struct {
	TotalSubscriptions  int
	ActiveSubscriptions int
	UniqueSubscribers   int
	MessageTypes        int
	MessagesPublished   int64
	MessagesDelivered   int64
	DeliveryFailures    int64
	LoggingEnabled      bool
}

// Statistics returns the current running counters.
func (b *Bus) Statistics() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var total, active int
	for _, subs := range b.byType {
		total += len(subs)
		for _, s := range subs {
			if s.Active {
				active++
			}
		}
	}

	return Stats{
		TotalSubscriptions:  total,
		ActiveSubscriptions: active,
		UniqueSubscribers:   len(b.subscriberIdx),
		MessageTypes:        len(b.byType),
		MessagesPublished:   atomic.LoadInt64(&b.published),
		MessagesDelivered:   atomic.LoadInt64(&b.delivered),
		DeliveryFailures:    atomic.LoadInt64(&b.failures),
		LoggingEnabled:      b.isLoggingEnabled(),
	}
}

// Clear removes every subscription and log entry. Used on manager shutdown.
func (b *Bus) Clear() {
	b.mu.Lock()
	b.byType = make(map[string][]*Subscription)
	b.subscriberIdx = make(map[string]map[string]bool)
	b.mu.Unlock()

	b.logMu.Lock()
	b.log = nil
	b.logMu.Unlock()
}
