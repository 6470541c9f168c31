package softsync

import (
	"context"
	"log"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"lesson-notes-sync/internal/clock"
	"lesson-notes-sync/internal/domain"
	"lesson-notes-sync/pkg/canon"
)

type Transport interface {
	Publish(ctx context.Context, msg *domain.SoftSyncMessage) error
}

type Handler func(domain.SoftSyncPayload)

type Broadcaster struct {
	mu sync.Mutex

	transport   Transport
	senderID    string
	sendTimeout time.Duration
	clock       clock.Clock
	validate    *validator.Validate
	started     time.Time

	pacer    *Pacer
	lessonID string
	enabled  bool
	closed   bool
	timer    clock.Timer
	gen      uint64
	sending  bool

	handlers []Handler
}

func NewBroadcaster(transport Transport, senderID string, cfg PacingConfig, sendTimeout time.Duration, clk clock.Clock) *Broadcaster {
	if clk == nil {
		clk = clock.New()
	}
	if senderID == "" {
		senderID = uuid.New().String()
	}
	return &Broadcaster{
		transport:   transport,
		senderID:    senderID,
		sendTimeout: sendTimeout,
		clock:       clk,
		validate:    validator.New(),
		started:     clk.Now(),
		pacer:       NewPacer(cfg),
		enabled:     true,
	}
}

func (b *Broadcaster) SenderID() string {
	return b.senderID
}

// SetLesson points the broadcaster at a lesson and drops every bit of pacing
// state left from the previous one.
func (b *Broadcaster) SetLesson(lessonID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.resetLocked()
	b.lessonID = lessonID
	b.enabled = lessonID != ""
}

func (b *Broadcaster) Disable() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.resetLocked()
	b.enabled = false
}

func (b *Broadcaster) OnIncoming(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Broadcast queues the draft for a paced send. It never sends synchronously.
func (b *Broadcaster) Broadcast(payload domain.SoftSyncPayload) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || !b.enabled || b.transport == nil {
		return
	}
	if payload.LessonID == "" {
		payload.LessonID = b.lessonID
	}
	if payload.LessonID != b.lessonID {
		return
	}

	now := b.clock.Now()
	deadline := b.pacer.Observe(now, payload)
	b.armLocked(now, deadline)
}

func (b *Broadcaster) armLocked(now, deadline time.Time) {
	if b.timer != nil {
		b.timer.Stop()
	}
	b.gen++
	gen := b.gen

	delay := deadline.Sub(now)
	if delay < 0 {
		delay = 0
	}
	b.timer = b.clock.AfterFunc(delay, func() { b.fire(gen) })
}

func (b *Broadcaster) fire(gen uint64) {
	b.mu.Lock()
	if gen != b.gen || b.closed || !b.enabled {
		b.mu.Unlock()
		return
	}
	b.timer = nil

	now := b.clock.Now()
	if b.sending {
		if deadline, ok := b.pacer.Deadline(); ok {
			if deadline.Before(now) {
				deadline = now
			}
			b.armLocked(now, deadline.Add(b.pacer.cfg.Debounce))
		}
		b.mu.Unlock()
		return
	}

	payload, ok := b.pacer.Take(now)
	if !ok {
		if deadline, pending := b.pacer.Deadline(); pending {
			b.armLocked(now, deadline)
		}
		b.mu.Unlock()
		return
	}

	msg := &domain.SoftSyncMessage{
		Kind:            domain.SoftSyncKind,
		LessonID:        payload.LessonID,
		Content:         payload.Content,
		Format:          payload.Format,
		UpdatedAt:       payload.UpdatedAt,
		SenderID:        b.senderID,
		SentAtMonotonic: now.Sub(b.started).Milliseconds(),
		SentAtWall:      now,
		ContentLength:   utf8.RuneCountInString(payload.Content),
	}
	b.sending = true
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), b.sendTimeout)
	err := b.transport.Publish(ctx, msg)
	cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	b.sending = false
	if err != nil {
		log.Printf("[SoftSync] publish for lesson %s failed: %v", payload.LessonID, err)
	} else if payload.LessonID == b.lessonID {
		b.pacer.MarkSent(payload)
	}

	if b.timer == nil && !b.closed && b.enabled {
		if deadline, pending := b.pacer.Deadline(); pending {
			b.armLocked(b.clock.Now(), deadline)
		}
	}
}

// HandleIncoming decodes a peer frame and hands a canonicalized payload to
// the registered handlers. It reports whether the frame was delivered.
func (b *Broadcaster) HandleIncoming(raw []byte) bool {
	in, err := ParseMessage(raw)
	if err != nil {
		log.Printf("[SoftSync] ignoring malformed peer message: %v", err)
		return false
	}

	msg, ok := in.(*SoftSyncInbound)
	if !ok {
		return false
	}
	if err := b.validate.Struct(&msg.Message); err != nil {
		log.Printf("[SoftSync] ignoring invalid peer message: %v", err)
		return false
	}

	b.mu.Lock()
	if b.closed || !b.enabled || msg.Message.SenderID == b.senderID || msg.Message.LessonID != b.lessonID {
		b.mu.Unlock()
		return false
	}
	handlers := append([]Handler{}, b.handlers...)
	b.mu.Unlock()

	payload := domain.SoftSyncPayload{
		LessonID:  msg.Message.LessonID,
		Content:   canon.Canonicalize(msg.Message.Content),
		Format:    msg.Message.Format,
		UpdatedAt: msg.Message.UpdatedAt,
	}
	for _, h := range handlers {
		h(payload)
	}
	return true
}

func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.resetLocked()
	b.closed = true
}

func (b *Broadcaster) resetLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.gen++
	b.pacer.Reset()
}
