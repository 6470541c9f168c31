// Package softsync mirrors an in-progress note draft to the other
// participants of a lesson. Delivery is best-effort; persistence is the
// autosave path's job.
package softsync

import (
	"time"

	"lesson-notes-sync/internal/domain"
	"lesson-notes-sync/pkg/canon"
)

type PacingConfig struct {
	TinyChars int
	TinyGate  time.Duration
	Debounce  time.Duration
	MaxWait   time.Duration
}

func DefaultPacingConfig() PacingConfig {
	return PacingConfig{
		TinyChars: 2,
		TinyGate:  300 * time.Millisecond,
		Debounce:  200 * time.Millisecond,
		MaxWait:   1200 * time.Millisecond,
	}
}

type PacerState int

const (
	PacerIdle PacerState = iota
	PacerPending
	PacerFlushed
)

func (s PacerState) String() string {
	switch s {
	case PacerPending:
		return "pending"
	case PacerFlushed:
		return "flushed"
	default:
		return "idle"
	}
}

// Pacer decides when a pending draft may be sent. It holds no timers; the
// owner arms one at Deadline and calls Take when it fires. Not safe for
// concurrent use.
type Pacer struct {
	cfg   PacingConfig
	state PacerState

	pending *domain.SoftSyncPayload
	firstAt time.Time
	lastAt  time.Time
	tiny    bool

	lastSent   *domain.SoftSyncPayload
	lastSentFP string
}

func NewPacer(cfg PacingConfig) *Pacer {
	return &Pacer{cfg: cfg}
}

func (p *Pacer) State() PacerState {
	return p.state
}

// Observe records the newest draft and returns the deadline at which it
// becomes due.
func (p *Pacer) Observe(now time.Time, payload domain.SoftSyncPayload) time.Time {
	payload.Content = canon.Canonicalize(payload.Content)

	if p.state != PacerPending {
		p.firstAt = now
	}
	p.lastAt = now
	p.pending = &payload
	p.state = PacerPending

	previous := ""
	if p.lastSent != nil {
		previous = p.lastSent.Content
	}
	delta := canon.Diff(previous, payload.Content).LengthDelta
	if delta < 0 {
		delta = -delta
	}
	p.tiny = delta <= p.cfg.TinyChars

	deadline, _ := p.Deadline()
	return deadline
}

// Deadline is the earlier of the idle gate after the last edit and the max
// wait after the first pending edit.
func (p *Pacer) Deadline() (time.Time, bool) {
	if p.state != PacerPending {
		return time.Time{}, false
	}

	quiet := p.cfg.Debounce
	if p.tiny {
		quiet = p.cfg.TinyGate
	}

	deadline := p.lastAt.Add(quiet)
	if ceiling := p.firstAt.Add(p.cfg.MaxWait); ceiling.Before(deadline) {
		deadline = ceiling
	}
	return deadline, true
}

// Take hands out the pending draft once it is due. A draft identical to the
// last one sent is dropped.
func (p *Pacer) Take(now time.Time) (domain.SoftSyncPayload, bool) {
	deadline, ok := p.Deadline()
	if !ok || now.Before(deadline) {
		return domain.SoftSyncPayload{}, false
	}

	payload := *p.pending
	p.pending = nil
	p.state = PacerFlushed

	if p.isDuplicate(payload) {
		return domain.SoftSyncPayload{}, false
	}
	return payload, true
}

func (p *Pacer) isDuplicate(payload domain.SoftSyncPayload) bool {
	if p.lastSent == nil || p.lastSent.LessonID != payload.LessonID || p.lastSent.Format != payload.Format {
		return false
	}
	if canon.Fingerprint(payload.Content, string(payload.Format)) != p.lastSentFP {
		return false
	}
	return p.lastSent.Content == payload.Content
}

func (p *Pacer) MarkSent(payload domain.SoftSyncPayload) {
	payload.Content = canon.Canonicalize(payload.Content)
	p.lastSent = &payload
	p.lastSentFP = canon.Fingerprint(payload.Content, string(payload.Format))
}

func (p *Pacer) Reset() {
	p.state = PacerIdle
	p.pending = nil
	p.firstAt = time.Time{}
	p.lastAt = time.Time{}
	p.tiny = false
	p.lastSent = nil
	p.lastSentFP = ""
}
