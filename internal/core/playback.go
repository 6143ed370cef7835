package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/syncroom/internal/domain"
	"github.com/rs/zerolog"
)

// DisplayedMessage is a transcript line as the local user sees it.
type DisplayedMessage struct {
	domain.RoomMessage
	Translated string `json:"translated,omitempty"`
	Language   string `json:"language,omitempty"`
	Own        bool   `json:"own"`
}

type NoticeCode string

const (
	NoticeTranslationFallback NoticeCode = "translation_fallback"
	NoticeSynthesisFailed     NoticeCode = "synthesis_failed"
	NoticePlaybackFailed      NoticeCode = "playback_failed"
	NoticeCaptureFailed       NoticeCode = "capture_failed"
	NoticeStoreFailed         NoticeCode = "store_failed"
)

// Notice is a non-fatal condition surfaced to the user.
type Notice struct {
	Code      NoticeCode       `json:"code"`
	Message   string           `json:"message"`
	MessageID domain.MessageID `json:"messageId,omitempty"`
}

// PlaybackSink receives transcript lines in play order and notices.
type PlaybackSink interface {
	OnMessage(DisplayedMessage)
	OnNotice(Notice)
}

type PlaybackOption func(*Playback)

// WithPrepareLimit bounds concurrent translate+synthesize work.
func WithPrepareLimit(n int) PlaybackOption {
	return func(p *Playback) {
		if n > 0 {
			p.sem = make(chan struct{}, n)
		}
	}
}

func WithPlaybackLogger(l zerolog.Logger) PlaybackOption {
	return func(p *Playback) {
		p.log = l
	}
}

type playItem struct {
	msg   domain.RoomMessage
	ready chan struct{}
	text  string
	clip  domain.Clip
	err   error
}

// Playback serializes speech output for one listener. Items are prepared
// concurrently as they arrive and played one at a time in CreatedAt order.
// A failed item is skipped and never blocks the ones behind it.
type Playback struct {
	language   string
	translator domain.Translator
	synth      domain.Synthesizer
	player     domain.AudioPlayer
	sink       PlaybackSink
	log        zerolog.Logger
	sem        chan struct{}

	mu      sync.Mutex
	ctx     context.Context
	queue   []*playItem
	seen    map[domain.MessageID]bool
	notify  chan struct{}
	playing bool
}

func NewPlayback(
	language string,
	translator domain.Translator,
	synth domain.Synthesizer,
	player domain.AudioPlayer,
	sink PlaybackSink,
	opts ...PlaybackOption,
) *Playback {
	p := &Playback{
		language:   language,
		translator: translator,
		synth:      synth,
		player:     player,
		sink:       sink,
		log:        zerolog.Nop(),
		sem:        make(chan struct{}, 4),
		seen:       make(map[domain.MessageID]bool),
		notify:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start begins the play loop. Non-blocking.
func (p *Playback) Start(ctx context.Context) {
	p.mu.Lock()
	p.ctx = ctx
	pending := append([]*playItem(nil), p.queue...)
	p.mu.Unlock()

	for _, it := range pending {
		go p.prepare(ctx, it)
	}
	go p.processLoop(ctx)
}

// Enqueue schedules a foreign message. Duplicates are ignored; an item that
// sorts before not-yet-started items is placed ahead of them.
func (p *Playback) Enqueue(msg domain.RoomMessage) {
	p.mu.Lock()
	if p.seen[msg.ID] {
		p.mu.Unlock()
		return
	}
	p.seen[msg.ID] = true
	it := &playItem{msg: msg, ready: make(chan struct{})}
	idx := len(p.queue)
	for i, q := range p.queue {
		if messageLess(msg, q.msg) {
			idx = i
			break
		}
	}
	p.queue = append(p.queue, nil)
	copy(p.queue[idx+1:], p.queue[idx:])
	p.queue[idx] = it
	ctx := p.ctx
	qLen := len(p.queue)
	p.mu.Unlock()

	p.log.Debug().Str("msg", string(msg.ID)).Int("queue_len", qLen).Msg("playback: queued")
	if ctx != nil {
		go p.prepare(ctx, it)
	}
	p.signal()
}

func (p *Playback) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func (p *Playback) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

func (p *Playback) signal() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

func (p *Playback) processLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.log.Debug().Msg("playback: stopped")
			return
		case <-p.notify:
			p.drain(ctx)
		}
	}
}

func (p *Playback) drain(ctx context.Context) {
	for {
		p.mu.Lock()
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		head := p.queue[0]
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-p.notify:
			// something may have been inserted ahead of head
			continue
		case <-head.ready:
		}

		p.mu.Lock()
		if len(p.queue) == 0 || p.queue[0] != head {
			p.mu.Unlock()
			continue
		}
		p.queue = p.queue[1:]
		p.playing = true
		p.mu.Unlock()

		p.play(ctx, head)

		p.mu.Lock()
		p.playing = false
		p.mu.Unlock()
	}
}

func (p *Playback) play(ctx context.Context, it *playItem) {
	p.sink.OnMessage(DisplayedMessage{
		RoomMessage: it.msg,
		Translated:  it.text,
		Language:    p.language,
	})
	if it.err != nil {
		p.sink.OnNotice(Notice{
			Code:      NoticeSynthesisFailed,
			Message:   fmt.Sprintf("could not synthesize message from %s", it.msg.SpeakerName),
			MessageID: it.msg.ID,
		})
		return
	}
	if err := p.player.Play(ctx, it.clip); err != nil {
		if ctx.Err() != nil {
			return
		}
		p.log.Warn().Err(err).Str("msg", string(it.msg.ID)).Msg("playback: play failed")
		p.sink.OnNotice(Notice{
			Code:      NoticePlaybackFailed,
			Message:   "audio playback failed",
			MessageID: it.msg.ID,
		})
	}
}

// prepare translates when the languages differ and synthesizes in the
// listener's language. Translation failure falls back to the source text.
func (p *Playback) prepare(ctx context.Context, it *playItem) {
	defer close(it.ready)

	select {
	case p.sem <- struct{}{}:
		defer func() { <-p.sem }()
	case <-ctx.Done():
		it.err = ctx.Err()
		return
	}

	it.text = it.msg.Text
	if !domain.SameLanguage(it.msg.SpeakerLanguage, p.language) {
		out, err := p.translator.Translate(ctx, it.msg.Text, it.msg.SpeakerLanguage, p.language)
		if err != nil {
			p.log.Warn().Err(err).Str("msg", string(it.msg.ID)).Msg("playback: translation failed, using source text")
			p.sink.OnNotice(Notice{
				Code:      NoticeTranslationFallback,
				Message:   "translation unavailable, playing original text",
				MessageID: it.msg.ID,
			})
		} else {
			it.text = out
		}
	}

	clip, err := p.synth.Synthesize(ctx, it.text, p.language)
	if err != nil {
		p.log.Warn().Err(err).Str("msg", string(it.msg.ID)).Msg("playback: synthesis failed")
		it.err = err
		return
	}
	clip.MessageID = it.msg.ID
	if clip.Text == "" {
		clip.Text = it.text
	}
	if clip.Language == "" {
		clip.Language = p.language
	}
	it.clip = clip
}

func messageLess(a, b domain.RoomMessage) bool {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c < 0
	}
	return a.ID < b.ID
}
