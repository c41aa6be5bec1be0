// Package listener follows live conversations on a gateway, buffers them
// per conversation and feeds the buffers to the extraction pipeline.
package listener

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
)

// Processor consumes a flushed buffer. extract.Pipeline implements it.
type Processor interface {
	ProcessChunk(ctx context.Context, text, session string) ([]int64, error)
}

// Config tunes polling and flushing.
type Config struct {
	PollInterval time.Duration
	// BufferSize flushes a buffer once its text reaches this many characters.
	BufferSize int
	// FlushAge flushes a buffer older than this if it holds over 100 characters.
	FlushAge time.Duration
	// Sessions restricts listening to these conversation names when non-empty.
	Sessions  []string
	StatePath string
	// Workers bounds concurrent flushes across conversations.
	Workers int
	// StartDelay postpones the first poll after Start.
	StartDelay time.Duration
}

// DefaultConfig returns the standard listener settings.
func DefaultConfig() Config {
	return Config{
		PollInterval: 30 * time.Second,
		BufferSize:   1500,
		FlushAge:     120 * time.Second,
		Workers:      2,
		StartDelay:   2 * time.Second,
	}
}

const (
	minAgedFlushChars = 100
	minAssistantChars = 20
	bufferSeparator   = "\n\n"

	roleUser   = "user"
	roleAssist = "assistant"
	roleSystem = "system"
)

// Stats is a snapshot of listener activity.
type Stats struct {
	Polls            int64     `json:"polls"`
	MessagesReceived int64     `json:"messages_received"`
	ChunksFlushed    int64     `json:"chunks_flushed"`
	MemoriesStored   int64     `json:"memories_stored"`
	Errors           int64     `json:"errors"`
	LastPoll         time.Time `json:"last_poll"`
	LastFlush        time.Time `json:"last_flush"`
	Running          bool      `json:"running"`
	BufferSessions   int       `json:"buffer_sessions"`
	BufferMessages   int       `json:"buffer_messages"`
	TrackedSessions  []string  `json:"tracked_sessions"`
	PollInterval     string    `json:"poll_interval"`
	BufferSize       int       `json:"buffer_size"`
	FlushAge         string    `json:"flush_age"`
}

type buffer struct {
	lines []string
	since time.Time
}

// Listener polls a Gateway and hands buffered conversation text to a
// Processor. Polling runs on one goroutine; flushes run on a bounded worker
// pool with at most one flush in flight per conversation.
type Listener struct {
	gw     Gateway
	proc   Processor
	cfg    Config
	logger *log.Logger
	now    func() time.Time
	filter map[string]bool

	flushes errgroup.Group

	mu          sync.Mutex
	state       State
	initialized bool
	buffers     map[string]*buffer
	inflight    map[string]bool
	stats       Stats
	running     bool
	cancel      context.CancelFunc
	done        chan struct{}
}

// Option configures a Listener.
type Option func(*Listener)

// WithLogger sets the listener logger.
func WithLogger(l *log.Logger) Option {
	return func(li *Listener) { li.logger = l }
}

// WithClock overrides the time source used for buffer ages.
func WithClock(now func() time.Time) Option {
	return func(li *Listener) { li.now = now }
}

// New creates a Listener and loads its cursor state.
func New(gw Gateway, proc Processor, cfg Config, opts ...Option) (*Listener, error) {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.FlushAge <= 0 {
		cfg.FlushAge = def.FlushAge
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}

	l := &Listener{
		gw:       gw,
		proc:     proc,
		cfg:      cfg,
		logger:   log.New(io.Discard),
		now:      time.Now,
		buffers:  map[string]*buffer{},
		inflight: map[string]bool{},
		state:    newState(),
	}
	for _, o := range opts {
		o(l)
	}
	if len(cfg.Sessions) > 0 {
		l.filter = map[string]bool{}
		for _, s := range cfg.Sessions {
			l.filter[s] = true
		}
	}
	l.flushes.SetLimit(cfg.Workers)

	if cfg.StatePath != "" {
		st, err := LoadState(cfg.StatePath)
		if err != nil {
			return nil, err
		}
		l.state = st
	}
	l.initialized = len(l.state.LastID) > 0
	return l, nil
}

// Start launches the poll loop. It is a no-op when already running.
func (l *Listener) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		l.logger.Warn("listener already running")
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	l.running = true
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.run(loopCtx, l.done)
	l.logger.Info("listener started",
		"poll", l.cfg.PollInterval, "buffer", l.cfg.BufferSize, "flush_age", l.cfg.FlushAge)
}

// Stop ends the poll loop, waits for in-flight flushes and force-flushes
// every remaining buffer. It is a no-op when not running.
func (l *Listener) Stop(ctx context.Context) {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	cancel, done := l.cancel, l.done
	l.mu.Unlock()

	cancel()
	<-done
	l.FlushAll(ctx)

	l.mu.Lock()
	l.running = false
	l.mu.Unlock()
	st := l.Stats()
	l.logger.Info("listener stopped",
		"polls", st.Polls, "flushed", st.ChunksFlushed, "stored", st.MemoriesStored, "errors", st.Errors)
}

func (l *Listener) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	if !sleep(ctx, l.cfg.StartDelay) {
		return
	}
	for {
		if err := l.Poll(ctx); err != nil && ctx.Err() == nil {
			l.logger.Error("poll cycle failed", "err", err)
		}
		if !sleep(ctx, l.cfg.PollInterval) {
			return
		}
	}
}

// sleep waits for d or until ctx is done, reporting whether it slept fully.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Poll runs one cycle: fetch active conversations, buffer their new
// messages, persist cursors and dispatch due flushes. The first successful
// cycle on an empty state only records current positions.
func (l *Listener) Poll(ctx context.Context) error {
	l.mu.Lock()
	l.stats.Polls++
	l.stats.LastPoll = l.now()
	l.mu.Unlock()

	sessions, err := l.activeSessions(ctx)
	if err != nil {
		l.countError()
		return err
	}

	l.mu.Lock()
	initialized := l.initialized
	l.mu.Unlock()
	if !initialized {
		return l.initialize(ctx, sessions)
	}

	// Flushes are detached from the poll context so shutdown never cuts a
	// pipeline call short.
	flushCtx := context.WithoutCancel(ctx)
	active := make(map[string]bool, len(sessions))
	for _, s := range sessions {
		active[s] = true
		msgs, err := l.gw.Messages(ctx, s)
		if errors.Is(err, ErrUnauthorized) {
			l.countError()
			return err
		}
		if err != nil {
			l.countError()
			l.logger.Error("fetching messages", "session", s, "err", err)
			continue
		}
		l.ingest(s, msgs)
		l.maybeFlush(flushCtx, s, false)
	}

	for _, s := range l.bufferedSessions() {
		if !active[s] {
			l.maybeFlush(flushCtx, s, true)
		}
	}
	return nil
}

func (l *Listener) activeSessions(ctx context.Context) ([]string, error) {
	all, err := l.gw.Sessions(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, s := range all {
		if !s.Active() {
			continue
		}
		if l.filter != nil && !l.filter[s.Name] {
			continue
		}
		out = append(out, s.Name)
	}
	return out, nil
}

func (l *Listener) initialize(ctx context.Context, sessions []string) error {
	l.logger.Info("first start, recording current message positions")
	positions := map[string]int64{}
	for _, s := range sessions {
		msgs, err := l.gw.Messages(ctx, s)
		if err != nil {
			l.countError()
			return err
		}
		var maxID int64
		for _, m := range msgs {
			maxID = max(maxID, m.ID)
		}
		if len(msgs) > 0 {
			positions[s] = maxID
			l.logger.Info("starting after message", "session", s, "id", maxID)
		}
	}

	l.mu.Lock()
	for s, id := range positions {
		l.state.LastID[s] = id
	}
	l.initialized = true
	snapshot := l.state.clone()
	l.mu.Unlock()
	l.saveState(snapshot)
	return nil
}

// ingest appends the unseen messages of a conversation to its buffer and
// advances the cursor.
func (l *Listener) ingest(session string, msgs []Message) {
	l.mu.Lock()
	lastID := l.state.LastID[session]
	var fresh []Message
	for _, m := range msgs {
		if m.ID > lastID {
			fresh = append(fresh, m)
		}
	}
	if len(fresh) == 0 {
		l.mu.Unlock()
		return
	}
	sort.Slice(fresh, func(i, j int) bool { return fresh[i].ID < fresh[j].ID })

	for _, m := range fresh {
		line, ok := formatMessage(m)
		if !ok {
			continue
		}
		b := l.buffers[session]
		if b == nil {
			b = &buffer{since: l.now()}
			l.buffers[session] = b
		}
		b.lines = append(b.lines, line)
		l.stats.MessagesReceived++
	}

	l.state.LastID[session] = fresh[len(fresh)-1].ID
	snapshot := l.state.clone()
	l.mu.Unlock()
	l.saveState(snapshot)
}

// formatMessage renders a message as a transcript line. Empty and system
// messages and short assistant fragments are dropped.
func formatMessage(m Message) (string, bool) {
	content := strings.TrimSpace(m.Content)
	if content == "" || m.Role == roleSystem {
		return "", false
	}
	switch m.Role {
	case roleUser:
		return "User: " + m.Content, true
	case roleAssist:
		if len(content) < minAssistantChars {
			return "", false
		}
		return "Assistant: " + m.Content, true
	}
	return "", false
}

func (l *Listener) saveState(st State) {
	if l.cfg.StatePath == "" {
		return
	}
	if err := st.Save(l.cfg.StatePath); err != nil {
		l.countError()
		l.logger.Error("saving listener state", "err", err)
	}
}

func (l *Listener) bufferedSessions() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.buffers))
	for s := range l.buffers {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// maybeFlush hands the buffer of session to the worker pool when a flush
// rule matches. The buffer is detached on dispatch, so new messages start a
// fresh buffer. When every worker is busy the buffer stays in place and is
// retried on the next cycle; the poll goroutine never waits for a worker.
func (l *Listener) maybeFlush(ctx context.Context, session string, force bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.buffers[session]
	if b == nil || len(b.lines) == 0 || l.inflight[session] {
		return false
	}
	text := strings.Join(b.lines, bufferSeparator)
	age := l.now().Sub(b.since)
	due := force ||
		len(text) >= l.cfg.BufferSize ||
		(age >= l.cfg.FlushAge && len(text) > minAgedFlushChars)
	if !due {
		return false
	}
	ok := l.flushes.TryGo(func() error {
		l.flush(ctx, session, text)
		return nil
	})
	if !ok {
		l.logger.Debug("workers busy, flush deferred", "session", session, "chars", len(text))
		return false
	}
	delete(l.buffers, session)
	l.inflight[session] = true
	l.logger.Info("flushing buffer", "session", session, "messages", len(b.lines), "chars", len(text), "forced", force)
	return true
}

func (l *Listener) flush(ctx context.Context, session, text string) {
	ids, err := l.proc.ProcessChunk(ctx, text, session)

	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.inflight, session)
	if err != nil {
		l.stats.Errors++
		l.logger.Error("pipeline failed", "session", session, "chars", len(text), "stage", "flush", "err", err)
		return
	}
	l.stats.ChunksFlushed++
	l.stats.MemoriesStored += int64(len(ids))
	l.stats.LastFlush = l.now()
	if len(ids) > 0 {
		l.logger.Info("stored memories", "session", session, "count", len(ids), "ids", ids)
	} else {
		l.logger.Debug("no memories extracted", "session", session)
	}
}

// Wait blocks until every dispatched flush has finished.
func (l *Listener) Wait() {
	l.flushes.Wait() //nolint:errcheck
}

// FlushAll waits for in-flight flushes, then force-flushes every buffer and
// waits for those too. Buffers that find no free worker are dispatched in a
// later round.
func (l *Listener) FlushAll(ctx context.Context) {
	l.Wait()
	for {
		pending := l.bufferedSessions()
		if len(pending) == 0 {
			return
		}
		dispatched := 0
		for _, s := range pending {
			if l.maybeFlush(ctx, s, true) {
				dispatched++
			}
		}
		l.Wait()
		if dispatched == 0 {
			return
		}
	}
}

func (l *Listener) countError() {
	l.mu.Lock()
	l.stats.Errors++
	l.mu.Unlock()
}

// Stats returns a snapshot of listener activity.
func (l *Listener) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.stats
	st.Running = l.running
	st.BufferSessions = len(l.buffers)
	for _, b := range l.buffers {
		st.BufferMessages += len(b.lines)
	}
	st.TrackedSessions = l.state.Sessions()
	st.PollInterval = l.cfg.PollInterval.String()
	st.BufferSize = l.cfg.BufferSize
	st.FlushAge = l.cfg.FlushAge.String()
	return st
}

// Cursor returns the last consumed message id of a conversation.
func (l *Listener) Cursor(session string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.LastID[session]
}
