package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hession/aimem/internal/logger"
)

// Manager merges the short-term buffer and the long-term blocks into one
// token-budgeted view of a session
type Manager struct {
	cfg       Config
	slots     []*blockSlot // declaration order
	ordered   []*blockSlot // ascending priority
	short     *ShortTermStore
	flush     *FlushController
	onWarning func(error)

	writeMu   sync.Mutex
	lastStamp time.Time // guarded by writeMu
	closed    atomic.Bool

	restoreCtx context.Context
}

// View is the result of one retrieval cycle
type View struct {
	Messages    []Message
	TotalTokens int

	// Warnings collected during this cycle: degraded blocks, exhausted budget
	Warnings []error

	// BudgetExhausted is set when truncation could not reach the token limit
	BudgetExhausted bool
}

// Stats is a point-in-time summary of a manager
type Stats struct {
	SessionID         string
	ShortTermMessages int
	ShortTermTokens   int
	ShortTermCeiling  int
	TokenLimit        int
	PendingFlushes    int
	Blocks            []BlockStats
}

// BlockStats describes a registered block
type BlockStats struct {
	Name     string
	Priority int
}

// NewManager validates the configuration and starts the flush worker
func NewManager(cfg Config, opts ...Option) (*Manager, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	m := &Manager{cfg: cfg}
	for _, opt := range opts {
		opt(m)
	}

	for i, spec := range cfg.Blocks {
		m.slots = append(m.slots, &blockSlot{BlockSpec: spec, order: i})
	}
	m.ordered = byPriority(m.slots)

	m.short = NewShortTermStore(cfg.Counter)
	if m.restoreCtx != nil {
		if err := m.restore(m.restoreCtx); err != nil {
			return nil, err
		}
		m.restoreCtx = nil
	}
	m.flush = NewFlushController(cfg.Budget, m.short, m.slots, cfg.IngestTimeout, m.warn)
	m.flush.Start()

	logger.Info("Memory manager started: session=%s, limit=%d, short-term ceiling=%d, blocks=%d",
		cfg.SessionID, cfg.Budget.TokenLimit, cfg.Budget.ShortTermCeiling(), len(m.slots))

	return m, nil
}

// restore refills short-term memory with the longest tail of the durable
// session that fits the short-term ceiling. That tail always covers what the
// buffer held when the previous manager closed.
func (m *Manager) restore(ctx context.Context) error {
	msgs, err := m.cfg.Sessions.LoadAll(ctx, m.cfg.SessionID)
	if err != nil {
		return storageError("restore", err)
	}
	if len(msgs) == 0 {
		return nil
	}

	tail := TailWithin(m.cfg.Counter, msgs, m.cfg.Budget.ShortTermCeiling())
	m.short.Append(tail...)
	m.lastStamp = msgs[len(msgs)-1].CreatedAt

	logger.Info("Restored %d of %d messages into short-term memory (session=%s)",
		len(tail), len(msgs), m.cfg.SessionID)
	return nil
}

// SessionID returns the session this manager writes to
func (m *Manager) SessionID() string {
	return m.cfg.SessionID
}

// Put records one message
func (m *Manager) Put(ctx context.Context, msg Message) error {
	return m.PutBatch(ctx, []Message{msg})
}

// PutBatch records messages in order. Each message enters short-term memory
// (flushing overflow after every append) and is then appended to the durable
// session. A storage failure is returned as a StorageError; the messages stay
// in the live context.
func (m *Manager) PutBatch(ctx context.Context, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}

	batch := make([]Message, len(msgs))
	for i, msg := range msgs {
		if err := msg.Validate(); err != nil {
			return fmt.Errorf("put message %d: %w", i, err)
		}
		batch[i] = msg.Clone()
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if m.closed.Load() {
		return ErrClosed
	}

	for i := range batch {
		if batch[i].CreatedAt.IsZero() {
			batch[i].CreatedAt = m.nextStamp()
		}
	}

	for _, msg := range batch {
		m.short.Append(msg)
		if span := m.flush.Check(); span != nil {
			logger.Debug("Flushed %d messages from short-term memory (session=%s)", len(span), m.cfg.SessionID)
		}
	}

	if err := m.cfg.Sessions.Append(ctx, m.cfg.SessionID, batch); err != nil {
		return storageError("put", err)
	}
	return nil
}

// nextStamp returns the current time, moved forward when needed so stamps
// strictly increase across calls; caller holds writeMu
func (m *Manager) nextStamp() time.Time {
	now := time.Now()
	if !now.After(m.lastStamp) {
		now = m.lastStamp.Add(time.Nanosecond)
	}
	m.lastStamp = now
	return now
}

// Get returns the merged, budgeted view
func (m *Manager) Get(ctx context.Context) ([]Message, error) {
	view, err := m.Render(ctx)
	if err != nil {
		return nil, err
	}
	return view.Messages, nil
}

// Render runs one retrieval cycle: snapshot short-term memory, retrieve from
// every block concurrently, truncate by priority until the view fits the
// token limit, then insert the memory text. Block failures degrade to empty
// content and are reported in View.Warnings.
func (m *Manager) Render(ctx context.Context) (*View, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.closed.Load() {
		return nil, ErrClosed
	}

	recent := m.short.Snapshot()
	renderings, warnings := m.retrieveAll(ctx, recent)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	view := &View{Warnings: warnings}
	view.Messages = m.assemble(recent, renderings)
	view.TotalTokens = CountMessages(m.cfg.Counter, view.Messages)

	limit := m.cfg.Budget.TokenLimit
	if view.TotalTokens > limit {
		for _, slot := range truncationOrder(m.ordered) {
			if slot.Priority == 0 {
				continue
			}
			r := renderings[slot.Name]
			for view.TotalTokens > limit {
				freed := r.Truncate(view.TotalTokens - limit)
				view.Messages = m.assemble(recent, renderings)
				view.TotalTokens = CountMessages(m.cfg.Counter, view.Messages)
				if freed <= 0 {
					break
				}
			}
			if view.TotalTokens <= limit {
				break
			}
		}
	}

	if view.TotalTokens > limit {
		view.BudgetExhausted = true
		err := &MemoryError{
			Op:      "get",
			Kind:    ErrBudgetExhausted,
			Details: fmt.Sprintf("%d tokens after truncation, limit %d", view.TotalTokens, limit),
		}
		view.Warnings = append(view.Warnings, err)
		m.warn(err)
	}

	return view, nil
}

// retrieveAll calls Retrieve on every block concurrently and waits for all.
// A block that fails or times out contributes an empty rendering.
func (m *Manager) retrieveAll(ctx context.Context, recent []Message) (map[string]Rendering, []error) {
	results := make([]Rendering, len(m.ordered))
	errs := make([]error, len(m.ordered))

	var wg sync.WaitGroup
	for i, slot := range m.ordered {
		wg.Add(1)
		go func(i int, slot *blockSlot) {
			defer wg.Done()

			rctx, cancel := context.WithTimeout(ctx, m.cfg.RetrievalTimeout)
			defer cancel()

			r, err := slot.Block.Retrieve(rctx, cloneMessages(recent))
			if err == nil && r == nil {
				r = emptyRendering
			}
			results[i], errs[i] = r, err
		}(i, slot)
	}
	wg.Wait()

	renderings := make(map[string]Rendering, len(m.ordered))
	var warnings []error
	for i, slot := range m.ordered {
		if errs[i] != nil {
			renderings[slot.Name] = emptyRendering
			if ctx.Err() == nil {
				w := serviceError("retrieve", slot.Name, errs[i])
				warnings = append(warnings, w)
				m.warn(w)
			}
			continue
		}
		renderings[slot.Name] = results[i]
	}
	return renderings, warnings
}

// assemble builds the view from the short-term snapshot and the current renderings
func (m *Manager) assemble(recent []Message, renderings map[string]Rendering) []Message {
	view := cloneMessages(recent)
	text := m.memoryText(renderings)
	if text == "" {
		if view == nil {
			view = []Message{}
		}
		return view
	}

	if m.cfg.InsertMethod == InsertUser {
		for i := len(view) - 1; i >= 0; i-- {
			if view[i].Role == RoleUser {
				view[i] = view[i].withAppendedText(text)
				return view
			}
		}
	}

	if len(view) > 0 && view[0].Role == RoleSystem {
		view[0] = view[0].withAppendedText(text)
		return view
	}
	return append([]Message{{Role: RoleSystem, Content: text, CreatedAt: time.Now()}}, view...)
}

// memoryText wraps every non-empty rendering in a named section, ascending
// priority. Content of blocks that cannot be truncated is kept verbatim.
func (m *Manager) memoryText(renderings map[string]Rendering) string {
	var b strings.Builder
	for _, slot := range m.ordered {
		text := renderings[slot.Name].Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		if slot.truncatable() {
			text = strings.TrimSpace(text)
		}
		fmt.Fprintf(&b, "<%s>\n%s\n</%s>\n", slot.Name, text, slot.Name)
	}
	if b.Len() == 0 {
		return ""
	}
	return "<memory>\n" + b.String() + "</memory>"
}

// truncationOrder highest priority value first, ties in declaration order
func truncationOrder(ordered []*blockSlot) []*blockSlot {
	out := make([]*blockSlot, len(ordered))
	copy(out, ordered)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].order < out[j].order
	})
	return out
}

// GetAll returns the full durable session ledger
func (m *Manager) GetAll(ctx context.Context) ([]Message, error) {
	msgs, err := m.cfg.Sessions.LoadAll(ctx, m.cfg.SessionID)
	if err != nil {
		return nil, storageError("get_all", err)
	}
	return msgs, nil
}

// Reset clears short-term memory, drops pending flushes and resets every
// block. The durable session is cleared only when ResetClearsSession is set.
func (m *Manager) Reset(ctx context.Context) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if m.closed.Load() {
		return ErrClosed
	}

	m.short.Clear()
	if err := m.flush.Discard(ctx); err != nil {
		return fmt.Errorf("wait for in-flight flush: %w", err)
	}

	var errs []error
	for _, slot := range m.ordered {
		if err := slot.Block.Reset(ctx); err != nil {
			errs = append(errs, serviceError("reset", slot.Name, err))
		}
	}

	if m.cfg.ResetClearsSession {
		if err := m.cfg.Sessions.Clear(ctx, m.cfg.SessionID); err != nil {
			errs = append(errs, storageError("reset", err))
		}
	}

	logger.Info("Memory reset: session=%s, cleared session=%v", m.cfg.SessionID, m.cfg.ResetClearsSession)
	return errors.Join(errs...)
}

// Wait blocks until every pending flush has been ingested
func (m *Manager) Wait(ctx context.Context) error {
	return m.flush.Wait(ctx)
}

// Close drains pending flushes and stops the worker. Stores are owned by
// the caller and stay open.
func (m *Manager) Close() error {
	m.writeMu.Lock()
	if m.closed.Swap(true) {
		m.writeMu.Unlock()
		return nil
	}
	m.writeMu.Unlock()

	m.flush.Stop()
	logger.Info("Memory manager closed: session=%s", m.cfg.SessionID)
	return nil
}

// Stats returns a summary of the manager state
func (m *Manager) Stats() Stats {
	s := Stats{
		SessionID:         m.cfg.SessionID,
		ShortTermMessages: m.short.Len(),
		ShortTermTokens:   m.short.Cost(),
		ShortTermCeiling:  m.cfg.Budget.ShortTermCeiling(),
		TokenLimit:        m.cfg.Budget.TokenLimit,
		PendingFlushes:    m.flush.Pending(),
	}
	for _, slot := range m.slots {
		s.Blocks = append(s.Blocks, BlockStats{Name: slot.Name, Priority: slot.Priority})
	}
	return s
}

func (m *Manager) warn(err error) {
	logger.Warn("%v", err)
	if m.onWarning != nil {
		m.onWarning(err)
	}
}
