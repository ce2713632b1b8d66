package memory

import (
	"context"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/kaptinlin/jsonrepair"
	"github.com/tidwall/gjson"
	"github.com/zeebo/blake3"

	"github.com/hession/aimem/internal/logger"
)

// FactBlock defaults
const (
	DefaultMaxFacts       = 50
	DefaultFactCollection = "facts"
)

// Default prompts used when FactBlockConfig leaves them empty
const (
	DefaultFactExtractPrompt = `You extract durable facts from a conversation.
Return a JSON array of short, self-contained factual statements about the user,
their preferences, decisions and any named entities. One fact per string.
Do not include greetings or chit-chat. Return [] if there is nothing worth keeping.`

	DefaultFactCondensePrompt = `You maintain a compact list of facts.
Merge duplicates, drop facts that are superseded by newer ones, and keep the
list at or below %d entries. Return the result as a JSON array of strings.`
)

// FactBlockConfig FactBlock configuration
type FactBlockConfig struct {
	Completer      Completer
	MaxFacts       int
	ExtractPrompt  string
	CondensePrompt string // may contain one %d for MaxFacts
	Counter        TokenCounter

	// Store persists the fact set under Collection; nil keeps facts in memory only
	Store      FactStore
	Collection string
}

type fact struct {
	key  string
	text string
	seq  uint64 // last reinforcement
}

// FactBlock distills flushed messages into a bounded set of atomic facts
type FactBlock struct {
	cfg FactBlockConfig

	persistMu sync.Mutex // orders saves against Reset

	mu         sync.Mutex
	facts      []fact // first-seen order
	index      map[string]int
	seq        uint64
	generation uint64 // bumped by Reset; stale ingests are dropped
}

// NewFactBlock creates a fact block
func NewFactBlock(cfg FactBlockConfig) (*FactBlock, error) {
	if cfg.Completer == nil {
		return nil, configError("fact block requires a completer")
	}
	if cfg.MaxFacts < 0 {
		return nil, configError("max_facts must be greater than 0, got %d", cfg.MaxFacts)
	}
	if cfg.MaxFacts == 0 {
		cfg.MaxFacts = DefaultMaxFacts
	}
	if cfg.ExtractPrompt == "" {
		cfg.ExtractPrompt = DefaultFactExtractPrompt
	}
	if cfg.CondensePrompt == "" {
		cfg.CondensePrompt = DefaultFactCondensePrompt
	}
	if cfg.Counter == nil {
		cfg.Counter = HeuristicCounter{}
	}
	if cfg.Collection == "" {
		cfg.Collection = DefaultFactCollection
	}

	return &FactBlock{
		cfg:   cfg,
		index: make(map[string]int),
	}, nil
}

// Ingest extracts facts from the batch and merges them into the set
func (b *FactBlock) Ingest(ctx context.Context, batch []Message) error {
	if len(batch) == 0 {
		return nil
	}

	gen := b.currentGeneration()

	out, err := b.cfg.Completer.Complete(ctx, b.cfg.ExtractPrompt, formatTranscript(batch))
	if err != nil {
		return fmt.Errorf("extract facts: %w", err)
	}
	extracted := parseFacts(out)
	logger.Debug("fact block extracted %d facts from %d messages", len(extracted), len(batch))

	b.mu.Lock()
	if b.generation != gen {
		b.mu.Unlock()
		return nil
	}
	for _, text := range extracted {
		b.reinforce(text)
	}
	overflow := len(b.facts) > b.cfg.MaxFacts
	current := b.textsLocked()
	b.mu.Unlock()

	var condenseErr error
	if overflow {
		var condensed []string
		condensed, condenseErr = b.condense(ctx, current)

		b.mu.Lock()
		if b.generation != gen {
			b.mu.Unlock()
			return nil
		}
		if condenseErr == nil && len(condensed) > 0 {
			b.replaceLocked(condensed)
		}
		b.clampLocked()
		b.mu.Unlock()
	}

	if err := b.persist(ctx, gen); err != nil {
		return err
	}
	if condenseErr != nil {
		return fmt.Errorf("condense facts: %w", condenseErr)
	}
	return nil
}

// Load replaces the in-memory facts with the persisted set
func (b *FactBlock) Load(ctx context.Context) error {
	if b.cfg.Store == nil {
		return nil
	}
	stored, err := b.cfg.Store.LoadFacts(ctx, b.cfg.Collection)
	if err != nil {
		return fmt.Errorf("load facts: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.facts = nil
	b.index = make(map[string]int)
	b.seq = 0
	for _, sf := range stored {
		key := factKey(sf.Text)
		if key == "" {
			continue
		}
		if _, dup := b.index[key]; dup {
			continue
		}
		b.index[key] = len(b.facts)
		b.facts = append(b.facts, fact{key: key, text: sf.Text, seq: sf.Seq})
		if sf.Seq > b.seq {
			b.seq = sf.Seq
		}
	}
	b.clampLocked()
	logger.Debug("fact block loaded %d facts from %s", len(b.facts), b.cfg.Collection)
	return nil
}

// persist saves the current set unless a Reset happened since gen
func (b *FactBlock) persist(ctx context.Context, gen uint64) error {
	if b.cfg.Store == nil {
		return nil
	}
	b.persistMu.Lock()
	defer b.persistMu.Unlock()

	b.mu.Lock()
	if b.generation != gen {
		b.mu.Unlock()
		return nil
	}
	stored := make([]StoredFact, len(b.facts))
	for i, f := range b.facts {
		stored[i] = StoredFact{Text: f.text, Seq: f.seq}
	}
	b.mu.Unlock()

	if err := b.cfg.Store.SaveFacts(ctx, b.cfg.Collection, stored); err != nil {
		return fmt.Errorf("save facts: %w", err)
	}
	return nil
}

func (b *FactBlock) condense(ctx context.Context, facts []string) ([]string, error) {
	prompt := b.cfg.CondensePrompt
	if strings.Contains(prompt, "%d") {
		prompt = fmt.Sprintf(prompt, b.cfg.MaxFacts)
	}

	var input strings.Builder
	for i, f := range facts {
		fmt.Fprintf(&input, "%d. %s\n", i+1, f)
	}

	out, err := b.cfg.Completer.Complete(ctx, prompt, input.String())
	if err != nil {
		return nil, err
	}
	return parseFacts(out), nil
}

// Retrieve renders every fact; the rendering drops stale facts first when truncated
func (b *FactBlock) Retrieve(_ context.Context, _ []Message) (Rendering, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.facts) == 0 {
		return emptyRendering, nil
	}
	facts := make([]fact, len(b.facts))
	copy(facts, b.facts)
	return &factRendering{facts: facts, counter: b.cfg.Counter}, nil
}

// Reset drops every fact, including the persisted set
func (b *FactBlock) Reset(ctx context.Context) error {
	b.persistMu.Lock()
	defer b.persistMu.Unlock()

	b.mu.Lock()
	b.facts = nil
	b.index = make(map[string]int)
	b.generation++
	b.mu.Unlock()

	if b.cfg.Store != nil {
		if err := b.cfg.Store.SaveFacts(ctx, b.cfg.Collection, nil); err != nil {
			return fmt.Errorf("delete facts: %w", err)
		}
	}
	return nil
}

// Facts returns the current facts in first-seen order
func (b *FactBlock) Facts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.textsLocked()
}

func (b *FactBlock) currentGeneration() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.generation
}

// reinforce adds a fact or bumps an existing one; caller holds mu
func (b *FactBlock) reinforce(text string) {
	key := factKey(text)
	if key == "" {
		return
	}
	b.seq++
	if i, ok := b.index[key]; ok {
		b.facts[i].seq = b.seq
		return
	}
	b.index[key] = len(b.facts)
	b.facts = append(b.facts, fact{key: key, text: strings.TrimSpace(text), seq: b.seq})
}

// replaceLocked swaps in a condensed set, keeping the reinforcement order of
// facts that survive unchanged
func (b *FactBlock) replaceLocked(texts []string) {
	old := b.index
	oldFacts := b.facts

	b.facts = nil
	b.index = make(map[string]int)
	for _, text := range texts {
		key := factKey(text)
		if key == "" {
			continue
		}
		if _, dup := b.index[key]; dup {
			continue
		}
		f := fact{key: key, text: strings.TrimSpace(text)}
		if i, ok := old[key]; ok {
			f.seq = oldFacts[i].seq
		} else {
			b.seq++
			f.seq = b.seq
		}
		b.index[key] = len(b.facts)
		b.facts = append(b.facts, f)
	}
}

// clampLocked evicts least recently reinforced facts down to MaxFacts
func (b *FactBlock) clampLocked() {
	excess := len(b.facts) - b.cfg.MaxFacts
	if excess <= 0 {
		return
	}

	order := make([]int, len(b.facts))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool {
		return b.facts[order[i]].seq < b.facts[order[j]].seq
	})
	drop := make(map[int]bool, excess)
	for _, i := range order[:excess] {
		drop[i] = true
	}

	kept := b.facts[:0:0]
	b.index = make(map[string]int)
	for i, f := range b.facts {
		if drop[i] {
			continue
		}
		b.index[f.key] = len(kept)
		kept = append(kept, f)
	}
	b.facts = kept
}

func (b *FactBlock) textsLocked() []string {
	out := make([]string, len(b.facts))
	for i, f := range b.facts {
		out[i] = f.text
	}
	return out
}

// factRendering renders facts as a bullet list
type factRendering struct {
	facts   []fact
	counter TokenCounter
}

func (r *factRendering) Text() string {
	lines := make([]string, len(r.facts))
	for i, f := range r.facts {
		lines[i] = "- " + f.text
	}
	return strings.Join(lines, "\n")
}

// Truncate removes least recently reinforced facts
func (r *factRendering) Truncate(excessTokens int) int {
	before := r.counter.Count(r.Text())
	freed := 0
	for freed < excessTokens && len(r.facts) > 0 {
		oldest := 0
		for i, f := range r.facts {
			if f.seq < r.facts[oldest].seq {
				oldest = i
			}
		}
		r.facts = append(r.facts[:oldest:oldest], r.facts[oldest+1:]...)
		freed = before - r.counter.Count(r.Text())
	}
	return freed
}

// factKey is the dedup key of a fact: blake3 of its normalized text
func factKey(text string) string {
	norm := normalizeFact(text)
	if norm == "" {
		return ""
	}
	sum := blake3.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:16])
}

func normalizeFact(text string) string {
	text = strings.ToLower(strings.Join(strings.Fields(text), " "))
	return strings.TrimRight(text, ".!;, ")
}

var (
	factTagPattern = regexp.MustCompile(`(?s)<fact>(.*?)</fact>`)
	bulletPattern  = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s+(.+)$`)
)

// parseFacts reads completer output: a JSON array (repaired if malformed),
// otherwise <fact> tags, otherwise bullet or numbered lines.
func parseFacts(out string) []string {
	out = strings.TrimSpace(out)
	if out == "" {
		return nil
	}

	if start := strings.Index(out, "["); start >= 0 {
		candidate := out[start:]
		if end := strings.LastIndex(candidate, "]"); end >= 0 {
			candidate = candidate[:end+1]
		}
		if !gjson.Valid(candidate) {
			if repaired, err := jsonrepair.JSONRepair(candidate); err == nil {
				candidate = repaired
			}
		}
		if gjson.Valid(candidate) {
			if facts := factsFromJSON(gjson.Parse(candidate)); facts != nil {
				return facts
			}
		}
	}

	if matches := factTagPattern.FindAllStringSubmatch(out, -1); len(matches) > 0 {
		facts := make([]string, 0, len(matches))
		for _, m := range matches {
			if s := strings.TrimSpace(m[1]); s != "" {
				facts = append(facts, s)
			}
		}
		return facts
	}

	var facts []string
	for _, line := range strings.Split(out, "\n") {
		if m := bulletPattern.FindStringSubmatch(line); m != nil {
			if s := strings.TrimSpace(m[1]); s != "" {
				facts = append(facts, s)
			}
		}
	}
	return facts
}

// factsFromJSON accepts an array of strings or of objects with a "fact" or
// "text" field. Returns nil when the value is not an array.
func factsFromJSON(v gjson.Result) []string {
	if !v.IsArray() {
		return nil
	}
	facts := []string{}
	v.ForEach(func(_, item gjson.Result) bool {
		var s string
		switch {
		case item.Type == gjson.String:
			s = item.String()
		case item.IsObject():
			s = item.Get("fact").String()
			if s == "" {
				s = item.Get("text").String()
			}
		}
		if s = strings.TrimSpace(s); s != "" {
			facts = append(facts, s)
		}
		return true
	})
	return facts
}
