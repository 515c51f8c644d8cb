package neardup

import (
	"sync"
	"time"
	"unicode/utf8"

	"github.com/mackka2k/tg-news-listener/internal/domain"
	"github.com/mackka2k/tg-news-listener/internal/filter"
)

// Defaults
const (
	DefaultThreshold  = 0.85
	DefaultWindow     = 24 * time.Hour
	DefaultMaxEntries = 1000
	DefaultMinLength  = 50
)

// Config configures the index
type Config struct {
	Threshold  float64
	Window     time.Duration
	MaxEntries int
	MinLength  int
}

// Match describes the entry a candidate collided with
type Match struct {
	Fingerprint domain.Fingerprint
	Score       float64
	InsertedAt  time.Time
}

type entry struct {
	tokens      map[string]struct{}
	fingerprint domain.Fingerprint
	insertedAt  time.Time
}

// Index holds signatures of recently emitted texts. Entries are kept in
// insertion order so eviction only ever trims the head.
type Index struct {
	mu      sync.Mutex
	config  Config
	entries []entry
	pending map[*entry]struct{}
	now     func() time.Time
}

// Option customizes an Index
type Option func(*Index)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(i *Index) {
		i.now = now
	}
}

// New creates an index, filling zero config values with defaults
func New(config Config, opts ...Option) *Index {
	if config.Threshold <= 0 {
		config.Threshold = DefaultThreshold
	}
	if config.Window <= 0 {
		config.Window = DefaultWindow
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = DefaultMaxEntries
	}
	if config.MinLength < 0 {
		config.MinLength = 0
	}

	idx := &Index{
		config:  config,
		pending: make(map[*entry]struct{}),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// IsDuplicate reports whether normalized text is similar enough to any entry
// in the window or any pending reservation. A score equal to the threshold
// counts as a duplicate.
func (i *Index) IsDuplicate(normalized string) (bool, Match) {
	if !i.eligible(normalized) {
		return false, Match{}
	}
	candidate := tokenSet(normalized)
	if len(candidate) == 0 {
		return false, Match{}
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	i.evictLocked()
	return i.matchLocked(candidate)
}

// Reserve checks normalized text and, on a miss, holds its signature as
// pending so concurrent callers see it as a duplicate until the reservation
// is confirmed or released. The reservation is nil when the text is too
// short to take part in near-duplicate detection.
func (i *Index) Reserve(normalized string, fp domain.Fingerprint) (*Reservation, bool, Match) {
	if !i.eligible(normalized) {
		return nil, false, Match{}
	}
	candidate := tokenSet(normalized)
	if len(candidate) == 0 {
		return nil, false, Match{}
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	i.evictLocked()
	if dup, match := i.matchLocked(candidate); dup {
		return nil, true, match
	}

	e := &entry{tokens: candidate, fingerprint: fp, insertedAt: i.now()}
	i.pending[e] = struct{}{}
	return &Reservation{idx: i, entry: e}, false, Match{}
}

// Insert adds the signature of an emitted text
func (i *Index) Insert(normalized string, fp domain.Fingerprint) {
	if !i.eligible(normalized) {
		return
	}
	tokens := tokenSet(normalized)
	if len(tokens) == 0 {
		return
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	i.appendLocked(&entry{tokens: tokens, fingerprint: fp})
}

func (i *Index) appendLocked(e *entry) {
	e.insertedAt = i.now()
	i.entries = append(i.entries, *e)
	i.evictLocked()
}

func (i *Index) matchLocked(candidate map[string]struct{}) (bool, Match) {
	best := Match{}
	found := false
	consider := func(e *entry) {
		score := Jaccard(candidate, e.tokens)
		if score >= i.config.Threshold && (!found || score > best.Score) {
			best = Match{Fingerprint: e.fingerprint, Score: score, InsertedAt: e.insertedAt}
			found = true
		}
	}
	for k := range i.entries {
		consider(&i.entries[k])
	}
	for e := range i.pending {
		consider(e)
	}
	return found, best
}

// Reservation is a pending signature taken by Reserve
type Reservation struct {
	idx   *Index
	entry *entry
	done  bool
}

// Confirm turns the pending signature into a window entry stamped now.
// Safe on a nil reservation and after Release.
func (r *Reservation) Confirm() {
	if r == nil {
		return
	}
	r.idx.mu.Lock()
	defer r.idx.mu.Unlock()
	if r.done {
		return
	}
	r.done = true
	delete(r.idx.pending, r.entry)
	r.idx.appendLocked(r.entry)
}

// Release drops the pending signature. Safe on a nil reservation and after
// Confirm.
func (r *Reservation) Release() {
	if r == nil {
		return
	}
	r.idx.mu.Lock()
	defer r.idx.mu.Unlock()
	if r.done {
		return
	}
	r.done = true
	delete(r.idx.pending, r.entry)
}

// Len returns the number of confirmed entries currently in the window
func (i *Index) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.evictLocked()
	return len(i.entries)
}

// Window returns the configured time window
func (i *Index) Window() time.Duration {
	return i.config.Window
}

// eligible texts are strictly longer than MinLength runes
func (i *Index) eligible(normalized string) bool {
	return utf8.RuneCountInString(normalized) > i.config.MinLength
}

func (i *Index) evictLocked() {
	cutoff := i.now().Add(-i.config.Window)
	drop := 0
	for drop < len(i.entries) && !i.entries[drop].insertedAt.After(cutoff) {
		drop++
	}
	if over := len(i.entries) - drop - i.config.MaxEntries; over > 0 {
		drop += over
	}
	if drop == 0 {
		return
	}
	n := copy(i.entries, i.entries[drop:])
	clear(i.entries[n:])
	i.entries = i.entries[:n]
}

func tokenSet(normalized string) map[string]struct{} {
	tokens := filter.Tokens(normalized)
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

// Jaccard returns |a ∩ b| / |a ∪ b|
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	if len(a) > len(b) {
		a, b = b, a
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
