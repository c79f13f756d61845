// Package registry provides a message parser registry for dispatching raw
// telegrams to the appropriate kind parser.
package registry

import (
	"sort"
	"sync"

	"shr_parser/internal/telegram"
)

// Parser is implemented by each telegram kind parser.
type Parser interface {
	// Name returns the parser's unique identifier.
	Name() string

	// Kind returns the telegram kind this parser produces.
	Kind() telegram.Kind

	// QuickCheck performs a fast string check before expensive tokenizing.
	// Returns true if the message MIGHT be parseable (false = definitely skip).
	// This should use strings.Contains/HasPrefix, NOT regex.
	QuickCheck(text string) bool

	// Priority determines order when multiple parsers claim a message.
	// Lower number = checked first.
	Priority() int

	// Parse attempts to parse the message, returns nil if not applicable.
	Parse(msg *telegram.RawMessage) *telegram.Parsed
}

// Registry holds all registered parsers organised for dispatch.
type Registry struct {
	mu sync.RWMutex

	parsers []Parser

	// catchAll runs only when nothing else matched.
	catchAll []Parser

	sorted bool
}

// New creates a new Registry instance.
func New() *Registry {
	return &Registry{}
}

var defaultRegistry = New()

// Default returns the global registry instance.
func Default() *Registry {
	return defaultRegistry
}

// Register adds a parser to the default registry.
// Called during init() in each parser package.
func Register(p Parser) {
	defaultRegistry.Register(p)
}

// RegisterCatchAll adds a catch-all parser to the default registry.
func RegisterCatchAll(p Parser) {
	defaultRegistry.RegisterCatchAll(p)
}

// Register adds a parser to the registry.
func (r *Registry) Register(p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parsers = append(r.parsers, p)
	r.sorted = false
}

// RegisterCatchAll adds a catch-all parser.
func (r *Registry) RegisterCatchAll(p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.catchAll = append(r.catchAll, p)
	r.sorted = false
}

// Sort orders parsers by priority. Call once before dispatching.
func (r *Registry) Sort() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sorted {
		return
	}
	sort.SliceStable(r.parsers, func(i, j int) bool {
		return r.parsers[i].Priority() < r.parsers[j].Priority()
	})
	sort.SliceStable(r.catchAll, func(i, j int) bool {
		return r.catchAll[i].Priority() < r.catchAll[j].Priority()
	})
	r.sorted = true
}

// Dispatch routes a message to the first parser that claims it. A telegram
// has exactly one kind, so the first successful parse wins.
func (r *Registry) Dispatch(msg *telegram.RawMessage) *telegram.Parsed {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.parsers {
		if !p.QuickCheck(msg.Text) {
			continue
		}
		if parsed := p.Parse(msg); parsed != nil {
			return parsed
		}
	}
	for _, p := range r.catchAll {
		if parsed := p.Parse(msg); parsed != nil {
			return parsed
		}
	}
	return nil
}

// ParserCount returns the number of registered parsers.
func (r *Registry) ParserCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.parsers) + len(r.catchAll)
}
