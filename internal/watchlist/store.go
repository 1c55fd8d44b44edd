package watchlist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// ResolveFunc looks up the display name for a symbol. ok is false when the
// provider has no name for it; err is reserved for provider failures.
type ResolveFunc func(ctx context.Context, symbol string) (name string, ok bool, err error)

var symbolPattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9.\-]{0,9}$`)

// Store owns the watchlist snapshot and its backing file.
type Store struct {
	path    string
	logger  *slog.Logger
	now     func() time.Time
	mu      sync.RWMutex
	symbols []TrackedSymbol
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for load warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithClock overrides time.Now for AddedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates an empty store backed by the snapshot file at path.
// Call Load to read existing entries.
func NewStore(path string, opts ...Option) *Store {
	s := &Store{
		path:   path,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the snapshot file location.
func (s *Store) Path() string { return s.path }

// Normalize trims and uppercases a user-supplied symbol.
func Normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// ValidSymbol reports whether a normalized symbol looks like a ticker.
func ValidSymbol(symbol string) bool {
	return symbolPattern.MatchString(symbol)
}

// Load reads the snapshot file into memory and returns it. It never fails:
// a missing file is a first run, and an unreadable or corrupt file is
// reported and moved aside so the next Save cannot overwrite it.
func (s *Store) Load() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.symbols = nil

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Info("No watchlist snapshot found, starting empty", "path", s.path)
		} else {
			s.logger.Warn("Failed to read watchlist snapshot, starting empty", "path", s.path, "error", err)
		}
		return s.snapshotLocked()
	}

	symbols, err := decodeSnapshot(data)
	if err != nil {
		backup := fmt.Sprintf("%s.corrupt-%d", s.path, s.now().Unix())
		if renameErr := os.Rename(s.path, backup); renameErr != nil {
			s.logger.Error("Corrupt watchlist snapshot could not be moved aside",
				"path", s.path, "error", err, "rename_error", renameErr)
		} else {
			s.logger.Warn("Corrupt watchlist snapshot moved aside, starting empty",
				"path", s.path, "backup", backup, "error", err)
		}
		return s.snapshotLocked()
	}

	s.symbols = dedupe(symbols)
	s.logger.Info("Watchlist loaded", "path", s.path, "count", len(s.symbols))
	return s.snapshotLocked()
}

// decodeSnapshot accepts the versioned object format and the legacy bare
// array of ticker strings.
func decodeSnapshot(data []byte) ([]TrackedSymbol, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("empty snapshot")
	}

	if trimmed[0] == '[' {
		var legacy []string
		if err := json.Unmarshal(trimmed, &legacy); err != nil {
			return nil, fmt.Errorf("decode legacy snapshot: %w", err)
		}
		symbols := make([]TrackedSymbol, 0, len(legacy))
		for _, sym := range legacy {
			sym = Normalize(sym)
			if sym == "" {
				continue
			}
			symbols = append(symbols, TrackedSymbol{Symbol: sym, DisplayName: sym})
		}
		return symbols, nil
	}

	var snap Snapshot
	if err := json.Unmarshal(trimmed, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version > SnapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	return snap.Symbols, nil
}

// dedupe keeps the first occurrence of each symbol, so a hand-edited file
// cannot break the uniqueness invariant.
func dedupe(in []TrackedSymbol) []TrackedSymbol {
	seen := make(map[string]bool, len(in))
	out := make([]TrackedSymbol, 0, len(in))
	for _, ts := range in {
		ts.Symbol = Normalize(ts.Symbol)
		if ts.Symbol == "" || seen[ts.Symbol] {
			continue
		}
		if ts.DisplayName == "" {
			ts.DisplayName = ts.Symbol
		}
		seen[ts.Symbol] = true
		out = append(out, ts)
	}
	return out
}

// Add tracks a new symbol. resolve is called without holding the store lock.
func (s *Store) Add(ctx context.Context, symbol string, resolve ResolveFunc) (TrackedSymbol, error) {
	symbol = Normalize(symbol)
	if !ValidSymbol(symbol) {
		return TrackedSymbol{}, fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
	}

	if _, ok := s.Get(symbol); ok {
		return TrackedSymbol{}, fmt.Errorf("%w: %s", ErrAlreadyExists, symbol)
	}

	name, ok, err := resolve(ctx, symbol)
	if err != nil {
		return TrackedSymbol{}, fmt.Errorf("resolve %s: %w", symbol, err)
	}
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return TrackedSymbol{}, fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Another add may have won while the resolver was running.
	if s.indexLocked(symbol) >= 0 {
		return TrackedSymbol{}, fmt.Errorf("%w: %s", ErrAlreadyExists, symbol)
	}

	entry := TrackedSymbol{
		Symbol:      symbol,
		DisplayName: name,
		AddedAt:     s.now().UTC(),
	}

	prev := s.symbols
	next := make([]TrackedSymbol, len(prev), len(prev)+1)
	copy(next, prev)
	next = append(next, entry)

	if err := s.writeLocked(next); err != nil {
		return TrackedSymbol{}, err
	}
	s.symbols = next
	return entry, nil
}

// Remove stops tracking a symbol.
func (s *Store) Remove(symbol string) error {
	symbol = Normalize(symbol)

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(symbol)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, symbol)
	}

	next := make([]TrackedSymbol, 0, len(s.symbols)-1)
	next = append(next, s.symbols[:idx]...)
	next = append(next, s.symbols[idx+1:]...)

	if err := s.writeLocked(next); err != nil {
		return err
	}
	s.symbols = next
	return nil
}

// List returns the tracked symbols in insertion order.
func (s *Store) List() []TrackedSymbol {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]TrackedSymbol, len(s.symbols))
	copy(out, s.symbols)
	return out
}

// Get returns the entry for symbol, if tracked.
func (s *Store) Get(symbol string) (TrackedSymbol, bool) {
	symbol = Normalize(symbol)

	s.mu.RLock()
	defer s.mu.RUnlock()

	if idx := s.indexLocked(symbol); idx >= 0 {
		return s.symbols[idx], true
	}
	return TrackedSymbol{}, false
}

// Len returns the number of tracked symbols.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.symbols)
}

// Save replaces the watchlist with snap and writes it to disk.
func (s *Store) Save(snap Snapshot) error {
	symbols := dedupe(snap.Symbols)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeLocked(symbols); err != nil {
		return err
	}
	s.symbols = symbols
	return nil
}

func (s *Store) indexLocked(symbol string) int {
	for i, ts := range s.symbols {
		if ts.Symbol == symbol {
			return i
		}
	}
	return -1
}

func (s *Store) snapshotLocked() Snapshot {
	symbols := make([]TrackedSymbol, len(s.symbols))
	copy(symbols, s.symbols)
	return Snapshot{Version: SnapshotVersion, Symbols: symbols}
}

func (s *Store) writeLocked(symbols []TrackedSymbol) error {
	if symbols == nil {
		symbols = []TrackedSymbol{}
	}
	data, err := json.MarshalIndent(Snapshot{Version: SnapshotVersion, Symbols: symbols}, "", "  ")
	if err != nil {
		return &PersistenceError{Path: s.path, Err: err}
	}
	if err := writeFileAtomic(s.path, append(data, '\n'), 0o644); err != nil {
		s.logger.Error("Failed to persist watchlist", "path", s.path, "error", err)
		return &PersistenceError{Path: s.path, Err: err}
	}
	return nil
}

// writeFileAtomic writes to a temp file in the target directory and renames
// it over path, so readers see either the old or the new content.
func writeFileAtomic(path string, data []byte, perm os.FileMode) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
