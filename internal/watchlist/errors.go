package watchlist

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyExists is returned by Add when the symbol is already tracked.
	ErrAlreadyExists = errors.New("symbol already in watchlist")
	// ErrSymbolNotFound is returned by Add when metadata resolution yields no name.
	ErrSymbolNotFound = errors.New("symbol not found")
	// ErrNotFound is returned by Remove when the symbol is not tracked.
	ErrNotFound = errors.New("symbol not in watchlist")
	// ErrInvalidSymbol is returned for input that cannot be a ticker.
	ErrInvalidSymbol = errors.New("invalid symbol")
)

// PersistenceError reports a failed snapshot write. The in-memory state has
// already been rolled back when it is returned.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist watchlist %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
