package store

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

var (
	ErrBalanceMissing = errors.New("balance not recorded")
	ErrBalanceCorrupt = errors.New("balance is not a number")
)

// BalanceWriter is the part of the balance store a strategy needs.
type BalanceWriter interface {
	WriteCurrent(amount decimal.Decimal) error
}

// BalanceStore carries the trading amount from one cycle to the next.
type BalanceStore interface {
	BalanceWriter
	// Initialize records amount as current and, if none exists yet, as the start balance.
	Initialize(amount decimal.Decimal) error
	ReadCurrent() (decimal.Decimal, error)
}

// SymbolStore remembers the pair chosen for the current cycle.
type SymbolStore interface {
	WriteSymbol(symbol string) error
	ReadSymbol() (string, bool, error)
}

func (s *Store) Initialize(amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeAtomic(s.path(balanceFile), []byte(amount.String())); err != nil {
		return fmt.Errorf("write balance: %w", err)
	}
	if _, err := os.Stat(s.path(startBalanceFile)); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	if err := s.writeAtomic(s.path(startBalanceFile), []byte(amount.String())); err != nil {
		return fmt.Errorf("write start balance: %w", err)
	}
	return nil
}

func (s *Store) WriteCurrent(amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeAtomic(s.path(balanceFile), []byte(amount.String())); err != nil {
		return fmt.Errorf("write balance: %w", err)
	}
	return nil
}

func (s *Store) ReadCurrent() (decimal.Decimal, error) {
	return readDecimalFile(s.path(balanceFile))
}

// ReadStart returns the amount recorded by the first Initialize in this state dir.
func (s *Store) ReadStart() (decimal.Decimal, error) {
	return readDecimalFile(s.path(startBalanceFile))
}

func (s *Store) WriteSymbol(symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeAtomic(s.path(symbolFile), []byte(strings.TrimSpace(symbol)))
}

func (s *Store) ReadSymbol() (string, bool, error) {
	data, err := os.ReadFile(s.path(symbolFile))
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, err
	}
	symbol := strings.TrimSpace(string(data))
	return symbol, symbol != "", nil
}

func readDecimalFile(path string) (decimal.Decimal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return decimal.Zero, fmt.Errorf("%s: %w", path, ErrBalanceMissing)
		}
		return decimal.Zero, err
	}
	raw := strings.TrimSpace(string(data))
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s %q: %w", path, raw, ErrBalanceCorrupt)
	}
	return amount, nil
}

// MemoryStore implements BalanceStore and SymbolStore without touching disk.
type MemoryStore struct {
	mu      sync.Mutex
	current *decimal.Decimal
	start   *decimal.Decimal
	symbol  string
	// ReadErr, when set, is returned by ReadCurrent.
	ReadErr error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Initialize(amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = &amount
	if m.start == nil {
		start := amount
		m.start = &start
	}
	return nil
}

func (m *MemoryStore) WriteCurrent(amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = &amount
	return nil
}

func (m *MemoryStore) ReadCurrent() (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReadErr != nil {
		return decimal.Zero, m.ReadErr
	}
	if m.current == nil {
		return decimal.Zero, ErrBalanceMissing
	}
	return *m.current, nil
}

func (m *MemoryStore) ReadStart() (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.start == nil {
		return decimal.Zero, ErrBalanceMissing
	}
	return *m.start, nil
}

func (m *MemoryStore) WriteSymbol(symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.symbol = strings.TrimSpace(symbol)
	return nil
}

func (m *MemoryStore) ReadSymbol() (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.symbol, m.symbol != "", nil
}

var (
	_ BalanceStore = (*Store)(nil)
	_ SymbolStore  = (*Store)(nil)
	_ BalanceStore = (*MemoryStore)(nil)
	_ SymbolStore  = (*MemoryStore)(nil)
)
