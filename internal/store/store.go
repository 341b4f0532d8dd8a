package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"arbitrage-bot/internal/core"
)

// RuntimeStatus is the snapshot an operator reads to see what the bot is doing.
type RuntimeStatus struct {
	RunID         string          `json:"run_id"`
	Mode          string          `json:"mode"`
	Symbol        string          `json:"symbol,omitempty"`
	Exchanges     []string        `json:"exchanges"`
	PID           int             `json:"pid"`
	State         string          `json:"state"`
	Iteration     int             `json:"iteration"`
	Amount        decimal.Decimal `json:"amount"`
	LastProfitPct decimal.Decimal `json:"last_profit_pct"`
	StartedAt     time.Time       `json:"started_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	LastError     string          `json:"last_error,omitempty"`
}

type StatusWriter interface {
	SaveRuntimeStatus(status RuntimeStatus) error
}

// Journal records every fill, real or simulated.
type Journal interface {
	AppendTrade(trade core.Trade) error
}

// Store keeps all durable bot state as plain files under one directory.
type Store struct {
	root string
	mu   sync.Mutex
	log  logrus.FieldLogger
}

func New(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("state dir required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	return &Store{root: root, log: logger}, nil
}

// WithLogger replaces the logger used for best-effort durability warnings.
func (s *Store) WithLogger(log logrus.FieldLogger) *Store {
	if log != nil {
		s.log = log
	}
	return s
}

func (s *Store) Root() string {
	return s.root
}

func (s *Store) SaveRuntimeStatus(status RuntimeStatus) error {
	if status.UpdatedAt.IsZero() {
		status.UpdatedAt = time.Now().UTC()
	}
	if status.Exchanges == nil {
		status.Exchanges = make([]string, 0)
	}
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeAtomic(s.path(runtimeStatusFile), append(data, '\n'))
}

func (s *Store) LoadRuntimeStatus() (RuntimeStatus, bool, error) {
	data, err := os.ReadFile(s.path(runtimeStatusFile))
	if err != nil {
		if os.IsNotExist(err) {
			return RuntimeStatus{}, false, nil
		}
		return RuntimeStatus{}, false, err
	}
	var status RuntimeStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return RuntimeStatus{}, false, err
	}
	return status, true, nil
}

// AppendTrade writes one JSON line to trades/YYYY-MM-DD.jsonl.
func (s *Store) AppendTrade(trade core.Trade) error {
	if trade.Time.IsZero() {
		trade.Time = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.root, "trades")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	date := trade.Time.UTC().Format("2006-01-02")
	path := filepath.Join(dir, date+".jsonl")
	data, err := json.Marshal(trade)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

const (
	balanceFile       = "balance.txt"
	startBalanceFile  = "start_balance.txt"
	symbolFile        = "symbol.txt"
	runtimeStatusFile = "runtime_status.json"
)

func (s *Store) path(name string) string {
	return filepath.Join(s.root, name)
}

// writeAtomic replaces path with data so readers never observe a partial file.
func (s *Store) writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	s.fsyncDirBestEffort(dir, path)
	return nil
}

func (s *Store) fsyncDirBestEffort(dir, path string) {
	d, err := os.Open(dir)
	if err != nil {
		s.log.WithFields(logrus.Fields{"event": "store_dir_fsync_skipped", "dir": dir, "target": path}).
			Warn(err.Error())
		return
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		s.log.WithFields(logrus.Fields{"event": "store_dir_fsync_failed", "dir": dir, "target": path}).
			Warn(err.Error())
	}
}
