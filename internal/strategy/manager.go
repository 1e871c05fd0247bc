package strategy

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"trade-maestro/internal/interfaces"
	"trade-maestro/internal/logger"
	"trade-maestro/internal/types"
)

// Manager owns the configured strategies and their indicator state. Each
// strategy has its own lock, so reconfiguring one never overlaps an evaluation
// of the same strategy while other strategies keep running.
type Manager struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	mu    sync.Mutex
	cfg   types.StrategyConfig
	strat interfaces.Strategy
}

func NewManager() *Manager {
	return &Manager{entries: make(map[string]*entry)}
}

// Add registers cfg as given, enabled or not. Ids are unique.
func (m *Manager) Add(cfg types.StrategyConfig) error {
	if cfg.ID == "" {
		return fmt.Errorf("add strategy: empty id")
	}
	s, err := New(cfg)
	if err != nil {
		return fmt.Errorf("add strategy %s: %w", cfg.ID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[cfg.ID]; ok {
		return fmt.Errorf("add strategy %s: already registered", cfg.ID)
	}
	m.entries[cfg.ID] = &entry{cfg: cloneConfig(cfg), strat: s}
	logger.Info(context.Background(), "Strategy registered", "strategy_id", cfg.ID, "type", cfg.Type, "enabled", cfg.Enabled)
	return nil
}

// Activate enables the strategy described by cfg. A known id is re-enabled
// with its indicator state intact; an unknown id is built from cfg.Type.
func (m *Manager) Activate(cfg types.StrategyConfig) error {
	e, err := m.entry(cfg.ID)
	if err != nil {
		cfg.Enabled = true
		return m.Add(cfg)
	}
	e.mu.Lock()
	e.cfg.Enabled = true
	e.mu.Unlock()
	logger.Info(context.Background(), "Strategy activated", "strategy_id", cfg.ID)
	return nil
}

// Deactivate stops evaluating the strategy. Its open orders are left alone.
func (m *Manager) Deactivate(id string) error {
	e, err := m.entry(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.cfg.Enabled = false
	e.mu.Unlock()
	logger.Info(context.Background(), "Strategy deactivated", "strategy_id", id)
	return nil
}

// Reconfigure replaces the parameters of a known strategy. The instance is
// rebuilt, so indicator state starts over.
func (m *Manager) Reconfigure(cfg types.StrategyConfig) error {
	e, err := m.entry(cfg.ID)
	if err != nil {
		return err
	}
	s, err := New(cfg)
	if err != nil {
		return fmt.Errorf("reconfigure strategy %s: %w", cfg.ID, err)
	}
	e.mu.Lock()
	e.cfg = cloneConfig(cfg)
	e.strat = s
	e.mu.Unlock()
	logger.Info(context.Background(), "Strategy reconfigured", "strategy_id", cfg.ID, "type", cfg.Type, "enabled", cfg.Enabled)
	return nil
}

// EvaluateAll runs every enabled strategy over its symbols, in id order, and
// returns the intents tagged with the producing strategy's id. A strategy with
// no configured symbols trades every symbol present in windows.
func (m *Manager) EvaluateAll(ctx context.Context, windows map[string][]types.Quote) []types.OrderIntent {
	all := symbolsOf(windows)
	var out []types.OrderIntent
	for _, e := range m.sorted() {
		e.mu.Lock()
		if !e.cfg.Enabled {
			e.mu.Unlock()
			continue
		}
		symbols := e.cfg.Symbols
		if len(symbols) == 0 {
			symbols = all
		}
		lookback := e.strat.Lookback()
		for _, sym := range symbols {
			window := windows[sym]
			if len(window) == 0 {
				continue
			}
			if len(window) > lookback {
				window = window[len(window)-lookback:]
			}
			for _, intent := range e.strat.Evaluate(sym, window) {
				intent.StrategyID = e.cfg.ID
				logger.Decision(ctx, intent.StrategyID, intent.Symbol, intent.Direction.String(), intent.Confidence, intent.Reason,
					"size", intent.RequestedSize, "stop_loss", intent.StopLoss, "take_profit", intent.TakeProfit)
				out = append(out, intent)
			}
		}
		e.mu.Unlock()
	}
	return out
}

// Configs returns copies of all known configurations ordered by id.
func (m *Manager) Configs() []types.StrategyConfig {
	entries := m.sorted()
	out := make([]types.StrategyConfig, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, cloneConfig(e.cfg))
		e.mu.Unlock()
	}
	return out
}

// Lookback is the longest quote window any enabled strategy asks for.
func (m *Manager) Lookback() int {
	n := 0
	for _, e := range m.sorted() {
		e.mu.Lock()
		if e.cfg.Enabled {
			n = max(n, e.strat.Lookback())
		}
		e.mu.Unlock()
	}
	return n
}

func (m *Manager) entry(id string) (*entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, &types.NotFoundError{Kind: "strategy", Key: id}
	}
	return e, nil
}

func (m *Manager) sorted() []*entry {
	m.mu.RLock()
	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*entry, len(ids))
	for i, id := range ids {
		out[i] = m.entries[id]
	}
	m.mu.RUnlock()
	return out
}

func symbolsOf(windows map[string][]types.Quote) []string {
	out := make([]string, 0, len(windows))
	for s := range windows {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func cloneConfig(c types.StrategyConfig) types.StrategyConfig {
	c.Symbols = append([]string(nil), c.Symbols...)
	if c.Parameters != nil {
		p := make(map[string]float64, len(c.Parameters))
		for k, v := range c.Parameters {
			p[k] = v
		}
		c.Parameters = p
	}
	return c
}
