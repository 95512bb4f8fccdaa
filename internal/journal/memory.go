package journal

import (
	"context"
	"sync"
	"time"
	"trade_pilot/internal/models"
)

// Memory журнал в памяти: paper-режим и тесты.
type Memory struct {
	mu   sync.RWMutex
	recs []models.TradeRecord
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Record(_ context.Context, rec *models.TradeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.ID = int64(len(m.recs) + 1)
	m.recs = append(m.recs, *rec)
	return nil
}

func (m *Memory) Range(_ context.Context, from, to time.Time) ([]models.TradeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.TradeRecord
	for _, r := range m.recs {
		if r.CycleAt.Before(from) || r.CycleAt.After(to) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *Memory) Recent(_ context.Context, since time.Time, limit int) ([]models.TradeRecord, error) {
	m.mu.RLock()
	var out []models.TradeRecord
	for _, r := range m.recs {
		if !r.CycleAt.Before(since) {
			out = append(out, r)
		}
	}
	m.mu.RUnlock()
	return newestFirst(out, limit), nil
}

func (m *Memory) Last(_ context.Context) (models.TradeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.recs) == 0 {
		return models.TradeRecord{}, ErrNotFound
	}
	return m.recs[len(m.recs)-1], nil
}

func (m *Memory) Close() error { return nil }
