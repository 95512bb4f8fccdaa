package service

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
	"trade_pilot/internal/models"
)

// CycleStatus последний цикл по инструменту.
type CycleStatus struct {
	InstID  string         `json:"instId"`
	At      time.Time      `json:"at"`
	Stage   models.Stage   `json:"stage"`
	Outcome models.Outcome `json:"outcome"`
}

type State struct {
	ready     atomic.Bool
	startedAt time.Time

	wsConnected  atomic.Bool
	lastTickUnix atomic.Int64 // unix seconds

	mu     sync.RWMutex
	cycles map[string]CycleStatus
}

func NewState() *State {
	s := &State{startedAt: time.Now(), cycles: make(map[string]CycleStatus)}
	s.ready.Store(false)
	return s
}

// SetReady готовность после первой успешной сверки позиции.
func (s *State) SetReady(v bool) { s.ready.Store(v) }
func (s *State) Ready() bool     { return s.ready.Load() }

func (s *State) SetWSConnected(v bool) { s.wsConnected.Store(v) }
func (s *State) WSConnected() bool     { return s.wsConnected.Load() }

func (s *State) TouchTick(t time.Time) { s.lastTickUnix.Store(t.Unix()) }
func (s *State) LastTick() time.Time {
	u := s.lastTickUnix.Load()
	if u == 0 {
		return time.Time{}
	}
	return time.Unix(u, 0)
}

func (s *State) CycleDone(instID string, stage models.Stage, outcome models.Outcome, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycles[instID] = CycleStatus{InstID: instID, At: at, Stage: stage, Outcome: outcome}
}

// Cycles по инструментам, отсортировано.
func (s *State) Cycles() []CycleStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]CycleStatus, 0, len(s.cycles))
	for _, c := range s.cycles {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstID < out[j].InstID })
	return out
}

func (s *State) Uptime() time.Duration { return time.Since(s.startedAt) }
