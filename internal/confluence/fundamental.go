package confluence

import (
	"math"
	"sort"
	"sync"
	"time"
)

// EventKind labels a macro release series
type EventKind string

const (
	EventCPI  EventKind = "CPI"
	EventPPI  EventKind = "PPI"
	EventNFP  EventKind = "NFP"
	EventFOMC EventKind = "FOMC"
	EventGDP  EventKind = "GDP"
)

// MacroEvent is one scheduled economic release. Actual is only meaningful
// once Released is true.
type MacroEvent struct {
	Kind        EventKind `json:"kind"`
	ReleaseTime time.Time `json:"release_time"`
	Forecast    float64   `json:"forecast"`
	Actual      float64   `json:"actual"`
	Released    bool      `json:"released"`
}

// surprisePolarity maps a positive surprise (actual above forecast) to its
// crypto-directional effect. Inflation and employment beats strengthen the
// dollar, which trades against crypto; growth beats are risk-on.
var surprisePolarity = map[EventKind]float64{
	EventCPI:  -1,
	EventPPI:  -1,
	EventNFP:  -1,
	EventFOMC: -1,
	EventGDP:  1,
}

// Calendar holds macro events and derives the fundamental dimension from
// them. The score is nonzero only inside the post-release window, decaying
// linearly to zero as the window elapses. It also answers the pre-event
// blackout question for signal gating.
type Calendar struct {
	mu         sync.RWMutex
	events     []MacroEvent
	preWindow  time.Duration // blackout before a release
	postWindow time.Duration // tradable window after a release
	surprise   float64       // fractional surprise mapping to full score
}

// NewCalendar creates a calendar with the given blackout and trading windows
func NewCalendar(preWindow, postWindow time.Duration) *Calendar {
	if preWindow <= 0 {
		preWindow = 30 * time.Minute
	}
	if postWindow <= 0 {
		postWindow = 60 * time.Minute
	}
	return &Calendar{
		preWindow:  preWindow,
		postWindow: postWindow,
		surprise:   0.005,
	}
}

// Add records an event, keeping the calendar sorted by release time
func (c *Calendar) Add(event MacroEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	sort.Slice(c.events, func(i, j int) bool {
		return c.events[i].ReleaseTime.Before(c.events[j].ReleaseTime)
	})
}

// Score returns the fundamental dimension at now. Only the most recent
// released event inside the post-release window contributes; its magnitude
// scales with the surprise and decays linearly over the window.
func (c *Calendar) Score(symbol string, now time.Time) DimensionScore {
	score := DimensionScore{
		Dimension: Fundamental,
		Symbol:    symbol,
		Timestamp: now,
	}

	event, ok := c.lastReleased(now)
	if !ok {
		return score
	}
	elapsed := now.Sub(event.ReleaseTime)
	if elapsed < 0 || elapsed >= c.postWindow {
		return score
	}

	polarity, ok := surprisePolarity[event.Kind]
	if !ok || event.Forecast == 0 {
		return score
	}

	deviation := (event.Actual - event.Forecast) / math.Abs(event.Forecast)
	magnitude := clamp(math.Abs(deviation)/c.surprise, 0, 1)
	decay := 1 - elapsed.Seconds()/c.postWindow.Seconds()

	direction := polarity
	if deviation < 0 {
		direction = -polarity
	}
	score.Score = direction * magnitude * decay
	return score
}

// InTradingWindow reports whether now falls inside a post-release window
func (c *Calendar) InTradingWindow(now time.Time) bool {
	event, ok := c.lastReleased(now)
	if !ok {
		return false
	}
	elapsed := now.Sub(event.ReleaseTime)
	return elapsed >= 0 && elapsed < c.postWindow
}

// InBlackout reports whether now is within the pre-release blackout of any
// upcoming event.
func (c *Calendar) InBlackout(now time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.events {
		until := e.ReleaseTime.Sub(now)
		if until > 0 && until <= c.preWindow {
			return true
		}
	}
	return false
}

func (c *Calendar) lastReleased(now time.Time) (MacroEvent, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := len(c.events) - 1; i >= 0; i-- {
		e := c.events[i]
		if e.Released && !e.ReleaseTime.After(now) {
			return e, true
		}
	}
	return MacroEvent{}, false
}

// Prune drops events whose post-release window has long elapsed
func (c *Calendar) Prune(now time.Time) {
	cutoff := now.Add(-24 * time.Hour)
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.events[:0]
	for _, e := range c.events {
		if e.ReleaseTime.After(cutoff) {
			kept = append(kept, e)
		}
	}
	c.events = kept
}
