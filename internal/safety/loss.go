package safety

import (
	"sync"
	"time"
)

// lossAccount tracks the rolling PnL windows and peak-value drawdown the
// loss-group breakers are checked against. Owned exclusively by Manager.
type lossAccount struct {
	mu sync.Mutex

	dailyPnL         float64
	hourlyPnL        float64
	consecutiveLosses int
	peakValue        float64
	currentValue     float64

	dailyResetAt  time.Time
	hourlyResetAt time.Time
}

func newLossAccount(now time.Time) *lossAccount {
	return &lossAccount{dailyResetAt: now, hourlyResetAt: now}
}

// Record applies one trade's realized PnL to the rolling windows. Hourly and
// daily windows roll forward independently once their wall-clock period has
// elapsed since the last reset; consecutiveLosses resets to zero on any
// profitable trade.
func (l *lossAccount) Record(pnl float64, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.dailyResetAt) >= 24*time.Hour {
		l.dailyPnL = 0
		l.dailyResetAt = now
	}
	if now.Sub(l.hourlyResetAt) >= time.Hour {
		l.hourlyPnL = 0
		l.hourlyResetAt = now
	}

	l.dailyPnL += pnl
	l.hourlyPnL += pnl

	switch {
	case pnl < 0:
		l.consecutiveLosses++
	case pnl > 0:
		l.consecutiveLosses = 0
	}

	l.currentValue += pnl
	if l.currentValue > l.peakValue {
		l.peakValue = l.currentValue
	}
}

// snapshot returns the fields loss-group breakers are evaluated against.
func (l *lossAccount) snapshot() (dailyPnL, hourlyPnL, drawdownPct float64, consecutiveLosses int) {
	l.mu.Lock()
	dailyPnL, hourlyPnL, consecutiveLosses = l.dailyPnL, l.hourlyPnL, l.consecutiveLosses
	peak, current := l.peakValue, l.currentValue
	l.mu.Unlock()

	if peak <= 0 {
		return dailyPnL, hourlyPnL, 0, consecutiveLosses
	}
	return dailyPnL, hourlyPnL, (peak - current) / peak, consecutiveLosses
}
