package usecases

import (
	"context"
	"sync"

	"github.com/samirrijal/geoincidence/internal/core/domain"
)

// LatestRound serialises rounds for one interactive client. Starting a round
// cancels the one in flight, which then fails with domain.ErrRoundSuperseded.
type LatestRound struct {
	svc *IncidenceService

	mu     sync.Mutex
	seq    uint64
	cancel context.CancelFunc
}

// NewLatestRound creates a LatestRound over svc.
func NewLatestRound(svc *IncidenceService) *LatestRound {
	return &LatestRound{svc: svc}
}

// Run starts a round, superseding any previous one.
func (l *LatestRound) Run(ctx context.Context, rawLat, rawLon string, onProgress ProgressFunc) (*domain.Report, error) {
	ctx, cancel := context.WithCancel(ctx)

	l.mu.Lock()
	if l.cancel != nil {
		l.cancel()
	}
	l.seq++
	mine := l.seq
	l.cancel = cancel
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		if l.seq == mine {
			l.cancel = nil
		}
		l.mu.Unlock()
		cancel()
	}()

	report, err := l.svc.Run(ctx, rawLat, rawLon, onProgress)

	if l.superseded(mine) {
		return nil, domain.ErrRoundSuperseded
	}
	return report, err
}

// Cancel stops the round in flight, if any.
func (l *LatestRound) Cancel() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	l.seq++
}

func (l *LatestRound) superseded(seq uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq != seq
}
