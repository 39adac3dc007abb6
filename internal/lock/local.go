package lock

import (
	"context"
	"sync"
	"time"

	"rpg-novel-server/internal/interfaces"
	"rpg-novel-server/internal/models"
)

type localEntry struct {
	sem  chan struct{}
	refs int
}

// LocalLocker - блокировка по ключу в пределах процесса.
type LocalLocker struct {
	mu      sync.Mutex
	entries map[string]*localEntry
	wait    time.Duration
}

var _ interfaces.StoryLocker = (*LocalLocker)(nil)

// NewLocalLocker создает LocalLocker. wait <= 0 - ждать до отмены контекста.
func NewLocalLocker(wait time.Duration) *LocalLocker {
	return &LocalLocker{entries: make(map[string]*localEntry), wait: wait}
}

func (l *LocalLocker) Lock(ctx context.Context, storyID string) (func(), error) {
	l.mu.Lock()
	e, ok := l.entries[storyID]
	if !ok {
		e = &localEntry{sem: make(chan struct{}, 1)}
		l.entries[storyID] = e
	}
	e.refs++
	l.mu.Unlock()

	if l.wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(storyID, e)
		return nil, models.ErrStoryBusy
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			l.release(storyID, e)
		})
	}, nil
}

func (l *LocalLocker) release(storyID string, e *localEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, storyID)
	}
}
