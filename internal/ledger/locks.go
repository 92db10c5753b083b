package ledger

import (
	"context"
	"sync"

	"github.com/liftedinit/credledger/internal/models"
)

// SubjectLocker is implemented by stores that can serialize writers of one subject across processes.
type SubjectLocker interface {
	LockSubject(ctx context.Context, subject models.Subject) (unlock func(), err error)
}

// subjectLocks serializes writers of one subject within the process.
type subjectLocks struct {
	mu    sync.Mutex
	locks map[models.Subject]*subjectLock
}

type subjectLock struct {
	sync.Mutex
	refs int
}

func newSubjectLocks() *subjectLocks {
	return &subjectLocks{locks: make(map[models.Subject]*subjectLock)}
}

func (l *subjectLocks) LockSubject(_ context.Context, subject models.Subject) (func(), error) {
	l.mu.Lock()
	lock, ok := l.locks[subject]
	if !ok {
		lock = &subjectLock{}
		l.locks[subject] = lock
	}
	lock.refs++
	l.mu.Unlock()

	lock.Lock()
	return func() {
		lock.Unlock()
		l.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(l.locks, subject)
		}
		l.mu.Unlock()
	}, nil
}
