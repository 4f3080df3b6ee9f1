package conversation

import "sync"

// laneLock serialises work per conversation id while letting different
// conversations proceed in parallel. The map mutex is held only to find or
// create a lane; lanes are dropped once nobody holds or waits on them.
type laneLock struct {
	mu    sync.Mutex
	lanes map[string]*lane
}

// refs counts goroutines holding or waiting on the lane.
type lane struct {
	mu   sync.Mutex
	refs int
}

func newLaneLock() *laneLock {
	return &laneLock{lanes: make(map[string]*lane)}
}

func (l *laneLock) acquire(id string) {
	l.mu.Lock()
	ln, ok := l.lanes[id]
	if !ok {
		ln = &lane{}
		l.lanes[id] = ln
	}
	ln.refs++
	l.mu.Unlock()

	ln.mu.Lock()
}

func (l *laneLock) release(id string) {
	l.mu.Lock()
	ln, ok := l.lanes[id]
	if !ok {
		l.mu.Unlock()
		return
	}
	ln.refs--
	if ln.refs == 0 {
		delete(l.lanes, id)
	}
	l.mu.Unlock()

	ln.mu.Unlock()
}

func (l *laneLock) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.lanes)
}
