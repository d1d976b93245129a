package session

import "sync"

type refreshResult struct {
	token string
	err   error
}

// refreshGate allows one refresh at a time. Callers that arrive while a
// refresh is running wait for its outcome instead of starting another.
type refreshGate struct {
	mu         sync.Mutex
	refreshing bool
	waiters    []chan refreshResult
}

// acquireRefreshOrEnqueue makes the caller the refresh owner when none is
// running. Otherwise it returns a channel that receives the outcome of the
// running refresh.
func (g *refreshGate) acquireRefreshOrEnqueue() (owner bool, wait <-chan refreshResult) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.refreshing {
		g.refreshing = true
		return true, nil
	}
	ch := make(chan refreshResult, 1)
	g.waiters = append(g.waiters, ch)
	return false, ch
}

// settleRefresh hands the outcome to every waiter and releases the gate.
// It returns the number of waiters released.
func (g *refreshGate) settleRefresh(token string, err error) int {
	g.mu.Lock()
	waiters := g.waiters
	g.waiters = nil
	g.refreshing = false
	g.mu.Unlock()

	res := refreshResult{token: token, err: err}
	for _, ch := range waiters {
		ch <- res
	}
	return len(waiters)
}
