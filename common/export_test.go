package common

// Waiters reports how many requests are blocked on the in-flight refresh.
func (c *RefreshCoordinator) Waiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// OnNotify installs fn to observe the registration number (starting at 1) of
// each waiter as the finished refresh notifies it.
func (c *RefreshCoordinator) OnNotify(fn func(seq uint64)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onNotify = fn
}
