package loader

import (
	"sync"
	"time"
)

// componentWaiter counts running pipeline components for one phase so the run
// never commits or discards staged output while a component still holds the store.
type componentWaiter struct {
	wg sync.WaitGroup
}

func (w *componentWaiter) Add()  { w.wg.Add(1) }
func (w *componentWaiter) Done() { w.wg.Done() }

// waitWithTimeout returns false if components are still running after d.
func (w *componentWaiter) waitWithTimeout(d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}
