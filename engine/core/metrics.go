package core

import (
	"sync"
	"time"

	"github.com/spaghettifunk/anima-rt/engine/containers"
)

const AVG_COUNT uint8 = 30

// BuildMetrics keeps a rolling average of acceleration structure build times,
// one window per structure kind.
type BuildMetrics struct {
	mutex   sync.Mutex
	windows map[string]*buildWindow
}

type buildWindow struct {
	times  *containers.RingQueue[time.Duration]
	builds uint64
}

func NewBuildMetrics() *BuildMetrics {
	return &BuildMetrics{
		windows: make(map[string]*buildWindow),
	}
}

func (bm *BuildMetrics) Record(kind string, elapsed time.Duration) {
	bm.mutex.Lock()
	defer bm.mutex.Unlock()

	w, ok := bm.windows[kind]
	if !ok {
		w = &buildWindow{times: containers.NewRingQueue[time.Duration](int(AVG_COUNT))}
		bm.windows[kind] = w
	}
	if w.times.IsFull() {
		_, _ = w.times.Dequeue()
	}
	_ = w.times.Enqueue(elapsed)
	w.builds++
}

// Average returns the mean build time over the last AVG_COUNT builds of kind.
func (bm *BuildMetrics) Average(kind string) time.Duration {
	bm.mutex.Lock()
	defer bm.mutex.Unlock()

	w, ok := bm.windows[kind]
	if !ok || w.times.IsEmpty() {
		return 0
	}
	var sum time.Duration
	w.times.Each(func(d time.Duration) {
		sum += d
	})
	return sum / time.Duration(w.times.Len())
}

func (bm *BuildMetrics) Builds(kind string) uint64 {
	bm.mutex.Lock()
	defer bm.mutex.Unlock()
	if w, ok := bm.windows[kind]; ok {
		return w.builds
	}
	return 0
}
