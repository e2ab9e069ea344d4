package vulkan

import "sync"

// handleTable hands out the uint64 handles the raytracing package works with
// and maps them back to Vulkan objects. Zero is never issued.
type handleTable[T any] struct {
	mutex sync.Mutex
	next  uint64
	items map[uint64]T
}

func newHandleTable[T any]() *handleTable[T] {
	return &handleTable[T]{
		items: make(map[uint64]T),
	}
}

func (h *handleTable[T]) add(item T) uint64 {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.next++
	h.items[h.next] = item
	return h.next
}

func (h *handleTable[T]) get(id uint64) (T, bool) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	item, ok := h.items[id]
	return item, ok
}

func (h *handleTable[T]) remove(id uint64) (T, bool) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	item, ok := h.items[id]
	if ok {
		delete(h.items, id)
	}
	return item, ok
}

func (h *handleTable[T]) len() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.items)
}

// each calls fn for every live item. fn must not use the table.
func (h *handleTable[T]) each(fn func(id uint64, item T)) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for id, item := range h.items {
		fn(id, item)
	}
}
