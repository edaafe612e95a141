package server

import (
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHandle records pushes and close calls for registry tests.
type fakeHandle struct {
	id     string
	mu     sync.Mutex
	pushed []string
	closed bool
}

func (h *fakeHandle) ID() string { return h.id }

func (h *fakeHandle) Push(line string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pushed = append(h.pushed, line)
	return true
}

func (h *fakeHandle) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
}

func (h *fakeHandle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *fakeHandle) lines() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.pushed...)
}

func TestRegisterReplacesAndClosesPrior(t *testing.T) {
	r := NewRegistry()
	first := &fakeHandle{id: "first"}
	second := &fakeHandle{id: "second"}

	r.Register(7, first)
	r.Register(7, second)

	assert.True(t, first.isClosed())
	assert.False(t, second.isClosed())
	assert.Equal(t, 1, r.Count())

	// Frames route to the replacement.
	require.True(t, r.RouteTo(7, "hello\n"))
	assert.Empty(t, first.lines())
	assert.Equal(t, []string{"hello\n"}, second.lines())
}

func TestUnregisterIgnoresReplacedHandle(t *testing.T) {
	r := NewRegistry()
	first := &fakeHandle{id: "first"}
	second := &fakeHandle{id: "second"}

	r.Register(7, first)
	r.Register(7, second)

	// The replaced connection tearing down late must not evict the new one.
	assert.False(t, r.Unregister(7, first))
	assert.Equal(t, 1, r.Count())

	assert.True(t, r.Unregister(7, second))
	assert.Equal(t, 0, r.Count())
}

func TestUnregisterUnknownUserIsNoop(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.Unregister(99, &fakeHandle{id: "x"}))
}

func TestRouteToOfflineUser(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.RouteTo(42, "hello\n"))
}

func TestBroadcastExceptSkipsSender(t *testing.T) {
	r := NewRegistry()
	sender := &fakeHandle{id: "sender"}
	other1 := &fakeHandle{id: "other1"}
	other2 := &fakeHandle{id: "other2"}

	r.Register(1, sender)
	r.Register(2, other1)
	r.Register(3, other2)

	r.BroadcastExcept(1, "news\n")

	assert.Empty(t, sender.lines())
	assert.Equal(t, []string{"news\n"}, other1.lines())
	assert.Equal(t, []string{"news\n"}, other2.lines())
}

func TestCloseAllClosesEveryHandle(t *testing.T) {
	r := NewRegistry()
	handles := []*fakeHandle{{id: "a"}, {id: "b"}, {id: "c"}}
	for i, h := range handles {
		r.Register(int64(i+1), h)
	}

	r.CloseAll()

	for _, h := range handles {
		assert.True(t, h.isClosed())
	}
}

func TestConcurrentRegistryAccess(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			userID := int64(i % 10)
			h := &fakeHandle{id: "h" + strconv.Itoa(i)}
			r.Register(userID, h)
			r.RouteTo(userID, "ping\n")
			r.BroadcastExcept(userID, "fanout\n")
			r.Unregister(userID, h)
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, r.Count(), 10)
}
