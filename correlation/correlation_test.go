package correlation

import (
	"fmt"
	"mqrpc/rpcerr"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterComplete(t *testing.T) {
	r := NewRegistry()

	call, err := r.Register("a")
	require.NoError(t, err)
	assert.False(t, call.Filled())
	assert.Equal(t, 1, r.Len())

	assert.True(t, r.Complete("a", []byte("reply")))
	<-call.Done()

	body, err := call.Result()
	require.NoError(t, err)
	assert.Equal(t, "reply", string(body))

	r.Unregister("a")
	assert.Equal(t, 0, r.Len())
}

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry()

	_, err := r.Register("a")
	require.NoError(t, err)

	_, err = r.Register("a")
	assert.True(t, errors.Is(err, rpcerr.ErrDuplicateCorrelationID))
}

func TestCompleteUnknownDropped(t *testing.T) {
	r := NewRegistry()
	call, err := r.Register("a")
	require.NoError(t, err)

	assert.False(t, r.Complete("stale", []byte("x")))
	assert.False(t, call.Filled())
}

func TestCompleteOnlyOnce(t *testing.T) {
	r := NewRegistry()
	call, err := r.Register("a")
	require.NoError(t, err)

	assert.True(t, r.Complete("a", []byte("first")))
	assert.False(t, r.Complete("a", []byte("second")))

	body, err := call.Result()
	require.NoError(t, err)
	assert.Equal(t, "first", string(body))
}

func TestCompleteEmptyBodyIsNotNil(t *testing.T) {
	r := NewRegistry()
	call, err := r.Register("ping")
	require.NoError(t, err)

	r.Complete("ping", nil)
	body, err := call.Result()
	require.NoError(t, err)
	assert.NotNil(t, body)
	assert.Empty(t, body)
}

func TestCompleteAfterUnregisterDropped(t *testing.T) {
	r := NewRegistry()
	call, err := r.Register("a")
	require.NoError(t, err)

	r.Unregister("a")
	assert.False(t, r.Complete("a", []byte("late")))
	assert.False(t, call.Filled())
}

func TestCancel(t *testing.T) {
	r := NewRegistry()
	call, err := r.Register("a")
	require.NoError(t, err)

	assert.True(t, r.Cancel("a"))
	assert.False(t, r.Cancel("a"))
	assert.Equal(t, 0, r.Len())

	_, err = call.Result()
	assert.True(t, errors.Is(err, rpcerr.ErrCallCancelled))

	// A reply arriving after cancellation is disregarded.
	assert.False(t, r.Complete("a", []byte("late")))
}

func TestFailAll(t *testing.T) {
	r := NewRegistry()
	a, _ := r.Register("a")
	b, _ := r.Register("b")
	r.Complete("b", []byte("done"))

	cause := rpcerr.Transport("connection", errors.New("broken pipe"))
	assert.Equal(t, 1, r.FailAll(cause))
	assert.Equal(t, 0, r.Len())

	_, err := a.Result()
	assert.True(t, errors.Is(err, rpcerr.ErrTransportFailure))

	body, err := b.Result()
	require.NoError(t, err)
	assert.Equal(t, "done", string(body))
}

func TestConcurrentCompletion(t *testing.T) {
	r := NewRegistry()
	const n = 100

	calls := make([]*Call, n)
	for i := range calls {
		call, err := r.Register(fmt.Sprint(i))
		require.NoError(t, err)
		calls[i] = call
	}

	var wg sync.WaitGroup
	for i := n - 1; i >= 0; i-- {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.Complete(fmt.Sprint(i), []byte(fmt.Sprint("reply-", i)))
		}(i)
	}
	wg.Wait()

	for i, call := range calls {
		<-call.Done()
		body, err := call.Result()
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprint("reply-", i), string(body))
	}
}
