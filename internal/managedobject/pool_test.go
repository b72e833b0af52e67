package managedobject

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type resettable struct {
	id       int
	resets   int
	resetErr error
	closed   bool
}

func (r *resettable) Object() (any, error) { return r.id, nil }
func (r *resettable) Reset() error          { r.resets++; return r.resetErr }
func (r *resettable) Close() error          { r.closed = true; return nil }

func TestNewBoundedPoolRejectsNonPositive(t *testing.T) {
	t.Parallel()

	_, err := NewBoundedPool(0)
	assert.Error(t, err)
}

func TestBoundedPoolLIFO(t *testing.T) {
	t.Parallel()

	pool, err := NewBoundedPool(2)
	require.NoError(t, err)

	a, b, c := &resettable{id: 1}, &resettable{id: 2}, &resettable{id: 3}
	assert.True(t, pool.Put(a))
	assert.True(t, pool.Put(b))
	assert.False(t, pool.Put(c), "pool at capacity must refuse")
	assert.Equal(t, 2, pool.Idle())

	got, ok := pool.Get()
	require.True(t, ok)
	assert.Same(t, b, got)
	got, ok = pool.Get()
	require.True(t, ok)
	assert.Same(t, a, got)
	_, ok = pool.Get()
	assert.False(t, ok)
}

func TestRecycleResetsAndPools(t *testing.T) {
	t.Parallel()

	pool, err := NewBoundedPool(1)
	require.NoError(t, err)
	mo := &resettable{id: 1}

	require.NoError(t, Recycle(pool, mo))
	assert.Equal(t, 1, mo.resets)
	assert.False(t, mo.closed)

	got, ok := pool.Get()
	require.True(t, ok)
	assert.Same(t, mo, got)
}

func TestRecycleDiscardsWhenResetFails(t *testing.T) {
	t.Parallel()

	pool, err := NewBoundedPool(1)
	require.NoError(t, err)
	mo := &resettable{id: 1, resetErr: errors.New("dirty")}

	err = Recycle(pool, mo)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dirty")
	assert.True(t, mo.closed)
	assert.Equal(t, 0, pool.Idle())
}

func TestRecycleWithoutPoolCloses(t *testing.T) {
	t.Parallel()

	mo := &resettable{id: 1}
	err := Recycle(nil, mo)
	assert.ErrorIs(t, err, ErrNotRecycled)
	assert.True(t, mo.closed)
	assert.Equal(t, 0, mo.resets)
}

type coordinatingAsync struct{ resettable }

func (c *coordinatingAsync) LoadObjects(ObjectRegistry) error { return nil }
func (c *coordinatingAsync) SetAsyncContext(AsyncContext)     {}

func TestVariantOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, VariantSynchronous, VariantOf(Value("x")))
	assert.Equal(t, VariantCoordinatingAsynchronous, VariantOf(&coordinatingAsync{}))
	assert.Equal(t, "coordinating-asynchronous", VariantOf(&coordinatingAsync{}).String())
}

func TestMetaDataExtension(t *testing.T) {
	t.Parallel()

	meta := &MetaData{Extensions: []Extension{{Type: "transaction"}}}
	_, ok := meta.Extension("transaction")
	assert.True(t, ok)
	_, ok = meta.Extension("cache")
	assert.False(t, ok)

	var nilMeta *MetaData
	_, ok = nilMeta.Extension("transaction")
	assert.False(t, ok)
}
