package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type counted struct {
	Value string
	Hits  int
}

func TestUseCacheLocalOnly(t *testing.T) {
	c := New(Params{})
	ctx := context.Background()

	calls := 0
	load := func() (counted, error) {
		calls++
		return counted{Value: "computed", Hits: calls}, nil
	}

	first, err := UseCache(ctx, c, "k1", time.Minute, load)
	require.NoError(t, err)
	require.Equal(t, "computed", first.Value)

	second, err := UseCache(ctx, c, "k1", time.Minute, load)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, calls)

	require.NoError(t, c.Delete(ctx, "k1"))
	_, err = UseCache(ctx, c, "k1", time.Minute, load)
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestUseCacheDoesNotStoreErrors(t *testing.T) {
	c := New(Params{})
	ctx := context.Background()

	boom := errors.New("boom")
	_, err := UseCache(ctx, c, "k2", time.Minute, func() (counted, error) { return counted{}, boom })
	require.ErrorIs(t, err, boom)

	var v counted
	require.ErrorIs(t, c.Get(ctx, "k2", &v), ErrCacheMiss)
}
