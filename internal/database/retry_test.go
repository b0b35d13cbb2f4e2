package database

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	err := retry(context.Background(), 3, zerolog.Nop(), func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

func TestRetryReturnsLastError(t *testing.T) {
	boom := errors.New("refused")
	calls := 0
	err := retry(context.Background(), 1, zerolog.Nop(), func(context.Context) error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, calls)
}

func TestRetryHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := retry(ctx, 3, zerolog.Nop(), func(context.Context) error {
		return errors.New("refused")
	})
	require.ErrorIs(t, err, context.Canceled)
}
