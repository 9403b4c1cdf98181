package retry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDo_SucceedsAfterRetries(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), Options{BaseDelay: 0, MaxAttempts: 5}, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), Options{BaseDelay: 0, MaxAttempts: 2}, func() error {
		attempts++
		return errors.New("always fails")
	})
	require.Error(t, err)
	require.Equal(t, 2, attempts)
}
