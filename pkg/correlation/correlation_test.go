package correlation

import (
	"context"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"
)

func TestEnsureMintsOnce(t *testing.T) {
	ctx, id := Ensure(context.Background())
	require.NotEmpty(t, id)
	_, err := ulid.Parse(id)
	require.NoError(t, err)

	again, sameID := Ensure(ctx)
	require.Equal(t, id, sameID)
	require.Equal(t, id, FromContext(again))
}

func TestWithIDIgnoresBlank(t *testing.T) {
	ctx := WithID(context.Background(), "  ")
	require.Empty(t, FromContext(ctx))

	ctx = WithID(ctx, "abc")
	require.Equal(t, "abc", FromContext(ctx))
}
