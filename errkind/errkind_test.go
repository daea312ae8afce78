package errkind

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorFormatsKindAndMessage(t *testing.T) {
	err := New(NotFound, "uri %q not registered", "custom_model")
	require.True(t, strings.HasPrefix(err.Error(), "not_found: uri \"custom_model\" not registered"), "unexpected message: %s", err.Error())
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("socket reset")
	err := Wrap(Internal, cause, "rest_call to %s failed", "https://example.test")
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "socket reset")
}

func TestWithContextAccumulates(t *testing.T) {
	base := New(NotFound, "name %q", "x")
	annotated := base.WithContext("while searching scope").WithContext("while evaluating local y in block")

	require.Empty(t, base.Context, "WithContext must not mutate the receiver")
	require.Len(t, annotated.Context, 2)
	require.Equal(t, "while searching scope", annotated.Context[0])
}

func TestAnnotatePassesThroughForeignErrors(t *testing.T) {
	foreign := errors.New("plain")
	got := Annotate(foreign, "while evaluating")
	require.Same(t, foreign, got, "expected foreign error to pass through unchanged")
}

func TestAnnotateNilIsNil(t *testing.T) {
	require.Nil(t, Annotate(nil, "x"))
}

func TestKindOfDefaultsToInternal(t *testing.T) {
	require.Equal(t, Internal, KindOf(errors.New("boom")))
}

func TestIs(t *testing.T) {
	err := New(Unavailable, "all fallback candidates exhausted")
	require.True(t, Is(err, Unavailable))
	require.False(t, Is(err, NotFound))
}
