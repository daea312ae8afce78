package handler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opal-lang/genc/errkind"
	"github.com/opal-lang/genc/schema"
)

func notHandler() Handler {
	return Handler{
		URI:        "logical_not",
		Discipline: INLINE,
		StaticParamSchema: schema.JSONSchema{
			"type": "null",
		},
		Execute: func(ctx context.Context, req Request) (any, error) {
			b, ok := req.Argument.(bool)
			if !ok {
				return nil, errkind.New(errkind.InvalidArgument, "logical_not requires a bool argument")
			}
			return !b, nil
		},
	}
}

func TestRegisterAndLookup(t *testing.T) {
	s := NewSet(nil)
	require.NoError(t, s.Register(notHandler()))
	h, err := s.Lookup("logical_not")
	require.NoError(t, err)
	require.Equal(t, INLINE, h.Discipline)
}

func TestRegisterRejectsDuplicateURI(t *testing.T) {
	s := NewSet(nil)
	require.NoError(t, s.Register(notHandler()))
	require.Error(t, s.Register(notHandler()), "expected duplicate registration to fail")
}

func TestRegisterRejectsEmptyURIAndMissingExecute(t *testing.T) {
	s := NewSet(nil)
	require.Error(t, s.Register(Handler{URI: "", Execute: func(context.Context, Request) (any, error) { return nil, nil }}), "expected empty URI to be rejected")
	require.Error(t, s.Register(Handler{URI: "x"}), "expected missing Execute to be rejected")
}

func TestLookupMissingSuggestsClosestURI(t *testing.T) {
	s := NewSet(nil)
	require.NoError(t, s.Register(notHandler()))
	_, err := s.Lookup("logical_nto")
	require.Error(t, err)
	require.Equal(t, errkind.NotFound, errkind.KindOf(err))

	_, err = s.Lookup("logical_no")
	require.Equal(t, errkind.NotFound, errkind.KindOf(err))
	require.ErrorContains(t, err, `did you mean "logical_not"`)
}

func TestCheckWellFormedDelegatesToSchema(t *testing.T) {
	s := NewSet(nil)
	h := notHandler()
	require.NoError(t, s.CheckWellFormed(h, nil), "validating null static param")
	require.Error(t, s.CheckWellFormed(h, "unexpected"), "expected schema mismatch to be rejected")
}

func TestCheckModelVersion(t *testing.T) {
	h := Handler{URI: "model_inference", MinModelVersion: "2.0.0"}

	require.NoError(t, CheckModelVersion(h, "2.1.0"), "expected newer backend to satisfy min version")
	require.Error(t, CheckModelVersion(h, "1.9.0"), "expected older backend to fail min version check")
	require.Error(t, CheckModelVersion(h, "not-a-version"), "expected invalid semver to be rejected")
}

func TestCheckModelVersionNoRequirement(t *testing.T) {
	h := Handler{URI: "custom_function"}
	require.NoError(t, CheckModelVersion(h, "whatever"), "expected no version requirement to accept any backend string")
}

func TestURIsSorted(t *testing.T) {
	s := NewSet(nil)
	_ = s.Register(Handler{URI: "zeta", Execute: func(context.Context, Request) (any, error) { return nil, nil }})
	_ = s.Register(Handler{URI: "alpha", Execute: func(context.Context, Request) (any, error) { return nil, nil }})
	require.Equal(t, []string{"alpha", "zeta"}, s.URIs())
}
