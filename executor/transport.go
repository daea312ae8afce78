package executor

import (
	"context"

	"github.com/opal-lang/genc/concurrency"
	"github.com/opal-lang/genc/errkind"
	"github.com/opal-lang/genc/invariant"
	"github.com/opal-lang/genc/value"
)

// Transport is the client-side shape the remote executor drives (spec
// §4.5, §6 "Executor service RPC"): six unary request/response methods,
// one per executor operation, values referenced by a server-assigned
// id string. A production Transport speaks gRPC or HTTP to an external
// process; package remote ships an in-process reference implementation
// (LocalPeer) adequate for tests and same-process "remote" delegate
// environments.
type Transport interface {
	CreateValue(ctx context.Context, v value.Value) (id string, err error)
	CreateCall(ctx context.Context, fn, arg string) (id string, err error)
	CreateStruct(ctx context.Context, fields []string) (id string, err error)
	CreateSelection(ctx context.Context, source string, index int) (id string, err error)
	Materialize(ctx context.Context, id string) (value.Value, error)
	Dispose(ctx context.Context, id string) error
}

// Remote implements Executor over a Transport: every Handle it hands
// out carries the server-assigned id directly (no local store needed —
// the peer is the store), and Dispose issues a best-effort Dispose
// RPC (spec §4.5: "dispose errors are logged and swallowed — the
// handle is gone locally regardless").
//
// Grounded on original_source/genc/cc/runtime/remote_executor.cc's
// CreateCall. Every Remote handle already names a resolved server-side
// id, so CreateCall has no futures to await: it runs its one CreateCall
// RPC on the injected scheduler and blocks until that RPC returns.
type Remote struct {
	transport Transport
	scheduler concurrency.Scheduler
	logger    errLogger
}

// errLogger is the minimal logging surface Remote needs for swallowed
// dispose errors — satisfied by *slog.Logger.
type errLogger interface {
	Warn(msg string, args ...any)
}

// NewRemote creates a Remote executor fronting transport. A nil
// scheduler defaults to concurrency.ThreadPerTaskScheduler{}; a nil
// logger swallows dispose errors silently.
func NewRemote(transport Transport, scheduler concurrency.Scheduler, logger errLogger) *Remote {
	invariant.NotNil(transport, "transport")
	if scheduler == nil {
		scheduler = concurrency.ThreadPerTaskScheduler{}
	}
	return &Remote{transport: transport, scheduler: scheduler, logger: logger}
}

// CreateValue implements Executor.
func (r *Remote) CreateValue(ctx context.Context, v value.Value) (Handle, error) {
	id, err := r.transport.CreateValue(ctx, v)
	if err != nil {
		return Handle{}, err
	}
	return NewHandle(id), nil
}

// CreateStruct implements Executor.
func (r *Remote) CreateStruct(ctx context.Context, fields []Handle) (Handle, error) {
	ids := make([]string, len(fields))
	for i, f := range fields {
		ids[i] = f.ID()
	}
	id, err := r.transport.CreateStruct(ctx, ids)
	if err != nil {
		return Handle{}, err
	}
	return NewHandle(id), nil
}

// CreateSelection implements Executor.
func (r *Remote) CreateSelection(ctx context.Context, source Handle, index int) (Handle, error) {
	id, err := r.transport.CreateSelection(ctx, source.ID(), index)
	if err != nil {
		return Handle{}, err
	}
	return NewHandle(id), nil
}

// CreateCall implements Executor. fn and arg may both name handles the
// caller has already pipelined (not yet awaited locally); Remote itself
// has nothing to await since every Remote handle already names a
// resolved server-side id by construction — the pipelining this method
// documents happens one layer up, where a caller holds Futures for fn
// and arg and is expected to Get() them before calling CreateCall.
// Remote runs the RPC on r.scheduler and waits for it before
// returning, so the call is synchronous for its caller.
func (r *Remote) CreateCall(ctx context.Context, fn Handle, arg Handle) (Handle, error) {
	fut, err := concurrency.RunAsync(ctx, r.scheduler, func() (string, error) {
		return r.transport.CreateCall(ctx, fn.ID(), arg.ID())
	})
	if err != nil {
		return Handle{}, err
	}
	id, err := fut.Get(ctx)
	if err != nil {
		return Handle{}, err
	}
	return NewHandle(id), nil
}

// Materialize implements Executor.
func (r *Remote) Materialize(ctx context.Context, h Handle) (value.Value, error) {
	if h.IsZero() {
		return nil, errkind.New(errkind.InvalidArgument, "cannot materialize the empty handle")
	}
	return r.transport.Materialize(ctx, h.ID())
}

// Dispose implements Executor. A Dispose RPC failure is logged and
// discarded rather than returned, matching spec §4.5 and §7: the
// handle is gone from the caller's point of view regardless of whether
// the peer's teardown succeeded.
func (r *Remote) Dispose(ctx context.Context, h Handle) error {
	if h.IsZero() {
		return nil
	}
	if err := r.transport.Dispose(ctx, h.ID()); err != nil && r.logger != nil {
		r.logger.Warn("remote dispose failed", "handle", h.String(), "error", err)
	}
	return nil
}
