// Package remote ships the one concrete Transport implementation this
// repository owns end to end: LocalPeer, an in-process stand-in for a
// networked executor service (spec §6 "Executor service RPC"). A real
// deployment fronts executor.Remote with a gRPC or HTTP client instead;
// LocalPeer exists so tests (and same-process "remote" delegate
// environments — spec §4.4 "delegate") can exercise the full
// Remote/Transport boundary, including its string-id indirection and
// dispose-is-best-effort discipline, without a network.
//
// Grounded on the teacher's runtime/executor/session_transport.go
// (an in-process Transport implementation fronting a local session for
// exactly the same reason: tests that exercise the transport contract
// without a real remote peer) and on spec §6's six-method executor
// service shape.
package remote

import (
	"context"
	"sync"

	"github.com/opal-lang/genc/errkind"
	"github.com/opal-lang/genc/executor"
	"github.com/opal-lang/genc/idgen"
	"github.com/opal-lang/genc/invariant"
	"github.com/opal-lang/genc/value"
)

// LocalPeer implements executor.Transport by forwarding every RPC-
// shaped call to an embedded executor.Executor (typically a fresh
// executor.NewStack) and tracking the Handle each server-side id names.
type LocalPeer struct {
	inner executor.Executor

	mu      sync.RWMutex
	handles map[string]executor.Handle
	ids     *idgen.Factory
}

// NewLocalPeer creates a LocalPeer fronting inner.
func NewLocalPeer(inner executor.Executor) *LocalPeer {
	invariant.NotNil(inner, "inner")
	return &LocalPeer{
		inner:   inner,
		handles: make(map[string]executor.Handle),
		ids:     idgen.New("remote", idgen.RandomKey()),
	}
}

func (p *LocalPeer) track(h executor.Handle) string {
	id := p.ids.Next()
	p.mu.Lock()
	p.handles[id] = h
	p.mu.Unlock()
	return id
}

func (p *LocalPeer) resolve(id string) (executor.Handle, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	h, ok := p.handles[id]
	if !ok {
		return executor.Handle{}, errkind.New(errkind.NotFound, "remote peer: no value for id %q", id)
	}
	return h, nil
}

func (p *LocalPeer) forget(id string) {
	p.mu.Lock()
	delete(p.handles, id)
	p.mu.Unlock()
}

// CreateValue implements executor.Transport.
func (p *LocalPeer) CreateValue(ctx context.Context, v value.Value) (string, error) {
	h, err := p.inner.CreateValue(ctx, v)
	if err != nil {
		return "", err
	}
	return p.track(h), nil
}

// CreateCall implements executor.Transport.
func (p *LocalPeer) CreateCall(ctx context.Context, fnID, argID string) (string, error) {
	fn, err := p.resolve(fnID)
	if err != nil {
		return "", err
	}
	var arg executor.Handle
	if argID != "" {
		arg, err = p.resolve(argID)
		if err != nil {
			return "", err
		}
	}
	h, err := p.inner.CreateCall(ctx, fn, arg)
	if err != nil {
		return "", err
	}
	return p.track(h), nil
}

// CreateStruct implements executor.Transport.
func (p *LocalPeer) CreateStruct(ctx context.Context, fieldIDs []string) (string, error) {
	fields := make([]executor.Handle, len(fieldIDs))
	for i, id := range fieldIDs {
		h, err := p.resolve(id)
		if err != nil {
			return "", err
		}
		fields[i] = h
	}
	h, err := p.inner.CreateStruct(ctx, fields)
	if err != nil {
		return "", err
	}
	return p.track(h), nil
}

// CreateSelection implements executor.Transport.
func (p *LocalPeer) CreateSelection(ctx context.Context, sourceID string, index int) (string, error) {
	source, err := p.resolve(sourceID)
	if err != nil {
		return "", err
	}
	h, err := p.inner.CreateSelection(ctx, source, index)
	if err != nil {
		return "", err
	}
	return p.track(h), nil
}

// Materialize implements executor.Transport.
func (p *LocalPeer) Materialize(ctx context.Context, id string) (value.Value, error) {
	h, err := p.resolve(id)
	if err != nil {
		return nil, err
	}
	return p.inner.Materialize(ctx, h)
}

// Dispose implements executor.Transport.
func (p *LocalPeer) Dispose(ctx context.Context, id string) error {
	h, err := p.resolve(id)
	if err != nil {
		return err
	}
	p.forget(id)
	return p.inner.Dispose(ctx, h)
}
