// Package fanout delivers one logical event to many connections.
// Delivery is best-effort, at-most-once, and unordered across
// connections: Deliver never returns an error, only a Result, because
// "zero recipients reachable" is a normal steady state.
package fanout

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"go-signal/internal/registry"
	"go-signal/internal/transport"
)

const (
	// A single hanging socket must not stall the whole fanout.
	defaultPerDeliveryTimeout = 5 * time.Second
	// Cap on concurrent pushes within one Deliver call.
	maxInflight = 64
)

type selectorKind int

const (
	selectUser selectorKind = iota
	selectConversation
	selectConnections
)

// Selector names the set of connections an event should reach.
type Selector struct {
	kind    selectorKind
	userID  string
	convID  string
	connIDs []string
}

// ToUser targets every live connection of one user.
func ToUser(userID string) Selector {
	return Selector{kind: selectUser, userID: userID}
}

// ToConversation targets every connection currently viewing a conversation.
func ToConversation(conversationID string) Selector {
	return Selector{kind: selectConversation, convID: conversationID}
}

// ToConnections targets an explicit connection set.
func ToConnections(connectionIDs ...string) Selector {
	return Selector{kind: selectConnections, connIDs: connectionIDs}
}

// Options tune one Deliver call. ExcludeUser drops the sender's own
// connections from the target set so a sender never receives its echo.
type Options struct {
	ExcludeUser string
}

// DeliveryError records one failed push that did NOT prune the connection.
type DeliveryError struct {
	ConnectionID string `json:"connection_id"`
	Err          error  `json:"-"`
	Reason       string `json:"reason"`
}

// Result reports what one Deliver call accomplished.
type Result struct {
	Sent   int             `json:"sent"`
	Pruned []string        `json:"pruned,omitempty"`
	Errors []DeliveryError `json:"errors,omitempty"`
}

// Pruner consumes connections found dead during delivery. The presence
// tracker implements it, so a socket that dies mid-fanout takes the
// same offline path as an orderly disconnect.
type Pruner interface {
	HandleDisconnect(ctx context.Context, connectionID string) error
}

// Engine resolves selectors against the registry and pushes payloads
// through the transport. Pushes run concurrently with a bounded
// per-delivery timeout; Deliver joins on all of them before returning.
type Engine struct {
	reg     registry.Registry
	push    transport.Pusher
	pruner  Pruner
	log     *slog.Logger
	timeout time.Duration
}

func NewEngine(reg registry.Registry, push transport.Pusher, log *slog.Logger) *Engine {
	return &Engine{
		reg:     reg,
		push:    push,
		log:     log,
		timeout: defaultPerDeliveryTimeout,
	}
}

// SetPruner routes prune removals through p instead of a bare registry
// Remove. Without it a pruned last connection would vanish from the
// registry before the presence tracker could observe it, and the
// user's offline transition would be lost.
func (e *Engine) SetPruner(p Pruner) { e.pruner = p }

func (e *Engine) Deliver(ctx context.Context, sel Selector, payload []byte, opts Options) Result {
	conns, err := e.resolve(ctx, sel)
	if err != nil {
		// Infrastructure failure during resolution is the one case where
		// nothing was attempted; report it as a delivery error rather
		// than raising, per the no-throw contract.
		e.log.Error("fanout: selector resolution failed", "err", err)
		return Result{Errors: []DeliveryError{{Err: err, Reason: err.Error()}}}
	}

	if opts.ExcludeUser != "" {
		filtered := conns[:0]
		for _, c := range conns {
			if c.UserID != opts.ExcludeUser {
				filtered = append(filtered, c)
			}
		}
		conns = filtered
	}

	if len(conns) == 0 {
		return Result{} // recipient offline: successful no-op
	}

	var (
		mu  sync.Mutex
		res Result
	)
	g := new(errgroup.Group)
	g.SetLimit(maxInflight)

	for _, c := range conns {
		conn := c
		g.Go(func() error {
			pushCtx, cancel := context.WithTimeout(ctx, e.timeout)
			defer cancel()

			err := e.push.Push(pushCtx, conn.ID, payload)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				res.Sent++
				deliveredTotal.Inc()
			case errors.Is(err, transport.ErrGone):
				res.Pruned = append(res.Pruned, conn.ID)
				prunedTotal.Inc()
			default:
				res.Errors = append(res.Errors, DeliveryError{
					ConnectionID: conn.ID,
					Err:          err,
					Reason:       err.Error(),
				})
				failedTotal.Inc()
			}
			return nil
		})
	}
	g.Wait()

	// Prunes hit the registry over the network; run them only after
	// every outcome is recorded so no in-flight delivery waits on one.
	for _, id := range res.Pruned {
		e.prune(ctx, id)
	}

	return res
}

func (e *Engine) resolve(ctx context.Context, sel Selector) ([]registry.Connection, error) {
	switch sel.kind {
	case selectUser:
		return e.reg.ListByUser(ctx, sel.userID)
	case selectConversation:
		return e.reg.ListByConversation(ctx, sel.convID)
	default:
		conns := make([]registry.Connection, 0, len(sel.connIDs))
		for _, id := range sel.connIDs {
			c, err := e.reg.FindByConnection(ctx, id)
			if errors.Is(err, registry.ErrNotFound) {
				continue // stale reference, nothing to deliver to
			}
			if err != nil {
				return nil, err
			}
			conns = append(conns, *c)
		}
		return conns, nil
	}
}

// prune removes a dead connection as a side effect of delivery. Prune
// failures are logged and swallowed: an entry left behind only costs
// one wasted push next time.
func (e *Engine) prune(ctx context.Context, connectionID string) {
	var err error
	if e.pruner != nil {
		err = e.pruner.HandleDisconnect(ctx, connectionID)
	} else {
		err = e.reg.Remove(ctx, connectionID)
	}
	if err != nil {
		e.log.Warn("fanout: prune failed", "connection_id", connectionID, "err", err)
	}
}
