package script

import (
	"context"
	"errors"
)

var _ Store = Chain(nil)

// Chain is a [Store] that consults each member in order and returns the first
// script found. Only [ErrNotFound] moves on to the next member; any other
// error is returned immediately.
type Chain []Store

// Get implements [Store.Get].
func (c Chain) Get(ctx context.Context, id int64) (Script, error) {
	for _, s := range c {
		sc, err := s.Get(ctx, id)
		if err == nil {
			return sc, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Script{}, err
		}
	}
	return Script{}, ErrNotFound
}

// Line implements [Store.Line].
func (c Chain) Line(ctx context.Context, id int64, index int) (Line, error) {
	sc, err := c.Get(ctx, id)
	if err != nil {
		return Line{}, err
	}
	return sc.Line(index)
}

// Ping implements [Store.Ping]; it joins the errors of every member.
func (c Chain) Ping(ctx context.Context) error {
	var errs []error
	for _, s := range c {
		if err := s.Ping(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
