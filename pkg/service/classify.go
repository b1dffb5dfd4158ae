package service

import (
	"context"
	"errors"

	"github.com/entrhq/rednote/pkg/browser"
	"github.com/entrhq/rednote/pkg/login"
	"github.com/entrhq/rednote/pkg/types"
)

// classify maps an operation error onto an outcome.
func classify[T any](err error) types.Outcome[T] {
	var o types.Outcome[T]
	switch {
	case errors.Is(err, browser.ErrInterrupted):
		o = types.Interrupted[T](err.Error())
	case errors.Is(err, context.Canceled):
		o = types.Interrupted[T]("operation cancelled")
	case errors.Is(err, login.ErrLoginExpired):
		o = types.LoginExpired[T](err.Error())
	default:
		return types.Failed[T](err)
	}
	o.Err = err
	return o
}
