//                           _       _
// __      _____  __ ___   ___  __ _| |_ ___
// \ \ /\ / / _ \/ _` \ \ / / |/ _` | __/ _ \
//  \ V  V /  __/ (_| |\ V /| | (_| | ||  __/
//   \_/\_/ \___|\__,_| \_/ |_|\__,_|\__\___|
//
//  Copyright © 2016 - 2025 Weaviate B.V. All rights reserved.
//
//  CONTACT: hello@weaviate.io
//

package errors

import (
	"fmt"
	"runtime/debug"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrorGroupWrapper embeds errgroup.Group and adds panic recovery to every
// spawned task. A recovered panic surfaces through Wait like any other task
// error.
type ErrorGroupWrapper struct {
	*errgroup.Group
	logger      logrus.FieldLogger
	returnError error
}

// NewErrorGroupWrapper creates a new ErrorGroupWrapper.
func NewErrorGroupWrapper(logger logrus.FieldLogger) *ErrorGroupWrapper {
	return &ErrorGroupWrapper{
		Group:  new(errgroup.Group),
		logger: logger,
	}
}

// Go overrides the Go method to add panic recovery logic.
func (egw *ErrorGroupWrapper) Go(f func() error) {
	egw.Group.Go(func() error {
		defer func() {
			if r := recover(); r != nil {
				egw.logger.WithField("stack", string(debug.Stack())).
					Errorf("recovered from panic: %v", r)
				egw.returnError = fmt.Errorf("panic occurred: %v", r)
			}
		}()
		return f()
	})
}

// Wait waits for all tasks to finish and returns the first non-nil error.
func (egw *ErrorGroupWrapper) Wait() error {
	if err := egw.Group.Wait(); err != nil {
		return err
	}
	return egw.returnError
}
