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
	"runtime/debug"

	"github.com/sirupsen/logrus"
)

// GoWrapper spawns f on its own goroutine with panic recovery. A stray panic
// in one traversal task must never take the whole process down.
func GoWrapper(f func(), logger logrus.FieldLogger) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.WithField("stack", string(debug.Stack())).
					Errorf("recovered from panic: %v", r)
			}
		}()
		f()
	}()
}
