// Go MySQL Server Shim - A server-side implementation of the MySQL protocol
//
// Copyright 2024 The msql-srv Authors. All rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at http://mozilla.org/MPL/2.0/.

package msqlsrv

import (
	"errors"
	"log"
	"os"
)

// Logger is used to log critical error messages.
type Logger interface {
	Print(v ...interface{})
}

var errLog Logger = log.New(os.Stderr, "[msql-srv] ", log.Ldate|log.Ltime|log.Lshortfile)

// SetLogger is used to set the logger for critical errors.
// The initial logger writes to os.Stderr.
func SetLogger(logger Logger) error {
	if logger == nil {
		return errors.New("logger is nil")
	}
	errLog = logger
	return nil
}
