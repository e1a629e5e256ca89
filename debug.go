// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ecr

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ZaparooProject/go-ecr/internal/syncutil"
)

// Library logging. Console output goes to stderr at warn level unless debug
// is enabled; the session log (see InitSessionLog) always receives debug.
var (
	logMu        syncutil.RWMutex
	baseCore     zapcore.Core
	sessionCore  zapcore.Core
	current      *zap.Logger
	consoleLevel = zap.NewAtomicLevelAt(zapcore.WarnLevel)
)

func init() {
	if os.Getenv("ECR_DEBUG") != "" || os.Getenv("DEBUG") != "" {
		consoleLevel.SetLevel(zapcore.DebugLevel)
	}
	baseCore = newConsoleCore()
	rebuildLogger()
}

func newConsoleCore() zapcore.Core {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	return zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), consoleLevel)
}

// rebuildLogger must be called with logMu held for writing.
func rebuildLogger() {
	core := baseCore
	if sessionCore != nil {
		core = zapcore.NewTee(baseCore, sessionCore)
	}
	current = zap.New(core, zap.AddCaller()).Named("ecr")
}

// Logger returns the logger used by the library.
func Logger() *zap.Logger {
	logMu.RLock()
	defer logMu.RUnlock()
	return current
}

// SetLogger routes library logging through l's core. Passing nil restores
// the default stderr console logger. An open session log keeps receiving
// everything.
func SetLogger(l *zap.Logger) {
	logMu.Lock()
	defer logMu.Unlock()
	if l == nil {
		baseCore = newConsoleCore()
	} else {
		baseCore = l.Core()
	}
	rebuildLogger()
}

// SetDebugEnabled switches console output between debug and warn level.
// Only affects the default console logger.
func SetDebugEnabled(enabled bool) {
	if enabled {
		consoleLevel.SetLevel(zapcore.DebugLevel)
	} else {
		consoleLevel.SetLevel(zapcore.WarnLevel)
	}
}

// DebugEnabled reports whether console debug output is on.
func DebugEnabled() bool {
	return consoleLevel.Enabled(zapcore.DebugLevel)
}

// Debugf logs a formatted debug message.
func Debugf(format string, args ...any) {
	Logger().WithOptions(zap.AddCallerSkip(1)).Debug(fmt.Sprintf(format, args...))
}

// Debugln logs its operands, space separated, at debug level.
func Debugln(args ...any) {
	Logger().WithOptions(zap.AddCallerSkip(1)).Debug(sprintln(args...))
}

func sprintln(args ...any) string {
	msg := fmt.Sprintln(args...)
	return msg[:len(msg)-1]
}
