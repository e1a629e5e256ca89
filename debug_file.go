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
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Session log rotation limits.
const (
	sessionLogMaxSizeMB  = 10
	sessionLogMaxBackups = 3
)

// Session log state, guarded by logMu.
var (
	sessionLogFile   *lumberjack.Logger
	sessionLogPath   string
	sessionLogWriter io.Writer
)

// InitSessionLog creates a session log file in the current directory that
// receives all library logging at debug level. Returns the log file path.
func InitSessionLog() (string, error) {
	filename := fmt.Sprintf("ecr_%s.log", time.Now().Format("20060102_150405"))

	lj := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    sessionLogMaxSizeMB,
		MaxBackups: sessionLogMaxBackups,
	}
	// lumberjack opens lazily; the header write creates the file.
	if err := writeSessionHeader(lj); err != nil {
		_ = lj.Close()
		return "", fmt.Errorf("failed to create session log: %w", err)
	}

	logMu.Lock()
	defer logMu.Unlock()
	if sessionLogFile != nil {
		_ = sessionLogFile.Close()
	}
	sessionLogFile = lj
	sessionLogPath = filename
	attachSessionWriter(lj)
	return filename, nil
}

// attachSessionWriter must be called with logMu held for writing.
func attachSessionWriter(w io.Writer) {
	sessionLogWriter = w
	if w == nil {
		sessionCore = nil
	} else {
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		sessionCore = zapcore.NewCore(
			zapcore.NewConsoleEncoder(encCfg),
			zapcore.AddSync(w),
			zapcore.DebugLevel,
		)
	}
	rebuildLogger()
}

// CloseSessionLog writes a footer and closes the current session log.
func CloseSessionLog() error {
	logMu.Lock()
	defer logMu.Unlock()

	if sessionLogFile == nil {
		return nil
	}

	timestamp := time.Now().Format("15:04:05.000")
	_, _ = fmt.Fprintf(sessionLogWriter, "\n%s === Session ended ===\n", timestamp)

	err := sessionLogFile.Close()
	sessionLogFile = nil
	sessionLogPath = ""
	attachSessionWriter(nil)
	if err != nil {
		return fmt.Errorf("failed to close session log: %w", err)
	}
	return nil
}

// GetSessionLogPath returns the current session log file path.
func GetSessionLogPath() string {
	logMu.RLock()
	defer logMu.RUnlock()
	return sessionLogPath
}

func writeSessionHeader(w io.Writer) error {
	var sb strings.Builder
	_, _ = sb.WriteString("=== ECR Serial Session Log ===\n")
	_, _ = fmt.Fprintf(&sb, "Started: %s\n", time.Now().Format(time.RFC3339))
	_, _ = fmt.Fprintf(&sb, "PID: %d\n", os.Getpid())
	_, _ = fmt.Fprintf(&sb, "OS: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	_, _ = fmt.Fprintf(&sb, "Go Version: %s\n", runtime.Version())
	if exe, err := os.Executable(); err == nil {
		_, _ = fmt.Fprintf(&sb, "Executable: %s\n", exe)
	}
	_, _ = fmt.Fprintf(&sb, "Command Line: %s\n", strings.Join(os.Args, " "))
	_, _ = sb.WriteString("==============================\n\n")

	_, err := io.WriteString(w, sb.String())
	return err
}
