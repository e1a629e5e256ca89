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

package main

import (
	"context"
	"errors"

	"github.com/abiosoft/ishell"

	ecr "github.com/ZaparooProject/go-ecr"
)

const (
	appKey            = "$app"
	connectedPrompt   = "ecr> "
	unconnectedPrompt = "ecr [no cable]> "
)

var errBusy = errors.New("a transaction is already running; use cancel")

func appFrom(c *ishell.Context) *app {
	return c.Get(appKey).(*app)
}

// shellCmd adapts a command to ishell. Terminal commands run in the
// background so cancel can be typed while the terminal waits for the card.
func shellCmd(ctx context.Context, cmd command) *ishell.Cmd {
	return &ishell.Cmd{
		Name: cmd.name,
		Help: cmd.usage + " " + cmd.help,
		Func: func(c *ishell.Context) {
			a := appFrom(c)
			if len(c.Args) != cmd.nargs {
				c.Err(errUsage)
				c.Println(cmd.name, cmd.usage)
				return
			}
			if !cmd.terminal {
				if err := cmd.run(ctx, a, c.Args); err != nil {
					c.Err(err)
				}
				return
			}
			if !a.ctrl.IsCableConnected() {
				c.Err(errNotConnected)
				return
			}
			if a.ctrl.IsTransactionInProgress() {
				c.Err(errBusy)
				return
			}
			args := append([]string(nil), c.Args...)
			go func() {
				if err := cmd.run(ctx, a, args); err != nil {
					a.printf("Error: %v\n", err)
				}
			}()
		},
	}
}

func newShell(ctx context.Context, a *app) *ishell.Shell {
	sh := ishell.New()
	sh.Set(appKey, a)
	sh.SetPrompt(unconnectedPrompt)
	if a.ctrl.IsCableConnected() {
		sh.SetPrompt(connectedPrompt)
	}

	for _, cmd := range commands {
		if cmd.run == nil {
			continue
		}
		sh.AddCmd(shellCmd(ctx, cmd))
	}
	sh.AddCmd(&ishell.Cmd{
		Name: "ports",
		Help: "List serial ports",
		Func: func(c *ishell.Context) {
			if err := listPorts(ctx, a.out, a.cfg); err != nil {
				c.Err(err)
			}
		},
	})

	sh.Interrupt(func(c *ishell.Context, count int, _ string) {
		if a.ctrl.CancelPendingTransaction() {
			c.Println("Cancelling transaction...")
			return
		}
		if count >= 2 {
			c.Stop()
			return
		}
		c.Println("Press Ctrl+C again to exit")
	})
	return sh
}

// runShell runs the interactive shell until exit or ctx is done.
func runShell(ctx context.Context, a *app) error {
	sh := newShell(ctx, a)

	a.setCableHook(func(s ecr.CableStatus) {
		if s.Connected {
			sh.SetPrompt(connectedPrompt)
		} else {
			sh.SetPrompt(unconnectedPrompt)
		}
	})
	defer a.setCableHook(nil)

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			sh.Stop()
		case <-done:
		}
	}()

	sh.Println("go-ecr interactive shell. Type help for commands.")
	sh.Run()
	close(done)
	return nil
}
