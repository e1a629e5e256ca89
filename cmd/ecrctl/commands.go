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
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ZaparooProject/go-ecr/pkg/ecrmsg"
)

var (
	errUnknownCommand = errors.New("unknown command")
	errUsage          = errors.New("usage")
)

// command is shared by one-shot invocations and the interactive shell.
// Terminal commands occupy the transaction slot.
type command struct {
	run      func(ctx context.Context, a *app, args []string) error
	name     string
	usage    string
	help     string
	nargs    int
	terminal bool
}

var commands = []command{
	{
		name: "purchase", usage: "AMOUNT", help: "NETS purchase", nargs: 1, terminal: true,
		run: amountCommand(ecrmsg.NETSPurchase),
	},
	{
		name: "qr", usage: "AMOUNT", help: "NETS QR purchase", nargs: 1, terminal: true,
		run: amountCommand(ecrmsg.NETSQRPurchase),
	},
	{
		name: "cashback", usage: "AMOUNT CASHBACK", help: "NETS purchase with cashback", nargs: 2, terminal: true,
		run: func(ctx context.Context, a *app, args []string) error {
			amount, err := parseAmount(args[0])
			if err != nil {
				return err
			}
			cashback, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			msg, err := ecrmsg.NETSPurchaseWithCashback(a.now(), amount, cashback)
			if err != nil {
				return err
			}
			return a.transact(ctx, msg)
		},
	},
	{
		name: "sale", usage: "AMOUNT", help: "Credit card sale", nargs: 1, terminal: true,
		run: amountCommand(ecrmsg.CreditCardSale),
	},
	{
		name: "settle", help: "Card settlement", terminal: true,
		run: func(ctx context.Context, a *app, _ []string) error {
			return a.transact(ctx, ecrmsg.CardSettlement(a.now()))
		},
	},
	{
		name: "logon", help: "Terminal logon", terminal: true,
		run: func(ctx context.Context, a *app, _ []string) error {
			return a.transact(ctx, ecrmsg.Logon(a.now()))
		},
	},
	{
		name: "send", usage: "HEX", help: "Send a payload and wait for the response", nargs: 1, terminal: true,
		run: func(ctx context.Context, a *app, args []string) error {
			resp, err := a.ctrl.SendData(ctx, args[0])
			if err != nil {
				return err
			}
			return a.printResponse(resp)
		},
	},
	{
		name: "raw", usage: "HEX", help: "Write bytes to the port without framing", nargs: 1,
		run: func(ctx context.Context, a *app, args []string) error {
			if _, err := a.ctrl.SendRaw(ctx, args[0]); err != nil {
				return err
			}
			a.printf("Written.\n")
			return nil
		},
	},
	{
		name: "status", help: "Show cable and transaction state",
		run: func(_ context.Context, a *app, _ []string) error {
			if a.ctrl.IsCableConnected() {
				a.printf("Cable: connected (%s)\n", a.ctrl.PortName())
			} else {
				a.printf("Cable: not connected\n")
			}
			a.printf("State: %s\n", a.ctrl.State())
			return nil
		},
	},
	{
		name: "discover", help: "Look for the terminal cable again",
		run: func(ctx context.Context, a *app, _ []string) error {
			return a.ctrl.StartDiscovery(ctx)
		},
	},
	{
		name: "cancel", help: "Cancel the pending transaction",
		run: func(_ context.Context, a *app, _ []string) error {
			if a.ctrl.CancelPendingTransaction() {
				a.printf("Cancelled.\n")
			} else {
				a.printf("No transaction in progress.\n")
			}
			return nil
		},
	},
	{
		name: "ports", help: "List serial ports",
	},
	{
		name: "shell", help: "Start the interactive shell (default)",
	},
}

type amountBuilder func(at time.Time, amount decimal.Decimal) (*ecrmsg.Message, error)

func amountCommand(build amountBuilder) func(context.Context, *app, []string) error {
	return func(ctx context.Context, a *app, args []string) error {
		amount, err := parseAmount(args[0])
		if err != nil {
			return err
		}
		msg, err := build(a.now(), amount)
		if err != nil {
			return err
		}
		return a.transact(ctx, msg)
	}
}

func parseAmount(s string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return amount, nil
}

func lookupCommand(name string) (command, bool) {
	for _, cmd := range commands {
		if cmd.name == name {
			return cmd, true
		}
	}
	return command{}, false
}

// execute runs a one-shot command line.
func (a *app) execute(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: no command", errUsage)
	}
	cmd, ok := lookupCommand(args[0])
	if !ok || cmd.run == nil {
		return fmt.Errorf("%w: %s", errUnknownCommand, args[0])
	}
	if len(args)-1 != cmd.nargs {
		return fmt.Errorf("%w: %s %s", errUsage, cmd.name, cmd.usage)
	}
	return cmd.run(ctx, a, args[1:])
}
