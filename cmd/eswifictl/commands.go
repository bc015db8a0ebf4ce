// go-eswifi
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-eswifi.
//
// go-eswifi is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-eswifi is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-eswifi; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"net/url"
	"strconv"
	"time"

	eswifi "github.com/ZaparooProject/go-eswifi"
	"github.com/ZaparooProject/go-eswifi/detection"
	"github.com/ZaparooProject/go-eswifi/polling"
	"github.com/spf13/cobra"
)

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the module firmware and driver counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := a.withTimeout(cmd)
			defer cancel()

			stack, err := a.connect(ctx, false)
			if err != nil {
				return err
			}
			defer func() { _ = stack.Close() }()

			firmware, err := stack.Firmware(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "Transport: %s\n", a.cfg.Transport)
			_, _ = fmt.Fprintf(out, "Firmware:  %s\n", firmware)
			stats := stack.Stats()
			_, _ = fmt.Fprintf(out, "Commands:  %d (%d failed, %d timed out)\n",
				stats.Commands, stats.Failures, stats.Timeouts)
			return nil
		},
	}
}

func newJoinCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "join [ssid] [passphrase]",
		Short: "Join an access point, by default the one in the board file",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				a.cfg.Network.SSID = args[0]
				a.cfg.Network.Passphrase = ""
				a.cfg.Network.Security = ""
			}
			if len(args) > 1 {
				a.cfg.Network.Passphrase = args[1]
			}

			ctx, cancel := a.withTimeout(cmd)
			defer cancel()

			stack, err := a.connect(ctx, true)
			if err != nil {
				return err
			}
			defer func() { _ = stack.Close() }()

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Joined %s as %s\n", a.cfg.Network.SSID, stack.LocalAddr())
			return nil
		},
	}
}

func newLookupCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <host>",
		Short: "Resolve a host name through the module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.withTimeout(cmd)
			defer cancel()

			stack, err := a.connect(ctx, true)
			if err != nil {
				return err
			}
			defer func() { _ = stack.Close() }()

			addr, err := stack.LookupHost(ctx, args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), addr)
			return nil
		},
	}
}

func newGetCmd(a *app) *cobra.Command {
	var idle time.Duration
	cmd := &cobra.Command{
		Use:   "get <url>",
		Short: "Fetch an http:// URL and print the raw response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := parseTarget(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := a.withTimeout(cmd)
			defer cancel()

			stack, err := a.connect(ctx, true)
			if err != nil {
				return err
			}
			defer func() { _ = stack.Close() }()

			return a.fetch(ctx, stack, target, cmd.OutOrStdout(), idle)
		},
	}
	cmd.Flags().DurationVar(&idle, "idle", 2*time.Second, "stop after the connection is idle this long")
	return cmd
}

type httpTarget struct {
	host string
	path string
	port uint16
}

func parseTarget(raw string) (httpTarget, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return httpTarget{}, fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" || u.Hostname() == "" {
		return httpTarget{}, fmt.Errorf("invalid url %q: only http:// with a host is supported", raw)
	}

	target := httpTarget{host: u.Hostname(), path: u.RequestURI(), port: 80}
	if p := u.Port(); p != "" {
		port, err := strconv.ParseUint(p, 10, 16)
		if err != nil || port == 0 {
			return httpTarget{}, fmt.Errorf("invalid port %q", p)
		}
		target.port = uint16(port)
	}
	return target, nil
}

func (t httpTarget) request() []byte {
	return []byte("GET " + t.path + " HTTP/1.0\r\nHost: " + t.host + "\r\nConnection: close\r\n\r\n")
}

// fetch sends the request and copies the response to out until the
// connection stays idle or ctx is done
func (a *app) fetch(ctx context.Context, stack *eswifi.Stack, target httpTarget, out io.Writer, idle time.Duration) error {
	addr, err := stack.LookupHost(ctx, target.host)
	if err != nil {
		return err
	}

	sock, err := stack.DialTCP(ctx, netip.AddrPortFrom(addr, target.port))
	if err != nil {
		return err
	}
	defer func() { _ = sock.CloseContext(context.WithoutCancel(ctx)) }()

	if _, err := sock.Send(ctx, target.request()); err != nil {
		return err
	}

	activity := make(chan struct{}, 1)
	var writeErr error
	receiver, err := polling.NewReceiver(sock, &polling.Config{Logger: a.log}, polling.Callbacks{
		OnData: func(data []byte) error {
			if _, err := out.Write(data); err != nil {
				writeErr = err
				return err
			}
			select {
			case activity <- struct{}{}:
			default:
			}
			return nil
		},
		OnError: func(err error) {
			a.log.Warn("receive failed", "error", err)
		},
	})
	if err != nil {
		return err
	}
	if err := receiver.Start(ctx); err != nil {
		return err
	}

	timer := time.NewTimer(idle)
	defer timer.Stop()
wait:
	for {
		select {
		case <-ctx.Done():
			break wait
		case <-activity:
			timer.Reset(idle)
		case <-timer.C:
			break wait
		}
	}

	if err := receiver.Stop(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	if writeErr != nil {
		return writeErr
	}
	if err := ctx.Err(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

func newDetectCmd(a *app) *cobra.Command {
	var (
		passive bool
		ignore  []string
	)
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Find eS-WiFi modules on the serial ports",
		Args:  cobra.NoArgs,
		// detection needs no board file
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if a.debug {
				eswifi.SetDebugEnabled(true)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := a.withTimeout(cmd)
			defer cancel()

			opts := detection.DefaultOptions()
			opts.Logger = a.log
			opts.IgnorePaths = ignore
			if passive {
				opts.Mode = detection.Passive
			}

			devices, err := a.detect(ctx, &opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, d := range devices {
				_, _ = fmt.Fprintf(out, "%s\t%s\t%s", d.Transport, d.Path, d.Confidence)
				if fw := d.Firmware(); fw != "" {
					_, _ = fmt.Fprintf(out, "\t%s", fw)
				}
				_, _ = fmt.Fprintln(out)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&passive, "passive", false, "list candidate ports without probing them")
	cmd.Flags().StringSliceVar(&ignore, "ignore", nil, "device paths to skip")
	return cmd
}
