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
	"time"

	eswifi "github.com/ZaparooProject/go-eswifi"
	"github.com/ZaparooProject/go-eswifi/detection"
	_ "github.com/ZaparooProject/go-eswifi/detection/uart"
	"github.com/ZaparooProject/go-eswifi/internal/config"
	"github.com/ZaparooProject/go-eswifi/logger"
	"github.com/ZaparooProject/go-eswifi/transport/spi"
	"github.com/ZaparooProject/go-eswifi/transport/uart"
	"github.com/spf13/cobra"
	"periph.io/x/conn/v3/physic"
)

const defaultConfigPath = "eswifi.yaml"

// transportFactory opens the transport described by cfg
type transportFactory func(ctx context.Context, cfg *config.Config) (eswifi.Transport, error)

// detectFunc finds attached modules
type detectFunc func(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error)

type app struct {
	cfg           *config.Config
	log           logger.Logger
	openTransport transportFactory
	detect        detectFunc
	cfgFile       string
	timeout       time.Duration
	debug         bool
}

func newApp() *app {
	return &app{
		log:           logger.GetLogger(),
		openTransport: openTransport,
		detect:        detection.DetectAll,
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "eswifictl",
		Short: "Drive an eS-WiFi module from the command line",
		Long: `eswifictl drives an Inventek eS-WiFi module through its AT command set.
The module wiring and the access point are read from a YAML board file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.loadConfig()
		},
	}

	root.PersistentFlags().StringVar(&a.cfgFile, "config", defaultConfigPath, "board file")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "enable debug logging")
	root.PersistentFlags().DurationVar(&a.timeout, "timeout", 30*time.Second, "overall timeout")

	root.AddCommand(
		newStatusCmd(a),
		newJoinCmd(a),
		newLookupCmd(a),
		newGetCmd(a),
		newDetectCmd(a),
	)
	return root
}

func (a *app) loadConfig() error {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config %s: %w", a.cfgFile, err)
	}
	config.Normalize(cfg)
	a.cfg = cfg

	if a.debug || cfg.Driver.Debug {
		eswifi.SetDebugEnabled(true)
	}
	return nil
}

// connect opens the transport, starts the module and, when join is set,
// associates with the configured access point
func (a *app) connect(ctx context.Context, join bool) (*eswifi.Stack, error) {
	tr, err := a.openTransport(ctx, a.cfg)
	if err != nil {
		return nil, err
	}

	stack, err := eswifi.New(tr,
		eswifi.WithLogger(a.log),
		eswifi.WithCommandTimeout(a.cfg.CommandTimeout()),
		eswifi.WithReadyTimeout(a.cfg.ReadyTimeout()),
		eswifi.WithGateWait(a.cfg.GateWait()),
		eswifi.WithEcho(*a.cfg.Driver.Echo),
	)
	if err != nil {
		_ = tr.Close()
		return nil, err
	}

	if err := stack.Start(ctx); err != nil {
		_ = stack.Close()
		return nil, err
	}

	if join {
		if err := a.join(ctx, stack); err != nil {
			_ = stack.Close()
			return nil, err
		}
	}
	return stack, nil
}

func (a *app) join(ctx context.Context, stack *eswifi.Stack) error {
	network := a.cfg.Network
	if network.SSID == "" {
		return errors.New("no network.ssid in config")
	}
	ip, err := stack.Join(ctx, network.SSID, network.Passphrase, network.SecurityType())
	if err != nil {
		return err
	}
	a.log.Info("joined network", "ssid", network.SSID, "ip", ip)
	return nil
}

func (a *app) withTimeout(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), a.timeout)
}

// openTransport creates the transport named in the board file
func openTransport(ctx context.Context, cfg *config.Config) (eswifi.Transport, error) {
	switch cfg.Transport {
	case config.TransportSPI:
		tr, err := spi.New(spi.Config{
			Bus:          cfg.SPI.Bus,
			ReadyPin:     cfg.SPI.ReadyPin,
			SelectPin:    cfg.SPI.SelectPin,
			ResetPin:     cfg.SPI.ResetPin,
			WakeupPin:    cfg.SPI.WakeupPin,
			Speed:        physic.Frequency(cfg.SPI.SpeedHz) * physic.Hertz,
			ReadyTimeout: cfg.ReadyTimeout(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create SPI transport: %w", err)
		}
		return tr, nil
	case config.TransportUART:
		tr, err := uart.New(ctx, uart.Config{
			Port:         cfg.UART.Port,
			BaudRate:     cfg.UART.BaudRate,
			ReadyTimeout: cfg.ReadyTimeout(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create UART transport: %w", err)
		}
		return tr, nil
	default:
		return nil, fmt.Errorf("unsupported transport type: %s", cfg.Transport)
	}
}
