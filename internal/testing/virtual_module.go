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

package testing

import (
	"errors"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

const (
	// nak is clocked out when the module has nothing left to send
	nak = 0x15
	// DefaultFirmware is the identification string of a virtual module
	DefaultFirmware = "ISM43362-M3G-L44-SPI,C3.5.2.5.STM,v3.5.2,v1.4.0.rc1,v8.2.1,120000000,Inventek eS-WiFi"
	// DefaultAddress is the address a virtual module obtains when joining
	DefaultAddress = "192.168.1.50"

	socketCount = 4
)

// PeerFunc answers data written to a remote endpoint. The returned bytes
// are queued for the socket to receive.
type PeerFunc func(data []byte) []byte

type virtualSocket struct {
	sent      []byte
	pending   []byte
	host      string
	port      int
	localPort int
	proto     int
	active    bool
	server    bool
}

func (s *virtualSocket) remote() (netip.AddrPort, bool) {
	addr, err := netip.ParseAddr(s.host)
	if err != nil || s.port <= 0 || s.port > 0xFFFF {
		return netip.AddrPort{}, false
	}
	return netip.AddrPortFrom(addr, uint16(s.port)), true
}

// VirtualModule simulates an eS-WiFi module at the SPI signal level: a
// ready line it drives, a select line and a reset line the host drives, and
// a bus that shifts byte-swapped 16-bit words.
//
// The ready line is high while the module accepts a command or holds
// response data. It drops while the last response word is clocked out and
// rises again when the host deselects.
type VirtualModule struct {
	peers      map[netip.AddrPort]PeerFunc
	refused    map[netip.AddrPort]bool
	hosts      map[string]string
	networks   map[string]string
	failures   map[string]string
	changed    chan struct{}
	commands   []string
	in         []byte
	out        []byte
	firmware   string
	address    string
	ssid       string
	passphrase string
	sockets    [socketCount]virtualSocket
	mu         sync.Mutex
	current    int
	readSize   int
	violations int
	exchanges  int
	ready      bool
	selected   bool
	reading    bool
	echo       bool
	neverReady bool
	inReset    bool
}

// NewVirtualModule creates a module that has just booted and holds its prompt
func NewVirtualModule() *VirtualModule {
	m := &VirtualModule{
		peers:    make(map[netip.AddrPort]PeerFunc),
		refused:  make(map[netip.AddrPort]bool),
		hosts:    make(map[string]string),
		networks: make(map[string]string),
		failures: make(map[string]string),
		changed:  make(chan struct{}),
		firmware: DefaultFirmware,
		address:  DefaultAddress,
	}
	m.boot()
	return m
}

// Bus returns the SPI connection to the module
func (m *VirtualModule) Bus() spi.Conn {
	return &virtualBus{m: m}
}

// ReadyPin returns the line the module raises when ready
func (m *VirtualModule) ReadyPin() gpio.PinIn {
	return &readyPin{m: m}
}

// SelectPin returns the active-low select line
func (m *VirtualModule) SelectPin() gpio.PinOut {
	return &outPin{name: "CS", set: m.setSelect}
}

// ResetPin returns the active-low reset line
func (m *VirtualModule) ResetPin() gpio.PinOut {
	return &outPin{name: "RST", set: m.setReset}
}

// AddNetwork registers an access point the module can join
func (m *VirtualModule) AddNetwork(ssid, passphrase string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.networks[ssid] = passphrase
}

// AddHost registers a name the module's resolver knows
func (m *VirtualModule) AddHost(name, ip string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hosts[name] = ip
}

// AddPeer registers a remote endpoint answering written data
func (m *VirtualModule) AddPeer(remote string, fn PeerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peers[netip.MustParseAddrPort(remote)] = fn
}

// Refuse makes connections to remote fail
func (m *VirtualModule) Refuse(remote string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refused[netip.MustParseAddrPort(remote)] = true
}

// FailCommand answers every command starting with prefix with an error
func (m *VirtualModule) FailCommand(prefix, diagnostic string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[prefix] = diagnostic
}

// SetEcho makes the module echo each command line
func (m *VirtualModule) SetEcho(echo bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.echo = echo
}

// SetNeverReady holds the ready line low
func (m *VirtualModule) SetNeverReady(neverReady bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.neverReady = neverReady
	m.setReady(!neverReady && !m.selected)
}

// SetFirmware sets the identification string
func (m *VirtualModule) SetFirmware(firmware string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.firmware = firmware
}

// Queue adds data for socket id to receive
func (m *VirtualModule) Queue(id int, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sockets[id].pending = append(m.sockets[id].pending, data...)
}

// Commands returns every command line received
func (m *VirtualModule) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.commands...)
}

// Sent returns every byte written on socket id
func (m *VirtualModule) Sent(id int) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.sockets[id].sent...)
}

// Active reports whether socket id is connected or listening
func (m *VirtualModule) Active(id int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sockets[id].active
}

// Violations counts protocol misuse by the host: overlapping selects, bus
// traffic without select, and commands sent over unread responses
func (m *VirtualModule) Violations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.violations
}

// Exchanges counts completed select cycles
func (m *VirtualModule) Exchanges() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exchanges
}

// boot resets the module state; the caller holds the lock
func (m *VirtualModule) boot() {
	m.sockets = [socketCount]virtualSocket{}
	m.current = 0
	m.readSize = 0
	m.in = m.in[:0]
	m.out = append(m.out[:0], prompt...)
	m.setReady(!m.neverReady)
}

func (m *VirtualModule) setReady(level bool) {
	if m.ready == level {
		return
	}
	m.ready = level
	close(m.changed)
	m.changed = make(chan struct{})
}

func (m *VirtualModule) setSelect(level gpio.Level) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if level == gpio.Low {
		if m.selected {
			m.violations++
		}
		m.selected = true
		m.reading = len(m.out) > 0
		m.in = m.in[:0]
		return
	}

	if !m.selected {
		return
	}
	m.selected = false
	m.exchanges++
	if !m.reading && len(m.in) > 0 {
		m.process()
	}
	m.setReady(!m.neverReady && !m.inReset)
}

func (m *VirtualModule) setReset(level gpio.Level) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if level == gpio.Low {
		m.inReset = true
		m.setReady(false)
		return
	}
	if m.inReset {
		m.inReset = false
		m.boot()
	}
}

func (m *VirtualModule) tx(w, r []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.selected {
		m.violations++
		return errors.New("virtual module: bus used without select")
	}

	for i := 0; i+1 < len(w); i += 2 {
		if !m.reading {
			m.in = append(m.in, w[i+1], w[i])
			continue
		}
		if w[i] != 0x0A || w[i+1] != 0x0A {
			// a command clocked over an unread response
			m.violations++
		}
		lo, hi := byte(nak), byte(nak)
		switch len(m.out) {
		case 0:
		case 1:
			hi = m.out[0]
			m.out = m.out[:0]
		default:
			hi, lo = m.out[0], m.out[1]
			m.out = m.out[2:]
		}
		if i+1 < len(r) {
			r[i], r[i+1] = lo, hi
		}
		if len(m.out) == 0 {
			m.setReady(false)
		}
	}
	return nil
}

// process runs the command held in the input buffer; the caller holds the lock
func (m *VirtualModule) process() {
	raw := string(m.in)
	line, payload, found := strings.Cut(raw, "\r")
	if !found {
		m.violations++
		return
	}
	m.commands = append(m.commands, line)

	resp := m.handle(line, []byte(payload))
	if m.echo && line != "" {
		resp = line + "\r" + resp
	}
	m.out = append(m.out[:0], resp...)
}

func (m *VirtualModule) handle(line string, payload []byte) string {
	for prefix, diagnostic := range m.failures {
		if strings.HasPrefix(line, prefix) {
			return BuildErrorResponse(diagnostic)
		}
	}

	code, value, _ := strings.Cut(line, "=")
	sock := &m.sockets[m.current]
	switch code {
	case "":
		return prompt
	case "MT", "CB", "C3":
		return BuildOKResponse("")
	case "C1":
		m.ssid = value
		return BuildOKResponse("")
	case "C2":
		m.passphrase = value
		return BuildOKResponse("")
	case "C0":
		if pass, ok := m.networks[m.ssid]; ok && pass == m.passphrase {
			return BuildJoinResponse(m.ssid, m.address)
		}
		return BuildErrorResponse("JOIN " + m.ssid + " failed")
	case "D0":
		if ip, ok := m.hosts[value]; ok {
			return BuildOKResponse(ip)
		}
		return BuildErrorResponse("DNS lookup failed")
	case "P0":
		id, err := strconv.Atoi(value)
		if err != nil || id < 0 || id >= socketCount {
			return BuildErrorResponse("Invalid socket")
		}
		m.current = id
		return BuildOKResponse("")
	case "P1":
		sock.proto, _ = strconv.Atoi(value)
		return BuildOKResponse("")
	case "P2":
		sock.localPort, _ = strconv.Atoi(value)
		return BuildOKResponse("")
	case "P3":
		if _, err := netip.ParseAddr(value); err != nil {
			return BuildErrorResponse("Invalid address")
		}
		sock.host = value
		return BuildOKResponse("")
	case "P4":
		sock.port, _ = strconv.Atoi(value)
		return BuildOKResponse("")
	case "P5":
		sock.server = value == "1"
		sock.active = sock.server
		return BuildOKResponse("")
	case "P6":
		return m.client(sock, value == "1")
	case "P?":
		remote, _ := sock.remote()
		return BuildSocketInfoResponse(sock.proto, m.address, sock.localPort,
			remote.Addr().String(), int(remote.Port()), sock.active)
	case "S3":
		return m.write(sock, value, payload)
	case "R1":
		m.readSize, _ = strconv.Atoi(value)
		return BuildOKResponse("")
	case "R0":
		n := min(m.readSize, len(sock.pending))
		data := string(sock.pending[:n])
		sock.pending = sock.pending[n:]
		return BuildOKResponse(data)
	case "I?":
		return BuildOKResponse(m.firmware)
	default:
		return BuildErrorResponse("Unknown command")
	}
}

func (m *VirtualModule) client(sock *virtualSocket, start bool) string {
	if !start {
		sock.active = false
		return BuildOKResponse("")
	}
	remote, ok := sock.remote()
	if !ok {
		return BuildErrorResponse("No remote")
	}
	if m.refused[remote] {
		return BuildErrorResponse("Connection refused")
	}
	sock.active = true
	return BuildOKResponse("")
}

func (m *VirtualModule) write(sock *virtualSocket, value string, payload []byte) string {
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 || n > len(payload) {
		return BuildErrorResponse("Invalid length")
	}
	if !sock.active {
		return BuildErrorResponse("Socket not connected")
	}
	data := payload[:n]
	sock.sent = append(sock.sent, data...)
	if remote, ok := sock.remote(); ok {
		if peer := m.peers[remote]; peer != nil {
			sock.pending = append(sock.pending, peer(data)...)
		}
	}
	return BuildOKResponse(strconv.Itoa(n))
}

// virtualBus is the module's side of the SPI bus
type virtualBus struct {
	m *VirtualModule
}

func (*virtualBus) String() string { return "eswifi-virtual" }

func (b *virtualBus) Tx(w, r []byte) error {
	return b.m.tx(w, r)
}

func (*virtualBus) Duplex() conn.Duplex { return conn.Full }

func (b *virtualBus) TxPackets(packets []spi.Packet) error {
	for _, p := range packets {
		if err := b.m.tx(p.W, p.R); err != nil {
			return err
		}
	}
	return nil
}

// readyPin is the module's ready output as seen by the host
type readyPin struct {
	m *VirtualModule
}

func (*readyPin) String() string   { return "READY" }
func (*readyPin) Halt() error      { return nil }
func (*readyPin) Name() string     { return "READY" }
func (*readyPin) Number() int      { return -1 }
func (*readyPin) Function() string { return "In/High" }

func (*readyPin) In(gpio.Pull, gpio.Edge) error { return nil }
func (*readyPin) Pull() gpio.Pull               { return gpio.PullDown }
func (*readyPin) DefaultPull() gpio.Pull        { return gpio.PullDown }

func (p *readyPin) Read() gpio.Level {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	return gpio.Level(p.m.ready)
}

func (p *readyPin) WaitForEdge(timeout time.Duration) bool {
	p.m.mu.Lock()
	changed := p.m.changed
	p.m.mu.Unlock()

	if timeout < 0 {
		<-changed
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-changed:
		return true
	case <-timer.C:
		return false
	}
}

// outPin is a host-driven line observed by the module
type outPin struct {
	set  func(gpio.Level)
	name string
}

func (p *outPin) String() string { return p.name }
func (*outPin) Halt() error      { return nil }
func (p *outPin) Name() string   { return p.name }
func (*outPin) Number() int      { return -1 }
func (*outPin) Function() string { return "Out" }

func (p *outPin) Out(l gpio.Level) error {
	p.set(l)
	return nil
}

func (*outPin) PWM(gpio.Duty, physic.Frequency) error {
	return errors.New("virtual module: PWM not supported")
}
