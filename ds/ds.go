// Copyright 2024 the remote-command Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ds

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/brutella/dnssd"
	"github.com/shirou/gopsutil/load"
	"github.com/shirou/gopsutil/mem"

	"github.com/bn3monkey/remote-command/protocol"
)

// v allows debug printing.
var (
	v      = func(string, ...interface{}) {}
	cancel = func() {}
)

const (
	// DefaultService is the DNS-SD service type for remote-command daemons.
	DefaultService = "_rcmd._tcp"
	// DefaultDomain is the mDNS domain.
	DefaultDomain = "local"

	timeFormat = "15:04:05.000"
	dsUpdate   = 60 * time.Second // server meta-data refresh
)

// Verbose sets the debug print function.
func Verbose(f func(string, ...interface{})) {
	v = f
}

// ParseKv parses a DNS-SD key value string into a map w/sensible
// default for empty keys.
func ParseKv(arg string) map[string]string {
	txt := make(map[string]string)
	if len(arg) == 0 {
		return txt
	}
	ss := strings.Split(arg, ",")
	for _, pair := range ss {
		z := strings.SplitN(pair, "=", 2)
		if len(z) > 1 {
			txt[z[0]] = z[1]
		} else {
			txt[z[0]] = "true"
		}
	}

	return txt
}

// DefaultInstance derives the advertised instance name from the
// hostname.
func DefaultInstance() string {
	hostname, err := os.Hostname()
	if err == nil {
		hostname += "-rcd"
	} else {
		hostname = "rcd"
	}

	return hostname
}

// UpdateSysInfo refreshes the system meta-data TXT records. gopsutil
// keeps this portable where a raw sysinfo call would be Linux-only.
func UpdateSysInfo(txtFlag map[string]string) {
	if vm, err := mem.VirtualMemory(); err == nil {
		txtFlag["mem_avail"] = strconv.FormatUint(vm.Available, 10)
		txtFlag["mem_total"] = strconv.FormatUint(vm.Total, 10)
	} else {
		v("mem.VirtualMemory failed: %v", err)
	}

	if avg, err := load.Avg(); err == nil {
		txtFlag["load1"] = fmt.Sprintf("%.2f", avg.Load1)
		txtFlag["load5"] = fmt.Sprintf("%.2f", avg.Load5)
		txtFlag["load15"] = fmt.Sprintf("%.2f", avg.Load15)
		txtFlag["load_ratio"] = fmt.Sprintf("%.6f", avg.Load5/float64(runtime.NumCPU()))
	} else {
		v("load.Avg failed: %v", err)
	}
}

// DefaultTxt fills in the static TXT records that are not already set.
func DefaultTxt(txtFlag map[string]string) {
	if len(txtFlag["arch"]) == 0 {
		txtFlag["arch"] = runtime.GOARCH
	}

	if len(txtFlag["os"]) == 0 {
		txtFlag["os"] = runtime.GOOS
	}

	if len(txtFlag["cores"]) == 0 {
		txtFlag["cores"] = strconv.Itoa(runtime.NumCPU())
	}
}

// Unregister stops the DNS-SD responder.
func Unregister() {
	v("stopping dns-sd server")
	cancel()
}

// Register advertises the daemon over DNS-SD. The TXT records carry
// both port labels so a browser can connect without probing; the
// DNS-SD port field itself carries the command port. The sysinfo
// records refresh every dsUpdate.
func Register(instanceFlag, domainFlag, serviceFlag, interfaceFlag string, commandPort, streamPort int, txtFlag map[string]string) error {
	v("starting dns-sd server")

	v("Advertising: %s.%s.%s.", strings.Trim(instanceFlag, "."), strings.Trim(serviceFlag, "."), strings.Trim(domainFlag, "."))

	ctx, ctxCancel := context.WithCancel(context.Background())
	cancel = ctxCancel

	resp, err := dnssd.NewResponder()
	if err != nil {
		return fmt.Errorf("dnssd newreponder fail: %w", err)
	}

	ifaces := []string{}
	if len(interfaceFlag) > 0 {
		ifaces = append(ifaces, interfaceFlag)
	}

	if len(instanceFlag) == 0 {
		instanceFlag = DefaultInstance()
	}

	txtFlag[protocol.PortCommand] = strconv.Itoa(commandPort)
	txtFlag[protocol.PortStream] = strconv.Itoa(streamPort)
	DefaultTxt(txtFlag)
	UpdateSysInfo(txtFlag)

	cfg := dnssd.Config{
		Name:   instanceFlag,
		Type:   serviceFlag,
		Domain: domainFlag,
		Port:   commandPort,
		Ifaces: ifaces,
		Text:   txtFlag,
	}
	srv, err := dnssd.NewService(cfg)
	if err != nil {
		return fmt.Errorf("rcd: advertise: New service fail: %w", err)
	}

	go func() {
		time.Sleep(1 * time.Second)
		handle, err := resp.Add(srv)
		if err != nil {
			fmt.Println(err)
			return
		}
		v("%s	Got a reply for service %s: Name now registered and active\n", time.Now().Format(timeFormat), handle.Service().ServiceInstanceName())

		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(dsUpdate):
				UpdateSysInfo(txtFlag)
				handle.UpdateText(txtFlag, resp)
			}
		}
	}()

	go func() {
		err = resp.Respond(ctx)
		if err != nil {
			fmt.Println(err)
		} else {
			v("rcd dns-sd responder exited")
		}
	}()

	return err
}
