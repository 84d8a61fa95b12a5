// Package sysinfo reads host health and network identity for the control API.
package sysinfo

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	psnet "github.com/shirou/gopsutil/v4/net"
)

const (
	StatusOnline = "Online"
	notAvailable = "N/A"
)

type Health struct {
	Status      string `json:"status"`
	CPUUsage    string `json:"cpu_usage"`
	MemoryUsage string `json:"memory_usage"`
	DiskUsage   string `json:"disk_usage"`
}

type Network struct {
	Status     string `json:"status"`
	Hostname   string `json:"hostname"`
	IPAddress  string `json:"ip_address"`
	MACAddress string `json:"mac_address"`
	WifiSSID   string `json:"wifi_ssid"`
}

// Reader collects host facts. Zero values of the sampling fields fall back
// to a one second CPU window, the root filesystem and eth0.
type Reader struct {
	CPUWindow time.Duration
	DiskPath  string
	Interface string

	cpuPercent func(ctx context.Context, window time.Duration) ([]float64, error)
	memory     func(ctx context.Context) (*mem.VirtualMemoryStat, error)
	diskUsage  func(ctx context.Context, path string) (*disk.UsageStat, error)
	interfaces func(ctx context.Context) (psnet.InterfaceStatList, error)
	hostname   func() (string, error)
	lookupHost func(ctx context.Context, host string) ([]string, error)
	command    func(ctx context.Context, name string, args ...string) (string, error)
}

func NewReader() *Reader {
	return &Reader{
		CPUWindow: time.Second,
		DiskPath:  "/",
		Interface: "eth0",

		cpuPercent: func(ctx context.Context, window time.Duration) ([]float64, error) {
			return cpu.PercentWithContext(ctx, window, false)
		},
		memory:     mem.VirtualMemoryWithContext,
		diskUsage:  disk.UsageWithContext,
		interfaces: psnet.InterfacesWithContext,
		hostname:   os.Hostname,
		lookupHost: net.DefaultResolver.LookupHost,
		command:    runCommand,
	}
}

func (r *Reader) Health(ctx context.Context) (Health, error) {
	cpuUsage, err := r.cpuPercent(ctx, r.CPUWindow)
	if err != nil {
		return Health{}, fmt.Errorf("cpu usage: %w", err)
	}
	if len(cpuUsage) == 0 {
		return Health{}, fmt.Errorf("cpu usage: no samples")
	}
	vm, err := r.memory(ctx)
	if err != nil {
		return Health{}, fmt.Errorf("memory usage: %w", err)
	}
	du, err := r.diskUsage(ctx, r.DiskPath)
	if err != nil {
		return Health{}, fmt.Errorf("disk usage %s: %w", r.DiskPath, err)
	}

	return Health{
		Status:      StatusOnline,
		CPUUsage:    percent(cpuUsage[0]),
		MemoryUsage: percent(vm.UsedPercent),
		DiskUsage:   percent(du.UsedPercent),
	}, nil
}

// Network never fails on a missing MAC or SSID; those read as N/A.
func (r *Reader) Network(ctx context.Context) (Network, error) {
	hostname, err := r.hostname()
	if err != nil {
		return Network{}, fmt.Errorf("hostname: %w", err)
	}
	addrs, err := r.lookupHost(ctx, hostname)
	if err != nil {
		return Network{}, fmt.Errorf("resolve %s: %w", hostname, err)
	}

	return Network{
		Status:     StatusOnline,
		Hostname:   hostname,
		IPAddress:  firstIPv4(addrs),
		MACAddress: r.mac(ctx),
		WifiSSID:   r.ssid(ctx),
	}, nil
}

func (r *Reader) mac(ctx context.Context) string {
	ifaces, err := r.interfaces(ctx)
	if err != nil {
		return notAvailable
	}
	for _, iface := range ifaces {
		if iface.Name == r.Interface && iface.HardwareAddr != "" {
			return iface.HardwareAddr
		}
	}
	return notAvailable
}

func (r *Reader) ssid(ctx context.Context) string {
	out, err := r.command(ctx, "iwgetid", "-r")
	if err != nil || out == "" {
		return notAvailable
	}
	return out
}

func firstIPv4(addrs []string) string {
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && ip.To4() != nil {
			return a
		}
	}
	if len(addrs) > 0 {
		return addrs[0]
	}
	return notAvailable
}

func percent(v float64) string {
	return fmt.Sprintf("%.1f%%", v)
}

func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
