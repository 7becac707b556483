package instances

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"rustfs-bench/bench"
)

// HostStats holds one sample of host-level statistics.
type HostStats struct {
	CPUUtilization float64
	MemoryUsage    float64
	Network        NetworkStats
	Timestamp      time.Time
}

// NetworkStats holds counters summed over all interfaces. Loopback is
// included since the server under test listens on 127.0.0.1.
type NetworkStats struct {
	BytesReceived   int64
	BytesSent       int64
	PacketsReceived int64
	PacketsSent     int64
}

type cpuTimes struct {
	busy  int64
	total int64
}

// HostMonitor samples CPU, memory and network usage of the machine running
// the server from procfs.
type HostMonitor struct {
	procRoot string

	mu      sync.Mutex
	lastCPU *cpuTimes
	samples int
	cpuSum  float64
	peakMem float64

	firstNet *NetworkStats
	lastNet  NetworkStats
}

// NewHostMonitor creates a monitor reading from procRoot, normally "/proc".
func NewHostMonitor(procRoot string) *HostMonitor {
	if procRoot == "" {
		procRoot = "/proc"
	}
	return &HostMonitor{procRoot: procRoot}
}

// Sample collects current statistics. CPU utilisation is measured since the
// previous sample, or since boot for the first one.
func (hm *HostMonitor) Sample() (*HostStats, error) {
	stats := &HostStats{
		Timestamp: time.Now(),
	}

	cpu, err := readProc(hm.procRoot, "stat", parseCPUTimes)
	if err != nil {
		return nil, fmt.Errorf("failed to get CPU utilization: %w", err)
	}

	mem, err := readProc(hm.procRoot, "meminfo", parseMemoryUsage)
	if err != nil {
		return nil, fmt.Errorf("failed to get memory usage: %w", err)
	}
	stats.MemoryUsage = mem

	network, err := readProc(hm.procRoot, filepath.Join("net", "dev"), parseNetworkStats)
	if err != nil {
		return nil, fmt.Errorf("failed to get network stats: %w", err)
	}
	stats.Network = network

	hm.mu.Lock()
	defer hm.mu.Unlock()

	stats.CPUUtilization = cpuUtilization(hm.lastCPU, cpu)
	hm.lastCPU = &cpu
	hm.samples++
	hm.cpuSum += stats.CPUUtilization
	if stats.MemoryUsage > hm.peakMem {
		hm.peakMem = stats.MemoryUsage
	}
	if hm.firstNet == nil {
		hm.firstNet = &network
	}
	hm.lastNet = network

	return stats, nil
}

// Run samples every interval until ctx is done, handing each sample to fn.
// Sampling errors are passed to onErr and do not stop the loop.
func (hm *HostMonitor) Run(ctx context.Context, interval time.Duration, fn func(*HostStats), onErr func(error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		stats, err := hm.Sample()
		if err != nil {
			if onErr != nil {
				onErr(err)
			}
		} else if fn != nil {
			fn(stats)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Usage summarises every sample taken so far.
func (hm *HostMonitor) Usage() bench.HostUsage {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	usage := bench.HostUsage{
		Samples:       hm.samples,
		PeakMemoryPct: hm.peakMem,
	}
	if hm.samples > 0 {
		usage.AvgCPUPct = hm.cpuSum / float64(hm.samples)
	}
	if hm.firstNet != nil {
		usage.NetworkRxBytes = hm.lastNet.BytesReceived - hm.firstNet.BytesReceived
		usage.NetworkTxBytes = hm.lastNet.BytesSent - hm.firstNet.BytesSent
	}
	return usage
}

func readProc[T any](root, name string, parse func(io.Reader) (T, error)) (T, error) {
	file, err := os.Open(filepath.Join(root, name))
	if err != nil {
		var zero T
		return zero, err
	}
	defer file.Close()
	return parse(file)
}

func cpuUtilization(prev *cpuTimes, cur cpuTimes) float64 {
	busy, total := cur.busy, cur.total
	if prev != nil {
		busy -= prev.busy
		total -= prev.total
	}
	if total <= 0 {
		return 0
	}
	return float64(busy) / float64(total) * 100
}

// parseCPUTimes reads the aggregate "cpu" line of /proc/stat. Idle and
// iowait count as not busy.
func parseCPUTimes(r io.Reader) (cpuTimes, error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 5 || fields[0] != "cpu" {
			continue
		}

		var times cpuTimes
		for i, field := range fields[1:] {
			v, err := strconv.ParseInt(field, 10, 64)
			if err != nil {
				return cpuTimes{}, fmt.Errorf("invalid cpu field %q: %w", field, err)
			}
			// guest and guest_nice are already included in user and nice.
			if i >= 8 {
				break
			}
			times.total += v
			if i != 3 && i != 4 {
				times.busy += v
			}
		}
		return times, nil
	}
	if err := scanner.Err(); err != nil {
		return cpuTimes{}, err
	}
	return cpuTimes{}, fmt.Errorf("no cpu line found")
}

// parseMemoryUsage returns used memory as a percentage of MemTotal.
func parseMemoryUsage(r io.Reader) (float64, error) {
	scanner := bufio.NewScanner(r)
	var total, available int64

	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total, _ = strconv.ParseInt(fields[1], 10, 64)
		case "MemAvailable:":
			available, _ = strconv.ParseInt(fields[1], 10, 64)
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}

	if total <= 0 {
		return 0, fmt.Errorf("MemTotal missing")
	}
	return float64(total-available) / float64(total) * 100, nil
}

// parseNetworkStats sums the counters of every interface.
func parseNetworkStats(r io.Reader) (NetworkStats, error) {
	scanner := bufio.NewScanner(r)
	var stats NetworkStats

	// Skip header lines
	scanner.Scan()
	scanner.Scan()

	for scanner.Scan() {
		name, counters, ok := strings.Cut(scanner.Text(), ":")
		if !ok || strings.TrimSpace(name) == "" {
			continue
		}
		fields := strings.Fields(counters)
		if len(fields) < 10 {
			continue
		}
		rxBytes, _ := strconv.ParseInt(fields[0], 10, 64)
		rxPackets, _ := strconv.ParseInt(fields[1], 10, 64)
		txBytes, _ := strconv.ParseInt(fields[8], 10, 64)
		txPackets, _ := strconv.ParseInt(fields[9], 10, 64)

		stats.BytesReceived += rxBytes
		stats.PacketsReceived += rxPackets
		stats.BytesSent += txBytes
		stats.PacketsSent += txPackets
	}

	return stats, scanner.Err()
}
