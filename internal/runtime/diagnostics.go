package runtime

import (
	"bufio"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// SystemProfile is what the runtime could learn about the host at
// construction time.
type SystemProfile struct {
	NumCPU        int
	MemTotalBytes uint64
}

// ProbeSystem inspects the host. Memory comes from /proc/meminfo on Linux;
// elsewhere, or when the probe fails, MemTotalBytes is zero and the derived
// defaults fall back to conservative values.
func ProbeSystem() SystemProfile {
	return SystemProfile{
		NumCPU:        runtime.NumCPU(),
		MemTotalBytes: probeMemTotal(),
	}
}

func probeMemTotal() uint64 {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0
		}
		return kb * 1024
	}
	return 0
}

// Options carries the runtime tunables. Zero values are filled in by
// DeriveOptions / Normalize.
type Options struct {
	QueueSize           int
	MaxConcurrentTasks  int
	MiddlewareTimeout   time.Duration
	MaxMiddlewareDepth  int
	HistoryLimit        int
	EventHandlerTimeout time.Duration
}

// Baseline defaults, used when the system probe yields nothing better.
const (
	DefaultQueueSize          = 1000
	DefaultMiddlewareTimeout  = time.Second
	DefaultMaxMiddlewareDepth = 4
	DefaultHistoryLimit       = 100
)

// DeriveOptions scales the defaults to the probed host: task concurrency
// grows with CPU count, history with available memory; queue size and the
// middleware timeout and depth keep their baseline defaults.
func DeriveOptions(profile SystemProfile) Options {
	opts := Options{
		QueueSize:          DefaultQueueSize,
		MaxConcurrentTasks: profile.NumCPU * 4,
		MiddlewareTimeout:  DefaultMiddlewareTimeout,
		MaxMiddlewareDepth: DefaultMaxMiddlewareDepth,
		HistoryLimit:       DefaultHistoryLimit,
	}
	if opts.MaxConcurrentTasks < 4 {
		opts.MaxConcurrentTasks = 4
	}
	switch {
	case profile.MemTotalBytes >= 16<<30:
		opts.HistoryLimit = 400
	case profile.MemTotalBytes >= 4<<30:
		opts.HistoryLimit = 200
	}
	return opts
}

// Normalize fills any zero field from the derived defaults so hosts can
// override only what they care about.
func (o Options) Normalize() Options {
	derived := DeriveOptions(ProbeSystem())
	if o.QueueSize <= 0 {
		o.QueueSize = derived.QueueSize
	}
	if o.MaxConcurrentTasks <= 0 {
		o.MaxConcurrentTasks = derived.MaxConcurrentTasks
	}
	if o.MiddlewareTimeout <= 0 {
		o.MiddlewareTimeout = derived.MiddlewareTimeout
	}
	if o.MaxMiddlewareDepth <= 0 {
		o.MaxMiddlewareDepth = derived.MaxMiddlewareDepth
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = derived.HistoryLimit
	}
	return o
}
