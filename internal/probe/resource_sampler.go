package probe

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// ResourceSample is a single point-in-time reading of a transcode
// subprocess's resource usage.
type ResourceSample struct {
	CPUPercent   float64
	RSSBytes     uint64
	IOReadBytes  uint64
	IOWriteBytes uint64
	SampledAt    time.Time
}

// ResourceSampler periodically samples a running subprocess via gopsutil and
// keeps the most recent and peak readings. It is advisory only: Worker
// attaches its summary to the job's log lines on completion and never lets
// a sampling failure affect the state machine; a vanished process is treated
// as "nothing to report" rather than an error.
type ResourceSampler struct {
	interval time.Duration

	mu      sync.Mutex
	proc    *process.Process
	last    ResourceSample
	peakRSS uint64
	peakCPU float64

	cancel context.CancelFunc
	done   chan struct{}
}

// NewResourceSampler creates a sampler for the given subprocess PID.
func NewResourceSampler(pid int32) (*ResourceSampler, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return nil, err
	}
	return &ResourceSampler{proc: proc, interval: 2 * time.Second}, nil
}

// Start begins sampling on a background goroutine until Stop is called or
// the subprocess exits.
func (s *ResourceSampler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sample(ctx)
			}
		}
	}()
}

// Stop halts sampling and waits for the background goroutine to exit.
func (s *ResourceSampler) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

func (s *ResourceSampler) sample(ctx context.Context) {
	cpuPercent, err := s.proc.PercentWithContext(ctx, 0)
	if err != nil {
		return // process likely exited; keep the last good reading
	}

	memInfo, err := s.proc.MemoryInfoWithContext(ctx)
	var rss uint64
	if err == nil && memInfo != nil {
		rss = memInfo.RSS
	}

	var readBytes, writeBytes uint64
	if io, err := s.proc.IOCountersWithContext(ctx); err == nil && io != nil {
		readBytes = io.ReadBytes
		writeBytes = io.WriteBytes
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = ResourceSample{
		CPUPercent:   cpuPercent,
		RSSBytes:     rss,
		IOReadBytes:  readBytes,
		IOWriteBytes: writeBytes,
		SampledAt:    time.Now(),
	}
	if rss > s.peakRSS {
		s.peakRSS = rss
	}
	if cpuPercent > s.peakCPU {
		s.peakCPU = cpuPercent
	}
}

// Summary returns the most recent sample plus the peak CPU and RSS observed
// over the sampler's lifetime, for attaching to a completed job's log.
type Summary struct {
	Last    ResourceSample
	PeakRSS uint64
	PeakCPU float64
}

// Summary returns the current summary snapshot.
func (s *ResourceSampler) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Summary{Last: s.last, PeakRSS: s.peakRSS, PeakCPU: s.peakCPU}
}
