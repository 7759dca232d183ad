// SPDX-License-Identifier: MIT

// Package netcond samples ambient network quality. Readings are best-effort
// diagnostics: every failure degrades to ClassUnknown and never affects the
// loading state machine itself.
package netcond

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Class is a coarse classification of current connectivity quality.
type Class string

const (
	ClassSlow2G  Class = "slow-2g"
	Class2G      Class = "2g"
	Class3G      Class = "3g"
	Class4G      Class = "4g"
	ClassUnknown Class = "unknown"
)

// SpeedFactor scales the progress increment band for this class. Degraded
// classes advance at half pace, fast classes at double, everything else
// (including unknown) at nominal pace.
func (c Class) SpeedFactor() float64 {
	switch c {
	case ClassSlow2G, Class2G:
		return 0.5
	case Class4G:
		return 2.0
	default:
		return 1.0
	}
}

// Sample is one network condition observation.
type Sample struct {
	Class        Class
	DownlinkMbps float64
	RTT          time.Duration
	SaveData     bool
}

// Unknown is the sample used when the capability is absent or a read fails.
func Unknown() Sample {
	return Sample{Class: ClassUnknown}
}

// Reader samples network conditions. Implementations must treat failure as a
// degraded observation, not a fault.
type Reader interface {
	Read(ctx context.Context) (Sample, error)
}

// ClassifyRTT buckets a measured round-trip into an effective class, using
// the conventional effective-connection-type thresholds.
func ClassifyRTT(rtt time.Duration) Class {
	switch {
	case rtt >= 2000*time.Millisecond:
		return ClassSlow2G
	case rtt >= 1400*time.Millisecond:
		return Class2G
	case rtt >= 270*time.Millisecond:
		return Class3G
	case rtt > 0:
		return Class4G
	default:
		return ClassUnknown
	}
}

// RTTReader estimates conditions by timing a HEAD request against a nearby
// endpoint, typically the backend health URL.
type RTTReader struct {
	url    string
	client *http.Client
}

// NewRTTReader builds an RTTReader probing the given URL. A nil client gets a
// dedicated one with the supplied timeout.
func NewRTTReader(url string, timeout time.Duration, client *http.Client) *RTTReader {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &RTTReader{url: url, client: client}
}

func (r *RTTReader) Read(ctx context.Context) (Sample, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, r.url, nil)
	if err != nil {
		return Unknown(), fmt.Errorf("build probe request: %w", err)
	}

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return Unknown(), fmt.Errorf("probe %s: %w", r.url, err)
	}
	_ = resp.Body.Close()
	rtt := time.Since(start)

	return Sample{
		Class: ClassifyRTT(rtt),
		RTT:   rtt,
	}, nil
}

// StaticReader returns a fixed sample, used in tests and for operator
// overrides.
type StaticReader struct {
	Sample Sample
}

func (s *StaticReader) Read(context.Context) (Sample, error) {
	return s.Sample, nil
}
