package bridge

import (
	"sync/atomic"

	"github.com/laminar-data/fgbridge/internal/monitoring"
)

// PacketStats tracks receive-path counters for one endpoint. All methods are
// safe for concurrent use; counters are only ever incremented by the receive
// loop and read by LogStats or the API layer.
type PacketStats struct {
	packets   atomic.Int64
	bytes     atomic.Int64
	malformed atomic.Int64
	dropped   atomic.Int64
	sent      atomic.Int64
}

// AddPacket records one successfully received datagram of n bytes.
func (s *PacketStats) AddPacket(n int) {
	s.packets.Add(1)
	s.bytes.Add(int64(n))
}

// AddMalformed records a datagram that failed to decode.
func (s *PacketStats) AddMalformed() { s.malformed.Add(1) }

// AddDropped records a snapshot that a subscriber was too slow to take.
func (s *PacketStats) AddDropped() { s.dropped.Add(1) }

// AddSent records one outbound command datagram.
func (s *PacketStats) AddSent() { s.sent.Add(1) }

// StatsSnapshot is a point-in-time copy of the counters, used by the API
// status endpoint.
type StatsSnapshot struct {
	Packets   int64 `json:"packets"`
	Bytes     int64 `json:"bytes"`
	Malformed int64 `json:"malformed"`
	Dropped   int64 `json:"dropped"`
	Sent      int64 `json:"sent"`
}

// Snapshot returns the current counter values.
func (s *PacketStats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Packets:   s.packets.Load(),
		Bytes:     s.bytes.Load(),
		Malformed: s.malformed.Load(),
		Dropped:   s.dropped.Load(),
		Sent:      s.sent.Load(),
	}
}

// LogStats writes the current counters to the package logger, prefixed with
// the endpoint name.
func (s *PacketStats) LogStats(name string) {
	snap := s.Snapshot()
	monitoring.Logf("endpoint %s: %d packets (%d bytes), %d malformed, %d dropped, %d sent",
		name, snap.Packets, snap.Bytes, snap.Malformed, snap.Dropped, snap.Sent)
}
