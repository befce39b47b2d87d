//go:build pcap
// +build pcap

// Command pcap-replay feeds a recorded simulator session back into a running
// bridge. It reads UDP payloads for the telemetry port out of a pcap capture
// and resends them to the bridge's inbound socket, preserving the original
// inter-packet timing unless -rate overrides it.
//
// Usage:
//
//	go run -tags pcap ./cmd/tools/pcap-replay -pcap session.pcap -port 5514
//
// Flags:
//
//	-pcap    Path to the capture file (required)
//	-port    UDP telemetry port to filter on and replay to (default: 5514)
//	-target  Replay destination host (default: localhost)
//	-rate    Playback speed multiplier; 0 replays as fast as possible (default: 1)
//	-loop    Restart from the beginning when the capture ends
package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
)

var (
	pcapFile = flag.String("pcap", "", "Path to the capture file (required)")
	port     = flag.Int("port", 5514, "UDP telemetry port to filter on and replay to")
	target   = flag.String("target", "localhost", "Replay destination host")
	rate     = flag.Float64("rate", 1.0, "Playback speed multiplier; 0 replays as fast as possible")
	loop     = flag.Bool("loop", false, "Restart from the beginning when the capture ends")
)

func replay(conn *net.UDPConn) (int, error) {
	handle, err := pcap.OpenOffline(*pcapFile)
	if err != nil {
		return 0, fmt.Errorf("failed to open capture: %w", err)
	}
	defer handle.Close()

	if err := handle.SetBPFFilter(fmt.Sprintf("udp port %d", *port)); err != nil {
		return 0, fmt.Errorf("failed to set filter: %w", err)
	}

	source := gopacket.NewPacketSource(handle, handle.LinkType())

	sent := 0
	var lastTS time.Time
	for packet := range source.Packets() {
		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp := udpLayer.(*layers.UDP)
		if int(udp.DstPort) != *port {
			continue
		}
		payload := udp.Payload
		if len(payload) == 0 {
			continue
		}

		// Pace to the original capture timing.
		ts := packet.Metadata().Timestamp
		if *rate > 0 && !lastTS.IsZero() && ts.After(lastTS) {
			time.Sleep(time.Duration(float64(ts.Sub(lastTS)) / *rate))
		}
		lastTS = ts

		if _, err := conn.Write(payload); err != nil {
			return sent, fmt.Errorf("failed to send packet: %w", err)
		}
		sent++
	}
	return sent, nil
}

func main() {
	flag.Parse()
	if *pcapFile == "" {
		log.Fatal("Error: -pcap flag is required")
	}

	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", *target, *port))
	if err != nil {
		log.Fatalf("failed to resolve target: %v", err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		log.Fatalf("failed to open socket: %v", err)
	}
	defer conn.Close()

	log.Printf("replaying %s to %s", *pcapFile, addr)
	for {
		sent, err := replay(conn)
		if err != nil {
			log.Fatalf("replay failed after %d packets: %v", sent, err)
		}
		log.Printf("replayed %d packets", sent)
		if !*loop {
			return
		}
	}
}
