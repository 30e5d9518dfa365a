// Package nfctrl watches an NFQUEUE for TCP SYNs so the operator can be
// told about knocks from addresses that are not whitelisted yet.
package nfctrl

import (
	"context"
	"errors"
	"time"

	"github.com/AkihiroSuda/go-netfilter-queue"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"knockbot/logger"
)

// Knock is a connection attempt worth reporting.
type Knock struct {
	SrcIP   string
	DstPort uint16
}

// Watcher classifies queued packets. Observe must only be called from one
// goroutine.
type Watcher struct {
	cooldown time.Duration
	now      func() time.Time
	seen     map[string]time.Time // [IP] last alert
	knocks   chan Knock
}

func NewWatcher(cooldown time.Duration) *Watcher {
	return &Watcher{
		cooldown: cooldown,
		now:      time.Now,
		seen:     map[string]time.Time{},
		knocks:   make(chan Knock, 16),
	}
}

// Knocks delivers reported knocks. Knocks arriving while the channel is
// full are dropped.
func (w *Watcher) Knocks() <-chan Knock {
	return w.knocks
}

// Run reads the queue until ctx is done. Every packet is accepted; the
// watcher never changes what the firewall does.
func (w *Watcher) Run(ctx context.Context, queueID uint16, maxQueue uint32) error {
	nfq, err := netfilter.NewNFQueue(queueID, maxQueue, netfilter.NF_DEFAULT_PACKET_SIZE)
	if err != nil {
		return err
	}
	defer nfq.Close()

	log := logger.WithComponent("nfctrl")
	log.Infof("Watching NFQUEUE %d", queueID)

	packets := nfq.GetPackets()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p := <-packets:
			p.SetVerdict(netfilter.NF_ACCEPT)
			w.Observe(p.Packet)
		}
	}
}

// Observe reports a pure SYN from a source not reported within the
// cooldown. It returns the knock and whether it was reported.
func (w *Watcher) Observe(packet gopacket.Packet) (Knock, bool) {
	log := logger.WithComponent("nfctrl")

	tcp, srcIP, err := parseTCPPacket(packet)
	if err != nil {
		log.WithError(err).Debug("ignoring packet")
		return Knock{}, false
	}

	now := w.now()
	if last, ok := w.seen[srcIP]; ok && now.Sub(last) < w.cooldown {
		return Knock{}, false
	}
	w.seen[srcIP] = now
	w.prune(now)

	k := Knock{SrcIP: srcIP, DstPort: uint16(tcp.DstPort)}
	log.WithField("ip", srcIP).Infof("New TCP SYN to port %d", k.DstPort)

	select {
	case w.knocks <- k:
	default:
		log.WithField("ip", srcIP).Warn("knock dropped, alert queue full")
		return k, false
	}
	return k, true
}

func (w *Watcher) prune(now time.Time) {
	for ip, last := range w.seen {
		if now.Sub(last) >= w.cooldown {
			delete(w.seen, ip)
		}
	}
}

func parseTCPPacket(packet gopacket.Packet) (*layers.TCP, string, error) {
	var tcpLayer *layers.TCP
	var srcIP string

	for _, layer := range packet.Layers() {
		switch l := layer.(type) {
		case *layers.TCP:
			tcpLayer = l
		case *layers.IPv4:
			srcIP = l.SrcIP.String()
		case *layers.IPv6:
			srcIP = l.SrcIP.String()
		}
	}

	if srcIP == "" {
		return nil, "", errors.New("IP layer not found")
	}
	if tcpLayer == nil {
		return nil, "", errors.New("not a TCP")
	}
	if !tcpLayer.SYN {
		return nil, "", errors.New("not a TCP-SYN")
	}
	// SYN+ACK is a reply leaving through the queue, not a knock.
	if tcpLayer.ACK {
		return nil, "", errors.New("TCP-ACK flag found")
	}

	return tcpLayer, srcIP, nil
}
