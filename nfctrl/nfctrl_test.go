package nfctrl

import (
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

func ipv4(src string) *layers.IPv4 {
	return &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.ParseIP(src).To4(),
		DstIP:    net.ParseIP("192.0.2.1").To4(),
	}
}

func tcpPacket(t *testing.T, src string, port uint16, syn, ack bool) gopacket.Packet {
	t.Helper()
	ip := ipv4(src)
	tcp := &layers.TCP{SrcPort: 40000, DstPort: layers.TCPPort(port), SYN: syn, ACK: ack, Window: 1024}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatal(err)
	}
	return serialize(t, layers.LayerTypeIPv4, ip, tcp)
}

func tcp6Packet(t *testing.T, src string, port uint16) gopacket.Packet {
	t.Helper()
	ip := &layers.IPv6{
		Version:    6,
		HopLimit:   64,
		NextHeader: layers.IPProtocolTCP,
		SrcIP:      net.ParseIP(src),
		DstIP:      net.ParseIP("2001:db8::1"),
	}
	tcp := &layers.TCP{SrcPort: 40000, DstPort: layers.TCPPort(port), SYN: true, Window: 1024}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatal(err)
	}
	return serialize(t, layers.LayerTypeIPv6, ip, tcp)
}

func udpPacket(t *testing.T, src string) gopacket.Packet {
	t.Helper()
	ip := ipv4(src)
	ip.Protocol = layers.IPProtocolUDP
	udp := &layers.UDP{SrcPort: 5353, DstPort: 53}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatal(err)
	}
	return serialize(t, layers.LayerTypeIPv4, ip, udp)
}

func serialize(t *testing.T, first gopacket.LayerType, ls ...gopacket.SerializableLayer) gopacket.Packet {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	return gopacket.NewPacket(buf.Bytes(), first, gopacket.Default)
}

func TestParseTCPPacket(t *testing.T) {
	tests := []struct {
		name    string
		packet  func(*testing.T) gopacket.Packet
		wantIP  string
		wantErr bool
	}{
		{"syn", func(t *testing.T) gopacket.Packet { return tcpPacket(t, "198.51.100.9", 22, true, false) }, "198.51.100.9", false},
		{"syn ipv6", func(t *testing.T) gopacket.Packet { return tcp6Packet(t, "2001:db8::9", 22) }, "2001:db8::9", false},
		{"syn-ack", func(t *testing.T) gopacket.Packet { return tcpPacket(t, "198.51.100.9", 22, true, true) }, "", true},
		{"ack only", func(t *testing.T) gopacket.Packet { return tcpPacket(t, "198.51.100.9", 22, false, true) }, "", true},
		{"udp", func(t *testing.T) gopacket.Packet { return udpPacket(t, "198.51.100.9") }, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ip, err := parseTCPPacket(tt.packet(t))
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseTCPPacket() error = %v, wantErr %v", err, tt.wantErr)
			}
			if ip != tt.wantIP {
				t.Errorf("src = %q, want %q", ip, tt.wantIP)
			}
		})
	}
}

func TestObserveCooldown(t *testing.T) {
	w := NewWatcher(time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return now }

	k, ok := w.Observe(tcpPacket(t, "198.51.100.9", 2222, true, false))
	if !ok {
		t.Fatal("first SYN not reported")
	}
	if k != (Knock{SrcIP: "198.51.100.9", DstPort: 2222}) {
		t.Errorf("knock = %+v", k)
	}
	if got := <-w.Knocks(); got != k {
		t.Errorf("channel delivered %+v, want %+v", got, k)
	}

	now = now.Add(30 * time.Second)
	if _, ok := w.Observe(tcpPacket(t, "198.51.100.9", 2222, true, false)); ok {
		t.Error("repeat SYN within cooldown reported")
	}
	if _, ok := w.Observe(tcpPacket(t, "198.51.100.10", 2222, true, false)); !ok {
		t.Error("SYN from new source not reported")
	}
	<-w.Knocks()

	now = now.Add(time.Minute)
	if _, ok := w.Observe(tcpPacket(t, "198.51.100.9", 2222, true, false)); !ok {
		t.Error("SYN after cooldown not reported")
	}
	if len(w.seen) != 1 {
		t.Errorf("seen = %v, want expired entries pruned", w.seen)
	}
}

func TestObserveIgnoresNonSYN(t *testing.T) {
	w := NewWatcher(time.Minute)
	if _, ok := w.Observe(udpPacket(t, "198.51.100.9")); ok {
		t.Error("UDP packet reported")
	}
	if _, ok := w.Observe(tcpPacket(t, "198.51.100.9", 22, true, true)); ok {
		t.Error("SYN-ACK reported")
	}
	select {
	case k := <-w.Knocks():
		t.Errorf("unexpected knock %+v", k)
	default:
	}
}

func TestObserveDropsWhenFull(t *testing.T) {
	w := NewWatcher(time.Minute)
	for i := 0; i < cap(w.knocks); i++ {
		src := net.IPv4(198, 51, 100, byte(i+1)).String()
		if _, ok := w.Observe(tcpPacket(t, src, 22, true, false)); !ok {
			t.Fatalf("knock %d not queued", i)
		}
	}
	if _, ok := w.Observe(tcpPacket(t, "203.0.113.77", 22, true, false)); ok {
		t.Error("knock queued beyond capacity")
	}
}
