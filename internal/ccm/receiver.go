package ccm

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// NodeInfo tracks a UECS node observed on the multicast group.
type NodeInfo struct {
	IP       string
	Types    map[string]bool
	LastSeen time.Time
}

// Receiver joins the multicast group and delivers parsed packets to a
// handler. It also keeps a node table keyed by source IP.
type Receiver struct {
	iface   *net.Interface
	handler func(Packet)

	mu    sync.RWMutex
	nodes map[string]*NodeInfo
}

// NewReceiver creates a receiver. ifaceName may be empty for the default
// interface. The handler is invoked from the receive goroutine; it must not
// block.
func NewReceiver(ifaceName string, handler func(Packet)) (*Receiver, error) {
	var iface *net.Interface
	if ifaceName != "" {
		i, err := net.InterfaceByName(ifaceName)
		if err != nil {
			return nil, fmt.Errorf("unknown multicast interface %q: %w", ifaceName, err)
		}
		iface = i
	}
	return &Receiver{
		iface:   iface,
		handler: handler,
		nodes:   make(map[string]*NodeInfo),
	}, nil
}

// Run joins the group and loops until ctx is cancelled.
func (r *Receiver) Run(ctx context.Context) error {
	addr := &net.UDPAddr{IP: net.ParseIP(MulticastAddr), Port: MulticastPort}
	conn, err := net.ListenMulticastUDP("udp4", r.iface, addr)
	if err != nil {
		return fmt.Errorf("failed to join multicast group: %w", err)
	}
	defer conn.Close()

	// Unblock ReadFromUDP on shutdown.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	log.Info().
		Str("group", fmt.Sprintf("%s:%d", MulticastAddr, MulticastPort)).
		Msg("CCM receiver started")

	buf := make([]byte, 4096)
	for {
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				log.Info().Msg("CCM receiver stopped")
				return nil
			}
			log.Error().Err(err).Msg("CCM receive error")
			time.Sleep(time.Second)
			continue
		}

		now := time.Now()
		packets := Parse(buf[:n], src.IP.String(), now)
		for _, pkt := range packets {
			r.trackNode(pkt, now)
			r.handler(pkt)
		}
	}
}

func (r *Receiver) trackNode(pkt Packet, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[pkt.SourceIP]
	if !ok {
		node = &NodeInfo{IP: pkt.SourceIP, Types: make(map[string]bool)}
		r.nodes[pkt.SourceIP] = node
	}
	node.Types[pkt.RawType] = true
	node.LastSeen = now
}

// Nodes returns a snapshot of observed nodes. With activeOnly set, nodes not
// seen within the last five minutes are omitted.
func (r *Receiver) Nodes(activeOnly bool) []NodeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cutoff := time.Now().Add(-5 * time.Minute)
	out := make([]NodeInfo, 0, len(r.nodes))
	for _, node := range r.nodes {
		if activeOnly && node.LastSeen.Before(cutoff) {
			continue
		}
		types := make(map[string]bool, len(node.Types))
		for t := range node.Types {
			types[t] = true
		}
		out = append(out, NodeInfo{IP: node.IP, Types: types, LastSeen: node.LastSeen})
	}
	return out
}
