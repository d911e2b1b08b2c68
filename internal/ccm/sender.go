package ccm

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Sender emits control frames onto the multicast group.
//
// UDP gives no delivery guarantee, so each logical command is retransmitted a
// few times with a short gap. A mutex keeps the burst for one command atomic
// with respect to other senders sharing this socket, and a rate limiter
// enforces the minimum interval between logical commands.
type Sender struct {
	mu      sync.Mutex
	conn    *net.UDPConn
	localIP string

	limiter    *rate.Limiter
	retransmit int
	gap        time.Duration

	room   int
	region int
	order  int
}

// SenderOptions configures a Sender.
type SenderOptions struct {
	Room            int
	Region          int
	Order           int
	MinSendInterval time.Duration
	Retransmit      int
	RetransmitGap   time.Duration
}

// NewSender opens a UDP socket towards the multicast group.
func NewSender(opts SenderOptions) (*Sender, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(MulticastAddr), Port: MulticastPort}
	conn, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to open multicast sender: %w", err)
	}

	interval := opts.MinSendInterval
	if interval <= 0 {
		interval = time.Second
	}
	retransmit := opts.Retransmit
	if retransmit <= 0 {
		retransmit = 3
	}
	gap := opts.RetransmitGap
	if gap <= 0 {
		gap = 50 * time.Millisecond
	}

	return &Sender{
		conn:       conn,
		localIP:    DetectLocalIP(),
		limiter:    rate.NewLimiter(rate.Every(interval), 1),
		retransmit: retransmit,
		gap:        gap,
		room:       opts.Room,
		region:     opts.Region,
		order:      opts.Order,
	}, nil
}

// Send emits one logical command: the frame is built once and written
// retransmit times back-to-back. It blocks until the rate limiter admits the
// command; cancellation of ctx aborts the wait, never a half-sent burst.
func (s *Sender) Send(ctx context.Context, ccmType, value string, priority int) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	payload := Build(Frame{
		Type:     ccmType,
		Value:    value,
		Room:     s.room,
		Region:   s.region,
		Order:    s.order,
		Priority: priority,
		LocalIP:  s.localIP,
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := 0; i < s.retransmit; i++ {
		if i > 0 {
			time.Sleep(s.gap)
		}
		if _, err := s.conn.Write(payload); err != nil {
			return fmt.Errorf("multicast write failed: %w", err)
		}
	}

	log.Debug().
		Str("type", ccmType).
		Str("value", value).
		Int("priority", priority).
		Int("repeat", s.retransmit).
		Msg("CCM command sent")

	return nil
}

// Close releases the socket.
func (s *Sender) Close() error {
	return s.conn.Close()
}
