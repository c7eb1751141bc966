// Package discovery implements LAN peer discovery over raw UDP broadcast:
// a periodic announcer, an inbound listener that upserts a peer table, and
// a sweeper that evicts peers that stop announcing.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"lanxfer/model"
	"lanxfer/socket"
	"lanxfer/wire"
)

const (
	// DefaultAnnounceInterval is how often this device broadcasts presence.
	DefaultAnnounceInterval = 5 * time.Second
	// DefaultPeerTimeout is how long a peer may go unheard before eviction.
	DefaultPeerTimeout = 15 * time.Second

	// typeAnnouncement is the wire.Announcement.Type discriminator.
	typeAnnouncement = "Announcement"

	// reservedDiscoveryPort collides with a well-known LAN appliance
	// protocol on some networks. Rather than fail to bind, a config
	// requesting this exact port is remapped to a random ephemeral port
	// in remapPortMin..remapPortMax.
	reservedDiscoveryPort = 34567
	remapPortMin          = 40000
	remapPortMax          = 49999
)

// EventType identifies a peer-table change.
type EventType string

const (
	EventPeerUpserted EventType = "peer_upserted"
	EventPeerRemoved  EventType = "peer_removed"
)

// Event carries a peer-table change for consumers such as the transfer
// manager's peer resolution. IsNew is true on a peer's first announcement
// and false on every subsequent re-announcement of the same peer.
type Event struct {
	Type  EventType
	Peer  model.PeerInfo
	IsNew bool
}

// Config controls announcer and sweeper behavior.
type Config struct {
	SelfID           string
	DeviceName       string
	Platform         string
	Version          string
	TransferPort     int
	DiscoveryPort    int
	AnnounceInterval time.Duration
	PeerTimeout      time.Duration
}

func (c Config) withDefaults() Config {
	out := c
	if out.AnnounceInterval <= 0 {
		out.AnnounceInterval = DefaultAnnounceInterval
	}
	if out.PeerTimeout <= 0 {
		out.PeerTimeout = DefaultPeerTimeout
	}
	if out.DiscoveryPort == 0 {
		out.DiscoveryPort = reservedDiscoveryPort
	}
	return out
}

// Service runs the announcer and sweeper loops and maintains the peer
// table they both act on.
type Service struct {
	cfg    Config
	engine *socket.Engine
	log    *logrus.Entry

	mu    sync.RWMutex
	peers map[string]model.PeerInfo

	nameMu      sync.RWMutex
	displayName string

	events chan Event

	boundPort int

	startOnce sync.Once
	stopOnce  sync.Once
	running   atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Service bound to engine. Start must be called before
// any announcement is sent or received.
func New(engine *socket.Engine, cfg Config) *Service {
	cfg = cfg.withDefaults()
	return &Service{
		cfg:         cfg,
		engine:      engine,
		log:         logrus.WithField("component", "discovery"),
		peers:       make(map[string]model.PeerInfo),
		displayName: cfg.DeviceName,
		events:      make(chan Event, 128),
	}
}

// Start binds the UDP discovery socket and begins the announcer and
// sweeper loops.
func (s *Service) Start() error {
	var startErr error
	s.startOnce.Do(func() {
		port := s.cfg.DiscoveryPort
		if port == reservedDiscoveryPort {
			port = remapPortMin + rand.Intn(remapPortMax-remapPortMin+1)
		}

		bound, err := s.engine.InitUDPSocket(port, s.handleDatagram)
		if err != nil {
			startErr = fmt.Errorf("discovery: init udp socket: %w", err)
			return
		}
		s.boundPort = bound
		s.cfg.DiscoveryPort = bound

		s.ctx, s.cancel = context.WithCancel(context.Background())
		s.wg.Add(2)
		go s.announceLoop()
		go s.sweepLoop()
		s.running.Store(true)
	})
	return startErr
}

// Stop halts both loops and closes the events channel.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		s.running.Store(false)
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
		close(s.events)
	})
}

// IsRunning reports whether the announcer and sweeper loops are active.
func (s *Service) IsRunning() bool {
	return s.running.Load()
}

// DisplayName returns the name advertised in outgoing announcements.
func (s *Service) DisplayName() string {
	s.nameMu.RLock()
	defer s.nameMu.RUnlock()
	return s.displayName
}

// SetDisplayName updates the name advertised in outgoing announcements.
// Takes effect on the next announce tick.
func (s *Service) SetDisplayName(name string) {
	s.nameMu.Lock()
	s.displayName = name
	s.nameMu.Unlock()
}

// PeerID returns this device's own peer id, as advertised in
// announcements.
func (s *Service) PeerID() string {
	return s.cfg.SelfID
}

// Events provides peer-table change notifications.
func (s *Service) Events() <-chan Event {
	return s.events
}

// BoundPort returns the UDP port actually bound, after any reserved-port
// remap.
func (s *Service) BoundPort() int {
	return s.boundPort
}

func (s *Service) announceLoop() {
	defer s.wg.Done()

	s.announce()

	ticker := time.NewTicker(s.cfg.AnnounceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.announce()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Service) announce() {
	ann := wire.Announcement{
		Type:      typeAnnouncement,
		PeerID:    s.cfg.SelfID,
		Name:      s.DisplayName(),
		Port:      s.cfg.TransferPort,
		Platform:  s.cfg.Platform,
		Version:   s.cfg.Version,
		Timestamp: time.Now().UnixMilli(),
	}

	payload, err := wire.Encode(ann)
	if err != nil {
		s.log.WithError(err).Warn("encode announcement")
		return
	}

	if _, err := s.engine.SendUDPBroadcast(s.boundPort, payload); err != nil {
		s.log.WithError(err).Debug("broadcast announcement")
	}
}

func (s *Service) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Service) sweep() {
	cutoff := time.Now().Add(-s.cfg.PeerTimeout).UnixMilli()

	s.mu.Lock()
	var removed []model.PeerInfo
	for id, peer := range s.peers {
		if peer.LastSeenMs < cutoff {
			delete(s.peers, id)
			removed = append(removed, peer)
		}
	}
	s.mu.Unlock()

	for _, peer := range removed {
		s.emit(Event{Type: EventPeerRemoved, Peer: peer})
	}
}

func (s *Service) handleDatagram(data []byte, endpoint string) {
	var ann wire.Announcement
	if err := json.Unmarshal(data, &ann); err != nil {
		s.log.WithError(err).Debug("decode announcement")
		return
	}
	if ann.PeerID == "" || ann.PeerID == s.cfg.SelfID {
		return
	}

	host, _, err := net.SplitHostPort(endpoint)
	if err != nil {
		host = endpoint
	}

	s.upsert(model.PeerInfo{
		ID:         ann.PeerID,
		Name:       ann.Name,
		IPAddress:  host,
		Port:       ann.Port,
		Platform:   ann.Platform,
		Version:    ann.Version,
		LastSeenMs: time.Now().UnixMilli(),
	})
}

func (s *Service) upsert(peer model.PeerInfo) {
	s.mu.Lock()
	_, exists := s.peers[peer.ID]
	s.peers[peer.ID] = peer
	s.mu.Unlock()

	s.emit(Event{Type: EventPeerUpserted, Peer: peer, IsNew: !exists})
}

func (s *Service) emit(event Event) {
	select {
	case s.events <- event:
	default:
	}
}
