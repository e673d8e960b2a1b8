package webrtc

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"

	"github.com/dj-oyu/bottle-monitor/internal/logger"
	"github.com/dj-oyu/bottle-monitor/internal/metrics"
)

// ChannelLabel is the data channel a browser opens to receive updates.
const ChannelLabel = "updates"

// ErrMaxClients is returned by HandleOffer when the client limit is reached.
var ErrMaxClients = errors.New("maximum clients reached")

// Client represents a connected WebRTC client
type Client struct {
	id        string
	peerConn  *webrtc.PeerConnection
	sendChan  chan []byte
	closeChan chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	channel *webrtc.DataChannel // set once the browser channel is open

	sent    atomic.Uint64
	dropped atomic.Uint64
}

// Server fans monitor updates out over WebRTC data channels
type Server struct {
	clients    map[string]*Client
	clientsMu  sync.RWMutex
	config     webrtc.Configuration
	maxClients int
	api        *webrtc.API
	metrics    *metrics.Metrics
	log        logger.Module
}

// NewServer creates a new WebRTC server
func NewServer(stunServers []string, maxClients int, m *metrics.Metrics) *Server {
	iceServers := make([]webrtc.ICEServer, 0, len(stunServers))
	for _, url := range stunServers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs: []string{url},
		})
	}
	if len(iceServers) == 0 {
		iceServers = []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		}
	}
	if m == nil {
		m = metrics.New()
	}

	settingsEngine := webrtc.SettingEngine{}
	settingsEngine.SetDTLSRetransmissionInterval(time.Second * 2)
	settingsEngine.SetNetworkTypes([]webrtc.NetworkType{
		webrtc.NetworkTypeUDP4,
		webrtc.NetworkTypeUDP6,
	})

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingsEngine))

	return &Server{
		clients: make(map[string]*Client),
		config: webrtc.Configuration{
			ICEServers: iceServers,
		},
		maxClients: maxClients,
		api:        api,
		metrics:    m,
		log:        logger.For("WebRTC"),
	}
}

// HandleOffer accepts an SDP offer carrying an "updates" data channel and
// returns the answer with gathered ICE candidates.
func (s *Server) HandleOffer(offerJSON []byte) ([]byte, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(offerJSON, &offer); err != nil {
		return nil, fmt.Errorf("failed to parse offer: %w", err)
	}
	if offer.Type != webrtc.SDPTypeOffer || offer.SDP == "" {
		return nil, fmt.Errorf("failed to parse offer: expected type offer with sdp")
	}

	peerConn, err := s.api.NewPeerConnection(s.config)
	if err != nil {
		s.metrics.WebRTCErrors.Add(1)
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	client := &Client{
		id:        uuid.NewString(),
		peerConn:  peerConn,
		sendChan:  make(chan []byte, 32),
		closeChan: make(chan struct{}),
	}

	// Registered before negotiation so a peer failing mid-gathering is
	// removed by the state callback below.
	if err := s.register(client); err != nil {
		_ = peerConn.Close()
		return nil, err
	}
	go s.sendMessages(client)

	peerConn.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != ChannelLabel {
			s.log.Debug("Client %s opened unexpected channel %q", client.id, dc.Label())
			return
		}
		dc.OnOpen(func() {
			client.mu.Lock()
			client.channel = dc
			client.mu.Unlock()
			s.log.Info("Client %s data channel open", client.id)
		})
		dc.OnClose(func() {
			s.RemoveClient(client.id)
		})
	})

	peerConn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.log.Debug("Client %s connection state: %s", client.id, state.String())
		if state == webrtc.PeerConnectionStateDisconnected ||
			state == webrtc.PeerConnectionStateFailed ||
			state == webrtc.PeerConnectionStateClosed {
			s.log.Info("Client %s connection lost (%s), removing...", client.id, state.String())
			s.RemoveClient(client.id)
		}
	})

	if err := peerConn.SetRemoteDescription(offer); err != nil {
		s.RemoveClient(client.id)
		return nil, fmt.Errorf("failed to set remote description: %w", err)
	}
	answer, err := peerConn.CreateAnswer(nil)
	if err != nil {
		s.RemoveClient(client.id)
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(peerConn)
	if err := peerConn.SetLocalDescription(answer); err != nil {
		s.RemoveClient(client.id)
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}
	select {
	case <-gatherComplete:
	case <-client.closeChan:
	}
	if !s.hasClient(client.id) {
		return nil, fmt.Errorf("client %s closed during negotiation", client.id)
	}
	localDesc := peerConn.LocalDescription()
	if localDesc == nil {
		s.RemoveClient(client.id)
		return nil, fmt.Errorf("no local description available")
	}
	answerJSON, err := json.Marshal(localDesc)
	if err != nil {
		s.RemoveClient(client.id)
		return nil, fmt.Errorf("failed to marshal answer: %w", err)
	}

	s.log.Info("Client %s connected", client.id)
	return answerJSON, nil
}

// register adds client unless the limit is reached.
func (s *Server) register(client *Client) error {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	if len(s.clients) >= s.maxClients {
		return fmt.Errorf("%w (%d)", ErrMaxClients, s.maxClients)
	}
	s.clients[client.id] = client
	s.metrics.WebRTCActiveClients.Add(1)
	s.metrics.WebRTCTotalClients.Add(1)
	return nil
}

func (s *Server) hasClient(id string) bool {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	_, ok := s.clients[id]
	return ok
}

// Broadcast queues msg for every client (non-blocking). Slow clients drop messages.
func (s *Server) Broadcast(msg []byte) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for _, client := range s.clients {
		select {
		case client.sendChan <- msg:
		default:
			client.dropped.Add(1)
		}
	}
}

func (s *Server) sendMessages(client *Client) {
	for {
		select {
		case <-client.closeChan:
			return
		case msg := <-client.sendChan:
			client.mu.Lock()
			dc := client.channel
			client.mu.Unlock()
			if dc == nil {
				// Channel not open yet
				continue
			}
			if err := dc.SendText(string(msg)); err != nil {
				s.metrics.WebRTCErrors.Add(1)
				s.log.Warn("Send to client %s failed: %v", client.id, err)
				continue
			}
			client.sent.Add(1)
			s.metrics.WebRTCMessagesSent.Add(1)
		}
	}
}

// RemoveClient removes a client by ID
func (s *Server) RemoveClient(clientID string) {
	s.clientsMu.Lock()
	client, exists := s.clients[clientID]
	if exists {
		delete(s.clients, clientID)
	}
	s.clientsMu.Unlock()

	if !exists {
		return
	}

	client.closeOnce.Do(func() {
		close(client.closeChan)
	})
	_ = client.peerConn.Close()
	s.metrics.WebRTCActiveClients.Add(^uint64(0))

	s.log.Info("Client %s disconnected (sent: %d, dropped: %d)", clientID, client.sent.Load(), client.dropped.Load())
}

// GetClientCount returns the number of connected clients
func (s *Server) GetClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// GetClientStats returns stats for all clients
func (s *Server) GetClientStats() map[string]map[string]uint64 {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	stats := make(map[string]map[string]uint64)
	for id, client := range s.clients {
		stats[id] = map[string]uint64{
			"messages_sent":    client.sent.Load(),
			"messages_dropped": client.dropped.Load(),
		}
	}
	return stats
}

// Close closes all client connections
func (s *Server) Close() error {
	s.clientsMu.RLock()
	ids := make([]string, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	s.clientsMu.RUnlock()

	for _, id := range ids {
		s.RemoveClient(id)
	}
	return nil
}
