package discovery

import (
	"sort"

	"lanxfer/model"
)

// ListPeers returns a snapshot of the current peer table, sorted by
// display name then ID for stable output.
func (s *Service) ListPeers() []model.PeerInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.PeerInfo, 0, len(s.peers))
	for _, peer := range s.peers {
		out = append(out, peer)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Peer looks up one peer by ID.
func (s *Service) Peer(id string) (model.PeerInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	peer, ok := s.peers[id]
	return peer, ok
}
