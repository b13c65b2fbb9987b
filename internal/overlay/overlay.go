// Package overlay describes the machines visible on the private overlay network.
package overlay

import (
	"context"
	"time"
)

// Peer is an immutable snapshot of one overlay member, owned by the query that
// produced it.
type Peer struct {
	ID       string
	Hostname string
	DNSName  string
	IPs      []string
	Tags     []string
	// LastSeen is nil when the directory has no record of the peer going idle.
	LastSeen *time.Time
	Online   bool
}

// Address prefers the DNS name and falls back to the first IP. It returns ""
// when neither is known.
func (p Peer) Address() string {
	if p.DNSName != "" {
		return p.DNSName
	}
	if len(p.IPs) > 0 {
		return p.IPs[0]
	}
	return ""
}

// LastSeenOrZero treats an absent LastSeen as the Unix epoch.
func (p Peer) LastSeenOrZero() time.Time {
	if p.LastSeen == nil {
		return time.Unix(0, 0).UTC()
	}
	return *p.LastSeen
}

// Status is a point-in-time view of the local node and its peers.
type Status struct {
	BackendState string
	Self         Peer
	Peers        []Peer
}

// PeerDirectory lists overlay members. FindPeersWithTag returns peers carrying
// any of tags in an order that is stable across calls against the same
// membership; callers may rely on that order for tie-breaking.
type PeerDirectory interface {
	FindPeersWithTag(ctx context.Context, tags []string) ([]Peer, error)
	Status(ctx context.Context) (Status, error)
}

// Login carries the credentials for joining the overlay.
type Login struct {
	AuthKey  string
	Tags     []string
	Hostname string
}

// Node is the local overlay client: it joins the network and reports on
// itself as well as its peers.
type Node interface {
	PeerDirectory
	Available(ctx context.Context) bool
	Up(ctx context.Context, login Login) error
	IP(ctx context.Context) (string, error)
	Hostname(ctx context.Context) (string, error)
}
