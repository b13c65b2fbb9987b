// Package detector picks the previous runner out of the overlay peer set.
package detector

import (
	"context"
	"sort"
	"strings"

	"github.com/danmuck/runnersync/internal/errs"
	"github.com/danmuck/runnersync/internal/overlay"
	"github.com/danmuck/runnersync/internal/pipeline"
	"github.com/rs/zerolog"
)

// Result is the outcome of a search. Peer is nil whenever Found is false.
type Result struct {
	Found bool
	Peer  *overlay.Peer
}

// Detector queries a PeerDirectory for runners sharing a tag.
//
// It does not exclude the invoking node: directories are expected to leave
// their own node out of FindPeersWithTag.
type Detector struct {
	Directory overlay.PeerDirectory
	Log       zerolog.Logger
}

func New(directory overlay.PeerDirectory, log zerolog.Logger) *Detector {
	return &Detector{Directory: directory, Log: log}
}

// Detect returns the most recently seen peer carrying any of tags. Empty tags
// fail with a Validation error under pipeline.Fatal. Directory failures are
// returned as Network errors without retry.
func (d *Detector) Detect(ctx context.Context, tags []string, severity pipeline.Severity) (Result, error) {
	return pipeline.Run[[]string, []string, Result](ctx, d.Log, stage{d: d}, tags, severity)
}

// SelectPrevious returns the peer with the latest LastSeen, treating an absent
// value as the epoch. Ties keep input order, so the result is only as stable
// as the order the directory returned.
func SelectPrevious(peers []overlay.Peer) (overlay.Peer, bool) {
	if len(peers) == 0 {
		return overlay.Peer{}, false
	}
	sorted := append([]overlay.Peer(nil), peers...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].LastSeenOrZero().After(sorted[j].LastSeenOrZero())
	})
	return sorted[0], true
}

type stage struct {
	d *Detector
}

func (stage) Name() string { return "detect" }

func (stage) Validate(tags []string) []string {
	if len(cleanTags(tags)) == 0 {
		return []string{"at least one tag is required"}
	}
	return nil
}

func (stage) Plan(tags []string) []string { return cleanTags(tags) }

func (s stage) Execute(ctx context.Context, tags []string) (Result, error) {
	s.d.Log.Info().Strs("tags", tags).Msg("searching for previous runner")
	peers, err := s.d.Directory.FindPeersWithTag(ctx, tags)
	if err != nil {
		if errs.KindOf(err) == errs.Unclassified {
			err = errs.Wrap(errs.Network, "find peers", err)
		}
		return Result{}, err
	}
	peer, ok := SelectPrevious(peers)
	if !ok {
		return Result{}, nil
	}
	return Result{Found: true, Peer: &peer}, nil
}

func (s stage) Report(out Result) Result {
	if !out.Found {
		s.d.Log.Info().Msg("no previous runner found")
		return out
	}
	evt := s.d.Log.Info().Bool("ok", true).
		Str("hostname", out.Peer.Hostname).
		Str("address", out.Peer.Address())
	if out.Peer.LastSeen != nil {
		evt = evt.Time("last_seen", *out.Peer.LastSeen)
	}
	evt.Msg("previous runner found")
	return out
}

func (stage) Degraded() Result { return Result{} }

func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			out = append(out, tag)
		}
	}
	return out
}
