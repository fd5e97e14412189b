package main

import (
	"context"

	"github.com/disgoorg/snowflake/v2"
)

// ============================================================================
// Track Notifier
// ============================================================================

// TrackNotifier bridges transport track lifecycle events back into the
// player. End events drive queue advancement; error events are only logged,
// the transport raises a separate end event when the track actually stops.
type TrackNotifier struct {
	player *Player
}

func AttachTrackNotifier(transport Transport, player *Player) *TrackNotifier {
	n := &TrackNotifier{player: player}
	transport.OnTrackEnd(n.handleTrackEnd)
	transport.OnTrackError(n.handleTrackError)
	return n
}

func (n *TrackNotifier) handleTrackEnd(guildID snowflake.ID, handle TrackHandle) {
	next, err := n.player.Advance(context.Background(), guildID, handle)
	if err != nil {
		LogQueue("Failed to advance queue in guild %s: %v", guildID, err)
		return
	}
	if next != nil {
		LogQueue("Now playing in guild %s: %s", guildID, next.Title)
	}
}

func (n *TrackNotifier) handleTrackError(guildID snowflake.ID, handle TrackHandle, trackErr error) {
	LogVoice("Track %s in guild %s reported an error: %v", handle, guildID, trackErr)
}
