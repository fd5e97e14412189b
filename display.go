package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/snowflake/v2"
	"golang.org/x/time/rate"
)

// ============================================================================
// Display
// ============================================================================

const (
	statusRefreshPeriod = 2 * time.Second
	statusRefreshBudget = 5 * time.Second
	statusSleepCap      = 1500 * time.Millisecond

	MsgStatusNothingPlaying = "**Nothing playing right now.**"
	MsgStatusNotInChannel   = "**I'm not in a voice channel.**"
)

// MsgLocation identifies one Discord message.
type MsgLocation struct {
	ChannelID snowflake.ID
	MessageID snowflake.ID
}

type HistoryEntry struct {
	Title string
	URL   string
}

// serverDisplay is the per-guild display state: where the status message
// lives (if anywhere) and what played recently. Unlike the queue it is never
// removed on leave; history outlives voice sessions.
type serverDisplay struct {
	mu      sync.Mutex
	status  *MsgLocation
	history []HistoryEntry
}

// DisplayStore tracks status message locations and play history per guild.
type DisplayStore struct {
	mu         sync.RWMutex
	displays   map[snowflake.ID]*serverDisplay
	maxHistory int
}

func NewDisplayStore(maxHistory int) *DisplayStore {
	if maxHistory <= 0 {
		maxHistory = 12
	}
	return &DisplayStore{
		displays:   make(map[snowflake.ID]*serverDisplay),
		maxHistory: maxHistory,
	}
}

func (s *DisplayStore) getOrCreate(guildID snowflake.ID) *serverDisplay {
	s.mu.RLock()
	d := s.displays[guildID]
	s.mu.RUnlock()
	if d != nil {
		return d
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if d = s.displays[guildID]; d == nil {
		d = &serverDisplay{}
		s.displays[guildID] = d
	}
	return d
}

// PushHistory records a song at the head of the guild's recently-played
// list, evicting the oldest entry past the cap.
func (s *DisplayStore) PushHistory(guildID snowflake.ID, title, url string) {
	d := s.getOrCreate(guildID)
	d.mu.Lock()
	defer d.mu.Unlock()

	d.history = append([]HistoryEntry{{Title: title, URL: url}}, d.history...)
	if len(d.history) > s.maxHistory {
		d.history = d.history[:s.maxHistory]
	}
}

// History returns a copy of the guild's recently-played list, newest first.
func (s *DisplayStore) History(guildID snowflake.ID) []HistoryEntry {
	s.mu.RLock()
	d := s.displays[guildID]
	s.mu.RUnlock()
	if d == nil {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]HistoryEntry(nil), d.history...)
}

// SetStatus points the guild's live status display at a message.
func (s *DisplayStore) SetStatus(guildID snowflake.ID, loc MsgLocation) {
	d := s.getOrCreate(guildID)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status = &loc
}

func (s *DisplayStore) Status(guildID snowflake.ID) (MsgLocation, bool) {
	s.mu.RLock()
	d := s.displays[guildID]
	s.mu.RUnlock()
	if d == nil {
		return MsgLocation{}, false
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status == nil {
		return MsgLocation{}, false
	}
	return *d.status, true
}

func (s *DisplayStore) ClearStatus(guildID snowflake.ID) {
	s.mu.RLock()
	d := s.displays[guildID]
	s.mu.RUnlock()
	if d == nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.status = nil
}

// GuildsWithStatus lists the guilds that currently have a status message to
// keep fresh.
func (s *DisplayStore) GuildsWithStatus() []snowflake.ID {
	s.mu.RLock()
	candidates := make([]*serverDisplay, 0, len(s.displays))
	ids := make([]snowflake.ID, 0, len(s.displays))
	for id, d := range s.displays {
		candidates = append(candidates, d)
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	var out []snowflake.ID
	for i, d := range candidates {
		d.mu.Lock()
		if d.status != nil {
			out = append(out, ids[i])
		}
		d.mu.Unlock()
	}
	return out
}

// ============================================================================
// Status Content
// ============================================================================

// cleanSongTitle swaps square brackets for parens so titles survive being
// embedded in markdown links.
func cleanSongTitle(title string) string {
	title = strings.ReplaceAll(title, "[", "(")
	return strings.ReplaceAll(title, "]", ")")
}

func buildHistorySection(history []HistoryEntry) string {
	if len(history) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("**Previously played:**\n")
	for _, e := range history {
		fmt.Fprintf(&b, "- [%s](%s)\n", cleanSongTitle(e.Title), e.URL)
	}
	return b.String()
}

func buildNowPlayingSection(snap *QueueSnapshot, position *time.Duration, connected bool) string {
	if !connected {
		return MsgStatusNotInChannel
	}
	if snap == nil || snap.Current == nil || snap.Current.Index >= len(snap.Songs) {
		return MsgStatusNothingPlaying
	}

	song := snap.Songs[snap.Current.Index]
	pos := "?:??"
	if position != nil {
		pos = FormatDuration(*position)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**Now playing:**\n[%s](%s)\n`%s / %s`", cleanSongTitle(song.Title), song.URL, pos, FormatDuration(song.Duration))

	if snap.LoopSong {
		b.WriteString("\n-# Looping this song")
	} else if snap.LoopQueue {
		b.WriteString("\n-# Looping the queue")
	}

	upNext := buildUpNextSection(snap)
	if upNext != "" {
		b.WriteString("\n\n")
		b.WriteString(upNext)
	}
	return b.String()
}

func buildUpNextSection(snap *QueueSnapshot) string {
	if snap.Current == nil || snap.Current.Index+1 >= len(snap.Songs) {
		return ""
	}
	var b strings.Builder
	b.WriteString("**Up next:**\n")
	for i, song := range snap.Songs[snap.Current.Index+1:] {
		fmt.Fprintf(&b, "%d. [%s](%s) `%s`\n", i+1, cleanSongTitle(song.Title), song.URL, FormatDuration(song.Duration))
	}
	return b.String()
}

// BuildStatusContainer renders the full status message for a guild.
func BuildStatusContainer(guildName string, history []HistoryEntry, snap *QueueSnapshot, position *time.Duration, connected bool) Container {
	header := fmt.Sprintf("### Welcome to the %s-Radio!\n-# Use `/radio play` to queue a song.", guildName)

	parts := []interface{}{NewTextDisplay(header)}
	if hist := buildHistorySection(history); hist != "" {
		parts = append(parts, NewSeparator(true), NewTextDisplay(hist))
	}
	parts = append(parts, NewSeparator(true), NewTextDisplay(buildNowPlayingSection(snap, position, connected)))

	return NewV2Container(parts...)
}

// ============================================================================
// Status Surface
// ============================================================================

// Surface is the edge through which status messages reach Discord.
type Surface interface {
	EditStatus(ctx context.Context, loc MsgLocation, container Container) error
}

type restSurface struct {
	client  bot.Client
	limiter *rate.Limiter
}

func NewRestSurface(client bot.Client) Surface {
	return &restSurface{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(4), 8),
	}
}

func (s *restSurface) EditStatus(ctx context.Context, loc MsgLocation, container Container) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := EditContainerV2(s.client, loc.ChannelID, loc.MessageID, container)
	return err
}

// ============================================================================
// Status Refresher
// ============================================================================

// StatusRefresher is the daemon that keeps every guild's status message
// current. Each pass over all guilds runs under a hard budget so one slow
// REST call cannot wedge the loop.
type StatusRefresher struct {
	client    bot.Client
	player    *Player
	displays  *DisplayStore
	transport Transport
	surface   Surface
}

func NewStatusRefresher(client bot.Client, player *Player, displays *DisplayStore, transport Transport, surface Surface) *StatusRefresher {
	return &StatusRefresher{
		client:    client,
		player:    player,
		displays:  displays,
		transport: transport,
		surface:   surface,
	}
}

// Start follows the daemon starter contract.
func (r *StatusRefresher) Start(ctx context.Context) (bool, func(), func()) {
	run := func() {
		for {
			began := time.Now()

			cycleCtx, cancel := context.WithTimeout(ctx, statusRefreshBudget)
			r.refreshAll(cycleCtx)
			cancel()

			sleep := statusRefreshPeriod - time.Since(began)
			if sleep < 0 {
				sleep = 0
			}
			if sleep > statusSleepCap {
				sleep = statusSleepCap
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(sleep):
			}
		}
	}
	return true, run, nil
}

func (r *StatusRefresher) refreshAll(ctx context.Context) {
	for _, guildID := range r.displays.GuildsWithStatus() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		r.refreshGuild(ctx, guildID)
	}
}

func (r *StatusRefresher) refreshGuild(ctx context.Context, guildID snowflake.ID) {
	loc, ok := r.displays.Status(guildID)
	if !ok {
		return
	}

	guildName := "Server"
	if r.client.Caches != nil {
		if guild, found := r.client.Caches.Guild(guildID); found {
			guildName = guild.Name
		}
	}

	connected := r.transport.Connected(guildID)

	var snapRef *QueueSnapshot
	snap, haveQueue := r.player.Store().Snapshot(guildID)
	if haveQueue {
		snapRef = &snap
	}

	var position *time.Duration
	if connected && snapRef != nil && snapRef.Current != nil {
		handle := snapRef.Current.Handle
		pos, err := TryCallHanging(ctx, DefaultCallAttempts, DefaultCallTimeout, func(callCtx context.Context) (time.Duration, error) {
			return r.transport.Position(callCtx, handle)
		})
		if err != nil {
			LogStatus("Could not read track position in guild %s: %v", guildID, err)
		} else {
			position = &pos
		}
	}

	container := BuildStatusContainer(guildName, r.displays.History(guildID), snapRef, position, connected)

	if err := r.surface.EditStatus(ctx, loc, container); err != nil {
		// The message was probably deleted; forget it and stop refreshing
		// until a new one is posted.
		LogStatus("Lost track of the status message in guild %s: %v", guildID, err)
		r.displays.ClearStatus(guildID)
		return
	}

	if !connected {
		// One final "not in a voice channel" edit, then go quiet.
		r.displays.ClearStatus(guildID)
	}
}
