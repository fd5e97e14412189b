package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

// ============================================================================
// Queue
// ============================================================================

var (
	ErrNotInVoice      = errors.New("not in a voice channel")
	ErrNothingQueued   = errors.New("nothing queued for this server")
	ErrIndexOutOfRange = errors.New("no song at that queue position")
	ErrNoResults       = errors.New("no playable results for that query")
)

// SourceDescriptor carries what the transport needs to open a song. MediaURL
// is the direct stream link ytdlp extracted; it expires, so PageURL is kept
// around for re-resolution.
type SourceDescriptor struct {
	PageURL  string
	MediaURL string
}

type Song struct {
	Title    string
	URL      string
	Source   SourceDescriptor
	Duration time.Duration
}

// CurrentSong marks the queue slot the transport is playing right now.
// Generation increments on every committed playback change, which lets a
// completion callback for an older track be recognized and dropped.
type CurrentSong struct {
	Index      int
	Handle     TrackHandle
	Generation uint64
}

// GuildQueue is the per-guild playback state. All fields are guarded by mu;
// Player methods never hold mu across a transport or resolver call.
type GuildQueue struct {
	mu         sync.Mutex
	songs      []Song
	current    *CurrentSong
	loopSong   bool
	loopQueue  bool
	generation uint64
}

// QueueSnapshot is a point-in-time copy of a guild's queue, safe to read
// without holding any lock.
type QueueSnapshot struct {
	Songs     []Song
	Current   *CurrentSong
	LoopSong  bool
	LoopQueue bool
}

// QueueStore holds one GuildQueue per guild, created lazily on first touch.
type QueueStore struct {
	mu     sync.RWMutex
	queues map[snowflake.ID]*GuildQueue
}

func NewQueueStore() *QueueStore {
	return &QueueStore{
		queues: make(map[snowflake.ID]*GuildQueue),
	}
}

func (s *QueueStore) get(guildID snowflake.ID) *GuildQueue {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queues[guildID]
}

func (s *QueueStore) getOrCreate(guildID snowflake.ID) *GuildQueue {
	s.mu.RLock()
	q := s.queues[guildID]
	s.mu.RUnlock()
	if q != nil {
		return q
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if q = s.queues[guildID]; q == nil {
		q = &GuildQueue{}
		s.queues[guildID] = q
	}
	return q
}

// Snapshot returns a copy of the guild's queue state, or ok=false when the
// guild has never queued anything.
func (s *QueueStore) Snapshot(guildID snowflake.ID) (QueueSnapshot, bool) {
	q := s.get(guildID)
	if q == nil {
		return QueueSnapshot{}, false
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	snap := QueueSnapshot{
		Songs:     append([]Song(nil), q.songs...),
		LoopSong:  q.loopSong,
		LoopQueue: q.loopQueue,
	}
	if q.current != nil {
		cur := *q.current
		snap.Current = &cur
	}
	return snap, true
}

// ActiveGuilds counts guilds with a track currently playing.
func (s *QueueStore) ActiveGuilds() int {
	s.mu.RLock()
	queues := make([]*GuildQueue, 0, len(s.queues))
	for _, q := range s.queues {
		queues = append(queues, q)
	}
	s.mu.RUnlock()

	n := 0
	for _, q := range queues {
		q.mu.Lock()
		if q.current != nil {
			n++
		}
		q.mu.Unlock()
	}
	return n
}

// Remove drops the guild's queue entirely and returns its final state.
func (s *QueueStore) Remove(guildID snowflake.ID) *QueueSnapshot {
	s.mu.Lock()
	q := s.queues[guildID]
	delete(s.queues, guildID)
	s.mu.Unlock()

	if q == nil {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	snap := QueueSnapshot{
		Songs:     q.songs,
		Current:   q.current,
		LoopSong:  q.loopSong,
		LoopQueue: q.loopQueue,
	}
	// Empty the detached queue so an in-flight commit holding the old
	// pointer sees a rebuilt queue and backs off.
	q.songs = nil
	q.current = nil
	q.generation++
	return &snap
}

// ============================================================================
// Player
// ============================================================================

type AddOutcome int

const (
	AddedToQueue AddOutcome = iota
	NowPlaying
)

// AddSongResult reports what AddSong did: Song is the first song resolved,
// Count how many entries were queued, Outcome whether playback started.
type AddSongResult struct {
	Outcome AddOutcome
	Song    Song
	Count   int
}

// Player coordinates queue state with the transport and resolver. It is the
// only writer of GuildQueue.current.
type Player struct {
	store     *QueueStore
	displays  *DisplayStore
	transport Transport
	resolver  Resolver
}

func NewPlayer(store *QueueStore, displays *DisplayStore, transport Transport, resolver Resolver) *Player {
	return &Player{
		store:     store,
		displays:  displays,
		transport: transport,
		resolver:  resolver,
	}
}

func (p *Player) Store() *QueueStore {
	return p.store
}

// AddSong resolves query into one or more songs, appends them to the guild's
// queue and starts playback when nothing is playing. Resolution happens
// before any queue mutation, so a failed lookup leaves the queue untouched.
func (p *Player) AddSong(ctx context.Context, guildID snowflake.ID, query string, playlist bool) (*AddSongResult, error) {
	if !p.transport.Connected(guildID) {
		return nil, ErrNotInVoice
	}

	songs, err := p.resolver.Resolve(ctx, query, playlist)
	if err != nil {
		return nil, err
	}
	if len(songs) == 0 {
		return nil, ErrNoResults
	}

	q := p.store.getOrCreate(guildID)

	q.mu.Lock()
	if q.current != nil {
		q.songs = append(q.songs, songs...)
		q.mu.Unlock()
		return &AddSongResult{Outcome: AddedToQueue, Song: songs[0], Count: len(songs)}, nil
	}
	q.mu.Unlock()

	// Queue is idle: start the first song before committing anything, so a
	// transport failure leaves no half-applied state behind.
	handle, err := p.transport.Play(ctx, guildID, songs[0].Source)
	if err != nil {
		return nil, err
	}

	// Re-fetch: a concurrent reset may have replaced the queue object while
	// the track was starting.
	q = p.store.getOrCreate(guildID)
	q.mu.Lock()
	if q.current != nil {
		// Another add won the idle race. Keep its track, queue ours.
		q.songs = append(q.songs, songs...)
		q.mu.Unlock()
		if err := p.transport.Pause(handle); err != nil {
			LogQueue("Failed to stop redundant track in guild %s: %v", guildID, err)
		}
		return &AddSongResult{Outcome: AddedToQueue, Song: songs[0], Count: len(songs)}, nil
	}
	start := len(q.songs)
	q.songs = append(q.songs, songs...)
	q.generation++
	q.current = &CurrentSong{Index: start, Handle: handle, Generation: q.generation}
	q.mu.Unlock()

	p.displays.PushHistory(guildID, songs[0].Title, songs[0].URL)
	return &AddSongResult{Outcome: NowPlaying, Song: songs[0], Count: len(songs)}, nil
}

// PlayIndex jumps playback to the song at index. The previous track is
// paused best-effort; a pause failure is logged and playback moves on.
func (p *Player) PlayIndex(ctx context.Context, guildID snowflake.ID, index int) (Song, error) {
	q := p.store.get(guildID)
	if q == nil {
		return Song{}, ErrNothingQueued
	}

	q.mu.Lock()
	if index < 0 || index >= len(q.songs) {
		n := len(q.songs)
		q.mu.Unlock()
		return Song{}, fmt.Errorf("%w: position %d of %d", ErrIndexOutOfRange, index+1, n)
	}
	song := q.songs[index]
	var previous *TrackHandle
	if q.current != nil {
		h := q.current.Handle
		previous = &h
	}
	q.mu.Unlock()

	if previous != nil {
		if err := p.transport.Pause(*previous); err != nil {
			LogQueue("Failed to pause previous track in guild %s: %v", guildID, err)
		}
	}

	handle, err := p.transport.Play(ctx, guildID, song.Source)
	if err != nil {
		return Song{}, err
	}

	q.mu.Lock()
	if index >= len(q.songs) || q.songs[index] != song {
		// The queue was rebuilt while the track was starting. Drop the
		// orphaned track instead of pointing current at the wrong slot.
		q.mu.Unlock()
		if err := p.transport.Pause(handle); err != nil {
			LogQueue("Failed to stop orphaned track in guild %s: %v", guildID, err)
		}
		return Song{}, ErrIndexOutOfRange
	}
	q.generation++
	q.current = &CurrentSong{Index: index, Handle: handle, Generation: q.generation}
	q.mu.Unlock()

	p.displays.PushHistory(guildID, song.Title, song.URL)
	return song, nil
}

// Advance moves playback to whatever should come after the track identified
// by finished, honoring the loop flags. It is driven by track-end
// notifications; a stale handle (the queue already moved on) is a no-op.
// Returns the song that started, or nil when playback stopped.
func (p *Player) Advance(ctx context.Context, guildID snowflake.ID, finished TrackHandle) (*Song, error) {
	q := p.store.get(guildID)
	if q == nil {
		return nil, nil
	}

	q.mu.Lock()
	cur := q.current
	if cur == nil || cur.Handle != finished {
		q.mu.Unlock()
		return nil, nil
	}

	n := len(q.songs)
	target := cur.Index
	if !q.loopSong {
		target++
	}
	if q.loopQueue && n > 0 {
		target %= n
	}

	if target >= n {
		// Ran off the end: playback stops, queue contents stay put.
		q.generation++
		q.current = nil
		q.mu.Unlock()
		return nil, nil
	}

	song := q.songs[target]
	expected := q.generation
	q.mu.Unlock()

	handle, err := p.transport.Play(ctx, guildID, song.Source)
	if err != nil {
		return nil, err
	}

	q.mu.Lock()
	if q.generation != expected {
		// Something else (a jump, a reset) won the race while the next
		// track was starting. Its decision stands.
		q.mu.Unlock()
		if err := p.transport.Pause(handle); err != nil {
			LogQueue("Failed to stop superseded track in guild %s: %v", guildID, err)
		}
		return nil, nil
	}
	q.generation++
	q.current = &CurrentSong{Index: target, Handle: handle, Generation: q.generation}
	q.mu.Unlock()

	p.displays.PushHistory(guildID, song.Title, song.URL)
	return &song, nil
}

// Skip always moves forward, even when the current song is set to loop.
// With queue looping the skip wraps around; otherwise running off the end
// stops playback. Returns the song that started, or nil when nothing did.
func (p *Player) Skip(ctx context.Context, guildID snowflake.ID) (*Song, error) {
	q := p.store.get(guildID)
	if q == nil {
		return nil, ErrNothingQueued
	}

	q.mu.Lock()
	cur := q.current
	if cur == nil {
		q.mu.Unlock()
		return nil, ErrNothingQueued
	}
	finished := cur.Handle

	n := len(q.songs)
	target := cur.Index + 1
	if q.loopQueue && n > 0 {
		target %= n
	}

	if target >= n {
		q.generation++
		q.current = nil
		q.mu.Unlock()
		if err := p.transport.Pause(finished); err != nil {
			LogQueue("Failed to stop skipped track in guild %s: %v", guildID, err)
		}
		return nil, nil
	}
	q.mu.Unlock()

	song, err := p.PlayIndex(ctx, guildID, target)
	if err != nil {
		return nil, err
	}
	return &song, nil
}

// ToggleLoopSong flips single-song looping and returns the new value.
func (p *Player) ToggleLoopSong(guildID snowflake.ID) bool {
	q := p.store.getOrCreate(guildID)
	q.mu.Lock()
	defer q.mu.Unlock()
	q.loopSong = !q.loopSong
	return q.loopSong
}

// ToggleLoopQueue flips whole-queue looping and returns the new value.
func (p *Player) ToggleLoopQueue(guildID snowflake.ID) bool {
	q := p.store.getOrCreate(guildID)
	q.mu.Lock()
	defer q.mu.Unlock()
	q.loopQueue = !q.loopQueue
	return q.loopQueue
}

// Reset drops the guild's queue and stops whatever was playing. History and
// the status message location are deliberately left alone.
func (p *Player) Reset(guildID snowflake.ID) {
	prior := p.store.Remove(guildID)
	if prior != nil && prior.Current != nil {
		if err := p.transport.Pause(prior.Current.Handle); err != nil {
			LogQueue("Failed to stop track while resetting guild %s: %v", guildID, err)
		}
	}
}
