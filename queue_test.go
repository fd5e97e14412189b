package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

// ===========================
// Fakes
// ===========================

type fakeTransport struct {
	mu        sync.Mutex
	connected map[snowflake.ID]bool
	nextID    uint64
	playing   map[TrackHandle]SourceDescriptor
	paused    []TrackHandle
	playErr   error
	pauseErr  error
	onPlay    func() // runs between decide and commit, for race tests
	onEnd     []TrackEndFunc
	onError   []TrackErrorFunc
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		connected: map[snowflake.ID]bool{},
		playing:   map[TrackHandle]SourceDescriptor{},
	}
}

func (f *fakeTransport) Join(_ context.Context, guildID, _ snowflake.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected[guildID] = true
	return nil
}

func (f *fakeTransport) Leave(_ context.Context, guildID snowflake.ID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.connected, guildID)
}

func (f *fakeTransport) Connected(guildID snowflake.ID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected[guildID]
}

func (f *fakeTransport) ChannelID(guildID snowflake.ID) (snowflake.ID, bool) {
	return 0, f.Connected(guildID)
}

func (f *fakeTransport) Play(_ context.Context, guildID snowflake.ID, src SourceDescriptor) (TrackHandle, error) {
	f.mu.Lock()
	cb := f.onPlay
	if f.playErr != nil {
		err := f.playErr
		f.mu.Unlock()
		return TrackHandle{}, err
	}
	f.nextID++
	h := TrackHandle{GuildID: guildID, ID: f.nextID}
	f.playing[h] = src
	f.mu.Unlock()
	if cb != nil {
		cb()
	}
	return h, nil
}

func (f *fakeTransport) Pause(handle TrackHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pauseErr != nil {
		return f.pauseErr
	}
	delete(f.playing, handle)
	f.paused = append(f.paused, handle)
	return nil
}

func (f *fakeTransport) Position(_ context.Context, _ TrackHandle) (time.Duration, error) {
	return 42 * time.Second, nil
}

func (f *fakeTransport) OnTrackEnd(fn TrackEndFunc)     { f.onEnd = append(f.onEnd, fn) }
func (f *fakeTransport) OnTrackError(fn TrackErrorFunc) { f.onError = append(f.onError, fn) }

func (f *fakeTransport) pausedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.paused)
}

type fakeResolver struct {
	songs []Song
	err   error
}

func (f *fakeResolver) Resolve(_ context.Context, _ string, _ bool) ([]Song, error) {
	return f.songs, f.err
}

func (f *fakeResolver) MediaURL(_ context.Context, pageURL string) (string, error) {
	return pageURL, nil
}

func song(n int) Song {
	return Song{
		Title:    fmt.Sprintf("Song %d", n),
		URL:      fmt.Sprintf("https://example.com/watch?v=%d", n),
		Source:   SourceDescriptor{PageURL: fmt.Sprintf("https://example.com/watch?v=%d", n), MediaURL: fmt.Sprintf("https://cdn.example.com/%d", n)},
		Duration: 3 * time.Minute,
	}
}

func newTestPlayer(songs ...Song) (*Player, *fakeTransport, *DisplayStore) {
	transport := newFakeTransport()
	displays := NewDisplayStore(12)
	player := NewPlayer(NewQueueStore(), displays, transport, &fakeResolver{songs: songs})
	return player, transport, displays
}

const testGuild = snowflake.ID(1001)

// ===========================
// AddSong
// ===========================

func TestAddSongRequiresVoiceConnection(t *testing.T) {
	player, _, _ := newTestPlayer(song(1))

	_, err := player.AddSong(context.Background(), testGuild, "whatever", false)
	if !errors.Is(err, ErrNotInVoice) {
		t.Fatalf("err = %v, want ErrNotInVoice", err)
	}
}

func TestAddSongStartsPlaybackWhenIdle(t *testing.T) {
	player, transport, displays := newTestPlayer(song(1))
	_ = transport.Join(context.Background(), testGuild, 2002)

	res, err := player.AddSong(context.Background(), testGuild, "song one", false)
	if err != nil {
		t.Fatalf("AddSong: %v", err)
	}
	if res.Outcome != NowPlaying {
		t.Errorf("Outcome = %v, want NowPlaying", res.Outcome)
	}
	if res.Song.Title != "Song 1" {
		t.Errorf("Song.Title = %q, want %q", res.Song.Title, "Song 1")
	}

	snap, ok := player.Store().Snapshot(testGuild)
	if !ok || snap.Current == nil {
		t.Fatalf("expected a current song after idle AddSong")
	}
	if snap.Current.Index != 0 {
		t.Errorf("Current.Index = %d, want 0", snap.Current.Index)
	}

	history := displays.History(testGuild)
	if len(history) != 1 || history[0].Title != "Song 1" {
		t.Errorf("history = %v, want one entry for Song 1", history)
	}
}

func TestAddSongAppendsWhilePlaying(t *testing.T) {
	player, transport, displays := newTestPlayer(song(1))
	_ = transport.Join(context.Background(), testGuild, 2002)
	if _, err := player.AddSong(context.Background(), testGuild, "first", false); err != nil {
		t.Fatalf("AddSong: %v", err)
	}

	player.resolver = &fakeResolver{songs: []Song{song(2)}}
	res, err := player.AddSong(context.Background(), testGuild, "second", false)
	if err != nil {
		t.Fatalf("AddSong: %v", err)
	}
	if res.Outcome != AddedToQueue {
		t.Errorf("Outcome = %v, want AddedToQueue", res.Outcome)
	}

	snap, _ := player.Store().Snapshot(testGuild)
	if len(snap.Songs) != 2 {
		t.Errorf("queue length = %d, want 2", len(snap.Songs))
	}
	if snap.Current == nil || snap.Current.Index != 0 {
		t.Errorf("current should still be the first song")
	}
	if got := len(displays.History(testGuild)); got != 1 {
		t.Errorf("history length = %d, want 1 (queued songs are not history yet)", got)
	}
}

func TestAddSongPlaylistCountsAllEntries(t *testing.T) {
	player, transport, _ := newTestPlayer(song(1), song(2), song(3))
	_ = transport.Join(context.Background(), testGuild, 2002)

	res, err := player.AddSong(context.Background(), testGuild, "https://example.com/playlist?list=x", true)
	if err != nil {
		t.Fatalf("AddSong: %v", err)
	}
	if res.Count != 3 {
		t.Errorf("Count = %d, want 3", res.Count)
	}
	snap, _ := player.Store().Snapshot(testGuild)
	if len(snap.Songs) != 3 {
		t.Errorf("queue length = %d, want 3", len(snap.Songs))
	}
}

func TestAddSongResolverFailureLeavesQueueUntouched(t *testing.T) {
	player, transport, _ := newTestPlayer()
	_ = transport.Join(context.Background(), testGuild, 2002)
	player.resolver = &fakeResolver{err: errors.New("boom")}

	if _, err := player.AddSong(context.Background(), testGuild, "q", false); err == nil {
		t.Fatalf("expected error")
	}
	if _, ok := player.Store().Snapshot(testGuild); ok {
		t.Errorf("queue should not exist after a failed resolve")
	}
}

func TestAddSongNoResults(t *testing.T) {
	player, transport, _ := newTestPlayer()
	_ = transport.Join(context.Background(), testGuild, 2002)

	_, err := player.AddSong(context.Background(), testGuild, "q", false)
	if !errors.Is(err, ErrNoResults) {
		t.Fatalf("err = %v, want ErrNoResults", err)
	}
}

func TestAddSongTransportFailureCommitsNothing(t *testing.T) {
	player, transport, displays := newTestPlayer(song(1))
	_ = transport.Join(context.Background(), testGuild, 2002)
	transport.playErr = errors.New("stream refused")

	if _, err := player.AddSong(context.Background(), testGuild, "q", false); err == nil {
		t.Fatalf("expected error")
	}
	if snap, ok := player.Store().Snapshot(testGuild); ok && (len(snap.Songs) != 0 || snap.Current != nil) {
		t.Errorf("queue mutated despite transport failure: %+v", snap)
	}
	if got := len(displays.History(testGuild)); got != 0 {
		t.Errorf("history length = %d, want 0", got)
	}
}

// ===========================
// PlayIndex
// ===========================

func seedQueue(t *testing.T, player *Player, transport *fakeTransport, songs ...Song) {
	t.Helper()
	_ = transport.Join(context.Background(), testGuild, 2002)
	player.resolver = &fakeResolver{songs: songs}
	if _, err := player.AddSong(context.Background(), testGuild, "seed", true); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestPlayIndexJumpsAndPausesPrevious(t *testing.T) {
	player, transport, _ := newTestPlayer()
	seedQueue(t, player, transport, song(1), song(2), song(3))

	got, err := player.PlayIndex(context.Background(), testGuild, 2)
	if err != nil {
		t.Fatalf("PlayIndex: %v", err)
	}
	if got.Title != "Song 3" {
		t.Errorf("Title = %q, want %q", got.Title, "Song 3")
	}
	if transport.pausedCount() != 1 {
		t.Errorf("paused = %d, want 1 (the previous track)", transport.pausedCount())
	}
	snap, _ := player.Store().Snapshot(testGuild)
	if snap.Current == nil || snap.Current.Index != 2 {
		t.Errorf("Current.Index = %+v, want 2", snap.Current)
	}
}

func TestPlayIndexOutOfRange(t *testing.T) {
	player, transport, _ := newTestPlayer()
	seedQueue(t, player, transport, song(1), song(2))

	for _, idx := range []int{-1, 2, 99} {
		if _, err := player.PlayIndex(context.Background(), testGuild, idx); !errors.Is(err, ErrIndexOutOfRange) {
			t.Errorf("PlayIndex(%d) err = %v, want ErrIndexOutOfRange", idx, err)
		}
	}
}

func TestPlayIndexNothingQueued(t *testing.T) {
	player, _, _ := newTestPlayer()
	if _, err := player.PlayIndex(context.Background(), testGuild, 0); !errors.Is(err, ErrNothingQueued) {
		t.Fatalf("err = %v, want ErrNothingQueued", err)
	}
}

func TestPlayIndexContinuesWhenPauseFails(t *testing.T) {
	player, transport, _ := newTestPlayer()
	seedQueue(t, player, transport, song(1), song(2))
	transport.pauseErr = errors.New("connection reset")

	got, err := player.PlayIndex(context.Background(), testGuild, 1)
	if err != nil {
		t.Fatalf("PlayIndex should survive a pause failure, got %v", err)
	}
	if got.Title != "Song 2" {
		t.Errorf("Title = %q, want %q", got.Title, "Song 2")
	}
}

func TestPlayIndexDropsOrphanWhenQueueRebuilt(t *testing.T) {
	player, transport, _ := newTestPlayer()
	seedQueue(t, player, transport, song(1), song(2))

	// Reset the guild between the transport call and the commit.
	transport.onPlay = func() {
		transport.onPlay = nil
		player.Reset(testGuild)
	}

	if _, err := player.PlayIndex(context.Background(), testGuild, 1); !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("err = %v, want ErrIndexOutOfRange after concurrent rebuild", err)
	}
	if snap, ok := player.Store().Snapshot(testGuild); ok && snap.Current != nil {
		t.Errorf("orphaned track became current: %+v", snap.Current)
	}
}

// ===========================
// Advance
// ===========================

func currentHandle(t *testing.T, player *Player) TrackHandle {
	t.Helper()
	snap, ok := player.Store().Snapshot(testGuild)
	if !ok || snap.Current == nil {
		t.Fatalf("no current song")
	}
	return snap.Current.Handle
}

func TestAdvanceMovesToNextSong(t *testing.T) {
	player, transport, _ := newTestPlayer()
	seedQueue(t, player, transport, song(1), song(2))

	next, err := player.Advance(context.Background(), testGuild, currentHandle(t, player))
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if next == nil || next.Title != "Song 2" {
		t.Fatalf("next = %+v, want Song 2", next)
	}
}

func TestAdvanceLoopSongRepeats(t *testing.T) {
	player, transport, _ := newTestPlayer()
	seedQueue(t, player, transport, song(1), song(2))
	player.ToggleLoopSong(testGuild)

	next, err := player.Advance(context.Background(), testGuild, currentHandle(t, player))
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if next == nil || next.Title != "Song 1" {
		t.Fatalf("next = %+v, want Song 1 again", next)
	}
	snap, _ := player.Store().Snapshot(testGuild)
	if snap.Current.Index != 0 {
		t.Errorf("Current.Index = %d, want 0", snap.Current.Index)
	}
}

func TestAdvanceLoopQueueWrapsAround(t *testing.T) {
	player, transport, _ := newTestPlayer()
	seedQueue(t, player, transport, song(1), song(2))
	player.ToggleLoopQueue(testGuild)

	if _, err := player.Advance(context.Background(), testGuild, currentHandle(t, player)); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	next, err := player.Advance(context.Background(), testGuild, currentHandle(t, player))
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if next == nil || next.Title != "Song 1" {
		t.Fatalf("next = %+v, want wrap to Song 1", next)
	}
}

func TestAdvanceStopsAtEndOfQueue(t *testing.T) {
	player, transport, _ := newTestPlayer()
	seedQueue(t, player, transport, song(1))

	next, err := player.Advance(context.Background(), testGuild, currentHandle(t, player))
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if next != nil {
		t.Fatalf("next = %+v, want nil at end of queue", next)
	}
	snap, _ := player.Store().Snapshot(testGuild)
	if snap.Current != nil {
		t.Errorf("Current = %+v, want nil", snap.Current)
	}
	if len(snap.Songs) != 1 {
		t.Errorf("queue contents should survive running off the end")
	}
}

func TestAdvanceLoopSongBeatsLoopQueue(t *testing.T) {
	player, transport, _ := newTestPlayer()
	seedQueue(t, player, transport, song(1), song(2))
	player.ToggleLoopSong(testGuild)
	player.ToggleLoopQueue(testGuild)

	next, err := player.Advance(context.Background(), testGuild, currentHandle(t, player))
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if next == nil || next.Title != "Song 1" {
		t.Fatalf("next = %+v, want the same song with both loops on", next)
	}
}

func TestAdvanceIgnoresStaleHandle(t *testing.T) {
	player, transport, _ := newTestPlayer()
	seedQueue(t, player, transport, song(1), song(2))
	stale := TrackHandle{GuildID: testGuild, ID: 9999}

	next, err := player.Advance(context.Background(), testGuild, stale)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if next != nil {
		t.Fatalf("stale handle advanced the queue")
	}
	snap, _ := player.Store().Snapshot(testGuild)
	if snap.Current == nil || snap.Current.Index != 0 {
		t.Errorf("current changed on stale handle: %+v", snap.Current)
	}
}

func TestAdvanceUnknownGuildIsNoop(t *testing.T) {
	player, _, _ := newTestPlayer()
	next, err := player.Advance(context.Background(), testGuild, TrackHandle{GuildID: testGuild, ID: 1})
	if err != nil || next != nil {
		t.Fatalf("Advance on unknown guild = (%v, %v), want (nil, nil)", next, err)
	}
}

func TestAdvanceSupersededByConcurrentJump(t *testing.T) {
	player, transport, _ := newTestPlayer()
	seedQueue(t, player, transport, song(1), song(2), song(3))
	finished := currentHandle(t, player)

	// A jump lands while the advance target is starting.
	transport.onPlay = func() {
		transport.onPlay = nil
		if _, err := player.PlayIndex(context.Background(), testGuild, 2); err != nil {
			t.Errorf("concurrent PlayIndex: %v", err)
		}
	}

	next, err := player.Advance(context.Background(), testGuild, finished)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if next != nil {
		t.Fatalf("superseded advance still committed: %+v", next)
	}
	snap, _ := player.Store().Snapshot(testGuild)
	if snap.Current == nil || snap.Current.Index != 2 {
		t.Errorf("Current.Index = %+v, want the jump's target 2", snap.Current)
	}
}

// ===========================
// Skip
// ===========================

func TestSkipIgnoresLoopSong(t *testing.T) {
	player, transport, _ := newTestPlayer()
	seedQueue(t, player, transport, song(1), song(2))
	player.ToggleLoopSong(testGuild)

	next, err := player.Skip(context.Background(), testGuild)
	if err != nil {
		t.Fatalf("Skip: %v", err)
	}
	if next == nil || next.Title != "Song 2" {
		t.Fatalf("next = %+v, want Song 2 despite song loop", next)
	}
}

func TestSkipWrapsWithLoopQueue(t *testing.T) {
	player, transport, _ := newTestPlayer()
	seedQueue(t, player, transport, song(1))
	player.ToggleLoopQueue(testGuild)

	next, err := player.Skip(context.Background(), testGuild)
	if err != nil {
		t.Fatalf("Skip: %v", err)
	}
	if next == nil || next.Title != "Song 1" {
		t.Fatalf("next = %+v, want wrap to Song 1", next)
	}
}

func TestSkipAtEndStopsPlayback(t *testing.T) {
	player, transport, _ := newTestPlayer()
	seedQueue(t, player, transport, song(1))

	next, err := player.Skip(context.Background(), testGuild)
	if err != nil {
		t.Fatalf("Skip: %v", err)
	}
	if next != nil {
		t.Fatalf("next = %+v, want nil", next)
	}
	if transport.pausedCount() != 1 {
		t.Errorf("paused = %d, want the skipped track stopped", transport.pausedCount())
	}
	snap, _ := player.Store().Snapshot(testGuild)
	if snap.Current != nil {
		t.Errorf("Current = %+v, want nil", snap.Current)
	}
}

func TestSkipNothingPlaying(t *testing.T) {
	player, _, _ := newTestPlayer()
	if _, err := player.Skip(context.Background(), testGuild); !errors.Is(err, ErrNothingQueued) {
		t.Fatalf("err = %v, want ErrNothingQueued", err)
	}
}

// ===========================
// Reset
// ===========================

func TestResetStopsPlaybackAndDropsQueue(t *testing.T) {
	player, transport, displays := newTestPlayer()
	seedQueue(t, player, transport, song(1), song(2))
	displays.SetStatus(testGuild, MsgLocation{ChannelID: 1, MessageID: 2})

	player.Reset(testGuild)

	if _, ok := player.Store().Snapshot(testGuild); ok {
		t.Errorf("queue survived Reset")
	}
	if transport.pausedCount() != 1 {
		t.Errorf("paused = %d, want the playing track stopped", transport.pausedCount())
	}
	if got := len(displays.History(testGuild)); got != 1 {
		t.Errorf("history length = %d, Reset must not touch history", got)
	}
	if _, ok := displays.Status(testGuild); !ok {
		t.Errorf("Reset must not clear the status message location")
	}
}

func TestResetUnknownGuildIsNoop(t *testing.T) {
	player, transport, _ := newTestPlayer()
	player.Reset(testGuild)
	if transport.pausedCount() != 0 {
		t.Errorf("paused = %d, want 0", transport.pausedCount())
	}
}

// ===========================
// Loop Toggles
// ===========================

func TestLoopToggles(t *testing.T) {
	player, _, _ := newTestPlayer()

	if !player.ToggleLoopSong(testGuild) {
		t.Errorf("first ToggleLoopSong = false, want true")
	}
	if player.ToggleLoopSong(testGuild) {
		t.Errorf("second ToggleLoopSong = true, want false")
	}
	if !player.ToggleLoopQueue(testGuild) {
		t.Errorf("first ToggleLoopQueue = false, want true")
	}
	if player.ToggleLoopQueue(testGuild) {
		t.Errorf("second ToggleLoopQueue = true, want false")
	}
}

// ===========================
// Store
// ===========================

func TestActiveGuildsCountsPlayingOnly(t *testing.T) {
	player, transport, _ := newTestPlayer()
	seedQueue(t, player, transport, song(1))

	if got := player.Store().ActiveGuilds(); got != 1 {
		t.Errorf("ActiveGuilds = %d, want 1", got)
	}
	if _, err := player.Advance(context.Background(), testGuild, currentHandle(t, player)); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if got := player.Store().ActiveGuilds(); got != 0 {
		t.Errorf("ActiveGuilds = %d, want 0 after playback ended", got)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	player, transport, _ := newTestPlayer()
	seedQueue(t, player, transport, song(1), song(2))

	snap, _ := player.Store().Snapshot(testGuild)
	snap.Songs[0].Title = "mutated"

	again, _ := player.Store().Snapshot(testGuild)
	if again.Songs[0].Title != "Song 1" {
		t.Errorf("snapshot mutation leaked into the store")
	}
}
