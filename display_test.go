package main

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/snowflake/v2"
)

// ===========================
// Display Store
// ===========================

func TestPushHistoryNewestFirstWithCap(t *testing.T) {
	s := NewDisplayStore(3)
	for _, title := range []string{"a", "b", "c", "d"} {
		s.PushHistory(testGuild, title, "https://example.com/"+title)
	}

	history := s.History(testGuild)
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3", len(history))
	}
	want := []string{"d", "c", "b"}
	for i, entry := range history {
		if entry.Title != want[i] {
			t.Errorf("history[%d].Title = %q, want %q", i, entry.Title, want[i])
		}
	}
}

func TestHistoryIsGuildScoped(t *testing.T) {
	s := NewDisplayStore(5)
	s.PushHistory(1, "one", "u1")
	s.PushHistory(2, "two", "u2")

	if got := s.History(1); len(got) != 1 || got[0].Title != "one" {
		t.Errorf("guild 1 history = %v", got)
	}
	if got := s.History(2); len(got) != 1 || got[0].Title != "two" {
		t.Errorf("guild 2 history = %v", got)
	}
	if got := s.History(3); got != nil {
		t.Errorf("guild 3 history = %v, want nil", got)
	}
}

func TestStatusLifecycle(t *testing.T) {
	s := NewDisplayStore(5)
	if _, ok := s.Status(testGuild); ok {
		t.Fatalf("fresh store should have no status")
	}

	loc := MsgLocation{ChannelID: 10, MessageID: 20}
	s.SetStatus(testGuild, loc)
	got, ok := s.Status(testGuild)
	if !ok || got != loc {
		t.Fatalf("Status = (%v, %v), want (%v, true)", got, ok, loc)
	}

	s.ClearStatus(testGuild)
	if _, ok := s.Status(testGuild); ok {
		t.Errorf("status survived ClearStatus")
	}
}

func TestGuildsWithStatus(t *testing.T) {
	s := NewDisplayStore(5)
	s.SetStatus(1, MsgLocation{ChannelID: 1, MessageID: 1})
	s.SetStatus(2, MsgLocation{ChannelID: 2, MessageID: 2})
	s.PushHistory(3, "no status here", "u")
	s.ClearStatus(2)

	got := s.GuildsWithStatus()
	if len(got) != 1 || got[0] != snowflake.ID(1) {
		t.Errorf("GuildsWithStatus = %v, want [1]", got)
	}
}

// ===========================
// Content Builders
// ===========================

func TestCleanSongTitle(t *testing.T) {
	got := cleanSongTitle("[Official Video] Song [HD]")
	want := "(Official Video) Song (HD)"
	if got != want {
		t.Errorf("cleanSongTitle = %q, want %q", got, want)
	}
}

func TestBuildNowPlayingDisconnected(t *testing.T) {
	got := buildNowPlayingSection(nil, nil, false)
	if got != MsgStatusNotInChannel {
		t.Errorf("section = %q, want %q", got, MsgStatusNotInChannel)
	}
}

func TestBuildNowPlayingIdle(t *testing.T) {
	snap := &QueueSnapshot{Songs: []Song{song(1)}}
	got := buildNowPlayingSection(snap, nil, true)
	if got != MsgStatusNothingPlaying {
		t.Errorf("section = %q, want %q", got, MsgStatusNothingPlaying)
	}
}

func TestBuildNowPlayingUnknownPosition(t *testing.T) {
	snap := &QueueSnapshot{
		Songs:   []Song{song(1)},
		Current: &CurrentSong{Index: 0},
	}
	got := buildNowPlayingSection(snap, nil, true)
	if !strings.Contains(got, "?:??") {
		t.Errorf("section %q should fall back to ?:?? without a position", got)
	}
}

func TestBuildNowPlayingWithLoopAndUpNext(t *testing.T) {
	pos := 95 * time.Second
	snap := &QueueSnapshot{
		Songs:    []Song{song(1), song(2)},
		Current:  &CurrentSong{Index: 0},
		LoopSong: true,
	}
	got := buildNowPlayingSection(snap, &pos, true)

	if !strings.Contains(got, "1:35 / 3:00") {
		t.Errorf("section %q should contain the formatted position", got)
	}
	if !strings.Contains(got, "Looping this song") {
		t.Errorf("section %q should show the song loop flag", got)
	}
	if !strings.Contains(got, "Up next:") || !strings.Contains(got, "Song 2") {
		t.Errorf("section %q should list the upcoming song", got)
	}
}

func TestBuildHistorySection(t *testing.T) {
	if got := buildHistorySection(nil); got != "" {
		t.Errorf("empty history should render nothing, got %q", got)
	}
	got := buildHistorySection([]HistoryEntry{{Title: "A [live]", URL: "https://e.com/a"}})
	if !strings.Contains(got, "[A (live)](https://e.com/a)") {
		t.Errorf("history section = %q", got)
	}
}

func TestBuildStatusContainerHeader(t *testing.T) {
	container := BuildStatusContainer("Testers", nil, nil, nil, false)
	if len(container.Components) == 0 {
		t.Fatalf("container has no components")
	}
	text, ok := container.Components[0].(TextDisplay)
	if !ok {
		t.Fatalf("first component = %T, want TextDisplay", container.Components[0])
	}
	if !strings.Contains(text.Content, "Testers-Radio") {
		t.Errorf("header = %q, want the guild name in it", text.Content)
	}
}

// ===========================
// Refresher
// ===========================

type fakeSurface struct {
	mu    sync.Mutex
	edits []MsgLocation
	err   error
}

func (f *fakeSurface) EditStatus(_ context.Context, loc MsgLocation, _ Container) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.edits = append(f.edits, loc)
	return nil
}

func (f *fakeSurface) editCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.edits)
}

func newTestRefresher(surface Surface) (*StatusRefresher, *fakeTransport, *DisplayStore) {
	transport := newFakeTransport()
	displays := NewDisplayStore(12)
	player := NewPlayer(NewQueueStore(), displays, transport, &fakeResolver{})
	return NewStatusRefresher(bot.Client{}, player, displays, transport, surface), transport, displays
}

func TestRefreshGuildEditsTrackedMessage(t *testing.T) {
	surface := &fakeSurface{}
	refresher, transport, displays := newTestRefresher(surface)
	_ = transport.Join(context.Background(), testGuild, 2002)
	displays.SetStatus(testGuild, MsgLocation{ChannelID: 5, MessageID: 6})

	refresher.refreshGuild(context.Background(), testGuild)

	if surface.editCount() != 1 {
		t.Fatalf("edits = %d, want 1", surface.editCount())
	}
	if _, ok := displays.Status(testGuild); !ok {
		t.Errorf("status cleared despite a successful edit while connected")
	}
}

func TestRefreshGuildClearsStatusOnEditFailure(t *testing.T) {
	surface := &fakeSurface{err: errors.New("404 unknown message")}
	refresher, transport, displays := newTestRefresher(surface)
	_ = transport.Join(context.Background(), testGuild, 2002)
	displays.SetStatus(testGuild, MsgLocation{ChannelID: 5, MessageID: 6})

	refresher.refreshGuild(context.Background(), testGuild)

	if _, ok := displays.Status(testGuild); ok {
		t.Errorf("status should be forgotten after an edit failure")
	}
}

func TestRefreshGuildClearsStatusAfterFinalDisconnectedEdit(t *testing.T) {
	surface := &fakeSurface{}
	refresher, _, displays := newTestRefresher(surface)
	displays.SetStatus(testGuild, MsgLocation{ChannelID: 5, MessageID: 6})

	refresher.refreshGuild(context.Background(), testGuild)

	if surface.editCount() != 1 {
		t.Fatalf("edits = %d, want one final edit while disconnected", surface.editCount())
	}
	if _, ok := displays.Status(testGuild); ok {
		t.Errorf("status should go quiet after the disconnected edit")
	}
}

func TestRefreshGuildNoStatusIsNoop(t *testing.T) {
	surface := &fakeSurface{}
	refresher, _, _ := newTestRefresher(surface)

	refresher.refreshGuild(context.Background(), testGuild)

	if surface.editCount() != 0 {
		t.Errorf("edits = %d, want 0 without a tracked message", surface.editCount())
	}
}

// ===========================
// Formatting
// ===========================

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want string
	}{
		{0, "0:00"},
		{5 * time.Second, "0:05"},
		{95 * time.Second, "1:35"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1:02:03"},
	}
	for _, c := range cases {
		if got := FormatDuration(c.in); got != c.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", c.in, got, c.want)
		}
	}
}
