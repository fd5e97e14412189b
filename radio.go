package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
)

// ===========================
// Messages
// ===========================

const (
	MsgRadioNotInGuild      = "This command only works in a server."
	MsgRadioUserNotInVoice  = "Join a voice channel first."
	MsgRadioNotConnected    = "Not connected to a voice channel. Use `/radio join` first."
	MsgRadioNoResults       = "No playable results for that query."
	MsgRadioNothingPlaying  = "Nothing is playing."
	MsgRadioJoined          = "🔊 Joined <#%s>."
	MsgRadioLeft            = "🛑 Stopped and disconnected."
	MsgRadioQueuePosted     = "Queue status posted. It refreshes itself while the radio runs."
	MsgRadioSkippedToEnd    = "⏭️ Skipped. Nothing left to play."
	MsgRadioSkippedTo       = "⏭️ Skipped to: [%s](%s)"
	MsgRadioJumpedTo        = "⏩ Jumped to `%d.` [%s](%s)"
	MsgRadioLoopSongOn      = "🔂 Looping the current song."
	MsgRadioLoopSongOff     = "🔂 Song loop disabled."
	MsgRadioLoopQueueOn     = "🔁 Looping the whole queue."
	MsgRadioLoopQueueOff    = "🔁 Queue loop disabled."
	MsgRadioExternallyMoved = "Bot was disconnected externally in guild %s, resetting queue"
)

// ===========================
// Radio System
// ===========================

// RadioSystem ties the queue engine to one gateway client. Built once the
// client is ready; command handlers that fire earlier see nil and bail.
type RadioSystem struct {
	Store     *QueueStore
	Displays  *DisplayStore
	Player    *Player
	Transport *VoiceTransport
	Resolver  *YtdlpResolver
}

var (
	radioMu  sync.RWMutex
	radioSys *RadioSystem
)

func GetRadioSystem() *RadioSystem {
	radioMu.RLock()
	defer radioMu.RUnlock()
	return radioSys
}

func setRadioSystem(s *RadioSystem) {
	radioMu.Lock()
	defer radioMu.Unlock()
	radioSys = s
}

// ===========================
// Command Registration
// ===========================

func init() {
	OnClientReady(func(ctx context.Context, client bot.Client) {
		resolver := NewYtdlpResolver(GlobalConfig.MaxPlaylistSongs)
		transport := NewVoiceTransport(client)
		transport.Refresh = resolver.MediaURL
		displays := NewDisplayStore(GlobalConfig.MaxPreviouslyPlayed)
		store := NewQueueStore()
		player := NewPlayer(store, displays, transport, resolver)
		AttachTrackNotifier(transport, player)
		setRadioSystem(&RadioSystem{
			Store:     store,
			Displays:  displays,
			Player:    player,
			Transport: transport,
			Resolver:  resolver,
		})

		RegisterDaemon(LogStatus, NewStatusRefresher(client, player, displays, transport, NewRestSurface(client)).Start)
		RegisterDaemon(LogVoice, func(ctx context.Context) (bool, func(), func()) {
			return true, func() {}, func() {
				if sys := GetRadioSystem(); sys != nil {
					LogVoice("Shutting down voice transport...")
					sys.Transport.Shutdown(context.Background())
				}
			}
		})

		RegisterVoiceStateUpdateHandler(onRadioVoiceStateUpdate)
	})

	RegisterCommand(discord.SlashCommandCreate{
		Name:        "radio",
		Description: "Radio System",
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionSubCommand{
				Name:        "join",
				Description: "Join your voice channel",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "leave",
				Description: "Stop playback and leave the voice channel",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "play",
				Description: "Queue a song by name or URL",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:         "query",
						Description:  "The URL or song name to play",
						Required:     true,
						Autocomplete: true,
					},
					discord.ApplicationCommandOptionBool{
						Name:        "playlist",
						Description: "Queue the whole playlist when the URL points at one",
						Required:    false,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "queue",
				Description: "Post the self-updating queue status message",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "skip",
				Description: "Skip the current song",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "skipto",
				Description: "Jump to a queue position",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionInt{
						Name:        "position",
						Description: "Queue position to jump to (1 is the first song)",
						Required:    true,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "loopsong",
				Description: "Toggle looping the current song",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "loopqueue",
				Description: "Toggle looping the whole queue",
			},
		},
	}, handleRadio)

	RegisterAutocompleteHandler("radio", handleRadioAutocomplete)
}

func handleRadio(event *events.ApplicationCommandInteractionCreate) {
	data := event.SlashCommandInteractionData()
	if data.SubCommandName == nil {
		return
	}
	if event.GuildID() == nil {
		_ = RespondInteractionV2(*event.Client(), event, MsgRadioNotInGuild, true)
		return
	}
	if GetRadioSystem() == nil {
		_ = RespondInteractionV2(*event.Client(), event, "Radio is still starting up, try again in a moment.", true)
		return
	}
	switch *data.SubCommandName {
	case "join":
		handleRadioJoin(event, data)
	case "leave":
		handleRadioLeave(event, data)
	case "play":
		handleRadioPlay(event, data)
	case "queue":
		handleRadioQueue(event, data)
	case "skip":
		handleRadioSkip(event, data)
	case "skipto":
		handleRadioSkipTo(event, data)
	case "loopsong":
		handleRadioLoopSong(event, data)
	case "loopqueue":
		handleRadioLoopQueue(event, data)
	}
}

// ===========================
// Command Handlers
// ===========================

func handleRadioJoin(event *events.ApplicationCommandInteractionCreate, _ discord.SlashCommandInteractionData) {
	guildID := *event.GuildID()
	vs, ok := event.Client().Caches.VoiceState(guildID, event.User().ID)
	if !ok || vs.ChannelID == nil {
		_ = RespondInteractionV2(*event.Client(), event, MsgRadioUserNotInVoice, true)
		return
	}
	channelID := *vs.ChannelID

	_ = event.DeferCreateMessage(false)
	LogVoice("User %s (%s) asked the radio to join channel %s in guild %s", event.User().Username, event.User().ID, channelID, guildID)
	if err := GetRadioSystem().Transport.Join(AppContext, guildID, channelID); err != nil {
		_ = EditInteractionV2(*event.Client(), event, "Failed to join: "+err.Error())
		return
	}
	_ = EditInteractionV2(*event.Client(), event, fmt.Sprintf(MsgRadioJoined, channelID))
}

func handleRadioLeave(event *events.ApplicationCommandInteractionCreate, _ discord.SlashCommandInteractionData) {
	guildID := *event.GuildID()
	sys := GetRadioSystem()
	LogVoice("User %s (%s) stopped the radio in guild %s", event.User().Username, event.User().ID, guildID)
	sys.Player.Reset(guildID)
	sys.Transport.Leave(context.Background(), guildID)
	_ = RespondInteractionV2(*event.Client(), event, MsgRadioLeft, false)
}

func handleRadioPlay(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	guildID := *event.GuildID()
	query, _ := data.OptString("query")
	playlist, _ := data.OptBool("playlist")

	_ = event.DeferCreateMessage(false)
	LogVoice("User %s (%s) requested playback in guild %s: %s", event.User().Username, event.User().ID, guildID, query)

	res, err := GetRadioSystem().Player.AddSong(AppContext, guildID, query, playlist)
	if err != nil {
		_ = EditInteractionV2(*event.Client(), event, playFailureMessage(err))
		return
	}

	msg := ""
	switch res.Outcome {
	case NowPlaying:
		msg = fmt.Sprintf("▶️ Now playing: [%s](%s)", res.Song.Title, res.Song.URL)
	case AddedToQueue:
		msg = fmt.Sprintf("✅ Added to queue: [%s](%s)", res.Song.Title, res.Song.URL)
	}
	if res.Count > 1 {
		msg += fmt.Sprintf("\n*...and %d more from the playlist*", res.Count-1)
	}
	_ = EditInteractionV2(*event.Client(), event, msg)
}

func playFailureMessage(err error) string {
	switch {
	case errors.Is(err, ErrNotInVoice):
		return MsgRadioNotConnected
	case errors.Is(err, ErrNoResults):
		return MsgRadioNoResults
	default:
		return "Failed: " + err.Error()
	}
}

// handleRadioQueue posts the live status container into the channel the
// command came from and remembers where it landed so the refresher daemon
// takes over edits from here on.
func handleRadioQueue(event *events.ApplicationCommandInteractionCreate, _ discord.SlashCommandInteractionData) {
	guildID := *event.GuildID()
	sys := GetRadioSystem()

	_ = event.DeferCreateMessage(true)

	guildName := ""
	if g, ok := event.Client().Caches.Guild(guildID); ok {
		guildName = g.Name
	}
	snap, hasQueue := sys.Store.Snapshot(guildID)
	var snapPtr *QueueSnapshot
	if hasQueue {
		snapPtr = &snap
	}
	container := BuildStatusContainer(guildName, sys.Displays.History(guildID), snapPtr, nil, sys.Transport.Connected(guildID))

	msg, err := SendContainerV2(*event.Client(), event.Channel().ID(), container)
	if err != nil {
		_ = EditInteractionV2(*event.Client(), event, "Failed to post the queue status: "+err.Error())
		return
	}
	sys.Displays.SetStatus(guildID, MsgLocation{ChannelID: event.Channel().ID(), MessageID: msg.ID})
	_ = EditInteractionV2(*event.Client(), event, MsgRadioQueuePosted)
}

func handleRadioSkip(event *events.ApplicationCommandInteractionCreate, _ discord.SlashCommandInteractionData) {
	guildID := *event.GuildID()
	_ = event.DeferCreateMessage(false)
	next, err := GetRadioSystem().Player.Skip(AppContext, guildID)
	if err != nil {
		if errors.Is(err, ErrNothingQueued) {
			_ = EditInteractionV2(*event.Client(), event, MsgRadioNothingPlaying)
			return
		}
		_ = EditInteractionV2(*event.Client(), event, "Failed: "+err.Error())
		return
	}
	if next == nil {
		_ = EditInteractionV2(*event.Client(), event, MsgRadioSkippedToEnd)
		return
	}
	_ = EditInteractionV2(*event.Client(), event, fmt.Sprintf(MsgRadioSkippedTo, next.Title, next.URL))
}

func handleRadioSkipTo(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	guildID := *event.GuildID()
	position, _ := data.OptInt("position")

	_ = event.DeferCreateMessage(false)
	song, err := GetRadioSystem().Player.PlayIndex(AppContext, guildID, position-1)
	if err != nil {
		switch {
		case errors.Is(err, ErrNothingQueued):
			_ = EditInteractionV2(*event.Client(), event, MsgRadioNothingPlaying)
		case errors.Is(err, ErrIndexOutOfRange):
			_ = EditInteractionV2(*event.Client(), event, "No song at that position: "+err.Error())
		default:
			_ = EditInteractionV2(*event.Client(), event, "Failed: "+err.Error())
		}
		return
	}
	_ = EditInteractionV2(*event.Client(), event, fmt.Sprintf(MsgRadioJumpedTo, position, song.Title, song.URL))
}

func handleRadioLoopSong(event *events.ApplicationCommandInteractionCreate, _ discord.SlashCommandInteractionData) {
	if GetRadioSystem().Player.ToggleLoopSong(*event.GuildID()) {
		_ = RespondInteractionV2(*event.Client(), event, MsgRadioLoopSongOn, false)
		return
	}
	_ = RespondInteractionV2(*event.Client(), event, MsgRadioLoopSongOff, false)
}

func handleRadioLoopQueue(event *events.ApplicationCommandInteractionCreate, _ discord.SlashCommandInteractionData) {
	if GetRadioSystem().Player.ToggleLoopQueue(*event.GuildID()) {
		_ = RespondInteractionV2(*event.Client(), event, MsgRadioLoopQueueOn, false)
		return
	}
	_ = RespondInteractionV2(*event.Client(), event, MsgRadioLoopQueueOff, false)
}

// ===========================
// Autocomplete
// ===========================

func handleRadioAutocomplete(event *events.AutocompleteInteractionCreate) {
	f := event.Data.Focused()
	if f.Name != "query" {
		return
	}
	q := f.String()
	if q == "" || strings.Contains(q, "http") {
		_ = event.AutocompleteResult(nil)
		return
	}
	sys := GetRadioSystem()
	if sys == nil {
		_ = event.AutocompleteResult(nil)
		return
	}
	rs, err := sys.Resolver.Search(q)
	if err != nil {
		_ = event.AutocompleteResult(nil)
		return
	}
	var cs []discord.AutocompleteChoice
	for i, r := range rs {
		if i >= 25 {
			break
		}
		n := r.Title
		if len(n) > 100 {
			n = n[:97] + "..."
		}
		v := r.URL
		if len(v) > 100 {
			v = r.Title
			if len(v) > 100 {
				v = v[:100]
			}
		}
		cs = append(cs, discord.AutocompleteChoiceString{Name: n, Value: v})
	}
	_ = event.AutocompleteResult(cs)
}

// ===========================
// Voice State Tracking
// ===========================

// onRadioVoiceStateUpdate resets the guild's queue when the bot is kicked
// out of a channel by something other than its own Leave call. The status
// message location is kept so the refresher can show the stopped state.
func onRadioVoiceStateUpdate(event *events.GuildVoiceStateUpdate) {
	sys := GetRadioSystem()
	if sys == nil {
		return
	}
	if event.VoiceState.UserID != event.Client().ID() {
		return
	}
	guildID := event.VoiceState.GuildID
	if event.VoiceState.ChannelID == nil && sys.Transport.Connected(guildID) {
		LogVoice(MsgRadioExternallyMoved, guildID)
		sys.Player.Reset(guildID)
		sys.Transport.Leave(context.Background(), guildID)
	}
}
