package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asticode/go-astiav"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/voice"
	"github.com/disgoorg/snowflake/v2"
)

// ============================================================================
// Transport
// ============================================================================

var (
	OpusSilence     = []byte{0xf8, 0xff, 0xfe}
	SilenceDuration = 1 * time.Second
)

// TrackHandle identifies one started track. Handles are never reused, so a
// completion event carrying an old handle is recognizable as stale.
type TrackHandle struct {
	GuildID snowflake.ID
	ID      uint64
}

func (h TrackHandle) String() string {
	return fmt.Sprintf("%s/%d", h.GuildID, h.ID)
}

type TrackEndFunc func(guildID snowflake.ID, handle TrackHandle)
type TrackErrorFunc func(guildID snowflake.ID, handle TrackHandle, err error)

// Transport is the voice-playback edge the player drives. Implementations
// must deliver a track-end event for every naturally finished track, and must
// not deliver one for tracks stopped through Pause.
type Transport interface {
	Join(ctx context.Context, guildID, channelID snowflake.ID) error
	Leave(ctx context.Context, guildID snowflake.ID)
	Connected(guildID snowflake.ID) bool
	ChannelID(guildID snowflake.ID) (snowflake.ID, bool)
	Play(ctx context.Context, guildID snowflake.ID, src SourceDescriptor) (TrackHandle, error)
	Pause(handle TrackHandle) error
	Position(ctx context.Context, handle TrackHandle) (time.Duration, error)
	OnTrackEnd(fn TrackEndFunc)
	OnTrackError(fn TrackErrorFunc)
}

// VoiceTransport plays audio over Discord voice connections, one session per
// guild, one active track per session.
type VoiceTransport struct {
	client bot.Client

	// Refresh re-derives a direct media link from a page URL when the
	// cached one has expired. Optional.
	Refresh func(ctx context.Context, pageURL string) (string, error)

	mu       sync.Mutex
	sessions map[snowflake.ID]*voiceSession
	nextID   atomic.Uint64

	cbMu    sync.RWMutex
	onEnd   []TrackEndFunc
	onError []TrackErrorFunc
}

func NewVoiceTransport(client bot.Client) *VoiceTransport {
	astiav.SetLogLevel(astiav.LogLevelFatal)
	return &VoiceTransport{
		client:   client,
		sessions: make(map[snowflake.ID]*voiceSession),
	}
}

func (vt *VoiceTransport) OnTrackEnd(fn TrackEndFunc) {
	vt.cbMu.Lock()
	defer vt.cbMu.Unlock()
	vt.onEnd = append(vt.onEnd, fn)
}

func (vt *VoiceTransport) OnTrackError(fn TrackErrorFunc) {
	vt.cbMu.Lock()
	defer vt.cbMu.Unlock()
	vt.onError = append(vt.onError, fn)
}

func (vt *VoiceTransport) fireTrackEnd(guildID snowflake.ID, handle TrackHandle) {
	vt.cbMu.RLock()
	fns := append([]TrackEndFunc(nil), vt.onEnd...)
	vt.cbMu.RUnlock()
	for _, fn := range fns {
		fn(guildID, handle)
	}
}

func (vt *VoiceTransport) fireTrackError(guildID snowflake.ID, handle TrackHandle, err error) {
	vt.cbMu.RLock()
	fns := append([]TrackErrorFunc(nil), vt.onError...)
	vt.cbMu.RUnlock()
	for _, fn := range fns {
		fn(guildID, handle, err)
	}
}

func (vt *VoiceTransport) getSession(guildID snowflake.ID) *voiceSession {
	vt.mu.Lock()
	defer vt.mu.Unlock()
	return vt.sessions[guildID]
}

func (vt *VoiceTransport) prepare(guildID, channelID snowflake.ID) *voiceSession {
	vt.mu.Lock()
	defer vt.mu.Unlock()

	if sess, ok := vt.sessions[guildID]; ok {
		if sess.cancelCtx.Err() == nil {
			sess.setChannelID(channelID)
			return sess
		}
		delete(vt.sessions, guildID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sess := &voiceSession{
		guildID:    guildID,
		channelID:  channelID,
		conn:       vt.client.VoiceManager.CreateConn(guildID),
		cancelCtx:  ctx,
		cancelFunc: cancel,
	}
	vt.sessions[guildID] = sess
	return sess
}

// Join connects the bot to a voice channel, retrying with backoff.
func (vt *VoiceTransport) Join(ctx context.Context, guildID, channelID snowflake.ID) error {
	sess := vt.prepare(guildID, channelID)

	sess.joinedMu.Lock()
	if sess.joined && sess.getChannelID() == channelID {
		sess.joinedMu.Unlock()
		return nil
	}
	sess.joinedMu.Unlock()

	LogVoice("Joining channel %s in guild %s", channelID, guildID)

	var lastErr error
	for i := range 5 {
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * 1000 * time.Millisecond
			LogVoice("Retrying voice connection in %v (Attempt %d/5)", backoff, i+1)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := sess.conn.Open(ctx, channelID, false, false); err != nil {
			lastErr = err
			continue
		}
		lastErr = nil
		break
	}

	if lastErr != nil {
		LogVoice("Failed to connect to voice in guild %s after 5 attempts: %v", guildID, lastErr)
		sess.conn.Close(ctx)
		return lastErr
	}

	sess.joinedMu.Lock()
	sess.joined = true
	sess.joinedMu.Unlock()
	return nil
}

// Leave stops playback and disconnects the guild's session.
func (vt *VoiceTransport) Leave(ctx context.Context, guildID snowflake.ID) {
	vt.mu.Lock()
	sess, ok := vt.sessions[guildID]
	if !ok {
		vt.mu.Unlock()
		return
	}
	delete(vt.sessions, guildID)
	vt.mu.Unlock()

	sess.close(ctx)
}

func (vt *VoiceTransport) Connected(guildID snowflake.ID) bool {
	sess := vt.getSession(guildID)
	if sess == nil {
		return false
	}
	sess.joinedMu.Lock()
	defer sess.joinedMu.Unlock()
	return sess.joined
}

func (vt *VoiceTransport) ChannelID(guildID snowflake.ID) (snowflake.ID, bool) {
	sess := vt.getSession(guildID)
	if sess == nil {
		return 0, false
	}
	return sess.getChannelID(), true
}

// Play opens the source, spins up the transcode pipeline and attaches it to
// the guild's voice connection, replacing whatever was playing. The returned
// handle identifies the track in later Pause/Position calls and in the end
// event fired when the track finishes on its own.
func (vt *VoiceTransport) Play(ctx context.Context, guildID snowflake.ID, src SourceDescriptor) (TrackHandle, error) {
	sess := vt.getSession(guildID)
	if sess == nil || !vt.Connected(guildID) {
		return TrackHandle{}, ErrNotInVoice
	}

	t := NewAudioTranscoder()
	err := t.OpenInput(src.MediaURL)
	if err != nil && vt.Refresh != nil && src.PageURL != "" {
		// Direct links from the resolver expire after a while. Re-derive
		// one from the page URL before giving up.
		LogVoice("Direct link failed in guild %s, refreshing: %v", guildID, err)
		var fresh string
		if fresh, err = vt.Refresh(ctx, src.PageURL); err == nil {
			err = t.OpenInput(fresh)
		}
	}
	if err != nil {
		t.Close()
		return TrackHandle{}, err
	}
	if err := t.SetupDecoder(); err != nil {
		t.Close()
		return TrackHandle{}, err
	}
	if err := t.SetupEncoder(); err != nil {
		t.Close()
		return TrackHandle{}, err
	}

	handle := TrackHandle{GuildID: guildID, ID: vt.nextID.Add(1)}
	streamCtx, cancel := context.WithCancel(sess.cancelCtx)
	p := NewStreamProvider(streamCtx)
	track := &activeTrack{handle: handle, cancel: cancel, transcoder: t, provider: p}

	done := make(chan struct{})
	p.OnFinish = func() {
		close(done)
	}

	sess.trackMu.Lock()
	prev := sess.current
	sess.current = track
	sess.trackMu.Unlock()
	if prev != nil {
		prev.stop()
	}

	safeGo(func() {
		defer p.PushFrame(nil)
		defer t.Close()
		if terr := t.Transcode(streamCtx, p.PushFrame); terr != nil && streamCtx.Err() == nil {
			LogVoice("Transcoder failed in guild %s: %v", guildID, terr)
			vt.fireTrackError(guildID, handle, terr)
		}
	})

	safeGo(func() {
		sess.setOpusFrameProviderSafe(p)
		sess.setSpeakingSafe(voice.SpeakingFlagMicrophone)

		select {
		case <-done:
		case <-streamCtx.Done():
		}
		cancel()

		sess.trackMu.Lock()
		mine := sess.current == track
		if mine {
			sess.current = nil
		}
		sess.trackMu.Unlock()

		if mine {
			sess.setOpusFrameProviderSafe(nil)
			sess.setSpeakingSafe(0)
		}

		if !track.stopped.Load() {
			vt.fireTrackEnd(guildID, handle)
		}
	})

	return handle, nil
}

// Pause stops the identified track without raising a track-end event.
func (vt *VoiceTransport) Pause(handle TrackHandle) error {
	sess := vt.getSession(handle.GuildID)
	if sess == nil {
		return fmt.Errorf("no voice session in guild %s", handle.GuildID)
	}

	sess.trackMu.Lock()
	cur := sess.current
	sess.trackMu.Unlock()

	if cur == nil || cur.handle != handle {
		return fmt.Errorf("track %s is no longer playing", handle)
	}
	cur.stop()
	return nil
}

// Position reports how far into the track playback is.
func (vt *VoiceTransport) Position(ctx context.Context, handle TrackHandle) (time.Duration, error) {
	sess := vt.getSession(handle.GuildID)
	if sess == nil {
		return 0, fmt.Errorf("no voice session in guild %s", handle.GuildID)
	}

	sess.trackMu.Lock()
	cur := sess.current
	sess.trackMu.Unlock()

	if cur == nil || cur.handle != handle {
		return 0, fmt.Errorf("track %s is no longer playing", handle)
	}
	samples := cur.transcoder.GetTimestamp()
	return time.Duration(samples) * time.Second / 48000, nil
}

// Shutdown closes every session; used as the daemon shutdown hook.
func (vt *VoiceTransport) Shutdown(ctx context.Context) {
	vt.mu.Lock()
	sessions := make([]*voiceSession, 0, len(vt.sessions))
	for id, sess := range vt.sessions {
		sessions = append(sessions, sess)
		delete(vt.sessions, id)
	}
	vt.mu.Unlock()

	var wg sync.WaitGroup
	for _, sess := range sessions {
		wg.Add(1)
		safeGo(func() {
			defer wg.Done()
			sess.close(ctx)
		})
	}
	wg.Wait()
}

// ============================================================================
// Voice Session
// ============================================================================

type voiceSession struct {
	guildID    snowflake.ID
	channelID  snowflake.ID
	channelMu  sync.RWMutex
	conn       voice.Conn
	cancelCtx  context.Context
	cancelFunc context.CancelFunc
	joined     bool
	joinedMu   sync.Mutex
	trackMu    sync.Mutex
	current    *activeTrack
}

type activeTrack struct {
	handle     TrackHandle
	cancel     context.CancelFunc
	transcoder *AudioTranscoder
	provider   *StreamProvider
	stopped    atomic.Bool
}

// stop cancels the stream and suppresses the track-end event.
func (t *activeTrack) stop() {
	t.stopped.Store(true)
	t.cancel()
}

func (s *voiceSession) getChannelID() snowflake.ID {
	s.channelMu.RLock()
	defer s.channelMu.RUnlock()
	return s.channelID
}

func (s *voiceSession) setChannelID(channelID snowflake.ID) {
	s.channelMu.Lock()
	defer s.channelMu.Unlock()
	s.channelID = channelID
}

func (s *voiceSession) close(ctx context.Context) {
	s.trackMu.Lock()
	cur := s.current
	s.current = nil
	s.trackMu.Unlock()
	if cur != nil {
		cur.stop()
	}

	s.joinedMu.Lock()
	s.joined = false
	s.joinedMu.Unlock()

	s.setOpusFrameProviderSafe(nil)
	s.setSpeakingSafe(0)
	s.cancelFunc()
	if s.conn != nil {
		s.conn.Close(ctx)
	}
}

// The voice gateway can be mid-reconnect when we poke it; these setters
// absorb panics from the connection internals and retry a few times.
func (s *voiceSession) setOpusFrameProviderSafe(provider voice.OpusFrameProvider) {
	if s.conn == nil || (reflect.ValueOf(s.conn).Kind() == reflect.Ptr && reflect.ValueOf(s.conn).IsNil()) {
		return
	}

	for i := range 3 {
		if s.trySetOpusFrameProvider(provider) {
			return
		}
		if i < 2 {
			select {
			case <-time.After(150 * time.Millisecond):
			case <-s.cancelCtx.Done():
				return
			}
		}
	}
	LogVoice("Exhausted retries for SetOpusFrameProvider in guild %s", s.guildID)
}

func (s *voiceSession) trySetOpusFrameProvider(provider voice.OpusFrameProvider) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	s.conn.SetOpusFrameProvider(provider)
	return true
}

func (s *voiceSession) setSpeakingSafe(flags voice.SpeakingFlags) {
	if s.conn == nil || (reflect.ValueOf(s.conn).Kind() == reflect.Ptr && reflect.ValueOf(s.conn).IsNil()) {
		return
	}

	for i := range 3 {
		if s.trySetSpeaking(flags) {
			return
		}
		if i < 2 {
			select {
			case <-time.After(150 * time.Millisecond):
			case <-s.cancelCtx.Done():
				return
			}
		}
	}
	LogVoice("Exhausted retries for SetSpeaking in guild %s", s.guildID)
}

func (s *voiceSession) trySetSpeaking(flags voice.SpeakingFlags) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	s.conn.SetSpeaking(s.cancelCtx, flags)
	return true
}

// ============================================================================
// Stream Provider
// ============================================================================

// StreamProvider buffers encoded opus frames between the transcoder and the
// voice connection. A nil frame marks the end of input; the provider then
// plays a short run of silence frames before reporting EOF.
type StreamProvider struct {
	frames        chan []byte
	OnFinish      func()
	once          sync.Once
	ctx           context.Context
	draining      bool
	silenceFrames int
}

func NewStreamProvider(ctx context.Context) *StreamProvider {
	return &StreamProvider{
		frames: make(chan []byte, 100),
		ctx:    ctx,
	}
}

func (p *StreamProvider) Close() {
	p.once.Do(func() {
		if p.OnFinish != nil {
			p.OnFinish()
		}
	})
}

func (p *StreamProvider) PushFrame(f []byte) {
	select {
	case p.frames <- f:
	case <-p.ctx.Done():
	}
}

func (p *StreamProvider) ProvideOpusFrame() ([]byte, error) {
	if p.draining {
		target := int(SilenceDuration.Milliseconds() / 20)
		if p.silenceFrames < target {
			p.silenceFrames++
			return OpusSilence, nil
		}
		p.Close()
		return nil, io.EOF
	}

	select {
	case f := <-p.frames:
		if f == nil {
			p.draining = true
			return OpusSilence, nil
		}
		return f, nil
	case <-p.ctx.Done():
		p.Close()
		return nil, io.EOF
	case <-time.After(500 * time.Millisecond):
		return OpusSilence, nil
	}
}

// ============================================================================
// Transcoder
// ============================================================================

// AudioTranscoder decodes whatever ffmpeg can open and re-encodes it as
// 48kHz stereo opus in 20ms frames.
type AudioTranscoder struct {
	inputCtx               *astiav.FormatContext
	decoderCtx, encoderCtx *astiav.CodecContext
	audioStreamIndex       int
	packet                 *astiav.Packet
	frame                  *astiav.Frame
	resampleCtx            *astiav.SoftwareResampleContext
	resampleFrame          *astiav.Frame
	fifo                   *astiav.AudioFifo
	onFrame                func([]byte)
	pts                    int64
}

func NewAudioTranscoder() *AudioTranscoder {
	return &AudioTranscoder{
		packet:        astiav.AllocPacket(),
		frame:         astiav.AllocFrame(),
		resampleFrame: astiav.AllocFrame(),
	}
}

// GetTimestamp returns the playback position in samples at 48kHz.
func (t *AudioTranscoder) GetTimestamp() int64 {
	return atomic.LoadInt64(&t.pts)
}

func (t *AudioTranscoder) OpenInput(in string) error {
	if in == "" {
		return errors.New("empty media url")
	}
	t.inputCtx = astiav.AllocFormatContext()
	if t.inputCtx == nil {
		return errors.New("failed to alloc ctx")
	}

	var opts *astiav.Dictionary
	if strings.HasPrefix(in, "http") {
		opts = astiav.NewDictionary()
		defer opts.Free()
		opts.Set("reconnect", "1", 0)
		opts.Set("reconnect_at_eof", "1", 0)
		opts.Set("reconnect_streamed", "1", 0)
		opts.Set("reconnect_delay_max", "30", 0)
		opts.Set("timeout", "30000000", 0)
		opts.Set("probesize", "10000000", 0)
		opts.Set("analyzeduration", "10000000", 0)
	}
	if err := t.inputCtx.OpenInput(in, nil, opts); err != nil {
		return err
	}

	if err := t.inputCtx.FindStreamInfo(nil); err != nil {
		return err
	}
	t.audioStreamIndex = -1
	for _, s := range t.inputCtx.Streams() {
		if s.CodecParameters().MediaType() == astiav.MediaTypeAudio {
			t.audioStreamIndex = s.Index()
			break
		}
	}
	if t.audioStreamIndex == -1 {
		return errors.New("no audio")
	}
	return nil
}

func (t *AudioTranscoder) SetupDecoder() error {
	p := t.inputCtx.Streams()[t.audioStreamIndex].CodecParameters()
	d := astiav.FindDecoder(p.CodecID())
	if d == nil {
		return errors.New("no decoder")
	}
	t.decoderCtx = astiav.AllocCodecContext(d)
	_ = p.ToCodecContext(t.decoderCtx)
	return t.decoderCtx.Open(d, nil)
}

func (t *AudioTranscoder) SetupEncoder() error {
	e := astiav.FindEncoderByName("libopus")
	if e == nil {
		e = astiav.FindEncoder(astiav.CodecIDOpus)
	}
	if e == nil {
		return errors.New("no encoder")
	}
	t.encoderCtx = astiav.AllocCodecContext(e)
	t.encoderCtx.SetBitRate(192000)
	t.encoderCtx.SetSampleRate(48000)
	t.encoderCtx.SetChannelLayout(astiav.ChannelLayoutStereo)
	t.encoderCtx.SetSampleFormat(astiav.SampleFormatS16)
	t.encoderCtx.SetTimeBase(astiav.NewRational(1, 48000))
	o := astiav.NewDictionary()
	defer o.Free()
	o.Set("vbr", "on", 0)
	o.Set("compression_level", "10", 0)
	o.Set("frame_size", "20", 0)
	if err := t.encoderCtx.Open(e, o); err != nil {
		return err
	}
	t.resampleCtx = astiav.AllocSoftwareResampleContext()
	if t.resampleCtx == nil {
		return errors.New("failed to allocate resampler")
	}
	return nil
}

func (t *AudioTranscoder) Transcode(ctx context.Context, on func([]byte)) (err error) {
	// 1. Panic Recovery
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transcoder panic: %v", r)
			LogVoice("CRITICAL: Transcoder panic recovered: %v", r)
		}
	}()

	// 2. Resource Cleanup
	defer t.packet.Unref()
	t.onFrame = on
	defer func() {
		if t.onFrame != nil {
			t.onFrame(nil)
		}
	}()

	fifoSize := 960 * 2
	t.fifo = astiav.AllocAudioFifo(t.encoderCtx.SampleFormat(), t.encoderCtx.ChannelLayout().Channels(), fifoSize)
	if t.fifo == nil {
		return errors.New("failed to alloc fifo")
	}
	defer func() {
		if t.fifo != nil {
			t.fifo.Free()
			t.fifo = nil
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// 3. Reuse Packet (Unref at the end of loop or before read)
		t.packet.Unref()

		if err := t.inputCtx.ReadFrame(t.packet); err != nil {
			if errors.Is(err, astiav.ErrEof) {
				break
			}
			return err
		}

		if t.packet.StreamIndex() != t.audioStreamIndex {
			continue
		}

		if err := t.decoderCtx.SendPacket(t.packet); err != nil {
			return err
		}

		for {
			if err := t.decoderCtx.ReceiveFrame(t.frame); err != nil {
				break
			}

			if err := t.pushToFifo(); err != nil {
				return err
			}

			t.frame.Unref()
		}
	}

	// Flush Decoder
	if t.decoderCtx != nil {
		_ = t.decoderCtx.SendPacket(nil)
		for {
			if err := t.decoderCtx.ReceiveFrame(t.frame); err != nil {
				break
			}
			if err := t.pushToFifo(); err != nil {
				return err
			}
			t.frame.Unref()
		}
	}

	// Clear FIFO
	if err := t.processFifo(true); err != nil {
		return err
	}

	// Flush Encoder
	if t.encoderCtx != nil {
		_ = t.encoderCtx.SendFrame(nil)
		for {
			t.packet.Unref()
			if t.encoderCtx.ReceivePacket(t.packet) != nil {
				break
			}
			if t.onFrame != nil {
				d := t.packet.Data()
				fd := make([]byte, len(d))
				copy(fd, d)
				t.onFrame(fd)
			}
		}
	}
	return nil
}

func (t *AudioTranscoder) encodeAndWrite(f *astiav.Frame) error {
	if err := t.encoderCtx.SendFrame(f); err != nil {
		return err
	}
	for {
		// Reuse Packet
		t.packet.Unref()
		if t.encoderCtx.ReceivePacket(t.packet) != nil {
			break
		}
		if t.onFrame != nil {
			d := t.packet.Data()
			fd := make([]byte, len(d))
			copy(fd, d)
			t.onFrame(fd)
		}
	}
	return nil
}

func (t *AudioTranscoder) pushToFifo() error {
	t.resampleFrame.Unref()
	t.resampleFrame.SetChannelLayout(t.encoderCtx.ChannelLayout())
	t.resampleFrame.SetSampleFormat(t.encoderCtx.SampleFormat())
	t.resampleFrame.SetSampleRate(t.encoderCtx.SampleRate())
	nb := int(astiav.RescaleQ(int64(t.frame.NbSamples()), astiav.NewRational(1, t.frame.SampleRate()), astiav.NewRational(1, t.encoderCtx.SampleRate())))
	if nb > 0 {
		t.resampleFrame.SetNbSamples(nb)
		_ = t.resampleFrame.AllocBuffer(0)
		if t.resampleCtx.ConvertFrame(t.frame, t.resampleFrame) == nil {
			_, _ = t.fifo.Write(t.resampleFrame)
			return t.processFifo(false)
		}
	}
	return nil
}

func (t *AudioTranscoder) processFifo(drain bool) error {
	if t.fifo == nil {
		return nil
	}
	for {
		sz := 960
		if t.fifo.Size() < sz {
			if !drain || t.fifo.Size() == 0 {
				return nil
			}
			sz = t.fifo.Size()
		}
		t.resampleFrame.Unref()
		t.resampleFrame.SetNbSamples(sz)
		t.resampleFrame.SetChannelLayout(t.encoderCtx.ChannelLayout())
		t.resampleFrame.SetSampleFormat(t.encoderCtx.SampleFormat())
		t.resampleFrame.SetSampleRate(t.encoderCtx.SampleRate())
		_ = t.resampleFrame.AllocBuffer(0)
		_, _ = t.fifo.Read(t.resampleFrame)

		t.resampleFrame.SetPts(atomic.LoadInt64(&t.pts))
		atomic.AddInt64(&t.pts, int64(sz))
		if err := t.encodeAndWrite(t.resampleFrame); err != nil {
			return err
		}
	}
}

func (t *AudioTranscoder) Close() {
	if t.resampleCtx != nil {
		t.resampleCtx.Free()
	}
	if t.resampleFrame != nil {
		t.resampleFrame.Free()
	}
	if t.packet != nil {
		t.packet.Free()
	}
	if t.frame != nil {
		t.frame.Free()
	}
	if t.decoderCtx != nil {
		t.decoderCtx.Free()
	}
	if t.encoderCtx != nil {
		t.encoderCtx.Free()
	}
	if t.inputCtx != nil {
		t.inputCtx.CloseInput()
		t.inputCtx.Free()
	}
}
