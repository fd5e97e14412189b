package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/lrstanley/go-ytdlp"
	"github.com/ppalone/ytsearch"
	"github.com/raitonoberu/ytmusic"
)

// ============================================================================
// Resolver
// ============================================================================

var (
	videoIDRegex = regexp.MustCompile(`(?:\?|&)v=([^&]+)`)
	rawIDRegex   = regexp.MustCompile(`(?:\?|&)id=([^&]+)`)

	cachedJSArgs []string
	jsOnce       sync.Once
)

// Resolver turns user queries into playable songs.
type Resolver interface {
	// Resolve maps a URL or free-text query to songs. With playlist set, a
	// playlist URL expands into its entries.
	Resolve(ctx context.Context, query string, playlist bool) ([]Song, error)
	// MediaURL re-derives a direct stream link for a page URL.
	MediaURL(ctx context.Context, pageURL string) (string, error)
}

type SearchResult struct{ Title, URL string }

type QueryCache struct {
	sync.RWMutex
	items map[string]cachedItem
}

type cachedItem struct {
	results   []SearchResult
	expiresAt time.Time
}

// YtdlpResolver resolves queries through yt-dlp, with ytsearch/ytmusic
// powering the autocomplete suggestions.
type YtdlpResolver struct {
	maxPlaylist int
	cache       *QueryCache
}

func NewYtdlpResolver(maxPlaylist int) *YtdlpResolver {
	if maxPlaylist <= 0 {
		maxPlaylist = 50
	}
	r := &YtdlpResolver{
		maxPlaylist: maxPlaylist,
		cache:       &QueryCache{items: make(map[string]cachedItem)},
	}
	safeGo(r.cacheGC)
	return r
}

func (r *YtdlpResolver) cacheGC() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		<-ticker.C
		r.cache.Lock()
		now := time.Now()
		for q, item := range r.cache.items {
			if now.After(item.expiresAt) {
				delete(r.cache.items, q)
			}
		}
		r.cache.Unlock()
	}
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func (r *YtdlpResolver) Resolve(ctx context.Context, query string, playlist bool) ([]Song, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrNoResults
	}

	if isURL(query) {
		if playlist && strings.Contains(query, "list=") {
			return r.resolvePlaylist(ctx, query)
		}
		song, err := r.resolveOne(ctx, query)
		if err != nil {
			return nil, err
		}
		return []Song{song}, nil
	}

	// Free text: take the top search hit.
	song, err := r.resolveOne(ctx, "ytsearch1:"+query)
	if err != nil {
		return nil, err
	}
	return []Song{song}, nil
}

func (r *YtdlpResolver) resolveOne(ctx context.Context, u string) (Song, error) {
	meta, err := ytdlpExtractMetadata(ctx, u)
	if err != nil {
		return Song{}, err
	}
	if meta == nil {
		return Song{}, ErrNoResults
	}
	return Song{
		Title:    meta.Title,
		URL:      meta.PageURL,
		Source:   SourceDescriptor{PageURL: meta.PageURL, MediaURL: meta.MediaURL},
		Duration: meta.Duration,
	}, nil
}

// resolvePlaylist expands a playlist URL into songs. Only the first entry is
// resolved to a direct stream link up front; later entries get theirs lazily
// when the transport reaches them.
func (r *YtdlpResolver) resolvePlaylist(ctx context.Context, u string) ([]Song, error) {
	entries, err := ytdlpExtractPlaylist(ctx, u, r.maxPlaylist)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrNoResults
	}

	songs := make([]Song, 0, len(entries))
	for _, e := range entries {
		songs = append(songs, Song{
			Title:  e.Title,
			URL:    e.URL,
			Source: SourceDescriptor{PageURL: e.URL},
		})
	}

	if first, err := r.resolveOne(ctx, songs[0].Source.PageURL); err == nil {
		songs[0] = first
	}
	return songs, nil
}

func (r *YtdlpResolver) MediaURL(ctx context.Context, pageURL string) (string, error) {
	meta, err := ytdlpExtractMetadata(ctx, pageURL)
	if err != nil {
		return "", err
	}
	return meta.MediaURL, nil
}

// ============================================================================
// Autocomplete Search
// ============================================================================

// Search races YouTube Music and plain YouTube suggestion lookups under a
// shared deadline and merges the results, capped at Discord's 25 choices.
func (r *YtdlpResolver) Search(q string) ([]SearchResult, error) {
	// 1. Check Cache
	r.cache.RLock()
	if item, ok := r.cache.items[q]; ok {
		if time.Now().Before(item.expiresAt) {
			r.cache.RUnlock()
			return item.results, nil
		}
	}
	r.cache.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2600*time.Millisecond)
	defer cancel()

	resMu := sync.Mutex{}
	var ytm, yt []SearchResult
	seen := make(map[string]bool)
	wg := sync.WaitGroup{}
	wg.Add(2)
	safeGo(func() {
		defer wg.Done()
		s := ytmusic.TrackSearch(q)
		res, _ := s.Next()
		if res == nil {
			return
		}
		for _, v := range res.Tracks {
			if v.VideoID == "" {
				continue
			}
			label := v.Title
			if len(v.Artists) > 0 {
				label += " - " + v.Artists[0].Name
			}
			resMu.Lock()
			if !seen[v.VideoID] {
				seen[v.VideoID] = true
				ytm = append(ytm, SearchResult{URL: "https://music.youtube.com/watch?v=" + v.VideoID, Title: "[YTM] " + Truncate(label, 94)})
			}
			resMu.Unlock()
		}
	})
	safeGo(func() {
		defer wg.Done()
		c := ytsearch.NewClient(nil)
		res, _ := c.Search(ctx, q)
		if res == nil {
			return
		}
		for _, v := range res.Results {
			resMu.Lock()
			if !seen[v.VideoID] {
				seen[v.VideoID] = true
				yt = append(yt, SearchResult{URL: "https://www.youtube.com/watch?v=" + v.VideoID, Title: "[YT] " + Truncate(v.Title, 95)})
			}
			resMu.Unlock()
		}
	})

	d := make(chan struct{})
	safeGo(func() {
		wg.Wait()
		close(d)
	})
	select {
	case <-d:
	case <-time.After(2300 * time.Millisecond):
	}

	resMu.Lock()
	defer resMu.Unlock()
	fin := append(append([]SearchResult(nil), ytm...), yt...)
	if len(fin) > 25 {
		fin = fin[:25]
	}

	// 2. Update Cache (TTL 1 hour)
	if len(fin) > 0 {
		r.cache.Lock()
		r.cache.items[q] = cachedItem{results: fin, expiresAt: time.Now().Add(1 * time.Hour)}
		r.cache.Unlock()
	}

	return fin, nil
}

// ============================================================================
// yt-dlp
// ============================================================================

type ytdlpMetadata struct {
	PageURL, MediaURL, Title, Uploader string
	Duration                           time.Duration
}

type ytdlpPlaylistEntry struct{ URL, Title, Uploader string }

// newYtdlp returns a new yt-dlp command with the shared setup applied
func newYtdlp() *ytdlp.Command {
	cmd := ytdlp.New().
		Quiet().
		NoWarnings()

	if proxy := os.Getenv("YOUTUBE_PROXY"); proxy != "" {
		cmd.Proxy(proxy)
	}

	return cmd
}

// buildYtdlpArgs returns common args for yt-dlp commands
func buildYtdlpArgs() []string {
	jsOnce.Do(func() {
		for _, rt := range []string{"node", "deno", "quickjs"} {
			if path, err := exec.LookPath(rt); err == nil {
				cachedJSArgs = append(cachedJSArgs, "--js-runtimes", rt+":"+path)
				break
			}
		}
	})

	args := append([]string(nil), cachedJSArgs...)
	args = append(args,
		"--no-playlist",
		"--no-check-certificates",
		"--no-warnings",
		"--extractor-args", "youtube:player_client=android,web",
		"--prefer-free-formats",
		"--socket-timeout", "30",
		"--retries", "20",
		"--fragment-retries", "20",
	)
	return args
}

func ytdlpExtractMetadata(ctx context.Context, u string) (*ytdlpMetadata, error) {
	u = strings.Replace(u, "music.youtube.com", "www.youtube.com", 1)

	cmd := newYtdlp()

	args := buildYtdlpArgs()
	args = append(args, "-f", "bestaudio[ext=webm]/bestaudio[ext=m4a]/bestaudio/best")
	res, err := cmd.
		Print("%(webpage_url)s\t%(url)s\t%(title)s\t%(uploader)s\t%(duration)s").
		NoWarnings().
		IgnoreConfig().
		Run(ctx, append(args, "--skip-download", u)...)

	if err != nil {
		if res != nil {
			LogResolver("yt-dlp metadata failed: %v, stderr: %s (URL: %s)", err, res.Stderr, u)
		}
		return nil, err
	}

	for _, l := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		if meta, ok := parseMetadataLine(l); ok {
			return meta, nil
		}
	}
	return nil, errors.New("failed to parse metadata")
}

func parseMetadataLine(line string) (*ytdlpMetadata, bool) {
	ps := strings.Split(line, "\t")
	if len(ps) < 5 || ps[2] == "" || ps[2] == "NA" {
		return nil, false
	}
	d, _ := time.ParseDuration(ps[4] + "s")
	return &ytdlpMetadata{PageURL: ps[0], MediaURL: ps[1], Title: ps[2], Uploader: ps[3], Duration: d}, true
}

func ytdlpExtractPlaylist(ctx context.Context, u string, m int) ([]ytdlpPlaylistEntry, error) {
	cmd := newYtdlp()

	args := buildYtdlpArgs()
	res, err := cmd.
		FlatPlaylist().
		Print("%(url)s\t%(title)s\t%(uploader)s\t%(id)s").
		PlaylistItems(fmt.Sprintf("1-%d", m)).
		NoWarnings().
		IgnoreConfig().
		Run(ctx, append(args, u, "--yes-playlist")...)

	if err != nil {
		return nil, fmt.Errorf("yt-dlp playlist failed: %w", err)
	}

	return parsePlaylistLines(strings.Split(strings.TrimSpace(res.Stdout), "\n"), isYouTubeURL(u) || strings.Contains(u, "music.youtube.com")), nil
}

func parsePlaylistLines(lines []string, isYouTube bool) []ytdlpPlaylistEntry {
	es := make([]ytdlpPlaylistEntry, 0, len(lines))
	for _, l := range lines {
		ps := strings.Split(l, "\t")
		if len(ps) < 3 || ps[1] == "" || ps[1] == "NA" {
			continue
		}
		url := ps[0]

		if isYouTube && len(ps) >= 4 {
			id := ps[3]
			if id != "" && id != "NA" {
				url = "https://www.youtube.com/watch?v=" + id
			}
		}

		es = append(es, ytdlpPlaylistEntry{URL: url, Title: ps[1], Uploader: ps[2]})
	}
	return es
}

func extractVideoID(u string) string {
	id := ""
	if matches := videoIDRegex.FindStringSubmatch(u); len(matches) > 1 {
		id = matches[1]
	} else if matches := rawIDRegex.FindStringSubmatch(u); len(matches) > 1 {
		id = matches[1]
	} else if strings.Contains(u, "youtu.be/") {
		parts := strings.Split(u, "youtu.be/")
		if len(parts) >= 2 {
			vidParts := strings.Split(parts[1], "?")
			if len(vidParts) > 0 {
				id = vidParts[0]
			}
		}
	}
	return id
}

func isYouTubeURL(u string) bool {
	return extractVideoID(u) != "" || strings.Contains(u, "youtube.com") || strings.Contains(u, "youtu.be")
}
