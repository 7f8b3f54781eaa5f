// Package hls resolves HLS playlists and fetches their media segments.
package hls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/grafov/m3u8"

	grabhttp "github.com/justchokingaround/hlsgrab/internal/http"
)

// Segment is one media segment as listed by the playlist.
type Segment struct {
	SequenceIndex uint    `json:"sequence_index"`
	URI           string  `json:"uri"`
	Duration      float64 `json:"duration"`
}

// Manifest is a parsed media playlist.
type Manifest struct {
	// URL is the playlist URL after redirects.
	URL string `json:"url"`
	// BaseURI is URL with its final path component removed; relative
	// segment URIs resolve against it.
	BaseURI        string    `json:"base_uri"`
	Segments       []Segment `json:"segments"`
	TargetDuration float64   `json:"target_duration"`
	MediaSequence  uint64    `json:"media_sequence"`
	Closed         bool      `json:"closed"`
	// Bandwidth of the variant picked from a master playlist, 0 otherwise.
	Bandwidth uint32 `json:"bandwidth,omitempty"`
}

// TotalDuration returns the summed segment durations in seconds.
func (m *Manifest) TotalDuration() float64 {
	var total float64
	for _, s := range m.Segments {
		total += s.Duration
	}
	return total
}

// Resolver fetches and parses playlists
type Resolver struct {
	client *grabhttp.Client
	logger *slog.Logger
}

// NewResolver creates a resolver on top of client
func NewResolver(client *grabhttp.Client, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		client: client,
		logger: logger.With("component", "resolver"),
	}
}

// Resolve fetches the playlist at manifestURL and returns its segments in
// playlist order. A master playlist is followed to its highest-bandwidth
// variant.
func (r *Resolver) Resolve(ctx context.Context, manifestURL string, headers map[string]string) (*Manifest, error) {
	text, finalURL, err := r.fetch(ctx, manifestURL, headers)
	if err != nil {
		return nil, err
	}

	pl, listType, err := m3u8.DecodeFrom(strings.NewReader(text), false)
	if err != nil {
		if looksEmpty(text) {
			return nil, ErrEmptyManifest
		}
		return nil, fmt.Errorf("failed to parse playlist %s: %w", finalURL, err)
	}

	var bandwidth uint32
	if listType == m3u8.MASTER {
		variantURL, bw, err := selectBestVariant(pl.(*m3u8.MasterPlaylist), finalURL)
		if err != nil {
			return nil, err
		}
		r.logger.Info("selected variant from master playlist", "url", variantURL, "bandwidth", bw)

		text, finalURL, err = r.fetch(ctx, variantURL, headers)
		if err != nil {
			return nil, err
		}
		pl, listType, err = m3u8.DecodeFrom(strings.NewReader(text), false)
		if err != nil {
			if looksEmpty(text) {
				return nil, ErrEmptyManifest
			}
			return nil, fmt.Errorf("failed to parse variant playlist %s: %w", finalURL, err)
		}
		if listType != m3u8.MEDIA {
			return nil, fmt.Errorf("expected media playlist at %s", finalURL)
		}
		bandwidth = bw
	}

	media, ok := pl.(*m3u8.MediaPlaylist)
	if !ok {
		return nil, fmt.Errorf("unsupported playlist type at %s", finalURL)
	}

	manifest, err := buildManifest(media, finalURL)
	if err != nil {
		return nil, err
	}
	manifest.Bandwidth = bandwidth

	if !manifest.Closed {
		r.logger.Warn("playlist has no end marker, downloading current snapshot", "url", finalURL, "segments", len(manifest.Segments))
	}
	r.logger.Debug("playlist resolved",
		"url", finalURL,
		"segments", len(manifest.Segments),
		"duration", manifest.TotalDuration())

	return manifest, nil
}

// fetch issues a single GET and classifies failures
func (r *Resolver) fetch(ctx context.Context, rawURL string, headers map[string]string) (string, string, error) {
	resp, err := r.client.Get(ctx, rawURL, headers)
	if err != nil {
		return "", "", classify(rawURL, err)
	}
	return resp.String(), grabhttp.FinalURL(resp), nil
}

func buildManifest(media *m3u8.MediaPlaylist, finalURL string) (*Manifest, error) {
	base, err := BaseURI(finalURL)
	if err != nil {
		return nil, err
	}

	if encrypted(media.Key) {
		return nil, ErrEncrypted
	}

	manifest := &Manifest{
		URL:            finalURL,
		BaseURI:        base,
		TargetDuration: media.TargetDuration,
		MediaSequence:  media.SeqNo,
		Closed:         media.Closed,
	}

	var index uint
	for _, seg := range media.Segments {
		if seg == nil || seg.URI == "" {
			continue
		}
		if encrypted(seg.Key) {
			return nil, ErrEncrypted
		}
		manifest.Segments = append(manifest.Segments, Segment{
			SequenceIndex: index,
			URI:           strings.TrimSpace(seg.URI),
			Duration:      seg.Duration,
		})
		index++
	}

	if len(manifest.Segments) == 0 {
		return nil, ErrEmptyManifest
	}

	return manifest, nil
}

// selectBestVariant picks the variant with the highest bandwidth; the first
// one listed wins a tie.
func selectBestVariant(master *m3u8.MasterPlaylist, masterURL string) (string, uint32, error) {
	var best *m3u8.Variant
	for _, v := range master.Variants {
		if v == nil || v.URI == "" {
			continue
		}
		if best == nil || v.Bandwidth > best.Bandwidth {
			best = v
		}
	}
	if best == nil {
		return "", 0, fmt.Errorf("no suitable stream found in master playlist")
	}

	base, err := BaseURI(masterURL)
	if err != nil {
		return "", 0, err
	}
	variantURL, err := ResolveURI(base, best.URI)
	if err != nil {
		return "", 0, err
	}
	return variantURL, best.Bandwidth, nil
}

// BaseURI strips the final path component (and any query) from rawURL,
// keeping the trailing slash so that relative references resolve inside
// the playlist's directory.
func BaseURI(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid playlist URL %q: %w", rawURL, err)
	}
	if !u.IsAbs() {
		return "", fmt.Errorf("playlist URL %q is not absolute", rawURL)
	}

	base := *u
	base.RawQuery = ""
	base.Fragment = ""
	base.RawPath = ""
	if idx := strings.LastIndex(base.Path, "/"); idx >= 0 {
		base.Path = base.Path[:idx+1]
	} else {
		base.Path = "/"
	}
	return base.String(), nil
}

// ResolveURI resolves ref against base following RFC 3986.
func ResolveURI(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base URI %q: %w", base, err)
	}
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("invalid segment URI %q: %w", ref, err)
	}
	return b.ResolveReference(r).String(), nil
}

// classify maps a transport error onto the fetch error taxonomy. Context
// cancellation is passed through untouched; a deadline is treated as a
// transient timeout and callers check their own context before retrying.
func classify(rawURL string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}

	var statusErr *grabhttp.StatusError
	if errors.As(err, &statusErr) {
		if grabhttp.IsAuthStatus(statusErr.StatusCode) {
			return &AuthExpiredError{URL: rawURL, StatusCode: statusErr.StatusCode}
		}
		return &TransientNetworkError{URL: rawURL, StatusCode: statusErr.StatusCode, Err: err}
	}

	return &TransientNetworkError{URL: rawURL, Err: err}
}

func encrypted(key *m3u8.Key) bool {
	return key != nil && key.Method != "" && !strings.EqualFold(key.Method, "NONE")
}

// looksEmpty reports whether text is a playlist header without any media
// or variant entries.
func looksEmpty(text string) bool {
	return strings.Contains(text, "#EXTM3U") &&
		!strings.Contains(text, "#EXTINF") &&
		!strings.Contains(text, "#EXT-X-STREAM-INF")
}
