package extract

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/kkdai/youtube/v2"

	"github.com/raai2005/ai-learning-assistant-RAG/internal/apperr"
)

var videoIDPattern = regexp.MustCompile(`(?:v=|/v/|youtu\.be/|/embed/|/shorts/)([a-zA-Z0-9_-]{11})`)

// ErrCaptionsDisabled is returned by a VideoSource when the uploader turned
// captions off.
var ErrCaptionsDisabled = errors.New("captions disabled")

// VideoID resolves the 11 character id from watch, short link, embed and
// shorts URLs.
func VideoID(rawURL string) (string, error) {
	m := videoIDPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return "", apperr.Input(fmt.Sprintf("Could not extract video ID from URL: %s", rawURL))
	}
	return m[1], nil
}

type VideoInfo struct {
	ID       string
	Title    string
	Duration time.Duration
}

// PlaceholderTitle is used when the real title cannot be fetched.
func PlaceholderTitle(id string) string {
	return fmt.Sprintf("YouTube Video (%s)", id)
}

// VideoSource is the upstream video platform.
type VideoSource interface {
	// Lookup returns video metadata and caption language codes in upstream order.
	Lookup(ctx context.Context, id string) (VideoInfo, []string, error)
	Transcript(ctx context.Context, id, lang string) ([]string, error)
}

type Transcript struct {
	VideoID  string
	Language string
	Text     string
	Segments int
}

type YouTube struct {
	source VideoSource
}

func NewYouTube(source VideoSource) *YouTube {
	return &YouTube{source: source}
}

// Describe resolves title and duration. It never fails: when the lookup
// does, a placeholder title derived from the id is returned.
func (y *YouTube) Describe(ctx context.Context, id string) VideoInfo {
	info, _, err := y.source.Lookup(ctx, id)
	if err != nil || strings.TrimSpace(info.Title) == "" {
		return VideoInfo{ID: id, Title: PlaceholderTitle(id), Duration: info.Duration}
	}
	info.ID = id
	return info
}

// Extract fetches the transcript, preferring English and otherwise taking
// the first available track.
func (y *YouTube) Extract(ctx context.Context, rawURL string) (Transcript, error) {
	id, err := VideoID(rawURL)
	if err != nil {
		return Transcript{}, err
	}

	_, tracks, err := y.source.Lookup(ctx, id)
	if err != nil {
		return Transcript{}, apperr.SourceUnavailable("Could not fetch this video from YouTube.", err)
	}
	if len(tracks) == 0 {
		return Transcript{}, apperr.NoTranscript("No transcripts are available for this video.", nil)
	}

	lang := pickTrack(tracks)
	segments, err := y.source.Transcript(ctx, id, lang)
	if errors.Is(err, ErrCaptionsDisabled) {
		return Transcript{}, apperr.NoTranscript("Transcripts are disabled for this video.", err)
	}
	if err != nil {
		return Transcript{}, apperr.SourceUnavailable("Could not fetch the transcript for this video.", err)
	}

	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return Transcript{}, apperr.NoTranscript("The transcript for this video is empty.", nil)
	}

	return Transcript{
		VideoID:  id,
		Language: lang,
		Text:     strings.Join(parts, " "),
		Segments: len(parts),
	}, nil
}

func pickTrack(langs []string) string {
	for _, l := range langs {
		if l == "en" {
			return l
		}
	}
	for _, l := range langs {
		if strings.HasPrefix(l, "en-") {
			return l
		}
	}
	return langs[0]
}

// KkdaiSource reads metadata and captions through github.com/kkdai/youtube.
type KkdaiSource struct {
	client *youtube.Client
}

func NewKkdaiSource(client *youtube.Client) *KkdaiSource {
	if client == nil {
		client = &youtube.Client{}
	}
	return &KkdaiSource{client: client}
}

func (s *KkdaiSource) Lookup(ctx context.Context, id string) (VideoInfo, []string, error) {
	video, err := s.client.GetVideoContext(ctx, id)
	if err != nil {
		return VideoInfo{ID: id}, nil, err
	}
	langs := make([]string, 0, len(video.CaptionTracks))
	for _, t := range video.CaptionTracks {
		langs = append(langs, t.LanguageCode)
	}
	return VideoInfo{ID: id, Title: video.Title, Duration: video.Duration}, langs, nil
}

func (s *KkdaiSource) Transcript(ctx context.Context, id, lang string) ([]string, error) {
	transcript, err := s.client.GetTranscriptCtx(ctx, &youtube.Video{ID: id}, lang)
	if errors.Is(err, youtube.ErrTranscriptDisabled) {
		return nil, fmt.Errorf("%w: %v", ErrCaptionsDisabled, err)
	}
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(transcript))
	for _, seg := range transcript {
		out = append(out, seg.Text)
	}
	return out, nil
}
