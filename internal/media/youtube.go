package media

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	ytdl "github.com/kkdai/youtube/v2"
	"github.com/sirupsen/logrus"
)

var youtubePattern = regexp.MustCompile(`(?i)^https?://(www\.|m\.)?(youtube\.com/(watch\?|shorts/|live/)|youtu\.be/)`)

// IsYouTubeRef reports whether an audio reference is a YouTube URL rather
// than a platform media id.
func IsYouTubeRef(ref string) bool {
	return youtubePattern.MatchString(ref)
}

// VideoInfo is the metadata shown to the owner before a download is
// confirmed.
type VideoInfo struct {
	ID       string
	Title    string
	Author   string
	Duration time.Duration
}

// YouTubeDownloader fetches the audio-only stream of a video.
type YouTubeDownloader struct {
	client ytdl.Client
	log    *logrus.Entry
}

// NewYouTubeDownloader creates a YouTubeDownloader.
func NewYouTubeDownloader(log *logrus.Entry) *YouTubeDownloader {
	return &YouTubeDownloader{
		log: log.WithField("component", "youtube"),
	}
}

// Resolve fetches video metadata without downloading.
func (d *YouTubeDownloader) Resolve(ctx context.Context, videoURL string) (*VideoInfo, error) {
	video, err := d.client.GetVideoContext(ctx, videoURL)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve video: %w", err)
	}
	return &VideoInfo{
		ID:       video.ID,
		Title:    video.Title,
		Author:   video.Author,
		Duration: video.Duration,
	}, nil
}

// DownloadAudio fetches the best audio-only format into destDir and returns
// the file path. Formats are tried in descending bitrate order so a broken
// stream falls back to the next one.
func (d *YouTubeDownloader) DownloadAudio(ctx context.Context, videoURL, destDir string) (string, error) {
	video, err := d.client.GetVideoContext(ctx, videoURL)
	if err != nil {
		return "", fmt.Errorf("failed to resolve video: %w", err)
	}

	var formats []ytdl.Format
	for _, f := range video.Formats {
		if strings.HasPrefix(f.MimeType, "audio/") {
			formats = append(formats, f)
		}
	}
	if len(formats) == 0 {
		return "", fmt.Errorf("no audio-only formats available for %s", video.ID)
	}
	sort.Slice(formats, func(i, j int) bool {
		return formats[i].Bitrate > formats[j].Bitrate
	})

	var lastErr error
	for i := range formats {
		format := &formats[i]
		path, err := d.downloadFormat(ctx, video, format, destDir)
		if err != nil {
			d.log.WithError(err).WithField("itag", format.ItagNo).Warn("Audio format failed, trying next")
			lastErr = err
			continue
		}
		return path, nil
	}
	return "", fmt.Errorf("all audio formats failed for %s: %w", video.ID, lastErr)
}

func (d *YouTubeDownloader) downloadFormat(ctx context.Context, video *ytdl.Video, format *ytdl.Format, destDir string) (string, error) {
	stream, size, err := d.client.GetStreamContext(ctx, video, format)
	if err != nil {
		return "", fmt.Errorf("failed to get stream: %w", err)
	}
	defer stream.Close()

	path := filepath.Join(destDir, video.ID+extensionFor(format.MimeType))
	dest, err := os.Create(path)
	if err != nil {
		return "", err
	}

	written, err := io.Copy(dest, stream)
	dest.Close()
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to save stream: %w", err)
	}

	d.log.WithFields(logrus.Fields{
		"video_id":       video.ID,
		"itag":           format.ItagNo,
		"bytes":          written,
		"expected_bytes": size,
	}).Info("YouTube audio downloaded")

	return path, nil
}

func extensionFor(mimeType string) string {
	if strings.Contains(mimeType, "mp4") {
		return ".m4a"
	}
	if strings.Contains(mimeType, "webm") {
		return ".webm"
	}
	return ".audio"
}
