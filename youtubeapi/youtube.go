// Package youtubeapi wraps Google OAuth2 client config and the YouTube Data API
// for the single purpose of uploading captured streams. Tokens are persisted via
// the provided TokenStore so refreshed credentials survive restarts and stay
// compatible with the youtubeuploader token cache.
package youtubeapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"
)

// Metadata is the video description document. Its JSON form is the file
// youtubeuploader reads with -metaJSON.
type Metadata struct {
	Title          string   `json:"title"`
	PrivacyStatus  string   `json:"privacyStatus"`
	Description    string   `json:"description"`
	PlaylistTitles []string `json:"playlistTitles"`
}

// WriteFile writes m as JSON to path.
func (m Metadata) WriteFile(path string) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

type TokenStore interface {
	Load(ctx context.Context) (*oauth2.Token, error)
	Save(ctx context.Context, tok *oauth2.Token) error
}

// FileTokenStore keeps the token as oauth2.Token JSON, the same layout
// youtubeuploader uses for its -cache file.
type FileTokenStore struct {
	Path string
}

func (f FileTokenStore) Load(_ context.Context) (*oauth2.Token, error) {
	b, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read token: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(b, &tok); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	return &tok, nil
}

// Save replaces the token file atomically.
func (f FileTokenStore) Save(_ context.Context, tok *oauth2.Token) error {
	b, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.Path), ".token-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), f.Path)
}

type Service struct {
	oauth *oauth2.Config
	store TokenStore
	// Endpoint overrides the API base URL; tests point it at httptest.
	Endpoint string
}

// New reads the Google client secrets file and uses tokenPath as the token cache.
func New(secretsPath, tokenPath string) (*Service, error) {
	b, err := os.ReadFile(secretsPath)
	if err != nil {
		return nil, fmt.Errorf("read client secrets: %w", err)
	}
	cfg, err := google.ConfigFromJSON(b, yt.YoutubeUploadScope, yt.YoutubeScope)
	if err != nil {
		return nil, fmt.Errorf("parse client secrets: %w", err)
	}
	return NewWithStore(cfg, FileTokenStore{Path: tokenPath}), nil
}

func NewWithStore(cfg *oauth2.Config, ts TokenStore) *Service {
	return &Service{oauth: cfg, store: ts}
}

// Store returns the token cache the service reads and writes.
func (s *Service) Store() TokenStore { return s.store }

// RefreshToken exchanges the refresh token of tok for a new access token,
// regardless of the current expiry.
func (s *Service) RefreshToken(ctx context.Context, tok *oauth2.Token) (*oauth2.Token, error) {
	newTok, err := s.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: tok.RefreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("refresh youtube token: %w", err)
	}
	return newTok, nil
}

func (s *Service) refreshIfNeeded(ctx context.Context) (*oauth2.Token, error) {
	tok, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, errors.New("no youtube token stored")
	}
	if time.Until(tok.Expiry) > 2*time.Minute {
		return tok, nil
	}
	newTok, err := s.oauth.TokenSource(ctx, tok).Token()
	if err != nil {
		return tok, fmt.Errorf("refresh youtube token: %w", err)
	}
	if err := s.store.Save(ctx, newTok); err != nil {
		slog.Warn("youtube token save failed", slog.Any("err", err))
	}
	return newTok, nil
}

func (s *Service) Client(ctx context.Context) (*yt.Service, error) {
	tok, err := s.refreshIfNeeded(ctx)
	if err != nil {
		return nil, err
	}
	opts := []option.ClientOption{option.WithHTTPClient(s.oauth.Client(ctx, tok))}
	if s.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(s.Endpoint))
	}
	return yt.NewService(ctx, opts...)
}

// Upload streams r to YouTube and files the video into every playlist named in m.
// Playlist failures are logged; the upload itself still counts.
func (s *Service) Upload(ctx context.Context, r io.Reader, m Metadata) (string, error) {
	svc, err := s.Client(ctx)
	if err != nil {
		return "", err
	}
	id, err := UploadVideo(ctx, svc, r, m)
	if err != nil {
		return "", err
	}
	for _, title := range m.PlaylistTitles {
		if title == "" {
			continue
		}
		if err := AddToPlaylist(ctx, svc, id, title); err != nil {
			slog.Warn("youtube playlist add failed", slog.String("playlist", title), slog.String("video_id", id), slog.Any("err", err))
		}
	}
	return "https://www.youtube.com/watch?v=" + id, nil
}

// UploadVideo inserts a video read from r and returns its id.
func UploadVideo(ctx context.Context, svc *yt.Service, r io.Reader, m Metadata) (string, error) {
	if svc == nil {
		return "", fmt.Errorf("nil youtube service")
	}
	privacy := m.PrivacyStatus
	if privacy == "" {
		privacy = "private"
	}
	video := &yt.Video{
		Snippet: &yt.VideoSnippet{Title: m.Title, Description: m.Description},
		Status:  &yt.VideoStatus{PrivacyStatus: privacy},
	}
	res, err := svc.Videos.Insert([]string{"snippet", "status"}, video).Media(r).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("youtube upload: %w", err)
	}
	if res.Id == "" {
		return "", fmt.Errorf("youtube upload: empty id")
	}
	return res.Id, nil
}

// AddToPlaylist appends videoID to the caller's playlist with the given title,
// creating a private playlist when none matches.
func AddToPlaylist(ctx context.Context, svc *yt.Service, videoID, title string) error {
	playlistID := ""
	err := svc.Playlists.List([]string{"snippet"}).Mine(true).MaxResults(50).Pages(ctx, func(resp *yt.PlaylistListResponse) error {
		for _, p := range resp.Items {
			if p.Snippet != nil && p.Snippet.Title == title {
				playlistID = p.Id
				return errStopPaging
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopPaging) {
		return fmt.Errorf("list playlists: %w", err)
	}
	if playlistID == "" {
		created, err := svc.Playlists.Insert([]string{"snippet", "status"}, &yt.Playlist{
			Snippet: &yt.PlaylistSnippet{Title: title},
			Status:  &yt.PlaylistStatus{PrivacyStatus: "private"},
		}).Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("create playlist: %w", err)
		}
		playlistID = created.Id
	}
	_, err = svc.PlaylistItems.Insert([]string{"snippet"}, &yt.PlaylistItem{
		Snippet: &yt.PlaylistItemSnippet{
			PlaylistId: playlistID,
			ResourceId: &yt.ResourceId{Kind: "youtube#video", VideoId: videoID},
		},
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("insert playlist item: %w", err)
	}
	return nil
}

var errStopPaging = errors.New("stop paging")
