// Package drive stores the daily dataset as a single JSON file in the
// Google Drive application data folder.
package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goodtune/skilltrack/internal/storage"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	drivev3 "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	appDataFolder = "appDataFolder"
	mimeJSON      = "application/json"
	fileFields    = "id, modifiedTime"
)

// ErrUnauthorized is returned when the API rejects the access token.
var ErrUnauthorized = errors.New("drive: unauthorized")

// FileRef identifies a remote file.
type FileRef struct {
	ID           string
	ModifiedTime time.Time
}

// Client opens authenticated sessions against the Drive API.
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a new Drive client. An empty endpoint uses the public
// API; httpClient may be nil.
func NewClient(endpoint string, httpClient *http.Client, logger zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		endpoint:   endpoint,
		httpClient: httpClient,
		logger:     logger.With().Str("component", "drive").Logger(),
	}
}

// Session is a Drive service bound to one access token.
type Session struct {
	service *drivev3.Service
	logger  zerolog.Logger
}

// Open returns a session that sends accessToken as a bearer token.
func (c *Client) Open(ctx context.Context, accessToken string) (*Session, error) {
	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	base := context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	opts := []option.ClientOption{option.WithHTTPClient(oauth2.NewClient(base, source))}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}

	service, err := drivev3.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	return &Session{service: service, logger: c.logger}, nil
}

var queryEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

// queryLiteral escapes s for use inside a quoted Drive query string.
func queryLiteral(s string) string {
	return queryEscaper.Replace(s)
}

// Find returns the newest file named name, or nil when there is none.
func (s *Session) Find(ctx context.Context, name string) (*FileRef, error) {
	query := fmt.Sprintf("name = '%s' and '%s' in parents and trashed = false", queryLiteral(name), appDataFolder)
	list, err := s.service.Files.List().
		Spaces(appDataFolder).
		Q(query).
		Fields("files(id, modifiedTime)").
		OrderBy("modifiedTime desc").
		Context(ctx).
		Do()
	if err != nil {
		return nil, mapError("list files", err)
	}
	if len(list.Files) == 0 {
		return nil, nil
	}
	if len(list.Files) > 1 {
		s.logger.Warn().Int("count", len(list.Files)).Str("name", name).Msg("Multiple remote files found, using the newest")
	}
	return toRef(list.Files[0]), nil
}

// Download fetches and decodes the dataset in ref. Keys that are not day
// keys, and values that are not records, are ignored.
func (s *Session) Download(ctx context.Context, ref *FileRef) (storage.Dataset, error) {
	resp, err := s.service.Files.Get(ref.ID).Context(ctx).Download()
	if err != nil {
		return nil, mapError("download file", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return s.decode(body)
}

func (s *Session) decode(body []byte) (storage.Dataset, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode remote dataset: %w", err)
	}

	dataset := make(storage.Dataset, len(raw))
	for key, value := range raw {
		if !storage.IsDateKey(key) {
			continue
		}
		var record storage.DailyRecord
		if err := json.Unmarshal(value, &record); err != nil {
			s.logger.Debug().Err(err).Str("date", key).Msg("Skipping malformed remote record")
			continue
		}
		dataset[key] = record
	}
	return dataset, nil
}

// Upload writes dataset as the file content. A nil ref creates a new file
// named name in the application data folder.
func (s *Session) Upload(ctx context.Context, name string, dataset storage.Dataset, ref *FileRef) (*FileRef, error) {
	body, err := json.Marshal(dataset)
	if err != nil {
		return nil, fmt.Errorf("encode dataset: %w", err)
	}
	media := bytes.NewReader(body)

	var file *drivev3.File
	if ref == nil {
		file, err = s.service.Files.Create(&drivev3.File{
			Name:     name,
			MimeType: mimeJSON,
			Parents:  []string{appDataFolder},
		}).Media(media, googleapi.ContentType(mimeJSON)).
			Fields(fileFields).
			Context(ctx).
			Do()
		if err != nil {
			return nil, mapError("create file", err)
		}
	} else {
		file, err = s.service.Files.Update(ref.ID, &drivev3.File{}).
			Media(media, googleapi.ContentType(mimeJSON)).
			Fields(fileFields).
			Context(ctx).
			Do()
		if err != nil {
			return nil, mapError("update file", err)
		}
	}

	s.logger.Debug().Str("file_id", file.Id).Int("days", len(dataset)).Msg("Uploaded dataset")
	return toRef(file), nil
}

func toRef(file *drivev3.File) *FileRef {
	ref := &FileRef{ID: file.Id}
	if t, err := time.Parse(time.RFC3339, file.ModifiedTime); err == nil {
		ref.ModifiedTime = t
	}
	return ref
}

func mapError(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusUnauthorized {
		return fmt.Errorf("%s: %w", op, ErrUnauthorized)
	}
	return fmt.Errorf("%s: %w", op, err)
}
