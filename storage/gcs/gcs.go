// Package gcs implements spec.md's C7 Google Cloud Storage backend behind
// the C6 Storage interface. Grounded on
// backend/googlecloudstorage/googlecloudstorage.go's bucket/object JSON
// shape and its resumable-session upload flow; the wire-level plumbing is
// original, built on httpclient plus golang.org/x/oauth2 for bearer-token
// auth rather than the google-api-go-client generated service, per
// DESIGN.md's "Initial copy and trim" entry.
package gcs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/pgbackrest/pgbackrest-sub008/httpclient"
	"github.com/pgbackrest/pgbackrest-sub008/ioerr"
	"github.com/pgbackrest/pgbackrest-sub008/log"
	"github.com/pgbackrest/pgbackrest-sub008/storage"
)

const features = storage.FeaturePath

// resumableThreshold is the object size above which NewWrite opens a
// resumable upload session instead of a single uploadType=media POST,
// mirroring the teacher's decision to let the generated client choose
// simple vs resumable media upload based on size.
const resumableThreshold = 8 * 1024 * 1024

// chunkSize is the size of each PUT sent to a resumable session once one
// is open. GCS requires every chunk but the last to be a multiple of
// 256KiB; this also matches the teacher's default chunk size.
const chunkSize = 8 * 1024 * 1024

// Config is the set of options the caller resolves before constructing a
// Storage.
type Config struct {
	Bucket   string
	Endpoint string // host; empty selects "storage.googleapis.com"
	Port     int    // 0 selects 443
}

// Storage is a Google Cloud Storage backend reached over httpclient,
// authenticated with an OAuth2 bearer token from TokenSource.
type Storage struct {
	cfg         Config
	tokenSource oauth2.TokenSource
	client      *httpclient.Client
	log         log.Logger
	now         func() time.Time
}

// New returns a Storage for cfg, authenticating every request with a
// token drawn from tokenSource.
func New(cfg Config, tokenSource oauth2.TokenSource, client *httpclient.Client, logger log.Logger) *Storage {
	if logger == nil {
		logger = log.Nop{}
	}
	if cfg.Port == 0 {
		cfg.Port = 443
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "storage.googleapis.com"
	}
	return &Storage{cfg: cfg, tokenSource: tokenSource, client: client, log: logger, now: time.Now}
}

func (s *Storage) Features() storage.Feature { return features }

func (s *Storage) host() string { return s.cfg.Endpoint }

// objectURI is the JSON API path for a single object, e.g.
// "/storage/v1/b/bucket/o/key%2Fparts".
func (s *Storage) objectURI(key string) string {
	key = strings.TrimPrefix(key, "/")
	return "/storage/v1/b/" + s.cfg.Bucket + "/o/" + url.PathEscape(key)
}

// mediaURI is the upload path for simple and resumable media uploads.
func (s *Storage) mediaURI() string {
	return "/upload/storage/v1/b/" + s.cfg.Bucket + "/o"
}

func (s *Storage) sign(ctx context.Context, req *httpclient.Request) error {
	if s.tokenSource == nil {
		return nil
	}
	tok, err := s.tokenSource.Token()
	if err != nil {
		return ioerr.Wrap(ioerr.KindService, err, "retrieve gcs oauth2 token")
	}
	return req.SetHeader("authorization", "Bearer "+tok.AccessToken)
}

func (s *Storage) do(ctx context.Context, req *httpclient.Request) (*httpclient.Response, error) {
	if err := s.sign(ctx, req); err != nil {
		return nil, err
	}
	s.log.Debugf("gcs: %s %s%s", req.Verb, s.host(), req.Path)
	return s.client.Do(ctx, s.host(), s.cfg.Port, req)
}

// objectResource is the trimmed JSON shape of a GCS object resource.
type objectResource struct {
	Name    string `json:"name"`
	Size    string `json:"size"` // GCS renders size as a decimal string
	Updated string `json:"updated"`
}

func (s *Storage) Info(ctx context.Context, path string, level storage.InfoLevel, follow bool) (storage.Info, error) {
	req := httpclient.NewRequest("GET", s.objectURI(path))
	req.Retryable = true
	resp, err := s.do(ctx, req)
	if err != nil {
		return storage.Info{}, err
	}
	body, err := resp.ReadAll()
	closeErr := resp.Close()
	if err != nil {
		return storage.Info{}, err
	}
	if closeErr != nil {
		return storage.Info{}, closeErr
	}

	if resp.Code == 404 {
		return storage.Info{}, nil
	}
	if resp.Code != 200 {
		return storage.Info{}, ioerr.New(ioerr.KindService, fmt.Sprintf("gcs get object %s: %d %s", path, resp.Code, resp.Message))
	}

	var obj objectResource
	if err := json.Unmarshal(body, &obj); err != nil {
		return storage.Info{}, ioerr.Wrap(ioerr.KindFormat, err, "parse gcs object resource")
	}

	info := storage.Info{Exists: true, Type: storage.TypeFile}
	if n, perr := strconv.ParseInt(obj.Size, 10, 64); perr == nil {
		info.Size = n
	}
	if t, perr := time.Parse(time.RFC3339, obj.Updated); perr == nil {
		info.ModTime = t
	}
	return info, nil
}

// objectListResponse is the trimmed JSON shape of a
// storage.objects.list response.
type objectListResponse struct {
	Items         []objectResource `json:"items"`
	Prefixes      []string         `json:"prefixes"`
	NextPageToken string           `json:"nextPageToken"`
}

func (s *Storage) List(ctx context.Context, path string, level storage.InfoLevel, targetTime time.Time) ([]storage.ListEntry, error) {
	prefix := strings.TrimPrefix(path, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	var out []storage.ListEntry
	pageToken := ""
	for {
		req := httpclient.NewRequest("GET", "/storage/v1/b/"+s.cfg.Bucket+"/o")
		req.Retryable = true
		req.Query.Set("delimiter", "/")
		if prefix != "" {
			req.Query.Set("prefix", prefix)
		}
		if pageToken != "" {
			req.Query.Set("pageToken", pageToken)
		}

		resp, err := s.do(ctx, req)
		if err != nil {
			return nil, err
		}
		body, err := resp.ReadAll()
		closeErr := resp.Close()
		if err != nil {
			return nil, err
		}
		if closeErr != nil {
			return nil, closeErr
		}
		if resp.Code != 200 {
			return nil, ioerr.New(ioerr.KindService, fmt.Sprintf("gcs list %s: %d %s", path, resp.Code, resp.Message))
		}

		var result objectListResponse
		if err := json.Unmarshal(body, &result); err != nil {
			return nil, ioerr.Wrap(ioerr.KindFormat, err, "parse gcs list response")
		}

		for _, obj := range result.Items {
			name := strings.TrimPrefix(obj.Name, prefix)
			if name == "" {
				continue
			}
			info := storage.Info{Exists: true, Type: storage.TypeFile}
			if n, perr := strconv.ParseInt(obj.Size, 10, 64); perr == nil {
				info.Size = n
			}
			if t, perr := time.Parse(time.RFC3339, obj.Updated); perr == nil {
				info.ModTime = t
			}
			out = append(out, storage.ListEntry{Name: name, Info: info})
		}
		for _, p := range result.Prefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(p, prefix), "/")
			if name == "" {
				continue
			}
			out = append(out, storage.ListEntry{Name: name, Info: storage.Info{Exists: true, Type: storage.TypePath}})
		}

		if result.NextPageToken == "" {
			break
		}
		pageToken = result.NextPageToken
	}
	return out, nil
}

// PathCreate is a no-op: GCS has no directory objects, matching the
// teacher's own directory-marker-is-just-an-object-with-a-slash model.
func (s *Storage) PathCreate(ctx context.Context, path string, errorOnExists bool, noParentCreate bool, mode uint32) error {
	return nil
}

// PathRemove deletes every object under path's prefix when recurse is
// set; otherwise a no-op, for the same reason PathCreate is.
func (s *Storage) PathRemove(ctx context.Context, path string, recurse bool) error {
	if !recurse {
		return nil
	}
	entries, err := s.List(ctx, path, storage.LevelExists, time.Time{})
	if err != nil {
		return err
	}
	for _, e := range entries {
		key := strings.TrimSuffix(path, "/") + "/" + e.Name
		if e.Info.Type == storage.TypePath {
			if err := s.PathRemove(ctx, key, true); err != nil {
				return err
			}
			continue
		}
		if err := s.Remove(ctx, key, false); err != nil {
			return err
		}
	}
	return nil
}

// PathSync is a no-op: there is no local directory fsync concept.
func (s *Storage) PathSync(ctx context.Context, path string) error { return nil }

func (s *Storage) Remove(ctx context.Context, path string, errorOnMissing bool) error {
	req := httpclient.NewRequest("DELETE", s.objectURI(path))
	req.Retryable = true
	resp, err := s.do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Close()

	if resp.Code == 404 {
		if errorOnMissing {
			return ioerr.New(ioerr.KindFileMissing, fmt.Sprintf("gcs remove %s: not found", path))
		}
		return nil
	}
	if resp.Code != 204 {
		return ioerr.New(ioerr.KindService, fmt.Sprintf("gcs remove %s: %d %s", path, resp.Code, resp.Message))
	}
	return nil
}

// LinkCreate has no Google Cloud Storage equivalent; this backend does
// not advertise FeatureHardlink or FeatureSymlink.
func (s *Storage) LinkCreate(ctx context.Context, target, linkPath string, linkType storage.LinkType) error {
	return ioerr.New(ioerr.KindAssert, "gcs: LinkCreate is not a supported feature")
}

var _ storage.Storage = (*Storage)(nil)
