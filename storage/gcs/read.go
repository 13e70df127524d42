package gcs

import (
	"context"
	"fmt"
	"io"

	"github.com/pgbackrest/pgbackrest-sub008/httpclient"
	"github.com/pgbackrest/pgbackrest-sub008/ioerr"
	"github.com/pgbackrest/pgbackrest-sub008/iostream"
	"github.com/pgbackrest/pgbackrest-sub008/storage"
)

type gcsReadCloser struct {
	resp *httpclient.Response
}

func (r *gcsReadCloser) Read(p []byte) (int, error) { return r.resp.Read(p) }
func (r *gcsReadCloser) Close() error                { return r.resp.Close() }

// NewRead opens a GET against the object's media endpoint (alt=media),
// ranged by params.Offset/params.Limit, wrapped in
// storage.NewRetryingRead per spec.md §3's storage-read retry.
func (s *Storage) NewRead(ctx context.Context, params storage.ReadParams) (*iostream.IoRead, error) {
	if params.IgnoreMissing {
		info, err := s.Info(ctx, params.Name, storage.LevelExists, false)
		if err != nil {
			return nil, err
		}
		if !info.Exists {
			return iostream.NewIoRead(io.NopCloser(emptyReader{}), params.Filter), nil
		}
	}

	reopen := func(ctx context.Context, offset, limit int64) (io.ReadCloser, error) {
		req := httpclient.NewRequest("GET", s.objectURI(params.Name))
		req.Retryable = true
		req.Query.Set("alt", "media")

		if offset > 0 || limit > 0 {
			rng := fmt.Sprintf("bytes=%d-", offset)
			if limit > 0 {
				rng = fmt.Sprintf("bytes=%d-%d", offset, offset+limit-1)
			}
			if err := req.SetHeader("range", rng); err != nil {
				return nil, err
			}
		}

		resp, err := s.do(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp.Code == 404 {
			_ = resp.Close()
			return nil, ioerr.New(ioerr.KindFileMissing, fmt.Sprintf("gcs get %s: not found", params.Name))
		}
		if resp.Code != 200 && resp.Code != 206 {
			_ = resp.Close()
			return nil, ioerr.New(ioerr.KindService, fmt.Sprintf("gcs get %s: %d %s", params.Name, resp.Code, resp.Message))
		}
		return &gcsReadCloser{resp: resp}, nil
	}

	return storage.NewRetryingRead(ctx, reopen, params, params.Filter)
}

type emptyReader struct{}

func (emptyReader) Read([]byte) (int, error) { return 0, io.EOF }
