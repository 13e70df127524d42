package azureblob

import (
	"context"
	"fmt"
	"io"

	"github.com/pgbackrest/pgbackrest-sub008/httpclient"
	"github.com/pgbackrest/pgbackrest-sub008/ioerr"
	"github.com/pgbackrest/pgbackrest-sub008/iostream"
	"github.com/pgbackrest/pgbackrest-sub008/storage"
)

type azureReadCloser struct {
	resp *httpclient.Response
}

func (r *azureReadCloser) Read(p []byte) (int, error) { return r.resp.Read(p) }
func (r *azureReadCloser) Close() error                { return r.resp.Close() }

// NewRead opens a GET for params.Name, ranged by params.Offset/params.Limit,
// wrapped in storage.NewRetryingRead per spec.md §3's storage-read retry.
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
		req := httpclient.NewRequest("GET", s.uriFor(params.Name))
		req.Retryable = true

		if offset > 0 || limit > 0 {
			rng := fmt.Sprintf("bytes=%d-", offset)
			if limit > 0 {
				rng = fmt.Sprintf("bytes=%d-%d", offset, offset+limit-1)
			}
			if err := req.SetHeader("x-ms-range", rng); err != nil {
				return nil, err
			}
		}

		resp, err := s.do(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp.Code == 404 {
			_ = resp.Close()
			return nil, ioerr.New(ioerr.KindFileMissing, fmt.Sprintf("azureblob get %s: not found", params.Name))
		}
		if resp.Code != 200 && resp.Code != 206 {
			_ = resp.Close()
			return nil, ioerr.New(ioerr.KindService, fmt.Sprintf("azureblob get %s: %d %s", params.Name, resp.Code, resp.Message))
		}
		return &azureReadCloser{resp: resp}, nil
	}

	return storage.NewRetryingRead(ctx, reopen, params, params.Filter)
}

type emptyReader struct{}

func (emptyReader) Read([]byte) (int, error) { return 0, io.EOF }
