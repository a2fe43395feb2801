package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	sealedfs "github.com/kenneth/sealedfs"
	"github.com/kenneth/sealedfs/eid"
	"github.com/kenneth/sealedfs/storage"
)

// requestIDHeader correlates a client call with the server's access log;
// every request gets a fresh github.com/google/uuid value.
const requestIDHeader = "X-Request-Id"

// Backend is the zbox:// HTTP client implementation of storage.Backend.
// The zero value is not usable; construct with New.
type Backend struct {
	baseURL string
	http    *http.Client
	log     *logrus.Entry
}

// New creates a client backend against a zbox:// server at baseURL
// (e.g. "http://localhost:8080").
func New(baseURL string) *Backend {
	return &Backend{
		baseURL: baseURL,
		http:    http.DefaultClient,
		log:     logrus.StandardLogger().WithField("component", "storage/remote.Backend"),
	}
}

func (b *Backend) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reader)
	if err != nil {
		return nil, storage.WrapIO("remote.do", err)
	}
	reqID := uuid.NewString()
	req.Header.Set(requestIDHeader, reqID)
	resp, err := b.http.Do(req)
	if err != nil {
		return nil, storage.WrapIO("remote.do", err)
	}
	b.log.WithFields(logrus.Fields{"request_id": reqID, "method": method, "path": path, "status": resp.StatusCode}).Debug("zbox request")
	return resp, nil
}

func isNotFound(err error) bool { return sealedfs.Is(err, sealedfs.KindNotFound) }

func statusErr(op string, resp *http.Response) error {
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		return nil
	case http.StatusNotFound:
		return storage.ErrNotFound(op)
	default:
		return storage.WrapIO(op, fmt.Errorf("zbox: unexpected status %d: %s", resp.StatusCode, body))
	}
}

func (b *Backend) Exists(ctx context.Context) (bool, error) {
	resp, err := b.do(ctx, http.MethodGet, "/repo", nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

func (b *Backend) Connect(ctx context.Context, force bool) error {
	path := "/repo/connect"
	if force {
		path += "?force=true"
	}
	resp, err := b.do(ctx, http.MethodPost, path, nil)
	if err != nil {
		return err
	}
	return statusErr("remote.Connect", resp)
}

func (b *Backend) Init(ctx context.Context) error {
	resp, err := b.do(ctx, http.MethodPost, "/repo", nil)
	if err != nil {
		return err
	}
	return statusErr("remote.Init", resp)
}

func (b *Backend) Open(ctx context.Context, force bool) error {
	return b.Connect(ctx, force)
}

func (b *Backend) GetSuperBlock(ctx context.Context, suffix int) ([]byte, error) {
	resp, err := b.do(ctx, http.MethodGet, fmt.Sprintf("/super/%d", suffix), nil)
	if err != nil {
		return nil, err
	}
	return readBody("remote.GetSuperBlock", resp)
}

func (b *Backend) PutSuperBlock(ctx context.Context, suffix int, data []byte) error {
	resp, err := b.do(ctx, http.MethodPut, fmt.Sprintf("/super/%d", suffix), data)
	if err != nil {
		return err
	}
	return statusErr("remote.PutSuperBlock", resp)
}

func (b *Backend) GetWal(ctx context.Context, id eid.ID) ([]byte, error) {
	resp, err := b.do(ctx, http.MethodGet, "/wal/"+id.String(), nil)
	if err != nil {
		return nil, err
	}
	return readBody("remote.GetWal", resp)
}

func (b *Backend) PutWal(ctx context.Context, id eid.ID, data []byte) error {
	resp, err := b.do(ctx, http.MethodPut, "/wal/"+id.String(), data)
	if err != nil {
		return err
	}
	return statusErr("remote.PutWal", resp)
}

func (b *Backend) DelWal(ctx context.Context, id eid.ID) error {
	resp, err := b.do(ctx, http.MethodDelete, "/wal/"+id.String(), nil)
	if err != nil {
		return err
	}
	return statusErr("remote.DelWal", resp)
}

func (b *Backend) GetAddress(ctx context.Context, id eid.ID) ([]byte, error) {
	resp, err := b.do(ctx, http.MethodGet, "/address/"+id.String(), nil)
	if err != nil {
		return nil, err
	}
	return readBody("remote.GetAddress", resp)
}

func (b *Backend) PutAddress(ctx context.Context, id eid.ID, data []byte) error {
	resp, err := b.do(ctx, http.MethodPut, "/address/"+id.String(), data)
	if err != nil {
		return err
	}
	return statusErr("remote.PutAddress", resp)
}

func (b *Backend) DelAddress(ctx context.Context, id eid.ID) error {
	resp, err := b.do(ctx, http.MethodDelete, "/address/"+id.String(), nil)
	if err != nil {
		return err
	}
	return statusErr("remote.DelAddress", resp)
}

func (b *Backend) GetBlocks(ctx context.Context, dst []byte, span storage.BlockSpan) error {
	path := fmt.Sprintf("/blocks/%d/%d", span.Begin, span.Cnt)
	resp, err := b.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	data, err := readBody("remote.GetBlocks", resp)
	if err != nil {
		return err
	}
	if int64(len(data)) != span.Len() || int64(len(dst)) < span.Len() {
		return storage.ErrInvalidURI("remote.GetBlocks")
	}
	copy(dst, data)
	return nil
}

func (b *Backend) PutBlocks(ctx context.Context, span storage.BlockSpan, src []byte) error {
	path := fmt.Sprintf("/blocks/%d/%d", span.Begin, span.Cnt)
	resp, err := b.do(ctx, http.MethodPut, path, src)
	if err != nil {
		return err
	}
	return statusErr("remote.PutBlocks", resp)
}

func (b *Backend) DelBlocks(ctx context.Context, span storage.BlockSpan) error {
	path := fmt.Sprintf("/blocks/%d/%d", span.Begin, span.Cnt)
	resp, err := b.do(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	return statusErr("remote.DelBlocks", resp)
}

func (b *Backend) Flush(ctx context.Context) error {
	resp, err := b.do(ctx, http.MethodPost, "/repo/flush", nil)
	if err != nil {
		return err
	}
	return statusErr("remote.Flush", resp)
}

func (b *Backend) Destroy(ctx context.Context) error {
	resp, err := b.do(ctx, http.MethodDelete, "/repo", nil)
	if err != nil {
		return err
	}
	return statusErr("remote.Destroy", resp)
}

func (b *Backend) Close(ctx context.Context) error {
	resp, err := b.do(ctx, http.MethodPost, "/repo/close", nil)
	if err != nil {
		return err
	}
	return statusErr("remote.Close", resp)
}

func readBody(op string, resp *http.Response) ([]byte, error) {
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, storage.ErrNotFound(op)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, storage.WrapIO(op, fmt.Errorf("zbox: unexpected status %d: %s", resp.StatusCode, body))
	}
	return io.ReadAll(resp.Body)
}
