package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Http uses the relay REST endpoints to keep snapshots:
//
//	GET|PUT|DELETE {address}/sessions/{id}/whiteboard
type Http struct {
	address string
	token   string
	client  *http.Client
}

func NewHttp(address, token string, timeout time.Duration) (*Http, error) {
	if address == "" {
		return nil, errors.New("snapshot service address was not specified")
	}
	if _, err := url.Parse(address); err != nil {
		return nil, errors.Wrap(err, "snapshot service address")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Http{
		address: strings.TrimSuffix(address, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func (h *Http) url(key string) string {
	return h.address + "/sessions/" + url.PathEscape(key) + "/whiteboard"
}

func (h *Http) request(ctx context.Context, method, key string, body []byte) (*http.Response, error) {
	if err := CheckKey(key); err != nil {
		return nil, err
	}
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, h.url(key), r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Content-Md5", ContentMd5(body))
	}
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%v %v", method, key)
	}
	return resp, nil
}

func (h *Http) Load(ctx context.Context, key string) ([]byte, error) {
	resp, err := h.request(ctx, http.MethodGet, key, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrNotFound
	default:
		return nil, errors.Errorf("load %v: %v", key, resp.Status)
	}

	dat, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "load %v", key)
	}
	if sum := resp.Header.Get("Content-Md5"); sum != "" && sum != ContentMd5(dat) {
		return nil, fmt.Errorf("MD5 mismatch %v != %v", ContentMd5(dat), sum)
	}
	return dat, nil
}

func (h *Http) Save(ctx context.Context, key string, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	resp, err := h.request(ctx, http.MethodPut, key, data)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return errors.Errorf("save %v: %v", key, resp.Status)
	}
	return nil
}

func (h *Http) Delete(ctx context.Context, key string) error {
	resp, err := h.request(ctx, http.MethodDelete, key, nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	}
	return errors.Errorf("delete %v: %v", key, resp.Status)
}

// ContentMd5 is the value of the Content-Md5 header for the data.
func ContentMd5(data []byte) string {
	sum := md5.Sum(data)
	return base64.StdEncoding.EncodeToString(sum[:])
}
