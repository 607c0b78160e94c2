package s3

import (
	"bufio"
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // etag only
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const mockPageSize = 2

// NewMockForTests returns a Store whose HTTP client talks to an in-process
// fake bucket. It supports the HEAD, GET, PUT, DELETE and ListObjectsV2
// calls the store issues, including paginated listings.
func NewMockForTests() *Store {
	store, err := New(context.Background(), Config{
		Region:          defaultRegion,
		Bucket:          "mock-bucket",
		Endpoint:        "https://mock.s3.local",
		AccessKeyID:     "AKIAMOCK",
		SecretAccessKey: "mock-secret",
		PathStyle:       true,
		HTTPClient:      &http.Client{Transport: newFakeBucket()},
	})
	if err != nil {
		panic(fmt.Sprintf("mock s3 store: %v", err))
	}
	return store
}

type fakeObject struct {
	body        []byte
	contentType string
	metadata    http.Header
	modified    time.Time
}

type fakeBucket struct {
	mu      sync.Mutex
	objects map[string]fakeObject
}

func newFakeBucket() *fakeBucket { return &fakeBucket{objects: make(map[string]fakeObject)} }

func (b *fakeBucket) RoundTrip(req *http.Request) (*http.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, key, _ := strings.Cut(strings.TrimPrefix(req.URL.Path, "/"), "/")
	if req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2" {
		return b.list(req), nil
	}
	switch req.Method {
	case http.MethodHead, http.MethodGet:
		obj, ok := b.objects[key]
		if !ok {
			return respond(http.StatusNotFound, nil, nil), nil
		}
		header := obj.headers()
		if req.Method == http.MethodHead {
			return respond(http.StatusOK, header, nil), nil
		}
		return respond(http.StatusOK, header, obj.body), nil
	case http.MethodPut:
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		if strings.Contains(req.Header.Get("Content-Encoding"), "aws-chunked") {
			if body, err = decodeAWSChunked(body); err != nil {
				return respond(http.StatusBadRequest, nil, nil), nil
			}
		}
		meta := http.Header{}
		for name, values := range req.Header {
			if strings.HasPrefix(strings.ToLower(name), "x-amz-meta-") {
				meta[name] = values
			}
		}
		b.objects[key] = fakeObject{
			body:        body,
			contentType: req.Header.Get("Content-Type"),
			metadata:    meta,
			modified:    time.Now().UTC().Truncate(time.Second),
		}
		return respond(http.StatusOK, http.Header{"Etag": {quotedETag(body)}}, nil), nil
	case http.MethodDelete:
		delete(b.objects, key)
		return respond(http.StatusNoContent, nil, nil), nil
	}
	return respond(http.StatusNotImplemented, nil, nil), nil
}

func (b *fakeBucket) list(req *http.Request) *http.Response {
	query := req.URL.Query()
	prefix, after := query.Get("prefix"), query.Get("continuation-token")
	keys := make([]string, 0, len(b.objects))
	for key := range b.objects {
		if strings.HasPrefix(key, prefix) && key > after {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	truncated := len(keys) > mockPageSize
	if truncated {
		keys = keys[:mockPageSize]
	}
	var xml strings.Builder
	xml.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult>`)
	fmt.Fprintf(&xml, "<IsTruncated>%t</IsTruncated><KeyCount>%d</KeyCount>", truncated, len(keys))
	if truncated {
		fmt.Fprintf(&xml, "<NextContinuationToken>%s</NextContinuationToken>", keys[len(keys)-1])
	}
	for _, key := range keys {
		obj := b.objects[key]
		fmt.Fprintf(&xml, "<Contents><Key>%s</Key><Size>%d</Size><ETag>%s</ETag><LastModified>%s</LastModified></Contents>",
			key, len(obj.body), quotedETag(obj.body), obj.modified.Format(time.RFC3339))
	}
	xml.WriteString("</ListBucketResult>")
	return respond(http.StatusOK, http.Header{"Content-Type": {"application/xml"}}, []byte(xml.String()))
}

func (o fakeObject) headers() http.Header {
	h := http.Header{
		"Content-Length": {strconv.Itoa(len(o.body))},
		"Etag":           {quotedETag(o.body)},
		"Last-Modified":  {o.modified.Format(http.TimeFormat)},
	}
	if o.contentType != "" {
		h.Set("Content-Type", o.contentType)
	}
	for name, values := range o.metadata {
		h[name] = values
	}
	return h
}

func respond(status int, header http.Header, body []byte) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		StatusCode:    status,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
	}
}

func quotedETag(body []byte) string {
	sum := md5.Sum(body) //nolint:gosec
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

// decodeAWSChunked strips aws-chunked framing: hex sized chunks optionally
// carrying ";chunk-signature=" extensions, ended by a zero chunk and trailers.
func decodeAWSChunked(raw []byte) ([]byte, error) {
	r := bufio.NewReader(bytes.NewReader(raw))
	var out bytes.Buffer
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("chunk header: %w", err)
		}
		sizeHex, _, _ := strings.Cut(strings.TrimSpace(line), ";")
		size, err := strconv.ParseInt(sizeHex, 16, 64)
		if err != nil {
			return nil, fmt.Errorf("chunk size %q: %w", sizeHex, err)
		}
		if size == 0 {
			return out.Bytes(), nil
		}
		if _, err := io.CopyN(&out, r, size); err != nil {
			return nil, fmt.Errorf("chunk body: %w", err)
		}
		if _, err := r.ReadString('\n'); err != nil {
			return nil, fmt.Errorf("chunk terminator: %w", err)
		}
	}
}
