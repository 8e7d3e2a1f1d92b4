package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// NewMockForTests returns a *Store backed by an in-memory fake HTTP transport.
// Only the object operations used by the slot store are implemented.
func NewMockForTests() *Store {
	rt := &mockTransport{state: make(map[string]mockObj)}
	cfg, _ := config.LoadDefaultConfig(context.Background(),
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("AKIA", "SECRET", "")),
	)
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.HTTPClient = &http.Client{Transport: rt}
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String("https://mock.s3.local")
	})
	return &Store{client: client, bucket: "mock-bucket"}
}

type mockTransport struct {
	mu    sync.Mutex
	state map[string]mockObj
}

type mockObj struct {
	body        []byte
	contentType string
	metadata    map[string]string
}

func emptyResponse(status int, header http.Header) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{StatusCode: status, Body: io.NopCloser(bytes.NewReader(nil)), Header: header}
}

func (m *mockTransport) RoundTrip(req *http.Request) (*http.Response, error) { //nolint:cyclop
	m.mu.Lock()
	defer m.mu.Unlock()
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	switch req.Method {
	case http.MethodHead, http.MethodGet:
		st, ok := m.state[key]
		if !ok {
			return emptyResponse(http.StatusNotFound, nil), nil
		}
		header := http.Header{
			"Content-Length": {fmt.Sprintf("%d", len(st.body))},
			"Content-Type":   {st.contentType},
			"ETag":           {fmt.Sprintf("\"%x\"", len(st.body))},
			"Last-Modified":  {time.Now().UTC().Format(http.TimeFormat)},
		}
		for k, v := range st.metadata {
			header.Set("X-Amz-Meta-"+k, v)
		}
		if req.Method == http.MethodHead {
			return emptyResponse(http.StatusOK, header), nil
		}
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader(st.body)), Header: header}, nil
	case http.MethodPut:
		body, _ := io.ReadAll(req.Body)
		if dec, ok := decodeChunked(body); ok {
			body = dec
		}
		md := map[string]string{}
		for h, v := range req.Header {
			if strings.HasPrefix(strings.ToLower(h), "x-amz-meta-") && len(v) > 0 {
				md[strings.ToLower(strings.TrimPrefix(strings.ToLower(h), "x-amz-meta-"))] = v[0]
			}
		}
		m.state[key] = mockObj{body: body, contentType: req.Header.Get("Content-Type"), metadata: md}
		return emptyResponse(http.StatusOK, http.Header{"ETag": {"\"etag\""}}), nil
	case http.MethodDelete:
		delete(m.state, key)
		return emptyResponse(http.StatusNoContent, nil), nil
	}
	return emptyResponse(http.StatusNotImplemented, nil), nil
}

// decodeChunked decodes a minimal single-chunk aws-chunked payload: <hex>[;sig]\r\n<body>\r\n0...
func decodeChunked(b []byte) ([]byte, bool) {
	parts := strings.SplitN(string(b), "\r\n", 3)
	if len(parts) < 3 {
		return nil, false
	}
	sizeHex, _, _ := strings.Cut(parts[0], ";")
	sz, err := parseHex(sizeHex)
	if err != nil || int64(len(parts[1])) != sz || !strings.HasPrefix(parts[2], "0") {
		return nil, false
	}
	return []byte(parts[1]), true
}

func parseHex(h string) (int64, error) {
	if h == "" {
		return 0, fmt.Errorf("empty hex")
	}
	var v int64
	for _, c := range h {
		v <<= 4
		switch {
		case c >= '0' && c <= '9':
			v += int64(c - '0')
		case c >= 'a' && c <= 'f':
			v += int64(c-'a') + 10
		case c >= 'A' && c <= 'F':
			v += int64(c-'A') + 10
		default:
			return 0, fmt.Errorf("invalid hex")
		}
	}
	return v, nil
}
