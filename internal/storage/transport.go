package storage

import (
	"context"
	"net/http"
)

type createOnlyKey struct{}

func createOnly(ctx context.Context) context.Context {
	return context.WithValue(ctx, createOnlyKey{}, true)
}

// createOnlyTransport marks object writes made under a createOnly context
// with If-None-Match: *. That covers a single-part PUT and the
// CompleteMultipartUpload POST; part uploads are left as they are.
type createOnlyTransport struct {
	base http.RoundTripper
}

func (t createOnlyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if marked, _ := req.Context().Value(createOnlyKey{}).(bool); marked && isObjectCommit(req) {
		req = req.Clone(req.Context())
		req.Header.Set("If-None-Match", "*")
	}
	return t.base.RoundTrip(req)
}

func isObjectCommit(req *http.Request) bool {
	query := req.URL.Query()
	switch req.Method {
	case http.MethodPut:
		return !query.Has("uploadId")
	case http.MethodPost:
		return query.Has("uploadId")
	}
	return false
}
