package devkit

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/goliatone/go-esim/core"
)

// TransportScript is one canned partner reply.
type TransportScript struct {
	Response core.TransportResponse
	Err      error
}

// FakeTransport replays scripts in order and records every request. Once
// the scripts run out the last one repeats; with no scripts it answers 200.
type FakeTransport struct {
	mu       sync.Mutex
	scripts  []TransportScript
	requests []core.TransportRequest
}

func NewFakeTransport(scripts ...TransportScript) *FakeTransport {
	return &FakeTransport{scripts: append([]TransportScript(nil), scripts...)}
}

func (f *FakeTransport) Do(_ context.Context, req core.TransportRequest) (core.TransportResponse, error) {
	if f == nil {
		return core.TransportResponse{}, fmt.Errorf("devkit: fake transport is nil")
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, cloneRequest(req))
	index := len(f.requests) - 1
	switch {
	case index < len(f.scripts):
		script := f.scripts[index]
		return cloneResponse(script.Response), script.Err
	case len(f.scripts) > 0:
		last := f.scripts[len(f.scripts)-1]
		return cloneResponse(last.Response), last.Err
	}
	return core.TransportResponse{StatusCode: 200, Headers: map[string]string{}}, nil
}

func (f *FakeTransport) Requests() []core.TransportRequest {
	if f == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]core.TransportRequest, 0, len(f.requests))
	for _, item := range f.requests {
		out = append(out, cloneRequest(item))
	}
	return out
}

func cloneRequest(in core.TransportRequest) core.TransportRequest {
	return core.TransportRequest{
		Method:   in.Method,
		URL:      in.URL,
		Headers:  cloneMap(in.Headers),
		Query:    cloneMap(in.Query),
		Body:     append([]byte(nil), in.Body...),
		Metadata: cloneMap(in.Metadata),
		Timeout:  in.Timeout,
	}
}

func cloneResponse(in core.TransportResponse) core.TransportResponse {
	return core.TransportResponse{
		StatusCode: in.StatusCode,
		Headers:    cloneMap(in.Headers),
		Body:       append([]byte(nil), in.Body...),
		Metadata:   cloneMap(in.Metadata),
	}
}

func cloneMap[V any](in map[string]V) map[string]V {
	out := make(map[string]V, len(in))
	maps.Copy(out, in)
	return out
}

var _ core.Transport = (*FakeTransport)(nil)
