// Package devkit carries test doubles shared by provider packages.
package devkit

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/goliatone/go-leadrelay/transport"
)

// Script is one canned reply. Replies are consumed in order and the last one
// repeats once the list runs out.
type Script struct {
	Response transport.Response
	Err      error
}

func JSON(status int, body string) Script {
	return Script{Response: transport.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       []byte(body),
		Attempts:   1,
	}}
}

func Failure(err error) Script {
	return Script{Err: err}
}

// FakeTransport records every request and answers from its scripts. Routes
// keyed by URL path prefix take precedence over the ordered scripts.
type FakeTransport struct {
	mu       sync.Mutex
	scripts  []Script
	routes   map[string][]Script
	served   map[string]int
	requests []transport.Request
}

func NewFakeTransport(scripts ...Script) *FakeTransport {
	return &FakeTransport{
		scripts: append([]Script(nil), scripts...),
		routes:  map[string][]Script{},
		served:  map[string]int{},
	}
}

func (f *FakeTransport) Route(urlContains string, scripts ...Script) *FakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[urlContains] = append([]Script(nil), scripts...)
	return f
}

func (f *FakeTransport) Do(_ context.Context, req transport.Request) (transport.Response, error) {
	if f == nil {
		return transport.Response{}, fmt.Errorf("devkit: fake transport is nil")
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, cloneRequest(req))
	for fragment, scripts := range f.routes {
		if !strings.Contains(req.URL, fragment) || len(scripts) == 0 {
			continue
		}
		index := f.served[fragment]
		f.served[fragment] = index + 1
		if index >= len(scripts) {
			index = len(scripts) - 1
		}
		return cloneResponse(scripts[index].Response), scripts[index].Err
	}

	index := f.served[""]
	f.served[""] = index + 1
	if index < len(f.scripts) {
		return cloneResponse(f.scripts[index].Response), f.scripts[index].Err
	}
	if len(f.scripts) > 0 {
		last := f.scripts[len(f.scripts)-1]
		return cloneResponse(last.Response), last.Err
	}
	return transport.Response{StatusCode: http.StatusOK, Header: http.Header{}, Attempts: 1}, nil
}

func (f *FakeTransport) Requests() []transport.Request {
	if f == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]transport.Request, 0, len(f.requests))
	for _, item := range f.requests {
		out = append(out, cloneRequest(item))
	}
	return out
}

// RequestsTo returns the recorded requests whose URL contains fragment.
func (f *FakeTransport) RequestsTo(fragment string) []transport.Request {
	out := []transport.Request{}
	for _, item := range f.Requests() {
		if strings.Contains(item.URL, fragment) {
			out = append(out, item)
		}
	}
	return out
}

func cloneRequest(in transport.Request) transport.Request {
	out := transport.Request{
		Method:               in.Method,
		URL:                  in.URL,
		Headers:              map[string]string{},
		Query:                map[string]string{},
		Body:                 append([]byte(nil), in.Body...),
		Timeout:              in.Timeout,
		MaxResponseBodyBytes: in.MaxResponseBodyBytes,
	}
	for key, value := range in.Headers {
		out.Headers[key] = value
	}
	for key, value := range in.Query {
		out.Query[key] = value
	}
	return out
}

func cloneResponse(in transport.Response) transport.Response {
	out := in
	out.Header = in.Header.Clone()
	if out.Header == nil {
		out.Header = http.Header{}
	}
	out.Body = append([]byte(nil), in.Body...)
	return out
}

var _ transport.Client = (*FakeTransport)(nil)
