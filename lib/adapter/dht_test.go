// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// fakeProxy mimics the OpenDHT REST proxy: GET /key/<k> returns the
// stored values and POST /key/<k> appends one.
type fakeProxy struct {
	mu     sync.Mutex
	values map[string][]dhtValue

	// style selects the GET response encoding: "array" or "ndjson".
	style string

	// failPosts makes the next POSTs store the value but answer 502.
	failPosts int
}

func (p *fakeProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key, ok := strings.CutPrefix(r.URL.Path, "/key/")
	if !ok {
		http.NotFound(w, r)
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	switch r.Method {
	case http.MethodGet:
		values := p.values[key]
		if p.style == "ndjson" {
			for _, value := range values {
				line, _ := json.Marshal(value)
				fmt.Fprintf(w, "%s\n", line)
			}
			return
		}
		if values == nil {
			values = []dhtValue{}
		}
		json.NewEncoder(w).Encode(values)
	case http.MethodPost:
		body, _ := io.ReadAll(r.Body)
		var value dhtValue
		if err := json.Unmarshal(body, &value); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if !value.Permanent {
			http.Error(w, "expected permanent value", http.StatusBadRequest)
			return
		}
		p.values[key] = append(p.values[key], value)
		if p.failPosts > 0 {
			p.failPosts--
			http.Error(w, "upstream timeout", http.StatusBadGateway)
			return
		}
		w.Write(body)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func startProxy(t *testing.T, style string) (*fakeProxy, *DHTAdapter) {
	t.Helper()
	proxy := &fakeProxy{values: make(map[string][]dhtValue), style: style}
	server := httptest.NewServer(proxy)
	t.Cleanup(server.Close)

	host, portText, err := net.SplitHostPort(strings.TrimPrefix(server.URL, "http://"))
	if err != nil {
		t.Fatalf("parsing server URL: %v", err)
	}
	port, err := strconv.Atoi(portText)
	if err != nil {
		t.Fatalf("parsing port: %v", err)
	}
	backend, err := NewDHTAdapter(DHTConfig{Host: host, Port: port})
	if err != nil {
		t.Fatalf("NewDHTAdapter: %v", err)
	}
	return proxy, backend
}

func TestDHTAdapter(t *testing.T) {
	for _, style := range []string{"array", "ndjson"} {
		t.Run(style, func(t *testing.T) {
			_, backend := startProxy(t, style)
			exerciseAdapter(t, backend)
		})
	}
}

func TestDHTAdapterLostResponse(t *testing.T) {
	proxy, backend := startProxy(t, "array")
	proxy.mu.Lock()
	proxy.failPosts = 1
	proxy.mu.Unlock()

	err := backend.PublishAt(context.Background(), NamespaceCommit, "g-000000", 0, []byte("commit"))
	if err != nil {
		t.Fatalf("PublishAt with stored-but-failed POST: %v", err)
	}
}

func TestDHTAdapterPostFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Write([]byte("[]"))
			return
		}
		http.Error(w, "no", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	backend := adapterFor(t, server)
	err := backend.PublishAt(context.Background(), NamespaceCommit, "g", 0, []byte("x"))
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("got %v, want ErrUnavailable", err)
	}
}

func TestDHTAdapterResponses(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantFound bool
		wantData  string
		wantErr   error
	}{
		{name: "empty body", status: 200, body: ""},
		{name: "empty array", status: 200, body: "[]"},
		{name: "not found", status: 404, body: "missing"},
		{name: "single object", status: 200, body: `{"data":"aGk="}`, wantFound: true, wantData: "hi"},
		{name: "value without data", status: 200, body: `[{"id":"1"},{"data":"aGk="}]`, wantFound: true, wantData: "hi"},
		{name: "server error", status: 500, body: "boom", wantErr: ErrUnavailable},
		{name: "bad base64", status: 200, body: `[{"data":"!!!"}]`, wantErr: ErrCorruptPayload},
		{name: "truncated json", status: 200, body: `{"data":`, wantErr: ErrUnavailable},
		{name: "gateway html page", status: 200, body: "<html><body>Bad Gateway</body></html>", wantErr: ErrUnavailable},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(test.status)
				w.Write([]byte(test.body))
			}))
			defer server.Close()

			data, found, err := adapterFor(t, server).FetchAt(context.Background(), NamespaceWelcome, "p", 0)
			if test.wantErr != nil {
				if !errors.Is(err, test.wantErr) {
					t.Fatalf("got error %v, want %v", err, test.wantErr)
				}
				if test.wantErr == ErrUnavailable && errors.Is(err, ErrCorruptPayload) {
					t.Fatalf("error %v also reports a corrupt payload", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if found != test.wantFound || string(data) != test.wantData {
				t.Fatalf("got (%q, %v), want (%q, %v)", data, found, test.wantData, test.wantFound)
			}
		})
	}
}

func TestDHTAdapterUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	backend := adapterFor(t, server)
	server.Close()

	_, _, err := backend.FetchAt(context.Background(), NamespaceWelcome, "p", 0)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("got %v, want ErrUnavailable", err)
	}
}

func TestNewDHTAdapterValidation(t *testing.T) {
	if _, err := NewDHTAdapter(DHTConfig{Port: 4222}); err == nil {
		t.Fatal("expected error for missing host")
	}
	if _, err := NewDHTAdapter(DHTConfig{Host: "localhost", Port: 0}); err == nil {
		t.Fatal("expected error for port 0")
	}
}

func adapterFor(t *testing.T, server *httptest.Server) *DHTAdapter {
	t.Helper()
	host, portText, err := net.SplitHostPort(strings.TrimPrefix(server.URL, "http://"))
	if err != nil {
		t.Fatalf("parsing server URL: %v", err)
	}
	port, _ := strconv.Atoi(portText)
	backend, err := NewDHTAdapter(DHTConfig{Host: host, Port: port, HTTPClient: server.Client()})
	if err != nil {
		t.Fatalf("NewDHTAdapter: %v", err)
	}
	return backend
}
