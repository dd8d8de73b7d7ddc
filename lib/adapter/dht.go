// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/bureau-foundation/sgm/lib/netutil"
)

var _ Adapter = (*DHTAdapter)(nil)

// DHTConfig configures a DHTAdapter.
type DHTConfig struct {
	// Host and Port address the OpenDHT REST proxy.
	Host string
	Port int

	// Timeout bounds each HTTP request. Zero means 10 seconds.
	Timeout time.Duration

	// HTTPClient overrides the client (tests). If set, Timeout is
	// ignored.
	HTTPClient *http.Client

	// Logger receives per-request debug logs. If nil, discarded.
	Logger *slog.Logger
}

// DHTAdapter talks to an OpenDHT proxy over its REST API. Each address
// maps to one DHT key ([Address.DHTKey]); values are stored permanent
// so they outlive the proxy's default expiry.
type DHTAdapter struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// dhtValue is one value in the proxy's JSON representation.
type dhtValue struct {
	Data      string `json:"data"`
	Permanent bool   `json:"permanent,omitempty"`
}

// NewDHTAdapter validates config and returns an adapter. No network
// traffic happens until the first call.
func NewDHTAdapter(config DHTConfig) (*DHTAdapter, error) {
	if config.Host == "" {
		return nil, fmt.Errorf("adapter: DHT host is required")
	}
	if config.Port <= 0 || config.Port > 65535 {
		return nil, fmt.Errorf("adapter: DHT port %d out of range", config.Port)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &DHTAdapter{
		baseURL:    "http://" + net.JoinHostPort(config.Host, strconv.Itoa(config.Port)),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

func (d *DHTAdapter) Publish(ctx context.Context, namespace, owner string, payload []byte) (uint64, error) {
	return publishNext(ctx, d, namespace, owner, payload)
}

// PublishAt checks the key and stores the value if empty. If the POST
// fails but a re-read finds the same payload (the proxy stored it and
// the response was lost), the publish counts as successful.
func (d *DHTAdapter) PublishAt(ctx context.Context, namespace, owner string, index uint64, payload []byte) error {
	address := Address{Namespace: namespace, Owner: owner, Index: index}

	_, found, err := d.get(ctx, address)
	if err != nil {
		return err
	}
	if found {
		return fmt.Errorf("dht publish %s: %w", address, ErrIndexTaken)
	}

	putErr := d.put(ctx, address, payload)
	if putErr == nil {
		return nil
	}
	stored, found, err := d.get(ctx, address)
	if err == nil && found && bytes.Equal(stored, payload) {
		return nil
	}
	return putErr
}

func (d *DHTAdapter) FetchAt(ctx context.Context, namespace, owner string, index uint64) ([]byte, bool, error) {
	return d.get(ctx, Address{Namespace: namespace, Owner: owner, Index: index})
}

func (d *DHTAdapter) get(ctx context.Context, address Address) ([]byte, bool, error) {
	key := address.DHTKey()
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/key/"+key, nil)
	if err != nil {
		return nil, false, fmt.Errorf("dht fetch %s: creating request: %w", address, err)
	}

	response, err := d.httpClient.Do(request)
	if err != nil {
		return nil, false, unavailable("dht fetch", address, err)
	}
	defer response.Body.Close()

	body, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return nil, false, unavailable("dht fetch", address, err)
	}

	d.logger.Debug("dht get",
		"address", address.String(),
		"key", key,
		"status", response.StatusCode,
		"bytes", len(body),
	)

	if response.StatusCode == http.StatusNotFound {
		return nil, false, nil
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return nil, false, unavailable("dht fetch", address,
			fmt.Errorf("HTTP status %d: %s", response.StatusCode, bytes.TrimSpace(body)))
	}

	data, found, err := decodeDHTValues(body)
	if errors.Is(err, errDHTEnvelope) {
		// A gateway answering for the proxy, not a bad stored value.
		return nil, false, unavailable("dht fetch", address, err)
	}
	if err != nil {
		return nil, false, fmt.Errorf("dht fetch %s: %w: %w", address, ErrCorruptPayload, err)
	}
	return data, found, nil
}

func (d *DHTAdapter) put(ctx context.Context, address Address, payload []byte) error {
	key := address.DHTKey()
	encoded, err := json.Marshal(dhtValue{
		Data:      base64.StdEncoding.EncodeToString(payload),
		Permanent: true,
	})
	if err != nil {
		return fmt.Errorf("dht publish %s: encoding value: %w", address, err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/key/"+key, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("dht publish %s: creating request: %w", address, err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := d.httpClient.Do(request)
	if err != nil {
		return unavailable("dht publish", address, err)
	}
	defer response.Body.Close()

	d.logger.Debug("dht put",
		"address", address.String(),
		"key", key,
		"status", response.StatusCode,
		"bytes", len(payload),
	)

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return unavailable("dht publish", address,
			fmt.Errorf("HTTP status %d: %s", response.StatusCode, netutil.ErrorBody(response.Body)))
	}
	return nil
}

// errDHTEnvelope marks a proxy response body that is not the JSON
// value listing the proxy sends.
var errDHTEnvelope = errors.New("unrecognized proxy response")

// decodeDHTValues extracts the first non-empty value from a proxy GET
// response. The proxy answers with a single JSON value, a JSON array of
// values, or newline-delimited JSON values depending on version; an
// empty body means the key holds nothing.
func decodeDHTValues(body []byte) ([]byte, bool, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, false, nil
	}

	var values []dhtValue
	switch body[0] {
	case '[':
		if err := json.Unmarshal(body, &values); err != nil {
			return nil, false, fmt.Errorf("%w: parsing value array: %w", errDHTEnvelope, err)
		}
	default:
		scanner := bufio.NewScanner(bytes.NewReader(body))
		scanner.Buffer(make([]byte, 0, 64*1024), int(netutil.MaxResponseSize))
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var value dhtValue
			if err := json.Unmarshal(line, &value); err != nil {
				return nil, false, fmt.Errorf("%w: parsing value: %w", errDHTEnvelope, err)
			}
			values = append(values, value)
		}
		if err := scanner.Err(); err != nil {
			return nil, false, fmt.Errorf("%w: reading values: %w", errDHTEnvelope, err)
		}
	}

	for _, value := range values {
		if value.Data == "" {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(value.Data)
		if err != nil {
			return nil, false, fmt.Errorf("decoding value data: %w", err)
		}
		return data, true, nil
	}
	return nil, false, nil
}
