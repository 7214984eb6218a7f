// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package publisher uploads export envelopes to a content-addressed pinning
// service and optionally mirrors them to object storage.
//
// The pinning contract is Pinata's pinJSONToIPFS: a JSON body with
// pinataContent and pinataMetadata, authorised by a bearer JWT, answered by
// {IpfsHash, PinSize, Timestamp}.
package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/awnumar/memguard"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianVault/pkg/telemetry"
	"github.com/AleutianAI/AleutianVault/services/reconciler/packager"
)

const tracerName = "vault.publisher"

// HTTPClient allows injecting mock HTTP clients for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

var (
	cidV0Pattern = regexp.MustCompile(`^Qm[1-9A-HJ-NP-Za-km-z]{44}$`)
	cidV1Pattern = regexp.MustCompile(`^b[a-z2-7]{58,}$`)
)

// ValidContentID reports whether cid is a CIDv0 (base58 "Qm...") or a
// base32 CIDv1 ("b...").
func ValidContentID(cid string) bool {
	return cidV0Pattern.MatchString(cid) || cidV1Pattern.MatchString(cid)
}

// Config configures a Publisher.
type Config struct {
	// Endpoint is the pinJSONToIPFS URL.
	Endpoint string `yaml:"endpoint" toml:"endpoint" validate:"required,url"`

	// StatEndpoint is the pin listing URL used by Stat.
	StatEndpoint string `yaml:"stat_endpoint" toml:"stat_endpoint" validate:"omitempty,url"`

	// GatewayURL prefixes public links: {GatewayURL}/ipfs/{cid}.
	GatewayURL string `yaml:"gateway_url" toml:"gateway_url" validate:"required,url"`

	// Timeout bounds one publish or stat call.
	Timeout time.Duration `yaml:"timeout" toml:"timeout" validate:"gt=0"`

	// MaxBodyBytes caps the serialized envelope size.
	MaxBodyBytes int64 `yaml:"max_body_bytes" toml:"max_body_bytes" validate:"gt=0"`

	// MaxResponseBytes caps how much of a response body is read.
	MaxResponseBytes int64 `yaml:"max_response_bytes" toml:"max_response_bytes" validate:"gt=0"`

	// RequestsPerMinute caps calls to the pinning service across Publish and
	// Stat. Zero means unlimited.
	RequestsPerMinute int `yaml:"requests_per_minute" toml:"requests_per_minute" validate:"gte=0"`
}

// DefaultConfig returns the public Pinata endpoints.
func DefaultConfig() Config {
	return Config{
		Endpoint:         "https://api.pinata.cloud/pinning/pinJSONToIPFS",
		StatEndpoint:     "https://api.pinata.cloud/data/pinList",
		GatewayURL:       "https://gateway.pinata.cloud",
		Timeout:          30 * time.Second,
		MaxBodyBytes:     10 << 20,
		MaxResponseBytes: 1 << 20,
	}
}

// Result is a successful publish.
type Result struct {
	ContentID string
	Filename  string
	PinSize   int64
	ByteSize  int64
	PublicURL string
	Timestamp string
}

// Publisher pins envelopes.
//
// # Description
//
// The bearer token is held in a memguard enclave and only decrypted for
// the duration of a request. Publish never retries; a failed user is
// retried by the next reconciliation cycle instead.
//
// # Thread Safety
//
// Safe for concurrent use.
type Publisher struct {
	config  Config
	client  HTTPClient
	token   *memguard.Enclave
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New creates a Publisher.
//
// # Inputs
//
//   - config: Endpoints and limits. Zero limits take DefaultConfig values.
//   - token: Pinning JWT. It is sealed and the caller's slice is wiped.
//   - client: HTTP transport. Nil uses an http.Client with config.Timeout.
//   - logger: Nil uses slog.Default().
func New(config Config, token []byte, client HTTPClient, logger *slog.Logger) *Publisher {
	defaults := DefaultConfig()
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = defaults.MaxBodyBytes
	}
	if config.MaxResponseBytes <= 0 {
		config.MaxResponseBytes = defaults.MaxResponseBytes
	}
	config.GatewayURL = strings.TrimRight(config.GatewayURL, "/")
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}

	var enclave *memguard.Enclave
	if len(token) > 0 {
		enclave = memguard.NewEnclave(token)
	}

	limit := rate.Inf
	if config.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(config.RequestsPerMinute))
	}

	return &Publisher{
		config:  config,
		client:  client,
		token:   enclave,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}
}

// PublicURL returns the gateway link for cid.
func (p *Publisher) PublicURL(cid string) string {
	return p.config.GatewayURL + "/ipfs/" + cid
}

type pinRequest struct {
	PinataContent  json.RawMessage `json:"pinataContent"`
	PinataMetadata pinMetadata     `json:"pinataMetadata"`
}

type pinMetadata struct {
	Name      string            `json:"name"`
	KeyValues map[string]string `json:"keyvalues,omitempty"`
}

type pinResponse struct {
	IpfsHash  string `json:"IpfsHash"`
	PinSize   int64  `json:"PinSize"`
	Timestamp string `json:"Timestamp"`
}

// Publish pins one packaged envelope.
//
// # Description
//
// The envelope bytes are embedded unchanged as pinataContent. The response
// must be 2xx and carry a well-formed IpfsHash. Everything else is returned
// as *PublishError with the upstream body or error message as Reason.
//
// # Inputs
//
//   - ctx: Request context. A deadline of config.Timeout is added.
//   - pkg: The envelope and its bytes from the packager.
//
// # Outputs
//
//   - Result: Content id, filename and public URL on success.
//   - error: *PublishError on any failure.
func (p *Publisher) Publish(ctx context.Context, pkg packager.Package) (Result, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "Publisher.Publish")
	defer span.End()

	userID := pkg.Envelope.UserID
	filename := packager.Filename(userID, time.Time(pkg.Envelope.ExportTimestamp))
	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.Int("byte_size", len(pkg.Bytes)),
	)

	if int64(len(pkg.Bytes)) > p.config.MaxBodyBytes {
		err := &PublishError{
			Reason: fmt.Sprintf("envelope is %d bytes, limit is %d", len(pkg.Bytes), p.config.MaxBodyBytes),
			Err:    ErrBodyTooLarge,
		}
		telemetry.RecordError(span, err)
		return Result{}, err
	}

	body, err := json.Marshal(pinRequest{
		PinataContent: pkg.Bytes,
		PinataMetadata: pinMetadata{
			Name: filename,
			KeyValues: map[string]string{
				"userId":        userID,
				"schemaVersion": pkg.Envelope.SchemaVersion,
			},
		},
	})
	if err != nil {
		return Result{}, &PublishError{Reason: err.Error(), Err: err}
	}

	status, respBody, err := p.do(ctx, http.MethodPost, p.config.Endpoint, body)
	if err != nil {
		telemetry.RecordError(span, err)
		return Result{}, err
	}

	var pin pinResponse
	if err := json.Unmarshal(respBody, &pin); err != nil {
		perr := &PublishError{StatusCode: status, Reason: string(respBody), Err: ErrMalformedResponse}
		telemetry.RecordError(span, perr)
		return Result{}, perr
	}
	if !ValidContentID(pin.IpfsHash) {
		perr := &PublishError{StatusCode: status, Reason: string(respBody), Err: ErrInvalidContentID}
		telemetry.RecordError(span, perr)
		return Result{}, perr
	}

	span.SetAttributes(attribute.String("content_id", pin.IpfsHash))
	telemetry.SetSpanOK(span)
	p.logger.Info("Published export",
		"user_id", userID,
		"content_id", pin.IpfsHash,
		"filename", filename,
		"byte_size", len(pkg.Bytes),
	)

	return Result{
		ContentID: pin.IpfsHash,
		Filename:  filename,
		PinSize:   pin.PinSize,
		ByteSize:  int64(len(pkg.Bytes)),
		PublicURL: p.PublicURL(pin.IpfsHash),
		Timestamp: pin.Timestamp,
	}, nil
}

// StatResult describes a pinned object.
type StatResult struct {
	ContentID string `json:"contentId"`
	Pinned    bool   `json:"pinned"`
	Size      int64  `json:"size,omitempty"`
	PinnedAt  string `json:"pinnedAt,omitempty"`
	Name      string `json:"name,omitempty"`
	PublicURL string `json:"publicUrl"`
}

type pinListResponse struct {
	Count int64 `json:"count"`
	Rows  []struct {
		IpfsPinHash string `json:"ipfs_pin_hash"`
		Size        int64  `json:"size"`
		DatePinned  string `json:"date_pinned"`
		Metadata    struct {
			Name string `json:"name"`
		} `json:"metadata"`
	} `json:"rows"`
}

// Stat asks the pinning service whether cid is pinned.
//
// Only used by operator tooling. A cid that is not pinned is reported with
// Pinned false, not as an error.
func (p *Publisher) Stat(ctx context.Context, cid string) (StatResult, error) {
	if !ValidContentID(cid) {
		return StatResult{}, &PublishError{Reason: fmt.Sprintf("invalid content id %q", cid), Err: ErrInvalidContentID}
	}
	if p.config.StatEndpoint == "" {
		return StatResult{}, &PublishError{Reason: "no stat endpoint configured", Err: ErrUnexpectedStatus}
	}

	u, err := url.Parse(p.config.StatEndpoint)
	if err != nil {
		return StatResult{}, &PublishError{Reason: err.Error(), Err: err}
	}
	q := u.Query()
	q.Set("hashContains", cid)
	q.Set("status", "pinned")
	u.RawQuery = q.Encode()

	status, respBody, err := p.do(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return StatResult{}, err
	}

	var list pinListResponse
	if err := json.Unmarshal(respBody, &list); err != nil {
		return StatResult{}, &PublishError{StatusCode: status, Reason: string(respBody), Err: ErrMalformedResponse}
	}

	out := StatResult{ContentID: cid, PublicURL: p.PublicURL(cid)}
	for _, row := range list.Rows {
		if row.IpfsPinHash == cid {
			out.Pinned = true
			out.Size = row.Size
			out.PinnedAt = row.DatePinned
			out.Name = row.Metadata.Name
			break
		}
	}
	return out, nil
}

// do performs one authorised request and returns the status and a bounded
// body. Non-2xx responses and transport failures become *PublishError.
func (p *Publisher) do(ctx context.Context, method, endpoint string, body []byte) (int, []byte, error) {
	if p.token == nil {
		return 0, nil, &PublishError{Reason: ErrNoCredentials.Error(), Err: ErrNoCredentials}
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	if err := p.limiter.Wait(ctx); err != nil {
		return 0, nil, &PublishError{Reason: "rate limit: " + err.Error(), Err: err}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, nil, &PublishError{Reason: err.Error(), Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	secret, err := p.token.Open()
	if err != nil {
		return 0, nil, &PublishError{Reason: "unsealing pinning token: " + err.Error(), Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+secret.String())
	secret.Destroy()

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, nil, &PublishError{Reason: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, p.config.MaxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, &PublishError{StatusCode: resp.StatusCode, Reason: err.Error(), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		reason := string(respBody)
		if reason == "" {
			reason = http.StatusText(resp.StatusCode)
		}
		return resp.StatusCode, respBody, &PublishError{
			StatusCode: resp.StatusCode,
			Reason:     reason,
			Err:        fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode),
		}
	}
	return resp.StatusCode, respBody, nil
}

// IsTransient reports whether err looks like a failure a later attempt may
// not repeat: transport errors, timeouts, 429 and 5xx.
func IsTransient(err error) bool {
	var pe *PublishError
	if !errors.As(err, &pe) {
		return false
	}
	if pe.StatusCode == 0 {
		return !errors.Is(pe.Err, ErrNoCredentials) && !errors.Is(pe.Err, ErrBodyTooLarge)
	}
	return pe.StatusCode == http.StatusTooManyRequests || pe.StatusCode >= 500
}
