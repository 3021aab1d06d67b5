/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/docs"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

const maxDocumentBytes = 1 << 20

var ErrUnexpectedStatus = errors.New("unexpected response status")

// Client talks to the wallet server on behalf of the task runner.
type Client struct {
	httpClient http.Client
}

func NewClient(timeout time.Duration) (*Client, error) {
	httpClient, err := createCustomHttpClient(timeout)
	if err != nil {
		return nil, fmt.Errorf("unable to create custom http client: %w", err)
	}
	return &Client{httpClient: httpClient}, nil
}

func createCustomHttpClient(timeout time.Duration) (http.Client, error) {
	tr := &http.Transport{
		ResponseHeaderTimeout: 30 * time.Second,
		Proxy:                 http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			KeepAlive: 30 * time.Second,
			Timeout:   15 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConnsPerHost:   5,
		ExpectContinueTimeout: 5 * time.Second,
	}

	if err := http2.ConfigureTransport(tr); err != nil {
		return http.Client{}, err
	}

	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return http.Client{
		Transport: tr,
		Timeout:   timeout,
	}, nil
}

// Fetch downloads a debtor info document.
func (c *Client) Fetch(ctx context.Context, iri string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, iri, nil)
	if err != nil {
		return nil, "", fmt.Errorf("unable to build request for %s: %w", iri, err)
	}
	req.Header.Set("Accept", docs.DebtorInfoContentType+", application/json;q=0.9")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("unable to fetch %s: %w", iri, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("%w: %s returned %d", ErrUnexpectedStatus, iri, resp.StatusCode)
	}

	content, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("unable to read %s: %w", iri, err)
	}
	if len(content) > maxDocumentBytes {
		return nil, "", fmt.Errorf("document %s exceeds %d bytes", iri, maxDocumentBytes)
	}

	zap.L().Debug("Fetched document",
		zap.String("iri", iri),
		zap.Int("bytes", len(content)))
	return content, resp.Header.Get("Content-Type"), nil
}

// DeleteTransfer removes a finalized transfer from the server. A transfer
// that is already gone counts as deleted.
func (c *Client) DeleteTransfer(ctx context.Context, transferUri string) error {
	return c.delete(ctx, transferUri)
}

// DeleteAccount removes an account from the server.
func (c *Client) DeleteAccount(ctx context.Context, accountUri string) error {
	return c.delete(ctx, accountUri)
}

func (c *Client) delete(ctx context.Context, uri string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, uri, nil)
	if err != nil {
		return fmt.Errorf("unable to build request for %s: %w", uri, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("unable to delete %s: %w", uri, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		zap.L().Info("Deleted remote resource",
			zap.String("uri", uri),
			zap.Int("status", resp.StatusCode))
		return nil
	default:
		return fmt.Errorf("%w: DELETE %s returned %d", ErrUnexpectedStatus, uri, resp.StatusCode)
	}
}
