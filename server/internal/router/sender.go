// SPDX-FileCopyrightText: Copyright (C) 2025  The Crowdlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// FormField is the form field a bundle is posted in.
const FormField = "eartifacts"

// Sender delivers a bundle to a relay or the origin with a single attempt.
type Sender interface {
	Send(ctx context.Context, dest string, bundle []string) error
}

// HTTPSender posts bundles as a form.
type HTTPSender struct {
	client *http.Client
}

// NewHTTPSender returns a HTTPSender with the given per request timeout.
func NewHTTPSender(timeout time.Duration) *HTTPSender {
	return &HTTPSender{
		client: &http.Client{Timeout: timeout},
	}
}

// Send posts bundle, newline joined, to dest.  Any 2xx status is success.
// An empty bundle succeeds without a request.
func (s *HTTPSender) Send(ctx context.Context, dest string, bundle []string) error {
	if len(bundle) == 0 {
		return nil
	}

	form := url.Values{FormField: {strings.Join(bundle, "\n")}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dest, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("router: %s returned %s", dest, resp.Status)
	}
	return nil
}
