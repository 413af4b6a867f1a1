// Copyright 2018-2024 CERN
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// In applying this license, CERN does not waive the privileges and immunities
// granted to it by virtue of its status as an Intergovernmental Organization
// or submit itself to any jurisdiction.

// Package httpclient wraps http.Client so that consumers are forced to
// build requests with http.NewRequestWithContext and share one timeout.
package httpclient

import (
	"errors"
	"net/http"
	"time"
)

// Option defines a single option function.
type Option func(o *Options)

// Options defines the available options for this package.
type Options struct {
	Timeout      time.Duration
	RoundTripper http.RoundTripper
}

func newOptions(opts ...Option) Options {
	opt := Options{}
	for _, o := range opts {
		o(&opt)
	}
	return opt
}

// Timeout provides a function to set the timeout option.
func Timeout(t time.Duration) Option {
	return func(o *Options) {
		o.Timeout = t
	}
}

// RoundTripper provides a function to set a custom RoundTripper.
func RoundTripper(rt http.RoundTripper) Option {
	return func(o *Options) {
		o.RoundTripper = rt
	}
}

// New creates a new Client.
func New(opts ...Option) *Client {
	options := newOptions(opts...)

	tr := options.RoundTripper
	if tr == nil {
		tr = http.DefaultTransport
	}

	return &Client{c: &http.Client{
		Timeout:   options.Timeout,
		Transport: tr,
	}}
}

// Client wraps a http.Client but only exposes the Do method.
type Client struct {
	c *http.Client
}

// Do executes the request. Requests without a context are rejected.
func (c *Client) Do(r *http.Request) (*http.Response, error) {
	if r.Context() == nil {
		return nil, errors.New("error: request must have a context")
	}
	return c.c.Do(r)
}
