// Copyright 2025 Esteban Alvarez. All Rights Reserved.
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

// Package githubapi implements the policy-checked outbound GithubRest
// syscall and the generic InvokeService outbound HTTP call (spec.md section
// 4.3). It is grounded on
// original_source/snapfaas/src/fs/github/mod.rs's check_label/http split: a
// route is classified read/write/read-write against "<owner>:<repo>@github"
// principals before the request is allowed to leave the host.
package githubapi

import (
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"faasten/internal/label"
	"faasten/internal/objstore"
)

const (
	restEndpoint    = "https://api.github.com"
	apiVersionHdr   = "application/json+vnd"
	userAgent       = "faasten"
	authTokenEnvVar = "GITHUB_AUTH_TOKEN"
)

var (
	ErrBadRoute     = errors.New("githubapi: route is not on the allow-list")
	ErrBadVerb      = errors.New("githubapi: unsupported HTTP verb")
	ErrNoAuthToken  = errors.New("githubapi: GITHUB_AUTH_TOKEN not set")
)

// Verb is an allow-listed outbound HTTP verb.
type Verb string

const (
	VerbGet    Verb = "GET"
	VerbPost   Verb = "POST"
	VerbPut    Verb = "PUT"
	VerbDelete Verb = "DELETE"
)

// routeCheck classifies a /repos/<owner>/<repo>/... route as a read, a
// write, or both, mirroring the donor's read_check/write_check/
// read_write_check handler table.
type routeCheck uint8

const (
	checkRead routeCheck = iota
	checkWrite
	checkReadWrite
)

// routeRules is the donor's dumb router, expressed as substring
// matches instead of a path-template library (no route_recognizer-style
// dependency is present in this module's domain stack).
var routeRules = []struct {
	suffix string
	check  routeCheck
}{
	{suffix: "/tarball", check: checkRead},
	{suffix: "/comments", check: checkWrite},
	{suffix: "/generate", check: checkReadWrite},
	{suffix: "/collaborators", check: checkWrite},
}

// Client issues outbound HTTP requests to the GitHub REST API (or a mock
// endpoint named by GITHUB_MOCK, matching the donor's Client::new).
type Client struct {
	http *http.Client
	base string
}

// NewClient builds a Client pointed at GITHUB_MOCK if set, else the real
// GitHub REST endpoint.
func NewClient() *Client {
	base := restEndpoint
	if mock := os.Getenv("GITHUB_MOCK"); mock != "" {
		base = mock
	}
	return &Client{http: &http.Client{Timeout: 30 * time.Second}, base: base}
}

// GithubRest performs a policy-checked request to route, taint-checking the
// caller's TaskState against the owner/repo principal the route names
// before the request is allowed out (spec.md section 4.3's
// "policy-checked outbound HTTP").
func (c *Client) GithubRest(t *objstore.TaskState, verb Verb, route string, body []byte) (*http.Response, error) {
	owner, repo, check, err := classify(route)
	if err != nil {
		return nil, err
	}
	principal := owner + ":" + repo + "@github"
	switch check {
	case checkRead:
		readLabel := label.New(label.NewFormula(label.Clause{{principal}}), label.True())
		if err := t.Taint(readLabel); err != nil {
			return nil, err
		}
	case checkWrite, checkReadWrite:
		writeLabel := label.New(label.NewFormula(label.Clause{{principal}}), label.NewFormula(label.Clause{{principal}}))
		if !t.CurrentLabel.FlowsTo(writeLabel) {
			return nil, objstore.ErrCannotWrite
		}
	}

	token := os.Getenv(authTokenEnvVar)
	if token == "" {
		return nil, ErrNoAuthToken
	}
	return c.do(string(verb), route, body, token)
}

// InvokeService performs an outbound request to an arbitrary Service
// object's declared URL, tainting t with the service's declared taint label
// after a successful call (spec.md section 3's Service descriptor).
func (c *Client) InvokeService(t *objstore.TaskState, svc objstore.Service, body []byte) (*http.Response, error) {
	if err := t.Taint(svc.InvokerIntegrityClearance); err != nil {
		return nil, err
	}
	req, err := http.NewRequest(svc.Verb, svc.URL, newBodyReader(body))
	if err != nil {
		return nil, err
	}
	for k, v := range svc.Headers {
		req.Header.Set(k, v)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if err := t.Taint(svc.Taint); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

func (c *Client) do(verb, route string, body []byte, token string) (*http.Response, error) {
	switch Verb(verb) {
	case VerbGet, VerbPost, VerbPut, VerbDelete:
	default:
		return nil, ErrBadVerb
	}
	req, err := http.NewRequest(verb, c.base+route, newBodyReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", apiVersionHdr)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Authorization", "Bearer "+token)
	return c.http.Do(req)
}

func newBodyReader(body []byte) io.Reader {
	if len(body) == 0 {
		return nil
	}
	return strings.NewReader(string(body))
}

func classify(route string) (owner, repo string, check routeCheck, err error) {
	suffix, ok := strings.CutPrefix(route, "/repos/")
	if !ok {
		return "", "", 0, ErrBadRoute
	}
	parts := strings.Split(suffix, "/")
	if len(parts) < 2 {
		return "", "", 0, ErrBadRoute
	}
	owner, repo = parts[0], parts[1]
	for _, rule := range routeRules {
		if strings.Contains(route, rule.suffix) {
			return owner, repo, rule.check, nil
		}
	}
	return "", "", 0, ErrBadRoute
}
