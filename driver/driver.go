// Package driver posts wrapped vehicles to a polyguard server and reports
// what came back. It is the client side of the acceptance scenarios.
package driver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	polyguard "github.com/ai8future/polyguard"
	"github.com/ai8future/polyguard/call"
	"github.com/ai8future/polyguard/deploy"
	"github.com/ai8future/polyguard/polytype"
	"github.com/ai8future/polyguard/resource"
	"github.com/ai8future/polyguard/vehicles"
	"github.com/ai8future/polyguard/vehicles/catalog"
)

// ContentType is sent with every post.
const ContentType = "application/json; charset=UTF-8"

// Response is what a single post observed.
type Response struct {
	Code    int
	Message string
	Body    string
}

func (r Response) String() string {
	return fmt.Sprintf("Response code: %d response message: %s  %s", r.Code, r.Message, r.Body)
}

// Driver sends vehicles to one server.
type Driver struct {
	baseURL string
	client  *call.Client
	codec   *polytype.Codec
}

// Option configures a Driver.
type Option func(*Driver)

// WithClient replaces the default call.Client.
func WithClient(c *call.Client) Option {
	return func(d *Driver) {
		if c != nil {
			d.client = c
		}
	}
}

// New returns a Driver for the server at baseURL, e.g. "http://localhost:8080".
func New(baseURL string, opts ...Option) *Driver {
	polyguard.AssertVersionChecked()
	d := &Driver{
		baseURL: strings.TrimRight(baseURL, "/"),
		codec:   polytype.NewCodec(catalog.NewRegistry(), polytype.AllowAll{}),
	}
	for _, o := range opts {
		o(d)
	}
	if d.client == nil {
		d.client = call.New()
	}
	return d
}

// URL returns the post endpoint of deployment.
func (d *Driver) URL(deployment string) string {
	if deployment == "" {
		deployment = deploy.WhiteList
	}
	return d.baseURL + "/" + deployment + resource.PostPath
}

// NewRequest builds the POST for p. An empty deployment means "whitelist".
func (d *Driver) NewRequest(ctx context.Context, p vehicles.PolymorphicType, deployment string) (*http.Request, error) {
	body, err := d.codec.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("driver: encode %v: %w", p, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL(deployment), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("driver: build request: %w", err)
	}
	req.ContentLength = int64(len(body))
	req.Header.Set("Content-Type", ContentType)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// SendPost posts p to deployment and reads the whole response, whatever
// its status. Transport errors are returned as is.
func (d *Driver) SendPost(ctx context.Context, p vehicles.PolymorphicType, deployment string) (Response, error) {
	req, err := d.NewRequest(ctx, p, deployment)
	if err != nil {
		return Response{}, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("driver: post %s: %w", req.URL, err)
	}
	return readResponse(resp)
}

func readResponse(resp *http.Response) (Response, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("driver: read response: %w", err)
	}
	return Response{
		Code:    resp.StatusCode,
		Message: reasonPhrase(resp),
		Body:    string(body),
	}, nil
}

// reasonPhrase returns the status text the server sent, falling back to
// the standard text for the code.
func reasonPhrase(resp *http.Response) string {
	if msg, ok := strings.CutPrefix(resp.Status, strconv.Itoa(resp.StatusCode)+" "); ok && msg != "" {
		return msg
	}
	return http.StatusText(resp.StatusCode)
}
