package driver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ai8future/polyguard/deploy"
	"github.com/ai8future/polyguard/vehicles"
	"github.com/ai8future/polyguard/vehicles/air"
	"github.com/ai8future/polyguard/vehicles/land"
	"github.com/ai8future/polyguard/vehicles/sea"
	"github.com/ai8future/polyguard/work"
)

// Scenario is one post and the outcome it expects.
type Scenario struct {
	Name         string
	Deployment   string
	Vehicle      vehicles.Vehicle
	WantCode     int
	WantContains []string
}

// Result pairs a Scenario with what actually happened.
type Result struct {
	Scenario Scenario
	Response Response
	Err      error
}

// Passed reports whether the response matched the expectation.
func (r Result) Passed() bool {
	return r.Failure() == ""
}

// Failure describes the mismatch, or returns "" when the scenario passed.
func (r Result) Failure() string {
	if r.Err != nil {
		return r.Err.Error()
	}
	if r.Response.Code != r.Scenario.WantCode {
		return fmt.Sprintf("got status %d, want %d", r.Response.Code, r.Scenario.WantCode)
	}
	text := r.Response.String()
	for _, want := range r.Scenario.WantContains {
		if !strings.Contains(text, want) {
			return fmt.Sprintf("response does not contain %q", want)
		}
	}
	return ""
}

// Scenarios returns the three acceptance checks. The systempropertiesonly
// one passes only when the server's environment allows the sea package.
func Scenarios() []Scenario {
	return []Scenario{
		{
			Name:         "watercraft via process environment",
			Deployment:   deploy.SystemPropertiesOnly,
			Vehicle:      sea.NewWatercraft(),
			WantCode:     http.StatusCreated,
			WantContains: []string{"Created"},
		},
		{
			Name:         "automobile via deployment params",
			Deployment:   deploy.WhiteList,
			Vehicle:      land.NewAutomobile(),
			WantCode:     http.StatusCreated,
			WantContains: []string{"Created"},
		},
		{
			Name:         "aircraft denied by deployment params",
			Deployment:   deploy.WhiteList,
			Vehicle:      air.NewAircraft(),
			WantCode:     http.StatusBadRequest,
			WantContains: []string{"Configured `PolymorphicTypeValidator`", "denied resolution"},
		},
	}
}

// Run sends every scenario concurrently and returns results in input
// order. Transport failures land in Result.Err rather than aborting the run.
func (d *Driver) Run(ctx context.Context, scenarios []Scenario, opts ...work.Option) ([]Result, error) {
	results := make([]Result, len(scenarios))
	reqs := make([]*http.Request, len(scenarios))
	for i, sc := range scenarios {
		results[i].Scenario = sc
		req, err := d.NewRequest(ctx, vehicles.Wrap(sc.Vehicle), sc.Deployment)
		if err != nil {
			return nil, err
		}
		reqs[i] = req
	}

	resps, err := d.client.Batch(ctx, reqs, opts...)
	var failures *work.Errors
	if err != nil && !errors.As(err, &failures) {
		return nil, err
	}
	if failures != nil {
		for _, f := range failures.Failures {
			results[f.Index].Err = f.Err
		}
	}
	for i, resp := range resps {
		if resp == nil {
			continue
		}
		results[i].Response, results[i].Err = readResponse(resp)
	}
	return results, nil
}
