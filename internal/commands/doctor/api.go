package doctor

import (
	"context"
	"time"
)

var now = time.Now

// HealthChecker pings the API.
type HealthChecker interface {
	CheckHealth(ctx context.Context) (string, error)
}

// APICheck verifies the API answers its health endpoint.
type APICheck struct {
	health  HealthChecker
	baseURL string
}

// NewAPICheck creates a new API reachability check.
func NewAPICheck(health HealthChecker, baseURL string) *APICheck {
	return &APICheck{health: health, baseURL: baseURL}
}

func (c *APICheck) Name() string {
	return "API"
}

func (c *APICheck) Run(ctx context.Context) Result {
	result := Result{Name: c.Name()}

	start := now()
	status, err := c.health.CheckHealth(ctx)
	if err != nil {
		result.add(StatusFail, c.baseURL, err.Error())
		return result
	}

	result.add(StatusPass, c.baseURL, status+" in "+now().Sub(start).Round(time.Millisecond).String())
	return result
}
