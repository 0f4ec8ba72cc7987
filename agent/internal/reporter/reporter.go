// Package reporter pushes probe outcomes to the status page.
//
// Only status and description of a component are ever written. There is no
// retry and no local state: a failed update is returned to the caller and
// the next cycle reports again.
package reporter

import (
	"context"
	"log/slog"

	"github.com/pilot-net/cachet-agent/agent/internal/cachet"
	"github.com/pilot-net/cachet-agent/pkg/types"
)

// API is the part of the status page client the reporter needs.
type API interface {
	UpdateComponent(ctx context.Context, id int, req cachet.UpdateComponentRequest) error
}

// Reporter updates components on the status page.
type Reporter struct {
	api    API
	logger *slog.Logger
}

// New creates a reporter.
func New(api API, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		api:    api,
		logger: logger.With("component", "reporter"),
	}
}

// Report sets the component's status and description.
// Failures are returned as *types.ReportError.
func (r *Reporter) Report(ctx context.Context, componentID int, status types.StatusCode, description string) error {
	wire, err := cachet.WireStatus(status)
	if err != nil {
		return &types.ReportError{ComponentID: componentID, Err: err}
	}

	if err := r.api.UpdateComponent(ctx, componentID, cachet.UpdateComponentRequest{
		Status:      wire,
		Description: description,
	}); err != nil {
		return &types.ReportError{ComponentID: componentID, Err: err}
	}

	r.logger.Debug("updated component", "id", componentID, "status", status)
	return nil
}

// ReportException marks the component as a major outage described by err.
func (r *Reporter) ReportException(ctx context.Context, componentID int, err error) error {
	return r.Report(ctx, componentID, types.StatusMajorOutage, err.Error())
}
