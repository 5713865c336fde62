// Package resolver decides what a request for a short code gets.
//
// Checks run in a fixed order: existence, active flag, expiry, password,
// then the atomic use-count increment. Only the increment writes, so a
// request denied by any earlier check never consumes a use.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/jack/shortlink-resolver/internal/model"
	"github.com/jack/shortlink-resolver/internal/repository"
)

var resolutionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "shortlink_resolutions_total",
		Help: "Short code resolutions by outcome",
	},
	[]string{"outcome"},
)

// Recorder receives one call per successful resolution. Record must not
// block.
type Recorder interface {
	Record(code string, rc model.RequestContext)
}

type Resolver struct {
	links    repository.LinkStore
	recorder Recorder
	logger   *zap.Logger
	now      func() time.Time
}

func New(links repository.LinkStore, recorder Recorder, logger *zap.Logger) *Resolver {
	return &Resolver{
		links:    links,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}
}

// Resolve evaluates code for the request described by rc. Denials are
// returned as outcomes; the error is non-nil only when storage fails.
func (r *Resolver) Resolve(ctx context.Context, code, password string, rc model.RequestContext) (model.Outcome, error) {
	if rc.Time.IsZero() {
		rc.Time = r.now()
	}

	outcome, err := r.resolve(ctx, code, password, rc)
	if err != nil {
		resolutionsTotal.WithLabelValues("error").Inc()
		return model.Outcome{}, err
	}

	resolutionsTotal.WithLabelValues(outcome.Status.String()).Inc()

	if outcome.Resolved() && r.recorder != nil {
		r.recorder.Record(code, rc)
	}

	return outcome, nil
}

func (r *Resolver) resolve(ctx context.Context, code, password string, rc model.RequestContext) (model.Outcome, error) {
	link, err := r.links.GetLink(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrLinkNotFound) {
			return deny(model.StatusNotFound, nil), nil
		}
		return model.Outcome{}, fmt.Errorf("failed to load link: %w", err)
	}

	switch {
	case link.IsDeleted():
		return deny(model.StatusNotFound, nil), nil
	case !link.Active:
		return deny(model.StatusInactive, link), nil
	case link.IsExpired(rc.Time):
		return deny(model.StatusExpired, link), nil
	}

	if link.HasPassword() {
		if password == "" {
			return deny(model.StatusPasswordRequired, link), nil
		}
		if bcrypt.CompareHashAndPassword([]byte(link.PasswordHash), []byte(password)) != nil {
			return deny(model.StatusPasswordMismatch, link), nil
		}
	}

	used, err := r.links.IncrementUse(ctx, code)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrUseLimitExceeded):
			return deny(model.StatusExhausted, link), nil
		case errors.Is(err, repository.ErrLinkInactive):
			return deny(model.StatusInactive, link), nil
		case errors.Is(err, repository.ErrLinkNotFound):
			return deny(model.StatusNotFound, nil), nil
		}
		return model.Outcome{}, fmt.Errorf("failed to consume link use: %w", err)
	}

	if used.MaxUses != nil && used.UseCount == *used.MaxUses {
		r.logger.Debug("link reached its use limit",
			zap.String("code", code),
			zap.Int64("max_uses", *used.MaxUses),
		)
	}

	return model.Outcome{Status: model.StatusResolved, TargetURL: used.TargetURL, Link: used}, nil
}

func deny(status model.ResolutionStatus, link *model.Link) model.Outcome {
	return model.Outcome{Status: status, Link: link}
}
