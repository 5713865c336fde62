package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/jack/shortlink-resolver/internal/codegen"
	"github.com/jack/shortlink-resolver/internal/config"
	"github.com/jack/shortlink-resolver/internal/model"
	"github.com/jack/shortlink-resolver/internal/repository"
)

const (
	defaultPageSize = 50
	maxPageSize     = 1000
	maxPasswordLen  = 72
	maxURLLen       = 2048
	maxDurationDays = 36500
)

var (
	ErrValidation     = errors.New("validation failed")
	ErrForbidden      = errors.New("link belongs to another owner")
	ErrImmutableField = errors.New("field cannot be changed")
)

var linksCreated = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "shortlink_links_created_total",
		Help: "Links created, by how the code was chosen",
	},
	[]string{"code"},
)

type LinkService struct {
	links     repository.LinkStore
	events    repository.EventStore
	generator *codegen.Generator
	baseURL   string
	logger    *zap.Logger
	now       func() time.Time
	hashCost  int
}

func NewLinkService(
	links repository.LinkStore,
	events repository.EventStore,
	generator *codegen.Generator,
	cfg *config.Config,
	logger *zap.Logger,
) *LinkService {
	return &LinkService{
		links:     links,
		events:    events,
		generator: generator,
		baseURL:   cfg.App.BaseURL,
		logger:    logger,
		now:       time.Now,
		hashCost:  bcrypt.DefaultCost,
	}
}

func (s *LinkService) ShortURL(code string) string {
	return s.baseURL + "/" + code
}

func (s *LinkService) CreateLink(ctx context.Context, owner string, req *model.CreateLinkRequest) (*model.CreateLinkResponse, error) {
	if err := validateTargetURL(req.TargetURL); err != nil {
		return nil, err
	}

	link := &model.Link{
		TargetURL: req.TargetURL,
		Owner:     owner,
		Active:    true,
	}

	expiresAt, err := s.expiry(req)
	if err != nil {
		return nil, err
	}
	link.ExpiresAt = expiresAt

	if req.MaxUses != nil {
		if *req.MaxUses < 1 {
			return nil, fmt.Errorf("%w: max_uses must be at least 1", ErrValidation)
		}
		n := *req.MaxUses
		link.MaxUses = &n
	}

	if req.Password != "" {
		hash, err := s.hashPassword(req.Password)
		if err != nil {
			return nil, err
		}
		link.PasswordHash = hash
	}

	code, err := s.generator.Generate(ctx, req.RequestedCode, func(ctx context.Context, code string) error {
		link.Code = code
		return s.links.CreateLink(ctx, link)
	})
	if err != nil {
		return nil, err
	}

	kind := "random"
	if req.RequestedCode != "" {
		kind = "custom"
	}
	linksCreated.WithLabelValues(kind).Inc()
	s.logger.Info("link created",
		zap.String("code", code),
		zap.String("owner", owner),
		zap.Bool("custom_code", req.RequestedCode != ""),
		zap.Bool("password_protected", link.HasPassword()),
	)

	return &model.CreateLinkResponse{
		Code:      code,
		ShortURL:  s.ShortURL(code),
		TargetURL: link.TargetURL,
		ExpiresAt: link.ExpiresAt,
		MaxUses:   link.MaxUses,
		Protected: link.HasPassword(),
	}, nil
}

// GetLink returns a link without consuming a use. Soft-deleted links are
// reported as missing.
func (s *LinkService) GetLink(ctx context.Context, code string) (*model.LinkResponse, error) {
	link, err := s.liveLink(ctx, code)
	if err != nil {
		return nil, err
	}

	resp := model.NewLinkResponse(link, s.baseURL)
	return &resp, nil
}

func (s *LinkService) ListLinks(ctx context.Context, owner string, limit, offset int) ([]model.LinkResponse, error) {
	if owner == "" {
		return nil, fmt.Errorf("%w: owner is required to list links", ErrValidation)
	}

	links, err := s.links.ListLinks(ctx, model.LinkFilter{
		Owner:  owner,
		Limit:  pageSize(limit),
		Offset: max(offset, 0),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}

	out := make([]model.LinkResponse, 0, len(links))
	for i := range links {
		out = append(out, model.NewLinkResponse(&links[i], s.baseURL))
	}
	return out, nil
}

func (s *LinkService) UpdateLink(ctx context.Context, owner, code string, req *model.UpdateLinkRequest) (*model.LinkResponse, error) {
	link, err := s.liveLink(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := checkOwner(link, owner); err != nil {
		return nil, err
	}

	if req.Code != nil && *req.Code != link.Code {
		return nil, fmt.Errorf("%w: code", ErrImmutableField)
	}
	if req.CreatedAt != nil && !req.CreatedAt.Equal(link.CreatedAt) {
		return nil, fmt.Errorf("%w: created_at", ErrImmutableField)
	}

	patch, err := s.buildPatch(req)
	if err != nil {
		return nil, err
	}
	if patch.IsEmpty() {
		return nil, fmt.Errorf("%w: nothing to update", ErrValidation)
	}

	updated, err := s.links.UpdateLink(ctx, code, patch)
	if err != nil {
		return nil, err
	}

	s.logger.Info("link updated", zap.String("code", code), zap.String("owner", owner))

	resp := model.NewLinkResponse(updated, s.baseURL)
	return &resp, nil
}

// DeleteLink soft-deletes a link. Its click history is kept and its code
// is never reissued.
func (s *LinkService) DeleteLink(ctx context.Context, owner, code string) error {
	link, err := s.liveLink(ctx, code)
	if err != nil {
		return err
	}
	if err := checkOwner(link, owner); err != nil {
		return err
	}

	if err := s.links.DeleteLink(ctx, code); err != nil {
		return err
	}

	s.logger.Info("link deleted", zap.String("code", code), zap.String("owner", owner))
	return nil
}

// ListClicks pages through the raw click events of a link, newest first.
func (s *LinkService) ListClicks(ctx context.Context, code string, limit, offset int) (*model.ClickListResponse, error) {
	if _, err := s.liveLink(ctx, code); err != nil {
		return nil, err
	}

	limit = pageSize(limit)
	offset = max(offset, 0)

	clicks, err := s.events.ListRecentClicks(ctx, code, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list clicks: %w", err)
	}

	return &model.ClickListResponse{Code: code, Clicks: clicks, Limit: limit, Offset: offset}, nil
}

func (s *LinkService) liveLink(ctx context.Context, code string) (*model.Link, error) {
	link, err := s.links.GetLink(ctx, code)
	if err != nil {
		return nil, err
	}
	if link.IsDeleted() {
		return nil, repository.ErrLinkNotFound
	}
	return link, nil
}

func (s *LinkService) buildPatch(req *model.UpdateLinkRequest) (model.LinkPatch, error) {
	patch := model.LinkPatch{
		ExpiresAt:      req.ExpiresAt,
		ClearExpiresAt: req.ClearExpiresAt,
		ClearMaxUses:   req.ClearMaxUses,
		ClearPassword:  req.ClearPassword,
		Active:         req.Active,
	}

	if req.TargetURL != nil {
		if err := validateTargetURL(*req.TargetURL); err != nil {
			return model.LinkPatch{}, err
		}
		patch.TargetURL = req.TargetURL
	}

	if req.MaxUses != nil {
		if *req.MaxUses < 1 {
			return model.LinkPatch{}, fmt.Errorf("%w: max_uses must be at least 1", ErrValidation)
		}
		patch.MaxUses = req.MaxUses
	}

	if req.Password != nil {
		hash, err := s.hashPassword(*req.Password)
		if err != nil {
			return model.LinkPatch{}, err
		}
		patch.PasswordHash = &hash
	}

	return patch, nil
}

func (s *LinkService) expiry(req *model.CreateLinkRequest) (*time.Time, error) {
	if req.ExpiresAt != nil && req.ExpiresIn != "" {
		return nil, fmt.Errorf("%w: set either expires_at or expires_in", ErrValidation)
	}

	now := s.now()
	switch {
	case req.ExpiresIn != "":
		d, err := parseDuration(req.ExpiresIn)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid expires_in: %v", ErrValidation, err)
		}
		t := now.Add(d).UTC()
		return &t, nil
	case req.ExpiresAt != nil:
		// A past instant is accepted; the link then resolves as expired.
		if req.ExpiresAt.IsZero() {
			return nil, fmt.Errorf("%w: expires_at must be set", ErrValidation)
		}
		t := req.ExpiresAt.UTC()
		return &t, nil
	}
	return nil, nil
}

func (s *LinkService) hashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("%w: password must not be empty", ErrValidation)
	}
	if len(password) > maxPasswordLen {
		return "", fmt.Errorf("%w: password must be at most %d bytes", ErrValidation, maxPasswordLen)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

func checkOwner(link *model.Link, owner string) error {
	if link.Owner != "" && link.Owner != owner {
		return ErrForbidden
	}
	return nil
}

func validateTargetURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: target_url is required", ErrValidation)
	}
	if len(raw) > maxURLLen {
		return fmt.Errorf("%w: target_url is longer than %d characters", ErrValidation, maxURLLen)
	}

	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("%w: target_url must be an absolute URL", ErrValidation)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
	default:
		return fmt.Errorf("%w: only http/https URLs are allowed", ErrValidation)
	}
	return nil
}

func pageSize(limit int) int {
	if limit <= 0 {
		return defaultPageSize
	}
	return min(limit, maxPageSize)
}

// parseDuration extends time.ParseDuration with a day unit, e.g. "7d".
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty duration")
	}

	var d time.Duration
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid day count %q", days)
		}
		if n > maxDurationDays {
			return 0, fmt.Errorf("day count %d exceeds %d", n, maxDurationDays)
		}
		d = time.Duration(n) * 24 * time.Hour
	} else {
		var err error
		if d, err = time.ParseDuration(s); err != nil {
			return 0, err
		}
	}

	if d <= 0 {
		return 0, errors.New("duration must be positive")
	}
	return d, nil
}
