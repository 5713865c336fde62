// Package codegen produces short codes. Uniqueness is never checked here:
// the generator hands each candidate to an insert callback backed by the
// store's unique key and retries random draws on conflict.
package codegen

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/jack/shortlink-resolver/internal/config"
	"github.com/jack/shortlink-resolver/internal/repository"
)

const base62Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

var (
	ErrInvalidCode         = errors.New("invalid short code")
	ErrGenerationExhausted = errors.New("could not generate a free short code")
)

// InsertFunc atomically reserves code, returning repository.ErrCodeConflict
// when it is already taken.
type InsertFunc func(ctx context.Context, code string) error

type Generator struct {
	length      int
	maxAttempts int
	minCustom   int
	maxCustom   int
	reserved    []string
	random      func(n int) (string, error)
}

func NewGenerator(cfg *config.CodeConfig) *Generator {
	return &Generator{
		length:      cfg.Length,
		maxAttempts: cfg.MaxAttempts,
		minCustom:   cfg.MinCustomLength,
		maxCustom:   cfg.MaxCustomLength,
		reserved:    cfg.ReservedPrefixes,
		random:      randomBase62,
	}
}

// Generate reserves requested if given, otherwise a random code. A requested
// code is never retried: a conflict is returned to the caller as is.
func (g *Generator) Generate(ctx context.Context, requested string, insert InsertFunc) (string, error) {
	if requested != "" {
		if err := g.Validate(requested); err != nil {
			return "", err
		}
		if err := insert(ctx, requested); err != nil {
			return "", err
		}
		return requested, nil
	}

	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		code, err := g.random(g.length)
		if err != nil {
			return "", fmt.Errorf("failed to draw short code: %w", err)
		}
		if g.isReserved(code) {
			continue
		}

		err = insert(ctx, code)
		if err == nil {
			return code, nil
		}
		if !errors.Is(err, repository.ErrCodeConflict) {
			return "", err
		}
	}

	return "", fmt.Errorf("%w after %d attempts", ErrGenerationExhausted, g.maxAttempts)
}

// Validate checks a caller-chosen code: letters, digits, '-' and '_',
// within the configured length bounds, not starting with a reserved prefix.
func (g *Generator) Validate(code string) error {
	if len(code) < g.minCustom || len(code) > g.maxCustom {
		return fmt.Errorf("%w: length must be between %d and %d", ErrInvalidCode, g.minCustom, g.maxCustom)
	}
	for _, c := range code {
		if !isURLSafe(c) {
			return fmt.Errorf("%w: character %q is not allowed", ErrInvalidCode, c)
		}
	}
	if g.isReserved(code) {
		return fmt.Errorf("%w: %q uses a reserved prefix", ErrInvalidCode, code)
	}
	return nil
}

func (g *Generator) isReserved(code string) bool {
	lower := strings.ToLower(code)
	for _, prefix := range g.reserved {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

func isURLSafe(c rune) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '-' || c == '_'
}

func randomBase62(n int) (string, error) {
	base := big.NewInt(int64(len(base62Chars)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, base)
		if err != nil {
			return "", err
		}
		b[i] = base62Chars[idx.Int64()]
	}
	return string(b), nil
}
