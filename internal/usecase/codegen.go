package usecase

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/vadimbarashkov/shortly/internal/entity"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	DefaultCodeLength  = 4
	DefaultMaxAttempts = 5
	// DefaultAlphabet leaves out characters that are easy to misread: 0, O, 1, l and I.
	DefaultAlphabet = "23456789abcdefghijkmnopqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ"
)

var (
	// ErrInvalidShortCode is returned when a custom short code does not match the allowed format.
	ErrInvalidShortCode = errors.New("invalid short code")
	// ErrShortCodeTaken is returned when a custom short code is already in use.
	ErrShortCodeTaken = errors.New("short code already taken")
	// ErrMaxRetriesExceeded is returned when no free random short code was found within the attempt budget.
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded for generating short code")
)

var shortCodeRe = regexp.MustCompile(`^[A-Za-z0-9_-]{3,20}$`)

// Codes that would shadow fixed routes of the HTTP surface.
var reservedCodes = map[string]struct{}{
	"api":     {},
	"docs":    {},
	"swagger": {},
	"metrics": {},
}

func isReserved(code string) bool {
	_, ok := reservedCodes[strings.ToLower(code)]
	return ok
}

// ValidateShortCode checks a user supplied short code: 3 to 20 characters
// of letters, digits, '_' and '-', and not one of the reserved route names.
func ValidateShortCode(code string) error {
	if !shortCodeRe.MatchString(code) || isReserved(code) {
		return ErrInvalidShortCode
	}
	return nil
}

type codeLookup interface {
	RetrieveByShortCode(ctx context.Context, shortCode string) (*entity.URL, error)
}

type CodeGeneratorOption func(*CodeGenerator)

func WithCodeLength(n int) CodeGeneratorOption {
	return func(g *CodeGenerator) {
		g.length = n
	}
}

func WithMaxAttempts(n int) CodeGeneratorOption {
	return func(g *CodeGenerator) {
		g.maxAttempts = n
	}
}

func WithAlphabet(alphabet string) CodeGeneratorOption {
	return func(g *CodeGenerator) {
		g.alphabet = alphabet
	}
}

// CodeGenerator allocates short codes. Its existence checks are an optimization;
// the store's unique constraint is what guarantees uniqueness.
type CodeGenerator struct {
	repo        codeLookup
	alphabet    string
	length      int
	maxAttempts int
	generate    func(alphabet string, size int) (string, error)
}

func NewCodeGenerator(repo codeLookup, opts ...CodeGeneratorOption) *CodeGenerator {
	g := &CodeGenerator{
		repo:        repo,
		alphabet:    DefaultAlphabet,
		length:      DefaultCodeLength,
		maxAttempts: DefaultMaxAttempts,
		generate:    gonanoid.Generate,
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// MaxAttempts returns the attempt budget used for random codes.
func (g *CodeGenerator) MaxAttempts() int {
	return g.maxAttempts
}

func (g *CodeGenerator) ValidateCustom(code string) error {
	return ValidateShortCode(code)
}

// AllocateCustom returns code if it is well formed and not yet stored.
func (g *CodeGenerator) AllocateCustom(ctx context.Context, code string) (string, error) {
	const op = "usecase.CodeGenerator.AllocateCustom"

	if err := g.ValidateCustom(code); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	taken, err := g.exists(ctx, code)
	if err != nil {
		return "", fmt.Errorf("%s: failed to check short code: %w", op, err)
	}
	if taken {
		return "", fmt.Errorf("%s: %w", op, ErrShortCodeTaken)
	}

	return code, nil
}

// AllocateRandom draws random codes until one is free or the attempt budget is spent.
func (g *CodeGenerator) AllocateRandom(ctx context.Context) (string, error) {
	const op = "usecase.CodeGenerator.AllocateRandom"

	for i := 0; i < g.maxAttempts; i++ {
		code, err := g.generate(g.alphabet, g.length)
		if err != nil {
			return "", fmt.Errorf("%s: failed to generate short code: %w", op, err)
		}

		if isReserved(code) {
			continue
		}

		taken, err := g.exists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("%s: failed to check short code: %w", op, err)
		}
		if !taken {
			return code, nil
		}
	}

	return "", fmt.Errorf("%s: %w", op, ErrMaxRetriesExceeded)
}

func (g *CodeGenerator) exists(ctx context.Context, code string) (bool, error) {
	_, err := g.repo.RetrieveByShortCode(ctx, code)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, entity.ErrURLNotFound) {
		return false, nil
	}
	return false, err
}
