package app

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/gantryhq/gantry/internal/auth"
	"github.com/gantryhq/gantry/internal/domain"
	"github.com/gantryhq/gantry/internal/observability"
)

var (
	tokenMintedTotal  metric.Int64Counter
	tokenRevokedTotal metric.Int64Counter
)

func init() {
	m := otel.Meter("deployer/app")

	tokenMintedTotal, _ = m.Int64Counter("auth_token_minted_total",
		metric.WithDescription("Total API tokens minted"))
	tokenRevokedTotal, _ = m.Int64Counter("security_token_revocations_total",
		metric.WithDescription("Total API token revocations"))
}

// TokenServiceConfig holds the dependencies for TokenService.
type TokenServiceConfig struct {
	Minter      *auth.Minter
	Revocations RevocationStore
	Logger      *slog.Logger
}

// TokenService mints and revokes API tokens.
type TokenService struct {
	minter      *auth.Minter
	revocations RevocationStore
	logger      *slog.Logger
}

// NewTokenService creates a TokenService with the given dependencies.
func NewTokenService(cfg TokenServiceConfig) *TokenService {
	return &TokenService{
		minter:      cfg.Minter,
		revocations: cfg.Revocations,
		logger:      cfg.Logger,
	}
}

// Mint issues a new API token for the subject with the given scope.
func (s *TokenService) Mint(ctx context.Context, subject, scope string) (*auth.MintResult, error) {
	ctx, span := tracer.Start(ctx, "token.mint")
	defer span.End()
	span.SetAttributes(attribute.String("scope", scope))

	result, err := s.minter.MintAPIToken(subject, scope)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	tokenMintedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("scope", scope)))
	observability.WithTraceID(ctx, s.logger).InfoContext(ctx, "token.minted",
		"subject", subject, "scope", scope, "jti", result.JTI)
	return &result, nil
}

// Revoke invalidates the token with the given ID. The revocation entry
// expires after the maximum token lifetime, which outlives any token that
// could still carry this jti.
func (s *TokenService) Revoke(ctx context.Context, jti string) error {
	ctx, span := tracer.Start(ctx, "token.revoke")
	defer span.End()

	id, err := domain.NewTokenID(jti)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := s.revocations.Revoke(ctx, id.String(), domain.APITokenLifetime); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("revoke token: %w", err)
	}

	tokenRevokedTotal.Add(ctx, 1)
	observability.WithTraceID(ctx, s.logger).InfoContext(ctx, "token.revoked", "jti", id.String())
	return nil
}
