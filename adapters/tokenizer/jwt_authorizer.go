package tokenizer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/layer-3/murmur/core"
	"github.com/layer-3/murmur/ports"
)

// DefaultTTL is how long an authorization token stays valid.
const DefaultTTL = 5 * time.Minute

// JWTAuthorizer implements the Authorizer interface with wallet-signed JWTs
type JWTAuthorizer struct {
	ttl    time.Duration
	leeway time.Duration
	now    func() time.Time
}

// NewJWTAuthorizer creates a new authorizer issuing tokens valid for ttl.
// A zero ttl means DefaultTTL.
func NewJWTAuthorizer(ttl time.Duration) *JWTAuthorizer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &JWTAuthorizer{ttl: ttl, leeway: 30 * time.Second, now: time.Now}
}

var _ ports.Authorizer = (*JWTAuthorizer)(nil)

// Authorize asks the signer to sign a token for purpose
func (j *JWTAuthorizer) Authorize(ctx context.Context, signer ports.Signer, address, purpose string) (string, error) {
	now := j.now()
	claims := AuthClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   common.HexToAddress(address).Hex(),
			ID:        uuid.New().String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Audience:  jwt.ClaimStrings{purpose},
		},
		Nonce: uuid.New().String(),
	}

	token := jwt.NewWithClaims(methodETH, claims)

	signedToken, err := token.SignedString(&WalletKey{Ctx: ctx, Signer: signer})
	if err != nil {
		return "", fmt.Errorf("%w: %w", core.ErrAuthorizationRejected, err)
	}

	return signedToken, nil
}

// Verify parses the token, checks its signature against its subject and
// returns the subject address
func (j *JWTAuthorizer) Verify(tokenStr, purpose string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &AuthClaims{}, func(token *jwt.Token) (interface{}, error) {
		claims, ok := token.Claims.(*AuthClaims)
		if !ok {
			return nil, fmt.Errorf("invalid claims type")
		}
		if !common.IsHexAddress(claims.Subject) {
			return nil, core.ErrInvalidAddress
		}
		return common.HexToAddress(claims.Subject), nil
	},
		jwt.WithValidMethods([]string{AlgETH}),
		jwt.WithAudience(purpose),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(j.leeway),
		jwt.WithTimeFunc(j.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", core.ErrTokenExpired
		}
		return "", fmt.Errorf("%w: %v", core.ErrInvalidToken, err)
	}

	if !token.Valid {
		return "", core.ErrInvalidToken
	}

	claims, ok := token.Claims.(*AuthClaims)
	if !ok {
		return "", core.ErrInvalidToken
	}

	return claims.Subject, nil
}
