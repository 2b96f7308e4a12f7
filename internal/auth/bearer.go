package auth

import (
	"context"
	"errors"
	"time"

	"github.com/sonroyaalmerol/itip-engine/internal/cache"
	"github.com/sonroyaalmerol/itip-engine/internal/config"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/rs/zerolog"
)

// BearerAuth validates a JWT against a JWKS endpoint and maps its
// subject claim directly onto the principal username the dispatcher
// looks identities up with — the CalDAV server this was adapted from
// instead mapped the subject to an LDAP-bound user via a configurable
// attribute; the dispatcher has no such directory of accounts to bind
// against, so the subject claim itself is taken to be the username.
type BearerAuth struct {
	cfg    config.AuthConfig
	logger zerolog.Logger

	keyset jwk.Set
	ksAt   time.Time
	ksTTL  time.Duration

	verCache *cache.Cache[string, *Principal]
}

func NewBearerAuth(cfg config.AuthConfig, logger zerolog.Logger) *BearerAuth {
	return &BearerAuth{
		cfg:      cfg,
		logger:   logger,
		ksTTL:    10 * time.Minute,
		verCache: cache.New[string, *Principal](2 * time.Minute),
	}
}

func (b *BearerAuth) Authenticate(ctx context.Context, token string) (*Principal, error) {
	if p, ok := b.verCache.Get(token); ok && p != nil {
		return p, nil
	}

	if b.cfg.JWKSURL == "" {
		return nil, errors.New("auth: no JWKS configured")
	}

	set := b.keyset
	var err error
	if set == nil || time.Since(b.ksAt) > b.ksTTL {
		set, err = jwk.Fetch(ctx, b.cfg.JWKSURL)
		if err != nil {
			return nil, err
		}
		b.keyset = set
		b.ksAt = time.Now()
	}

	tok, err := jwt.Parse([]byte(token), jwt.WithKeySet(set), jwt.WithValidate(true))
	if err != nil {
		return nil, err
	}

	if iss := tok.Issuer(); b.cfg.Issuer != "" && iss != b.cfg.Issuer {
		return nil, errors.New("auth: issuer mismatch")
	}
	if aud := tok.Audience(); len(aud) > 0 && b.cfg.Audience != "" {
		found := false
		for _, a := range aud {
			if a == b.cfg.Audience {
				found = true
				break
			}
		}
		if !found {
			return nil, errors.New("auth: audience mismatch")
		}
	}

	sub := tok.Subject()
	if sub == "" {
		return nil, errors.New("auth: token has no sub claim")
	}

	p := &Principal{UserID: sub}
	b.verCache.Set(token, p, time.Now().Add(2*time.Minute))
	return p, nil
}
