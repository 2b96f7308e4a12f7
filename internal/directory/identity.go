// Package directory resolves a local principal into the set of
// mail-equivalent addresses the itip engine's identities input
// expects: the account's primary mail plus any alias addresses, so a
// message ORGANIZER/ATTENDEE line matches regardless of which address
// it was filed under.
package directory

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/itip-engine/internal/cache"
	"github.com/sonroyaalmerol/itip-engine/internal/config"
)

// Resolver resolves a username to the identities []string the engine
// accepts on every Propose*/ProcessInbound call.
type Resolver interface {
	Close()
	Identities(ctx context.Context, username string) ([]string, error)
}

type LDAPResolver struct {
	cfg    config.LDAPConfig
	logger zerolog.Logger
	conn   *ldap.Conn
	cache  *cache.Cache[string, []string]
}

func NewLDAPResolver(cfg config.LDAPConfig, logger zerolog.Logger) (*LDAPResolver, error) {
	conn, err := dialLDAPAuto(cfg)
	if err != nil {
		logger.Error().Err(err).Str("url", cfg.URL).Msg("failed to dial LDAP")
		return nil, err
	}
	if cfg.BindDN != "" {
		if err := conn.Bind(cfg.BindDN, cfg.BindPassword); err != nil {
			logger.Error().Err(err).Str("bind_dn", cfg.BindDN).Msg("initial bind failed")
			conn.Close()
			return nil, err
		}
	}
	return &LDAPResolver{
		cfg:    cfg,
		logger: logger,
		conn:   conn,
		cache:  cache.New[string, []string](cfg.CacheTTL),
	}, nil
}

func (r *LDAPResolver) Close() {
	if r.conn != nil {
		r.conn.Close()
	}
}

// Identities looks up username and returns its primary mail address
// plus any AliasAttr values, all normalized the way the engine
// normalizes ORGANIZER/ATTENDEE values (lowercased, mailto: stripped).
func (r *LDAPResolver) Identities(ctx context.Context, username string) ([]string, error) {
	if v, ok := r.cache.Get(username); ok {
		return v, nil
	}

	req := ldap.NewSearchRequest(
		r.cfg.UserBaseDN,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 1, int(r.cfg.Timeout.Seconds()), false,
		fmt.Sprintf(r.cfg.UserFilter, ldap.EscapeFilter(username), ldap.EscapeFilter(username)),
		[]string{"dn", r.cfg.MailAttr, r.cfg.AliasAttr},
		nil,
	)
	res, err := r.conn.Search(req)
	if err != nil {
		r.logger.Error().Err(err).Str("username", username).Msg("LDAP search failed resolving identities")
		return nil, err
	}
	if len(res.Entries) == 0 {
		return nil, fmt.Errorf("directory: no such user %q", username)
	}

	entry := res.Entries[0]
	var identities []string
	if mail := entry.GetAttributeValue(r.cfg.MailAttr); mail != "" {
		identities = append(identities, normalize(mail))
	}
	for _, alias := range entry.GetAttributeValues(r.cfg.AliasAttr) {
		identities = append(identities, normalize(stripSMTPPrefix(alias)))
	}

	r.cache.Set(username, identities, time.Now().Add(r.cfg.CacheTTL))
	return identities, nil
}

// stripSMTPPrefix strips Exchange-style "smtp:"/"SMTP:" prefixes some
// directories put on proxyAddresses entries.
func stripSMTPPrefix(v string) string {
	if i := strings.IndexByte(v, ':'); i >= 0 && strings.EqualFold(v[:i], "smtp") {
		return v[i+1:]
	}
	return v
}

func normalize(addr string) string {
	a := strings.TrimSpace(addr)
	if i := strings.IndexByte(a, ':'); i >= 0 && strings.EqualFold(a[:i], "mailto") {
		a = a[i+1:]
	}
	return strings.ToLower(a)
}

func dialLDAPAuto(cfg config.LDAPConfig) (*ldap.Conn, error) {
	u := strings.TrimSpace(cfg.URL)
	if u == "" {
		return nil, errors.New("directory: LDAP URL is empty")
	}

	isLDAPS := strings.HasPrefix(strings.ToLower(u), "ldaps://")
	isLDAP := strings.HasPrefix(strings.ToLower(u), "ldap://")
	if !isLDAP && !isLDAPS {
		return nil, errors.New("directory: URL must start with ldap:// or ldaps://")
	}

	if isLDAPS {
		tlsConfig := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
		hostPort := strings.TrimPrefix(u, "ldaps://")
		if host, _, err := net.SplitHostPort(hostPort); err == nil && host != "" {
			tlsConfig.ServerName = host
		} else {
			tlsConfig.ServerName = hostPort
		}
		return ldap.DialURL(u, ldap.DialWithTLSConfig(tlsConfig))
	}

	conn, err := ldap.DialURL(u)
	if err != nil {
		return nil, err
	}

	if cfg.RequireTLS {
		tlsConfig := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
		hostPort := strings.TrimPrefix(u, "ldap://")
		if host, _, err := net.SplitHostPort(hostPort); err == nil && host != "" {
			tlsConfig.ServerName = host
		} else {
			tlsConfig.ServerName = hostPort
		}
		if err := conn.StartTLS(tlsConfig); err != nil {
			conn.Close()
			return nil, fmt.Errorf("directory: StartTLS failed: %w", err)
		}
	}

	return conn, nil
}
