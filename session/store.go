// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

// Package session keeps the demo's per-user state in encrypted browser
// cookies: the login attempt between /login and /callback, the signed-in
// user, and a connected account flow that is in progress.
//
// Each value gets its own cookie, and an encoded cookie may not exceed
// MaxCookieSize.  Encryption and encoding grow a value by roughly 1.8x, so
// an id_token or access token over about 2 KB fails with ErrTooLarge.  Okta
// tokens carrying a large groups claim can hit this; trim the claims in the
// authorization server's token settings.
package session

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"github.com/hashicorp/go-hclog"

	"github.com/caademo/caa/oidc"
)

const (
	loginCookie   = "login"
	userCookie    = "user"
	tokenCookie   = "token"
	pendingCookie = "pending"

	valueKey = "v"
)

// MaxCookieSize is the largest encoded cookie the store writes: the 4096
// bytes browsers guarantee per cookie.
const MaxCookieSize = 4096

// Store reads and writes session state.
type Store struct {
	cookies *sessions.CookieStore
	prefix  string
	logger  hclog.Logger
	nowFunc func() time.Time
}

// NewStore creates a Store.  The hashKey authenticates the cookies and must be
// at least 32 bytes.  The blockKey encrypts them and must be 16, 24 or 32
// bytes.
//
// Supported options:
//   - WithSecure
//   - WithCookiePrefix
//   - WithPath
//   - WithMaxAge
//   - WithSameSite
//   - WithLogger
//   - WithNow
func NewStore(hashKey, blockKey []byte, opt ...Option) (*Store, error) {
	const op = "session.NewStore"
	if len(hashKey) < 32 {
		return nil, fmt.Errorf("%s: hash key must be at least 32 bytes: %w", op, ErrInvalidParameter)
	}
	switch len(blockKey) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("%s: block key must be 16, 24 or 32 bytes: %w", op, ErrInvalidParameter)
	}
	opts := getStoreOpts(opt...)

	cs := sessions.NewCookieStore(hashKey, blockKey)
	cs.Options = &sessions.Options{
		Path:     opts.withPath,
		MaxAge:   int(opts.withMaxAge.Seconds()),
		Secure:   opts.withSecure,
		HttpOnly: true,
		SameSite: opts.withSameSite,
	}
	cs.MaxAge(cs.Options.MaxAge)
	for _, c := range cs.Codecs {
		// save enforces MaxCookieSize itself so it can report ErrTooLarge
		if sc, ok := c.(*securecookie.SecureCookie); ok {
			sc.MaxLength(0)
		}
	}
	return &Store{
		cookies: cs,
		prefix:  opts.withPrefix,
		logger:  opts.withLogger,
		nowFunc: opts.withNowFunc,
	}, nil
}

func (s *Store) now() time.Time {
	if s.nowFunc != nil {
		return s.nowFunc()
	}
	return time.Now() // fallback to this default
}

func (s *Store) name(cookie string) string { return s.prefix + "_" + cookie }

// save stores v as JSON in the named cookie.
func (s *Store) save(w http.ResponseWriter, r *http.Request, cookie string, v interface{}) error {
	const op = "Store.save"
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	sess, err := s.cookies.Get(r, s.name(cookie))
	if err != nil {
		// an undecodable cookie still yields a new session to write over it
		s.logger.Debug("replacing unreadable session cookie", "cookie", s.name(cookie), "error", err)
	}
	sess.Values[valueKey] = string(b)
	encoded, err := securecookie.EncodeMulti(sess.Name(), sess.Values, s.cookies.Codecs...)
	if err != nil {
		return fmt.Errorf("%s: unable to encode %s: %w", op, s.name(cookie), err)
	}
	if len(encoded) > MaxCookieSize {
		return fmt.Errorf("%s: %s is %d bytes encoded, limit %d: %w", op, s.name(cookie), len(encoded), MaxCookieSize, ErrTooLarge)
	}
	http.SetCookie(w, sessions.NewCookie(sess.Name(), encoded, sess.Options))
	return nil
}

// load reads the named cookie into v.
func (s *Store) load(r *http.Request, cookie string, v interface{}) error {
	const op = "Store.load"
	sess, err := s.cookies.Get(r, s.name(cookie))
	if err != nil {
		s.logger.Debug("ignoring unreadable session cookie", "cookie", s.name(cookie), "error", err)
		return fmt.Errorf("%s: %s: %w", op, s.name(cookie), ErrNotFound)
	}
	raw, ok := sess.Values[valueKey].(string)
	if !ok || raw == "" {
		return fmt.Errorf("%s: %s: %w", op, s.name(cookie), ErrNotFound)
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("%s: %s: %w", op, s.name(cookie), err)
	}
	return nil
}

// remove expires the named cookie.
func (s *Store) remove(w http.ResponseWriter, r *http.Request, cookie string) error {
	const op = "Store.remove"
	sess, _ := s.cookies.Get(r, s.name(cookie))
	delete(sess.Values, valueKey)
	sess.Options.MaxAge = -1
	if err := sess.Save(r, w); err != nil {
		return fmt.Errorf("%s: unable to remove %s: %w", op, s.name(cookie), err)
	}
	return nil
}

// SaveLogin stores the login attempt.
func (s *Store) SaveLogin(w http.ResponseWriter, r *http.Request, req *oidc.Request) error {
	const op = "Store.SaveLogin"
	if req == nil {
		return fmt.Errorf("%s: request is nil: %w", op, ErrNilParameter)
	}
	if err := s.save(w, r, loginCookie, req); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// TakeLogin returns the stored login attempt and removes it, so a callback can
// only be completed once.
func (s *Store) TakeLogin(w http.ResponseWriter, r *http.Request) (*oidc.Request, error) {
	const op = "Store.TakeLogin"
	var req oidc.Request
	err := s.load(r, loginCookie, &req)
	if rmErr := s.remove(w, r, loginCookie); rmErr != nil {
		return nil, fmt.Errorf("%s: %w", op, rmErr)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &req, nil
}

// User is the signed-in user.
type User struct {
	IDToken     oidc.IDToken     `json:"-"`
	AccessToken oidc.AccessToken `json:"-"`
	Expiry      time.Time        `json:"expiry"`
	Subject     string           `json:"sub"`
	Email       string           `json:"email,omitempty"`
	Name        string           `json:"name,omitempty"`
}

// userJSON carries the id_token, which User's own encoding leaves out.  The
// access token has a cookie of its own so each stays under the browser's
// cookie size limit.
type userJSON struct {
	IDToken string    `json:"id_token"`
	Expiry  time.Time `json:"expiry"`
	Subject string    `json:"sub"`
	Email   string    `json:"email,omitempty"`
	Name    string    `json:"name,omitempty"`
}

// NewUser creates a User from a completed login.  The profile comes from
// the id_token's claims.
func NewUser(t *oidc.Token) (*User, error) {
	const op = "session.NewUser"
	if t == nil {
		return nil, fmt.Errorf("%s: token is nil: %w", op, ErrNilParameter)
	}
	claims, err := t.IDToken.Claims()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	u := &User{
		IDToken:     t.IDToken,
		AccessToken: t.AccessToken,
		Expiry:      t.Expiry,
		Subject:     claims.Subject(),
		Email:       claims.String("email"),
		Name:        claims.String("name"),
	}
	if u.Expiry.IsZero() {
		u.Expiry = claims.Expiry()
	}
	if u.Subject == "" {
		return nil, fmt.Errorf("%s: id_token has no sub: %w", op, ErrInvalidParameter)
	}
	return u, nil
}

// Expired returns true when the user's tokens have expired.  A zero expiry
// never expires.
func (u *User) Expired(now time.Time) bool {
	return !u.Expiry.IsZero() && !now.Before(u.Expiry)
}

// SaveUser stores the signed-in user.
func (s *Store) SaveUser(w http.ResponseWriter, r *http.Request, u *User) error {
	const op = "Store.SaveUser"
	if u == nil {
		return fmt.Errorf("%s: user is nil: %w", op, ErrNilParameter)
	}
	j := userJSON{
		IDToken: string(u.IDToken),
		Expiry:  u.Expiry,
		Subject: u.Subject,
		Email:   u.Email,
		Name:    u.Name,
	}
	if err := s.save(w, r, userCookie, j); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.save(w, r, tokenCookie, string(u.AccessToken)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// User returns the signed-in user.  It returns ErrNotFound when nobody is
// signed in and ErrExpired when the user's tokens have expired.
func (s *Store) User(r *http.Request) (*User, error) {
	const op = "Store.User"
	var j userJSON
	if err := s.load(r, userCookie, &j); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if j.IDToken == "" {
		return nil, fmt.Errorf("%s: missing id_token: %w", op, ErrNotFound)
	}
	var accessToken string
	if err := s.load(r, tokenCookie, &accessToken); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	u := &User{
		IDToken:     oidc.IDToken(j.IDToken),
		AccessToken: oidc.AccessToken(accessToken),
		Expiry:      j.Expiry,
		Subject:     j.Subject,
		Email:       j.Email,
		Name:        j.Name,
	}
	if u.Expired(s.now()) {
		return nil, fmt.Errorf("%s: %w", op, ErrExpired)
	}
	return u, nil
}

// Pending is a connected account flow in progress.
type Pending struct {
	Resource     string    `json:"resource"`
	Connection   string    `json:"connection"`
	State        string    `json:"state"`
	AuthSession  string    `json:"auth_session"`
	CodeVerifier string    `json:"code_verifier"`
	RedirectURI  string    `json:"redirect_uri"`
	Expiry       time.Time `json:"expiry"`
}

// SavePending stores a connected account flow in progress.  Only one flow is
// kept, so starting another replaces it.
func (s *Store) SavePending(w http.ResponseWriter, r *http.Request, p *Pending) error {
	const op = "Store.SavePending"
	switch {
	case p == nil:
		return fmt.Errorf("%s: pending connection is nil: %w", op, ErrNilParameter)
	case p.State == "" || p.AuthSession == "":
		return fmt.Errorf("%s: state and auth session are required: %w", op, ErrInvalidParameter)
	}
	if err := s.save(w, r, pendingCookie, p); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// TakePending returns the stored connected account flow and removes it.  It
// returns ErrExpired when the flow outlived its expiry.
func (s *Store) TakePending(w http.ResponseWriter, r *http.Request) (*Pending, error) {
	const op = "Store.TakePending"
	var p Pending
	err := s.load(r, pendingCookie, &p)
	if rmErr := s.remove(w, r, pendingCookie); rmErr != nil {
		return nil, fmt.Errorf("%s: %w", op, rmErr)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !p.Expiry.IsZero() && !s.now().Before(p.Expiry) {
		return nil, fmt.Errorf("%s: %w", op, ErrExpired)
	}
	return &p, nil
}

// Clear removes all session state.
func (s *Store) Clear(w http.ResponseWriter, r *http.Request) error {
	const op = "Store.Clear"
	for _, c := range []string{loginCookie, userCookie, tokenCookie, pendingCookie} {
		if err := s.remove(w, r, c); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return nil
}
