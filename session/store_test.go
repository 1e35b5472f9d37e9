// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caademo/caa/oidc"
)

var (
	testHashKey  = bytes.Repeat([]byte("h"), 32)
	testBlockKey = bytes.Repeat([]byte("b"), 32)
)

func TestNewStore(t *testing.T) {
	tests := []struct {
		name     string
		hashKey  []byte
		blockKey []byte
		opts     []Option
		wantErr  bool
	}{
		{name: "valid", hashKey: testHashKey, blockKey: testBlockKey},
		{name: "aes-128", hashKey: testHashKey, blockKey: testBlockKey[:16]},
		{name: "short-hash", hashKey: testHashKey[:16], blockKey: testBlockKey, wantErr: true},
		{name: "bad-block", hashKey: testHashKey, blockKey: testBlockKey[:10], wantErr: true},
		{name: "no-block", hashKey: testHashKey, wantErr: true},
		{
			name:     "options",
			hashKey:  testHashKey,
			blockKey: testBlockKey,
			opts:     []Option{WithSecure(true), WithCookiePrefix("demo"), WithMaxAge(time.Hour), WithSameSite(http.SameSiteStrictMode)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			s, err := NewStore(tt.hashKey, tt.blockKey, tt.opts...)
			if tt.wantErr {
				require.Error(err)
				assert.ErrorIs(err, ErrInvalidParameter)
				return
			}
			require.NoError(err)
			assert.True(s.cookies.Options.HttpOnly)
		})
	}

	s, err := NewStore(testHashKey, testBlockKey, WithSecure(true), WithCookiePrefix("demo"), WithMaxAge(time.Hour))
	require.NoError(t, err)
	assert.True(t, s.cookies.Options.Secure)
	assert.Equal(t, 3600, s.cookies.Options.MaxAge)
	assert.Equal(t, "demo_user", s.name(userCookie))
}

func TestStore_Login(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	s := testStore(t)

	req, err := oidc.NewRequest(time.Minute, "https://app.example.com/callback", oidc.WithScopes("email"))
	require.NoError(err)

	w := httptest.NewRecorder()
	require.NoError(s.SaveLogin(w, httptest.NewRequest(http.MethodGet, "/login", nil), req))
	cookies := w.Result().Cookies()
	require.Len(cookies, 1)
	assert.Equal("caa_login", cookies[0].Name)
	assert.True(cookies[0].HttpOnly)
	assert.Equal(http.SameSiteLaxMode, cookies[0].SameSite)

	r := testRequestWith(w)
	w = httptest.NewRecorder()
	got, err := s.TakeLogin(w, r)
	require.NoError(err)
	assert.Equal(req.State(), got.State())
	assert.Equal(req.Nonce(), got.Nonce())
	assert.Equal(req.PKCEVerifier().Verifier(), got.PKCEVerifier().Verifier())
	assert.Equal([]string{"email"}, got.Scopes())

	// the cookie is expired by the take
	require.Len(w.Result().Cookies(), 1)
	assert.True(w.Result().Cookies()[0].MaxAge < 0)
	_, err = s.TakeLogin(httptest.NewRecorder(), testRequestWith(w))
	assert.ErrorIs(err, ErrNotFound)

	assert.ErrorIs(s.SaveLogin(httptest.NewRecorder(), r, nil), ErrNilParameter)
}

func TestStore_User(t *testing.T) {
	now := time.Now()
	tp := oidc.StartTestProvider(t)
	tk := &oidc.Token{
		IDToken:     oidc.IDToken(tp.IDToken(oidc.TestClientID, "n")),
		AccessToken: oidc.AccessToken(tp.AccessToken("")),
		Expiry:      now.Add(time.Hour),
	}

	t.Run("round-trip", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s := testStore(t)
		u, err := NewUser(tk)
		require.NoError(err)
		assert.Equal(oidc.TestSubject, u.Subject)
		assert.Equal(oidc.TestEmail, u.Email)
		assert.Equal("Alice Example", u.Name)

		w := httptest.NewRecorder()
		require.NoError(s.SaveUser(w, httptest.NewRequest(http.MethodGet, "/callback", nil), u))
		got, err := s.User(testRequestWith(w))
		require.NoError(err)
		assert.Equal(u.IDToken, got.IDToken)
		assert.Equal(u.AccessToken, got.AccessToken)
		assert.Equal(u.Subject, got.Subject)
		assert.Equal(u.Email, got.Email)
		assert.True(u.Expiry.Equal(got.Expiry))
	})

	t.Run("not-signed-in", func(t *testing.T) {
		s := testStore(t)
		_, err := s.User(httptest.NewRequest(http.MethodGet, "/api/me", nil))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("expired", func(t *testing.T) {
		require := require.New(t)
		later := now.Add(2 * time.Hour)
		s := testStore(t, WithNow(func() time.Time { return later }))
		u, err := NewUser(tk)
		require.NoError(err)
		w := httptest.NewRecorder()
		require.NoError(s.SaveUser(w, httptest.NewRequest(http.MethodGet, "/callback", nil), u))
		_, err = s.User(testRequestWith(w))
		assert.ErrorIs(t, err, ErrExpired)
	})

	t.Run("other-keys", func(t *testing.T) {
		require := require.New(t)
		u, err := NewUser(tk)
		require.NoError(err)
		w := httptest.NewRecorder()
		require.NoError(testStore(t).SaveUser(w, httptest.NewRequest(http.MethodGet, "/", nil), u))

		other, err := NewStore(bytes.Repeat([]byte("x"), 32), testBlockKey)
		require.NoError(err)
		_, err = other.User(testRequestWith(w))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("new-user-errors", func(t *testing.T) {
		assert := assert.New(t)
		_, err := NewUser(nil)
		assert.ErrorIs(err, ErrNilParameter)
		_, err = NewUser(&oidc.Token{IDToken: oidc.IDToken(tp.SignJWT(map[string]interface{}{"iss": tp.Issuer()}, ""))})
		assert.ErrorIs(err, ErrInvalidParameter)
	})

	t.Run("cookie-size-limit", func(t *testing.T) {
		tests := []struct {
			name    string
			size    int
			wantErr error
		}{
			{name: "fits", size: 1500},
			{name: "too-large", size: 3000, wantErr: ErrTooLarge},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				assert, require := assert.New(t), require.New(t)
				s := testStore(t)
				u := &User{
					IDToken:     oidc.IDToken(strings.Repeat("i", tt.size)),
					AccessToken: oidc.AccessToken(strings.Repeat("a", tt.size)),
					Subject:     oidc.TestSubject,
				}
				w := httptest.NewRecorder()
				err := s.SaveUser(w, httptest.NewRequest(http.MethodGet, "/callback", nil), u)
				if tt.wantErr != nil {
					assert.ErrorIs(err, tt.wantErr)
					return
				}
				require.NoError(err)
				for _, c := range w.Result().Cookies() {
					assert.LessOrEqual(len(c.Value), MaxCookieSize)
				}
				got, err := s.User(testRequestWith(w))
				require.NoError(err)
				assert.Equal(u.IDToken, got.IDToken)
			})
		}
	})

	t.Run("tokens-redacted", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		u, err := NewUser(tk)
		require.NoError(err)
		assert.Equal(oidc.RedactedIDToken, u.IDToken.String())
		assert.Equal(oidc.RedactedAccessToken, u.AccessToken.String())
	})
}

func TestStore_Pending(t *testing.T) {
	now := time.Now()
	p := &Pending{
		Resource:     "github",
		Connection:   "github",
		State:        "st_1",
		AuthSession:  "as_1",
		CodeVerifier: "verifier",
		RedirectURI:  "https://app.example.com/connect/callback",
		Expiry:       now.Add(5 * time.Minute),
	}

	t.Run("take-once", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s := testStore(t)
		w := httptest.NewRecorder()
		require.NoError(s.SavePending(w, httptest.NewRequest(http.MethodGet, "/connect/github", nil), p))

		r := testRequestWith(w)
		w = httptest.NewRecorder()
		got, err := s.TakePending(w, r)
		require.NoError(err)
		assert.Equal(p.AuthSession, got.AuthSession)
		assert.Equal(p.CodeVerifier, got.CodeVerifier)
		assert.True(p.Expiry.Equal(got.Expiry))

		_, err = s.TakePending(httptest.NewRecorder(), testRequestWith(w))
		assert.ErrorIs(err, ErrNotFound)
	})

	t.Run("expired", func(t *testing.T) {
		require := require.New(t)
		later := now.Add(10 * time.Minute)
		s := testStore(t, WithNow(func() time.Time { return later }))
		w := httptest.NewRecorder()
		require.NoError(s.SavePending(w, httptest.NewRequest(http.MethodGet, "/connect/github", nil), p))
		_, err := s.TakePending(httptest.NewRecorder(), testRequestWith(w))
		assert.ErrorIs(t, err, ErrExpired)
	})

	t.Run("invalid", func(t *testing.T) {
		assert := assert.New(t)
		s := testStore(t)
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		assert.ErrorIs(s.SavePending(httptest.NewRecorder(), r, nil), ErrNilParameter)
		assert.ErrorIs(s.SavePending(httptest.NewRecorder(), r, &Pending{State: "st"}), ErrInvalidParameter)
	})
}

func TestStore_Clear(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	s := testStore(t)
	w := httptest.NewRecorder()
	require.NoError(s.Clear(w, httptest.NewRequest(http.MethodGet, "/logout", nil)))

	names := map[string]bool{}
	for _, c := range w.Result().Cookies() {
		assert.True(c.MaxAge < 0)
		names[c.Name] = true
	}
	assert.Equal(map[string]bool{"caa_login": true, "caa_user": true, "caa_token": true, "caa_pending": true}, names)
}

func testStore(t *testing.T, opt ...Option) *Store {
	t.Helper()
	s, err := NewStore(testHashKey, testBlockKey, opt...)
	require.NoError(t, err)
	return s
}

// testRequestWith returns a request carrying the live cookies w set.
func testRequestWith(w *httptest.ResponseRecorder) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range w.Result().Cookies() {
		if c.MaxAge < 0 {
			continue
		}
		r.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}
	return r
}
