package main

import (
	"context"
	"crypto/rand"
	"encoding/gob"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"fleetd/common"
	"fleetd/middleware"
)

func init() {
	gob.Register(middleware.User{})        // ensure scs can (de)serialize User
	gob.Register(map[string]interface{}{}) // for storing oauth temp data
}

var (
	oidcProv           *oidc.Provider
	oidcVerifier       *oidc.IDTokenVerifier
	oauthCfg           *oauth2.Config
	sessionManager     *scs.SessionManager
	authCfg            AuthConfig
	endSessionEndpoint string // discovered from .well-known
)

// ---- server-side id_token store (per-session) ----

type idTokenEntry struct {
	token string
	exp   time.Time
}
type idTokenStore struct {
	mu sync.RWMutex
	m  map[string]idTokenEntry // sid -> entry
}

func (s *idTokenStore) put(sid, token string, exp time.Time) {
	if sid == "" || token == "" {
		return
	}
	s.mu.Lock()
	if s.m == nil {
		s.m = make(map[string]idTokenEntry)
	}
	s.m[sid] = idTokenEntry{token: token, exp: exp}
	s.mu.Unlock()
}
func (s *idTokenStore) pop(sid string) string {
	if sid == "" {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ent, ok := s.m[sid]
	if ok {
		delete(s.m, sid)
		if time.Now().Before(ent.exp) {
			return ent.token
		}
	}
	return ""
}
func (s *idTokenStore) sweep() {
	now := time.Now()
	s.mu.Lock()
	for k, v := range s.m {
		if now.After(v.exp) {
			delete(s.m, k)
		}
	}
	s.mu.Unlock()
}

var idtStore idTokenStore

type AuthConfig struct {
	Issuer        string
	ClientID      string
	ClientSecret  string
	RedirectURL   string
	Scopes        []string
	SessionSecret []byte
	AllowedDomain string
	SecureCookies bool
	CookieDomain  string

	PostLogoutRedirectURL string // used for RP-initiated logout
}

const cookieMaxAge = 7 * 24 * 3600 // 7d

func InitAuthFromEnv() (*scs.SessionManager, error) {
	var err error

	// OIDC client credentials, allowing *_FILE and "@/path"
	clientID, err := common.EnvOrFile("OIDC_CLIENT_ID", "OIDC_CLIENT_ID_FILE")
	if err != nil {
		return nil, err
	}
	clientSecret, err := common.EnvOrFile("OIDC_CLIENT_SECRET", "OIDC_CLIENT_SECRET_FILE")
	if err != nil {
		return nil, err
	}

	sec, err := common.EnvOrFile("FLEETD_SESSION_SECRET", "FLEETD_SESSION_SECRET_FILE")
	if err != nil {
		return nil, err
	}
	if sec == "" {
		sec = randHex(64) // generate one if not provided
	}

	redirect := common.Env("OIDC_REDIRECT_URL", "")

	// Derive SecureCookies if FLEETD_COOKIE_SECURE is unset.
	secureStr := strings.TrimSpace(common.Env("FLEETD_COOKIE_SECURE", ""))
	var secure bool
	if secureStr == "" {
		secure = strings.HasPrefix(strings.ToLower(redirect), "https://")
	} else {
		switch strings.ToLower(secureStr) {
		case "1", "true", "yes", "on":
			secure = true
		default:
			secure = false
		}
	}

	authCfg = AuthConfig{
		Issuer:                common.Env("OIDC_ISSUER_URL", ""),
		ClientID:              clientID,
		ClientSecret:          clientSecret,
		RedirectURL:           redirect,
		Scopes:                scopes(common.Env("OIDC_SCOPES", "openid email profile")),
		SessionSecret:         []byte(sec),
		AllowedDomain:         strings.ToLower(common.Env("OIDC_ALLOWED_EMAIL_DOMAIN", "")),
		SecureCookies:         secure,
		CookieDomain:          common.Env("FLEETD_COOKIE_DOMAIN", ""),
		PostLogoutRedirectURL: common.Env("OIDC_POST_LOGOUT_REDIRECT_URL", ""),
	}

	if authCfg.Issuer == "" || authCfg.ClientID == "" || authCfg.ClientSecret == "" || authCfg.RedirectURL == "" {
		return nil, errors.New("OIDC_ISSUER_URL, OIDC_CLIENT_ID{/_FILE}, OIDC_CLIENT_SECRET{/_FILE}, OIDC_REDIRECT_URL are required")
	}

	ctx := context.Background()
	oidcProv, err = oidc.NewProvider(ctx, authCfg.Issuer)
	if err != nil {
		return nil, err
	}

	// Try to discover end_session_endpoint (not all providers expose it)
	var disc struct {
		EndSessionEndpoint string `json:"end_session_endpoint"`
	}
	if err := oidcProv.Claims(&disc); err == nil {
		endSessionEndpoint = strings.TrimSpace(disc.EndSessionEndpoint)
	}
	if endSessionEndpoint == "" {
		common.InfoLog("auth: no end_session_endpoint found in discovery; RP-logout will fall back to local clear")
	}

	oidcVerifier = oidcProv.Verifier(&oidc.Config{ClientID: authCfg.ClientID})
	oauthCfg = &oauth2.Config{
		ClientID:     authCfg.ClientID,
		ClientSecret: authCfg.ClientSecret,
		Endpoint:     oidcProv.Endpoint(),
		RedirectURL:  authCfg.RedirectURL,
		Scopes:       authCfg.Scopes,
	}

	sessionManager = scs.New()
	sessionManager.Lifetime = time.Duration(cookieMaxAge) * time.Second
	sessionManager.Cookie.Name = common.SessionName
	sessionManager.Cookie.HttpOnly = true
	sessionManager.Cookie.Secure = authCfg.SecureCookies
	sessionManager.Cookie.Path = "/"
	sessionManager.Cookie.Domain = authCfg.CookieDomain
	if authCfg.SecureCookies {
		sessionManager.Cookie.SameSite = http.SameSiteNoneMode
	} else {
		sessionManager.Cookie.SameSite = http.SameSiteLaxMode
	}

	common.SessionManager = sessionManager

	// background sweeper for server-side id_tokens
	go func() {
		t := time.NewTicker(10 * time.Minute)
		defer t.Stop()
		for range t.C {
			idtStore.sweep()
		}
	}()

	return sessionManager, nil
}

func scopes(s string) []string { return strings.Fields(s) }
func randHex(n int) string     { b := make([]byte, n/2); _, _ = rand.Read(b); return hex.EncodeToString(b) }

func LoginHandler(w http.ResponseWriter, r *http.Request) {
	if oauthCfg == nil || oidcProv == nil {
		http.Error(w, "auth not initialized", http.StatusInternalServerError)
		return
	}

	// CSRF + replay protection
	state := randHex(32)
	nonce := randHex(32)

	oauthData := map[string]interface{}{
		"state": state,
		"nonce": nonce,
	}
	sessionManager.Put(r.Context(), "oauth_temp", oauthData)

	authURL := oauthCfg.AuthCodeURL(state, oidc.Nonce(nonce))
	http.Redirect(w, r, authURL, http.StatusFound)
}

func CallbackHandler(w http.ResponseWriter, r *http.Request) {
	oauthData, _ := sessionManager.Pop(r.Context(), "oauth_temp").(map[string]interface{})
	wantState, _ := oauthData["state"].(string)
	nonce, _ := oauthData["nonce"].(string)

	// CSRF protection: state must match
	if r.URL.Query().Get("state") != wantState || wantState == "" {
		http.Error(w, "state mismatch", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tok, err := oauthCfg.Exchange(ctx, r.URL.Query().Get("code"))
	if err != nil {
		http.Error(w, "code exchange failed", http.StatusBadGateway)
		return
	}

	rawID, ok := tok.Extra("id_token").(string)
	if !ok {
		http.Error(w, "no id_token", http.StatusBadGateway)
		return
	}

	idt, err := oidcVerifier.Verify(ctx, rawID)
	if err != nil {
		http.Error(w, "id token verify failed", http.StatusUnauthorized)
		return
	}
	if idt.Nonce != nonce {
		http.Error(w, "nonce mismatch", http.StatusBadRequest)
		return
	}

	var claims struct {
		Sub    string `json:"sub"`
		Email  string `json:"email"`
		Name   string `json:"name"`
		Pic    string `json:"picture"`
		HD     string `json:"hd"`
		Domain string `json:"domain"`
		Exp    int64  `json:"exp"`
	}
	if err := idt.Claims(&claims); err != nil {
		http.Error(w, "claims parse failed", http.StatusBadGateway)
		return
	}

	if authCfg.AllowedDomain != "" {
		d := strings.ToLower(domainForClaims(claims.Email, claims.HD, claims.Domain))
		if d != authCfg.AllowedDomain {
			http.Error(w, "domain not allowed", http.StatusForbidden)
			return
		}
	}

	u := middleware.User{
		Sub:   claims.Sub,
		Email: strings.ToLower(claims.Email),
		Name:  claims.Name,
		Pic:   claims.Pic,
	}

	// Minimal session + sid; id_token kept server-side keyed by sid
	sid := sessionManager.GetString(r.Context(), "sid")
	if strings.TrimSpace(sid) == "" {
		sid = randHex(32)
		sessionManager.Put(r.Context(), "sid", sid)
	}
	sessionManager.Put(r.Context(), "user", u)
	sessionManager.Put(r.Context(), "exp", time.Now().Add(7*24*time.Hour).Unix())

	// expiry = min(session 7d, token exp if present)
	exp := time.Now().Add(7 * 24 * time.Hour)
	if claims.Exp > 0 {
		if te := time.Unix(claims.Exp, 0); te.Before(exp) {
			exp = te
		}
	}
	idtStore.put(sid, rawID, exp)

	common.InfoLog("auth: login ok sub=%s email=%s", u.Sub, u.Email)

	http.Redirect(w, r, "/", http.StatusFound)
}

func LogoutHandler(w http.ResponseWriter, r *http.Request) {
	// retrieve sid/id_token for RP-initiated logout BEFORE clearing
	sid := sessionManager.GetString(r.Context(), "sid")
	rawID := idtStore.pop(sid) // empty if absent/expired

	if err := sessionManager.Destroy(r.Context()); err != nil {
		common.ErrorLog("auth: failed to destroy session: %v", err)
	}

	// If discovery had an end_session_endpoint and we have an id_token, do RP-initiated logout.
	if endSessionEndpoint != "" && strings.TrimSpace(rawID) != "" {
		u, _ := url.Parse(endSessionEndpoint)
		q := u.Query()
		q.Set("id_token_hint", rawID)
		if authCfg.PostLogoutRedirectURL != "" {
			q.Set("post_logout_redirect_uri", authCfg.PostLogoutRedirectURL)
		}
		if authCfg.ClientID != "" {
			q.Set("client_id", authCfg.ClientID)
		}
		u.RawQuery = q.Encode()
		common.InfoLog("auth: rp-logout redirecting to OP end_session_endpoint")
		http.Redirect(w, r, u.String(), http.StatusSeeOther)
		return
	}

	// Fallback: JSON callers get 204, otherwise go home
	if r.Header.Get("Accept") == "application/json" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func SessionHandler(w http.ResponseWriter, r *http.Request) {
	u, ok := sessionManager.Get(r.Context(), "user").(middleware.User)
	exp := sessionManager.GetInt64(r.Context(), "exp")

	if !ok || exp == 0 || time.Now().Unix() > exp {
		writeJSON(w, http.StatusOK, map[string]any{"user": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": u})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func domainForClaims(email, hd, dom string) string {
	if hd != "" {
		return hd
	}
	if dom != "" {
		return dom
	}
	i := strings.LastIndex(email, "@")
	if i > 0 {
		return email[i+1:]
	}
	return ""
}
