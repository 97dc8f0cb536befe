package session

import (
	"bytes"
	"context"
	"net/url"
	"os"
	"strings"

	"sjsage522/cardledger/logger"
	"sjsage522/cardledger/pkg/errors"

	"github.com/PuerkitoBio/goquery"
)

// Login form markers of the marketplace header
const (
	loginFormSelector = `form[action*="User_Login"]`
	csrfTokenField    = "__cmtkn"
	usernameField     = "username"
	passwordField     = "userPassword"
)

// Provider establishes the authenticated session of a run
type Provider struct {
	creds Credentials
	opts  Options
	log   *logger.Logger
}

// NewProvider creates a new session provider
func NewProvider(creds Credentials, opts Options) *Provider {
	return &Provider{
		creds: creds,
		opts:  opts,
		log:   logger.ForComponent("session"),
	}
}

// Establish authenticates with the first configured strategy and verifies the
// session with a liveness probe. A rejected session is never retried.
func (p *Provider) Establish(ctx context.Context) (*Session, error) {
	strategy, ok := p.creds.Strategy()
	if !ok {
		return nil, errors.NewConfiguration("no credentials configured", nil)
	}

	sess, err := newSession(p.opts, strategy)
	if err != nil {
		return nil, errors.NewConfiguration("failed to create http client", err)
	}

	p.log.Info().Str("strategy", string(strategy)).Msg("Establishing session")

	switch strategy {
	case StrategyCookie:
		sess.setCookieHeader(p.creds.Cookie)
	case StrategySessionID:
		sess.setCookieHeader(SessionCookieName + "=" + p.creds.SessionID)
	case StrategyPassword, StrategyCSRFLogin:
		if err := p.login(ctx, sess, strategy == StrategyCSRFLogin); err != nil {
			return nil, err
		}
	}

	if err := p.probe(ctx, sess); err != nil {
		return nil, err
	}

	p.log.Info().Str("strategy", string(strategy)).Msg("Session established")
	return sess, nil
}

// login submits the header login form. With withToken the hidden form inputs,
// including the CSRF token, are posted along with the credentials.
func (p *Provider) login(ctx context.Context, sess *Session, withToken bool) error {
	resp, err := sess.Get(ctx, p.opts.HomeURL)
	if err != nil {
		return errors.NewNetwork("session", "failed to fetch login page", err)
	}
	if resp.IsError() {
		return errors.NewHTTPStatus("session", resp.StatusCode())
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body()))
	if err != nil {
		return errors.NewParsing("session", "failed to parse login page", err)
	}

	form := doc.Find(loginFormSelector).First()
	if form.Length() == 0 {
		return errors.NewUnsupportedLogin("login form not found on " + p.opts.HomeURL)
	}

	action, err := resolveAction(p.opts.HomeURL, form.AttrOr("action", ""))
	if err != nil {
		return errors.NewUnsupportedLogin("login form has an invalid action")
	}

	data := map[string]string{}
	if withToken {
		form.Find(`input[type="hidden"]`).Each(func(_ int, input *goquery.Selection) {
			if name, ok := input.Attr("name"); ok && name != "" {
				data[name] = input.AttrOr("value", "")
			}
		})
		if data[csrfTokenField] == "" {
			return errors.NewUnsupportedLogin("login form carries no " + csrfTokenField + " token")
		}
	}
	data[usernameField] = p.creds.Username
	data[passwordField] = p.creds.Password

	resp, err = sess.PostForm(ctx, action, data)
	if err != nil {
		return errors.NewNetwork("session", "login request failed", err)
	}
	if resp.IsError() {
		return errors.NewHTTPStatus("session", resp.StatusCode())
	}

	p.log.Debug().Str("action", action).Bool("csrf", withToken).Msg("Login form submitted")
	return nil
}

// probe requests the landing page and checks for the logged-in marker
func (p *Provider) probe(ctx context.Context, sess *Session) error {
	resp, err := sess.Get(ctx, p.opts.HomeURL)
	if err != nil {
		return errors.NewNetwork("session", "liveness probe failed", err)
	}

	body := resp.Body()
	if resp.StatusCode() == 200 && sess.IsAuthenticated(body) {
		return nil
	}

	p.log.Error().
		Int("status", resp.StatusCode()).
		Str("marker", p.opts.Marker).
		Msg("Session rejected by the marketplace")

	if p.opts.DumpFile != "" {
		if err := os.WriteFile(p.opts.DumpFile, body, 0644); err != nil {
			p.log.Warn().Err(err).Str("file", p.opts.DumpFile).Msg("Failed to write debug dump")
		} else {
			p.log.Info().Str("file", p.opts.DumpFile).Msg("Probe response saved for diagnosis")
		}
	}
	if strings.Contains(strings.ToLower(string(body)), "cloudflare") {
		p.log.Warn().Msg("Response looks like a Cloudflare challenge; supply the full browser cookie string in CM_COOKIE")
	}

	return errors.NewSessionRejected("logged-in marker missing from " + p.opts.HomeURL)
}

func resolveAction(base, action string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(strings.TrimSpace(action))
	if err != nil {
		return "", err
	}
	return baseURL.ResolveReference(ref).String(), nil
}
