package session

import (
	"context"
	"fmt"
	"net/http/cookiejar"
	"strings"
	"time"

	"sjsage522/cardledger/helpers"
	"sjsage522/cardledger/logger"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

// Strategy names how a session was authenticated
type Strategy string

const (
	StrategyCookie    Strategy = "cookie"
	StrategySessionID Strategy = "session_id"
	StrategyPassword  Strategy = "password"
	StrategyCSRFLogin Strategy = "csrf_login"
)

// SessionCookieName is the cookie carrying the server-side session id
const SessionCookieName = "PHPSESSID"

// Credentials holds every credential the user configured. Only one is used per run.
type Credentials struct {
	Cookie    string
	SessionID string
	Username  string
	Password  string
	CSRF      bool
}

// Strategy picks the strategy to use: full cookie string, then session id,
// then username/password login.
func (c Credentials) Strategy() (Strategy, bool) {
	switch {
	case c.Cookie != "":
		return StrategyCookie, true
	case c.SessionID != "":
		return StrategySessionID, true
	case c.Username != "" && c.Password != "":
		if c.CSRF {
			return StrategyCSRFLogin, true
		}
		return StrategyPassword, true
	default:
		return "", false
	}
}

// Options configures the HTTP client behind a session
type Options struct {
	HomeURL           string
	UserAgent         string
	Marker            string
	Timeout           time.Duration
	RequestsPerSecond float64
	DumpFile          string
}

// Session is an authenticated client bound to one run
type Session struct {
	http     *resty.Client
	strategy Strategy
	marker   string
}

func newSession(opts Options, strategy Strategy) (*Session, error) {
	client := resty.New()
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	client.SetHeaders(helpers.BrowserHeaders(opts.UserAgent, opts.HomeURL))
	client.SetTimeout(opts.Timeout)
	client.SetLogger(restyLogger{log: logger.ForComponent("http")})

	if opts.RequestsPerSecond > 0 {
		limiter := rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
		client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			return limiter.Wait(req.Context())
		})
	}

	return &Session{
		http:     client,
		strategy: strategy,
		marker:   opts.Marker,
	}, nil
}

// Strategy returns the strategy that authenticated this session
func (s *Session) Strategy() Strategy {
	return s.strategy
}

// Get issues a GET request under the session
func (s *Session) Get(ctx context.Context, url string) (*resty.Response, error) {
	return s.http.R().SetContext(ctx).Get(url)
}

// PostForm submits form data under the session
func (s *Session) PostForm(ctx context.Context, url string, data map[string]string) (*resty.Response, error) {
	return s.http.R().SetContext(ctx).SetFormData(data).Post(url)
}

// IsAuthenticated reports whether body carries the logged-in marker
func (s *Session) IsAuthenticated(body []byte) bool {
	return s.marker == "" || strings.Contains(string(body), s.marker)
}

func (s *Session) setCookieHeader(cookie string) {
	s.http.SetHeader("Cookie", cookie)
}

type restyLogger struct {
	log *logger.Logger
}

func (l restyLogger) Errorf(format string, v ...interface{}) {
	l.log.Error().Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l restyLogger) Warnf(format string, v ...interface{}) {
	l.log.Warn().Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l restyLogger) Debugf(format string, v ...interface{}) {
	l.log.Debug().Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}
