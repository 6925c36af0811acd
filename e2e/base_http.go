package e2e

import (
	"bytes"
	"context"
	"dm-lab/auth"
	"dm-lab/client"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gookit/color"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/suite"
)

const (
	stepTimeout  = 30 * time.Second
	testPassword = "Correct-Horse-42"
)

type BaseHTTPSuite struct {
	suite.Suite
	Config Config
	log    *slog.Logger
}

// SetupSuite loads the environment configuration before running tests
func (s *BaseHTTPSuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)
	if s.Config.ServerURL == "" {
		s.T().Skip("E2E_SERVER_URL not set")
	}
	s.log = logs.GetLoggerFromString("WARN")
}

// HTTPClient returns a client logging every call of the step, with bodies when E2E_DEBUG_JSON is set.
func (s *BaseHTTPSuite) HTTPClient(t *testing.T, name string) *http.Client {
	header := fmt.Sprintf("  ====== %s ======", name)
	if s.Config.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	t.Log(header)
	return &http.Client{
		Timeout:   stepTimeout,
		Transport: loggingTransport{t: t, debug: s.Config.DebugJSON, next: http.DefaultTransport},
	}
}

// WithUser registers a fresh user and hands a connected session to fn.
func (s *BaseHTTPSuite) WithUser(name string, fn func(ctx context.Context, session *client.Session)) {
	ctx, cancel := context.WithTimeout(context.Background(), stepTimeout)
	defer cancel()

	api := client.NewAPI(s.Config.ServerURL, s.HTTPClient(s.T(), name))
	_, err := api.Register(ctx, auth.RegisterRequest{
		Name:     name,
		Email:    fmt.Sprintf("%s-%s@example.com", strings.ToLower(name), uuid.NewString()[:8]),
		Password: testPassword,
	})
	s.Require().NoError(err, "Failed to register "+name)

	session, err := client.Connect(ctx, s.log, api, 0)
	s.Require().NoError(err, "Failed to connect "+name+" to the relay")
	defer session.Close()

	fn(ctx, session)
}

type loggingTransport struct {
	t     *testing.T
	debug bool
	next  http.RoundTripper
}

func (l loggingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	start := time.Now()
	var request []byte
	if l.debug && r.Body != nil {
		request, _ = io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(request))
	}

	resp, err := l.next.RoundTrip(r)

	logBuilder := strings.Builder{}
	if err != nil {
		fmt.Fprintf(&logBuilder, "HTTP %s %s [%v] in %v", r.Method, r.URL.Path, err, time.Since(start))
		l.t.Log(logBuilder.String())
		return nil, err
	}
	fmt.Fprintf(&logBuilder, "HTTP %s %s [%d] in %v", r.Method, r.URL.Path, resp.StatusCode, time.Since(start))
	if l.debug {
		response, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		resp.Body = io.NopCloser(bytes.NewReader(response))
		fmt.Fprintln(&logBuilder, "\nREQUEST:")
		fmt.Fprintln(&logBuilder, string(request))
		fmt.Fprintln(&logBuilder, "RESPONSE:")
		fmt.Fprintln(&logBuilder, string(response))
	}
	l.t.Log(logBuilder.String())
	return resp, nil
}
