// SPDX-License-Identifier: ice License 1.0

package http

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"net/url"
	"strings"
	stdlibtime "time"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"

	"github.com/ice-blockchain/relay/model"
)

type (
	Token interface {
		PubKey() string
	}
	AuthClient interface {
		// VerifyToken checks a base64 NIP-98 event against the request it authorizes. body is the request payload.
		VerifyToken(req *http.Request, token string, body []byte) (Token, error)
	}

	nostrToken struct {
		ev *model.Event
	}
	authNostr struct {
		clock clock.Clock
	}
)

const (
	tokenExpirationWindow = 15 * stdlibtime.Minute
	nostrHTTPAuthKind     = 27235
)

var (
	ErrTokenExpired = errors.New("expired token")
	ErrTokenInvalid = errors.New("invalid token")
)

func NewAuth(clk clock.Clock) AuthClient {
	return &authNostr{clock: clk}
}

//nolint:funlen // Sequential checks.
func (a *authNostr) VerifyToken(req *http.Request, token string, body []byte) (Token, error) {
	bToken, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, errors.Wrapf(ErrTokenInvalid, "malformed base64: %v", err)
	}
	ev := new(model.Event)
	if err = ev.UnmarshalJSON(bToken); err != nil {
		return nil, errors.Wrapf(ErrTokenInvalid, "malformed event json: %v", err)
	}
	if ev.Kind != nostrHTTPAuthKind {
		return nil, errors.Wrapf(ErrTokenInvalid, "invalid token event kind %v", ev.Kind)
	}
	if !ev.Verify() {
		return nil, errors.Wrap(ErrTokenInvalid, "invalid token signature")
	}
	now, createdAt := a.clock.Now(), ev.CreatedAt.Time()
	if createdAt.After(now) || now.Sub(createdAt) > tokenExpirationWindow {
		return nil, ErrTokenExpired
	}
	urlTag := ev.GetTag("u")
	if len(urlTag) < 2 {
		return nil, errors.Wrap(ErrTokenInvalid, "missing u tag")
	}
	urlValue, err := url.Parse(urlTag.Value())
	if err != nil {
		return nil, errors.Wrapf(ErrTokenInvalid, "failed to parse url tag with %v", urlTag.Value())
	}
	if fullReqURL := requestURL(req); urlValue.String() != fullReqURL.String() {
		return nil, errors.Wrapf(ErrTokenInvalid, "url mismatch token>%v url>%v", urlValue, fullReqURL)
	}
	if method := ev.GetTag("method").Value(); !strings.EqualFold(method, req.Method) {
		return nil, errors.Wrapf(ErrTokenInvalid, "method mismatch token>%v request>%v", method, req.Method)
	}
	if len(body) > 0 {
		hash := sha256.Sum256(body)
		if expected := ev.GetTag("payload").Value(); !strings.EqualFold(expected, hex.EncodeToString(hash[:])) {
			return nil, errors.Wrapf(ErrTokenInvalid, "payload hash mismatch token>%v", expected)
		}
	}

	return &nostrToken{ev: ev}, nil
}

func (t *nostrToken) PubKey() string {
	return t.ev.PubKey
}

func requestURL(req *http.Request) *url.URL {
	scheme := "http"
	if req.TLS != nil || strings.EqualFold(req.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}

	return &url.URL{
		Scheme:   scheme,
		Host:     req.Host,
		Path:     req.URL.Path,
		RawQuery: req.URL.RawQuery,
	}
}
