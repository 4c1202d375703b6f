// Package statetoken implements the signed, self-contained state tokens that
// carry the OAuth handshake across the provider redirect. The token embeds
// {subject, platform, nonce, iat, exp} and is verified by signature alone, so
// any instance can handle the callback without shared state.
//
// Known gap: the nonce is not tracked server-side, so a captured token can be
// replayed until it expires. The TTL is the only mitigation.
package statetoken

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

// Audience is the expected audience claim for connect state tokens.
const Audience = "connect-state"

var (
	ErrInvalid = errors.New("invalid state token")
	ErrExpired = errors.New("state token expired")
)

// State is the verified content of a state token.
type State struct {
	Subject  string
	Platform string
	Nonce    string
}

// Codec signs and verifies state tokens with a process-wide secret injected
// at startup. It holds no other state.
type Codec struct {
	secret []byte
	now    func() time.Time
}

// New creates a Codec. The secret must be non-empty.
func New(secret []byte) (*Codec, error) {
	if len(secret) == 0 {
		return nil, errors.New("statetoken: empty signing secret")
	}
	s := make([]byte, len(secret))
	copy(s, secret)
	return &Codec{secret: s, now: time.Now}, nil
}

// Issue signs a state token for subject/platform with a fresh random nonce
// and an absolute expiry now+ttl.
func (c *Codec) Issue(subject, platform string, ttl time.Duration) (string, error) {
	nonce, err := randomNonce(16)
	if err != nil {
		return "", err
	}
	now := c.now().UTC()
	claims := jwtv5.MapClaims{
		"aud":      Audience,
		"sub":      subject,
		"platform": platform,
		"nonce":    nonce,
		"iat":      now.Unix(),
		"nbf":      now.Unix(),
		"exp":      now.Add(ttl).Unix(),
	}
	tok := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims)
	return tok.SignedString(c.secret)
}

// Verify parses and validates a state token. Expiry is reported as
// ErrExpired, every other failure as ErrInvalid, so callers can offer a
// "retry the flow" path for the former.
func (c *Codec) Verify(token string) (*State, error) {
	parsed, err := jwtv5.Parse(token,
		func(t *jwtv5.Token) (any, error) { return c.secret, nil },
		jwtv5.WithValidMethods([]string{"HS256"}),
		jwtv5.WithTimeFunc(func() time.Time { return c.now() }),
	)
	if err != nil {
		if errors.Is(err, jwtv5.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrInvalid
	}
	claims, ok := parsed.Claims.(jwtv5.MapClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalid
	}
	if aud, _ := claims["aud"].(string); aud != Audience {
		return nil, ErrInvalid
	}
	st := &State{
		Subject:  getString(claims, "sub"),
		Platform: getString(claims, "platform"),
		Nonce:    getString(claims, "nonce"),
	}
	if st.Subject == "" || st.Nonce == "" {
		return nil, ErrInvalid
	}
	return st, nil
}

func getString(m jwtv5.MapClaims, key string) string {
	v, _ := m[key].(string)
	return v
}

func randomNonce(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
