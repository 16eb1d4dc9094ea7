package stepca

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-jose/go-jose/v4"
	"golang.org/x/sync/singleflight"

	"github.com/Strob0t/iotbridge/internal/adapter/restclient"
	"github.com/Strob0t/iotbridge/internal/port/pki"
)

// keySource loads one JWK provisioner's private key once and keeps it until
// Invalidate. Concurrent first loads share a single fetch.
type keySource struct {
	client      *Client
	provisioner string
	password    func() string

	mu    sync.Mutex
	key   *jose.JSONWebKey
	group singleflight.Group
}

func (s *keySource) get(ctx context.Context) (*jose.JSONWebKey, error) {
	s.mu.Lock()
	key := s.key
	s.mu.Unlock()
	if key != nil {
		return key, nil
	}

	v, err, _ := s.group.Do(s.provisioner, func() (any, error) {
		k, err := s.load(ctx)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.key = k
		s.mu.Unlock()
		return k, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*jose.JSONWebKey), nil
}

func (s *keySource) load(ctx context.Context) (*jose.JSONWebKey, error) {
	provs, err := s.client.listProvisioners(ctx)
	if err != nil {
		return nil, issuanceError(s.provisioner, "load provisioner key", err)
	}
	for _, p := range provs {
		if p.Name != s.provisioner || p.Type != "JWK" {
			continue
		}
		if p.EncryptedKey == "" {
			return nil, &IssuanceError{Provisioner: s.provisioner, Op: "load provisioner key",
				Err: fmt.Errorf("provisioner %q has no encryptedKey", s.provisioner)}
		}
		key, err := decryptKey(p.EncryptedKey, s.password())
		if err != nil {
			return nil, &IssuanceError{Provisioner: s.provisioner, Op: "load provisioner key", Err: err}
		}
		return key, nil
	}
	return nil, &IssuanceError{Provisioner: s.provisioner, Op: "load provisioner key",
		Err: fmt.Errorf("JWK provisioner %q not found in step-ca", s.provisioner)}
}

func (s *keySource) invalidate() {
	s.mu.Lock()
	s.key = nil
	s.mu.Unlock()
}

// Issuer signs CSRs through one JWK provisioner.
type Issuer struct {
	client *Client
	keys   *keySource
}

var _ pki.Issuer = (*Issuer)(nil)

// NewIssuer returns an Issuer for the named provisioner. password is
// consulted whenever the key has to be decrypted, so a secret reload
// followed by Invalidate takes effect without a restart.
func (c *Client) NewIssuer(provisioner string, password func() string) *Issuer {
	return &Issuer{
		client: c,
		keys:   &keySource{client: c, provisioner: provisioner, password: password},
	}
}

// Provisioner returns the provisioner name.
func (i *Issuer) Provisioner() string { return i.keys.provisioner }

// Invalidate drops the cached signing key.
func (i *Issuer) Invalidate() { i.keys.invalidate() }

// Sign submits csrPEM to /1.0/sign with a one-time token for subject and
// sans. A 401 answer drops the cached key so the next call reloads it.
func (i *Issuer) Sign(ctx context.Context, csrPEM, subject string, sans []string) (*pki.Certificate, error) {
	key, err := i.keys.get(ctx)
	if err != nil {
		return nil, err
	}

	ott, err := oneTimeToken(key, i.keys.provisioner, subject, i.client.signURL(), sans, csrPEM, i.client.now())
	if err != nil {
		return nil, &IssuanceError{Provisioner: i.keys.provisioner, Op: "sign", Err: err}
	}

	resp, err := i.client.rc.Do(ctx, restclient.Request{
		Op:      "sign",
		Method:  http.MethodPost,
		Path:    "/1.0/sign",
		Body:    map[string]string{"csr": csrPEM, "ott": ott},
		Timeout: i.client.signTimeout,
	})
	if err != nil {
		if isUnauthorized(err) {
			i.Invalidate()
		}
		return nil, issuanceError(i.keys.provisioner, "sign", err)
	}

	var out struct {
		Crt string `json:"crt"`
		CA  string `json:"ca"`
	}
	if err := resp.JSON(&out); err != nil {
		return nil, &IssuanceError{Provisioner: i.keys.provisioner, Op: "sign", Err: err}
	}
	if out.Crt == "" {
		return nil, &IssuanceError{Provisioner: i.keys.provisioner, Op: "sign", Err: errors.New("response has no crt")}
	}
	return &pki.Certificate{CertPEM: out.Crt, ChainPEM: out.CA}, nil
}
