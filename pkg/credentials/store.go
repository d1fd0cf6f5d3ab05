package credentials

import (
	"crypto/rsa"
	"crypto/x509"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

const cacheSize = 16

// Store memoizes parsed credentials per raw PEM string. Parsing is
// deterministic, so a cache hit is always equivalent to reparsing. The store
// is safe for concurrent use; concurrent first parses of the same PEM are
// collapsed to a single parse.
type Store struct {
	certs *lru.Cache[string, *x509.Certificate]
	keys  *lru.Cache[string, *rsa.PrivateKey]
	group singleflight.Group

	// OnHit and OnMiss, when set, observe cache outcomes per credential
	// kind ("certificate" or "private_key").
	OnHit  func(kind string)
	OnMiss func(kind string)
}

// NewStore creates a credential store.
func NewStore() *Store {
	certs, _ := lru.New[string, *x509.Certificate](cacheSize)
	keys, _ := lru.New[string, *rsa.PrivateKey](cacheSize)
	return &Store{certs: certs, keys: keys}
}

// Certificate returns the parsed certificate for pemText, parsing at most
// once per distinct input.
func (s *Store) Certificate(pemText string) (*x509.Certificate, error) {
	if cert, ok := s.certs.Get(pemText); ok {
		s.observe(s.OnHit, "certificate")
		return cert, nil
	}
	s.observe(s.OnMiss, "certificate")

	v, err, _ := s.group.Do("cert:"+pemText, func() (interface{}, error) {
		cert, err := ParseCertificate(pemText)
		if err != nil {
			return nil, err
		}
		s.certs.Add(pemText, cert)
		return cert, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*x509.Certificate), nil
}

// PrivateKey returns the parsed private key for pemText, parsing at most
// once per distinct input.
func (s *Store) PrivateKey(pemText string) (*rsa.PrivateKey, error) {
	if key, ok := s.keys.Get(pemText); ok {
		s.observe(s.OnHit, "private_key")
		return key, nil
	}
	s.observe(s.OnMiss, "private_key")

	v, err, _ := s.group.Do("key:"+pemText, func() (interface{}, error) {
		key, err := ParsePrivateKey(pemText)
		if err != nil {
			return nil, err
		}
		s.keys.Add(pemText, key)
		return key, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*rsa.PrivateKey), nil
}

func (s *Store) observe(fn func(string), kind string) {
	if fn != nil {
		fn(kind)
	}
}

// Purge drops all memoized credentials. Called when settings change.
func (s *Store) Purge() {
	s.certs.Purge()
	s.keys.Purge()
}
