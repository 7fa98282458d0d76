package crypt

import "sync"

// Provider is the AEAD capability the rest of echocap depends on.
type Provider interface {
	DeriveKey(token string) (Key, error)
	Encrypt(plaintext []byte, token string) ([]byte, error)
	Decrypt(packet []byte, token string) ([]byte, error)
}

// PBKDF2Provider is the default Provider. It remembers the key derived for
// the most recent token so a long-running recorder pays the PBKDF2 cost once.
// Outputs are identical to the package-level Encrypt/Decrypt.
type PBKDF2Provider struct {
	mu          sync.Mutex
	fingerprint string
	key         Key
}

// NewProvider returns a PBKDF2Provider with an empty key cache.
func NewProvider() *PBKDF2Provider {
	return &PBKDF2Provider{}
}

// DeriveKey returns a copy of the key for token, deriving it on a cache miss.
func (p *PBKDF2Provider) DeriveKey(token string) (Key, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key, err := p.keyLocked(token)
	if err != nil {
		return Key{}, err
	}
	return Key{b: append([]byte(nil), key.b...)}, nil
}

// Encrypt seals plaintext under the key for token.
func (p *PBKDF2Provider) Encrypt(plaintext []byte, token string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key, err := p.keyLocked(token)
	if err != nil {
		return nil, err
	}
	return Seal(key, plaintext)
}

// Decrypt opens packet with the key for token.
func (p *PBKDF2Provider) Decrypt(packet []byte, token string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key, err := p.keyLocked(token)
	if err != nil {
		return nil, err
	}
	return Open(key, packet)
}

// Forget wipes the cached key.
func (p *PBKDF2Provider) Forget() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.key.wipe()
	p.key = Key{}
	p.fingerprint = ""
}

func (p *PBKDF2Provider) keyLocked(token string) (Key, error) {
	fp := Fingerprint(token)
	if p.fingerprint == fp && len(p.key.b) == KeySize {
		return p.key, nil
	}

	key, err := DeriveKey(token)
	if err != nil {
		return Key{}, err
	}

	p.key.wipe()
	p.fingerprint = fp
	p.key = key
	return key, nil
}
