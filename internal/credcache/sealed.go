package credcache

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	sealedMagic = "BOC1"
	hkdfInfo    = "beout credential cache v1"
)

var errNoDeviceSecret = errors.New("credcache: no device secret")

// sealedFile guarda un blob cifrado con XChaCha20-Poly1305. La clave sale de
// HKDF-SHA256(deviceSecret, salt) y el salt va en el header del archivo.
// Formato: magic(4) | salt(16) | nonce(24) | ciphertext.
type sealedFile struct {
	path   string
	secret []byte
}

func (s *sealedFile) available() bool { return len(s.secret) > 0 }

func deriveKey(secret, salt []byte) ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, []byte(hkdfInfo)), key); err != nil {
		return nil, err
	}
	return key, nil
}

func (s *sealedFile) Write(plain []byte) error {
	if !s.available() {
		return errNoDeviceSecret
	}
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return err
	}
	key, err := deriveKey(s.secret, salt)
	if err != nil {
		return err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return err
	}

	out := make([]byte, 0, len(sealedMagic)+len(salt)+len(nonce)+len(plain)+aead.Overhead())
	out = append(out, sealedMagic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, plain, []byte(sealedMagic))
	return writeFileAtomic(s.path, out, 0o600)
}

// Read devuelve (nil, nil) si no hay archivo.
func (s *sealedFile) Read() ([]byte, error) {
	if !s.available() {
		return nil, errNoDeviceSecret
	}
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	header := len(sealedMagic) + 16 + chacha20poly1305.NonceSizeX
	if len(b) < header || string(b[:len(sealedMagic)]) != sealedMagic {
		return nil, fmt.Errorf("credcache: sealed file is malformed")
	}
	salt := b[len(sealedMagic) : len(sealedMagic)+16]
	nonce := b[len(sealedMagic)+16 : header]
	key, err := deriveKey(s.secret, salt)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	plain, err := aead.Open(nil, nonce, b[header:], []byte(sealedMagic))
	if err != nil {
		return nil, fmt.Errorf("credcache: open sealed file: %w", err)
	}
	return plain, nil
}

func (s *sealedFile) Remove() error { return removeIfExists(s.path) }
