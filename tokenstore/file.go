package tokenstore

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"

	autherrors "github.com/jrsteele09/go-auth-console/internal/errors"
)

const (
	saltLength  = 16
	nonceLength = 24
	keyLength   = 32

	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

var _ Backend = (*FileBackend)(nil)

// FileBackend persists tokens as a JSON document so they survive restarts.
// With a passphrase the document is sealed with secretbox under an
// argon2id-derived key; the salt and nonce are stored in front of the box.
type FileBackend struct {
	path       string
	passphrase []byte
	mu         sync.Mutex
}

// FileOption defines a function type to modify the FileBackend instance.
type FileOption func(*FileBackend)

// WithPassphrase seals the file contents.
func WithPassphrase(passphrase string) FileOption {
	return func(f *FileBackend) {
		if passphrase != "" {
			f.passphrase = []byte(passphrase)
		}
	}
}

func NewFileBackend(path string, options ...FileOption) (*FileBackend, error) {
	if path == "" {
		return nil, errors.New("[NewFileBackend] path is required")
	}
	f := &FileBackend{path: path}
	for _, opt := range options {
		opt(f)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errors.Wrap(err, "[NewFileBackend] create directory")
	}
	return f, nil
}

func (f *FileBackend) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.load()
	if err != nil {
		return "", false, err
	}
	value, ok := values[key]
	return value, ok, nil
}

func (f *FileBackend) Set(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.load()
	if err != nil {
		return err
	}
	values[key] = value
	return f.save(values)
}

func (f *FileBackend) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.load()
	if err != nil {
		return err
	}
	if _, ok := values[key]; !ok {
		return nil
	}
	delete(values, key)
	return f.save(values)
}

func (f *FileBackend) load() (map[string]string, error) {
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read token file")
	}
	if len(raw) == 0 {
		return make(map[string]string), nil
	}

	if f.passphrase != nil {
		if raw, err = f.open(raw); err != nil {
			return nil, err
		}
	}

	values := make(map[string]string)
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, errors.Wrap(err, "decode token file")
	}
	return values, nil
}

// save writes to a temp file in the same directory and renames it over the
// target so readers never observe a partial document.
func (f *FileBackend) save(values map[string]string) error {
	raw, err := json.Marshal(values)
	if err != nil {
		return errors.Wrap(err, "encode token file")
	}
	if f.passphrase != nil {
		if raw, err = f.seal(raw); err != nil {
			return err
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".tokens-*")
	if err != nil {
		return errors.Wrap(err, "create temp token file")
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return errors.Wrap(err, "chmod temp token file")
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write temp token file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp token file")
	}
	return errors.Wrap(os.Rename(tmp.Name(), f.path), "replace token file")
}

func (f *FileBackend) seal(plain []byte) ([]byte, error) {
	header := make([]byte, saltLength+nonceLength)
	if _, err := io.ReadFull(rand.Reader, header); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}

	var nonce [nonceLength]byte
	copy(nonce[:], header[saltLength:])
	key := f.deriveKey(header[:saltLength])
	return secretbox.Seal(header, plain, &nonce, key), nil
}

func (f *FileBackend) open(sealed []byte) ([]byte, error) {
	if len(sealed) < saltLength+nonceLength+secretbox.Overhead {
		return nil, autherrors.Wrapf(autherrors.ErrSealedStore, "token file %s is truncated", f.path)
	}

	var nonce [nonceLength]byte
	copy(nonce[:], sealed[saltLength:saltLength+nonceLength])
	key := f.deriveKey(sealed[:saltLength])

	plain, ok := secretbox.Open(nil, sealed[saltLength+nonceLength:], &nonce, key)
	if !ok {
		return nil, autherrors.Wrapf(autherrors.ErrSealedStore, "cannot open %s with the configured passphrase", f.path)
	}
	return plain, nil
}

func (f *FileBackend) deriveKey(salt []byte) *[keyLength]byte {
	var key [keyLength]byte
	copy(key[:], argon2.IDKey(f.passphrase, salt, argonTime, argonMemory, argonThreads, keyLength))
	return &key
}
