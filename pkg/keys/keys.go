// Package keys manages the shared cookie key material.
//
// Every cookie the gateway writes (session, auth state, OIDC login state) is
// signed and encrypted with the same key pair, persisted as a single file on
// a volume mounted into every replica. The first pod to start generates it;
// the rest read it. Without the shared file each replica would mint its own
// keys and cookies would only validate on the pod that wrote them.
package keys

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/easyauth-k8s/easyauth/pkg/logger"
)

const (
	keyFileName  = "easyauth.key"
	lockFileName = "easyauth.key.lock"

	hashKeySize  = 32
	blockKeySize = 32
	keyFileSize  = hashKeySize + blockKeySize

	lockTimeout   = 10 * time.Second
	lockRetryWait = 100 * time.Millisecond
)

// KeyMaterial holds the cookie signing and encryption keys.
type KeyMaterial struct {
	// HashKey authenticates cookies (HMAC-SHA256).
	HashKey []byte
	// BlockKey encrypts cookie contents (AES-256).
	BlockKey []byte
}

// Load reads the key file from dir, generating it first if absent. Creation
// is serialized through a file lock so concurrently starting replicas agree
// on one key pair.
func Load(dir string) (*KeyMaterial, error) {
	if dir == "" {
		return nil, errors.New("data protection path is empty")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data protection directory: %w", err)
	}

	keyPath := filepath.Join(dir, keyFileName)

	// Fast path: the file already exists and no lock is needed to read it,
	// since it is written atomically and never modified afterwards.
	if material, err := readKeyFile(keyPath); err == nil {
		return material, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	lockCtx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()

	lock := flock.New(filepath.Join(dir, lockFileName))
	locked, err := lock.TryLockContext(lockCtx, lockRetryWait)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire key file lock: %w", err)
	}
	if !locked {
		return nil, errors.New("timed out waiting for key file lock")
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warnf("failed to release key file lock: %v", err)
		}
	}()

	// Another replica may have won the race while we waited on the lock.
	if material, err := readKeyFile(keyPath); err == nil {
		return material, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	return generateKeyFile(keyPath)
}

func readKeyFile(path string) (*KeyMaterial, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(raw) != keyFileSize {
		return nil, fmt.Errorf("key file %s is %d bytes, want %d", path, len(raw), keyFileSize)
	}
	return &KeyMaterial{
		HashKey:  raw[:hashKeySize],
		BlockKey: raw[hashKeySize:],
	}, nil
}

func generateKeyFile(path string) (*KeyMaterial, error) {
	raw := make([]byte, keyFileSize)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("failed to generate key material: %w", err)
	}

	// Write-then-rename so readers never observe a partial file.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write key file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return nil, fmt.Errorf("failed to move key file into place: %w", err)
	}

	logger.Infof("generated new cookie key material at %s", path)
	return &KeyMaterial{
		HashKey:  raw[:hashKeySize],
		BlockKey: raw[hashKeySize:],
	}, nil
}
