// Package secure holds secret material in protected memory while a
// rotation session is live. The backup of the outgoing secret lives in a
// memguard enclave so it is encrypted at rest in memory, excluded from
// core dumps, and wiped on destruction.
package secure

import (
	"sync"

	"github.com/awnumar/memguard"
)

// Buffer is protected in-memory storage for one secret value.
type Buffer struct {
	enclave   *memguard.Enclave
	mu        sync.RWMutex
	destroyed bool
}

// NewBuffer copies the secret into a protected enclave. The caller should
// zero its own copy afterwards.
//
// If mlock is unavailable (e.g. RLIMIT_MEMLOCK), memguard degrades to
// standard memory; the data is still encrypted at rest.
func NewBuffer(data []byte) *Buffer {
	return &Buffer{enclave: memguard.NewEnclave(data)}
}

// NewBufferFromString copies a string secret into a protected enclave.
func NewBufferFromString(value string) *Buffer {
	return NewBuffer([]byte(value))
}

// Open decrypts the secret into a locked buffer. The caller MUST call
// Destroy() on the returned buffer when done to wipe the plaintext.
func (b *Buffer) Open() (*memguard.LockedBuffer, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.destroyed {
		return memguard.NewBufferFromBytes([]byte{}), nil
	}
	return b.enclave.Open()
}

// String decrypts the secret and returns it as a string. Prefer Open for
// longer-lived access; this helper is for immediate hand-off to a vault
// or provider call.
func (b *Buffer) String() (string, error) {
	locked, err := b.Open()
	if err != nil {
		return "", err
	}
	defer locked.Destroy()
	return string(locked.Bytes()), nil
}

// Destroy marks the buffer as unusable. Idempotent; after Destroy, Open
// returns an empty buffer. Call memguard.Purge() at process exit for full
// cleanup of all enclaves.
func (b *Buffer) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.destroyed {
		return
	}
	b.enclave = nil
	b.destroyed = true
}
