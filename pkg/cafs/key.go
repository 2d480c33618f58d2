package cafs

import (
	"encoding/hex"
	"fmt"

	blake2b "github.com/minio/blake2b-simd"
)

const (
	// KeySize for blake2b-256
	KeySize = 32

	// KeySizeHex for hex representation of a key
	KeySizeHex = 2 * KeySize
)

// Key type for CAFS keys
type Key [KeySize]byte

// NewKey creates a new key from data
func NewKey(data []byte) (Key, error) {
	var k Key
	n := copy(k[:], data)
	if n != KeySize || len(data) != KeySize {
		return Key{}, &BadKeySize{Key: data}
	}
	return k, nil
}

// KeyFromString parses the hex representation of a key
func KeyFromString(str string) (Key, error) {
	if len(str) != KeySizeHex {
		return Key{}, &BadKeySize{Key: []byte(str)}
	}
	data, err := hex.DecodeString(str)
	if err != nil {
		return Key{}, err
	}
	return NewKey(data)
}

// MustKeyFromString parses a key but panics if there is an error
func MustKeyFromString(str string) Key {
	k, err := KeyFromString(str)
	if err != nil {
		panic(err.Error())
	}
	return k
}

// Sum computes the key of a payload
func Sum(payload []byte) Key {
	hasher, err := blake2b.New(&blake2b.Config{Size: KeySize})
	if err != nil {
		panic(err)
	}
	_, _ = hasher.Write(payload)

	var k Key
	copy(k[:], hasher.Sum(nil))
	return k
}

func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// StringWithPrefix renders the storage path of a key
func (k Key) StringWithPrefix(prefix string) string {
	str := k.String()
	return prefix + str[:2] + "/" + str
}

// BadKeySize is an error that's returned when the key to create has an invalid size.
type BadKeySize struct {
	Key []byte
}

func (b *BadKeySize) Error() string {
	return fmt.Sprintf("%x has invalid size of %d, expected %d", b.Key, len(b.Key), KeySize)
}
