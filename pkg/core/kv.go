package core

type (
	// kvStore provides an abstraction of what the snapshot index expects
	// from some underlying KV store implementation.
	kvStore interface {
		// Close the DB
		Close() error
		// Scan all keys with a given prefix, in key order
		Scan(prefix []byte, fn func(key, value []byte) error) error
		// Commit sets and deletes keys in a single transaction
		Commit(sets map[string][]byte, deletes []string) error
	}
)

const (
	histPrefix   = "hist/"
	snapPrefix   = "snap/"
	targetPrefix = "target/"
)

func histKey(serverID string, sequence uint64) string {
	return histPrefix + serverID + "/" + padSequence(sequence)
}

func snapKey(id string) string {
	return snapPrefix + id
}

func targetKey(serverID string) string {
	return targetPrefix + serverID
}

func padSequence(sequence uint64) string {
	const width = 20
	digits := make([]byte, width)
	for i := width - 1; i >= 0; i-- {
		digits[i] = byte('0' + sequence%10)
		sequence /= 10
	}
	return string(digits)
}
