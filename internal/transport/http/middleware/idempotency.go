package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrIdempotencyConflict = errors.New("idempotency key conflicts with existing request")

const IdempotencyHeader = "Idempotency-Key"

// IdempotencyStore remembers the response of a keyed mutation so a client
// retry replays it instead of creating a second run.
type IdempotencyStore interface {
	Check(ctx context.Context, actorID, endpoint, key, requestHash string) (json.RawMessage, bool, error)
	Save(ctx context.Context, actorID, endpoint, key, requestHash string, response json.RawMessage) error
}

func RequestHash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

type PGIdempotencyStore struct {
	db *pgxpool.Pool
}

func NewPGIdempotencyStore(db *pgxpool.Pool) *PGIdempotencyStore {
	return &PGIdempotencyStore{db: db}
}

func (s *PGIdempotencyStore) Check(ctx context.Context, actorID, endpoint, key, requestHash string) (json.RawMessage, bool, error) {
	var storedHash string
	var stored json.RawMessage
	err := s.db.QueryRow(ctx, `
    SELECT request_hash, response_json
    FROM idempotency_keys
    WHERE actor_id = $1 AND key = $2 AND endpoint = $3
  `, actorID, key, endpoint).Scan(&storedHash, &stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if storedHash != requestHash {
		return nil, false, ErrIdempotencyConflict
	}
	return stored, true, nil
}

func (s *PGIdempotencyStore) Save(ctx context.Context, actorID, endpoint, key, requestHash string, response json.RawMessage) error {
	tag, err := s.db.Exec(ctx, `
    INSERT INTO idempotency_keys (actor_id, key, endpoint, request_hash, response_json)
    VALUES ($1, $2, $3, $4, $5)
    ON CONFLICT (actor_id, key, endpoint)
    DO UPDATE SET response_json = EXCLUDED.response_json
    WHERE idempotency_keys.request_hash = EXCLUDED.request_hash
  `, actorID, key, endpoint, requestHash, []byte(response))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrIdempotencyConflict
	}
	return nil
}

type memoryEntry struct {
	hash     string
	response json.RawMessage
}

// MemoryIdempotencyStore serves the sqlite and memory storage drivers.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{entries: map[string]memoryEntry{}}
}

func memoryKey(actorID, endpoint, key string) string {
	return actorID + "\x00" + endpoint + "\x00" + key
}

func (s *MemoryIdempotencyStore) Check(_ context.Context, actorID, endpoint, key, requestHash string) (json.RawMessage, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[memoryKey(actorID, endpoint, key)]
	if !ok {
		return nil, false, nil
	}
	if entry.hash != requestHash {
		return nil, false, ErrIdempotencyConflict
	}
	return entry.response, true, nil
}

func (s *MemoryIdempotencyStore) Save(_ context.Context, actorID, endpoint, key, requestHash string, response json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := memoryKey(actorID, endpoint, key)
	if entry, ok := s.entries[k]; ok && entry.hash != requestHash {
		return ErrIdempotencyConflict
	}
	s.entries[k] = memoryEntry{hash: requestHash, response: response}
	return nil
}
