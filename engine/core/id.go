package core

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
)

type ID string

func (c ID) String() string {
	return string(c)
}

func (c ID) IsZero() bool {
	return c == ""
}

// NewID generates a new time-sortable KSUID.
func NewID() (ID, error) {
	id, err := ksuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return ID(id.String()), nil
}

func MustNewID() ID {
	id, err := NewID()
	if err != nil {
		panic(err)
	}
	return id
}

func ParseID(s string) (ID, error) {
	if s == "" {
		return "", errors.New("empty ID")
	}
	if _, err := ksuid.Parse(s); err != nil {
		return "", fmt.Errorf("invalid ID format: %w", err)
	}
	return ID(s), nil
}

// ChunkKey identifies a chunk by its position and content within a tenant file.
type ChunkKey struct {
	Tenant string
	Source string
	Index  int
	Hash   string
}

// IDGenerator assigns ids to chunks before they are persisted.
type IDGenerator interface {
	ChunkID(key ChunkKey) (ID, error)
}

// chunkNamespace scopes content-derived chunk ids.
var chunkNamespace = uuid.MustParse("0c8f4a3e-5b0d-4c3f-9a57-6c1f2b7d9e41")

type contentIDs struct{}

// NewContentIDGenerator returns a generator whose ids are a pure function of
// the chunk key, so unchanged content keeps its ids across re-ingestion.
func NewContentIDGenerator() IDGenerator {
	return contentIDs{}
}

func (contentIDs) ChunkID(key ChunkKey) (ID, error) {
	if key.Tenant == "" || key.Source == "" {
		return "", errors.New("chunk id requires tenant and source")
	}
	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], uint64(key.Index))
	name := make([]byte, 0, len(key.Tenant)+len(key.Source)+len(key.Hash)+len(idx)+3)
	name = append(name, key.Tenant...)
	name = append(name, 0)
	name = append(name, key.Source...)
	name = append(name, 0)
	name = append(name, idx[:]...)
	name = append(name, 0)
	name = append(name, key.Hash...)
	return ID(uuid.NewSHA1(chunkNamespace, name).String()), nil
}

type randomIDs struct{}

// NewRandomIDGenerator returns a generator that issues a fresh KSUID per chunk.
func NewRandomIDGenerator() IDGenerator {
	return randomIDs{}
}

func (randomIDs) ChunkID(ChunkKey) (ID, error) {
	return NewID()
}

// IDGeneratorFor resolves a configured strategy name.
func IDGeneratorFor(strategy string) (IDGenerator, error) {
	switch strategy {
	case "", "content":
		return NewContentIDGenerator(), nil
	case "random":
		return NewRandomIDGenerator(), nil
	default:
		return nil, fmt.Errorf("unknown id strategy %q", strategy)
	}
}
