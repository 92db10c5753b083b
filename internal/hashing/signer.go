// Package hashing produces the content hashes recorded in the ledger. A content hash is an HS256
// token over the record's identity; a fresh iat/jti makes every transition's hash distinct.
package hashing

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/liftedinit/credledger/internal/models"
)

var ErrEmptySecret = errors.New("hashing: empty signing secret")

// ContentClaims is the payload of a content hash.
type ContentClaims struct {
	Collection   string `json:"collection"`
	CollectionID string `json:"collectionId"`
	jwt.RegisteredClaims
}

type Signer struct {
	secret []byte
	now    func() time.Time
}

func NewSigner(secret string) (*Signer, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &Signer{secret: []byte(secret), now: time.Now}, nil
}

// Hash signs a new content hash for subject.
func (s *Signer) Hash(subject models.Subject) (string, error) {
	claims := ContentClaims{
		Collection:   subject.Collection,
		CollectionID: subject.CollectionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       uuid.NewString(),
			IssuedAt: jwt.NewNumericDate(s.now()),
		},
	}

	hash, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign content hash: %w", err)
	}
	return hash, nil
}
