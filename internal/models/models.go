package models

import "time"

// Subject identifies the external record a block refers to.
type Subject struct {
	Collection   string `json:"collection" validate:"required"`
	CollectionID string `json:"collectionId" validate:"required"`
}

func (s Subject) String() string {
	return s.Collection + "/" + s.CollectionID
}

// Matches reports whether b belongs to exactly this subject. Empty fields only match empty fields.
func (s Subject) Matches(b *Block) bool {
	return b.Data.Collection == s.Collection && b.Data.CollectionID == s.CollectionID
}

// BlockData is the subject tuple plus the user that triggered the change.
type BlockData struct {
	Collection   string `json:"collection"`
	CollectionID string `json:"collectionId"`
	UserID       string `json:"userId"`
}

func (d BlockData) Subject() Subject {
	return Subject{Collection: d.Collection, CollectionID: d.CollectionID}
}

// Block represents an immutable ledger entry.
type Block struct {
	ID           string    `json:"id"`
	Index        uint64    `json:"index"`
	PreviousHash string    `json:"previousHash"`
	CurrentHash  string    `json:"currentHash"`
	Data         BlockData `json:"data"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// BlockFilter narrows a block listing. Empty fields match everything.
type BlockFilter struct {
	Collection   string `json:"collection"`
	CollectionID string `json:"collectionId"`
}

func (f BlockFilter) Matches(b *Block) bool {
	if f.Collection != "" && b.Data.Collection != f.Collection {
		return false
	}
	if f.CollectionID != "" && b.Data.CollectionID != f.CollectionID {
		return false
	}
	return true
}
