package models

import "time"

// LegacyLocale is a locale as the legacy product reads it. Correct is a
// string or a [lat, long] array.
type LegacyLocale struct {
	Language string   `bson:"language" json:"language"`
	Question string   `bson:"question" json:"question"`
	Correct  any      `bson:"correct" json:"correct"`
	Wrong    []string `bson:"wrong,omitempty" json:"wrong,omitempty"`
	IsValid  bool     `bson:"isValid" json:"isValid"`
	Sources  []string `bson:"sources,omitempty" json:"sources,omitempty"`
}

// LegacyQuestion is the document stored in the legacy collection, keyed by
// an integer _id independent of the current store's identity.
type LegacyQuestion struct {
	ID                int64          `bson:"_id" json:"id"`
	SourceID          string         `bson:"sourceId" json:"sourceId"`
	CategoryID        int64          `bson:"categoryId" json:"categoryId"`
	Status            string         `bson:"status" json:"status"`
	Type              string         `bson:"type" json:"type"`
	Difficulty        int            `bson:"difficulty" json:"difficulty"`
	RequiredLanguages []string       `bson:"requiredLanguages" json:"requiredLanguages"`
	Locales           []LegacyLocale `bson:"locales" json:"locales"`
	Tags              []string       `bson:"tags" json:"tags"`
	Track             *string        `bson:"track,omitempty" json:"track,omitempty"`
	AudioID           *string        `bson:"audioId,omitempty" json:"audioId,omitempty"`
	ImageID           *string        `bson:"imageId,omitempty" json:"imageId,omitempty"`
	AuthorID          *string        `bson:"authorId,omitempty" json:"authorId,omitempty"`
	IsValid           bool           `bson:"isValid" json:"isValid"`
	CreatedAt         time.Time      `bson:"createdAt" json:"createdAt"`
	UpdatedAt         time.Time      `bson:"updatedAt" json:"updatedAt"`
}
