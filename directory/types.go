package directory

import (
	"encoding/json"
	"math"
)

// Realm is the realm reference embedded in most directory payloads.
type Realm struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// Link is a sub-resource reference.
type Link struct {
	Href string `json:"href"`
}

// GuildProfile is the guild summary document.
type GuildProfile struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Realm       Realm  `json:"realm"`
	MemberCount int    `json:"member_count"`

	Raw json.RawMessage `json:"-"`
}

// RosterCharacter identifies one roster entry's character.
type RosterCharacter struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Level         int    `json:"level"`
	Realm         Realm  `json:"realm"`
	PlayableClass struct {
		ID int `json:"id"`
	} `json:"playable_class"`
}

// RosterMember is one (character, rank) tuple of a roster snapshot.
type RosterMember struct {
	Character RosterCharacter `json:"character"`
	Rank      int             `json:"rank"`
}

// GuildRoster is the full member list of a guild as of one fetch.
type GuildRoster struct {
	Members []RosterMember `json:"members"`

	Raw json.RawMessage `json:"-"`
}

// CharacterProfile is the character summary document.
type CharacterProfile struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	Level          int    `json:"level"`
	Realm          Realm  `json:"realm"`
	CharacterClass struct {
		ID int `json:"id"`
	} `json:"character_class"`

	Raw json.RawMessage `json:"-"`
}

// CollectionsIndex lists the collection sub-resources of a character.
// Toys is nil when the character has no toy collection link.
type CollectionsIndex struct {
	Toys *Link `json:"toys"`
}

// ToyCollection is the toy list document behind CollectionsIndex.Toys.
type ToyCollection struct {
	Toys []struct {
		Toy struct {
			ID any `json:"id"`
		} `json:"toy"`
	} `json:"toys"`
}

// IDs returns the integral toy ids in payload order. Missing, fractional,
// out-of-range and non-numeric ids are skipped.
func (c *ToyCollection) IDs() []int64 {
	ids := make([]int64, 0, len(c.Toys))
	for _, t := range c.Toys {
		f, ok := t.Toy.ID.(float64)
		if !ok || f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
			continue
		}
		ids = append(ids, int64(f))
	}
	return ids
}
