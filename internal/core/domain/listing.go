package domain

import "strings"

// ItemKey identifies one item within one collection.
type ItemKey struct {
	Collection string
	TokenID    string
}

func (k ItemKey) String() string {
	return k.Collection + ":" + k.TokenID
}

func (k ItemKey) Valid() bool {
	return strings.TrimSpace(k.Collection) != "" && strings.TrimSpace(k.TokenID) != ""
}

// Listing is an active fixed-price offer. The zero value means "not listed".
type Listing struct {
	Price  int64
	Seller string
}

func (l Listing) Listed() bool {
	return l.Price > 0
}
