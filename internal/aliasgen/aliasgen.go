// Package aliasgen generates a random human-friendly device alias for the
// CLI's default --devname flag: a display convenience, not part of the wire
// contract.
package aliasgen

import "crypto/rand"

var adjectives = []string{
	"Adorable", "Beautiful", "Big", "Bright", "Clean", "Clever", "Cool",
	"Cute", "Cunning", "Determined", "Energetic", "Efficient", "Fantastic",
	"Fast", "Fine", "Fresh", "Good", "Gorgeous", "Great", "Handsome", "Hot",
	"Kind", "Lovely", "Mystic", "Neat", "Nice", "Patient", "Pretty",
	"Powerful", "Rich", "Secret", "Smart", "Solid", "Special", "Strategic",
	"Strong", "Tidy", "Wise",
}

var nouns = []string{
	"Apple", "Avocado", "Banana", "Blackberry", "Blueberry", "Broccoli",
	"Carrot", "Cherry", "Coconut", "Grape", "Lemon", "Lettuce", "Mango",
	"Melon", "Mushroom", "Onion", "Orange", "Papaya", "Peach", "Pear",
	"Pineapple", "Potato", "Pumpkin", "Raspberry", "Strawberry", "Tomato",
}

func randIndex(n int) int {
	var b [1]byte
	rand.Read(b[:])
	return int(b[0]) % n
}

// New returns a random "<Adjective> <Noun>" alias, e.g. "Clever Mango".
func New() string {
	return adjectives[randIndex(len(adjectives))] + " " + nouns[randIndex(len(nouns))]
}
