// Package naming suggests flare names built from the NATO phonetic alphabet.
package naming

import (
	"math/rand"
	"strings"
)

// Words is the phonetic alphabet in order.
var Words = [...]string{
	"Alpha", "Bravo", "Charlie", "Delta", "Echo", "Foxtrot", "Golf",
	"Hotel", "India", "Juliet", "Kilo", "Lima", "Mike", "November",
	"Oscar", "Papa", "Quebec", "Romeo", "Sierra", "Tango", "Uniform",
	"Victor", "Whiskey", "X-ray", "Yankee", "Zulu",
}

const wordCount = 3

// Suggest returns three space separated words, never the same word twice in
// a row.
func Suggest(r *rand.Rand) string {
	n := len(Words)
	picked := make([]string, 0, wordCount)
	prev := -1
	for i := 0; i < wordCount; i++ {
		j := r.Intn(n)
		if j == prev {
			j = (j + r.Intn(n-1) + 1) % n
		}
		picked = append(picked, Words[j])
		prev = j
	}
	return strings.Join(picked, " ")
}
