package service

import (
	"fmt"
	"strings"
	"unicode"
)

// BioConfig bounds the generation task.
type BioConfig struct {
	MinWords  int
	MaxWords  int
	Threshold float64 // combined similarity at or above this rejects the bio
	Sample    int     // number of recent bios compared against
}

// DefaultBioConfig is 50..300 words, 70% similarity, compared against the last 200 bios.
var DefaultBioConfig = BioConfig{MinWords: 50, MaxWords: 300, Threshold: 0.70, Sample: 200}

// checkBio validates length and uniqueness; an empty message means the bio passed.
func (c BioConfig) checkBio(bio string, existing []string) (msg string, words int, maxSim float64) {
	words = len(strings.Fields(bio))
	switch {
	case words < c.MinWords:
		return fmt.Sprintf("bio has %d words, at least %d required", words, c.MinWords), words, 0
	case words > c.MaxWords:
		return fmt.Sprintf("bio has %d words, at most %d allowed", words, c.MaxWords), words, 0
	}
	for _, other := range existing {
		if sim := Similarity(bio, other); sim > maxSim {
			maxSim = sim
		}
	}
	if maxSim >= c.Threshold {
		return fmt.Sprintf("bio is %.0f%% similar to an existing agent bio (limit %.0f%%)", maxSim*100, c.Threshold*100), words, maxSim
	}
	return "", words, maxSim
}

// Similarity is the mean of the word-set Jaccard index and the word-trigram Jaccard index.
func Similarity(a, b string) float64 {
	wa, wb := tokenize(a), tokenize(b)
	return (jaccard(set(wa), set(wb)) + jaccard(trigrams(wa), trigrams(wb))) / 2
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

func set(words []string) map[string]struct{} {
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		out[w] = struct{}{}
	}
	return out
}

func trigrams(words []string) map[string]struct{} {
	out := make(map[string]struct{})
	for i := 0; i+2 < len(words); i++ {
		out[words[i]+" "+words[i+1]+" "+words[i+2]] = struct{}{}
	}
	return out
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	return float64(inter) / float64(len(a)+len(b)-inter)
}
