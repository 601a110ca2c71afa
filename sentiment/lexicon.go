package sentiment

import (
	"strings"
	"unicode"
)

// LexiconScorer scores text against a word polarity lexicon.
// A negator flips the next scored word and an intensifier scales it.
// The polarity is the mean over scored words, or 0 when none match.
type LexiconScorer struct {
	Words        map[string]float64
	Negators     map[string]bool
	Intensifiers map[string]float64
}

// NewLexiconScorer returns a scorer with the built-in English lexicon
func NewLexiconScorer() *LexiconScorer {
	return &LexiconScorer{
		Words:        defaultWords,
		Negators:     defaultNegators,
		Intensifiers: defaultIntensifiers,
	}
}

// Polarity implements Scorer
func (l *LexiconScorer) Polarity(text string) float64 {
	tokens := tokenize(text)

	var sum float64
	scored := 0
	negate := false
	scale := 1.0

	for _, tok := range tokens {
		if l.Negators[tok] {
			negate = !negate
			continue
		}
		if m, ok := l.Intensifiers[tok]; ok {
			scale *= m
			continue
		}

		score, ok := l.Words[tok]
		if !ok {
			continue
		}
		score *= scale
		if negate {
			score *= -0.5
		}
		sum += clamp(score)
		scored++
		negate = false
		scale = 1.0
	}

	if scored == 0 {
		return 0
	}
	return clamp(sum / float64(scored))
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
}

func clamp(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

var defaultNegators = map[string]bool{
	"not": true, "no": true, "never": true, "none": true, "nobody": true, "nothing": true,
	"don't": true, "doesn't": true, "didn't": true, "isn't": true, "wasn't": true,
	"aren't": true, "weren't": true, "can't": true, "couldn't": true, "won't": true,
	"wouldn't": true, "shouldn't": true, "hardly": true,
}

var defaultIntensifiers = map[string]float64{
	"very": 1.3, "really": 1.3, "so": 1.2, "extremely": 1.5, "incredibly": 1.5,
	"absolutely": 1.4, "totally": 1.3, "quite": 1.1, "super": 1.4,
	"slightly": 0.5, "somewhat": 0.6, "barely": 0.4, "kind": 0.7,
}

var defaultWords = map[string]float64{
	// positive
	"good": 0.7, "great": 0.8, "excellent": 1.0, "amazing": 0.9, "awesome": 0.9,
	"wonderful": 1.0, "fantastic": 0.9, "love": 0.5, "loved": 0.7, "lovely": 0.5,
	"like": 0.2, "liked": 0.3, "happy": 0.8, "glad": 0.5, "nice": 0.6,
	"best": 1.0, "better": 0.5, "perfect": 1.0, "beautiful": 0.85, "brilliant": 0.9,
	"enjoy": 0.4, "enjoyed": 0.5, "fun": 0.3, "pleased": 0.5, "delighted": 0.8,
	"helpful": 0.5, "thanks": 0.2, "thank": 0.2, "cool": 0.35, "fine": 0.4,
	"easy": 0.43, "fast": 0.2, "friendly": 0.4, "recommend": 0.4, "satisfied": 0.5,
	"exciting": 0.3, "excited": 0.4, "calm": 0.3, "impressive": 0.8, "superb": 1.0,
	"positive": 0.23, "right": 0.29, "correct": 0.3, "comfortable": 0.4, "delicious": 1.0,

	// negative
	"bad": -0.7, "terrible": -1.0, "awful": -1.0, "horrible": -1.0, "worst": -1.0,
	"worse": -0.4, "hate": -0.8, "hated": -0.9, "sad": -0.5, "angry": -0.5,
	"annoying": -0.8, "annoyed": -0.4, "poor": -0.4, "boring": -1.0, "disappointed": -0.75,
	"disappointing": -0.6, "ugly": -0.7, "wrong": -0.5, "slow": -0.3, "broken": -0.4,
	"useless": -0.5, "difficult": -0.5, "hard": -0.29, "upset": -0.5, "frustrated": -0.7,
	"frustrating": -0.4, "stupid": -0.8, "fail": -0.5, "failed": -0.5, "problem": -0.2,
	"pain": -0.3, "sick": -0.71, "tired": -0.4, "scared": -0.6, "worried": -0.4,
	"negative": -0.3, "rude": -0.3, "dirty": -0.6, "cold": -0.6, "expensive": -0.5,
	"unhappy": -0.6, "mediocre": -0.3, "confusing": -0.3, "lost": -0.2, "nasty": -1.0,
}
