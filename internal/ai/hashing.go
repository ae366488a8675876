package ai

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	wordWeight    = 1.0
	stemWeight    = 1.0
	trigramWeight = 0.5
	stemLength    = 5
	minTokenLen   = 2
)

// HashingEmbedder is a deterministic, dependency-free embedder. Text is
// accent-folded and lowercased, then words, 5-rune stems and padded rune
// trigrams are hashed into a signed bag of features and L2-normalized.
//
// It needs no model download, which makes it the default for local runs and
// tests. Similar wording in French or English scores high; paraphrases with
// no shared roots do not.
type HashingEmbedder struct {
	dim int
}

func NewHashingEmbedder(dim int) (*HashingEmbedder, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("invalid embedding dimension: %d", dim)
	}
	return &HashingEmbedder{dim: dim}, nil
}

func (e *HashingEmbedder) Dimension() int {
	return e.dim
}

func (e *HashingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return nil, ErrEmptyInput
	}

	acc := make([]float64, e.dim)
	add := func(feature string, weight float64) {
		h := xxhash.Sum64String(feature)
		if h>>63 == 1 {
			weight = -weight
		}
		acc[h%uint64(e.dim)] += weight
	}

	for _, tok := range tokens {
		add("w:"+tok, wordWeight)
		r := []rune(tok)
		if len(r) > stemLength {
			add("s:"+string(r[:stemLength]), stemWeight)
		}
		padded := []rune(" " + tok + " ")
		for i := 0; i+3 <= len(padded); i++ {
			add("g:"+string(padded[i:i+3]), trigramWeight)
		}
	}

	var sum float64
	for _, v := range acc {
		sum += v * v
	}
	if sum == 0 {
		// Every feature cancelled out; vanishingly rare but not impossible.
		return nil, ErrEmptyInput
	}
	inv := 1 / math.Sqrt(sum)
	out := make([]float32, e.dim)
	for i, v := range acc {
		out[i] = float32(v * inv)
	}
	return out, nil
}

func (e *HashingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := e.Embed(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("embed text %d failed: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}

// Fold strips diacritics and lowercases s ("Résiliation" -> "resiliation").
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(folded)
}

// Tokenize folds s and splits it on anything that is not a letter, number or
// combining mark, in any script. Tokens shorter than two characters are
// dropped. Scripts written without spaces (Chinese, Japanese) come out as one
// token per run and are matched through their character trigrams.
func Tokenize(s string) []string {
	fields := strings.FieldsFunc(Fold(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && !unicode.IsMark(r)
	})
	tokens := fields[:0]
	for _, f := range fields {
		if utf8.RuneCountInString(f) >= minTokenLen {
			tokens = append(tokens, f)
		}
	}
	return tokens
}
