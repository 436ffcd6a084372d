package patterns

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

// SimilarityThreshold is the minimum combined score for a fuzzy match.
const SimilarityThreshold = 0.5

// CandidateScore pairs a candidate index with its similarity score.
type CandidateScore struct {
	Index int
	Score float64
}

// RankBySimilarity scores candidates against the incoming alert over the
// given fields using TF-IDF cosine similarity. The per-field scores are
// multiplied, candidates at or below the threshold are dropped and the
// rest returned sorted by descending score. Ties keep candidate order.
func RankBySimilarity(incoming Binding, candidates []Binding, fields []string, threshold float64) []CandidateScore {
	if len(candidates) == 0 || len(fields) == 0 {
		return nil
	}

	scores := make([]float64, len(candidates))
	for i := range scores {
		scores[i] = 1.0
	}

	for _, field := range fields {
		texts := make([]string, 0, len(candidates)+1)
		texts = append(texts, incoming[field])
		for _, cand := range candidates {
			texts = append(texts, cand[field])
		}
		fieldScores := cosineScores(texts)
		for i := range candidates {
			scores[i] *= fieldScores[i]
		}
	}

	var ranked []CandidateScore
	for i, score := range scores {
		if score > threshold {
			ranked = append(ranked, CandidateScore{Index: i, Score: score})
		}
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		return ranked[a].Score > ranked[b].Score
	})
	return ranked
}

// cosineScores computes cosine similarity between the first document and
// each of the rest under a shared TF-IDF weighting. The result has one
// entry per trailing document.
func cosineScores(docs []string) []float64 {
	tokenized := make([][]string, len(docs))
	docFreq := map[string]int{}
	for i, doc := range docs {
		tokenized[i] = tokenize(doc)
		seen := map[string]bool{}
		for _, term := range tokenized[i] {
			if !seen[term] {
				seen[term] = true
				docFreq[term]++
			}
		}
	}

	// Smoothed inverse document frequency keeps terms shared by every
	// document from vanishing entirely.
	n := float64(len(docs))
	idf := make(map[string]float64, len(docFreq))
	for term, df := range docFreq {
		idf[term] = math.Log((1+n)/(1+float64(df))) + 1
	}

	vectors := make([]map[string]float64, len(docs))
	for i, terms := range tokenized {
		vec := map[string]float64{}
		for _, term := range terms {
			vec[term]++
		}
		for term := range vec {
			vec[term] *= idf[term]
		}
		vectors[i] = vec
	}

	ref := vectors[0]
	out := make([]float64, len(docs)-1)
	for i := 1; i < len(vectors); i++ {
		out[i-1] = cosine(ref, vectors[i])
	}
	return out
}

func cosine(a, b map[string]float64) float64 {
	var dot, normA, normB float64
	for term, av := range a {
		normA += av * av
		if bv, ok := b[term]; ok {
			dot += av * bv
		}
	}
	for _, bv := range b {
		normB += bv * bv
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// tokenize lowercases and splits on anything that is not a letter or digit.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
