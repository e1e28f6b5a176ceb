// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 resetd Contributors

// Package pwcheck scores candidate passwords against a list of personal
// words. It defeats trivial obfuscation: case folding and leet-speak
// substitutions cannot hide a personal word from the similarity penalty,
// and a leet-speak spelling never scores better than its plain form.
package pwcheck

import "strings"

// Scoring tuning defaults. Both are empirical constants carried over from
// the calibration of the original heuristic: QualityDivisor places a
// random 12-character password near 100, SimilarityThreshold is the
// longest common substring that still counts as coincidence.
const (
	QualityDivisor      = 0.44
	SimilarityThreshold = 3
)

// FailedScore is the sentinel returned when the quality backend rejects
// the password outright.
const FailedScore = -1

// leetTable maps each substitution character to the letter it stands for.
var leetTable = map[rune]rune{
	'1': 'i',
	'2': 'z',
	'3': 'e',
	'4': 'a',
	'5': 's',
	'6': 'g',
	'7': 't',
	'8': 'b',
	'9': 'g',
	'0': 'o',
	'@': 'a',
	'$': 's',
}

// Scorer evaluates password strength. The zero value is not usable; use
// NewScorer.
type Scorer struct {
	quality Quality
	divisor float64
}

// NewScorer builds a Scorer over the given quality backend. A nil backend
// gets the entropy-based default.
func NewScorer(quality Quality) *Scorer {
	if quality == nil {
		quality = EntropyQuality{}
	}
	return &Scorer{quality: quality, divisor: QualityDivisor}
}

// Score rates password against the personal words. It returns FailedScore
// and the backend's failure detail when a quality check rejects the
// password, otherwise a score roughly on a 0-100 scale for 100-character
// passwords (shorter passwords cap proportionally lower) and an empty
// detail.
func (s *Scorer) Score(password string, personalWords []string) (int, string) {
	folded := strings.ToLower(password)
	words := make([]string, len(personalWords))
	for i, w := range personalWords {
		words[i] = strings.ToLower(w)
	}

	deleeted := Deleet(folded)
	baseline := len(folded)
	for _, w := range words {
		baseline -= max(similarity(folded, w), similarity(deleeted, w))
	}

	// a leet-speak spelling must never beat its plain form
	opts := CheckOptions{Badwords: words}
	qScore, qErr := s.quality.Check(folded, opts)
	qScoreLeet, qErrLeet := s.quality.Check(deleeted, opts)
	if qErrLeet != nil || (qErr == nil && qScoreLeet < qScore) {
		qScore, qErr = qScoreLeet, qErrLeet
	}
	if qErr != nil || qScore <= 0 {
		detail := "password fails quality checks"
		if qErr != nil {
			detail = qErr.Error()
		}
		return FailedScore, detail
	}

	normalized := float64(qScore) / s.divisor
	score := min(100*float64(baseline)/float64(len(folded)), normalized)
	return int(score * float64(len(folded)) / 100), ""
}

// Deleet reverses the common digit/symbol-for-letter substitutions.
func Deleet(word string) string {
	return strings.Map(func(r rune) rune {
		if sub, ok := leetTable[r]; ok {
			return sub
		}
		return r
	}, word)
}

// similarity is the penalty contribution of one personal word: the length
// of the longest contiguous common substring, minus one, or zero when the
// overlap is at or under the coincidence threshold.
func similarity(password, word string) int {
	l := longestCommonSubstring(password, word)
	if l <= SimilarityThreshold {
		return 0
	}
	return l - 1
}

func longestCommonSubstring(a, b string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	longest := 0
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
				if cur[j] > longest {
					longest = cur[j]
				}
			} else {
				cur[j] = 0
			}
		}
		prev, cur = cur, prev
	}
	return longest
}
