// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 resetd Contributors

package pwcheck

import (
	"fmt"
	"strings"

	"github.com/nbutton23/zxcvbn-go"
)

// Quality tuning defaults. The entropy floor is the point below which a
// password is rejected outright rather than merely scored low.
const (
	DefaultMaxRepeat  = 3
	DefaultMinEntropy = 20.0
)

// CheckOptions configures one quality check.
type CheckOptions struct {
	// Badwords are words the password must not contain, compared
	// case-insensitively as substrings.
	Badwords []string

	// MaxRepeat is the longest permitted run of one character.
	// Zero means DefaultMaxRepeat.
	MaxRepeat int
}

// Quality is the pluggable generic password-quality backend. Check
// returns a non-negative score for acceptable passwords and an error
// naming the failed check otherwise.
type Quality interface {
	Check(password string, opts CheckOptions) (int, error)
}

// EntropyQuality scores passwords by estimated guessing entropy and
// applies pwquality-style hard checks first: badword containment, long
// character repeats, and an entropy floor.
type EntropyQuality struct {
	// MinEntropy is the rejection floor in bits. Zero means
	// DefaultMinEntropy.
	MinEntropy float64

	// MaxRepeat is the repeat limit applied when a check does not set
	// its own. Zero means DefaultMaxRepeat.
	MaxRepeat int
}

// Check implements Quality.
func (q EntropyQuality) Check(password string, opts CheckOptions) (int, error) {
	maxRepeat := opts.MaxRepeat
	if maxRepeat <= 0 {
		maxRepeat = q.MaxRepeat
	}
	if maxRepeat <= 0 {
		maxRepeat = DefaultMaxRepeat
	}
	minEntropy := q.MinEntropy
	if minEntropy <= 0 {
		minEntropy = DefaultMinEntropy
	}

	folded := strings.ToLower(password)
	for _, w := range opts.Badwords {
		if w == "" {
			continue
		}
		if strings.Contains(folded, strings.ToLower(w)) {
			return 0, fmt.Errorf("password contains the forbidden word %q", w)
		}
	}

	if run := longestRepeat(password); run > maxRepeat {
		return 0, fmt.Errorf("password contains %d consecutive identical characters, limit is %d", run, maxRepeat)
	}

	entropy := zxcvbn.PasswordStrength(password, opts.Badwords).Entropy
	if entropy < minEntropy {
		return 0, fmt.Errorf("password is too predictable (%.1f bits of entropy, minimum %.1f)", entropy, minEntropy)
	}
	return int(entropy), nil
}

func longestRepeat(s string) int {
	longest, run := 0, 0
	var prev rune
	for i, r := range s {
		if i > 0 && r == prev {
			run++
		} else {
			run = 1
		}
		if run > longest {
			longest = run
		}
		prev = r
	}
	return longest
}
