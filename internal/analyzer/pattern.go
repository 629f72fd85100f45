// Package analyzer inspects local parts for signs of machine generation and
// spots the odd one out in bulk batches.
package analyzer

import (
	"math"
	"regexp"
	"strings"
	"unicode"
)

const (
	entropyThreshold = 3.5
	digitThreshold   = 0.5
)

// Business-email shapes, most specific first. The first match wins.
var businessPatterns = []struct {
	Name string
	re   *regexp.Regexp
}{
	{"firstname.lastname", regexp.MustCompile(`^[a-z]{2,}\.[a-z]{2,}$`)},
	{"f.lastname", regexp.MustCompile(`^[a-z]\.[a-z]{2,}$`)},
	{"firstname_lastname", regexp.MustCompile(`^[a-z]{2,}_[a-z]{2,}$`)},
	{"firstname-lastname", regexp.MustCompile(`^[a-z]{2,}-[a-z]{2,}$`)},
	{"firstnameNNN", regexp.MustCompile(`^[a-z]{2,}\d{1,4}$`)},
	{"flastname", regexp.MustCompile(`^[a-z]{5,16}$`)},
}

// LocalAnalysis is what the fusion engine sees about one local part.
type LocalAnalysis struct {
	Entropy    float64
	DigitRatio float64
	// Pattern is the matched business-pattern name, or "" when none matched.
	Pattern    string
	Flags      []string
	LooksHuman bool
}

// AnalyzeLocal scores a single local part.
func AnalyzeLocal(local string) LocalAnalysis {
	a := LocalAnalysis{
		Entropy:    ShannonEntropy(local),
		DigitRatio: digitRatio(local),
	}
	for _, p := range businessPatterns {
		if p.re.MatchString(strings.ToLower(local)) {
			a.Pattern = p.Name
			break
		}
	}

	n := len(local)
	if a.Entropy > entropyThreshold && n > 10 {
		a.Flags = append(a.Flags, "Local part looks auto-generated")
	}
	if n <= 2 {
		a.Flags = append(a.Flags, "Unusually short local part")
	}
	if a.DigitRatio > digitThreshold && n > 5 {
		a.Flags = append(a.Flags, "Local part is mostly numeric")
	}

	a.LooksHuman = a.Pattern != "" ||
		(a.Entropy < entropyThreshold && n >= 3 && n <= 30 && a.DigitRatio < 0.4)
	return a
}

// ShannonEntropy is the character-level entropy in bits.
func ShannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	freq := make(map[rune]int)
	total := 0
	for _, r := range s {
		freq[r]++
		total++
	}
	entropy := 0.0
	for _, count := range freq {
		p := float64(count) / float64(total)
		entropy -= p * math.Log2(p)
	}
	return entropy
}

func digitRatio(s string) float64 {
	if s == "" {
		return 0
	}
	digits := 0
	for _, r := range s {
		if unicode.IsDigit(r) {
			digits++
		}
	}
	return float64(digits) / float64(len(s))
}

// Address is the minimal batch-member view the bulk detector needs.
type Address struct {
	Email  string
	Local  string
	Domain string
}

// DetectBulkAnomalies finds locals that break their domain's dominant naming
// pattern. A domain qualifies with at least 3 addresses; the dominant pattern
// must cover at least half of them with at least 3 matches. Every local that
// does not match the dominant pattern is flagged, even if it matches another
// real pattern.
func DetectBulkAnomalies(batch []Address) map[string]bool {
	anomalies := make(map[string]bool)
	if len(batch) < 3 {
		return anomalies
	}

	byDomain := make(map[string][]Address)
	for _, a := range batch {
		byDomain[a.Domain] = append(byDomain[a.Domain], a)
	}

	for _, addrs := range byDomain {
		if len(addrs) < 3 {
			continue
		}

		counts := make(map[string]int)
		matched := make(map[string]string, len(addrs))
		for _, a := range addrs {
			p := AnalyzeLocal(a.Local).Pattern
			matched[a.Email] = p
			if p != "" {
				counts[p]++
			}
		}

		dominant, dominantCount := "", 0
		for p, c := range counts {
			if c > dominantCount {
				dominant, dominantCount = p, c
			}
		}
		if dominant == "" || dominantCount < 3 {
			continue
		}
		if float64(dominantCount)/float64(len(addrs)) < 0.5 {
			continue
		}

		for _, a := range addrs {
			if matched[a.Email] != dominant {
				anomalies[a.Email] = true
			}
		}
	}
	return anomalies
}
