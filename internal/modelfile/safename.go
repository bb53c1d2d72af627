// Package modelfile implements the bijective on-disk filename encoding
// described in spec §3/§6, plus the quantization-name enrichment recovered
// from original_source/wingman/include/types.h's DownloadItemName.
package modelfile

import (
	"regexp"
	"strings"
)

// Separator tokens. Three-character by contract; never change without
// also changing ParseName.
const (
	repoSepToken = "[-]"
	pairSepToken = "[=]"
)

// DefaultPlaceholder is the one filename that parses back to nothing and
// is nonetheless treated as a legitimate on-disk artifact by catalog
// scans (§3).
const DefaultPlaceholder = "default.gguf"

// SafeName flattens (modelRepo, filePath) into an on-disk filename by
// replacing "/" in modelRepo with repoSepToken and joining with
// pairSepToken. Bijective for any (r, p) where r contains at least one "/"
// and neither contains either token — see ParseName, which rejects names
// whose repo part has no repoSepToken.
func SafeName(modelRepo, filePath string) string {
	flatRepo := strings.ReplaceAll(modelRepo, "/", repoSepToken)
	return flatRepo + pairSepToken + filePath
}

// ParseName reverses SafeName. ok is false for filenames that don't
// contain both tokens (except DefaultPlaceholder, which callers special-case).
func ParseName(filename string) (modelRepo, filePath string, ok bool) {
	idx := strings.Index(filename, pairSepToken)
	if idx < 0 {
		return "", "", false
	}
	flatRepo := filename[:idx]
	if !strings.Contains(flatRepo, repoSepToken) {
		return "", "", false
	}
	modelRepo = strings.ReplaceAll(flatRepo, repoSepToken, "/")
	filePath = filename[idx+len(pairSepToken):]
	if filePath == "" {
		return "", "", false
	}
	return modelRepo, filePath, true
}

var quantPattern = regexp.MustCompile(`(?i)\b(Q\d(?:_[0-9A-Z]+)*|F16|F32|BF16|IQ\d(?:_[0-9A-Z]+)*)\b`)

// ParseQuantization extracts the quantization token and its human label
// from a GGUF filename, e.g. "foo.Q4_K_M.gguf" -> ("Q4_K_M", "Q4_K_M").
// Returns empty strings if no recognizable token is present — this is a
// best-effort enrichment, never a hard dependency (§9, Design Notes).
func ParseQuantization(filePath string) (quantization, quantizationName string) {
	m := quantPattern.FindString(filePath)
	if m == "" {
		return "", ""
	}
	upper := strings.ToUpper(m)
	return upper, upper
}
