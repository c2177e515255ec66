package run

import (
	"crypto/sha256"
	"encoding/hex"
	"io"

	"golang.org/x/text/unicode/norm"
)

// IdentifierLength is the length of a content-derived run identifier in hex characters.
const IdentifierLength = 16

// TaskHashLength is the length of a per-command hash in hex characters.
const TaskHashLength = 12

// Identify derives the run identifier for a spec.
//
// An explicit override is returned unchanged; the caller takes full
// responsibility for uniqueness. Otherwise the identifier is a fixed-length
// prefix of the sha256 over the NFC-normalized command strings (in order)
// and the repo spec fields. No randomness, no time component: identical
// content always yields the identical identifier across processes and machines.
func Identify(spec Spec) string {
	if spec.HashOverride != "" {
		return spec.HashOverride
	}

	h := sha256.New()
	for _, cmd := range spec.Commands {
		io.WriteString(h, norm.NFC.String(cmd))
		io.WriteString(h, "\n")
	}
	if spec.Repo != nil {
		io.WriteString(h, norm.NFC.String(spec.Repo.URL))
		io.WriteString(h, "|")
		io.WriteString(h, norm.NFC.String(spec.Repo.Branch))
		io.WriteString(h, "|")
		io.WriteString(h, norm.NFC.String(spec.Repo.Commit))
		io.WriteString(h, "|")
		io.WriteString(h, norm.NFC.String(spec.Repo.Install))
		io.WriteString(h, "\n")
	}
	return hex.EncodeToString(h.Sum(nil))[:IdentifierLength]
}

// TaskHash returns the deterministic per-command hash used for backend job
// naming and dedup tags: sha256 of "command|runID", truncated.
func TaskHash(command, runID string) string {
	sum := sha256.Sum256([]byte(norm.NFC.String(command) + "|" + runID))
	return hex.EncodeToString(sum[:])[:TaskHashLength]
}
