package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/untoldecay/scribe/internal/types"
	"github.com/untoldecay/scribe/internal/utils"
)

// EntryID derives the deterministic 32-hex entry identifier from the
// invariant fields. Equal inputs yield equal IDs across machines and
// restarts, which is what makes journal replay idempotent.
//
// Payload: repo_slug|project_slug|ts|agent|message|meta_sha, where
// meta_sha is the SHA-256 of the canonical "k1=v1; k2=v2" serialization
// and ts is the canonical "YYYY-MM-DD HH:MM:SS UTC" form.
func EntryID(repoSlug, projectSlug string, ts time.Time, agent, message string, meta types.Meta) string {
	metaSum := sha256.Sum256([]byte(meta.Canonical()))
	payload := strings.Join([]string{
		repoSlug,
		projectSlug,
		utils.FormatUTC(ts),
		agent,
		message,
		hex.EncodeToString(metaSum[:]),
	}, "|")
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])[:32]
}
