package orchestrator

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/oddessentials/odd-ai-reviewers/internal/errs"
)

func cacheFingerprint(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:16])
}

func panicError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("%v", r)
}

func asAgentError(err error, target **errs.AgentError) bool {
	return errors.As(err, target)
}
