package tasks

import (
	"context"
	"fmt"
	"strings"
)

// checkOutbound runs the independent safety pass over an email that is
// about to leave the system. It fails closed: when the classifier cannot
// be reached or returns garbage, the email is blocked, never sent on the
// benefit of the doubt. A block is a decision, not an error; the caller
// records it and moves on.
func (deps *Deps) checkOutbound(ctx context.Context, content, emailType, childName string) (blocked bool, reason string) {
	if !deps.SafetyCheckEnabled {
		return false, ""
	}

	verdict, err := deps.LLM.CheckEmailSafety(ctx, content, emailType, childName)
	if err != nil {
		deps.Log.Error("safety check unavailable, blocking email",
			"email_type", emailType, "error", err)
		return true, fmt.Sprintf("safety check unavailable: %v", err)
	}
	if verdict.Approved() {
		return false, ""
	}

	reason = fmt.Sprintf("recommendation=%s severity=%s", verdict.Recommendation, verdict.Severity)
	if len(verdict.Issues) > 0 {
		reason += ": " + strings.Join(verdict.Issues, "; ")
	}
	deps.Log.Warn("safety check blocked email", "email_type", emailType, "reason", reason)
	deps.Metrics.RecordEmailBlocked(emailType)
	return true, reason
}
