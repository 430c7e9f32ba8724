package flow

import (
	"context"
	"fmt"

	"github.com/basketd/basketd/internal/classify"
	"github.com/basketd/basketd/internal/session"
)

// runPreferences extracts long-term constraints from the message and
// appends them to the session, suppressing exact duplicates.
func (e *Engine) runPreferences(ctx context.Context, sess *session.ChatSession, userMessage string, ts *turnState) {
	res, err := e.classifier.Preferences(ctx, classify.PreferencesRequest{
		UserMessage: userMessage,
		History:     sess.RecentMessages(e.histWindow),
		Current:     sess.Preferences,
	})
	if err != nil {
		ts.failWith(fmt.Sprintf("preference extraction: %v", err), Output{
			Success:    false,
			FailReason: "preference extraction failed",
			Summary:    "Failed to update user preferences.",
		})
		return
	}

	added := sess.AddPreferences(res.NewPreferences)
	e.logger.Debug("preferences updated",
		"chat_id", sess.ChatID, "added", len(added), "reason", res.Reason)

	ts.output = Output{
		Success: true,
		Summary: "Updated user preferences.",
		Details: map[string]any{
			"new_preferences": added,
			"reason":          res.Reason,
		},
	}
}
