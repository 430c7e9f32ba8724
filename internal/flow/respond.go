package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/basketd/basketd/internal/classify"
	"github.com/basketd/basketd/internal/session"
)

// respond is the single terminal producer of the user-visible reply. It
// always runs; when the turn has failed it returns the generic apology
// without another model call.
func (e *Engine) respond(ctx context.Context, sess *session.ChatSession, userMessage string, ts *turnState) string {
	if ts.fail {
		return apologyMessage
	}

	reply, err := e.classifier.Reply(ctx, classify.ReplyRequest{
		UserMessage:  userMessage,
		History:      sess.RecentMessages(e.histWindow),
		Instructions: e.replyInstructions(sess, ts),
	})
	if err != nil {
		ts.fail = true
		ts.errMsg = fmt.Sprintf("reply generation: %v", err)
		return apologyMessage
	}
	return reply
}

// replyInstructions builds the response prompt from the flow output and
// the cart diff context.
func (e *Engine) replyInstructions(sess *session.ChatSession, ts *turnState) string {
	var b strings.Builder

	out := ts.output
	if out.Success {
		fmt.Fprintf(&b, "Summarize for the user what was just done: %s\n", out.Summary)
	} else {
		fmt.Fprintf(&b, "Explain politely that the request could not be completed: %s\n", out.FailReason)
	}

	for key, val := range out.Details {
		fmt.Fprintf(&b, "%s: %s\n", key, jsonContext(val))
	}

	fmt.Fprintf(&b, "Cart before this message: %s\n", jsonContext(cartContext(ts.beforeCart)))
	fmt.Fprintf(&b, "Cart now: %s\n", jsonContext(cartContext(sess.Order)))
	b.WriteString("The difference between the carts is what changed for the user this turn.\n")
	fmt.Fprintf(&b, "Current store: %q\n", sess.ActiveStoreID())
	b.WriteString("Do not mention internal ids or per-store stock quantities. Prices are in minor currency units; present them in major units.")

	return b.String()
}

func jsonContext(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}
