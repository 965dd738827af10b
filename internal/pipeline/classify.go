package pipeline

import (
	"context"
	"strings"

	"pixbot/internal/domain"
)

// shouldProcess decides whether an event warrants a generation pass.
// Rules are evaluated in order and short-circuit:
//
//  1. direct message            -> process
//  2. app mention               -> process
//  3. bot identity unknown      -> skip
//  4. authored by a bot (or us) -> skip, breaks reply loops
//  5. text mentions the bot     -> process
//  6. thread root mentions us   -> process
//  7. otherwise                 -> skip
//
// Rule 6 is the only one that needs a network call, so it runs last.
func (p *Pipeline) shouldProcess(ctx context.Context, ev domain.Event) (bool, error) {
	if ev.IsDM() {
		return true, nil
	}
	if ev.Kind == domain.KindAppMention {
		return true, nil
	}

	botID := p.messenger.BotID()
	if botID == "" {
		return false, nil
	}
	if ev.User == botID || ev.FromBot {
		return false, nil
	}

	mention := "<@" + botID + ">"
	if strings.Contains(ev.Text, mention) {
		return true, nil
	}

	if ev.InThread() {
		root, err := p.messenger.ThreadRoot(ctx, ev.Channel, ev.ThreadTS)
		if err != nil {
			return false, err
		}
		if strings.Contains(root.Text, mention) {
			return true, nil
		}
	}

	return false, nil
}
