// Package router resolves @agent / @team message prefixes and extracts
// teammate handoffs from agent responses.
package router

import (
	"errors"
	"regexp"
	"strings"

	"github.com/nextlevelbuilder/tinyagi/internal/config"
)

// ErrAmbiguousMention is the distinguished sentinel returned when a message
// opens with several distinct agent mentions. The processor bounces these
// back to the sender unchanged.
var ErrAmbiguousMention = errors.New("router: multiple agents mentioned")

var (
	// A leading @ident that is not inside a [ ... ] bracket.
	leadingMention = regexp.MustCompile(`^\s*@([A-Za-z0-9_.-]+)\b`)
	anyMention     = regexp.MustCompile(`@([A-Za-z0-9_.-]+)\b`)
	// [@teammate: free text], non-greedy across newlines.
	handoffPattern = regexp.MustCompile(`(?s)\[@([A-Za-z0-9_.-]+):\s*(.*?)\]`)
)

// Target is the routing decision for one incoming message.
type Target struct {
	AgentID string
	Team    *config.TeamSpec // nil outside team context
	// Body is the message with the leading mention stripped.
	Body string
}

// Resolve parses the leading @ident of a message. A team ident routes to the
// team's leader; an agent ident routes to that agent. Several distinct agent
// idents in the opening run yield ErrAmbiguousMention.
func Resolve(cfg *config.Config, message string) (*Target, error) {
	m := leadingMention.FindStringSubmatch(message)
	if m == nil {
		return &Target{AgentID: "", Body: message}, nil
	}
	ident := m[1]
	body := strings.TrimSpace(strings.TrimPrefix(strings.TrimLeft(message, " \t"), "@"+ident))

	if team, ok := cfg.TeamByID(ident); ok {
		return &Target{AgentID: team.Leader, Team: &team, Body: body}, nil
	}

	if cfg.AgentExists(ident) {
		// Count distinct agent mentions in the opening run; a second one is
		// the easter-egg path.
		distinct := map[string]bool{ident: true}
		for _, mm := range anyMention.FindAllStringSubmatch(message, -1) {
			if mm[1] != ident && cfg.AgentExists(mm[1]) {
				distinct[mm[1]] = true
			}
		}
		if len(distinct) > 1 {
			return nil, ErrAmbiguousMention
		}
		if team, ok := cfg.TeamForAgent(ident); ok {
			return &Target{AgentID: ident, Team: &team, Body: body}, nil
		}
		return &Target{AgentID: ident, Team: nil, Body: body}, nil
	}

	// Unknown ident: leave the message intact for the default agent.
	return &Target{AgentID: "", Body: message}, nil
}

// Mention is one teammate handoff extracted from a response.
type Mention struct {
	AgentID string
	Message string
}

// ExtractMentions pulls [@teammate: …] handoffs out of a response. Mentions
// of the sender itself or of agents outside the team are dropped.
func ExtractMentions(response, sender string, team *config.TeamSpec) []Mention {
	if team == nil {
		return nil
	}
	var out []Mention
	for _, m := range handoffPattern.FindAllStringSubmatch(response, -1) {
		agentID := m[1]
		text := strings.TrimSpace(m[2])
		if agentID == sender || text == "" {
			continue
		}
		if !team.HasAgent(agentID) {
			continue
		}
		out = append(out, Mention{AgentID: agentID, Message: text})
	}
	return out
}

// StripHandoffs removes the [@teammate: …] blocks from a response so the
// user-facing text does not carry routing syntax.
func StripHandoffs(response string) string {
	return strings.TrimSpace(handoffPattern.ReplaceAllString(response, ""))
}
