package router

import (
	"errors"
	"testing"

	"github.com/nextlevelbuilder/tinyagi/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Agents: config.AgentsConfig{
			Default: "assistant",
			List: map[string]config.AgentSpec{
				"assistant":  {},
				"researcher": {},
				"writer":     {},
			},
		},
		Teams: []config.TeamSpec{
			{ID: "research", Leader: "researcher", Members: []string{"writer"}},
		},
	}
}

func TestResolve(t *testing.T) {
	cfg := testConfig()
	tests := []struct {
		name      string
		message   string
		wantAgent string
		wantTeam  string
		wantBody  string
	}{
		{"no mention goes to default routing", "hello there", "", "", "hello there"},
		{"agent mention strips prefix", "@assistant do the thing", "assistant", "", "do the thing"},
		{"team mention routes to leader", "@research summarize this", "researcher", "research", "summarize this"},
		{"team member mention keeps team context", "@writer draft a post", "writer", "research", "draft a post"},
		{"unknown ident left for default agent", "@nobody hello", "", "", "@nobody hello"},
		{"bracketed mentions are not leading", "[@assistant: x] hello", "", "", "[@assistant: x] hello"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(cfg, tt.message)
			if err != nil {
				t.Fatalf("Resolve(%q): %v", tt.message, err)
			}
			if got.AgentID != tt.wantAgent {
				t.Errorf("AgentID = %q, want %q", got.AgentID, tt.wantAgent)
			}
			gotTeam := ""
			if got.Team != nil {
				gotTeam = got.Team.ID
			}
			if gotTeam != tt.wantTeam {
				t.Errorf("Team = %q, want %q", gotTeam, tt.wantTeam)
			}
			if got.Body != tt.wantBody {
				t.Errorf("Body = %q, want %q", got.Body, tt.wantBody)
			}
		})
	}
}

func TestResolveAmbiguousMention(t *testing.T) {
	cfg := testConfig()
	_, err := Resolve(cfg, "@assistant @researcher who handles this?")
	if !errors.Is(err, ErrAmbiguousMention) {
		t.Errorf("err = %v, want ErrAmbiguousMention", err)
	}
}

func TestExtractMentions(t *testing.T) {
	team := &config.TeamSpec{ID: "research", Leader: "researcher", Members: []string{"writer"}}
	tests := []struct {
		name     string
		response string
		sender   string
		want     []Mention
	}{
		{
			"single handoff",
			"Working on it. [@writer: draft the intro section]",
			"researcher",
			[]Mention{{AgentID: "writer", Message: "draft the intro section"}},
		},
		{
			"self mention dropped",
			"[@researcher: note to self]",
			"researcher",
			nil,
		},
		{
			"outsider dropped",
			"[@assistant: please help]",
			"researcher",
			nil,
		},
		{
			"empty body dropped",
			"[@writer:   ]",
			"researcher",
			nil,
		},
		{
			"multiline body kept",
			"[@writer: first line\nsecond line]",
			"researcher",
			[]Mention{{AgentID: "writer", Message: "first line\nsecond line"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractMentions(tt.response, tt.sender, team)
			if len(got) != len(tt.want) {
				t.Fatalf("mentions = %+v, want %+v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("mention[%d] = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestExtractMentionsOutsideTeam(t *testing.T) {
	if got := ExtractMentions("[@writer: hi]", "researcher", nil); got != nil {
		t.Errorf("mentions outside a team = %+v, want nil", got)
	}
}

func TestStripHandoffs(t *testing.T) {
	in := "Here is the summary. [@writer: polish this]\nDone."
	want := "Here is the summary. \nDone."
	if got := StripHandoffs(in); got != want {
		t.Errorf("StripHandoffs = %q, want %q", got, want)
	}
}
