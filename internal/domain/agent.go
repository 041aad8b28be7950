package domain

// AgentKind distinguishes the orchestrator from specialist identities.
type AgentKind int

const (
	KindOrchestrator AgentKind = iota
	KindSpecialist
)

// Identity names the agent that currently owns a conversation. The zero
// value is the orchestrator.
type Identity struct {
	Kind AgentKind
	Name string // specialist name; empty for the orchestrator
}

// Orchestrator is the initial identity of every conversation.
var Orchestrator = Identity{Kind: KindOrchestrator}

// Specialist returns the identity for a named specialist.
func Specialist(name string) Identity {
	return Identity{Kind: KindSpecialist, Name: name}
}

func (id Identity) String() string {
	if id.Kind == KindOrchestrator {
		return "orchestrator"
	}
	return "specialist:" + id.Name
}

// SpecialistProfile describes a registered specialist: the capability scope
// installed on handoff and the tools available while it owns the conversation.
type SpecialistProfile struct {
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	Capabilities []string `yaml:"capabilities"`
	Tools        []string `yaml:"tools"`
}
