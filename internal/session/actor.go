package session

// Actor identifies the agent performing an operation.
type Actor interface {
	ID() string
	DisplayName() string
}

// DefaultAgentName is used when an actor has no display name.
const DefaultAgentName = "Agent"

// Agent is a plain Actor value.
type Agent struct {
	UserID string
	Name   string
}

func (a Agent) ID() string { return a.UserID }

func (a Agent) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	if a.UserID != "" {
		return a.UserID
	}
	return DefaultAgentName
}

func displayName(a Actor) string {
	if a == nil {
		return DefaultAgentName
	}
	if name := a.DisplayName(); name != "" {
		return name
	}
	return DefaultAgentName
}

func actorID(a Actor) string {
	if a == nil {
		return ""
	}
	return a.ID()
}
