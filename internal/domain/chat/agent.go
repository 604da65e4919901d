package chat

// AgentType identifies one of the two conversational capabilities: the
// prompt creation/optimization engineer and the quality assessor.
type AgentType string

const (
	AgentCreation AgentType = "creation_agent"
	AgentQuality  AgentType = "quality_agent"
)

func (a AgentType) Valid() bool {
	switch a {
	case AgentCreation, AgentQuality:
		return true
	}
	return false
}

// Mode is the operating intent for an exchange.
type Mode string

const (
	ModeCreate       Mode = "create"
	ModeOptimize     Mode = "optimize"
	ModeQualityCheck Mode = "quality_check"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeCreate, ModeOptimize, ModeQualityCheck:
		return true
	}
	return false
}
