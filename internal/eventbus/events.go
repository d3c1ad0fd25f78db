package eventbus

// Event types published by the campaign runtime.
const (
	TypeCampaignStarted = "campaign.started"
	TypeCampaignStopped = "campaign.stopped"
	TypeCampaignDeleted = "campaign.deleted"
	TypeDispatchAttempt = "dispatch.attempt"
	TypeDispatchCycle   = "dispatch.cycle"
	TypePersistFailed   = "dispatch.persist_failed"
	TypeConfigApplied   = "config.applied"
)

type CampaignChange struct {
	Code string `json:"code"`
}

type DispatchAttempt struct {
	Code    string `json:"code"`
	CycleID string `json:"cycle_id"`
	ChatRef string `json:"chat_ref"`
	TopicID int    `json:"topic_id,omitempty"`
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

type DispatchCycle struct {
	Code      string `json:"code"`
	CycleID   string `json:"cycle_id"`
	Chats     int    `json:"chats"`
	Messages  int    `json:"messages"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	TookMS    int64  `json:"took_ms"`
}

type PersistFailed struct {
	Code    string `json:"code"`
	ChatRef string `json:"chat_ref"`
	Outcome string `json:"outcome"`
	Error   string `json:"error"`
}
