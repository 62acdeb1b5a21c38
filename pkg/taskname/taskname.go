package taskname

const (
	// Settlement tasks
	CampaignSettle = "campaign:settle"
)
