package rediskey

import "fmt"

// Key prefixes shared by every binary.
const (
	UserBalanceLockPrefix  = "lock:user:balance"
	CampaignSettlePrefix   = "lock:campaign:settle"
	AllocationsPrefix      = "cache:campaign:allocations"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildUserBalanceLockKey returns "lock:user:balance:{userID}"
func BuildUserBalanceLockKey(userID string) string {
	return NamespaceKey(UserBalanceLockPrefix, userID)
}

// BuildCampaignSettleLockKey returns "lock:campaign:settle:{campaignID}"
func BuildCampaignSettleLockKey(campaignID string) string {
	return NamespaceKey(CampaignSettlePrefix, campaignID)
}

// BuildAllocationsKey returns "cache:campaign:allocations:{campaignID}"
func BuildAllocationsKey(campaignID string) string {
	return NamespaceKey(AllocationsPrefix, campaignID)
}
