package buckets

// LifecycleRuleID names the single expiration rule the operator manages
const LifecycleRuleID = "ttl"

// LifecycleRule expires every object under Prefix after ExpirationDays
type LifecycleRule struct {
	ID             string
	Prefix         string
	ExpirationDays int
}

// LifecyclePolicy is the complete lifecycle configuration of a bucket
type LifecyclePolicy struct {
	Rules []LifecycleRule
}

// LifecyclePolicyFor returns the retention policy for a TTL in days. A TTL of
// zero means keep forever and yields no rules.
func LifecyclePolicyFor(ttlDays int) LifecyclePolicy {
	if ttlDays <= 0 {
		return LifecyclePolicy{}
	}
	return LifecyclePolicy{Rules: []LifecycleRule{{
		ID:             LifecycleRuleID,
		Prefix:         "",
		ExpirationDays: ttlDays,
	}}}
}
