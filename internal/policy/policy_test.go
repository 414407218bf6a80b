package policy

var (
	_ BrokerPolicy    = (*BrokerInventory)(nil)
	_ AuthorityPolicy = (*Authority)(nil)
)
