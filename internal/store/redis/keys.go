package redis

const (
	// KeyPrefixService is the prefix for descriptor keys
	KeyPrefixService = "discovery:service:"
	// KeyPrefixType is the prefix for the per-type id sets
	KeyPrefixType = "discovery:type:"
	// KeyAllServices is the key for the set of all descriptor IDs
	KeyAllServices = "discovery:services:all"
	// KeyEndpoints is the hash mapping endpoint -> descriptor ID
	KeyEndpoints = "discovery:endpoints"
	// ChannelPrefixChanges is the pub/sub channel prefix, one channel per service type
	ChannelPrefixChanges = "discovery:changes:"
)

// ServiceKey returns the Redis key for a descriptor by ID
func ServiceKey(id string) string {
	return KeyPrefixService + id
}

// TypeKey returns the Redis key for the set of descriptor IDs of one type
func TypeKey(typ string) string {
	return KeyPrefixType + typ
}

// ChangesChannel returns the pub/sub channel carrying changes for one type
func ChangesChannel(typ string) string {
	return ChannelPrefixChanges + typ
}

// AllServicesKey returns the key for the set of all descriptor IDs
func AllServicesKey() string {
	return KeyAllServices
}
