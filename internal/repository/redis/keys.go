package redis

import (
	"fmt"
	"strings"
)

const ns = "dinetrack:v1"

func KeyTableList() string {
	return ns + ":tables:list"
}

func KeyOrder(orderID string) string {
	return fmt.Sprintf("%s:order:%s", ns, orderID)
}

func KeyRateLimit(scope, id string) string {
	return fmt.Sprintf("%s:rl:%s:%s", ns, scope, id)
}

// channelKey maps a logical channel ("table_7", "order_<uuid>") onto
// the Redis channel the change feed publishes to.
func channelKey(channel string) string {
	return ns + ":chan:" + channel
}

func channelPattern() string {
	return ns + ":chan:*"
}

func channelFromKey(key string) string {
	return strings.TrimPrefix(key, ns+":chan:")
}
