// Package device maps WATTch socket identifiers to load categories
package device

import "strings"

// Category is the coarse load class of a socket
type Category string

const (
	CategoryLight     Category = "light"
	CategoryMedium    Category = "medium"
	CategoryHeavy     Category = "heavy"
	CategoryUniversal Category = "universal"
	CategoryUnknown   Category = "unknown"
)

// IDPrefix is the prefix every device key in the realtime store carries
const IDPrefix = "ESP"

type prefixRule struct {
	prefix   string
	category Category
}

// rules is scanned in order, first match wins
var rules = []prefixRule{
	{prefix: "ESP1", category: CategoryLight},
	{prefix: "ESP2", category: CategoryMedium},
	{prefix: "ESP3", category: CategoryHeavy},
	{prefix: "ESP4", category: CategoryUniversal},
}

// Classify returns the load category for a device id
func Classify(id string) Category {
	for _, r := range rules {
		if strings.HasPrefix(id, r.prefix) {
			return r.category
		}
	}
	return CategoryUnknown
}

// IsDeviceID reports whether a store key looks like a device id (ESP1, ESP1_1, ...)
func IsDeviceID(key string) bool {
	return strings.HasPrefix(key, IDPrefix)
}

// LoadType returns the category as sent downstream, nil for unknown devices
func (c Category) LoadType() *string {
	if c == CategoryUnknown || c == "" {
		return nil
	}
	s := string(c)
	return &s
}

// String implements fmt.Stringer
func (c Category) String() string {
	return string(c)
}
