package provision

import (
	"strings"
	"unicode"
)

// TaskSize is the Fargate cpu/memory pair, in the string form ECS expects.
type TaskSize struct {
	CPU    string
	Memory string
}

var defaultSize = TaskSize{CPU: "256", Memory: "512"}

var instanceSizes = map[string]TaskSize{
	"t3.micro":  {CPU: "256", Memory: "512"},
	"t3.small":  {CPU: "512", Memory: "1024"},
	"t3.medium": {CPU: "1024", Memory: "2048"},
	"t3.large":  {CPU: "2048", Memory: "4096"},
}

// SizeFor maps an instance class to a Fargate size. Unknown classes get
// the smallest size.
func SizeFor(instanceType string) TaskSize {
	if s, ok := instanceSizes[strings.ToLower(strings.TrimSpace(instanceType))]; ok {
		return s
	}
	return defaultSize
}

const maxNameLen = 32

// ResourceName turns an app name into a load balancer / target group name:
// alphanumerics and hyphens, no leading or trailing hyphen, at most 32
// characters.
func ResourceName(app string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(app) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	name := strings.Trim(b.String(), "-")
	if len(name) > maxNameLen {
		name = strings.TrimRight(name[:maxNameLen], "-")
	}
	if name == "" {
		name = "app"
	}
	return name
}
