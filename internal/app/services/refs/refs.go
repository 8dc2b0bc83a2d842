// Package refs generates human readable references such as
// OP-20260314-1a2b3c4d.
package refs

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	Operation = "OP"
	Recharge  = "RCH"
	Transfer  = "CT"
	Ticket    = "TKT"
)

// New returns prefix-date-8hex.
func New(prefix string, at time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s-%s-%s", prefix, at.UTC().Format("20060102"), suffix)
}
