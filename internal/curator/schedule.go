package curator

import (
	"fmt"

	"github.com/adhocore/gronx"
)

// ValidateSchedule rejects a malformed cron expression before it is
// stored in config.CuratorConfig.Schedule. Scheduling itself is left to
// the caller; this only keeps an invalid string from being a silent
// footgun.
func ValidateSchedule(expr string) error {
	if expr == "" {
		return fmt.Errorf("curator: schedule must not be empty")
	}
	if !gronx.IsValid(expr) {
		return fmt.Errorf("curator: invalid cron expression %q", expr)
	}
	return nil
}
