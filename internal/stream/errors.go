// SPDX-License-Identifier: MIT

package stream

import (
	"fmt"
	"time"
)

func errInvalidInterval(d time.Duration) error {
	return fmt.Errorf("stream: invalid swap interval %v", d)
}
