package raspihw

import (
	"bytes"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// pinLevel shells out to the Raspberry Pi `pinctrl` CLI to read the logic
// level of one GPIO line (`pinctrl lev <pin>`). Adapted from the teacher's
// internal/pinctrl.ReadLevel, narrowed to the one read/write pair raspihw
// actually drives (the teacher's bulk `pinctrl get` parser and its regex
// had no caller left once raspihw only ever touches one pin at a time).
// Plain errors here, wrapped once into the errs taxonomy at the call site,
// matching readDS18B20's division of labor elsewhere in this package.
func pinLevel(pin int) (bool, error) {
	out, err := exec.Command("pinctrl", "lev", strconv.Itoa(pin)).Output()
	if err != nil {
		return false, fmt.Errorf("pinctrl lev %d: %w", pin, err)
	}
	switch trimmed := strings.TrimSpace(string(out)); trimmed {
	case "1":
		return true, nil
	case "0":
		return false, nil
	default:
		return false, fmt.Errorf("unexpected pinctrl lev output %q", trimmed)
	}
}

// pinSet applies one or more `pinctrl set` options to a GPIO pin, e.g.
// pinSet(10, "op", "pn", "dh") configures pin 10 as output, no pull, drive
// high. Adapted from the teacher's internal/pinctrl.SetPin.
func pinSet(pin int, opts ...string) error {
	args := append([]string{"set", strconv.Itoa(pin)}, opts...)
	out, err := exec.Command("pinctrl", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("pinctrl set %d: %s: %w", pin, bytes.TrimSpace(out), err)
	}
	return nil
}
