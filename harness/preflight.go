package harness

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"rustfs-bench/config"
)

// CheckPrerequisites verifies that every external tool the run needs is on
// PATH and that the server can be built or is already built.
func CheckPrerequisites(cfg *config.Config, lookPath func(string) (string, error)) error {
	var missing []string
	for _, tool := range cfg.Prerequisites() {
		if _, err := lookPath(tool); err != nil {
			missing = append(missing, tool)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing tools on PATH: %s", strings.Join(missing, ", "))
	}

	if cfg.Server.SkipBuild {
		return nil
	}
	info, err := os.Stat(cfg.Server.SourceDir)
	if err != nil {
		return fmt.Errorf("server source directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("server source directory %s is not a directory", cfg.Server.SourceDir)
	}
	return nil
}

// Check is the result of one preflight check.
type Check struct {
	Name string
	Err  error
}

// OK reports whether the check passed.
func (c Check) OK() bool {
	return c.Err == nil
}

// Preflight runs every check a run would fail on, without side effects.
func Preflight(cfg *config.Config, lookPath func(string) (string, error)) []Check {
	checks := []Check{{Name: "configuration", Err: cfg.Validate()}}

	for _, tool := range cfg.Prerequisites() {
		_, err := lookPath(tool)
		checks = append(checks, Check{Name: "tool " + tool, Err: err})
	}

	if cfg.Server.SkipBuild {
		checks = append(checks, Check{Name: "server binary", Err: checkBinary(cfg.Server.Binary)})
	} else {
		info, err := os.Stat(cfg.Server.SourceDir)
		if err == nil && !info.IsDir() {
			err = fmt.Errorf("%s is not a directory", cfg.Server.SourceDir)
		}
		checks = append(checks, Check{Name: "source directory", Err: err})
	}

	checks = append(checks, Check{Name: "server address " + cfg.Server.Address, Err: checkAddressFree(cfg.Server.Address)})
	return checks
}

// FirstFailure returns the first failed check as an error.
func FirstFailure(checks []Check) error {
	for _, c := range checks {
		if !c.OK() {
			return fmt.Errorf("%s: %w", c.Name, c.Err)
		}
	}
	return nil
}

func checkBinary(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() || info.Mode().Perm()&0111 == 0 {
		return fmt.Errorf("%s is not an executable file", path)
	}
	return nil
}

// checkAddressFree fails when something already listens on addr, in which
// case readiness probes would reach the wrong server.
func checkAddressFree(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		var opErr *net.OpError
		if errors.As(err, &opErr) {
			return fmt.Errorf("address unavailable: %w", opErr.Err)
		}
		return err
	}
	return ln.Close()
}
