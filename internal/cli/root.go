package cli

import (
	"errors"
	"fmt"
)

// ExitError carries a non-zero process exit code out of Run.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExitCode maps an error returned by Run to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return 1
}

func Run(args []string) error {
	if len(args) == 0 {
		printRootUsage()
		return nil
	}

	switch args[0] {
	case "run":
		return runSearch(args[1:])
	case "status":
		return runStatus(args[1:])
	case "reset":
		return runReset(args[1:])
	case "validate":
		return runValidate(args[1:])
	case "migrate-config":
		return runMigrateConfig(args[1:])
	case "history":
		return runHistory(args[1:])
	case "doctor":
		return runDoctor(args[1:])
	case "monitor":
		return runMonitor(args[1:])
	case "help", "-h", "--help":
		printRootUsage()
		return nil
	default:
		printRootUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printRootUsage() {
	fmt.Println("jobx-market: batch job-market search across centers and roles")
	fmt.Println()
	fmt.Println("Quick Start:")
	fmt.Println("  jobx-market doctor config.yaml")
	fmt.Println("  jobx-market run config.yaml")
	fmt.Println("  jobx-market run config.yaml --resume -o <output-dir>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  run             search every (center, role) task in batches and checkpoint each outcome")
	fmt.Println("  status          show checkpoint progress and the last run summary of an output directory")
	fmt.Println("  reset           clear the checkpoint of an output directory")
	fmt.Println("  validate        load a configuration and print its warnings")
	fmt.Println("  migrate-config  rewrite a legacy single-title configuration in the role format")
	fmt.Println("  history         list finished runs from the sqlite ledger")
	fmt.Println("  doctor          run dependency and filesystem preflight checks")
	fmt.Println("  monitor         show the safe-mode search monitor of an output directory")
	fmt.Println()
	fmt.Println("Exit codes:")
	fmt.Println("  0 success | 1 failure | 2 partial | 130 interrupted")
	fmt.Println()
	fmt.Println("Notes:")
	fmt.Println("  - Use --json on commands for machine-readable output")
	fmt.Println("  - ctrl+c finishes the batch in flight; press it twice to exit immediately")
}
