package cli

import (
	stderrors "errors"

	"github.com/matzehuels/zion/pkg/errors"
	"github.com/matzehuels/zion/pkg/project"
)

// reportedError marks an error whose details were already printed as part
// of a report. It still carries the codes for the exit status.
type reportedError struct{ error }

func (e reportedError) Unwrap() error { return e.error }

// Reported reports whether err was already shown to the user.
func Reported(err error) bool {
	var r reportedError
	return stderrors.As(err, &r)
}

func errMessage(err error) string {
	return errors.UserMessage(err)
}

// printReport prints every result of a batch flow and a summary line.
func printReport(verb string, rep *project.Report) {
	if len(rep.Results) == 0 {
		printInfo("No dependencies declared")
		return
	}
	for i := range rep.Results {
		printResult(&rep.Results[i])
	}
	printNewline()
	printSummary(verb, rep)
}

// finishReport prints rep, if any, and returns the error the command
// should exit with: err itself, or the joined per-package failures.
func finishReport(verb string, rep *project.Report, err error) error {
	if rep == nil {
		return err
	}
	printReport(verb, rep)
	if err != nil {
		return err
	}
	if failed := rep.Err(); failed != nil {
		return reportedError{failed}
	}
	return nil
}
