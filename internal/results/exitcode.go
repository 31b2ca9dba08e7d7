package results

// ExitCode is the aggregate status of a report. Codes are ordered by
// severity, not by value: Passed < NoResult < Failed < Errored < Unknown.
type ExitCode int

const (
	Passed   ExitCode = 0
	Failed   ExitCode = 2
	Errored  ExitCode = 3
	NoResult ExitCode = 4
	Unknown  ExitCode = 99
)

func (c ExitCode) severity() int {
	switch c {
	case Passed:
		return 0
	case NoResult:
		return 1
	case Failed:
		return 2
	case Errored:
		return 3
	}
	return 4
}

// Raise returns the more severe of c and to. It never lowers c.
func (c ExitCode) Raise(to ExitCode) ExitCode {
	if to.severity() > c.severity() {
		return to
	}
	return c
}

// OverallCode maps an XUnit overall-result to its exit code.
func OverallCode(overall string) ExitCode {
	switch overall {
	case "passed":
		return Passed
	case "failed":
		return Failed
	case "error":
		return Errored
	}
	return Unknown
}
