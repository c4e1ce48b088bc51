// Package pam is the bridge between the decision pipeline and the Linux
// PAM stack. The facegate binary runs under pam_exec.so; the process exit
// status carries the PAM return code and PAM_USER carries the claimed
// username.
package pam

// Code is a PAM return code. The numeric values mirror Linux-PAM's
// _pam_types.h so they can be used directly as process exit codes.
type Code int

const (
	// Success means the live capture matched the claimed user's template.
	Success Code = 0
	// ServiceErr means this module cannot vouch either way (camera busy
	// or missing, store unreachable, model misconfiguration). The stack
	// falls through to the next configured method instead of denying.
	ServiceErr Code = 3
	// AuthErr means the capture attempts were exhausted without a match.
	AuthErr Code = 7
	// AuthInfoUnavail means authentication information could not be
	// retrieved.
	AuthInfoUnavail Code = 9
	// UserUnknown means the claimed user has no enrolled template.
	UserUnknown Code = 10
	// ConvErr means the claimed username could not be obtained from the
	// conversation.
	ConvErr Code = 19
)

func (c Code) String() string {
	switch c {
	case Success:
		return "success"
	case ServiceErr:
		return "service error"
	case AuthErr:
		return "authentication failure"
	case AuthInfoUnavail:
		return "authentication information unavailable"
	case UserUnknown:
		return "user unknown"
	case ConvErr:
		return "conversation error"
	default:
		return "unknown code"
	}
}

// ExitCode returns the process exit status for this code.
func (c Code) ExitCode() int {
	return int(c)
}
