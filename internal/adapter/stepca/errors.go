package stepca

import (
	"errors"
	"fmt"

	"github.com/Strob0t/iotbridge/internal/adapter/restclient"
	"github.com/Strob0t/iotbridge/internal/domain"
)

// IssuanceError reports why a certificate could not be issued.
type IssuanceError struct {
	Provisioner string
	Op          string
	// Status and Body describe the CA's answer; Status is 0 when none was received.
	Status int
	Body   string
	Err    error
}

func (e *IssuanceError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("step-ca %s (provisioner %q): HTTP %d: %s", e.Op, e.Provisioner, e.Status, e.Body)
	}
	return fmt.Sprintf("step-ca %s (provisioner %q): %v", e.Op, e.Provisioner, e.Err)
}

// Unwrap classifies the failure. An unreachable CA stays ErrUnavailable;
// everything else is ErrUpstream.
func (e *IssuanceError) Unwrap() []error {
	if e.Err != nil && errors.Is(e.Err, domain.ErrUnavailable) {
		return []error{e.Err}
	}
	if e.Err == nil {
		return []error{domain.ErrUpstream}
	}
	return []error{domain.ErrUpstream, e.Err}
}

func issuanceError(provisioner, op string, err error) *IssuanceError {
	ie := &IssuanceError{Provisioner: provisioner, Op: op, Err: err}
	var ue *domain.UpstreamError
	if errors.As(err, &ue) && ue.Status != 0 {
		ie.Status, ie.Body = ue.Status, ue.Body
	}
	return ie
}

func isUnauthorized(err error) bool {
	return restclient.StatusOf(err) == 401
}
