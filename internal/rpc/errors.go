package rpc

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/goran-ethernal/EntityIndexor/internal/common"
	"go.uber.org/multierr"
)

// ProviderUnavailableError is returned once every attempt of a retried call
// failed with a transient error.
type ProviderUnavailableError struct {
	Method   string
	Attempts int
	// Err combines the error of every attempt.
	Err error
}

func newProviderUnavailableError(method string, attempts []error) *ProviderUnavailableError {
	return &ProviderUnavailableError{
		Method:   method,
		Attempts: len(attempts),
		Err:      multierr.Combine(attempts...),
	}
}

// Error implements error.
func (e *ProviderUnavailableError) Error() string {
	return fmt.Sprintf("chain provider unavailable: %s failed %d times: %v", e.Method, e.Attempts, e.Err)
}

// Unwrap returns the error of every attempt.
func (e *ProviderUnavailableError) Unwrap() []error {
	return multierr.Errors(e.Err)
}

var (
	tooManyResultsPattern = regexp.MustCompile(`Query returned more than \d+ results`)
	suggestedRangePattern = regexp.MustCompile(`\[(0x[0-9a-fA-F]+),\s*(0x[0-9a-fA-F]+)\]`)
)

// IsTooManyResultsError checks if the error is an RPC "too many results" error (DataError with message in ErrorData).
func IsTooManyResultsError(err error) (bool, string) {
	if err == nil {
		return false, ""
	}

	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		errData := fmt.Sprintf("%v", dataErr.ErrorData())
		return tooManyResultsPattern.MatchString(errData), errData
	}

	return false, ""
}

// ParseSuggestedBlockRange extracts the block range a provider suggests in a
// "too many results" error, e.g. "Try with this block range [0x7dfd25, 0x7e0fcc]."
func ParseSuggestedBlockRange(err string) (fromBlock, toBlock uint64, ok bool) {
	if err == "" {
		return 0, 0, false
	}

	matches := suggestedRangePattern.FindStringSubmatch(err)
	if len(matches) != 3 { //nolint:mnd
		return 0, 0, false
	}

	from, err1 := common.ParseUint64orHex(matches[1])
	to, err2 := common.ParseUint64orHex(matches[2])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}

	return from, to, true
}
