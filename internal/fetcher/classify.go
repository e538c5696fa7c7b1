package fetcher

import (
	"errors"
	"net/http"

	"github.com/JakeFAU/preprint-crawler/internal/ingest"
)

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeTransient
	outcomePermanent
)

func (o outcome) String() string {
	switch o {
	case outcomeSuccess:
		return "success"
	case outcomeTransient:
		return "transient"
	default:
		return "permanent"
	}
}

// classify maps one attempt's result onto the retry policy. Any transport
// error is transient unless it is typed otherwise: connection failures and
// timeouts both surface that way.
func classify(status int, err error) outcome {
	if err != nil {
		var pe *ingest.ParseError
		if errors.As(err, &pe) {
			return outcomePermanent
		}
		var fe *ingest.FetchError
		if errors.As(err, &fe) {
			if fe.Transient {
				return outcomeTransient
			}
			return outcomePermanent
		}
		if errors.Is(err, ingest.ErrRobotsDisallowed) {
			return outcomePermanent
		}
		return outcomeTransient
	}
	switch {
	case status == 0, status >= 200 && status < 300:
		return outcomeSuccess
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout, status >= 500:
		return outcomeTransient
	default:
		return outcomePermanent
	}
}
