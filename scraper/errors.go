package scraper

import (
	"errors"
	"fmt"
)

// FailureKind classifies why an extraction produced no result
type FailureKind string

const (
	FailureConfig  FailureKind = "config"  // target has no usable website
	FailureNetwork FailureKind = "network" // unreachable, timeout, non-2xx, blocked
	FailureParse   FailureKind = "parse"   // page loaded but held nothing recognizable
)

// Failure is the typed error returned by Extract
type Failure struct {
	Kind       FailureKind
	Reason     string
	URL        string
	StatusCode int
	Err        error
}

func (f *Failure) Error() string {
	msg := fmt.Sprintf("%s error: %s", f.Kind, f.Reason)
	if f.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", f.StatusCode)
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *Failure) Unwrap() error {
	return f.Err
}

func configFailure(reason string) *Failure {
	return &Failure{Kind: FailureConfig, Reason: reason}
}

func networkFailure(url, reason string, status int, err error) *Failure {
	return &Failure{Kind: FailureNetwork, Reason: reason, URL: url, StatusCode: status, Err: err}
}

func parseFailure(url, reason string) *Failure {
	return &Failure{Kind: FailureParse, Reason: reason, URL: url}
}

// KindOf returns the failure kind of err, or "" when err is not a *Failure
func KindOf(err error) FailureKind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}
