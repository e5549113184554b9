package failure

import (
	"strings"

	"github.com/stateflow/stateflow/pkg/models"
)

// Classifier maps a node error to a FailureType. The default is keyword
// matching on the error message; callers may plug in a richer
// implementation (error-type based) behind the same contract.
type Classifier interface {
	Classify(err error) models.FailureType
}

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc func(err error) models.FailureType

// Classify calls the wrapped function.
func (f ClassifierFunc) Classify(err error) models.FailureType {
	return f(err)
}

// KeywordClassifier classifies by substring matching on the error
// message. Unmatched errors default to TRANSIENT.
type KeywordClassifier struct{}

var keywordTable = []struct {
	failureType models.FailureType
	keywords    []string
}{
	{models.FailureTypeSecurity, []string{
		"unauthorized", "forbidden", "permission", "auth", "credential", "access denied",
	}},
	{models.FailureTypeResource, []string{
		"out of memory", "memory", "disk", "quota", "rate limit", "too many requests", "capacity",
	}},
	{models.FailureTypeTransient, []string{
		"timeout", "timed out", "network", "connection", "socket", "dns", "temporarily", "unavailable",
	}},
	{models.FailureTypeDependency, []string{
		"internal server error", "bad gateway", "service unavailable", "gateway timeout", "upstream", "502", "503", "504",
	}},
	{models.FailureTypePermanent, []string{
		"validation", "invalid", "schema", "malformed", "parse", "not supported", "bad request",
	}},
}

// Classify implements Classifier.
func (KeywordClassifier) Classify(err error) models.FailureType {
	if err == nil {
		return models.FailureTypeTransient
	}
	msg := strings.ToLower(err.Error())
	for _, entry := range keywordTable {
		for _, kw := range entry.keywords {
			if strings.Contains(msg, kw) {
				return entry.failureType
			}
		}
	}
	return models.FailureTypeTransient
}
