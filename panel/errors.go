package panel

import "fmt"

// ConfigurationError is a user-correctable setup problem: no endpoint, no
// API key, no collection. Message is shown as is.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string { return e.Message }

// ContentExtractionError reports that a tab produced nothing to send.
type ContentExtractionError struct {
	URL string
	Err error
}

func (e *ContentExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("Could not extract content from %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("No content could be extracted from %s", e.URL)
}

func (e *ContentExtractionError) Unwrap() error { return e.Err }

// User-facing configuration messages.
var (
	errNoEndpoint   = &ConfigurationError{Message: "Please configure OWUI URL in settings"}
	errNoActiveURL  = &ConfigurationError{Message: "No active OWUI URL found. Please check your connection."}
	errAPIDisabled  = &ConfigurationError{Message: "API access is not enabled. Please enable it in the extension settings."}
	errNoAPIKey     = &ConfigurationError{Message: "API key not found. Please set it in the extension settings."}
	errNoCollection = &ConfigurationError{Message: "No default knowledge collection selected. Please select one in the extension settings."}
	errNoName       = &ConfigurationError{Message: "Please enter a name for the new knowledge collection."}
)
