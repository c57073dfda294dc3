package fetch

import "mime"

// parseContentDisposition is a thin wrapper over mime.ParseMediaType so
// fetch.go doesn't import "mime" directly in multiple places.
func parseContentDisposition(value string) (string, map[string]string, error) {
	if value == "" {
		return "", nil, errEmptyHeader
	}
	return mime.ParseMediaType(value)
}

var errEmptyHeader = &emptyHeaderError{}

type emptyHeaderError struct{}

func (*emptyHeaderError) Error() string { return "fetch: empty content-disposition header" }
